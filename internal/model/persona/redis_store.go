package persona

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	KeyPrefix     = "persona:data:"
	IndexAll      = "persona:index:all"
	ChangeChannel = "persona:changes"
)

// RedisStore persists personas as JSON blobs and broadcasts changes over pub/sub,
// so every API replica sees edits made through any other.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client: client,
		logger: logger.With(zap.String("component", "persona.redis")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SeedIfEmpty writes items when the index is empty.
func (s *RedisStore) SeedIfEmpty(ctx context.Context, items []Persona) error {
	n, err := s.client.SCard(ctx, IndexAll).Result()
	if err != nil {
		return fmt.Errorf("count personas: %w", err)
	}
	if n > 0 {
		return nil
	}
	for _, item := range items {
		if _, err := s.Create(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]Persona, error) {
	ids, err := s.client.SMembers(ctx, IndexAll).Result()
	if err != nil {
		return nil, fmt.Errorf("list persona ids: %w", err)
	}
	if len(ids) == 0 {
		return []Persona{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = KeyPrefix + id
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load personas: %w", err)
	}

	out := make([]Persona, 0, len(values))
	for i, raw := range values {
		str, ok := raw.(string)
		if !ok {
			// index entry without data; skip until the next write repairs it
			s.logger.Warn("dangling persona index entry", zap.String("id", ids[i]))
			continue
		}
		var p Persona
		if err := json.Unmarshal([]byte(str), &p); err != nil {
			return nil, fmt.Errorf("decode persona %s: %w", ids[i], err)
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *RedisStore) FindByID(ctx context.Context, id string) (Persona, error) {
	data, err := s.client.Get(ctx, KeyPrefix+id).Bytes()
	if err == redis.Nil {
		return Persona{}, ErrNotFound
	}
	if err != nil {
		return Persona{}, fmt.Errorf("get persona %s: %w", id, err)
	}
	var p Persona
	if err := json.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("decode persona %s: %w", id, err)
	}
	return p, nil
}

func (s *RedisStore) Create(ctx context.Context, p Persona) (Persona, error) {
	if err := validate(p); err != nil {
		return Persona{}, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	p.Version = 1

	data, err := json.Marshal(p)
	if err != nil {
		return Persona{}, err
	}
	created, err := s.client.SetNX(ctx, KeyPrefix+p.ID, data, 0).Result()
	if err != nil {
		return Persona{}, fmt.Errorf("create persona %s: %w", p.ID, err)
	}
	if !created {
		return Persona{}, errors.Join(ErrInvalidInput, errors.New("duplicate id "+p.ID))
	}
	if err := s.client.SAdd(ctx, IndexAll, p.ID).Err(); err != nil {
		return Persona{}, fmt.Errorf("index persona %s: %w", p.ID, err)
	}
	s.publish(ctx, p.ID)
	return p, nil
}

// Update runs an optimistic read-modify-write on the persona key.
func (s *RedisStore) Update(ctx context.Context, id string, u Update) (Persona, error) {
	key := KeyPrefix + id
	var updated Persona

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var current Persona
		if err := json.Unmarshal(data, &current); err != nil {
			return err
		}
		next := u.Apply(current)
		if err := validate(next); err != nil {
			return err
		}
		next.UpdatedAt = s.now()
		next.Version = current.Version + 1
		encoded, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err == nil {
			updated = next
		}
		return err
	}

	const maxRetries = 3
	for i := 0; i < maxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput) {
				return Persona{}, err
			}
			return Persona{}, fmt.Errorf("update persona %s: %w", id, err)
		}
		s.publish(ctx, id)
		return updated, nil
	}
	return Persona{}, fmt.Errorf("update persona %s: %w", id, redis.TxFailedErr)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, KeyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("delete persona %s: %w", id, err)
	}
	if err := s.client.SRem(ctx, IndexAll, id).Err(); err != nil {
		return fmt.Errorf("unindex persona %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.publish(ctx, id)
	return nil
}

// Subscribe listens on the change channel and reloads the list per notification.
// A single reader goroutine invokes fn, so deliveries never overlap. The pubsub
// connection is closed when ctx ends or the returned func is called.
func (s *RedisStore) Subscribe(ctx context.Context, fn Listener) (func(), error) {
	pubsub := s.client.Subscribe(ctx, ChangeChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", ChangeChannel, err)
	}
	ch := pubsub.Channel()

	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		defer func() { _ = pubsub.Close() }()
		s.deliver(ctx, fn)
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				s.deliver(ctx, fn)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-finished
		})
	}, nil
}

func (s *RedisStore) deliver(ctx context.Context, fn Listener) {
	list, err := s.List(ctx)
	if err != nil {
		s.logger.Warn("reload personas for subscriber failed", zap.Error(err))
		return
	}
	fn(list)
}

func (s *RedisStore) publish(ctx context.Context, id string) {
	if err := s.client.Publish(ctx, ChangeChannel, id).Err(); err != nil {
		s.logger.Warn("publish persona change failed", zap.String("id", id), zap.Error(err))
	}
}
