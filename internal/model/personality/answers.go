package personality

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrAbsent means no answers were ever saved for the persona.
	ErrAbsent          = errors.New("personality answers not found")
	ErrUnknownQuestion = errors.New("unknown question id")
)

// AnswerSet is the questionnaire state of one persona.
type AnswerSet struct {
	PersonaID  string            `json:"personaId"`
	Answers    map[string]string `json:"answers"`
	IsComplete bool              `json:"isComplete"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// AnswerStore reads and writes answer sets keyed by persona id.
type AnswerStore interface {
	GetByPersonaID(ctx context.Context, personaID string) (AnswerSet, error)
	// Save merges answers into the stored set and recomputes IsComplete.
	Save(ctx context.Context, personaID string, answers map[string]string) (AnswerSet, error)
}

func merge(catalog *Catalog, current map[string]string, answers map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(current)+len(answers))
	for k, v := range current {
		out[k] = v
	}
	for id, answer := range answers {
		if !catalog.Has(id) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownQuestion, id)
		}
		out[id] = answer
	}
	return out, nil
}

// MemoryAnswerStore keeps answer sets in a map.
type MemoryAnswerStore struct {
	catalog *Catalog
	mu      sync.RWMutex
	sets    map[string]AnswerSet
}

func NewMemoryAnswerStore(catalog *Catalog) *MemoryAnswerStore {
	return &MemoryAnswerStore{catalog: catalog, sets: make(map[string]AnswerSet)}
}

func (s *MemoryAnswerStore) GetByPersonaID(_ context.Context, personaID string) (AnswerSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.sets[personaID]
	if !ok {
		return AnswerSet{}, ErrAbsent
	}
	set.Answers = copyAnswers(set.Answers)
	return set, nil
}

func (s *MemoryAnswerStore) Save(_ context.Context, personaID string, answers map[string]string) (AnswerSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged, err := merge(s.catalog, s.sets[personaID].Answers, answers)
	if err != nil {
		return AnswerSet{}, err
	}
	set := AnswerSet{
		PersonaID:  personaID,
		Answers:    merged,
		IsComplete: s.catalog.IsComplete(merged),
		UpdatedAt:  time.Now().UTC(),
	}
	s.sets[personaID] = set
	set.Answers = copyAnswers(merged)
	return set, nil
}

func copyAnswers(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

const answersKeyPrefix = "personality:"

// RedisAnswerStore stores each answer set as a hash of question id to answer,
// plus an "_updatedAt" field.
type RedisAnswerStore struct {
	client  *redis.Client
	catalog *Catalog
}

func NewRedisAnswerStore(client *redis.Client, catalog *Catalog) *RedisAnswerStore {
	return &RedisAnswerStore{client: client, catalog: catalog}
}

const updatedAtField = "_updatedAt"

func (s *RedisAnswerStore) GetByPersonaID(ctx context.Context, personaID string) (AnswerSet, error) {
	fields, err := s.client.HGetAll(ctx, answersKeyPrefix+personaID).Result()
	if err != nil {
		return AnswerSet{}, fmt.Errorf("load answers for %s: %w", personaID, err)
	}
	if len(fields) == 0 {
		return AnswerSet{}, ErrAbsent
	}

	set := AnswerSet{PersonaID: personaID, Answers: make(map[string]string, len(fields))}
	for k, v := range fields {
		if k == updatedAtField {
			if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
				set.UpdatedAt = ts
			}
			continue
		}
		set.Answers[k] = v
	}
	set.IsComplete = s.catalog.IsComplete(set.Answers)
	return set, nil
}

func (s *RedisAnswerStore) Save(ctx context.Context, personaID string, answers map[string]string) (AnswerSet, error) {
	if _, err := merge(s.catalog, nil, answers); err != nil {
		return AnswerSet{}, err
	}

	values := make(map[string]any, len(answers)+1)
	for k, v := range answers {
		values[k] = v
	}
	values[updatedAtField] = time.Now().UTC().Format(time.RFC3339Nano)

	if err := s.client.HSet(ctx, answersKeyPrefix+personaID, values).Err(); err != nil {
		return AnswerSet{}, fmt.Errorf("save answers for %s: %w", personaID, err)
	}
	return s.GetByPersonaID(ctx, personaID)
}

// View pairs an answer set with its progress for operator screens.
type View struct {
	AnswerSet
	Answered int `json:"answered"`
	Total    int `json:"total"`
}

func NewView(a AnswerSet, catalog *Catalog) View {
	answered, total := catalog.Progress(a.Answers)
	return View{AnswerSet: a, Answered: answered, Total: total}
}
