package persona

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("persona not found")
	ErrInvalidInput = errors.New("invalid persona")
)

// Listener receives the full persona list after every change. A store never
// invokes the same listener concurrently with itself.
type Listener func([]Persona)

// Store exposes persona retrieval and realtime change delivery.
type Store interface {
	List(ctx context.Context) ([]Persona, error)
	FindByID(ctx context.Context, id string) (Persona, error)
	Create(ctx context.Context, p Persona) (Persona, error)
	Update(ctx context.Context, id string, u Update) (Persona, error)
	Delete(ctx context.Context, id string) error
	// Subscribe delivers the current list immediately and then one snapshot per
	// change, in write order, until the returned func is called or ctx ends.
	Subscribe(ctx context.Context, fn Listener) (func(), error)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	mu    sync.RWMutex
	items []Persona
	subs  map[*mailbox]struct{}
	now   func() time.Time
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied personas.
func NewMemoryStore(items []Persona) *MemoryStore {
	s := &MemoryStore{
		subs: make(map[*mailbox]struct{}),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, item := range items {
		s.items = append(s.items, item.Clone())
	}
	return s
}

// List returns every persona ordered by id.
func (s *MemoryStore) List(_ context.Context) ([]Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(), nil
}

// FindByID looks up a persona by identifier.
func (s *MemoryStore) FindByID(_ context.Context, id string) (Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.ID == id {
			return item.Clone(), nil
		}
	}
	return Persona{}, ErrNotFound
}

// Create stores a new persona, assigning an id when none is given.
func (s *MemoryStore) Create(_ context.Context, p Persona) (Persona, error) {
	if err := validate(p); err != nil {
		return Persona{}, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	p.Version = 1

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.ID == p.ID {
			return Persona{}, errors.Join(ErrInvalidInput, errors.New("duplicate id "+p.ID))
		}
	}
	s.items = append(s.items, p.Clone())
	s.publishLocked()
	return p.Clone(), nil
}

// Update applies a partial write to an existing persona.
func (s *MemoryStore) Update(_ context.Context, id string, u Update) (Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, item := range s.items {
		if item.ID != id {
			continue
		}
		next := u.Apply(item)
		if err := validate(next); err != nil {
			return Persona{}, err
		}
		next.UpdatedAt = s.now()
		next.Version = item.Version + 1
		s.items[i] = next
		s.publishLocked()
		return next.Clone(), nil
	}
	return Persona{}, ErrNotFound
}

// Delete removes a persona.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, item := range s.items {
		if item.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			s.publishLocked()
			return nil
		}
	}
	return ErrNotFound
}

// Subscribe registers fn for change notifications.
func (s *MemoryStore) Subscribe(ctx context.Context, fn Listener) (func(), error) {
	box := newMailbox(fn)
	// a subscription whose ctx ends leaves the fan-out on its own
	box.onExit = func() {
		s.mu.Lock()
		delete(s.subs, box)
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.subs[box] = struct{}{}
	box.push(s.snapshotLocked())
	s.mu.Unlock()

	go box.run(ctx)

	var once sync.Once
	return func() {
		once.Do(box.stop)
	}, nil
}

func (s *MemoryStore) snapshotLocked() []Persona {
	out := make([]Persona, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) publishLocked() {
	for box := range s.subs {
		box.push(s.snapshotLocked())
	}
}

func validate(p Persona) error {
	if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.DisplayName) == "" {
		return errors.Join(ErrInvalidInput, errors.New("name and displayName are required"))
	}
	return ValidateSettings(p.NGWords, p.ResponseCustomization)
}

// mailbox serializes deliveries to one listener without blocking writers.
type mailbox struct {
	fn       Listener
	onExit   func()
	mu       sync.Mutex
	queue    [][]Persona
	notify   chan struct{}
	done     chan struct{}
	finished chan struct{}
}

func newMailbox(fn Listener) *mailbox {
	return &mailbox{
		fn:       fn,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

func (m *mailbox) push(list []Persona) {
	m.mu.Lock()
	m.queue = append(m.queue, list)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) run(ctx context.Context) {
	defer close(m.finished)
	if m.onExit != nil {
		defer m.onExit()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-m.notify:
			m.mu.Lock()
			pending := m.queue
			m.queue = nil
			m.mu.Unlock()
			for _, list := range pending {
				select {
				case <-m.done:
					return
				default:
				}
				m.fn(list)
			}
		}
	}
}

// stop must not be called from inside the listener.
func (m *mailbox) stop() {
	close(m.done)
	<-m.finished
}
