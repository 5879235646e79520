package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/zhouzirui/persona-counsel/backend/internal/model/persona"
)

// State is the editing mode of a Reconciler.
type State string

const (
	StateViewing State = "VIEWING"
	StateEditing State = "EDITING"
)

var (
	ErrNoSelection          = errors.New("no persona selected")
	ErrNotEditing           = errors.New("not in edit mode")
	ErrEditInProgress       = errors.New("edit in progress")
	ErrSaveInProgress       = errors.New("save already in progress")
	ErrPersonaUpdateFailure = errors.New("persona update failed")
)

// View is the snapshot an editing surface renders.
type View struct {
	State         State            `json:"state"`
	PersonaID     string           `json:"personaId,omitempty"`
	Draft         *Draft           `json:"draft,omitempty"`
	Authoritative *persona.Persona `json:"authoritative,omitempty"`
	// RemoteChanged is set when the record changed remotely during the current edit.
	RemoteChanged bool `json:"remoteChanged"`
}

// Reconciler binds one editing surface to the persona store. Realtime updates
// always refresh the authoritative baseline, but reach the visible draft only
// while VIEWING.
type Reconciler struct {
	store  persona.Store
	logger *zap.Logger

	mu            sync.Mutex
	state         State
	selectedID    string
	authoritative persona.Persona
	hasRecord     bool
	draft         Draft
	remoteChanged bool
	saving        bool
	known         map[string]persona.Persona

	listenersMu sync.Mutex
	listeners   map[int]func(View)
	nextID      int

	unsubscribe func()
}

func NewReconciler(store persona.Store, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:     store,
		logger:    logger.With(zap.String("component", "editor.reconciler")),
		state:     StateViewing,
		known:     make(map[string]persona.Persona),
		listeners: make(map[int]func(View)),
	}
}

// Start subscribes to store changes. Close must be called to release the subscription.
func (r *Reconciler) Start(ctx context.Context) error {
	unsubscribe, err := r.store.Subscribe(ctx, r.HandleUpdate)
	if err != nil {
		return fmt.Errorf("subscribe to personas: %w", err)
	}
	r.mu.Lock()
	r.unsubscribe = unsubscribe
	r.mu.Unlock()
	return nil
}

func (r *Reconciler) Close() {
	r.mu.Lock()
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// OnChange registers fn to receive a View after every visible change.
func (r *Reconciler) OnChange(fn func(View)) func() {
	r.listenersMu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.listenersMu.Unlock()
	return func() {
		r.listenersMu.Lock()
		delete(r.listeners, id)
		r.listenersMu.Unlock()
	}
}

// Select opens a persona for viewing. Switching records is refused while editing.
func (r *Reconciler) Select(ctx context.Context, id string) error {
	r.mu.Lock()
	if r.state == StateEditing {
		r.mu.Unlock()
		return ErrEditInProgress
	}
	p, ok := r.known[id]
	r.mu.Unlock()

	if !ok {
		found, err := r.store.FindByID(ctx, id)
		if err != nil {
			return fmt.Errorf("select persona %s: %w", id, err)
		}
		p = found
	}

	r.mu.Lock()
	if r.state == StateEditing {
		r.mu.Unlock()
		return ErrEditInProgress
	}
	if latest, ok := r.known[id]; ok {
		p = latest
	}
	r.selectedID = id
	r.authoritative = p.Clone()
	r.hasRecord = true
	r.draft = DraftFrom(p)
	r.remoteChanged = false
	view := r.viewLocked()
	r.mu.Unlock()

	r.notify(view)
	return nil
}

func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Draft returns a copy of the visible draft.
func (r *Reconciler) Draft() (Draft, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasRecord {
		return Draft{}, false
	}
	return r.draft.clone(), true
}

// Authoritative returns the latest stored version of the selected persona.
func (r *Reconciler) Authoritative() (persona.Persona, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasRecord {
		return persona.Persona{}, false
	}
	return r.authoritative.Clone(), true
}

func (r *Reconciler) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

// BeginEdit enters EDITING with the draft populated from the current baseline.
func (r *Reconciler) BeginEdit() error {
	r.mu.Lock()
	if !r.hasRecord {
		r.mu.Unlock()
		return ErrNoSelection
	}
	if r.state == StateEditing {
		r.mu.Unlock()
		return ErrEditInProgress
	}
	r.state = StateEditing
	r.draft = DraftFrom(r.authoritative)
	r.remoteChanged = false
	view := r.viewLocked()
	r.mu.Unlock()

	r.notify(view)
	return nil
}

// Edit mutates the draft in place.
func (r *Reconciler) Edit(fn func(*Draft)) error {
	r.mu.Lock()
	if r.state != StateEditing {
		r.mu.Unlock()
		return ErrNotEditing
	}
	if r.saving {
		r.mu.Unlock()
		return ErrSaveInProgress
	}
	fn(&r.draft)
	view := r.viewLocked()
	r.mu.Unlock()

	r.notify(view)
	return nil
}

// Save writes the draft. On failure the reconciler stays in EDITING with the
// draft intact.
func (r *Reconciler) Save(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateEditing {
		r.mu.Unlock()
		return ErrNotEditing
	}
	if r.saving {
		r.mu.Unlock()
		return ErrSaveInProgress
	}
	r.saving = true
	id := r.selectedID
	update := r.draft.Update()
	r.mu.Unlock()

	// The store may deliver our own write to HandleUpdate before Update
	// returns, so the lock is not held here.
	saved, err := r.store.Update(ctx, id, update)

	r.mu.Lock()
	r.saving = false
	if err != nil {
		r.mu.Unlock()
		r.logger.Warn("persona save failed", zap.String("persona", id), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrPersonaUpdateFailure, err)
	}
	if r.selectedID != id {
		// selection was cleared by a delete while saving
		r.mu.Unlock()
		return nil
	}
	// A write from elsewhere may have landed while the lock was released.
	latest := saved
	if r.hasRecord && r.authoritative.Version > saved.Version {
		latest = r.authoritative
	}
	r.state = StateViewing
	r.authoritative = latest.Clone()
	r.draft = DraftFrom(latest)
	r.remoteChanged = false
	view := r.viewLocked()
	r.mu.Unlock()

	r.logger.Info("persona saved", zap.String("persona", id))
	r.notify(view)
	return nil
}

// Cancel discards the draft and repopulates it from the latest baseline.
func (r *Reconciler) Cancel() error {
	r.mu.Lock()
	if r.state != StateEditing {
		r.mu.Unlock()
		return ErrNotEditing
	}
	if r.saving {
		r.mu.Unlock()
		return ErrSaveInProgress
	}
	r.state = StateViewing
	r.draft = DraftFrom(r.authoritative)
	r.remoteChanged = false
	view := r.viewLocked()
	r.mu.Unlock()

	r.notify(view)
	return nil
}

// HandleUpdate consumes a persona list pushed by the store.
func (r *Reconciler) HandleUpdate(list []persona.Persona) {
	r.mu.Lock()
	known := make(map[string]persona.Persona, len(list))
	for _, p := range list {
		known[p.ID] = p.Clone()
	}
	r.known = known

	if r.selectedID == "" {
		r.mu.Unlock()
		return
	}

	p, ok := known[r.selectedID]
	if !ok {
		r.logger.Info("selected persona removed", zap.String("persona", r.selectedID), zap.String("state", string(r.state)))
		r.selectedID = ""
		r.hasRecord = false
		r.authoritative = persona.Persona{}
		r.draft = Draft{}
		r.state = StateViewing
		r.remoteChanged = false
		view := r.viewLocked()
		r.mu.Unlock()
		r.notify(view)
		return
	}

	if r.hasRecord && p.Version < r.authoritative.Version {
		// snapshot older than the baseline Save already applied
		r.mu.Unlock()
		return
	}

	r.authoritative = p.Clone()
	if r.state == StateEditing {
		r.remoteChanged = true
	} else {
		r.draft = DraftFrom(p)
	}
	view := r.viewLocked()
	r.mu.Unlock()

	r.notify(view)
}

func (r *Reconciler) viewLocked() View {
	v := View{State: r.state, PersonaID: r.selectedID, RemoteChanged: r.remoteChanged}
	if r.hasRecord {
		d := r.draft.clone()
		a := r.authoritative.Clone()
		v.Draft = &d
		v.Authoritative = &a
	}
	return v
}

func (r *Reconciler) notify(v View) {
	r.listenersMu.Lock()
	fns := make([]func(View), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.listenersMu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}
