package stream

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/persona-counsel/backend/internal/model/persona"
	"github.com/zhouzirui/persona-counsel/backend/pkg/utils"
)

const defaultHeartbeat = 15 * time.Second

// Handler pushes the persona list to clients via Server-Sent Events.
type Handler struct {
	personas  persona.Store
	logger    *zap.Logger
	heartbeat time.Duration
}

// New creates a new stream handler
func New(personas persona.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		personas:  personas,
		logger:    logger.With(zap.String("component", "handler.stream")),
		heartbeat: defaultHeartbeat,
	}
}

// WithHeartbeat overrides the keep-alive interval.
func (h *Handler) WithHeartbeat(d time.Duration) *Handler {
	h.heartbeat = d
	return h
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas/stream", h.handlePersonaStream)
}

// handlePersonaStream sends a "personas" event with the public list on connect
// and after every change.
func (h *Handler) handlePersonaStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	updates := make(chan []persona.Persona)

	unsubscribe, err := h.personas.Subscribe(ctx, func(list []persona.Persona) {
		select {
		case updates <- list:
		case <-ctx.Done():
		}
	})
	if err != nil {
		cancel()
		h.logger.Error("subscribe personas failed", zap.Error(err))
		utils.RespondError(w, http.StatusServiceUnavailable, "realtime updates unavailable")
		return
	}
	// cancel first so a listener blocked on send returns before unsubscribe waits on it
	defer unsubscribe()
	defer cancel()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Debug("persona stream opened", zap.String("remote", r.RemoteAddr))

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("persona stream closed", zap.String("remote", r.RemoteAddr))
			return
		case list := <-updates:
			public := make([]persona.Persona, 0, len(list))
			for _, p := range list {
				public = append(public, p.Public())
			}
			if err := utils.SendSSEEvent(w, flusher, "personas", public); err != nil {
				h.logger.Debug("persona stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}
