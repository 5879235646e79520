package editor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/persona-counsel/backend/internal/model/persona"
	"github.com/zhouzirui/persona-counsel/backend/internal/service/editor"
)

const writeTimeout = 10 * time.Second

// WebSocketHandler 编辑界面的WebSocket处理器，每个连接持有一个 Reconciler。
type WebSocketHandler struct {
	personas persona.Store
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewWebSocketHandler(personas persona.Store, logger *zap.Logger) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketHandler{
		personas: personas,
		logger:   logger.With(zap.String("component", "handler.editor")),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/editor/ws", h.handleWebSocket)
}

// Command is a client instruction.
type Command struct {
	Type      string        `json:"type"`
	PersonaID string        `json:"personaId,omitempty"`
	Draft     *editor.Draft `json:"draft,omitempty"`
}

// Event is a server push.
type Event struct {
	Type  string       `json:"type"`
	View  *editor.View `json:"view,omitempty"`
	Error string       `json:"error,omitempty"`
}

const (
	CommandSelect = "select"
	CommandBegin  = "begin"
	CommandEdit   = "edit"
	CommandSave   = "save"
	CommandCancel = "cancel"

	EventView  = "view"
	EventError = "error"
)

type connWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *connWriter) send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(ev)
}

func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := &connWriter{conn: conn}
	rec := editor.NewReconciler(h.personas, h.logger)
	stop := rec.OnChange(func(v editor.View) {
		if err := out.send(Event{Type: EventView, View: &v}); err != nil {
			h.logger.Debug("push view failed", zap.Error(err))
		}
	})
	defer stop()

	if err := rec.Start(ctx); err != nil {
		h.logger.Error("start reconciler failed", zap.Error(err))
		_ = out.send(Event{Type: EventError, Error: "realtime updates unavailable"})
		return
	}
	defer rec.Close()

	initial := rec.View()
	if err := out.send(Event{Type: EventView, View: &initial}); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("editor connection closed unexpectedly", zap.Error(err))
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			_ = out.send(Event{Type: EventError, Error: "invalid command"})
			continue
		}
		if err := h.dispatch(ctx, rec, cmd); err != nil {
			_ = out.send(Event{Type: EventError, Error: err.Error()})
		}
	}
}

func (h *WebSocketHandler) dispatch(ctx context.Context, rec *editor.Reconciler, cmd Command) error {
	switch cmd.Type {
	case CommandSelect:
		return rec.Select(ctx, cmd.PersonaID)
	case CommandBegin:
		return rec.BeginEdit()
	case CommandEdit:
		if cmd.Draft == nil {
			return errMissingDraft
		}
		// 与 PATCH /personas/{id} 使用同一套取值校验
		if err := persona.ValidateSettings(cmd.Draft.NGWords, cmd.Draft.ResponseCustomization); err != nil {
			return errInvalidDraft
		}
		return rec.Edit(func(d *editor.Draft) { *d = *cmd.Draft })
	case CommandSave:
		return rec.Save(ctx)
	case CommandCancel:
		return rec.Cancel()
	default:
		return errUnknownCommand
	}
}
