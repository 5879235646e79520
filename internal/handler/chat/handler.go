package chat

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/persona-counsel/backend/internal/config"
	"github.com/zhouzirui/persona-counsel/backend/internal/model/chat"
	"github.com/zhouzirui/persona-counsel/backend/internal/model/persona"
	"github.com/zhouzirui/persona-counsel/backend/internal/service/ai"
	chatService "github.com/zhouzirui/persona-counsel/backend/internal/service/chat"
	"github.com/zhouzirui/persona-counsel/backend/pkg/utils"
)

// Status 描述当前生成后端。
type Status struct {
	Provider string `json:"provider"`
	Live     bool   `json:"live"`
	Breaker  string `json:"breaker,omitempty"`
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc      *chatService.Service
	orchestrator *chatService.Orchestrator
	personaStore persona.Store
	generator    ai.Generator
	provider     string
	logger       *zap.Logger
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, orchestrator *chatService.Orchestrator, personaStore persona.Store, generator ai.Generator, provider string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		chatSvc:      chatSvc,
		orchestrator: orchestrator,
		personaStore: personaStore,
		generator:    generator,
		provider:     provider,
		logger:       logger.With(zap.String("component", "handler.chat")),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Get("/session/{sessionID}/messages", h.handleTranscript)
	r.Get("/session/{sessionID}/exchanges", h.handleExchanges)
	r.Post("/chat", h.handleChat)
	r.Get("/chat/status", h.handleStatus)
}

type createSessionRequest struct {
	PersonaID string `json:"personaId" validate:"required"`
	StudentID string `json:"studentId" validate:"max=128"`
	Anonymous bool   `json:"anonymous"`
}

type chatRequest struct {
	chat.Request
	SessionID string `json:"sessionId,omitempty"`
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload createSessionRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.personaStore.FindByID(r.Context(), payload.PersonaID); err != nil {
		if errors.Is(err, persona.ErrNotFound) {
			utils.RespondError(w, http.StatusBadRequest, "persona not found")
			return
		}
		h.logger.Error("persona lookup failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "persona store unavailable")
		return
	}

	session, err := h.chatSvc.CreateSession(r.Context(), payload.PersonaID, payload.StudentID, payload.Anonymous)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, session)
}

// handleExchanges 按问答对返回会话记录
func (h *Handler) handleExchanges(w http.ResponseWriter, r *http.Request) {
	exchanges, err := h.chatSvc.Exchanges(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, exchanges)
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chatSvc.LoadTranscript(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

// handleChat 处理一条学生消息。被拦截的消息与正常回复使用同一响应格式。
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload chatRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var session *chat.Session
	if payload.SessionID != "" {
		s, err := h.chatSvc.GetSession(r.Context(), payload.SessionID)
		if err != nil {
			utils.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		if s.PersonaID != payload.PersonaID {
			utils.RespondError(w, http.StatusBadRequest, "session is bound to another persona")
			return
		}
		session = &s
	}

	resp, err := h.orchestrator.SendMessage(r.Context(), session, payload.Request)
	switch {
	case err == nil:
		utils.RespondJSON(w, http.StatusOK, resp)
	case errors.Is(err, chatService.ErrInvalidRequest):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chatService.ErrPersonaNotFound):
		utils.RespondError(w, http.StatusNotFound, "persona not found")
	case errors.Is(err, chatService.ErrGenerationFailure):
		utils.RespondError(w, http.StatusBadGateway, "response generation failed")
	default:
		h.logger.Error("chat request failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "chat unavailable")
	}
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := Status{
		Provider: h.provider,
		Live:     h.generator != nil && h.provider != config.ProviderMock,
	}
	if b, ok := h.generator.(*ai.BreakerGenerator); ok {
		status.Breaker = b.State()
	}
	utils.RespondJSON(w, http.StatusOK, status)
}
