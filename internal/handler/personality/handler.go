package personality

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/persona-counsel/backend/internal/model/persona"
	"github.com/zhouzirui/persona-counsel/backend/internal/model/personality"
	"github.com/zhouzirui/persona-counsel/backend/pkg/utils"
)

// Handler 性格问卷的HTTP处理器
type Handler struct {
	catalog  *personality.Catalog
	answers  personality.AnswerStore
	personas persona.Store
	logger   *zap.Logger
}

func New(catalog *personality.Catalog, answers personality.AnswerStore, personas persona.Store, logger *zap.Logger) *Handler {
	if catalog == nil {
		catalog = personality.DefaultCatalog()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		catalog:  catalog,
		answers:  answers,
		personas: personas,
		logger:   logger.With(zap.String("component", "handler.personality")),
	}
}

// RegisterRoutes 注册问卷相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personality/questions", h.handleQuestions)
	r.Get("/personality/{personaId}", h.handleGetAnswers)
	r.Put("/personality/{personaId}", h.handleSaveAnswers)
}

type saveRequest struct {
	Answers map[string]string `json:"answers" validate:"required,dive,max=2000"`
}

func (h *Handler) handleQuestions(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.catalog)
}

// handleGetAnswers 未填写时返回空答案与进度 0。
func (h *Handler) handleGetAnswers(w http.ResponseWriter, r *http.Request) {
	personaID := chi.URLParam(r, "personaId")
	if !h.personaExists(w, r, personaID) {
		return
	}

	set, err := h.answers.GetByPersonaID(r.Context(), personaID)
	if errors.Is(err, personality.ErrAbsent) {
		set = personality.AnswerSet{PersonaID: personaID, Answers: map[string]string{}}
	} else if err != nil {
		h.logger.Error("load personality answers failed", zap.String("persona", personaID), zap.Error(err))
		utils.RespondError(w, http.StatusServiceUnavailable, "personality data unavailable")
		return
	}
	utils.RespondJSON(w, http.StatusOK, personality.NewView(set, h.catalog))
}

func (h *Handler) handleSaveAnswers(w http.ResponseWriter, r *http.Request) {
	personaID := chi.URLParam(r, "personaId")
	var payload saveRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.personaExists(w, r, personaID) {
		return
	}

	started := time.Now()
	set, err := h.answers.Save(r.Context(), personaID, payload.Answers)
	if errors.Is(err, personality.ErrUnknownQuestion) {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("save personality answers failed", zap.String("persona", personaID), zap.Error(err))
		utils.RespondError(w, http.StatusServiceUnavailable, "personality data unavailable")
		return
	}

	view := personality.NewView(set, h.catalog)
	h.logger.Info("personality answers saved",
		zap.String("persona", personaID),
		zap.Int("answered", view.Answered),
		zap.Bool("complete", set.IsComplete),
		zap.Duration("elapsed", time.Since(started)))
	utils.RespondJSON(w, http.StatusOK, view)
}

func (h *Handler) personaExists(w http.ResponseWriter, r *http.Request, id string) bool {
	_, err := h.personas.FindByID(r.Context(), id)
	if errors.Is(err, persona.ErrNotFound) {
		utils.RespondError(w, http.StatusNotFound, "persona not found")
		return false
	}
	if err != nil {
		h.logger.Error("persona lookup failed", zap.String("persona", id), zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "persona store unavailable")
		return false
	}
	return true
}
