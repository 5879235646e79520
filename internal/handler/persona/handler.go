package persona

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/persona-counsel/backend/internal/model/persona"
	"github.com/zhouzirui/persona-counsel/backend/pkg/utils"
)

// Handler persona服务的HTTP处理器
type Handler struct {
	personas persona.Store
	logger   *zap.Logger
}

// New 创建persona处理器
func New(personas persona.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		personas: personas,
		logger:   logger.With(zap.String("component", "handler.persona")),
	}
}

// RegisterRoutes 注册persona相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas", h.handleListPersonas)
	r.Post("/personas", h.handleCreatePersona)
	r.Get("/personas/{id}", h.handleGetPersona)
	r.Patch("/personas/{id}", h.handleUpdatePersona)
	r.Delete("/personas/{id}", h.handleDeletePersona)
}

type createRequest struct {
	ID                    string                        `json:"id" validate:"omitempty,max=64"`
	Name                  string                        `json:"name" validate:"required,max=100"`
	DisplayName           string                        `json:"displayName" validate:"required,max=100"`
	Specialties           []string                      `json:"specialties" validate:"dive,max=50"`
	Personality           string                        `json:"personality" validate:"max=2000"`
	Greeting              string                        `json:"greeting" validate:"max=500"`
	TeacherInfo           string                        `json:"teacherInfo" validate:"max=2000"`
	FreeNotes             string                        `json:"freeNotes" validate:"max=4000"`
	Image                 string                        `json:"image"`
	NGWords               persona.NGWords               `json:"ngWords"`
	ResponseCustomization persona.ResponseCustomization `json:"responseCustomization"`
}

// handleListPersonas 列出所有persona（学生可见字段）
func (h *Handler) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	list, err := h.personas.List(r.Context())
	if err != nil {
		h.logger.Error("list personas failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "failed to list personas")
		return
	}
	out := make([]persona.Persona, 0, len(list))
	for _, p := range list {
		out = append(out, p.Public())
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	p, err := h.personas.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, p.Public())
}

func (h *Handler) handleCreatePersona(w http.ResponseWriter, r *http.Request) {
	var payload createRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := persona.ValidateSettings(payload.NGWords, payload.ResponseCustomization); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.personas.Create(r.Context(), persona.Persona{
		ID:                    payload.ID,
		Name:                  payload.Name,
		DisplayName:           payload.DisplayName,
		Specialties:           payload.Specialties,
		Personality:           payload.Personality,
		Greeting:              payload.Greeting,
		TeacherInfo:           payload.TeacherInfo,
		FreeNotes:             payload.FreeNotes,
		Image:                 payload.Image,
		NGWords:               payload.NGWords,
		ResponseCustomization: payload.ResponseCustomization,
	})
	if err != nil {
		h.respondStoreError(w, err)
		return
	}
	h.logger.Info("persona created", zap.String("persona", created.ID))
	utils.RespondJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleUpdatePersona(w http.ResponseWriter, r *http.Request) {
	var payload persona.Update
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var (
		ng persona.NGWords
		rc persona.ResponseCustomization
	)
	if payload.NGWords != nil {
		ng = *payload.NGWords
	}
	if payload.ResponseCustomization != nil {
		rc = *payload.ResponseCustomization
	}
	if err := persona.ValidateSettings(ng, rc); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := chi.URLParam(r, "id")
	updated, err := h.personas.Update(r.Context(), id, payload)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}
	h.logger.Info("persona updated", zap.String("persona", id))
	utils.RespondJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeletePersona(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.personas.Delete(r.Context(), id); err != nil {
		h.respondStoreError(w, err)
		return
	}
	h.logger.Info("persona deleted", zap.String("persona", id))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, persona.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, "persona not found")
	case errors.Is(err, persona.ErrInvalidInput):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("persona store failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "persona store unavailable")
	}
}
