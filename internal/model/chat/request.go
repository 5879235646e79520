package chat

import (
	"time"

	"github.com/zhouzirui/persona-counsel/backend/internal/model/persona"
)

// Request is one student message addressed to a persona.
type Request struct {
	Message   string           `json:"message" validate:"required,max=4000"`
	PersonaID string           `json:"personaId" validate:"required"`
	Category  persona.Category `json:"category,omitempty" validate:"omitempty,oneof=進路 学習 人間関係"`
	Mode      persona.Mode     `json:"mode,omitempty" validate:"omitempty,oneof=normal detailed quick encouraging"`
}

// Response carries either a generated reply or a moderation refusal. The two
// are intentionally indistinguishable to callers.
type Response struct {
	Text      string          `json:"response"`
	Persona   persona.Persona `json:"teacher"`
	Timestamp time.Time       `json:"timestamp"`
}
