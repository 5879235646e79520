package chat

import "time"

// Session identifies who is talking. It is created by the caller and passed
// explicitly into the pipeline instead of living in process-wide state.
type Session struct {
	ID        string    `json:"id"`
	StudentID string    `json:"studentId,omitempty"`
	PersonaID string    `json:"personaId"`
	Anonymous bool      `json:"anonymous"`
	CreatedAt time.Time `json:"createdAt"`
}
