package chat

import "time"

// Sender identifies who produced a transcript turn.
type Sender string

const (
	SenderStudent Sender = "user"
	SenderPersona Sender = "ai"
)

// Message persists individual turns of a session transcript.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	Category  string    `json:"category,omitempty"`
	Mode      string    `json:"mode,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Exchange pairs a student message with the persona reply it received.
// Refusals from moderation are stored as replies like any other.
type Exchange struct {
	Student Message `json:"student"`
	Reply   Message `json:"reply"`
}
