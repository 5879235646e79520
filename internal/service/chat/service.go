package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/persona-counsel/backend/internal/model/chat"
)

var (
	ErrPersonaRequired = errors.New("persona id is required")
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidSender   = errors.New("unknown message sender")
)

// Service keeps counseling sessions and their transcripts in memory.
type Service struct {
	mu    sync.RWMutex
	rooms map[string]*room
	now   func() time.Time
}

// room is one session together with its turns in arrival order.
type room struct {
	session chat.Session
	turns   []chat.Message
}

func NewService() *Service {
	return &Service{
		rooms: make(map[string]*room),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession opens a session with a persona. Anonymous sessions never
// keep the student id.
func (s *Service) CreateSession(_ context.Context, personaID, studentID string, anonymous bool) (chat.Session, error) {
	if personaID == "" {
		return chat.Session{}, ErrPersonaRequired
	}
	if anonymous {
		studentID = ""
	}

	session := chat.Session{
		ID:        uuid.NewString(),
		StudentID: studentID,
		PersonaID: personaID,
		Anonymous: anonymous,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.rooms[session.ID] = &room{session: session, turns: make([]chat.Message, 0, 16)}
	s.mu.Unlock()

	return session, nil
}

// SaveMessage appends a single turn.
func (s *Service) SaveMessage(_ context.Context, message chat.Message) error {
	if message.Sender != chat.SenderStudent && message.Sender != chat.SenderPersona {
		return ErrInvalidSender
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rm, ok := s.rooms[message.SessionID]
	if !ok {
		return ErrSessionNotFound
	}
	rm.turns = append(rm.turns, s.stamp(message))
	return nil
}

// RecordExchange appends a student message and the reply it received as one
// unit, so concurrent requests on a session never interleave their turns.
func (s *Service) RecordExchange(_ context.Context, sessionID string, student, reply chat.Message) (chat.Exchange, error) {
	student.SessionID, student.Sender = sessionID, chat.SenderStudent
	reply.SessionID, reply.Sender = sessionID, chat.SenderPersona

	s.mu.Lock()
	defer s.mu.Unlock()

	rm, ok := s.rooms[sessionID]
	if !ok {
		return chat.Exchange{}, ErrSessionNotFound
	}
	ex := chat.Exchange{Student: s.stamp(student), Reply: s.stamp(reply)}
	rm.turns = append(rm.turns, ex.Student, ex.Reply)
	return ex, nil
}

func (s *Service) stamp(m chat.Message) chat.Message {
	m.ID = uuid.NewString()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	return m
}

func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rm, ok := s.rooms[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return rm.session, nil
}

// LoadTranscript returns a copy of every turn in arrival order.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rm, ok := s.rooms[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return append([]chat.Message(nil), rm.turns...), nil
}

// Exchanges pairs each student turn with the persona turn that follows it.
// A student turn still waiting for its reply is left out.
func (s *Service) Exchanges(ctx context.Context, sessionID string) ([]chat.Exchange, error) {
	turns, err := s.LoadTranscript(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	out := make([]chat.Exchange, 0, len(turns)/2)
	var pending *chat.Message
	for i := range turns {
		switch turns[i].Sender {
		case chat.SenderStudent:
			pending = &turns[i]
		case chat.SenderPersona:
			if pending != nil {
				out = append(out, chat.Exchange{Student: *pending, Reply: turns[i]})
				pending = nil
			}
		}
	}
	return out, nil
}
