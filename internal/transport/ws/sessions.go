package ws

import (
	"sync"

	"github.com/google/uuid"

	"github.com/oatsaysai/general-store-in-discord/internal/models"
)

// Sessions binds overlay tokens to the Discord user they were issued to.
// A user holds at most one token; issuing a new one revokes the old.
type Sessions struct {
	mu      sync.RWMutex
	byToken map[string]models.ParticipantRef
	byUser  map[string]string
}

func NewSessions() *Sessions {
	return &Sessions{
		byToken: make(map[string]models.ParticipantRef),
		byUser:  make(map[string]string),
	}
}

// Issue returns a fresh token acting as who
func (s *Sessions) Issue(who models.ParticipantRef) string {
	token := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byUser[who.UserID]; ok {
		delete(s.byToken, old)
	}
	s.byToken[token] = who
	s.byUser[who.UserID] = token
	return token
}

// Lookup returns the user a token was issued to
func (s *Sessions) Lookup(token string) (models.ParticipantRef, bool) {
	if token == "" {
		return models.ParticipantRef{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	who, ok := s.byToken[token]
	return who, ok
}
