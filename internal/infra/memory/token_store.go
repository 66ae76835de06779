package memory

import (
	"context"
	"sync"
)

// TokenStore is the in-process instructor token map: many concurrent reads
// per second from validations, occasional writes on issue/revoke.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[int64]string
}

func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[int64]string)}
}

func (s *TokenStore) Put(_ context.Context, examID int64, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[examID] = token
	return nil
}

func (s *TokenStore) Get(_ context.Context, examID int64) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[examID]
	return token, ok, nil
}

func (s *TokenStore) Delete(_ context.Context, examID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, examID)
	return nil
}
