package repository

import (
	"context"
	"sync"

	"studyrag/internal/model"
)

// MemoryRefreshTokenStore is a mutex-guarded in-process RefreshTokenStore.
// The mutex serializes the revoked-state check-and-set, so exactly one
// concurrent Consume of a value wins. Revoked tokens stay in the map until
// looked up again; nothing sweeps them proactively.
type MemoryRefreshTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*model.RefreshToken
}

func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{tokens: make(map[string]*model.RefreshToken)}
}

func (s *MemoryRefreshTokenStore) Save(_ context.Context, token *model.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *token
	s.tokens[token.Token] = &copied
	return nil
}

func (s *MemoryRefreshTokenStore) Consume(_ context.Context, value string) (*model.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[value]
	if !ok || token.Revoked {
		return nil, ErrTokenNotFound
	}
	token.Revoked = true
	copied := *token
	return &copied, nil
}

func (s *MemoryRefreshTokenStore) Revoke(_ context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token, ok := s.tokens[value]; ok {
		token.Revoked = true
	}
	return nil
}

func (s *MemoryRefreshTokenStore) RevokeAll(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, token := range s.tokens {
		if token.UserID == userID {
			token.Revoked = true
		}
	}
	return nil
}
