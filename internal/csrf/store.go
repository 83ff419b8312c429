package csrf

import (
	"context"
	"sync"
	"time"
)

// Token is a per-scope anti-forgery token. One slot per scope: reissue overwrites.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenStore holds at most one token per session scope.
type TokenStore interface {
	Put(ctx context.Context, scope string, t Token) error
	Get(ctx context.Context, scope string) (Token, bool, error)
	Delete(ctx context.Context, scope string) error
}

// InMemoryTokenStore is the process-local TokenStore.
type InMemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

func NewInMemoryTokenStore() *InMemoryTokenStore {
	return &InMemoryTokenStore{tokens: make(map[string]Token)}
}

func (s *InMemoryTokenStore) Put(_ context.Context, scope string, t Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[scope] = t
	return nil
}

func (s *InMemoryTokenStore) Get(_ context.Context, scope string) (Token, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[scope]
	return t, ok, nil
}

func (s *InMemoryTokenStore) Delete(_ context.Context, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, scope)
	return nil
}

var _ TokenStore = (*InMemoryTokenStore)(nil)
