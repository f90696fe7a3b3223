package auth

import (
	"context"
	"strings"
	"sync"
)

// StaticVerifier is an in-memory Verifier for dev and tests.
type StaticVerifier struct {
	mu     sync.RWMutex
	tokens map[string]Identity
}

// NewStaticVerifier constructs an empty StaticVerifier.
func NewStaticVerifier() *StaticVerifier {
	return &StaticVerifier{tokens: make(map[string]Identity)}
}

// Add registers a plain token for an identity.
func (v *StaticVerifier) Add(token string, id Identity) {
	v.mu.Lock()
	v.tokens[token] = id
	v.mu.Unlock()
}

// Verify resolves a plain token to its identity.
func (v *StaticVerifier) Verify(_ context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrInvalidToken
	}

	v.mu.RLock()
	id, ok := v.tokens[token]
	v.mu.RUnlock()

	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return id, nil
}
