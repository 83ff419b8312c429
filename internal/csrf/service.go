// Package csrf issues and verifies per-session anti-forgery tokens.
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"time"

	dErrors "bastion/pkg/domain-errors"
	"bastion/pkg/requestcontext"
)

const tokenBytes = 32 // 256-bit token values

// Guard issues and verifies tokens bound 1:1 to a session scope.
type Guard struct {
	store    TokenStore
	tokenTTL time.Duration
}

// NewGuard creates a CSRF guard over the given token store.
func NewGuard(store TokenStore, tokenTTL time.Duration) (*Guard, error) {
	if store == nil {
		return nil, errors.New("token store is required")
	}
	if tokenTTL <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	return &Guard{store: store, tokenTTL: tokenTTL}, nil
}

// IssueToken generates a fresh token for the scope, overwriting any prior one.
// At most one valid token per scope exists at a time.
func (g *Guard) IssueToken(ctx context.Context, scope string) (Token, error) {
	if scope == "" {
		return Token{}, dErrors.New(dErrors.CodeInvalidInput, "scope cannot be empty")
	}

	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return Token{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate token")
	}

	t := Token{
		Value:     base64.RawURLEncoding.EncodeToString(raw),
		ExpiresAt: requestcontext.Now(ctx).Add(g.tokenTTL),
	}
	if err := g.store.Put(ctx, scope, t); err != nil {
		return Token{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store token")
	}
	return t, nil
}

// Verify compares a client-supplied value against the scope's stored token.
// Absent token fails closed. The comparison is constant-time so a mismatch
// position never leaks through response timing; expiry is checked after the
// compare for the same reason.
func (g *Guard) Verify(ctx context.Context, scope, supplied string) bool {
	stored, ok, err := g.store.Get(ctx, scope)
	if err != nil || !ok {
		return false
	}

	match := subtle.ConstantTimeCompare([]byte(stored.Value), []byte(supplied)) == 1
	fresh := !requestcontext.Now(ctx).After(stored.ExpiresAt)
	return match && fresh
}

// DropScope removes the scope's token. Implements credential.ScopeInvalidator
// so session revocation invalidates the companion CSRF token.
func (g *Guard) DropScope(ctx context.Context, scope string) error {
	return g.store.Delete(ctx, scope)
}
