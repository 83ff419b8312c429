// Package credential seals and verifies opaque session tokens.
//
// A token is the JSON claims encrypted with XChaCha20-Poly1305 and base64url
// encoded: integrity and confidentiality in one primitive, so the cookie never
// carries raw claims and any tamper fails the AEAD open.
package credential

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	id "bastion/pkg/domain"
	dErrors "bastion/pkg/domain-errors"
	"bastion/pkg/requestcontext"
)

// ScopeInvalidator drops session-bound resources when a session is revoked.
// The CSRF guard implements it.
type ScopeInvalidator interface {
	DropScope(ctx context.Context, scope string) error
}

// EventEmitter records security events. The bus publisher implements it.
type EventEmitter interface {
	EmitSessionRevoked(ctx context.Context, scope string)
}

// Store issues, verifies, and revokes sealed session tokens. Sealing is a pure
// function of key and claims; the service holds no per-session state.
type Store struct {
	key          []byte
	sessionTTL   time.Duration
	invalidator  ScopeInvalidator
	emitter      EventEmitter
	logger       *slog.Logger
	newSessionID func() id.SessionID
}

// Option configures a Store instance.
type Option func(*Store)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithScopeInvalidator wires the CSRF guard so Revoke can drop the companion token.
func WithScopeInvalidator(inv ScopeInvalidator) Option {
	return func(s *Store) { s.invalidator = inv }
}

// WithEventEmitter wires the security event bus.
func WithEventEmitter(e EventEmitter) Option {
	return func(s *Store) { s.emitter = e }
}

// WithSessionIDFunc overrides session ID generation for deterministic tests.
func WithSessionIDFunc(fn func() id.SessionID) Option {
	return func(s *Store) { s.newSessionID = fn }
}

// New creates a credential store. The seal key may be any non-empty string;
// it is stretched to the AEAD key size with SHA-256.
func New(sealKey string, sessionTTL time.Duration, opts ...Option) (*Store, error) {
	if sealKey == "" {
		return nil, errors.New("seal key is required")
	}
	if sessionTTL <= 0 {
		return nil, errors.New("session ttl must be positive")
	}

	derived := sha256.Sum256([]byte(sealKey))
	s := &Store{
		key:          derived[:],
		sessionTTL:   sessionTTL,
		newSessionID: id.NewSessionID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue seals fresh claims for the subject and returns the opaque token next
// to the claims themselves, so the caller can bind follow-up state (CSRF,
// cookies) to the session scope without reopening the token.
func (s *Store) Issue(ctx context.Context, subjectID id.SubjectID, role Role) (string, Claims, error) {
	if subjectID.IsNil() {
		return "", Claims{}, dErrors.New(dErrors.CodeInvalidInput, "subject ID cannot be empty")
	}
	if !role.IsValid() {
		return "", Claims{}, dErrors.New(dErrors.CodeInvalidInput, "invalid role")
	}

	now := requestcontext.Now(ctx)
	claims := Claims{
		SubjectID: subjectID,
		SessionID: s.newSessionID(),
		Role:      role,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.sessionTTL),
	}

	token, err := s.seal(claims)
	if err != nil {
		return "", Claims{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to seal session")
	}
	return token, claims, nil
}

// Verify opens a sealed token and checks expiry. It returns typed errors only:
// session_expired when the seal is valid but past its expiry, unauthorized for
// anything tampered or malformed. Malformed input never panics.
func (s *Store) Verify(ctx context.Context, token string) (Claims, error) {
	claims, err := s.open(token)
	if err != nil {
		return Claims{}, dErrors.New(dErrors.CodeUnauthorized, "invalid session")
	}
	if claims.ExpiredAt(requestcontext.Now(ctx)) {
		return Claims{}, dErrors.New(dErrors.CodeSessionExpired, "session expired")
	}
	return claims, nil
}

// Revoke marks the session inert for session-bound resources: the companion
// CSRF token is dropped and a session_revoked event is recorded. The sealed
// token itself cannot be retracted without a server-side denylist, so natural
// expiry remains the primary guarantee; callers replace the cookie.
func (s *Store) Revoke(ctx context.Context, claims Claims) {
	if s.invalidator != nil {
		if err := s.invalidator.DropScope(ctx, claims.Scope()); err != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to drop session scope",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
	}
	if s.emitter != nil {
		s.emitter.EmitSessionRevoked(ctx, claims.Scope())
	}
}

func (s *Store) seal(claims Claims) (string, error) {
	plaintext, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	cipher, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, cipher.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := cipher.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (s *Store) open(token string) (Claims, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Claims{}, err
	}

	cipher, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return Claims{}, err
	}
	if len(raw) < cipher.NonceSize() {
		return Claims{}, errors.New("token too short")
	}

	nonce, ciphertext := raw[:cipher.NonceSize()], raw[cipher.NonceSize():]
	plaintext, err := cipher.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Claims{}, err
	}

	var claims Claims
	if err := json.Unmarshal(plaintext, &claims); err != nil {
		return Claims{}, err
	}
	return claims, nil
}
