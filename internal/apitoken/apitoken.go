// Package apitoken issues and validates signed bearer tokens for the admin
// API. Browser sessions use the sealed cookie; automation and on-call tooling
// authenticate with these tokens instead.
package apitoken

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	id "bastion/pkg/domain"
	dErrors "bastion/pkg/domain-errors"
	"bastion/pkg/requestcontext"
)

// OpsTokenClaims are the claims carried by an admin API token.
type OpsTokenClaims struct {
	SubjectID string `json:"subject_id"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// Service signs and validates admin API tokens with HS256.
type Service struct {
	signingKey []byte
	issuer     string
	audience   string
	tokenTTL   time.Duration
}

func New(signingKey string, issuer string, audience string, tokenTTL time.Duration) *Service {
	return &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		tokenTTL:   tokenTTL,
	}
}

// Generate signs a token binding the subject to an admin role.
func (s *Service) Generate(ctx context.Context, subjectID id.SubjectID, role string) (string, error) {
	if subjectID.IsNil() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "subject id cannot be nil")
	}
	now := requestcontext.Now(ctx)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, OpsTokenClaims{
		SubjectID: subjectID.String(),
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        id.NewEventID().String(),
		},
	})

	return token.SignedString(s.signingKey)
}

// Validate checks signature, algorithm, expiry, and issuer.
func (s *Service) Validate(tokenString string) (*OpsTokenClaims, error) {
	if tokenString == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "empty token")
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &OpsTokenClaims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeSessionExpired, "token expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*OpsTokenClaims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	if claims.Issuer != s.issuer {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token issuer")
	}
	return claims, nil
}
