package apitoken

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "bastion/pkg/domain"
	dErrors "bastion/pkg/domain-errors"
	"bastion/pkg/requestcontext"
)

const testSigningKey = "test-signing-key-at-least-32-bytes!!"

func clockCtx(t time.Time) context.Context {
	return requestcontext.WithClock(context.Background(), func() time.Time { return t })
}

func Test_GenerateAndValidate(t *testing.T) {
	svc := New(testSigningKey, "bastion", "bastion-admin", time.Hour)
	subjectID := id.NewSubjectID()

	token, err := svc.Generate(clockCtx(time.Now()), subjectID, "admin")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, subjectID.String(), claims.SubjectID)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "bastion", claims.Issuer)
	assert.NotEmpty(t, claims.ID, "tokens carry a unique JTI")
}

func Test_Generate_NilSubjectRejected(t *testing.T) {
	svc := New(testSigningKey, "bastion", "bastion-admin", time.Hour)

	_, err := svc.Generate(clockCtx(time.Now()), id.SubjectID{}, "admin")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func Test_Validate_Expired(t *testing.T) {
	svc := New(testSigningKey, "bastion", "bastion-admin", time.Hour)

	// Issued two hours ago with a one hour TTL.
	token, err := svc.Generate(clockCtx(time.Now().Add(-2*time.Hour)), id.NewSubjectID(), "admin")
	require.NoError(t, err)

	_, err = svc.Validate(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeSessionExpired))
}

func Test_Validate_WrongKey(t *testing.T) {
	svc := New(testSigningKey, "bastion", "bastion-admin", time.Hour)
	other := New("another-signing-key-also-32-bytes!!!", "bastion", "bastion-admin", time.Hour)

	token, err := other.Generate(clockCtx(time.Now()), id.NewSubjectID(), "admin")
	require.NoError(t, err)

	_, err = svc.Validate(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_Validate_WrongIssuer(t *testing.T) {
	svc := New(testSigningKey, "bastion", "bastion-admin", time.Hour)
	other := New(testSigningKey, "someone-else", "bastion-admin", time.Hour)

	token, err := other.Generate(clockCtx(time.Now()), id.NewSubjectID(), "admin")
	require.NoError(t, err)

	_, err = svc.Validate(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

// Algorithm confusion: a token that names "none" must be rejected even with a
// valid-looking payload.
func Test_Validate_AlgorithmNoneRejected(t *testing.T) {
	svc := New(testSigningKey, "bastion", "bastion-admin", time.Hour)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, OpsTokenClaims{
		SubjectID: id.NewSubjectID().String(),
		Role:      "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			Issuer:    "bastion",
		},
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.Validate(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_Validate_MalformedInput(t *testing.T) {
	svc := New(testSigningKey, "bastion", "bastion-admin", time.Hour)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := svc.Validate(token)
		assert.Error(t, err, "token %q", token)
	}
}
