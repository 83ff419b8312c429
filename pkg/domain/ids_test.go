package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "bastion/pkg/domain-errors"
)

func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseSubjectID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseIncidentID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		validUUID := uuid.New()
		id, err := ParseSubjectID(validUUID.String())
		require.NoError(t, err)
		assert.Equal(t, SubjectID(validUUID), id)
	})

	t.Run("nil UUID parses but reports IsNil", func(t *testing.T) {
		id, err := ParseSubjectID(uuid.Nil.String())
		require.NoError(t, err)
		assert.True(t, id.IsNil())
	})
}

// JSON round-trip: IDs render as canonical UUID strings, not byte arrays.
func TestIDs_JSONRoundTrip(t *testing.T) {
	incidentID := NewIncidentID()

	b, err := json.Marshal(incidentID)
	require.NoError(t, err)
	assert.Equal(t, `"`+incidentID.String()+`"`, string(b))

	var decoded IncidentID
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, incidentID, decoded)
}

// TestTypeDistinction verifies the compiler enforces type safety.
// This is a compile-time check - if this compiles, the invariant holds.
func TestTypeDistinction(t *testing.T) {
	subjectID := SubjectID(uuid.New())
	sessionID := SessionID(uuid.New())

	// These would fail to compile if types were interchangeable:
	// var _ SubjectID = sessionID   // compile error
	// var _ SessionID = subjectID   // compile error

	// Verify they're distinct at runtime too
	assert.NotEqual(t, uuid.UUID(subjectID), uuid.UUID(sessionID))
}
