package incident

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bastion/internal/platform/logger"
	"bastion/pkg/requestcontext"
)

type erroringBlockStore struct{}

func (erroringBlockStore) Put(context.Context, BlockEntry) error { return nil }
func (erroringBlockStore) IsBlocked(context.Context, string, time.Time) (bool, error) {
	return false, errors.New("lookup failed")
}
func (erroringBlockStore) ActiveCount(time.Time) int { return 0 }

func blockGuardRequest(ip string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	return r.WithContext(requestcontext.WithClientIP(r.Context(), ip))
}

func Test_BlockGuard(t *testing.T) {
	store := NewInMemoryBlockStore()
	require.NoError(t, store.Put(context.Background(), BlockEntry{
		IP:        "203.0.113.7",
		Reason:    "containment",
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	var reached bool
	handler := BlockGuard(store, logger.New())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("blocked actor rejected", func(t *testing.T) {
		reached = false
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, blockGuardRequest("203.0.113.7"))

		assert.False(t, reached)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "300", rec.Header().Get("Retry-After"))
		assert.JSONEq(t, `{"success":false,"error":"forbidden"}`, rec.Body.String())
	})

	t.Run("other actors pass", func(t *testing.T) {
		reached = false
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, blockGuardRequest("203.0.113.8"))

		assert.True(t, reached)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func Test_BlockGuard_FailsOpen(t *testing.T) {
	var reached bool
	handler := BlockGuard(erroringBlockStore{}, logger.New())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, blockGuardRequest("203.0.113.7"))

	assert.True(t, reached, "a broken blocklist must not take the site down")
	assert.Equal(t, http.StatusOK, rec.Code)
}
