package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edvin/hosting/internal/core"
)

func withKeyID(keyID string) *http.Request {
	r := httptest.NewRequest("POST", "/deployments", nil)
	return r.WithContext(ContextWithIdentity(r.Context(), core.Identity{KeyID: keyID}))
}

func TestRateLimiter_AllowsBurstThenRejects(t *testing.T) {
	rl := NewRateLimiter()
	handler := rl.Limit("registry-deploy", 5)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, withKeyID("key-1"))
		assert.Equal(t, http.StatusCreated, rec.Code, "request %d should be allowed within burst", i)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withKeyID("key-1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimiter_SeparateKeysIndependentBudgets(t *testing.T) {
	rl := NewRateLimiter()
	handler := rl.Limit("git-deploy", 3)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, withKeyID("key-a"))
		assert.Equal(t, http.StatusCreated, rec.Code)
	}

	// key-a is now exhausted, but key-b's budget is untouched.
	recA := httptest.NewRecorder()
	handler.ServeHTTP(recA, withKeyID("key-a"))
	assert.Equal(t, http.StatusTooManyRequests, recA.Code)

	recB := httptest.NewRecorder()
	handler.ServeHTTP(recB, withKeyID("key-b"))
	assert.Equal(t, http.StatusCreated, recB.Code)
}

func TestRateLimiter_SeparateBucketsIndependentBudgets(t *testing.T) {
	rl := NewRateLimiter()
	registryHandler := rl.Limit("registry-deploy", 5)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	gitHandler := rl.Limit("git-deploy", 3)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		gitHandler.ServeHTTP(rec, withKeyID("key-1"))
		assert.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := httptest.NewRecorder()
	gitHandler.ServeHTTP(rec, withKeyID("key-1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "git-deploy budget should be exhausted")

	// registry-deploy traffic for the same key is unaffected.
	rec = httptest.NewRecorder()
	registryHandler.ServeHTTP(rec, withKeyID("key-1"))
	assert.Equal(t, http.StatusCreated, rec.Code)
}
