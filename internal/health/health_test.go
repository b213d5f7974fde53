package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type stubPool struct{ active, capacity int }

func (p stubPool) Active() int { return p.active }
func (p stubPool) Capacity() int { return p.capacity }

func TestHealthChecker_Healthy(t *testing.T) {
	hc := NewHealthChecker(stubPinger{}, stubPool{active: 1, capacity: 4}, nil)

	results, healthy := hc.CheckHealth()
	assert.True(t, healthy)
	assert.Equal(t, "OK", results["store"])
	assert.Equal(t, "1/4", results["watchers"])

	rec := httptest.NewRecorder()
	hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthChecker_StoreDown(t *testing.T) {
	hc := NewHealthChecker(stubPinger{err: errors.New("connection refused")}, nil, nil)

	results, healthy := hc.CheckHealth()
	assert.False(t, healthy)
	assert.Contains(t, results["store"], "connection refused")

	rec := httptest.NewRecorder()
	hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPoolCheck(t *testing.T) {
	require.NoError(t, PoolCheck(stubPool{active: 3, capacity: 4})())
	assert.Error(t, PoolCheck(stubPool{active: 4, capacity: 4})())
}
