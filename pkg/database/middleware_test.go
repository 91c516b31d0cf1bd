package database_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tenantguard/pkg/auth"
	"github.com/ekaya-inc/tenantguard/pkg/database"
	"github.com/ekaya-inc/tenantguard/pkg/retry"
	"github.com/ekaya-inc/tenantguard/pkg/tenant"
	"github.com/ekaya-inc/tenantguard/pkg/testhelpers"
)

var noRetry = &retry.Config{MaxRetries: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

func tenantRequest(tc tenant.Context) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/notes", nil)
	return req.WithContext(auth.WithTenant(req.Context(), tc))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body["error"]
}

func TestWithTenantLease_BindsForHandlerAndReleasesAfter(t *testing.T) {
	pool, store := newTestPool(1)
	org := uuid.New()
	mw := database.WithTenantLease(pool, noRetry, zap.NewNop())

	var connID uint32
	handler := mw(func(w http.ResponseWriter, r *http.Request) {
		lease := database.MustLease(r.Context())
		connID = lease.ConnID()
		sess, _ := store.Session(connID)
		assert.Equal(t, org.String(), sess.OrgID)
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	handler(rec, tenantRequest(tenant.New(org, uuid.New(), false)))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, store.InUse())
	sess, _ := store.Session(connID)
	assert.True(t, sess.Cleared())
}

func TestWithTenantLease_ReleasesWhenHandlerPanics(t *testing.T) {
	pool, store := newTestPool(1)
	mw := database.WithTenantLease(pool, noRetry, zap.NewNop())

	handler := mw(func(w http.ResponseWriter, r *http.Request) {
		panic("handler bug")
	})

	assert.Panics(t, func() {
		handler(httptest.NewRecorder(), tenantRequest(tenant.New(uuid.New(), uuid.New(), false)))
	})
	assert.Equal(t, 0, store.InUse())
	assert.Equal(t, int64(1), pool.Stats().Released)
}

func TestWithTenantLease_MissingTenant(t *testing.T) {
	pool, store := newTestPool(1)
	called := false
	handler := database.WithTenantLease(pool, noRetry, zap.NewNop())(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/notes", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Zero(t, store.Acquires())
}

func TestWithTenantLease_EmptyTenantForbidden(t *testing.T) {
	pool, store := newTestPool(1)
	handler := database.WithTenantLease(pool, noRetry, zap.NewNop())(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	rec := httptest.NewRecorder()
	handler(rec, tenantRequest(tenant.Context{}))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", errorCode(t, rec))
	assert.Zero(t, store.Acquires())
}

func TestWithTenantLease_ExhaustedReturns503(t *testing.T) {
	store := testhelpers.NewFakeStore(1)
	pool := database.NewScopedPool(store, database.PoolConfig{AcquireTimeout: 10 * time.Millisecond}, zap.NewNop())

	held, err := pool.AcquirePublic(context.Background(), 0)
	require.NoError(t, err)
	defer held.Release(context.Background())

	handler := database.WithTenantLease(pool, noRetry, zap.NewNop())(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	rec := httptest.NewRecorder()
	handler(rec, tenantRequest(tenant.New(uuid.New(), uuid.New(), false)))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "unavailable", errorCode(t, rec))
}

func TestWithTenantLease_RetriesUntilCapacityFrees(t *testing.T) {
	store := testhelpers.NewFakeStore(1)
	pool := database.NewScopedPool(store, database.PoolConfig{AcquireTimeout: 10 * time.Millisecond}, zap.NewNop())
	cfg := &retry.Config{MaxRetries: 5, InitialDelay: 20 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 1}

	held, err := pool.AcquirePublic(context.Background(), 0)
	require.NoError(t, err)
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = held.Release(context.Background())
	}()

	handler := database.WithTenantLease(pool, cfg, zap.NewNop())(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	handler(rec, tenantRequest(tenant.New(uuid.New(), uuid.New(), false)))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWithTenantLease_BindFailureIsNotRetried(t *testing.T) {
	pool, store := newTestPool(1)
	store.FailNextBind(1)

	handler := database.WithTenantLease(pool, retry.DefaultConfig(), zap.NewNop())(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	rec := httptest.NewRecorder()
	handler(rec, tenantRequest(tenant.New(uuid.New(), uuid.New(), false)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "database_error", errorCode(t, rec))
	assert.Equal(t, int64(1), store.Discarded())
	assert.Equal(t, int64(1), store.Acquires())
}

func TestWithTenantLease_DeadlineDuringBindIsRetried(t *testing.T) {
	store := testhelpers.NewFakeStore(1)
	pool := database.NewScopedPool(store, database.PoolConfig{AcquireTimeout: 20 * time.Millisecond}, zap.NewNop())
	cfg := &retry.Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	store.DelayNextBind(time.Second)

	handler := database.WithTenantLease(pool, cfg, zap.NewNop())(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	handler(rec, tenantRequest(tenant.New(uuid.New(), uuid.New(), false)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), store.Discarded())
	assert.Equal(t, int64(2), store.Acquires())
}

func TestWithTenantLease_DeadlineDuringBindReturns503(t *testing.T) {
	store := testhelpers.NewFakeStore(1)
	pool := database.NewScopedPool(store, database.PoolConfig{AcquireTimeout: 20 * time.Millisecond}, zap.NewNop())
	store.DelayNextBind(time.Second)

	handler := database.WithTenantLease(pool, noRetry, zap.NewNop())(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	rec := httptest.NewRecorder()
	handler(rec, tenantRequest(tenant.New(uuid.New(), uuid.New(), false)))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "unavailable", errorCode(t, rec))
}

func TestWithTenantLease_ConnectFailureIsNotRetried(t *testing.T) {
	pool, store := newTestPool(1)
	store.FailNextAcquire(1)

	handler := database.WithTenantLease(pool, retry.DefaultConfig(), zap.NewNop())(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	rec := httptest.NewRecorder()
	handler(rec, tenantRequest(tenant.New(uuid.New(), uuid.New(), false)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "database_error", errorCode(t, rec))
	assert.Zero(t, store.Opened())
}

func TestWithPublicLease(t *testing.T) {
	pool, store := newTestPool(1)
	store.SeedNote(uuid.New(), "private")

	var seen int64 = -1
	handler := database.WithPublicLease(pool, noRetry, zap.NewNop())(func(w http.ResponseWriter, r *http.Request) {
		lease, ok := database.PublicLeaseFromContext(r.Context())
		require.True(t, ok)
		_, hasTenantLease := database.LeaseFromContext(r.Context())
		assert.False(t, hasTenantLease)
		seen = countNotes(t, lease.Conn())
	})

	handler(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Zero(t, seen)
	assert.Equal(t, 0, store.InUse())
}

func TestMustLease_PanicsWithoutMiddleware(t *testing.T) {
	assert.Panics(t, func() { database.MustLease(context.Background()) })
}
