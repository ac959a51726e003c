package usageapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katosuite/usagekit/pkg/jwt"
	"github.com/katosuite/usagekit/pkg/usageapi"
	"github.com/katosuite/usagekit/pkg/usagestore"
)

type fakeStore struct {
	snapshot    map[string]int64
	snapshotErr error

	totals map[string]int64
	incErr error

	lastWorkspace string
	lastResource  string
	lastAmount    int64
	lastKey       string
}

func (f *fakeStore) Snapshot(_ context.Context, workspaceID string) (map[string]int64, error) {
	f.lastWorkspace = workspaceID
	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}
	return f.snapshot, nil
}

func (f *fakeStore) Increment(_ context.Context, workspaceID, resource string, amount int64, key string) (int64, error) {
	f.lastWorkspace = workspaceID
	f.lastResource = resource
	f.lastAmount = amount
	f.lastKey = key
	if f.incErr != nil {
		return 0, f.incErr
	}
	return f.totals[resource], nil
}

func newAPI(t *testing.T, store *fakeStore, checks ...func(context.Context) error) (http.Handler, string) {
	t.Helper()

	svc, err := jwt.New([]byte("test-signing-key-0123456789abcdef"))
	require.NoError(t, err)
	token, err := svc.Generate(jwt.Claims{
		Subject:   "ws_7",
		Plan:      "starter",
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	return usageapi.Router(usageapi.NewHandler(store, nil), svc, checks...), token
}

func TestGetUsage(t *testing.T) {
	t.Parallel()

	t.Run("returns snapshot for token subject", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{snapshot: map[string]int64{"lesson_plans": 7, "reports": 2}}
		handler, token := newAPI(t, store)

		req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ws_7", store.lastWorkspace)

		var body struct {
			Usage map[string]struct {
				Used int64 `json:"used"`
			} `json:"usage"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, int64(7), body.Usage["lesson_plans"].Used)
		assert.Equal(t, int64(2), body.Usage["reports"].Used)
	})

	t.Run("requires authentication", func(t *testing.T) {
		t.Parallel()

		handler, _ := newAPI(t, &fakeStore{})

		req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("store failure maps to 500", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{snapshotErr: errors.New("pg down")}
		handler, token := newAPI(t, store)

		req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestIncrement(t *testing.T) {
	t.Parallel()

	t.Run("applies increment and returns authoritative total", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{totals: map[string]int64{"lesson_plans": 5}}
		handler, token := newAPI(t, store)

		req := httptest.NewRequest(http.MethodPost, "/v1/usage/increment",
			strings.NewReader(`{"resource":"lesson_plans","amount":2}`))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", "key-123")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ws_7", store.lastWorkspace)
		assert.Equal(t, "lesson_plans", store.lastResource)
		assert.Equal(t, int64(2), store.lastAmount)
		assert.Equal(t, "key-123", store.lastKey)

		var body struct {
			Resource string `json:"resource"`
			Used     int64  `json:"used"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "lesson_plans", body.Resource)
		assert.Equal(t, int64(5), body.Used)
	})

	t.Run("rejects invalid bodies", func(t *testing.T) {
		t.Parallel()

		handler, token := newAPI(t, &fakeStore{})

		for name, body := range map[string]string{
			"not json":         `{`,
			"missing resource": `{"amount":1}`,
			"zero amount":      `{"resource":"reports","amount":0}`,
			"negative amount":  `{"resource":"reports","amount":-3}`,
		} {
			req := httptest.NewRequest(http.MethodPost, "/v1/usage/increment", strings.NewReader(body))
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		}
	})

	t.Run("store amount rejection maps to 400", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{incErr: usagestore.ErrInvalidAmount}
		handler, token := newAPI(t, store)

		req := httptest.NewRequest(http.MethodPost, "/v1/usage/increment",
			strings.NewReader(`{"resource":"reports","amount":1}`))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("store failure maps to 500", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{incErr: errors.New("pg down")}
		handler, token := newAPI(t, store)

		req := httptest.NewRequest(http.MethodPost, "/v1/usage/increment",
			strings.NewReader(`{"resource":"reports","amount":1}`))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestHealth(t *testing.T) {
	t.Parallel()

	t.Run("ok when checks pass", func(t *testing.T) {
		t.Parallel()

		handler, _ := newAPI(t, &fakeStore{}, func(context.Context) error { return nil })

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	})

	t.Run("unavailable when a check fails", func(t *testing.T) {
		t.Parallel()

		handler, _ := newAPI(t, &fakeStore{},
			func(context.Context) error { return nil },
			func(context.Context) error { return errors.New("redis down") },
		)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
