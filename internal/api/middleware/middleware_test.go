package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mw "github.com/tommypj/ai-content-saas-backend/internal/api/middleware"
	"github.com/tommypj/ai-content-saas-backend/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// --- Mock Key Store ---

type mockKeyStore struct {
	keys []*models.APIKey
	err  error

	mu   sync.Mutex
	used []uuid.UUID
}

func (m *mockKeyStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return m.keys, m.err
}

func (m *mockKeyStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used = append(m.used, id)
	return nil
}

func (m *mockKeyStore) usedIDs() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.used...)
}

// --- Mock Counter ---

type mockCounter struct {
	counter int64
	err     error
	keys    []string
}

func (m *mockCounter) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.keys = append(m.keys, key)
	m.counter++
	return m.counter, m.err
}

// --- helpers ---

func okHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

func principalHandler(got *string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		*got, _ = mw.GetPrincipal(r)
		w.WriteHeader(http.StatusOK)
	}
}

func hashKey(t *testing.T, rawKey string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func validClaims(sub string) *mw.Claims {
	return &mw.Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   sub,
		Issuer:    "content-auth",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
}

func errBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"].(map[string]any)
}

func serve(h http.Handler, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// ========================================
// Auth Middleware Tests
// ========================================

func TestAuth_MissingAuthHeader(t *testing.T) {
	auth := mw.NewAuth(&mockKeyStore{}, testSecret, "")
	w := serve(auth.Authenticate(okHandler()), "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_TOKEN", errBody(t, w)["code"])
}

func TestAuth_InvalidBearerFormat(t *testing.T) {
	auth := mw.NewAuth(&mockKeyStore{}, testSecret, "")
	w := serve(auth.Authenticate(okHandler()), "Basic abc123")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_JWT_Valid(t *testing.T) {
	auth := mw.NewAuth(&mockKeyStore{}, testSecret, "content-auth")
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims("user-42"))

	var got string
	w := serve(auth.Authenticate(principalHandler(&got)), "Bearer "+token)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-42", got)
}

func TestAuth_JWT_UserIDClaimFallback(t *testing.T) {
	auth := mw.NewAuth(&mockKeyStore{}, testSecret, "")
	claims := &mw.Claims{
		UserID:           "user-7",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), claims)

	var got string
	w := serve(auth.Authenticate(principalHandler(&got)), "Bearer "+token)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-7", got)
}

func TestAuth_JWT_Rejected(t *testing.T) {
	expired := validClaims("user-1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	noExpiry := validClaims("user-1")
	noExpiry.ExpiresAt = nil

	noSubject := validClaims("")

	tests := []struct {
		name  string
		token func(t *testing.T) string
	}{
		{"wrong secret", func(t *testing.T) string {
			return signToken(t, jwt.SigningMethodHS256, []byte("another-secret-another-secret-xx"), validClaims("user-1"))
		}},
		{"wrong algorithm", func(t *testing.T) string {
			return signToken(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims("user-1"))
		}},
		{"expired", func(t *testing.T) string {
			return signToken(t, jwt.SigningMethodHS256, []byte(testSecret), expired)
		}},
		{"no expiry", func(t *testing.T) string {
			return signToken(t, jwt.SigningMethodHS256, []byte(testSecret), noExpiry)
		}},
		{"no subject", func(t *testing.T) string {
			return signToken(t, jwt.SigningMethodHS256, []byte(testSecret), noSubject)
		}},
		{"garbage", func(*testing.T) string { return "not.a.jwt" }},
	}
	auth := mw.NewAuth(&mockKeyStore{}, testSecret, "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(auth.Authenticate(okHandler()), "Bearer "+tt.token(t))
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "INVALID_TOKEN", errBody(t, w)["code"])
		})
	}
}

func TestAuth_JWT_WrongIssuer(t *testing.T) {
	auth := mw.NewAuth(&mockKeyStore{}, testSecret, "other-issuer")
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims("user-1"))

	w := serve(auth.Authenticate(okHandler()), "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_APIKey_TooShort(t *testing.T) {
	auth := mw.NewAuth(&mockKeyStore{}, testSecret, "")
	w := serve(auth.Authenticate(okHandler()), "Bearer cf_short")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_APIKey_NotFound(t *testing.T) {
	auth := mw.NewAuth(&mockKeyStore{keys: []*models.APIKey{}}, testSecret, "")
	w := serve(auth.Authenticate(okHandler()), "Bearer cf_test1234567890")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_APIKey_LookupError(t *testing.T) {
	auth := mw.NewAuth(&mockKeyStore{err: errors.New("db down")}, testSecret, "")
	w := serve(auth.Authenticate(okHandler()), "Bearer cf_test1234567890")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errBody(t, w)["code"])
}

func TestAuth_APIKey_WrongSecret(t *testing.T) {
	rawKey := "cf_test1234567890abcdef"
	ks := &mockKeyStore{keys: []*models.APIKey{{
		ID:        uuid.New(),
		UserID:    "user-1",
		KeyHash:   hashKey(t, "cf_test1different_key"),
		KeyPrefix: rawKey[:8],
	}}}
	auth := mw.NewAuth(ks, testSecret, "")
	w := serve(auth.Authenticate(okHandler()), "Bearer "+rawKey)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_APIKey_Valid(t *testing.T) {
	rawKey := "cf_test1234567890abcdef"
	keyID := uuid.New()
	ks := &mockKeyStore{keys: []*models.APIKey{{
		ID:        keyID,
		UserID:    "user-9",
		KeyHash:   hashKey(t, rawKey),
		KeyPrefix: rawKey[:8],
	}}}
	auth := mw.NewAuth(ks, testSecret, "")

	var got string
	w := serve(auth.Authenticate(principalHandler(&got)), "Bearer "+rawKey)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-9", got)
	assert.Eventually(t, func() bool {
		used := ks.usedIDs()
		return len(used) == 1 && used[0] == keyID
	}, time.Second, 10*time.Millisecond)
}

// ========================================
// Rate Limit Middleware Tests
// ========================================

func withPrincipal(h http.Handler, principal string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(mw.SetPrincipal(r.Context(), principal)))
	})
}

func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	mc := &mockCounter{}
	rl := mw.NewRateLimit(mc, 60)

	w := serve(withPrincipal(rl.Limit(okHandler()), "user-1"), "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "60", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "59", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	require.Len(t, mc.keys, 1)
	assert.Contains(t, mc.keys[0], "ratelimit:user-1:")
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	mc := &mockCounter{counter: 60}
	rl := mw.NewRateLimit(mc, 60)

	w := serve(withPrincipal(rl.Limit(okHandler()), "user-1"), "")

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errBody(t, w)["code"])
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Positive(t, retryAfter)
	assert.LessOrEqual(t, retryAfter, 61)
}

func TestRateLimit_FailsOpen(t *testing.T) {
	rl := mw.NewRateLimit(&mockCounter{err: errors.New("redis down")}, 60)

	w := serve(withPrincipal(rl.Limit(okHandler()), "user-1"), "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimit_PassThrough(t *testing.T) {
	t.Run("no principal", func(t *testing.T) {
		mc := &mockCounter{}
		w := serve(mw.NewRateLimit(mc, 60).Limit(okHandler()), "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, mc.keys)
	})
	t.Run("no counter", func(t *testing.T) {
		w := serve(withPrincipal(mw.NewRateLimit(nil, 60).Limit(okHandler()), "user-1"), "")
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

// ========================================
// Recovery Middleware Tests
// ========================================

func TestRecovery_CatchesPanic(t *testing.T) {
	panicking := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic("something went wrong")
	})

	w := serve(mw.Recovery(panicking), "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errBody(t, w)["code"])
}

func TestRecovery_NoPanic(t *testing.T) {
	w := serve(mw.Recovery(okHandler()), "")
	assert.Equal(t, http.StatusOK, w.Code)
}

// ========================================
// Logging Middleware Tests
// ========================================

func TestLogger_SetsStatus(t *testing.T) {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Get("/test", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	w := serve(r, "")
	assert.Equal(t, http.StatusTeapot, w.Code)
}
