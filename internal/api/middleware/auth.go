package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tommypj/ai-content-saas-backend/internal/api/response"
	"github.com/tommypj/ai-content-saas-backend/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// APIKeyPrefix marks bearer tokens that are API keys rather than JWTs.
const APIKeyPrefix = "cf_"

// KeyPrefixLen is the number of leading key characters stored in clear for lookup.
const KeyPrefixLen = 8

// KeyStore is the subset of store.Store the auth middleware needs.
type KeyStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
}

// Claims are the JWT claims accepted from the identity service. The principal
// is the subject, or userId for tokens that do not set one.
type Claims struct {
	UserID string `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

// Auth resolves the request principal from a bearer JWT or API key.
type Auth struct {
	keys   KeyStore
	secret []byte
	issuer string
}

// NewAuth creates a new Auth middleware. JWTs must be HS256 signed with
// secret; when issuer is set it must match the iss claim.
func NewAuth(keys KeyStore, secret, issuer string) *Auth {
	return &Auth{keys: keys, secret: []byte(secret), issuer: issuer}
}

// Authenticate validates the Bearer token and sets the principal in the
// request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		var (
			principal string
			method    = "jwt"
			err       error
		)
		if strings.HasPrefix(token, APIKeyPrefix) {
			method = "api_key"
			principal, err = a.resolveAPIKey(r.Context(), token)
		} else {
			principal, err = a.resolveJWT(token)
		}

		switch {
		case errors.Is(err, errKeyLookup):
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate API key", nil)
			return
		case err != nil:
			slog.DebugContext(r.Context(), "authentication failed", "method", method, "error", err)
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid credentials", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(SetPrincipal(r.Context(), principal)))
	})
}

var (
	errKeyLookup   = errors.New("api key lookup failed")
	errInvalidKey  = errors.New("invalid api key")
	errNoPrincipal = errors.New("token has no subject")
)

func (a *Auth) resolveAPIKey(ctx context.Context, rawKey string) (string, error) {
	if len(rawKey) <= KeyPrefixLen {
		return "", errInvalidKey
	}
	prefix := rawKey[:KeyPrefixLen]

	keys, err := a.keys.GetAPIKeyByPrefix(ctx, prefix)
	if err != nil {
		return "", errKeyLookup
	}

	// Find matching key by bcrypt comparison
	for _, key := range keys {
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) == nil {
			go func(id uuid.UUID) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := a.keys.UpdateAPIKeyLastUsed(ctx, id); err != nil {
					slog.Warn("update api key last used", "key_id", id, "error", err)
				}
			}(key.ID)
			return key.UserID, nil
		}
	}
	return "", errInvalidKey
}

func (a *Auth) resolveJWT(raw string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}

	if claims.Subject != "" {
		return claims.Subject, nil
	}
	if claims.UserID != "" {
		return claims.UserID, nil
	}
	return "", errNoPrincipal
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
