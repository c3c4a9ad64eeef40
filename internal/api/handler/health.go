package handler

import (
	"context"
	"net/http"

	"github.com/tommypj/ai-content-saas-backend/internal/api/response"
)

// Pinger is anything the readiness probe can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health reports liveness only. The body is {"ok":true}, outside the data envelope.
func Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"ok":true}` + "\n"))
}

// NewReadyHandler checks database and cache connectivity. A nil cache is
// reported as disabled and does not degrade readiness.
func NewReadyHandler(db Pinger, c Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if c == nil {
			checks["cache"] = "disabled"
		} else if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		if checks["database"] == "degraded" || checks["cache"] == "degraded" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
