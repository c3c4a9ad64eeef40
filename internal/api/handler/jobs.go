package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/tommypj/ai-content-saas-backend/internal/api/middleware"
	"github.com/tommypj/ai-content-saas-backend/internal/api/response"
	"github.com/tommypj/ai-content-saas-backend/internal/jobs"
	"github.com/tommypj/ai-content-saas-backend/internal/store"
	"github.com/tommypj/ai-content-saas-backend/pkg/models"
)

const maxBodyBytes = 1 << 20

// JobService defines the interface the job handlers depend on.
type JobService interface {
	Submit(ctx context.Context, principal string, body []byte) (uuid.UUID, error)
	Get(ctx context.Context, principal, rawID string) (*models.JobView, error)
}

type submitResponse struct {
	ID uuid.UUID `json:"id"`
}

// NewSubmitJobHandler returns an http.HandlerFunc for POST /jobs.
func NewSubmitJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := mw.GetPrincipal(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing principal", nil)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE",
					"Request body is too large", nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Could not read request body", nil)
			return
		}

		id, err := svc.Submit(r.Context(), principal, body)
		if err != nil {
			writeJobError(w, r, err)
			return
		}
		response.Created(w, submitResponse{ID: id})
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := mw.GetPrincipal(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing principal", nil)
			return
		}

		view, err := svc.Get(r.Context(), principal, chi.URLParam(r, "jobID"))
		if err != nil {
			writeJobError(w, r, err)
			return
		}
		response.JSON(w, view)
	}
}

func writeJobError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, jobs.ErrUnauthorized):
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing principal", nil)
	case errors.Is(err, jobs.ErrUnsupportedType):
		response.Error(w, http.StatusBadRequest, "UNSUPPORTED_TYPE", err.Error(),
			map[string][]string{"supported": jobs.SupportedTypes()})
	case errors.Is(err, jobs.ErrInvalidBody):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, jobs.ErrInvalidID):
		response.Error(w, http.StatusBadRequest, "INVALID_JOB_ID", "Job id must be a UUID", nil)
	case errors.Is(err, jobs.ErrNotFound):
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
	case errors.Is(err, store.ErrUnavailable):
		slog.ErrorContext(r.Context(), "job store unavailable", "error", err)
		response.Error(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE",
			"The job store is temporarily unavailable", nil)
	default:
		slog.ErrorContext(r.Context(), "job request failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
