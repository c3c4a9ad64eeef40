package response_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tommypj/ai-content-saas-backend/internal/api/response"
)

func TestEnvelopes(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
		body   string
	}{
		{
			name:   "job view",
			write:  func(w http.ResponseWriter) { response.JSON(w, map[string]string{"status": "PENDING"}) },
			status: http.StatusOK,
			body:   `{"data":{"status":"PENDING"}}`,
		},
		{
			name:   "accepted job",
			write:  func(w http.ResponseWriter) { response.Created(w, map[string]string{"id": "abc"}) },
			status: http.StatusCreated,
			body:   `{"data":{"id":"abc"}}`,
		},
		{
			name: "error with details",
			write: func(w http.ResponseWriter) {
				response.Error(w, http.StatusBadRequest, "UNSUPPORTED_TYPE", "Unsupported job type",
					map[string][]string{"supported": {"KEYWORDS", "ARTICLE"}})
			},
			status: http.StatusBadRequest,
			body:   `{"error":{"code":"UNSUPPORTED_TYPE","message":"Unsupported job type","details":{"supported":["KEYWORDS","ARTICLE"]}}}`,
		},
		{
			name: "error without details",
			write: func(w http.ResponseWriter) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
			},
			status: http.StatusNotFound,
			body:   `{"error":{"code":"JOB_NOT_FOUND","message":"Job not found"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.body, w.Body.String())
		})
	}
}
