package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/invoice-sync/internal/errors"
	"github.com/invoice-sync/internal/logging"
	"github.com/invoice-sync/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// NoOpResponse is returned when the requested work had already been done
type NoOpResponse struct {
	NoOp    bool                   `json:"noop"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondServiceError renders err with its categorized status. No-op outcomes
// are not failures and are rendered as 200.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	catErr := apperrors.Categorize(err)

	if apperrors.IsNoOp(err) {
		respondJSON(w, http.StatusOK, NoOpResponse{
			NoOp:    true,
			Code:    catErr.Code,
			Message: catErr.Message,
			Details: catErr.Details,
		})
		return
	}

	message := catErr.Message
	if catErr.StatusCode >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("Request failed")
		if catErr.Category == apperrors.CategorySystem || catErr.Category == apperrors.CategoryDatabase {
			message = "An internal error occurred"
		}
	}
	respondError(w, catErr.StatusCode, catErr.Code, message, catErr.Details)
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// Common error codes
const (
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeRateLimited  = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)
