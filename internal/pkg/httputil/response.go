package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
)

// ErrorResponse is the standard error envelope for all API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// JSON writes data with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("json encode failed", "error", err)
	}
}

func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, message)
}

func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, message)
}

// InternalError logs err and returns a generic 500.
func InternalError(w http.ResponseWriter, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal server error")
}

// Classify maps a domain error to an HTTP status and a stable code.
func Classify(err error) (int, string) {
	var (
		notFound   *domain.NotFoundError
		validation *domain.ValidationError
		transition *domain.InvalidTransitionError
		dialog     *domain.DialogStateError
		unknown    *domain.UnknownActionTypeError
	)
	switch {
	case errors.As(err, &notFound), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict, "version_conflict"
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.As(err, &transition):
		return http.StatusConflict, "invalid_transition"
	case errors.As(err, &dialog):
		return http.StatusConflict, "dialog_state"
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity, "validation"
	case errors.As(err, &unknown):
		return http.StatusUnprocessableEntity, "unknown_action_type"
	}
	return http.StatusInternalServerError, ""
}

// DomainError writes err with the status Classify picks. Unclassified
// errors are logged and reported as a generic 500.
func DomainError(w http.ResponseWriter, err error) {
	status, code := Classify(err)
	if status == http.StatusInternalServerError {
		InternalError(w, err)
		return
	}
	JSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

// Decode reads JSON from the request body into dst, writing a 400 and
// returning false if it cannot.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		BadRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	return true
}
