package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/leadcrm/internal/common"
)

// envelope is the shape of every JSON response.
type envelope struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Data    any          `json:"data,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
}

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondOK(w http.ResponseWriter, status int, message string, data any) {
	respondJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string, fields []FieldError) {
	respondJSON(w, status, envelope{Success: false, Message: message, Errors: fields})
}

// statusFor maps a classified error to its HTTP status. Unclassified errors
// are internal.
func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as an envelope. Internal error details are only
// exposed in development mode.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	if status == http.StatusInternalServerError {
		h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "err", err)
		message := "Internal server error"
		if h.config.IsDevelopment() {
			message = err.Error()
		}
		writeError(w, status, message, nil)
		return
	}

	var re *requestError
	if errors.As(err, &re) {
		writeError(w, status, re.Error(), re.fields)
		return
	}

	fallback := http.StatusText(status)
	if errors.Is(err, common.ErrorNotFound) {
		fallback = "Not found"
	}
	writeError(w, status, common.PublicMessage(err, fallback), nil)
}
