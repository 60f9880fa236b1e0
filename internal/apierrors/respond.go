package apierrors

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
)

// envelopeError is the wire shape of the REST surface's error envelope (§7):
// { error: { message, type, statusCode, details?, code? } }.
type envelopeError struct {
	Message    string      `json:"message"`
	Type       Kind        `json:"type"`
	StatusCode int         `json:"statusCode"`
	Details    []FieldError `json:"details,omitempty"`
	Code       string      `json:"code,omitempty"`
}

// WriteJSON writes data under the REST surface's {data} envelope.
func WriteJSON(w http.ResponseWriter, log zerolog.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// WriteError renders err under the REST surface's {error} envelope,
// mapping *Error kinds to their declared HTTP status and falling back to 500
// for anything that isn't a recognized *Error.
func WriteError(w http.ResponseWriter, log zerolog.Logger, err error) {
	apiErr, ok := As(err)
	if !ok {
		apiErr = Internal(err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.StatusCode())

	body := envelopeError{
		Message:    apiErr.Message,
		Type:       apiErr.Kind,
		StatusCode: apiErr.StatusCode(),
		Details:    apiErr.Details,
		Code:       apiErr.Code,
	}
	if encErr := json.NewEncoder(w).Encode(map[string]interface{}{"error": body}); encErr != nil {
		log.Error().Err(encErr).Msg("failed to encode error response")
	}
}
