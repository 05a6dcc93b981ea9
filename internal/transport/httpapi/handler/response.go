package handler

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/savichev/finparse/internal/shared/errors"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// respondWithError sends an error response
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

// respondWithAppError maps domain error codes onto HTTP statuses. Pipeline
// failures (exhaustion, generation) are the statement's fault, not the
// server's, so they come back as 422.
func respondWithAppError(w http.ResponseWriter, err error) {
	appErr := apperrors.GetAppError(err)
	if appErr == nil {
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Code {
	case apperrors.ErrCodeBadRequest, apperrors.ErrCodeValidation:
		status = http.StatusBadRequest
	case apperrors.ErrCodeUnauthorized:
		status = http.StatusUnauthorized
	case apperrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeParserExhausted, apperrors.ErrCodeGenerationFailed,
		apperrors.ErrCodeTotalsMismatch, apperrors.ErrCodeOutputMalformed,
		apperrors.ErrCodeSandboxRejected, apperrors.ErrCodeSandboxTimeout,
		apperrors.ErrCodeSandboxRuntime:
		status = http.StatusUnprocessableEntity
	}

	respondWithJSON(w, status, ErrorResponse{Error: appErr.Message, Code: appErr.Code})
}
