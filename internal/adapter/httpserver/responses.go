package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a domain sentinel error to an HTTP status and envelope
// (§7: input-validation errors are the only HTTP 4xx path; everything else
// the pipelines themselves absorb into ProductVerdict/Job state).
func writeError(w http.ResponseWriter, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInputInvalid):
		code = http.StatusBadRequest
		codeStr = "INPUT_INVALID"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrShutdown):
		code = http.StatusServiceUnavailable
		codeStr = "SHUTDOWN"
	case errors.Is(err, domain.ErrFetchFailed):
		code = http.StatusBadGateway
		codeStr = "FETCH_FAILED"
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error(), Details: details}})
}
