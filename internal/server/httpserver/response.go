package httpserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dmitrijs2005/vidtube/internal/apperr"
	"github.com/dmitrijs2005/vidtube/internal/logging"
)

// SuccessEnvelope wraps every successful response body.
type SuccessEnvelope struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

// ErrorEnvelope wraps every failure. Errors lists per-field problems, if any.
type ErrorEnvelope struct {
	StatusCode int      `json:"statusCode"`
	Message    string   `json:"message"`
	Success    bool     `json:"success"`
	Errors     []string `json:"errors"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondOK(w http.ResponseWriter, status int, data any, message string) {
	if data == nil {
		data = struct{}{}
	}
	writeJSON(w, status, SuccessEnvelope{StatusCode: status, Data: data, Message: message, Success: true})
}

// respondError renders err in the failure envelope. Internal causes are logged,
// never written.
func respondError(ctx context.Context, w http.ResponseWriter, log logging.Logger, err error, details ...string) {
	ae := apperr.From(err)
	status := ae.StatusCode()
	if ae.Kind == apperr.KindInternal {
		log.Error(ctx, "request failed", "error", err)
	} else {
		log.Debug(ctx, "request rejected", "kind", ae.Kind.String(), "error", err)
	}
	if details == nil {
		details = []string{}
	}
	writeJSON(w, status, ErrorEnvelope{StatusCode: status, Message: ae.Message, Success: false, Errors: details})
}
