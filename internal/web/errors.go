package web

// errors.go maps failures to HTTP responses. Every error body has the shape
// {"detail": "..."}; the technical cause is logged with the request id and
// never rewritten for the client beyond the detail text.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/csvreport/internal/logging"
	"github.com/JonMunkholm/csvreport/internal/mailer"
	"github.com/JonMunkholm/csvreport/internal/report"
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// respondError logs err and writes detail with statusCode.
func respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int, detail string) {
	logger := logging.FromContext(r.Context())

	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"kind", errorKind(err),
	}
	if err != nil {
		attrs = append(attrs, "error", err.Error())
	}

	if statusCode >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request rejected", attrs...)
	}

	writeDetail(w, statusCode, detail)
}

// respondInternal answers 500 with the error's own message as detail.
func respondInternal(w http.ResponseWriter, r *http.Request, err error) {
	respondError(w, r, err, http.StatusInternalServerError, "Erro interno: "+err.Error())
}

// errorKind classifies err for logs.
func errorKind(err error) string {
	var sendErr *mailer.SendError
	switch {
	case err == nil:
		return "validation"
	case report.IsInputError(err):
		return "csv"
	case errors.Is(err, mailer.ErrNotConfigured):
		return "config"
	case errors.As(err, &sendErr):
		if sendErr.IsAuthFailure() {
			return "smtp_auth"
		}
		return "smtp"
	default:
		return "internal"
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

// writeJSON encodes v as JSON and writes it to w.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
