// Package handler serves the bet API. Handlers depend on narrow interfaces
// over the betting service and translate domain errors into HTTP status
// codes.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/betcoon/internal/domain"
	"github.com/alanyoungcy/betcoon/internal/server/middleware"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 16

// writeJSON marshals v and writes it with status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError sends {"error": msg}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps a domain error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidParameters):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrNothingToClaim):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrBetClosed), errors.Is(err, domain.ErrPastCutoff),
		errors.Is(err, domain.ErrAlreadyClaimed), errors.Is(err, domain.ErrNotSettled):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTooEarly):
		return http.StatusTooEarly
	case errors.Is(err, domain.ErrOracleUnavailable), errors.Is(err, domain.ErrLockHeld):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrTransferUnknown):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrTransferFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError maps err to a status. Internal errors are logged and
// hidden from the client.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
		writeError(w, status, op+" failed")
		return
	}
	if domain.IsRetryable(err) {
		w.Header().Set("Retry-After", "5")
	}
	writeError(w, status, err.Error())
}

// decodeBody decodes a JSON body, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// betID parses the {id} path value.
func betID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid bet id")
		return 0, false
	}
	return id, true
}

// caller returns the authenticated caller or writes 401.
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing "+middleware.HeaderCaller+" header")
		return "", false
	}
	return id, true
}

// page extracts limit/offset. Defaults: limit=50 (max 500), offset=0.
func page(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit = 50
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}
	return limit, offset
}
