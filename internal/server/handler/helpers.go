package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/amadeodlp/cryptara/internal/domain"
	"github.com/amadeodlp/cryptara/internal/server/middleware"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string      `json:"error"`
	Kind  domain.Kind `json:"kind"`
}

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error","kind":"internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, kind domain.Kind, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Kind: kind})
}

// writeDomainError maps err to a status code by its kind. Internal errors
// are logged and reported with a generic message.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	kind := domain.KindOf(err)
	status := statusForKind(kind)
	if kind == domain.KindInternal {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("user_id", middleware.UserID(r.Context())),
			slog.String("error", err.Error()),
		)
		writeError(w, status, kind, op+" failed")
		return
	}
	writeError(w, status, kind, publicMessage(err))
}

func statusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindInvalidArgument:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// publicSentinels are the errors whose text is safe to show callers.
var publicSentinels = []error{
	domain.ErrInvalidArgument,
	domain.ErrNoStakingProgram,
	domain.ErrInsufficientBalance,
	domain.ErrPositionNotFound,
	domain.ErrPositionNotActive,
	domain.ErrNotFound,
	domain.ErrUnauthorized,
	domain.ErrRateLimited,
}

// publicMessage strips package prefixes from err, keeping the sentinel text
// and whatever detail was attached to it.
func publicMessage(err error) string {
	for _, s := range publicSentinels {
		if errors.Is(err, s) {
			return innermost(err, s)
		}
	}
	return err.Error()
}

// innermost returns the text of the outermost wrapper whose message starts
// with the sentinel, e.g. "insufficient balance: have 1 ETH, need 2".
func innermost(err, sentinel error) string {
	msg := sentinel.Error()
	for e := err; e != nil; e = errors.Unwrap(e) {
		if s := e.Error(); len(s) >= len(msg) && s[:len(msg)] == msg {
			return s
		}
	}
	return msg
}

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %s", domain.ErrInvalidArgument, err.Error())
	}
	return nil
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// requireUser returns the authenticated user id or writes a 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := middleware.UserID(r.Context())
	if id == "" {
		writeError(w, http.StatusUnauthorized, domain.KindUnauthorized, "authentication required")
		return "", false
	}
	return id, true
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
