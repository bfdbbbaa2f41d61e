package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
//   writeJSON(w, http.StatusOK, data)
//   writeError(w, r, err)
//
// CONSISTENT ERROR FORMAT:
// Every error response from our API has the same shape:
//   {"error": "not_found", "message": "snippet not found with id 42"}
//
// Upstream failures worth retrying (timeouts, 5xx from the content store)
// add "retryable": true.
//
// ONE STATUS FOR BUSINESS ERRORS:
// Clients of this API branch on the message, not the status code. Every
// *apperror.AppError therefore becomes 400 with its message intact; the
// "error" field still tells the kinds apart. Only errors the service did
// not classify become 500, and their text is never sent to the client.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/snippet-manager/internal/apperror"
	"github.com/sakif/snippet-manager/internal/auth"
	"github.com/sakif/snippet-manager/internal/correlation"
)

// maxBodyBytes bounds request bodies; snippet code is capped well below it.
const maxBodyBytes = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // Machine-readable error type (e.g., "not_found")
	Message   string `json:"message"`             // Human-readable description
	Retryable bool   `json:"retryable,omitempty"` // The same request may succeed later
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set before the body is written; once Encode
// writes, later header changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a service error to the HTTP response.
//
// errors.As walks the chain, so an AppError wrapped by the service with
// fmt.Errorf("...: %w", err) is still found.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:     kind(err),
			Message:   appErr.Message,
			Retryable: apperror.IsRetryable(err),
		})
		return
	}

	slog.Error("unhandled error",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
		correlation.Attr(r.Context()),
	)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

func kind(err error) string {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return "validation_error"
	case errors.Is(err, apperror.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperror.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, apperror.ErrConflict):
		return "conflict"
	case errors.Is(err, apperror.ErrUpstream):
		return "upstream_error"
	case errors.Is(err, apperror.ErrMalformed):
		return "malformed"
	default:
		return "error"
	}
}

// decodeJSON reads a JSON body into dst. An empty body is allowed when
// optional is true and leaves dst untouched.
func decodeJSON(r *http.Request, w http.ResponseWriter, dst any, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperror.ValidationFailed("body", fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		}
		return apperror.ValidationFailed("body", "invalid JSON body")
	}
	return nil
}

// pathID parses the {id} URL parameter.
func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.ValidationFailed("id", fmt.Sprintf("invalid snippet id %q", raw))
	}
	return id, nil
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.ValidationFailed(name, fmt.Sprintf("%s must be an integer", name))
	}
	return n, nil
}

// requester returns the authenticated caller. Routes are mounted behind
// auth.RequireAuth, so a missing email is a wiring bug.
func requester(w http.ResponseWriter, r *http.Request) (string, bool) {
	email, ok := auth.EmailFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "valid authentication required",
		})
	}
	return email, ok
}
