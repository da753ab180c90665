// Package apiutil provides shared JSON response helpers for the Fechatter
// REST API. internal/httpapi and the edge gateway import this package
// instead of duplicating writeJSON / writeError / writeNoContent in every
// handler file.
package apiutil

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fechatter/fechatter/internal/middleware"
	"github.com/fechatter/fechatter/internal/models"
)

// ErrorResponse is the standard error envelope returned by the API:
// {"code": ..., "message": ..., "request_id": ...}.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorBody is retained as an alias for callers that still build the pieces
// separately before handing them to WriteError.
type ErrorBody = ErrorResponse

// SuccessResponse is the standard success envelope returned by the API.
type SuccessResponse struct {
	Data interface{} `json:"data"`
}

// WriteJSON writes a JSON response with the given status code and data wrapped
// in the standard success envelope {"data": ...}.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(SuccessResponse{Data: data})
}

// WriteJSONRaw writes a JSON response with the given status code without
// wrapping in the success envelope. Useful for responses that define their own
// structure.
func WriteJSONRaw(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error response with the given status code, error
// code, and message using the standard error envelope
// {"code": ..., "message": ..., "request_id": ...}. The request ID is pulled
// from r's context, where the correlation-ID middleware places it.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:      code,
		Message:   message,
		RequestID: middleware.GetCorrelationID(r.Context()),
	})
}

// WriteNoContent writes a 204 No Content response with no body.
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// DecodeJSON reads JSON from the request body into dst. On failure it writes a
// 400 error response and returns false so the caller can return early.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_body", "invalid request body")
		return false
	}
	return true
}

// InternalError logs the error and writes a generic 500 response. The msg
// parameter is used both as the log message and the user-facing message.
func InternalError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, msg string, err error) {
	logger.Error(msg, slog.String("error", err.Error()), slog.String("request_id", middleware.GetCorrelationID(r.Context())))
	WriteError(w, r, http.StatusInternalServerError, "internal_error", msg)
}

// WriteServiceError writes the wire response for a service-layer error. Any
// *models.Error carries its own Kind/Code/Message; any other error is logged
// with logger and returned to the client as an opaque Internal error.
func WriteServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var svcErr *models.Error
	if !asModelsError(err, &svcErr) {
		InternalError(w, r, logger, "unexpected error", err)
		return
	}
	if svcErr.Kind == models.KindInternal {
		logger.Error(svcErr.Message, slog.String("error", svcErr.Error()), slog.String("request_id", middleware.GetCorrelationID(r.Context())))
	}
	WriteError(w, r, svcErr.Kind.HTTPStatus(), svcErr.WireCode(), svcErr.Message)
}

func asModelsError(err error, target **models.Error) bool {
	for err != nil {
		if e, ok := err.(*models.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// WithTx runs fn inside a database transaction. It begins a transaction, calls
// fn, and commits if fn returns nil. If fn returns an error or panics, the
// transaction is rolled back. Post-commit work (event publishing, writing the
// HTTP response) should happen after WithTx returns nil.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
