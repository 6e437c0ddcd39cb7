package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"posbackoffice/backend/internal/store"
)

const (
	kindNotFound                   = "not_found"
	kindInsufficientStock          = "insufficient_stock"
	kindInsufficientAvailableStock = "insufficient_available_stock"
	kindOverRelease                = "over_release"
	kindInvalidInput               = "invalid_input"
	kindConflict                   = "conflict"
	kindInvalidState               = "invalid_state"
	kindStorageFailure             = "storage_failure"
	kindUnauthorized               = "unauthorized"
	kindForbidden                  = "forbidden"
	kindRateLimited                = "rate_limited"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

var errorKinds = []struct {
	err    error
	status int
	kind   string
}{
	{store.ErrNotFound, http.StatusNotFound, kindNotFound},
	{store.ErrInsufficientStock, http.StatusConflict, kindInsufficientStock},
	{store.ErrInsufficientAvailableStock, http.StatusConflict, kindInsufficientAvailableStock},
	{store.ErrOverRelease, http.StatusConflict, kindOverRelease},
	{store.ErrInvalidInput, http.StatusBadRequest, kindInvalidInput},
	{store.ErrConflict, http.StatusConflict, kindConflict},
	{store.ErrInvalidState, http.StatusConflict, kindInvalidState},
}

// classify maps an error to its HTTP status and machine-readable kind.
// Anything unrecognized is a storage failure.
func classify(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.status, k.kind
		}
	}
	return http.StatusInternalServerError, kindStorageFailure
}

func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	msg := err.Error()
	if status >= 500 {
		// Internal details stay in the log.
		a.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = "internal server error"
	}
	writeError(w, status, kind, msg)
}

func writeError(w http.ResponseWriter, status int, kind string, msg string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: msg}})
}
