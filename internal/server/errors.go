package server

import (
	"errors"
	"net/http"

	"github.com/ashita-ai/hakari/internal/model"
	"github.com/ashita-ai/hakari/internal/service/experiments"
	"github.com/ashita-ai/hakari/internal/service/ledger"
	"github.com/ashita-ai/hakari/internal/service/registry"
	"github.com/ashita-ai/hakari/internal/service/router"
	"github.com/ashita-ai/hakari/internal/storage"
)

// errorMapping classifies a service error for the HTTP boundary.
type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: the first match wins.
var errorMappings = []errorMapping{
	{router.ErrInvalidFilter, http.StatusBadRequest, model.ErrCodeInvalidInput},
	{router.ErrUnavailable, http.StatusBadRequest, model.ErrCodeUnavailable},
	{router.ErrAmbiguous, http.StatusBadRequest, model.ErrCodeAmbiguous},
	{router.ErrPrediction, http.StatusBadRequest, model.ErrCodePrediction},
	{router.ErrNoFeedback, http.StatusBadRequest, model.ErrCodeInvalidInput},
	{ledger.ErrInvalidStatus, http.StatusBadRequest, model.ErrCodeInvalidInput},
	{experiments.ErrInvalidInput, http.StatusBadRequest, model.ErrCodeInvalidInput},
	{experiments.ErrInsufficientData, http.StatusBadRequest, model.ErrCodeInsufficientData},
	{storage.ErrNotFound, http.StatusNotFound, model.ErrCodeNotFound},
	{storage.ErrReferenced, http.StatusConflict, model.ErrCodeConflict},
	{storage.ErrConflict, http.StatusServiceUnavailable, model.ErrCodeRetryable},
}

// writeServiceError maps err to a status and error code. Unclassified
// errors and unbound algorithms are logged and reported as 500 without
// detail.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			if m.status == http.StatusServiceUnavailable {
				w.Header().Set("Retry-After", "1")
			}
			writeError(w, r, m.status, m.code, err.Error())
			return
		}
	}

	msg := "internal error"
	if errors.Is(err, registry.ErrNotBound) {
		msg = "algorithm is registered but not loaded"
	}
	h.writeInternalError(w, r, msg, err)
}

// writeInternalError logs err at error level and writes a generic 500.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg,
		"error", err,
		"path", r.URL.Path,
		"request_id", RequestIDFromContext(r.Context()),
	)
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}
