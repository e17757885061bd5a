package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/ashita-ai/hakari/internal/model"
)

// HandleListRequests handles GET /api/v1/requests.
func (h *Handlers) HandleListRequests(w http.ResponseWriter, r *http.Request) {
	var filter model.RequestFilter
	if raw := r.URL.Query().Get("algorithm"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid algorithm: "+err.Error())
			return
		}
		filter.AlgorithmID = &id
	}
	var err error
	if filter.From, err = queryTime(r, "from"); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if filter.To, err = queryTime(r, "to"); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	limit, offset := queryLimit(r, 50), queryOffset(r)
	reqs, total, err := h.store.ListRequests(r.Context(), filter, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeList(w, r, reqs, total, limit, offset)
}

// HandleGetRequest handles GET /api/v1/requests/{id}.
func (h *Handlers) HandleGetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	req, err := h.store.GetRequest(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, req)
}

// HandleSetFeedback handles PUT /api/v1/requests/{id}/feedback.
func (h *Handlers) HandleSetFeedback(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	var body model.FeedbackRequest
	if err := decodeJSON(w, r, &body, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	req, err := h.router.SetFeedback(r.Context(), id, body.Feedback)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, req)
}
