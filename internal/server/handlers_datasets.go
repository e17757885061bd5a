package server

import (
	"net/http"

	"github.com/ashita-ai/hakari/internal/model"
)

// HandleListDatasets handles GET /api/v1/datasets.
func (h *Handlers) HandleListDatasets(w http.ResponseWriter, r *http.Request) {
	ds, err := h.store.ListDatasets(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ds)
}

// HandleGetDataset handles GET /api/v1/datasets/{id}.
func (h *Handlers) HandleGetDataset(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	d, err := h.store.GetDataset(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}
