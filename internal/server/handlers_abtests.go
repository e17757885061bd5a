package server

import (
	"net/http"

	"github.com/ashita-ai/hakari/internal/model"
	"github.com/ashita-ai/hakari/internal/service/experiments"
)

// HandleListABTests handles GET /api/v1/abtests.
func (h *Handlers) HandleListABTests(w http.ResponseWriter, r *http.Request) {
	limit, offset := queryLimit(r, 50), queryOffset(r)
	tests, total, err := h.experiments.List(r.Context(), limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeList(w, r, tests, total, limit, offset)
}

// HandleGetABTest handles GET /api/v1/abtests/{id}.
func (h *Handlers) HandleGetABTest(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	ab, err := h.experiments.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ab)
}

// HandleCreateABTest handles POST /api/v1/abtests.
func (h *Handlers) HandleCreateABTest(w http.ResponseWriter, r *http.Request) {
	var req model.CreateABTestRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	ab, err := h.experiments.Open(r.Context(), experiments.OpenInput{
		Title:      req.Title,
		CreatedBy:  operatorName(r),
		Algorithm1: req.Algorithm1,
		Algorithm2: req.Algorithm2,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, ab)
}

// HandleStopABTest handles POST /api/v1/abtests/{id}/stop_ab_test.
func (h *Handlers) HandleStopABTest(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	res, err := h.experiments.Close(r.Context(), id, operatorName(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := model.StopABTestResponse{
		Message:       "AB Test finished.",
		Summary:       res.Summary,
		AlreadyClosed: res.AlreadyClosed,
	}
	if res.AlreadyClosed {
		resp.Message = "AB Test already finished."
	} else {
		resp.Accuracy1 = res.Arms[0].Accuracy
		resp.Accuracy2 = res.Arms[1].Accuracy
		resp.Winner = res.Winner.String()
	}
	writeJSON(w, r, http.StatusOK, resp)
}
