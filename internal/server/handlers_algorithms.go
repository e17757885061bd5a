package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ashita-ai/hakari/internal/model"
	"github.com/ashita-ai/hakari/internal/service/router"
	"github.com/ashita-ai/hakari/internal/storage"
)

// HandlePredict handles POST /api/v1/algorithms/predict and the legacy
// POST /api/v1/{endpoint}/predict. The body is the applicant's feature
// object; routing comes from query parameters.
func (h *Handlers) HandlePredict(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := router.Filter{
		Classifier: q.Get("classifier"),
		Endpoint:   q.Get("endpoint"),
		Version:    q.Get("version"),
		Dataset:    q.Get("dataset"),
		Region:     q.Get("region"),
	}
	if f.Classifier == "" {
		f.Classifier = r.PathValue("endpoint")
	}
	st, err := queryStatus(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if st != nil {
		f.Status = *st
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	createdBy := operatorName(r)
	if createdBy == "" {
		createdBy = "anonymous"
	}
	res, err := h.router.Predict(r.Context(), f, payload, createdBy)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeFlat(w, http.StatusOK, model.PredictResponse{
		Status:      model.StatusOK,
		Probability: res.Probability,
		Label:       res.Label,
		Method:      res.Method,
		Details:     res.Details,
		RequestID:   res.RequestID,
		AlgorithmID: res.AlgorithmID,
	})
}

// HandleListAlgorithms handles GET /api/v1/algorithms.
func (h *Handlers) HandleListAlgorithms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.AlgorithmFilter{
		Classifier: q.Get("classifier"),
		Endpoint:   q.Get("endpoint"),
		Version:    q.Get("version"),
		Dataset:    q.Get("dataset"),
		Region:     q.Get("region"),
	}
	st, err := queryStatus(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	filter.Status = st

	limit, offset := queryLimit(r, 50), queryOffset(r)
	algs, total, err := h.store.ListAlgorithms(r.Context(), filter, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeList(w, r, algs, total, limit, offset)
}

// HandleGetAlgorithm handles GET /api/v1/algorithms/{id}.
func (h *Handlers) HandleGetAlgorithm(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	alg, err := h.store.GetAlgorithm(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, alg)
}

// HandleListStatuses handles GET /api/v1/algorithms/{id}/statuses.
func (h *Handlers) HandleListStatuses(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if _, err := h.store.GetAlgorithm(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	entries, err := h.store.ListStatuses(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, entries)
}

// HandleCreateStatus handles POST /api/v1/algorithms/{id}/statuses.
func (h *Handlers) HandleCreateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	var req model.CreateStatusRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	st, err := model.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	entry, err := h.ledger.Set(r.Context(), id, st, operatorName(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.logger.Info("algorithm status changed", "algorithm_id", id, "status", st, "operator", entry.CreatedBy)
	writeJSON(w, r, http.StatusCreated, entry)
}

// HandleDeleteAlgorithm handles DELETE /api/v1/algorithms/{id}. Its ledger
// and requests go with it. Refused while an open experiment uses it.
func (h *Handlers) HandleDeleteAlgorithm(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	err = storage.WithRetry(r.Context(), 1, 10*time.Millisecond, func() error {
		return h.store.WithTx(r.Context(), func(tx storage.Tx) error {
			return tx.DeleteAlgorithm(r.Context(), id)
		})
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.logger.Info("algorithm deleted", "algorithm_id", id, "operator", operatorName(r))
	w.WriteHeader(http.StatusNoContent)
}
