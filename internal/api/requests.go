package api

import (
	"net/http"

	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/requests"
)

// RequestsHandler exposes the request workflow over HTTP.
type RequestsHandler struct {
	Service *requests.Service
}

// Create handles POST /api/requests.
func (h *RequestsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in requests.CreateInput
	if err := decodeJSON(w, r, &in); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := h.Service.Create(r.Context(), identity(r), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, req)
}

// List handles GET /api/requests?status=&type=&requester_id=&borrow_record_id=.
func (h *RequestsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	requesterID, ok := queryID(r, "requester_id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid requester_id")
		return
	}
	borrowID, ok := queryID(r, "borrow_record_id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid borrow_record_id")
		return
	}

	reqs, err := h.Service.List(r.Context(), identity(r), requests.ListFilter{
		RequesterID:    requesterID,
		BorrowRecordID: borrowID,
		Status:         q.Get("status"),
		Type:           model.RequestType(q.Get("type")),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if reqs == nil {
		reqs = []model.Request{}
	}
	jsonResponse(w, http.StatusOK, reqs)
}

// Get handles GET /api/requests/{id}.
func (h *RequestsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	req, err := h.Service.Get(r.Context(), identity(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, req)
}

// Rescind handles POST /api/requests/{id}/rescind.
func (h *RequestsHandler) Rescind(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	if err := h.Service.Rescind(r.Context(), identity(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Resolve handles POST /api/requests/{id}/resolve.
func (h *RequestsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	var in requests.ResolveInput
	if err := decodeJSON(w, r, &in); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := h.Service.Resolve(r.Context(), identity(r), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, req)
}
