package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"roadcall/internal/dispatch"
	"roadcall/internal/job"
)

type JobHandler struct {
	Svc *dispatch.Service
	Log zerolog.Logger
}

func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createJobReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "bad json")
		return
	}

	out, err := h.Svc.Create(r.Context(), userID(r), req.toJob())
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOutcomeResp(out))
}

func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := h.Svc.ListForCustomer(r.Context(), userID(r), limit)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toJobList(jobs)})
}

func (h *JobHandler) Available(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.Svc.Available(r.Context(), userID(r))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toJobList(jobs)})
}

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	j, err := h.Svc.Get(r.Context(), a, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResp(j))
}

func (h *JobHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	out, err := h.Svc.Dispatch(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeResp(out))
}

func (h *JobHandler) Accept(w http.ResponseWriter, r *http.Request) {
	j, err := h.Svc.Accept(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResp(j))
}

func (h *JobHandler) Reject(w http.ResponseWriter, r *http.Request) {
	j, err := h.Svc.Reject(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": j.ID, "status": j.Status})
}

type cancelReq struct {
	Reason string `json:"reason"`
}

// decodeCancel accepts an empty body.
func decodeCancel(r *http.Request) (cancelReq, bool) {
	var req cancelReq
	if r.ContentLength == 0 {
		return req, true
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, false
	}
	return req, true
}

func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCancel(r)
	if !ok {
		badRequest(w, "bad json")
		return
	}
	j, err := h.Svc.CustomerCancel(r.Context(), userID(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResp(j))
}

type statusReq struct {
	Status string `json:"status"`
}

func (h *JobHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var req statusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		badRequest(w, "status required")
		return
	}
	j, err := h.Svc.UpdateStatus(r.Context(), a, chi.URLParam(r, "id"), job.Status(req.Status))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResp(j))
}
