package api_v1_deployments

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"
	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/postqode/agentdeploy/pkg/httperr"
	"github.com/postqode/agentdeploy/pkg/middleware"
	"github.com/postqode/agentdeploy/pkg/orchestrator"
	log "github.com/sirupsen/logrus"
)

type Handler struct {
	Orchestrator orchestrator.Interface
}

type ProgressResponse struct {
	ID     string            `json:"id"`
	Status deployment.Status `json:"status"`
	Steps  []deployment.Step `json:"steps"`
}

type LogsResponse struct {
	ID    string `json:"id"`
	Lines int    `json:"lines"`
	Logs  string `json:"logs"`
}

type InvocationsResponse struct {
	ID               string `json:"id"`
	TotalInvocations int64  `json:"total_invocations"`
}

func progressResponse(progress orchestrator.Progress) ProgressResponse {
	return ProgressResponse{
		ID:     progress.ID,
		Status: progress.Status,
		Steps:  progress.Steps,
	}
}

func fail(w http.ResponseWriter, r *http.Request, err error) {
	if deployment.KindOf(err) == deployment.KindInternal {
		log.WithFields(middleware.RequestLogFields(r)).Errorf("Request failed: %s", err)
	}
	render.Render(w, r, httperr.FromError(err))
}

// owned returns the record with the id in the URL, or not found if the caller does not own it.
func (h *Handler) owned(w http.ResponseWriter, r *http.Request) (*deployment.Record, bool) {
	id := chi.URLParam(r, "id")
	record, err := h.Orchestrator.Get(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return nil, false
	}
	if record.UserID != middleware.GetUserID(r.Context()) {
		render.Render(w, r, httperr.ErrNotFound)
		return nil, false
	}
	return record, true
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	req := deployment.Request{}
	err := render.DecodeJSON(r.Body, &req)
	if err != nil {
		render.Render(w, r, httperr.ErrInvalidRequest(fmt.Errorf("unable to decode deployment request: %w", err)))
		return
	}
	req.UserID = middleware.GetUserID(r.Context())

	progress, err := h.Orchestrator.Submit(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}

	log.WithFields(middleware.RequestLogFields(r)).WithField("deployment_id", progress.ID).Infof("Accepted %s deployment of agent %s", req.Platform, req.AgentID)
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, progressResponse(progress))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	status := deployment.Status(r.URL.Query().Get("status"))
	records, err := h.Orchestrator.List(r.Context(), middleware.GetUserID(r.Context()), status)
	if err != nil {
		fail(w, r, err)
		return
	}
	if records == nil {
		records = make([]*deployment.Record, 0)
	}
	render.JSON(w, r, records)
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Orchestrator.Summary(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		fail(w, r, err)
		return
	}
	render.JSON(w, r, summary)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	record, ok := h.owned(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, record)
}

func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	record, ok := h.owned(w, r)
	if !ok {
		return
	}
	progress, err := h.Orchestrator.Progress(r.Context(), record.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	render.JSON(w, r, progressResponse(progress))
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	record, ok := h.owned(w, r)
	if !ok {
		return
	}
	record, err := h.Orchestrator.Start(r.Context(), record.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	render.JSON(w, r, record)
}

func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	record, ok := h.owned(w, r)
	if !ok {
		return
	}
	record, err := h.Orchestrator.Stop(r.Context(), record.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	render.JSON(w, r, record)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	record, ok := h.owned(w, r)
	if !ok {
		return
	}
	err := h.Orchestrator.Delete(r.Context(), record.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	record, ok := h.owned(w, r)
	if !ok {
		return
	}
	status, err := h.Orchestrator.Status(r.Context(), record.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	render.JSON(w, r, status)
}

func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	lines := 0
	if param := r.URL.Query().Get("lines"); len(param) > 0 {
		var err error
		lines, err = strconv.Atoi(param)
		if err != nil {
			render.Render(w, r, httperr.ErrInvalidRequest(errors.New("lines must be a number")))
			return
		}
	}

	record, ok := h.owned(w, r)
	if !ok {
		return
	}
	logs, err := h.Orchestrator.Logs(r.Context(), record.ID, lines)
	if err != nil {
		fail(w, r, err)
		return
	}
	render.JSON(w, r, LogsResponse{
		ID:    record.ID,
		Lines: lines,
		Logs:  logs,
	})
}

func (h *Handler) RecordInvocation(w http.ResponseWriter, r *http.Request) {
	record, ok := h.owned(w, r)
	if !ok {
		return
	}
	count, err := h.Orchestrator.RecordInvocation(r.Context(), record.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	render.JSON(w, r, InvocationsResponse{
		ID:               record.ID,
		TotalInvocations: count,
	})
}
