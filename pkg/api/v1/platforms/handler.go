package api_v1_platforms

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"
	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/postqode/agentdeploy/pkg/httperr"
	"github.com/postqode/agentdeploy/pkg/middleware"
	"github.com/postqode/agentdeploy/pkg/orchestrator"
)

type Handler struct {
	Orchestrator orchestrator.Interface
}

type PlatformsResponse struct {
	Platforms []deployment.Schema `json:"platforms"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	response := PlatformsResponse{
		Platforms: make([]deployment.Schema, 0),
	}
	for _, p := range h.Orchestrator.Platforms() {
		schema, err := h.Orchestrator.Schema(p.String())
		if err != nil {
			render.Render(w, r, httperr.FromError(err))
			return
		}
		response.Platforms = append(response.Platforms, schema)
	}
	render.JSON(w, r, response)
}

func (h *Handler) Schema(w http.ResponseWriter, r *http.Request) {
	schema, err := h.Orchestrator.Schema(chi.URLParam(r, "platform"))
	if err != nil {
		render.Render(w, r, httperr.FromError(err))
		return
	}
	render.JSON(w, r, schema)
}

// Validate checks a deployment request against a platform without deploying anything.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	req := deployment.Request{}
	err := render.DecodeJSON(r.Body, &req)
	if err != nil {
		render.Render(w, r, httperr.ErrInvalidRequest(fmt.Errorf("unable to decode deployment request: %w", err)))
		return
	}
	req.Platform = chi.URLParam(r, "platform")
	req.UserID = middleware.GetUserID(r.Context())

	result, err := h.Orchestrator.Validate(req)
	if err != nil {
		render.Render(w, r, httperr.FromError(err))
		return
	}
	render.JSON(w, r, result)
}
