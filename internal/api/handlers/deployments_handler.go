package handlers

import (
	"context"
	"net/http"

	"github.com/archflow/engine/internal/api/types"
	"github.com/archflow/engine/internal/models"
	"github.com/archflow/engine/internal/repository"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// DeploymentService is the admission side of the deploy engine.
type DeploymentService interface {
	RequestApply(ctx context.Context, projectID uuid.UUID) (*models.DeploymentJob, error)
	RequestDestroy(ctx context.Context, projectID uuid.UUID) (*models.DeploymentJob, error)
}

type DeploymentsHandler struct {
	engine  DeploymentService
	deploys repository.DeploymentRepository
}

func NewDeploymentsHandler(engine DeploymentService, deploys repository.DeploymentRepository) *DeploymentsHandler {
	return &DeploymentsHandler{engine: engine, deploys: deploys}
}

// Apply admits an apply of the latest architecture version. Returns 409
// while another job is active for the project.
func (h *DeploymentsHandler) Apply(w http.ResponseWriter, r *http.Request) {
	id, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	job, err := h.engine.RequestApply(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.APIResponse{Success: true, Data: job})
}

func (h *DeploymentsHandler) Destroy(w http.ResponseWriter, r *http.Request) {
	id, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	job, err := h.engine.RequestDestroy(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.APIResponse{Success: true, Data: job})
}

func (h *DeploymentsHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	items, err := h.deploys.ListByProject(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: items, Meta: &types.Meta{Total: int64(len(items))}})
}

// Latest returns the most recent job for polling clients.
func (h *DeploymentsHandler) Latest(w http.ResponseWriter, r *http.Request) {
	id, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	var job models.DeploymentJob
	if err := h.deploys.GetLatestByProject(r.Context(), id, &job); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: job})
}

// Get returns one job by its own id.
func (h *DeploymentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid job id")
		return
	}
	var job models.DeploymentJob
	if err := h.deploys.GetByID(r.Context(), jobID, &job); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: job})
}
