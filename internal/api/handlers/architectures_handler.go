package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/archflow/engine/internal/api/types"
	"github.com/archflow/engine/internal/models"
	"github.com/archflow/engine/internal/repository"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// PipelineService is the slice of the pipeline orchestrator the API needs.
type PipelineService interface {
	Generate(ctx context.Context, projectID uuid.UUID, prompt string) (*models.Architecture, error)
	Edit(ctx context.Context, projectID uuid.UUID, prompt string) (*models.Architecture, error)
}

type ArchitecturesHandler struct {
	pipeline PipelineService
	archs    repository.ArchitectureRepository
	validate *validator.Validate
}

func NewArchitecturesHandler(pipeline PipelineService, archs repository.ArchitectureRepository) *ArchitecturesHandler {
	return &ArchitecturesHandler{
		pipeline: pipeline,
		archs:    archs,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Generate runs the full pipeline on a fresh prompt and returns the stored
// version. Validation failures come back as 422 with the findings attached.
func (h *ArchitecturesHandler) Generate(w http.ResponseWriter, r *http.Request) {
	id, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	var req types.GenerateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, err.Error())
		return
	}

	arch, err := h.pipeline.Generate(r.Context(), id, req.Prompt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.APIResponse{Success: true, Data: arch})
}

func (h *ArchitecturesHandler) Edit(w http.ResponseWriter, r *http.Request) {
	id, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	var req types.EditRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, err.Error())
		return
	}

	arch, err := h.pipeline.Edit(r.Context(), id, req.Prompt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.APIResponse{Success: true, Data: arch})
}

func (h *ArchitecturesHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	id, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	var arch models.Architecture
	if err := h.archs.GetLatestByProject(r.Context(), id, &arch); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: arch})
}

func (h *ArchitecturesHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	id, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	items, err := h.archs.ListVersions(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: items, Meta: &types.Meta{Total: int64(len(items))}})
}

func (h *ArchitecturesHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version < 1 {
		writeErrorStr(w, http.StatusBadRequest, "invalid version")
		return
	}
	var arch models.Architecture
	if err := h.archs.GetByVersion(r.Context(), id, version, &arch); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: arch})
}
