package handlers

import (
	"net/http"

	"github.com/archflow/engine/internal/api/types"
	"github.com/archflow/engine/internal/models"
	"github.com/archflow/engine/internal/repository"
	"github.com/go-playground/validator/v10"
)

type ProjectsHandler struct {
	projects  repository.ProjectRepository
	resources repository.ResourceRepository
	chats     repository.ChatRepository
	validate  *validator.Validate
}

func NewProjectsHandler(projects repository.ProjectRepository, resources repository.ResourceRepository, chats repository.ChatRepository) *ProjectsHandler {
	return &ProjectsHandler{
		projects:  projects,
		resources: resources,
		chats:     chats,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *ProjectsHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.projects.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: items, Meta: &types.Meta{Total: int64(len(items))}})
}

func (h *ProjectsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req types.ProjectCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, err.Error())
		return
	}

	p := models.Project{Name: req.Name, Description: req.Description}
	if req.Region != "" {
		p.Region = req.Region
	}
	if err := h.projects.Create(r.Context(), &p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.APIResponse{Success: true, Data: p})
}

func (h *ProjectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	var p models.Project
	if err := h.projects.GetByID(r.Context(), id, &p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: p})
}

// Archive soft-retires a project. History and recorded resources stay
// queryable, the project just drops out of listings.
func (h *ProjectsHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	if err := h.projects.Archive(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true})
}

// Resources lists the cloud resources recorded by the last successful apply.
func (h *ProjectsHandler) Resources(w http.ResponseWriter, r *http.Request) {
	id, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	items, err := h.resources.ListByProject(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: items, Meta: &types.Meta{Total: int64(len(items))}})
}

// Chat returns the generate/edit conversation history in order.
func (h *ProjectsHandler) Chat(w http.ResponseWriter, r *http.Request) {
	id, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	items, err := h.chats.ListByProject(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: items})
}
