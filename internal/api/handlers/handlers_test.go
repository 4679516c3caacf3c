package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/archflow/engine/internal/api/types"
	"github.com/archflow/engine/internal/models"
	appErr "github.com/archflow/engine/pkg/errors"
	"github.com/archflow/engine/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestMain(m *testing.M) {
	_, _ = logger.Init("error", "console")
	os.Exit(m.Run())
}

type mockPipeline struct{ mock.Mock }

func (m *mockPipeline) Generate(ctx context.Context, projectID uuid.UUID, prompt string) (*models.Architecture, error) {
	args := m.Called(ctx, projectID, prompt)
	if v := args.Get(0); v != nil {
		return v.(*models.Architecture), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPipeline) Edit(ctx context.Context, projectID uuid.UUID, prompt string) (*models.Architecture, error) {
	args := m.Called(ctx, projectID, prompt)
	if v := args.Get(0); v != nil {
		return v.(*models.Architecture), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockEngine struct{ mock.Mock }

func (m *mockEngine) RequestApply(ctx context.Context, projectID uuid.UUID) (*models.DeploymentJob, error) {
	args := m.Called(ctx, projectID)
	if v := args.Get(0); v != nil {
		return v.(*models.DeploymentJob), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockEngine) RequestDestroy(ctx context.Context, projectID uuid.UUID) (*models.DeploymentJob, error) {
	args := m.Called(ctx, projectID)
	if v := args.Get(0); v != nil {
		return v.(*models.DeploymentJob), args.Error(1)
	}
	return nil, args.Error(1)
}

func archRouter(p PipelineService) http.Handler {
	h := NewArchitecturesHandler(p, nil)
	r := chi.NewRouter()
	r.Post("/projects/{id}/architecture/generate", h.Generate)
	r.Post("/projects/{id}/architecture/edit", h.Edit)
	return r
}

func deployRouter(e DeploymentService) http.Handler {
	h := NewDeploymentsHandler(e, nil)
	r := chi.NewRouter()
	r.Post("/projects/{id}/deployments/apply", h.Apply)
	r.Post("/projects/{id}/deployments/destroy", h.Destroy)
	return r
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) types.APIResponse {
	t.Helper()
	var resp types.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestGenerateReturnsCreatedVersion(t *testing.T) {
	p := &mockPipeline{}
	projectID := uuid.New()
	p.On("Generate", mock.Anything, projectID, "small api").
		Return(&models.Architecture{ProjectID: projectID, Version: 1, Graph: datatypes.JSON(`{"nodes":[],"edges":[]}`)}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/projects/"+projectID.String()+"/architecture/generate",
		strings.NewReader(`{"prompt":"small api"}`))
	archRouter(p).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeResponse(t, rec)
	require.True(t, resp.Success)
	p.AssertExpectations(t)
}

func TestGenerateMapsValidationFailureTo422(t *testing.T) {
	p := &mockPipeline{}
	projectID := uuid.New()
	p.On("Generate", mock.Anything, projectID, mock.Anything).
		Return(nil, appErr.New(appErr.CodeValidationFailed, "generated graph failed validation"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/projects/"+projectID.String()+"/architecture/generate",
		strings.NewReader(`{"prompt":"bad graph"}`))
	archRouter(p).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeResponse(t, rec)
	require.False(t, resp.Success)
	require.Equal(t, "validation_failed", resp.Error.Code)
}

func TestGenerateRejectsBadInput(t *testing.T) {
	p := &mockPipeline{}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/projects/not-a-uuid/architecture/generate",
		strings.NewReader(`{"prompt":"x y z"}`))
	archRouter(p).ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/projects/"+uuid.NewString()+"/architecture/generate",
		strings.NewReader(`not json`))
	archRouter(p).ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/projects/"+uuid.NewString()+"/architecture/generate",
		strings.NewReader(`{"prompt":""}`))
	archRouter(p).ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	p.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestEditMapsVersionConflictTo409(t *testing.T) {
	p := &mockPipeline{}
	projectID := uuid.New()
	p.On("Edit", mock.Anything, projectID, mock.Anything).
		Return(nil, appErr.New(appErr.CodeVersionConflict, "version 4 already written, latest is 4").
			WithMeta("latest_version", 4))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/projects/"+projectID.String()+"/architecture/edit",
		strings.NewReader(`{"prompt":"add a queue"}`))
	archRouter(p).ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeResponse(t, rec)
	require.Equal(t, "version_conflict", resp.Error.Code)
	require.NotNil(t, resp.Error.Details)
}

func TestApplyAccepted(t *testing.T) {
	e := &mockEngine{}
	projectID := uuid.New()
	e.On("RequestApply", mock.Anything, projectID).
		Return(&models.DeploymentJob{ID: uuid.New(), ProjectID: projectID, Action: models.ActionApply, Status: models.JobPending}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/projects/"+projectID.String()+"/deployments/apply", nil)
	deployRouter(e).ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeResponse(t, rec)
	require.True(t, resp.Success)
}

func TestApplyWhileRunningIs409(t *testing.T) {
	e := &mockEngine{}
	projectID := uuid.New()
	e.On("RequestApply", mock.Anything, projectID).
		Return(nil, appErr.New(appErr.CodeDeploymentInProgress, "a deployment is already running for this project"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/projects/"+projectID.String()+"/deployments/apply", nil)
	deployRouter(e).ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeResponse(t, rec)
	require.Equal(t, "deployment_in_progress", resp.Error.Code)
}

func TestDestroyAccepted(t *testing.T) {
	e := &mockEngine{}
	projectID := uuid.New()
	e.On("RequestDestroy", mock.Anything, projectID).
		Return(&models.DeploymentJob{ID: uuid.New(), ProjectID: projectID, Action: models.ActionDestroy, Status: models.JobPending}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/projects/"+projectID.String()+"/deployments/destroy", nil)
	deployRouter(e).ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
}
