package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/archflow/engine/internal/graph"
	"github.com/archflow/engine/internal/models"
	appErr "github.com/archflow/engine/pkg/errors"
	"github.com/archflow/engine/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestMain(m *testing.M) {
	_, _ = logger.Init("error", "console")
	os.Exit(m.Run())
}

// scriptedClient replays canned completions in call order.
type scriptedClient struct {
	mu      sync.Mutex
	replies []scriptedReply
	calls   int
}

type scriptedReply struct {
	raw string
	err error
}

func (c *scriptedClient) Complete(_ context.Context, _, _ string) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls >= len(c.replies) {
		return nil, fmt.Errorf("unexpected completion call %d", c.calls)
	}
	r := c.replies[c.calls]
	c.calls++
	if r.err != nil {
		return nil, r.err
	}
	return json.RawMessage(r.raw), nil
}

type mockArchRepo struct{ mock.Mock }

func (m *mockArchRepo) Create(ctx context.Context, obj *models.Architecture) error {
	return m.Called(ctx, obj).Error(0)
}
func (m *mockArchRepo) GetByID(ctx context.Context, id any, dest *models.Architecture) error {
	return m.Called(ctx, id, dest).Error(0)
}
func (m *mockArchRepo) Update(ctx context.Context, obj *models.Architecture) error {
	return m.Called(ctx, obj).Error(0)
}
func (m *mockArchRepo) Delete(ctx context.Context, id any) error {
	return m.Called(ctx, id).Error(0)
}
func (m *mockArchRepo) CreateVersion(ctx context.Context, arch *models.Architecture) error {
	return m.Called(ctx, arch).Error(0)
}
func (m *mockArchRepo) GetLatestByProject(ctx context.Context, projectID uuid.UUID, dest *models.Architecture) error {
	return m.Called(ctx, projectID, dest).Error(0)
}
func (m *mockArchRepo) GetByVersion(ctx context.Context, projectID uuid.UUID, version int, dest *models.Architecture) error {
	return m.Called(ctx, projectID, version, dest).Error(0)
}
func (m *mockArchRepo) ListVersions(ctx context.Context, projectID uuid.UUID) ([]models.Architecture, error) {
	args := m.Called(ctx, projectID)
	if v := args.Get(0); v != nil {
		return v.([]models.Architecture), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockChatRepo struct{ mock.Mock }

func (m *mockChatRepo) Create(ctx context.Context, obj *models.ChatMessage) error {
	return m.Called(ctx, obj).Error(0)
}
func (m *mockChatRepo) GetByID(ctx context.Context, id any, dest *models.ChatMessage) error {
	return m.Called(ctx, id, dest).Error(0)
}
func (m *mockChatRepo) Update(ctx context.Context, obj *models.ChatMessage) error {
	return m.Called(ctx, obj).Error(0)
}
func (m *mockChatRepo) Delete(ctx context.Context, id any) error {
	return m.Called(ctx, id).Error(0)
}
func (m *mockChatRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.ChatMessage, error) {
	args := m.Called(ctx, projectID)
	if v := args.Get(0); v != nil {
		return v.([]models.ChatMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

const (
	intentJSON = `{"app_type":"api","scale":"small","realtime":false}`
	designJSON = `{"nodes":[{"id":"api","type":"aws_apigatewayv2"},{"id":"fn","type":"aws_lambda"}],"edges":[{"from":"api","to":"fn"}]}`
	filesJSON  = `{"main.tf":"resource \"aws_lambda_function\" \"fn\" {}"}`
	costJSON   = `{"monthly_usd":12.5,"breakdown":{"fn":12.5}}`
	layoutJSON = `{"nodes":[{"id":"api","x":0,"y":0},{"id":"fn","x":200,"y":0}]}`
)

func allowChat(chats *mockChatRepo) {
	chats.On("Create", mock.Anything, mock.AnythingOfType("*models.ChatMessage")).Return(nil)
}

func TestGenerateStoresFirstVersion(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{
		{raw: intentJSON}, {raw: designJSON}, {raw: filesJSON}, {raw: costJSON}, {raw: layoutJSON},
	}}
	archs := &mockArchRepo{}
	chats := &mockChatRepo{}
	projectID := uuid.New()

	archs.On("GetLatestByProject", mock.Anything, projectID, mock.Anything).
		Return(appErr.New(appErr.CodeNotFound, "no architecture found for project"))
	var stored *models.Architecture
	archs.On("CreateVersion", mock.Anything, mock.AnythingOfType("*models.Architecture")).
		Run(func(args mock.Arguments) { stored = args.Get(1).(*models.Architecture) }).
		Return(nil)
	allowChat(chats)

	o := NewOrchestrator(client, archs, chats, nil, nil)
	arch, err := o.Generate(context.Background(), projectID, "small http api")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, 1, arch.Version)
	require.True(t, arch.HasCode())

	var g graph.Graph
	require.NoError(t, json.Unmarshal(arch.Graph, &g))
	require.Len(t, g.Nodes, 2)
	archs.AssertExpectations(t)
	chats.AssertNumberOfCalls(t, "Create", 2)
}

func TestGenerateRejectsInvalidGraph(t *testing.T) {
	badDesign := `{"nodes":[{"id":"q","type":"aws_kinesis"}],"edges":[]}`
	client := &scriptedClient{replies: []scriptedReply{{raw: intentJSON}, {raw: badDesign}}}
	archs := &mockArchRepo{}
	chats := &mockChatRepo{}

	o := NewOrchestrator(client, archs, chats, nil, nil)
	_, err := o.Generate(context.Background(), uuid.New(), "stream pipeline")
	require.Error(t, err)
	require.True(t, appErr.IsCode(err, appErr.CodeValidationFailed))

	var vf *ValidationFailure
	require.ErrorAs(t, err, &vf)
	require.Equal(t, graph.ErrUnsupportedService, vf.Result.Errors[0].Code)
	archs.AssertNotCalled(t, "CreateVersion", mock.Anything, mock.Anything)
}

func TestGenerateToleratesCodeStageFailure(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{
		{raw: intentJSON}, {raw: designJSON},
		{err: fmt.Errorf("provider unavailable")},
		{raw: costJSON}, {raw: layoutJSON},
	}}
	archs := &mockArchRepo{}
	chats := &mockChatRepo{}
	projectID := uuid.New()

	archs.On("GetLatestByProject", mock.Anything, projectID, mock.Anything).
		Return(appErr.New(appErr.CodeNotFound, "no architecture found for project"))
	archs.On("CreateVersion", mock.Anything, mock.Anything).Return(nil)
	allowChat(chats)

	o := NewOrchestrator(client, archs, chats, nil, nil)
	arch, err := o.Generate(context.Background(), projectID, "small http api")
	require.NoError(t, err)
	require.False(t, arch.HasCode())
	require.NotEmpty(t, arch.Cost)
}

func TestGenerateFailsWhenDesignFails(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{
		{raw: intentJSON}, {err: fmt.Errorf("timeout")},
	}}
	o := NewOrchestrator(client, &mockArchRepo{}, &mockChatRepo{}, nil, nil)
	_, err := o.Generate(context.Background(), uuid.New(), "anything")
	require.True(t, appErr.IsCode(err, appErr.CodePipelineFailed))
}

func latestRow(projectID uuid.UUID, version int, graphJSON string) func(mock.Arguments) {
	return func(args mock.Arguments) {
		dest := args.Get(2).(*models.Architecture)
		dest.ProjectID = projectID
		dest.Version = version
		dest.Graph = datatypes.JSON(graphJSON)
	}
}

func TestEditBumpsVersionAndKeepsStableIDs(t *testing.T) {
	edited := `{"nodes":[{"id":"api","type":"aws_apigatewayv2"},{"id":"fn","type":"aws_lambda"},{"id":"tbl","type":"aws_dynamodb"}],"edges":[{"from":"api","to":"fn"},{"from":"fn","to":"tbl"}]}`
	client := &scriptedClient{replies: []scriptedReply{
		{raw: edited}, {raw: filesJSON}, {raw: costJSON}, {raw: layoutJSON},
	}}
	archs := &mockArchRepo{}
	chats := &mockChatRepo{}
	projectID := uuid.New()

	archs.On("GetLatestByProject", mock.Anything, projectID, mock.Anything).
		Run(latestRow(projectID, 3, designJSON)).Return(nil)
	var stored *models.Architecture
	archs.On("CreateVersion", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { stored = args.Get(1).(*models.Architecture) }).
		Return(nil)
	allowChat(chats)

	o := NewOrchestrator(client, archs, chats, nil, nil)
	arch, err := o.Edit(context.Background(), projectID, "add a dynamodb table")
	require.NoError(t, err)
	require.Equal(t, 4, arch.Version)
	require.Equal(t, 4, stored.Version)
}

func TestEditRejectsFullIDRewrite(t *testing.T) {
	rewritten := `{"nodes":[{"id":"gw","type":"aws_apigatewayv2"},{"id":"handler","type":"aws_lambda"}],"edges":[{"from":"gw","to":"handler"}]}`
	client := &scriptedClient{replies: []scriptedReply{{raw: rewritten}}}
	archs := &mockArchRepo{}
	projectID := uuid.New()

	archs.On("GetLatestByProject", mock.Anything, projectID, mock.Anything).
		Run(latestRow(projectID, 1, designJSON)).Return(nil)

	o := NewOrchestrator(client, archs, &mockChatRepo{}, nil, nil)
	_, err := o.Edit(context.Background(), projectID, "rename everything")
	require.True(t, appErr.IsCode(err, appErr.CodePipelineFailed))
	archs.AssertNotCalled(t, "CreateVersion", mock.Anything, mock.Anything)
}

func TestEditWithoutArchitectureFails(t *testing.T) {
	archs := &mockArchRepo{}
	projectID := uuid.New()
	archs.On("GetLatestByProject", mock.Anything, projectID, mock.Anything).
		Return(appErr.New(appErr.CodeNotFound, "no architecture found for project"))

	o := NewOrchestrator(&scriptedClient{}, archs, &mockChatRepo{}, nil, nil)
	_, err := o.Edit(context.Background(), projectID, "add a queue")
	require.True(t, appErr.IsCode(err, appErr.CodeInvalid))
}

func TestEditPropagatesVersionConflict(t *testing.T) {
	edited := `{"nodes":[{"id":"api","type":"aws_apigatewayv2"},{"id":"fn","type":"aws_lambda"}],"edges":[{"from":"api","to":"fn"}]}`
	client := &scriptedClient{replies: []scriptedReply{
		{raw: edited}, {raw: filesJSON}, {raw: costJSON}, {raw: layoutJSON},
	}}
	archs := &mockArchRepo{}
	projectID := uuid.New()

	archs.On("GetLatestByProject", mock.Anything, projectID, mock.Anything).
		Run(latestRow(projectID, 2, designJSON)).Return(nil)
	archs.On("CreateVersion", mock.Anything, mock.Anything).
		Return(appErr.New(appErr.CodeVersionConflict, "version 3 already written, latest is 3"))

	o := NewOrchestrator(client, archs, &mockChatRepo{}, nil, nil)
	_, err := o.Edit(context.Background(), projectID, "tweak")
	require.True(t, appErr.IsCode(err, appErr.CodeVersionConflict))
}
