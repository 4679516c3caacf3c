package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/archflow/engine/internal/graph"
	"github.com/archflow/engine/internal/models"
	"github.com/archflow/engine/internal/repository"
	appErr "github.com/archflow/engine/pkg/errors"
	"github.com/archflow/engine/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// StageFailure marks a pipeline stage that could not produce usable output.
// Stages run at most once per request, so a failure is final for that call.
type StageFailure struct {
	Stage string
	Err   error
}

func (e *StageFailure) Error() string { return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err) }
func (e *StageFailure) Unwrap() error { return e.Err }

// ValidationFailure carries the validator verdict for a rejected graph. The
// rejected graph is never persisted.
type ValidationFailure struct {
	Result graph.Result
}

func (e *ValidationFailure) Error() string {
	codes := make([]string, 0, len(e.Result.Errors))
	for _, ve := range e.Result.Errors {
		codes = append(codes, ve.Code)
	}
	return fmt.Sprintf("graph failed validation: %s", strings.Join(codes, ", "))
}

// FileSink receives generated Terraform sources for a project. The deploy
// workspace implements it; generation tolerates a busy workspace because the
// files are persisted with the version and re-materialized at deploy time.
type FileSink interface {
	WriteFiles(ctx context.Context, projectID uuid.UUID, files map[string]string) error
}

// CodeChecker rejects generated Terraform that must never reach a workspace.
type CodeChecker interface {
	Check(files map[string]string) error
}

// Orchestrator drives the generation and edit pipelines. Required stages are
// intent, design, and validation; code, cost, and layout are best effort and
// their failure leaves the corresponding field empty on the stored version.
type Orchestrator struct {
	client  Client
	archs   repository.ArchitectureRepository
	chats   repository.ChatRepository
	files   FileSink
	checker CodeChecker
}

func NewOrchestrator(client Client, archs repository.ArchitectureRepository, chats repository.ChatRepository, files FileSink, checker CodeChecker) *Orchestrator {
	return &Orchestrator{client: client, archs: archs, chats: chats, files: files, checker: checker}
}

// Generate runs the full pipeline for a fresh prompt and persists the result
// as the project's next architecture version.
func (o *Orchestrator) Generate(ctx context.Context, projectID uuid.UUID, prompt string) (*models.Architecture, error) {
	intent, err := runIntentStage(ctx, o.client, prompt)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodePipelineFailed, "intent extraction failed")
	}

	g, err := runDesignStage(ctx, o.client, intent, prompt)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodePipelineFailed, "graph design failed")
	}

	res := graph.Validate(g, graph.Options{})
	if !res.Valid {
		return nil, appErr.Wrap(&ValidationFailure{Result: res}, appErr.CodeValidationFailed,
			"generated graph failed validation").WithMeta("validation", res)
	}

	version := 1
	var latest models.Architecture
	if err := o.archs.GetLatestByProject(ctx, projectID, &latest); err == nil {
		version = latest.Version + 1
	} else if !appErr.IsCode(err, appErr.CodeNotFound) {
		return nil, err
	}

	arch, err := o.buildVersion(ctx, projectID, version, &intent, g)
	if err != nil {
		return nil, err
	}
	if err := o.archs.CreateVersion(ctx, arch); err != nil {
		return nil, err
	}

	o.deliverFiles(ctx, projectID, arch)
	o.recordChat(ctx, projectID, prompt, arch.Version, len(g.Nodes))
	return arch, nil
}

// Edit applies a change request against the project's latest version and
// persists the result as a new version. Even a change that leaves the graph
// identical produces a new version, so every accepted request has an
// addressable result.
func (o *Orchestrator) Edit(ctx context.Context, projectID uuid.UUID, prompt string) (*models.Architecture, error) {
	var latest models.Architecture
	if err := o.archs.GetLatestByProject(ctx, projectID, &latest); err != nil {
		if appErr.IsCode(err, appErr.CodeNotFound) {
			return nil, appErr.New(appErr.CodeInvalid, "project has no architecture to edit")
		}
		return nil, err
	}

	var current graph.Graph
	if err := json.Unmarshal(latest.Graph, &current); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "stored graph is unreadable")
	}

	g, err := runEditStage(ctx, o.client, current, prompt)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodePipelineFailed, "graph edit failed")
	}

	res := graph.Validate(g, graph.Options{})
	if !res.Valid {
		return nil, appErr.Wrap(&ValidationFailure{Result: res}, appErr.CodeValidationFailed,
			"edited graph failed validation").WithMeta("validation", res)
	}

	if err := checkIDContinuity(current, g); err != nil {
		return nil, appErr.Wrap(err, appErr.CodePipelineFailed, "graph edit failed")
	}

	var intent *Intent
	if len(latest.Intent) > 0 && string(latest.Intent) != "null" {
		intent = &Intent{}
		if err := json.Unmarshal(latest.Intent, intent); err != nil {
			intent = nil
		}
	}

	arch, err := o.buildVersion(ctx, projectID, latest.Version+1, intent, g)
	if err != nil {
		return nil, err
	}
	if err := o.archs.CreateVersion(ctx, arch); err != nil {
		return nil, err
	}

	o.deliverFiles(ctx, projectID, arch)
	o.recordChat(ctx, projectID, prompt, arch.Version, len(g.Nodes))
	return arch, nil
}

// checkIDContinuity rejects an edit that replaced every node id of a
// non-empty graph. A full rewrite means the model ignored the instruction to
// keep untouched ids stable, which would orphan any saved layout and confuse
// diff views downstream.
func checkIDContinuity(old, updated graph.Graph) error {
	if len(old.Nodes) == 0 || len(updated.Nodes) == 0 {
		return nil
	}
	oldIDs := old.NodeIDs()
	for id := range updated.NodeIDs() {
		if _, ok := oldIDs[id]; ok {
			return nil
		}
	}
	return &StageFailure{Stage: StageEdit, Err: fmt.Errorf("edit replaced every node id")}
}

// buildVersion assembles the persisted row: graph and intent are required,
// the derived artifacts are filled in best effort.
func (o *Orchestrator) buildVersion(ctx context.Context, projectID uuid.UUID, version int, intent *Intent, g graph.Graph) (*models.Architecture, error) {
	graphJSON, err := json.Marshal(g)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "encode graph failed")
	}
	arch := &models.Architecture{
		ProjectID: projectID,
		Version:   version,
		Graph:     datatypes.JSON(graphJSON),
	}
	if intent != nil {
		if b, err := json.Marshal(intent); err == nil {
			arch.Intent = datatypes.JSON(b)
		}
	}

	if files, err := runTerraformStage(ctx, o.client, g); err != nil {
		logger.L().Warn("terraform generation failed, version stored without code",
			zap.String("project_id", projectID.String()), zap.Int("version", version), zap.Error(err))
	} else if checkErr := o.checkFiles(files); checkErr != nil {
		logger.L().Warn("generated terraform rejected by safety check, version stored without code",
			zap.String("project_id", projectID.String()), zap.Int("version", version), zap.Error(checkErr))
	} else if b, err := json.Marshal(files); err == nil {
		arch.TerraformFiles = datatypes.JSON(b)
	}

	if cost, err := runCostStage(ctx, o.client, g); err != nil {
		logger.L().Warn("cost estimation failed",
			zap.String("project_id", projectID.String()), zap.Int("version", version), zap.Error(err))
	} else if b, err := json.Marshal(cost); err == nil {
		arch.Cost = datatypes.JSON(b)
	}

	if layout, err := runLayoutStage(ctx, o.client, g); err != nil {
		logger.L().Warn("layout generation failed",
			zap.String("project_id", projectID.String()), zap.Int("version", version), zap.Error(err))
	} else if b, err := json.Marshal(layout); err == nil {
		arch.Layout = datatypes.JSON(b)
	}

	return arch, nil
}

func (o *Orchestrator) checkFiles(files FileMap) error {
	if o.checker == nil {
		return nil
	}
	return o.checker.Check(files)
}

// deliverFiles pushes the version's Terraform into the project workspace.
// A busy workspace is not an error here: the deploy engine re-materializes
// files from the stored version before every run.
func (o *Orchestrator) deliverFiles(ctx context.Context, projectID uuid.UUID, arch *models.Architecture) {
	if o.files == nil || !arch.HasCode() {
		return
	}
	var files map[string]string
	if err := json.Unmarshal(arch.TerraformFiles, &files); err != nil {
		return
	}
	if err := o.files.WriteFiles(ctx, projectID, files); err != nil {
		logger.L().Warn("workspace write skipped",
			zap.String("project_id", projectID.String()), zap.Error(err))
	}
}

func (o *Orchestrator) recordChat(ctx context.Context, projectID uuid.UUID, prompt string, version, nodes int) {
	if o.chats == nil {
		return
	}
	msgs := []models.ChatMessage{
		{ProjectID: projectID, Role: "user", Content: prompt, ArchitectureVersion: version},
		{ProjectID: projectID, Role: "assistant",
			Content:             fmt.Sprintf("Stored architecture version %d with %d services.", version, nodes),
			ArchitectureVersion: version},
	}
	for i := range msgs {
		if err := o.chats.Create(ctx, &msgs[i]); err != nil {
			logger.L().Warn("chat message not recorded",
				zap.String("project_id", projectID.String()), zap.Error(err))
			return
		}
	}
}
