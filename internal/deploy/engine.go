package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/archflow/engine/internal/models"
	"github.com/archflow/engine/internal/repository"
	appErr "github.com/archflow/engine/pkg/errors"
	"github.com/archflow/engine/pkg/logger"
	"github.com/google/uuid"
	"github.com/hashicorp/terraform-exec/tfexec"
	tfjson "github.com/hashicorp/terraform-json"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Enqueuer hands an admitted job to the worker pool.
type Enqueuer interface {
	EnqueueDeployment(ctx context.Context, action string, jobID uuid.UUID) error
}

// Runner executes terraform in a workspace, streaming output line by line.
// Split out of Engine so tests can run the state machine without a terraform
// binary.
type Runner interface {
	Apply(ctx context.Context, dir string, emit func(string)) (*RunResult, error)
	Destroy(ctx context.Context, dir string, emit func(string)) error
}

// RunResult carries what a successful apply leaves behind.
type RunResult struct {
	State   []byte
	Outputs map[string]any
}

// Engine owns the deployment job lifecycle: admission on the API side,
// execution on the worker side. Every job moves pending to running to
// exactly one terminal state, and at most one job runs per project.
type Engine struct {
	ws        *Workspaces
	guard     *Guard
	hub       *Hub
	relay     *RedisPublisher
	runner    Runner
	enqueuer  Enqueuer
	projects  repository.ProjectRepository
	archs     repository.ArchitectureRepository
	deploys   repository.DeploymentRepository
	resources repository.ResourceRepository
	tailLines int
}

type EngineParams struct {
	Workspaces    *Workspaces
	Guard         *Guard
	Hub           *Hub
	Relay         *RedisPublisher
	Runner        Runner
	Enqueuer      Enqueuer
	Projects      repository.ProjectRepository
	Architectures repository.ArchitectureRepository
	Deployments   repository.DeploymentRepository
	Resources     repository.ResourceRepository
	TailLines     int
}

func NewEngine(p EngineParams) *Engine {
	if p.TailLines <= 0 {
		p.TailLines = 50
	}
	return &Engine{
		ws:        p.Workspaces,
		guard:     p.Guard,
		hub:       p.Hub,
		relay:     p.Relay,
		runner:    p.Runner,
		enqueuer:  p.Enqueuer,
		projects:  p.Projects,
		archs:     p.Architectures,
		deploys:   p.Deployments,
		resources: p.Resources,
		tailLines: p.TailLines,
	}
}

// RequestApply admits an apply for the project's latest architecture
// version. It rejects when the version has no generated code or another job
// is still active, then records a pending job and enqueues it.
func (e *Engine) RequestApply(ctx context.Context, projectID uuid.UUID) (*models.DeploymentJob, error) {
	var project models.Project
	if err := e.projects.GetByID(ctx, projectID, &project); err != nil {
		return nil, err
	}

	var arch models.Architecture
	if err := e.archs.GetLatestByProject(ctx, projectID, &arch); err != nil {
		if appErr.IsCode(err, appErr.CodeNotFound) {
			return nil, appErr.New(appErr.CodeInvalid, "project has no architecture to deploy")
		}
		return nil, err
	}
	if !arch.HasCode() {
		return nil, appErr.New(appErr.CodeInvalid,
			fmt.Sprintf("architecture version %d has no generated code", arch.Version))
	}

	return e.admit(ctx, projectID, arch.Version, models.ActionApply)
}

// RequestDestroy admits a destroy of whatever the last successful apply
// created. Destroying a project that never deployed is allowed and completes
// immediately in the worker.
func (e *Engine) RequestDestroy(ctx context.Context, projectID uuid.UUID) (*models.DeploymentJob, error) {
	var project models.Project
	if err := e.projects.GetByID(ctx, projectID, &project); err != nil {
		return nil, err
	}

	version := 1
	var arch models.Architecture
	if err := e.archs.GetLatestByProject(ctx, projectID, &arch); err == nil {
		version = arch.Version
	}

	return e.admit(ctx, projectID, version, models.ActionDestroy)
}

func (e *Engine) admit(ctx context.Context, projectID uuid.UUID, version int, action string) (*models.DeploymentJob, error) {
	if err := e.checkNoActiveJob(ctx, projectID); err != nil {
		return nil, err
	}

	job := &models.DeploymentJob{
		ProjectID:           projectID,
		ArchitectureVersion: version,
		Action:              action,
		Status:              models.JobPending,
	}
	if err := e.deploys.Create(ctx, job); err != nil {
		return nil, err
	}
	if err := e.enqueuer.EnqueueDeployment(ctx, action, job.ID); err != nil {
		now := time.Now().UTC()
		_ = e.deploys.MarkTerminal(ctx, job.ID, models.JobFailed, "", "enqueue failed: "+err.Error(), now)
		return nil, appErr.Wrap(err, appErr.CodeUnavailable, "deployment could not be queued")
	}

	logger.L().Info("deployment admitted",
		zap.String("project_id", projectID.String()),
		zap.String("job_id", job.ID.String()),
		zap.String("action", action),
		zap.Int("version", version))
	return job, nil
}

func (e *Engine) checkNoActiveJob(ctx context.Context, projectID uuid.UUID) error {
	if e.guard.Held(ctx, projectID) {
		return appErr.New(appErr.CodeDeploymentInProgress, "a deployment is already running for this project")
	}
	var last models.DeploymentJob
	err := e.deploys.GetLatestByProject(ctx, projectID, &last)
	if err != nil {
		if appErr.IsCode(err, appErr.CodeNotFound) {
			return nil
		}
		return err
	}
	if !models.JobStateTerminal(last.Status) {
		return appErr.New(appErr.CodeDeploymentInProgress,
			fmt.Sprintf("job %s is still %s", last.ID, last.Status)).
			WithMeta("job_id", last.ID.String())
	}
	return nil
}

// Run executes one admitted job. It is invoked from the worker and is safe
// against task redelivery: a job already past pending is left untouched.
func (e *Engine) Run(ctx context.Context, jobID uuid.UUID) error {
	var job models.DeploymentJob
	if err := e.deploys.GetByID(ctx, jobID, &job); err != nil {
		return err
	}
	if models.JobStateTerminal(job.Status) {
		logger.L().Info("skipping replayed deployment task",
			zap.String("job_id", jobID.String()), zap.String("status", job.Status))
		return nil
	}

	release, err := e.guard.TryAcquire(ctx, job.ProjectID)
	if err != nil {
		// another run holds the project, let the queue retry later
		return err
	}
	defer release()

	stream := e.hub.Open(jobID)
	defer e.hub.Drop(jobID)
	emit := func(line string) {
		stream.Publish(line)
		e.relay.Publish(ctx, job.ProjectID, line)
	}

	// The job shows Running only once terraform is actually about to start,
	// not while the workspace is still being prepared.
	start := func() error {
		return e.deploys.MarkRunning(ctx, jobID, time.Now().UTC())
	}

	runErr := e.execute(ctx, &job, emit, start)

	logs := strings.Join(stream.Tail(0), "\n")
	now := time.Now().UTC()
	if runErr != nil {
		tail := strings.Join(stream.Tail(e.tailLines), "\n")
		msg := runErr.Error()
		if tail != "" {
			msg = msg + "\n\nlast output:\n" + tail
		}
		if err := e.deploys.MarkTerminal(ctx, jobID, models.JobFailed, logs, msg, now); err != nil {
			logger.L().Error("failed job not recorded", zap.String("job_id", jobID.String()), zap.Error(err))
		}
		logger.L().Error("deployment failed",
			zap.String("job_id", jobID.String()),
			zap.String("project_id", job.ProjectID.String()),
			zap.Error(runErr))
		// terminal state recorded, do not let the queue retry
		return nil
	}

	if err := e.deploys.MarkTerminal(ctx, jobID, models.JobSucceeded, logs, "", now); err != nil {
		logger.L().Error("succeeded job not recorded", zap.String("job_id", jobID.String()), zap.Error(err))
		return err
	}
	logger.L().Info("deployment succeeded",
		zap.String("job_id", jobID.String()),
		zap.String("project_id", job.ProjectID.String()),
		zap.String("action", job.Action))
	return nil
}

func (e *Engine) execute(ctx context.Context, job *models.DeploymentJob, emit func(string), start func() error) error {
	switch job.Action {
	case models.ActionApply:
		return e.runApply(ctx, job, emit, start)
	case models.ActionDestroy:
		return e.runDestroy(ctx, job, emit, start)
	default:
		return appErr.New(appErr.CodeInvalid, fmt.Sprintf("unknown action %q", job.Action))
	}
}

func (e *Engine) runApply(ctx context.Context, job *models.DeploymentJob, emit func(string), start func() error) error {
	var arch models.Architecture
	if err := e.archs.GetByVersion(ctx, job.ProjectID, job.ArchitectureVersion, &arch); err != nil {
		return err
	}
	var files map[string]string
	if err := json.Unmarshal(arch.TerraformFiles, &files); err != nil || len(files) == 0 {
		return appErr.New(appErr.CodeInvalid, "architecture version has no usable terraform files")
	}
	if err := NewSanitizer().Check(files); err != nil {
		return err
	}

	emit(fmt.Sprintf("materializing workspace for version %d", job.ArchitectureVersion))
	if err := e.ws.writeFiles(job.ProjectID, files); err != nil {
		return err
	}

	if err := start(); err != nil {
		return err
	}
	res, err := e.runner.Apply(ctx, e.ws.Dir(job.ProjectID), emit)
	if err != nil {
		return err
	}

	// State persists even if the later bookkeeping fails, it is the one
	// artifact a destroy depends on.
	if err := e.deploys.SaveStateHandle(ctx, job.ID, res.State); err != nil {
		return err
	}
	if res.Outputs != nil {
		if b, err := json.Marshal(res.Outputs); err == nil {
			if err := e.deploys.SaveOutputs(ctx, job.ID, b); err != nil {
				logger.L().Warn("outputs not recorded", zap.String("job_id", job.ID.String()), zap.Error(err))
			}
		}
	}
	e.recordResources(ctx, job, res.State)
	return nil
}

// runDestroy tears down whatever terraform knows about in the project's
// workspace. Destroy runs even when no apply was ever recorded: resources
// created outside the platform can still live in the workspace state, and
// only terraform can tell. A project with no workspace on disk has nothing
// terraform could act on and completes immediately.
func (e *Engine) runDestroy(ctx context.Context, job *models.DeploymentJob, emit func(string), start func() error) error {
	dir := e.ws.Dir(job.ProjectID)
	if _, err := os.Stat(dir); err != nil {
		emit("no workspace found, nothing to destroy")
		return nil
	}

	if err := start(); err != nil {
		return err
	}
	if err := e.runner.Destroy(ctx, dir, emit); err != nil {
		return err
	}

	if err := e.resources.ReplaceForProject(ctx, job.ProjectID, nil); err != nil {
		logger.L().Warn("resource records not cleared", zap.String("project_id", job.ProjectID.String()), zap.Error(err))
	}
	var lastApply models.DeploymentJob
	if err := e.deploys.LatestSucceededApply(ctx, job.ProjectID, &lastApply); err == nil {
		if err := e.deploys.SaveStateHandle(ctx, lastApply.ID, nil); err != nil {
			logger.L().Warn("state handle not cleared", zap.String("job_id", lastApply.ID.String()), zap.Error(err))
		}
	} else if !appErr.IsCode(err, appErr.CodeNotFound) {
		logger.L().Warn("state handle lookup failed", zap.String("project_id", job.ProjectID.String()), zap.Error(err))
	}
	return nil
}

// recordResources rebuilds the project's resource inventory from the state
// handle. Best effort: an unparseable state leaves the old inventory alone.
func (e *Engine) recordResources(ctx context.Context, job *models.DeploymentJob, state []byte) {
	var parsed tfjson.State
	if err := json.Unmarshal(state, &parsed); err != nil {
		logger.L().Warn("state handle not parseable, resources not recorded",
			zap.String("job_id", job.ID.String()), zap.Error(err))
		return
	}
	if parsed.Values == nil || parsed.Values.RootModule == nil {
		return
	}

	var rows []models.Resource
	for _, r := range parsed.Values.RootModule.Resources {
		attrs := datatypes.JSON([]byte("null"))
		if b, err := json.Marshal(r.AttributeValues); err == nil {
			attrs = datatypes.JSON(b)
		}
		rows = append(rows, models.Resource{
			ProjectID:    job.ProjectID,
			JobID:        job.ID,
			ResourceType: r.Type,
			ResourceName: r.Name,
			Attributes:   attrs,
		})
	}
	if err := e.resources.ReplaceForProject(ctx, job.ProjectID, rows); err != nil {
		logger.L().Warn("resources not recorded", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
}

// TerraformRunner is the production Runner, backed by terraform-exec.
type TerraformRunner struct {
	bin string
}

// NewTerraformRunner resolves the terraform binary. bin may be empty to use
// PATH lookup.
func NewTerraformRunner(bin string) (*TerraformRunner, error) {
	if bin == "" {
		found, err := exec.LookPath("terraform")
		if err != nil {
			return nil, appErr.Wrap(err, appErr.CodeUnavailable, "terraform binary not found")
		}
		bin = found
	}
	return &TerraformRunner{bin: bin}, nil
}

func (r *TerraformRunner) open(dir string, emit func(string)) (*tfexec.Terraform, *lineWriter, error) {
	tf, err := tfexec.NewTerraform(dir, r.bin)
	if err != nil {
		return nil, nil, appErr.Wrap(err, appErr.CodeInternal, "terraform setup failed")
	}
	lw := newLineWriter(emit)
	tf.SetStdout(lw)
	tf.SetStderr(lw)
	return tf, lw, nil
}

func (r *TerraformRunner) Apply(ctx context.Context, dir string, emit func(string)) (*RunResult, error) {
	tf, lw, err := r.open(dir, emit)
	if err != nil {
		return nil, err
	}
	defer lw.Flush()

	emit("running terraform init")
	if err := tf.Init(ctx, tfexec.Upgrade(true)); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "terraform init failed")
	}
	emit("running terraform apply")
	if err := tf.Apply(ctx); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "terraform apply failed")
	}

	state, err := tf.Show(ctx)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "terraform show failed")
	}
	stateBytes, err := json.Marshal(state)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "encode state failed")
	}

	res := &RunResult{State: stateBytes}
	if outputs, err := tf.Output(ctx); err != nil {
		logger.L().Warn("terraform output failed", zap.Error(err))
	} else {
		res.Outputs = make(map[string]any, len(outputs))
		for k, v := range outputs {
			res.Outputs[k] = v.Value
		}
	}
	return res, nil
}

func (r *TerraformRunner) Destroy(ctx context.Context, dir string, emit func(string)) error {
	tf, lw, err := r.open(dir, emit)
	if err != nil {
		return err
	}
	defer lw.Flush()

	emit("running terraform init")
	if err := tf.Init(ctx, tfexec.Upgrade(true)); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "terraform init failed")
	}
	emit("running terraform destroy")
	if err := tf.Destroy(ctx); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "terraform destroy failed")
	}
	return nil
}
