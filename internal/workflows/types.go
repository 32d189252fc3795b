package workflows

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"

	"github.com/tendant/simple-hazard-pipeline/internal/dbosruntime"
	"github.com/tendant/simple-hazard-pipeline/pkg/pipeline"
)

// WorkflowContext contains context for workflow execution
type WorkflowContext struct {
	Ctx     context.Context
	Request pipeline.ProcessRequest
	RunID   string
}

// WorkflowResult contains the result of workflow execution.
// Error is a message so the result survives DBOS checkpointing.
type WorkflowResult struct {
	Success bool
	Error   string
	Outputs map[string]interface{}
}

func failed(err error) *WorkflowResult {
	return &WorkflowResult{Success: false, Error: err.Error()}
}

// Workflow defines the interface for processing workflows
type Workflow interface {
	// Execute runs the workflow
	Execute(wctx *WorkflowContext) (*WorkflowResult, error)

	// Name returns the workflow name
	Name() string
}

// WorkflowRunner executes workflows
type WorkflowRunner struct {
	workflows   map[string]Workflow
	dbosRuntime *dbosruntime.Runtime
}

// NewWorkflowRunner creates a new workflow runner. dbosRuntime may be nil,
// in which case only synchronous runs are available.
func NewWorkflowRunner(dbosRuntime *dbosruntime.Runtime) *WorkflowRunner {
	runner := &WorkflowRunner{
		workflows:   make(map[string]Workflow),
		dbosRuntime: dbosRuntime,
	}

	// Register the DBOS workflow function
	if dbosRuntime != nil {
		dbos.RegisterWorkflow(dbosRuntime.Context(), runner.executeWorkflowDBOS)
	}

	return runner
}

// Register registers a workflow
func (r *WorkflowRunner) Register(job string, workflow Workflow) {
	r.workflows[job] = workflow
}

// Run executes a workflow for the given job type synchronously
func (r *WorkflowRunner) Run(wctx *WorkflowContext) (*WorkflowResult, error) {
	workflow, ok := r.workflows[wctx.Request.Job]
	if !ok {
		return failed(ErrWorkflowNotFound), ErrWorkflowNotFound
	}

	return workflow.Execute(wctx)
}

// RunAsync enqueues a workflow for async execution via DBOS
func (r *WorkflowRunner) RunAsync(ctx context.Context, req pipeline.ProcessRequest) (string, error) {
	if r.dbosRuntime == nil {
		return "", errors.New("DBOS runtime not initialized")
	}
	if _, ok := r.workflows[req.Job]; !ok {
		return "", ErrWorkflowNotFound
	}

	workflowID := dbosruntime.RunID(req.Job, req.Key, time.Now())

	handle, err := dbos.RunWorkflow[pipeline.ProcessRequest, *WorkflowResult](
		r.dbosRuntime.Context(),
		r.executeWorkflowDBOS,
		req,
		dbos.WithWorkflowID(workflowID),
		dbos.WithQueue(r.dbosRuntime.QueueName()),
	)
	if err != nil {
		return "", err
	}

	return handle.GetWorkflowID(), nil
}

// executeWorkflowDBOS is the DBOS workflow function that wraps registered workflows
func (r *WorkflowRunner) executeWorkflowDBOS(dbosCtx dbos.DBOSContext, req pipeline.ProcessRequest) (*WorkflowResult, error) {
	workflow, ok := r.workflows[req.Job]
	if !ok {
		return failed(ErrWorkflowNotFound), ErrWorkflowNotFound
	}

	workflowID, err := dbosCtx.GetWorkflowID()
	if err != nil {
		return failed(err), err
	}

	// DBOSContext implements context.Context
	wctx := &WorkflowContext{
		Ctx:     dbosCtx,
		Request: req,
		RunID:   workflowID,
	}

	return workflow.Execute(wctx)
}

// WorkflowStatus represents the status of a workflow execution
type WorkflowStatus struct {
	RunID     string    `json:"run_id"`
	State     string    `json:"state"` // "pending", "running", "succeeded", "failed"
	Workflow  string    `json:"workflow"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetStatus retrieves the status of a workflow execution
func (r *WorkflowRunner) GetStatus(ctx context.Context, runID string) (*WorkflowStatus, error) {
	if r.dbosRuntime == nil {
		return nil, errors.New("status tracking requires DBOS runtime")
	}

	info, err := r.dbosRuntime.GetWorkflowStatus(ctx, runID)
	if err != nil {
		return nil, err
	}

	status := statusFromInfo(*info)
	return &status, nil
}

// ListRuns returns the most recent runs of job, newest first
func (r *WorkflowRunner) ListRuns(ctx context.Context, job string, limit int) ([]WorkflowStatus, error) {
	if r.dbosRuntime == nil {
		return nil, errors.New("status tracking requires DBOS runtime")
	}
	if _, ok := r.workflows[job]; !ok {
		return nil, ErrWorkflowNotFound
	}

	infos, err := r.dbosRuntime.ListRuns(ctx, job, limit)
	if err != nil {
		return nil, err
	}

	runs := make([]WorkflowStatus, 0, len(infos))
	for _, info := range infos {
		runs = append(runs, statusFromInfo(info))
	}
	return runs, nil
}

func statusFromInfo(info dbosruntime.WorkflowStatusInfo) WorkflowStatus {
	return WorkflowStatus{
		RunID:     info.WorkflowUUID,
		State:     stateFromDBOS(info.Status),
		Workflow:  info.Name,
		CreatedAt: time.UnixMilli(info.CreatedAt),
		UpdatedAt: time.UnixMilli(info.UpdatedAt),
	}
}

func stateFromDBOS(status string) string {
	switch strings.ToUpper(status) {
	case "ENQUEUED":
		return "pending"
	case "PENDING":
		return "running"
	case "SUCCESS":
		return "succeeded"
	case "ERROR", "RETRIES_EXCEEDED", "MAX_RECOVERY_ATTEMPTS_EXCEEDED", "CANCELLED":
		return "failed"
	default:
		return strings.ToLower(status)
	}
}
