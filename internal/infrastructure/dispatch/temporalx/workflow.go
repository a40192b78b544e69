package temporalx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
	sdklog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	sdkworker "go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/zakeri-dev/kbpipe/internal/core/domain"
	"github.com/zakeri-dev/kbpipe/internal/core/ports"
)

// ProcessDocumentWorkflowName is the registration name shared by the API-side
// dispatcher and the worker, so the API binary needs no reference to the
// worker's function value.
const ProcessDocumentWorkflowName = "ProcessDocumentWorkflow"

type ProcessDocumentWorkflowParam struct {
	KnowledgeBaseID string                   `json:"knowledge_base_id"`
	DocumentID      string                   `json:"document_id"`
	Options         domain.ProcessingOptions `json:"options"`
}

// Worker hosts the workflow and activity implementations. The workflow is a
// thin shell: all pipeline logic lives in the processor, Temporal contributes
// durability and attempt accounting.
type Worker struct {
	processor       ports.DocumentProcessor
	activityTimeout time.Duration
}

func NewWorker(processor ports.DocumentProcessor, activityTimeout time.Duration) *Worker {
	if activityTimeout <= 0 {
		activityTimeout = 15 * time.Minute
	}
	return &Worker{
		processor:       processor,
		activityTimeout: activityTimeout,
	}
}

// Register attaches the workflow and activity to a Temporal worker.
func (w *Worker) Register(tw sdkworker.Worker) {
	tw.RegisterWorkflowWithOptions(w.ProcessDocumentWorkflow, workflow.RegisterOptions{Name: ProcessDocumentWorkflowName})
	tw.RegisterActivity(w.ProcessDocumentActivity)
}

func (w *Worker) ProcessDocumentWorkflow(ctx workflow.Context, param ProcessDocumentWorkflowParam) error {
	logger := workflow.GetLogger(ctx)
	logger.Info("process document workflow started",
		"knowledge_base_id", param.KnowledgeBaseID,
		"document_id", param.DocumentID,
	)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: w.activityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	})

	return workflow.ExecuteActivity(ctx, w.ProcessDocumentActivity, param).Get(ctx, nil)
}

func (w *Worker) ProcessDocumentActivity(ctx context.Context, param ProcessDocumentWorkflowParam) error {
	return w.processor.ProcessDocument(ctx, param.KnowledgeBaseID, param.DocumentID, param.Options)
}

// RunWorker hosts the workflow and activity on the configured task queue
// until ctx is canceled. An empty host port means the deployment runs without
// Temporal; the call is then a no-op so the caller's queue consumer still
// carries the load.
func RunWorker(ctx context.Context, cfg Config, processor ports.DocumentProcessor, activityTimeout time.Duration, logger *slog.Logger) error {
	if cfg.HostPort == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	c, err := client.NewLazyClient(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    sdklog.NewStructuredLogger(logger),
	})
	if err != nil {
		return fmt.Errorf("create temporal client: %w", err)
	}
	defer c.Close()

	tw := sdkworker.New(c, cfg.TaskQueue, sdkworker.Options{})
	NewWorker(processor, activityTimeout).Register(tw)

	if err := tw.Start(); err != nil {
		return fmt.Errorf("start temporal worker: %w", err)
	}
	defer tw.Stop()

	logger.Info("temporal_worker_started", slog.String("task_queue", cfg.TaskQueue))
	<-ctx.Done()
	return nil
}
