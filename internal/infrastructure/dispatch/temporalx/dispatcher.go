package temporalx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	enums "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	sdklog "go.temporal.io/sdk/log"

	"github.com/zakeri-dev/kbpipe/internal/core/domain"
)

const healthTimeout = 2 * time.Second

type Config struct {
	HostPort  string
	Namespace string
	TaskQueue string
}

// Dispatcher starts processing workflows on a Temporal cluster. It is the
// preferred processing tier: when the cluster is unreachable the caller is
// expected to probe Available and fall through to the queue instead.
type Dispatcher struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewDispatcher builds a dispatcher around a lazy Temporal client, so an
// offline cluster at boot does not fail startup. An empty host port disables
// the tier entirely.
func NewDispatcher(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HostPort == "" {
		return &Dispatcher{logger: logger}, nil
	}

	c, err := client.NewLazyClient(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    sdklog.NewStructuredLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("create temporal client: %w", err)
	}
	return &Dispatcher{
		client:    c,
		taskQueue: cfg.TaskQueue,
		logger:    logger,
	}, nil
}

func (d *Dispatcher) Close() {
	if d.client != nil {
		d.client.Close()
	}
}

func (d *Dispatcher) Available(ctx context.Context) bool {
	if d.client == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if _, err := d.client.CheckHealth(ctx, &client.CheckHealthRequest{}); err != nil {
		d.logger.Debug("temporal_unavailable", slog.Any("error", err))
		return false
	}
	return true
}

func (d *Dispatcher) DispatchProcessing(ctx context.Context, knowledgeBaseID, documentID string, opts domain.ProcessingOptions) error {
	if d.client == nil {
		return domain.WrapError(domain.ErrUnavailable, "temporal dispatch", errors.New("client not configured"))
	}

	workflowID := "process-document-" + documentID
	options := client.StartWorkflowOptions{
		ID:                    workflowID,
		TaskQueue:             d.taskQueue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}

	run, err := d.client.ExecuteWorkflow(ctx, options, ProcessDocumentWorkflowName, ProcessDocumentWorkflowParam{
		KnowledgeBaseID: knowledgeBaseID,
		DocumentID:      documentID,
		Options:         opts,
	})
	if err != nil {
		return fmt.Errorf("start processing workflow: %w", err)
	}

	d.logger.Info("workflow_dispatched",
		slog.String("workflow_id", workflowID),
		slog.String("run_id", run.GetRunID()),
		slog.String("document_id", documentID),
	)
	return nil
}
