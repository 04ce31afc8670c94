package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/repassist-platform/pkg/logging"
)

const (
	defaultWorkerCount  = 2
	defaultWaitSeconds  = 2
	defaultBatchSize    = 5
	maxWaitSeconds      = 20
	maxReceiveBatchSize = 10
	deleteTimeout       = 5 * time.Second
)

// RunStarter is the subset of the engine the worker needs.
type RunStarter interface {
	StartRun(ctx context.Context, req RunRequest) (RunReceipt, error)
}

// JobUpdater records dispatch outcomes; nil disables journaling.
type JobUpdater interface {
	MarkCompleted(ctx context.Context, jobID string, receipt RunReceipt) error
	MarkFailed(ctx context.Context, jobID string, errorKind string) error
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize overrides how many messages each poll should return.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// Worker consumes queued run requests and dispatches them to the engine.
// A run_in_progress rejection is recorded on the job and the message is
// dropped; duplicate deliveries therefore never launch a second pipeline.
type Worker struct {
	starter RunStarter
	queue   queueClient
	jobs    JobUpdater
	logger  *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

func NewWorker(starter RunStarter, queue queueClient, jobs JobUpdater, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if starter == nil {
		panic("workflow: run starter cannot be nil")
	}
	if queue == nil {
		panic("workflow: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		starter: starter,
		queue:   queue,
		jobs:    jobs,
		logger:  logger,
		cfg:     cfg,
	}
}

// Start launches the consumer goroutines; they stop when ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until every consumer goroutine has stopped.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("workflow worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("workflow worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive run jobs", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	defer w.deleteMessage(msg.ReceiptHandle)

	var payload runJobPayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		w.logger.Error("failed to decode run job", "error", err)
		return
	}

	receipt, err := w.starter.StartRun(ctx, payload.Request)
	if err != nil {
		kind := KindOf(err)
		w.logger.Warn("run dispatch rejected",
			"job_id", payload.ID,
			"conversation_id", payload.Request.ConversationID,
			"error_kind", kind,
			"error", err,
		)
		w.markFailed(payload.ID, kind)
		return
	}

	w.logger.Info("run dispatched",
		"job_id", payload.ID,
		"run_id", receipt.RunID,
		"status", receipt.Status,
	)
	w.markCompleted(payload.ID, receipt)
}

func (w *Worker) deleteMessage(receiptHandle string) {
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete run job", "error", err)
	}
}

func (w *Worker) markCompleted(jobID string, receipt RunReceipt) {
	if w.jobs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
	defer cancel()
	if err := w.jobs.MarkCompleted(ctx, jobID, receipt); err != nil {
		w.logger.Error("failed to mark job completed", "job_id", jobID, "error", err)
	}
}

func (w *Worker) markFailed(jobID string, errorKind string) {
	if w.jobs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
	defer cancel()
	if err := w.jobs.MarkFailed(ctx, jobID, errorKind); err != nil {
		w.logger.Error("failed to mark job failed", "job_id", jobID, "error", err)
	}
}
