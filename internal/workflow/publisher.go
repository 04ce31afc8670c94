package workflow

import (
	"context"
	"fmt"

	"github.com/wolfman30/repassist-platform/pkg/logging"
)

// Publisher enqueues run requests for asynchronous processing. Voice
// transcription and other upstream producers use this path instead of the
// HTTP handler.
type Publisher struct {
	queue  queueClient
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue queueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("workflow: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		queue:  queue,
		logger: logger,
	}
}

// EnqueueRun publishes a run-request job.
func (p *Publisher) EnqueueRun(ctx context.Context, jobID string, req RunRequest) error {
	if ctx == nil {
		ctx = context.Background()
	}

	payload, body, err := encodeRunJob(jobID, req)
	if err != nil {
		return err
	}

	if err := p.queue.Send(ctx, body); err != nil {
		return fmt.Errorf("workflow: failed to enqueue run job: %w", err)
	}

	p.logger.Debug("run job enqueued", "job_id", payload.ID, "conversation_id", req.ConversationID)
	return nil
}
