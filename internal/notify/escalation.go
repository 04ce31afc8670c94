package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/repassist-platform/internal/workflow"
	"github.com/wolfman30/repassist-platform/pkg/logging"
)

// Escalator emails a supervisor when a run exhausts its retries so a human
// can pick up the conversation. It implements workflow.Notifier.
type Escalator struct {
	sender          EmailSender
	supervisorEmail string
	logger          *logging.Logger
}

func NewEscalator(sender EmailSender, supervisorEmail string, logger *logging.Logger) *Escalator {
	if sender == nil {
		panic("notify: email sender cannot be nil")
	}
	if supervisorEmail == "" {
		panic("notify: supervisor email cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Escalator{
		sender:          sender,
		supervisorEmail: supervisorEmail,
		logger:          logger,
	}
}

var _ workflow.Notifier = (*Escalator)(nil)

// NotifyRunFailed sends the escalation email. Failures are logged, never
// propagated; notification must not affect run outcomes.
func (e *Escalator) NotifyRunFailed(ctx context.Context, run *workflow.WorkflowRun, verdict *workflow.EvaluationVerdict) {
	var body strings.Builder
	fmt.Fprintf(&body, "Assist run %s for conversation %s failed after %d attempt(s).\n",
		run.ID, run.ConversationID, run.Attempts)
	if run.ErrorKind != "" {
		fmt.Fprintf(&body, "Error kind: %s\n", run.ErrorKind)
	}
	if verdict != nil {
		fmt.Fprintf(&body, "Last verdict scores: %v\n", verdict.Scores)
		if verdict.Feedback != "" {
			fmt.Fprintf(&body, "Evaluator feedback: %s\n", verdict.Feedback)
		}
	}
	body.WriteString("\nThe representative has been shown the failure and may need help answering manually.\n")

	msg := EmailMessage{
		To:      e.supervisorEmail,
		Subject: fmt.Sprintf("[rep-assist] run failed for conversation %s", run.ConversationID),
		Body:    body.String(),
	}
	if err := e.sender.Send(ctx, msg); err != nil {
		e.logger.Error("failed to send escalation email",
			"run_id", run.ID, "conversation_id", run.ConversationID, "error", err)
		return
	}
	e.logger.Info("escalation email sent", "run_id", run.ID, "to", e.supervisorEmail)
}
