package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/repassist-platform/internal/workflow"
)

type capturingSender struct {
	messages []EmailMessage
	err      error
}

func (s *capturingSender) Send(_ context.Context, msg EmailMessage) error {
	s.messages = append(s.messages, msg)
	return s.err
}

func TestEscalatorSendsFailureSummary(t *testing.T) {
	sender := &capturingSender{}
	escalator := NewEscalator(sender, "supervisor@example.com", nil)

	run := &workflow.WorkflowRun{
		ID:             "run-1",
		ConversationID: "conv-1",
		Attempts:       3,
		ErrorKind:      workflow.KindNoSources,
	}
	verdict := &workflow.EvaluationVerdict{
		Scores:   map[string]int{workflow.CriterionRelevancy: 1},
		Feedback: "results never matched the question",
	}

	escalator.NotifyRunFailed(context.Background(), run, verdict)

	require.Len(t, sender.messages, 1)
	msg := sender.messages[0]
	assert.Equal(t, "supervisor@example.com", msg.To)
	assert.Contains(t, msg.Subject, "conv-1")
	assert.Contains(t, msg.Body, "3 attempt(s)")
	assert.Contains(t, msg.Body, workflow.KindNoSources)
	assert.Contains(t, msg.Body, "results never matched the question")
}

func TestEscalatorSwallowsSendErrors(t *testing.T) {
	sender := &capturingSender{err: errors.New("smtp down")}
	escalator := NewEscalator(sender, "supervisor@example.com", nil)

	escalator.NotifyRunFailed(context.Background(), &workflow.WorkflowRun{ID: "run-1"}, nil)
	// no panic, no propagation
	assert.Len(t, sender.messages, 1)
}
