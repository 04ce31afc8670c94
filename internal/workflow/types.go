package workflow

import (
	"time"

	"github.com/wolfman30/repassist-platform/internal/source"
)

// State names one node of the run state machine.
type State string

const (
	StateIdle        State = "IDLE"
	StateDetecting   State = "DETECTING"
	StateFormulating State = "FORMULATING"
	StateSearching   State = "SEARCHING"
	StateGenerating  State = "GENERATING"
	StateEvaluating  State = "EVALUATING"
	StateSucceeded   State = "SUCCEEDED"
	StateFailed      State = "FAILED"
	StateAborted     State = "ABORTED"
)

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateAborted:
		return true
	}
	return false
}

// Message roles within a conversation transcript.
const (
	RoleCustomer       = "customer"
	RoleRepresentative = "representative"
	RoleSystem         = "system"
)

// Message is one turn of the customer/representative conversation.
// Append-only once persisted.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation lifecycle statuses.
const (
	ConversationActive    = "active"
	ConversationCompleted = "completed"
	ConversationEscalated = "escalated"
)

// Conversation is the engine's view of a conversation record.
type Conversation struct {
	ID               string    `json:"id"`
	RepresentativeID string    `json:"representative_id"`
	CustomerID       string    `json:"customer_id,omitempty"`
	Channel          string    `json:"channel"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
}

// QueryMetadata is the structured companion to an optimized query. All keys
// are optional to consumers; missing means empty.
type QueryMetadata struct {
	Keywords []string `json:"keywords,omitempty"`
	Entities []string `json:"entities,omitempty"`
	Intent   string   `json:"intent,omitempty"`
}

// QueryResult is C2's output.
type QueryResult struct {
	OptimizedQuery string        `json:"optimized_query"`
	Metadata       QueryMetadata `json:"metadata"`
}

// AttemptFeedback carries one prior attempt's query and evaluator feedback
// into the next formulation.
type AttemptFeedback struct {
	Attempt  int    `json:"attempt"`
	Query    string `json:"query"`
	Feedback string `json:"feedback"`
}

// Citation is a (label, url) pair that must appear inline in the resolution
// text and whose URL must come from the attempt's source results.
type Citation struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Evaluation criteria scored 1-5.
const (
	CriterionAccuracy         = "accuracy"
	CriterionRelevancy        = "relevancy"
	CriterionFactualGrounding = "factual_grounding"
	CriterionCitationQuality  = "citation_quality"
	CriterionClarity          = "clarity"
)

// EvaluationVerdict is C5's structured output.
type EvaluationVerdict struct {
	Scores           map[string]int `json:"scores"`
	GuardrailsPassed bool           `json:"guardrails_passed"`
	Feedback         string         `json:"feedback"`
	Passed           bool           `json:"passed"`
}

// MinScore returns the lowest criterion score, or 0 when no scores exist.
func (v EvaluationVerdict) MinScore() int {
	min := 0
	for _, s := range v.Scores {
		if min == 0 || s < min {
			min = s
		}
	}
	return min
}

// RunAttempt is one pass through formulate -> search -> generate -> evaluate.
// It is sealed (immutable) once the verdict or failure kind is recorded.
type RunAttempt struct {
	RunID          string             `json:"run_id"`
	Index          int                `json:"index"` // 1-based
	Query          string             `json:"query"`
	QueryMetadata  QueryMetadata      `json:"query_metadata"`
	Results        []source.Result    `json:"results"`
	SourceErrors   map[string]string  `json:"source_errors,omitempty"`
	ResolutionText string             `json:"resolution_text,omitempty"`
	Citations      []Citation         `json:"citations,omitempty"`
	Verdict        *EvaluationVerdict `json:"verdict,omitempty"`
	ErrorKind      string             `json:"error_kind,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	SealedAt       time.Time          `json:"sealed_at"`
}

// WorkflowRun is the per-invocation record of the pipeline.
type WorkflowRun struct {
	ID               string             `json:"id"`
	ConversationID   string             `json:"conversation_id"`
	RepresentativeID string             `json:"representative_id"`
	State            State              `json:"state"`
	Attempts         int                `json:"attempts"`
	FinalVerdict     *EvaluationVerdict `json:"final_verdict,omitempty"`
	ErrorKind        string             `json:"error_kind,omitempty"`
	StartedAt        time.Time          `json:"started_at"`
	CompletedAt      time.Time          `json:"completed_at,omitempty"`
}

// Resolution review statuses.
const (
	ResolutionPendingReview = "pending_review"
	ResolutionApproved      = "approved"
	ResolutionRejected      = "rejected"
	ResolutionEdited        = "edited"
)

// Resolution is the sealed output of a passing attempt, promoted to rep
// review.
type Resolution struct {
	ID             string         `json:"id"`
	RunID          string         `json:"run_id"`
	AttemptIndex   int            `json:"attempt_index"`
	ConversationID string         `json:"conversation_id"`
	Text           string         `json:"text"`
	Citations      []Citation     `json:"citations"`
	Scores         map[string]int `json:"scores"`
	Status         string         `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Approval actions.
const (
	ApprovalApprove = "approve"
	ApprovalReject  = "reject"
	ApprovalEdit    = "edit"
)

// ApprovalRecord is the representative's terminal action on a Resolution.
type ApprovalRecord struct {
	ResolutionID     string    `json:"resolution_id"`
	Action           string    `json:"action"`
	EditedText       string    `json:"edited_text,omitempty"`
	Feedback         string    `json:"feedback,omitempty"`
	RepresentativeID string    `json:"representative_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// RunRequest is the external entrypoint payload (HTTP handler or queue job).
type RunRequest struct {
	ConversationID   string `json:"conversation_id"`
	RepresentativeID string `json:"representative_id"`
	Force            bool   `json:"force"`
}

// Run request statuses returned to callers.
const (
	StatusStarted      = "started"
	StatusNotTriggered = "not_triggered"
)

// RunReceipt is returned by StartRun.
type RunReceipt struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}
