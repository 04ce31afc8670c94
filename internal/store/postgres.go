package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/repassist-platform/internal/workflow"
	"github.com/wolfman30/repassist-platform/pkg/logging"
)

// db is the subset of pgxpool.Pool the store uses; pgxmock satisfies it too.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements the engine's persistence port plus the
// conversation/resolution reads the HTTP layer needs. Every write is
// idempotent by primary key.
type PostgresStore struct {
	db     db
	logger *logging.Logger
}

func NewPostgresStore(pool *pgxpool.Pool, logger *logging.Logger) *PostgresStore {
	if pool == nil {
		panic("store: pgx pool cannot be nil")
	}
	return newStoreWithDB(pool, logger)
}

func newStoreWithDB(db db, logger *logging.Logger) *PostgresStore {
	if logger == nil {
		logger = logging.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

// CreateConversation inserts a conversation record.
func (s *PostgresStore) CreateConversation(ctx context.Context, conv *workflow.Conversation) error {
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO conversations (id, representative_id, customer_id, channel, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := s.db.Exec(ctx, query,
		conv.ID, conv.RepresentativeID, conv.CustomerID, conv.Channel, conv.Status, conv.CreatedAt); err != nil {
		return fmt.Errorf("store: insert conversation: %w", err)
	}
	return nil
}

// AppendMessage appends a transcript turn. Messages are append-only; the
// (conversation_id, seq) key makes redelivery a no-op.
func (s *PostgresStore) AppendMessage(ctx context.Context, conversationID string, msg workflow.Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	query := `
		INSERT INTO messages (conversation_id, seq, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (conversation_id, seq) DO NOTHING
	`
	if _, err := s.db.Exec(ctx, query,
		conversationID, msg.Seq, msg.Role, msg.Content, msg.Timestamp); err != nil {
		return fmt.Errorf("store: insert message: %w", err)
	}
	return nil
}

// LoadConversation fetches the conversation and its ordered transcript.
func (s *PostgresStore) LoadConversation(ctx context.Context, id string) (*workflow.Conversation, []workflow.Message, error) {
	var conv workflow.Conversation
	row := s.db.QueryRow(ctx, `
		SELECT id, representative_id, COALESCE(customer_id, ''), channel, status, created_at
		FROM conversations
		WHERE id = $1
	`, id)
	if err := row.Scan(&conv.ID, &conv.RepresentativeID, &conv.CustomerID, &conv.Channel, &conv.Status, &conv.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, workflow.NewError(workflow.KindConversationNotFound,
				fmt.Errorf("conversation %s", id))
		}
		return nil, nil, fmt.Errorf("store: load conversation: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT seq, role, content, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("store: load messages: %w", err)
	}
	defer rows.Close()

	var messages []workflow.Message
	for rows.Next() {
		var msg workflow.Message
		if err := rows.Scan(&msg.Seq, &msg.Role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, nil, fmt.Errorf("store: scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("store: iterate messages: %w", err)
	}
	return &conv, messages, nil
}

// SaveRun upserts the run record keyed by run id.
func (s *PostgresStore) SaveRun(ctx context.Context, run *workflow.WorkflowRun) error {
	verdict, err := marshalNullable(run.FinalVerdict)
	if err != nil {
		return fmt.Errorf("store: marshal final verdict: %w", err)
	}
	query := `
		INSERT INTO workflow_runs (id, conversation_id, representative_id, state, attempts, final_verdict, error_kind, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			attempts = EXCLUDED.attempts,
			final_verdict = EXCLUDED.final_verdict,
			error_kind = EXCLUDED.error_kind,
			completed_at = EXCLUDED.completed_at
	`
	if _, err := s.db.Exec(ctx, query,
		run.ID, run.ConversationID, run.RepresentativeID, string(run.State), run.Attempts,
		verdict, run.ErrorKind, run.StartedAt, nullableTime(run.CompletedAt)); err != nil {
		return fmt.Errorf("store: save run: %w", err)
	}
	return nil
}

// SaveAttempt upserts an attempt keyed by (run id, index).
func (s *PostgresStore) SaveAttempt(ctx context.Context, attempt *workflow.RunAttempt) error {
	metadata, err := json.Marshal(attempt.QueryMetadata)
	if err != nil {
		return fmt.Errorf("store: marshal query metadata: %w", err)
	}
	results, err := json.Marshal(attempt.Results)
	if err != nil {
		return fmt.Errorf("store: marshal results: %w", err)
	}
	sourceErrs, err := json.Marshal(attempt.SourceErrors)
	if err != nil {
		return fmt.Errorf("store: marshal source errors: %w", err)
	}
	citations, err := json.Marshal(attempt.Citations)
	if err != nil {
		return fmt.Errorf("store: marshal citations: %w", err)
	}
	verdict, err := marshalNullable(attempt.Verdict)
	if err != nil {
		return fmt.Errorf("store: marshal verdict: %w", err)
	}

	query := `
		INSERT INTO run_attempts (run_id, idx, query, query_metadata, results, source_errors, resolution_text, citations, verdict, error_kind, created_at, sealed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (run_id, idx) DO UPDATE SET
			query = EXCLUDED.query,
			query_metadata = EXCLUDED.query_metadata,
			results = EXCLUDED.results,
			source_errors = EXCLUDED.source_errors,
			resolution_text = EXCLUDED.resolution_text,
			citations = EXCLUDED.citations,
			verdict = EXCLUDED.verdict,
			error_kind = EXCLUDED.error_kind,
			sealed_at = EXCLUDED.sealed_at
	`
	if _, err := s.db.Exec(ctx, query,
		attempt.RunID, attempt.Index, attempt.Query, metadata, results, sourceErrs,
		attempt.ResolutionText, citations, verdict, attempt.ErrorKind,
		attempt.CreatedAt, nullableTime(attempt.SealedAt)); err != nil {
		return fmt.Errorf("store: save attempt: %w", err)
	}
	return nil
}

// SaveResolution upserts the promoted resolution keyed by (run id, attempt).
func (s *PostgresStore) SaveResolution(ctx context.Context, resolution *workflow.Resolution) error {
	citations, err := json.Marshal(resolution.Citations)
	if err != nil {
		return fmt.Errorf("store: marshal citations: %w", err)
	}
	scores, err := json.Marshal(resolution.Scores)
	if err != nil {
		return fmt.Errorf("store: marshal scores: %w", err)
	}

	query := `
		INSERT INTO resolutions (id, run_id, attempt_index, conversation_id, text, citations, scores, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id, attempt_index) DO UPDATE SET
			text = EXCLUDED.text,
			citations = EXCLUDED.citations,
			scores = EXCLUDED.scores,
			status = EXCLUDED.status
	`
	if _, err := s.db.Exec(ctx, query,
		resolution.ID, resolution.RunID, resolution.AttemptIndex, resolution.ConversationID,
		resolution.Text, citations, scores, resolution.Status, resolution.CreatedAt); err != nil {
		return fmt.Errorf("store: save resolution: %w", err)
	}
	return nil
}

// GetRun fetches one run record.
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*workflow.WorkflowRun, error) {
	var run workflow.WorkflowRun
	var state string
	var verdict []byte
	var completedAt *time.Time
	row := s.db.QueryRow(ctx, `
		SELECT id, conversation_id, representative_id, state, attempts, final_verdict, COALESCE(error_kind, ''), started_at, completed_at
		FROM workflow_runs
		WHERE id = $1
	`, runID)
	if err := row.Scan(&run.ID, &run.ConversationID, &run.RepresentativeID, &state, &run.Attempts, &verdict, &run.ErrorKind, &run.StartedAt, &completedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, workflow.NewError(workflow.KindConversationNotFound, fmt.Errorf("run %s", runID))
		}
		return nil, fmt.Errorf("store: load run: %w", err)
	}
	run.State = workflow.State(state)
	if completedAt != nil {
		run.CompletedAt = *completedAt
	}
	if len(verdict) > 0 {
		run.FinalVerdict = &workflow.EvaluationVerdict{}
		if err := json.Unmarshal(verdict, run.FinalVerdict); err != nil {
			return nil, fmt.Errorf("store: decode final verdict: %w", err)
		}
	}
	return &run, nil
}

// ListAttempts returns a run's attempts ordered by index.
func (s *PostgresStore) ListAttempts(ctx context.Context, runID string) ([]workflow.RunAttempt, error) {
	rows, err := s.db.Query(ctx, `
		SELECT run_id, idx, query, query_metadata, results, source_errors, resolution_text, citations, verdict, COALESCE(error_kind, ''), created_at, sealed_at
		FROM run_attempts
		WHERE run_id = $1
		ORDER BY idx
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: load attempts: %w", err)
	}
	defer rows.Close()

	var attempts []workflow.RunAttempt
	for rows.Next() {
		var a workflow.RunAttempt
		var metadata, results, sourceErrs, citations, verdict []byte
		var sealedAt *time.Time
		if err := rows.Scan(&a.RunID, &a.Index, &a.Query, &metadata, &results, &sourceErrs,
			&a.ResolutionText, &citations, &verdict, &a.ErrorKind, &a.CreatedAt, &sealedAt); err != nil {
			return nil, fmt.Errorf("store: scan attempt: %w", err)
		}
		if sealedAt != nil {
			a.SealedAt = *sealedAt
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &a.QueryMetadata); err != nil {
				return nil, fmt.Errorf("store: decode query metadata: %w", err)
			}
		}
		if len(results) > 0 {
			if err := json.Unmarshal(results, &a.Results); err != nil {
				return nil, fmt.Errorf("store: decode results: %w", err)
			}
		}
		if len(sourceErrs) > 0 {
			if err := json.Unmarshal(sourceErrs, &a.SourceErrors); err != nil {
				return nil, fmt.Errorf("store: decode source errors: %w", err)
			}
		}
		if len(citations) > 0 {
			if err := json.Unmarshal(citations, &a.Citations); err != nil {
				return nil, fmt.Errorf("store: decode citations: %w", err)
			}
		}
		if len(verdict) > 0 {
			a.Verdict = &workflow.EvaluationVerdict{}
			if err := json.Unmarshal(verdict, a.Verdict); err != nil {
				return nil, fmt.Errorf("store: decode verdict: %w", err)
			}
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// GetResolution fetches one resolution with its current review status.
func (s *PostgresStore) GetResolution(ctx context.Context, resolutionID string) (*workflow.Resolution, error) {
	var res workflow.Resolution
	var citations, scores []byte
	row := s.db.QueryRow(ctx, `
		SELECT id, run_id, attempt_index, conversation_id, text, citations, scores, status, created_at
		FROM resolutions
		WHERE id = $1
	`, resolutionID)
	if err := row.Scan(&res.ID, &res.RunID, &res.AttemptIndex, &res.ConversationID, &res.Text, &citations, &scores, &res.Status, &res.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("store: load resolution: %w", err)
	}
	if err := json.Unmarshal(citations, &res.Citations); err != nil {
		return nil, fmt.Errorf("store: decode citations: %w", err)
	}
	if err := json.Unmarshal(scores, &res.Scores); err != nil {
		return nil, fmt.Errorf("store: decode scores: %w", err)
	}
	return &res, nil
}

// SaveApproval records the representative's terminal action and flips the
// resolution status. The approval itself is write-once.
func (s *PostgresStore) SaveApproval(ctx context.Context, approval *workflow.ApprovalRecord) error {
	if approval.CreatedAt.IsZero() {
		approval.CreatedAt = time.Now().UTC()
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO approvals (resolution_id, action, edited_text, feedback, representative_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (resolution_id) DO NOTHING
	`, approval.ResolutionID, approval.Action, approval.EditedText, approval.Feedback,
		approval.RepresentativeID, approval.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: save approval: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: resolution %s already reviewed", approval.ResolutionID)
	}

	status := workflow.ResolutionApproved
	switch approval.Action {
	case workflow.ApprovalReject:
		status = workflow.ResolutionRejected
	case workflow.ApprovalEdit:
		status = workflow.ResolutionEdited
	}
	if _, err := s.db.Exec(ctx, `UPDATE resolutions SET status = $1 WHERE id = $2`, status, approval.ResolutionID); err != nil {
		return fmt.Errorf("store: update resolution status: %w", err)
	}
	return nil
}

// MarkAbandonedRunsAborted is the crash-recovery sweep: any run left without
// a terminal record from a previous process is marked aborted. Run once at
// startup before the engine accepts work.
func (s *PostgresStore) MarkAbandonedRunsAborted(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE workflow_runs
		SET state = $1, error_kind = $2, completed_at = now()
		WHERE state NOT IN ($3, $4, $5)
	`, string(workflow.StateAborted), workflow.KindCancelled,
		string(workflow.StateSucceeded), string(workflow.StateFailed), string(workflow.StateAborted))
	if err != nil {
		return 0, fmt.Errorf("store: abort abandoned runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func marshalNullable(v any) ([]byte, error) {
	switch val := v.(type) {
	case *workflow.EvaluationVerdict:
		if val == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
