package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wolfman30/repassist-platform/internal/workflow"
	"github.com/wolfman30/repassist-platform/pkg/logging"
)

// S3Client interface for S3 operations (allows mocking in tests)
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// RunReader supplies everything the exporter needs about one run.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*workflow.WorkflowRun, error)
	ListAttempts(ctx context.Context, runID string) ([]workflow.RunAttempt, error)
	LoadConversation(ctx context.Context, id string) (*workflow.Conversation, []workflow.Message, error)
}

// Exporter archives terminal runs to S3 in JSONL for offline quality
// analysis: one line per run with the transcript, every attempt, and the
// final verdict.
type Exporter struct {
	store  RunReader
	s3     S3Client
	bucket string
	logger *logging.Logger
}

type ExporterConfig struct {
	Store  RunReader
	S3     S3Client
	Bucket string
	Logger *logging.Logger
}

func NewExporter(cfg ExporterConfig) *Exporter {
	if cfg.Store == nil {
		panic("archive: run reader cannot be nil")
	}
	if cfg.S3 == nil {
		panic("archive: s3 client cannot be nil")
	}
	if cfg.Bucket == "" {
		panic("archive: bucket cannot be empty")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Exporter{
		store:  cfg.Store,
		s3:     cfg.S3,
		bucket: cfg.Bucket,
		logger: cfg.Logger,
	}
}

// ArchivedRun is the exported record.
type ArchivedRun struct {
	RunID          string                 `json:"run_id"`
	ConversationID string                 `json:"conversation_id"`
	Channel        string                 `json:"channel"`
	State          string                 `json:"state"`
	ErrorKind      string                 `json:"error_kind,omitempty"`
	Attempts       []ArchivedAttempt      `json:"attempts"`
	Transcript     []workflow.Message     `json:"transcript"`
	FinalVerdict   map[string]int         `json:"final_scores,omitempty"`
	StartedAt      time.Time              `json:"started_at"`
	CompletedAt    time.Time              `json:"completed_at,omitempty"`
	ArchivedAt     time.Time              `json:"archived_at"`
}

// ArchivedAttempt is one attempt flattened for analysis.
type ArchivedAttempt struct {
	Index        int               `json:"index"`
	Query        string            `json:"query"`
	ResultCount  int               `json:"result_count"`
	SourceErrors map[string]string `json:"source_errors,omitempty"`
	Resolution   string            `json:"resolution,omitempty"`
	Scores       map[string]int    `json:"scores,omitempty"`
	Passed       bool              `json:"passed"`
	ErrorKind    string            `json:"error_kind,omitempty"`
}

// ArchiveRun exports one terminal run. Non-terminal runs are rejected.
func (e *Exporter) ArchiveRun(ctx context.Context, runID string) (string, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return "", fmt.Errorf("archive: load run: %w", err)
	}
	if !run.State.Terminal() {
		return "", fmt.Errorf("archive: run %s is still %s", runID, run.State)
	}

	conv, transcript, err := e.store.LoadConversation(ctx, run.ConversationID)
	if err != nil {
		return "", fmt.Errorf("archive: load conversation: %w", err)
	}
	attempts, err := e.store.ListAttempts(ctx, runID)
	if err != nil {
		return "", fmt.Errorf("archive: load attempts: %w", err)
	}

	record := ArchivedRun{
		RunID:          run.ID,
		ConversationID: run.ConversationID,
		Channel:        conv.Channel,
		State:          string(run.State),
		ErrorKind:      run.ErrorKind,
		Transcript:     transcript,
		StartedAt:      run.StartedAt,
		CompletedAt:    run.CompletedAt,
		ArchivedAt:     time.Now().UTC(),
	}
	if run.FinalVerdict != nil {
		record.FinalVerdict = run.FinalVerdict.Scores
	}
	for _, a := range attempts {
		archived := ArchivedAttempt{
			Index:        a.Index,
			Query:        a.Query,
			ResultCount:  len(a.Results),
			SourceErrors: a.SourceErrors,
			Resolution:   a.ResolutionText,
			ErrorKind:    a.ErrorKind,
		}
		if a.Verdict != nil {
			archived.Scores = a.Verdict.Scores
			archived.Passed = a.Verdict.Passed
		}
		record.Attempts = append(record.Attempts, archived)
	}

	line, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("archive: marshal record: %w", err)
	}
	line = append(line, '\n')

	key := fmt.Sprintf("runs/%s/%s/%s.jsonl",
		run.StartedAt.UTC().Format("2006/01/02"), run.ConversationID, run.ID)
	_, err = e.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(line),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", fmt.Errorf("archive: put object: %w", err)
	}

	e.logger.Info("run archived", "run_id", runID, "bucket", e.bucket, "key", key)
	return key, nil
}
