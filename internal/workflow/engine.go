package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/repassist-platform/internal/events"
	"github.com/wolfman30/repassist-platform/internal/source"
	"github.com/wolfman30/repassist-platform/pkg/logging"
)

// Store is the persistence port the engine writes through. All writes are
// idempotent by primary key.
type Store interface {
	LoadConversation(ctx context.Context, id string) (*Conversation, []Message, error)
	SaveRun(ctx context.Context, run *WorkflowRun) error
	SaveAttempt(ctx context.Context, attempt *RunAttempt) error
	SaveResolution(ctx context.Context, resolution *Resolution) error
}

// Notifier is invoked when a run exhausts its retries; wiring it is optional.
type Notifier interface {
	NotifyRunFailed(ctx context.Context, run *WorkflowRun, verdict *EvaluationVerdict)
}

type queryFormulator interface {
	Formulate(ctx context.Context, messages []Message, feedback []AttemptFeedback) (QueryResult, error)
}

type sourceSearcher interface {
	Search(ctx context.Context, query string) ([]source.Result, map[string]string)
}

type resolutionGenerator interface {
	Generate(ctx context.Context, query string, results []source.Result, feedback []AttemptFeedback) (GenerationResult, error)
}

type resolutionEvaluator interface {
	Evaluate(ctx context.Context, query, resolution string, results []source.Result) (EvaluationVerdict, error)
}

// Config bounds a run.
type Config struct {
	MaxAttempts      int
	OverallDeadline  time.Duration
	QueryDeadline    time.Duration
	GenerateDeadline time.Duration
	EvaluateDeadline time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.OverallDeadline <= 0 {
		c.OverallDeadline = 90 * time.Second
	}
	if c.QueryDeadline <= 0 {
		c.QueryDeadline = 15 * time.Second
	}
	if c.GenerateDeadline <= 0 {
		c.GenerateDeadline = 30 * time.Second
	}
	if c.EvaluateDeadline <= 0 {
		c.EvaluateDeadline = 20 * time.Second
	}
}

// Deps collects the engine's collaborators.
type Deps struct {
	Detector   TriggerDetector
	Formulator queryFormulator
	Searcher   sourceSearcher
	Generator  resolutionGenerator
	Evaluator  resolutionEvaluator
	Store      Store
	Sink       events.Sink
	Observer   Observer
	Notifier   Notifier
}

// Engine drives the run state machine: trigger detection, the bounded-retry
// formulate/search/generate/evaluate loop, per-conversation single-flight,
// write-through persistence, and progress events.
type Engine struct {
	deps   Deps
	cfg    Config
	guard  *Guard
	logger *logging.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // conversation id -> run cancel
}

func NewEngine(deps Deps, cfg Config, logger *logging.Logger) *Engine {
	if deps.Detector == nil {
		panic("workflow: trigger detector cannot be nil")
	}
	if deps.Formulator == nil {
		panic("workflow: query formulator cannot be nil")
	}
	if deps.Searcher == nil {
		panic("workflow: searcher cannot be nil")
	}
	if deps.Generator == nil {
		panic("workflow: generator cannot be nil")
	}
	if deps.Evaluator == nil {
		panic("workflow: evaluator cannot be nil")
	}
	if deps.Store == nil {
		panic("workflow: store cannot be nil")
	}
	if deps.Sink == nil {
		deps.Sink = events.NopSink{}
	}
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg.applyDefaults()

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Engine{
		deps:    deps,
		cfg:     cfg,
		guard:   NewGuard(),
		logger:  logger,
		baseCtx: baseCtx,
		cancel:  cancel,
		cancels: make(map[string]context.CancelFunc),
	}
}

// StartRun validates the request, claims the single-flight slot, runs trigger
// detection synchronously, and launches the pipeline in the background. The
// receipt reports "started" or "not_triggered".
func (e *Engine) StartRun(ctx context.Context, req RunRequest) (RunReceipt, error) {
	if strings.TrimSpace(req.ConversationID) == "" {
		return RunReceipt{}, NewError(KindConversationNotFound, errors.New("conversation id is required"))
	}

	conv, messages, err := e.deps.Store.LoadConversation(ctx, req.ConversationID)
	if err != nil {
		if KindOf(err) != "" {
			return RunReceipt{}, err
		}
		return RunReceipt{}, NewError(KindPersistenceError, err)
	}
	if conv.Status != ConversationActive {
		return RunReceipt{}, NewError(KindInvalidState,
			fmt.Errorf("conversation %s is %s", conv.ID, conv.Status))
	}

	runID := uuid.NewString()
	if err := e.guard.Acquire(conv.ID, runID); err != nil {
		return RunReceipt{}, err
	}

	triggered, phrase := true, ""
	if !req.Force {
		triggered, phrase = e.deps.Detector.Detect(messages)
	}

	run := &WorkflowRun{
		ID:               runID,
		ConversationID:   conv.ID,
		RepresentativeID: req.RepresentativeID,
		State:            StateDetecting,
		StartedAt:        time.Now().UTC(),
	}

	if !triggered {
		e.guard.Release(conv.ID)
		run.State = StateAborted
		run.ErrorKind = KindNotTriggered
		run.CompletedAt = time.Now().UTC()
		if err := e.deps.Store.SaveRun(ctx, run); err != nil {
			e.logger.Error("failed to persist not-triggered run",
				"run_id", runID, "error", err)
		}
		return RunReceipt{RunID: runID, Status: StatusNotTriggered}, nil
	}

	runCtx, cancelRun := context.WithTimeout(e.baseCtx, e.cfg.OverallDeadline)
	e.mu.Lock()
	e.cancels[conv.ID] = cancelRun
	e.mu.Unlock()

	e.wg.Add(1)
	go e.execute(runCtx, run, messages, phrase, req.Force)

	return RunReceipt{RunID: runID, Status: StatusStarted}, nil
}

// Cancel aborts the conversation's in-flight run, if any. The run observes
// the signal at its next state boundary.
func (e *Engine) Cancel(conversationID string) bool {
	e.mu.Lock()
	cancelRun, ok := e.cancels[conversationID]
	e.mu.Unlock()
	if ok {
		cancelRun()
	}
	return ok
}

// InFlightRun exposes the guard for handlers and tests.
func (e *Engine) InFlightRun(conversationID string) (string, bool) {
	return e.guard.InFlight(conversationID)
}

// Shutdown cancels every in-flight run and waits for them to wind down.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// execute drives one run to a terminal state. The single-flight entry is
// released on every exit path, including panics.
func (e *Engine) execute(runCtx context.Context, run *WorkflowRun, messages []Message, phrase string, forced bool) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("workflow run panicked",
				"run_id", run.ID, "conversation_id", run.ConversationID, "panic", r)
			run.ErrorKind = KindPersistenceError
			e.finishFailed(run, nil)
		}
		e.mu.Lock()
		delete(e.cancels, run.ConversationID)
		e.mu.Unlock()
		e.guard.Release(run.ConversationID)
	}()

	logger := e.logger.With("run_id", run.ID, "conversation_id", run.ConversationID)
	logger.Info("workflow run started", "forced", forced, "trigger_phrase", phrase)

	e.publish(run, 0, events.WorkflowStarted, events.WorkflowStartedV1{
		RepresentativeID: run.RepresentativeID,
		TriggerPhrase:    phrase,
		Forced:           forced,
	})

	var feedback []AttemptFeedback
	var lastVerdict *EvaluationVerdict
	lastKind := ""

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if e.runInterrupted(runCtx, run, StateFormulating) {
			return
		}

		run.Attempts = attempt
		attemptRec := &RunAttempt{
			RunID:     run.ID,
			Index:     attempt,
			CreatedAt: time.Now().UTC(),
		}

		// FORMULATING
		if !e.transition(run, StateFormulating) {
			return
		}
		query, err := e.formulate(runCtx, run, attempt, messages, feedback)
		if err != nil {
			lastKind = e.recordAttemptFailure(run, attemptRec, err, logger)
			if e.runInterrupted(runCtx, run, StateFormulating) {
				return
			}
			continue
		}
		attemptRec.Query = query.OptimizedQuery
		attemptRec.QueryMetadata = query.Metadata
		e.publish(run, attempt, events.QueryOptimized, events.QueryOptimizedV1{
			Query:  query.OptimizedQuery,
			Intent: query.Metadata.Intent,
		})
		if !e.persistAttempt(run, attemptRec) {
			return
		}

		// SEARCHING
		if e.runInterrupted(runCtx, run, StateSearching) {
			return
		}
		if !e.transition(run, StateSearching) {
			return
		}
		results, sourceErrs := e.search(runCtx, run, attempt, query.OptimizedQuery)
		attemptRec.Results = results
		attemptRec.SourceErrors = sourceErrs
		e.publish(run, attempt, events.SearchComplete, events.SearchCompleteV1{
			ResultCount:  len(results),
			SourceErrors: sourceErrs,
		})
		if !e.persistAttempt(run, attemptRec) {
			return
		}

		// GENERATING
		if e.runInterrupted(runCtx, run, StateGenerating) {
			return
		}
		if !e.transition(run, StateGenerating) {
			return
		}
		gen, err := e.generate(runCtx, run, attempt, query.OptimizedQuery, results, feedback)
		attemptRec.ResolutionText = gen.Text
		attemptRec.Citations = gen.Citations
		if err != nil {
			lastKind = e.recordAttemptFailure(run, attemptRec, err, logger)
			feedback = append(feedback, AttemptFeedback{
				Attempt:  attempt,
				Query:    query.OptimizedQuery,
				Feedback: "generation failed: " + lastKind,
			})
			if e.runInterrupted(runCtx, run, StateGenerating) {
				return
			}
			continue
		}
		e.publish(run, attempt, events.ResolutionGenerated, events.ResolutionGeneratedV1{
			CitationCount: len(gen.Citations),
			TextLength:    len(gen.Text),
		})
		if !e.persistAttempt(run, attemptRec) {
			return
		}

		// EVALUATING
		if e.runInterrupted(runCtx, run, StateEvaluating) {
			return
		}
		if !e.transition(run, StateEvaluating) {
			return
		}
		verdict, err := e.evaluate(runCtx, run, attempt, query.OptimizedQuery, gen.Text, results)
		attemptRec.Verdict = &verdict
		lastVerdict = &verdict
		e.publish(run, attempt, events.EvaluationComplete, events.EvaluationCompleteV1{
			Scores:           verdict.Scores,
			GuardrailsPassed: verdict.GuardrailsPassed,
			Passed:           verdict.Passed,
			Feedback:         verdict.Feedback,
		})
		if err != nil {
			lastKind = e.recordAttemptFailure(run, attemptRec, err, logger)
			if e.runInterrupted(runCtx, run, StateEvaluating) {
				return
			}
			continue
		}

		attemptRec.SealedAt = time.Now().UTC()
		if !e.persistAttempt(run, attemptRec) {
			return
		}

		if verdict.Passed {
			e.finishSucceeded(run, attemptRec, &verdict, logger)
			return
		}

		lastKind = ""
		feedback = append(feedback, AttemptFeedback{
			Attempt:  attempt,
			Query:    query.OptimizedQuery,
			Feedback: verdict.Feedback,
		})
		logger.Warn("attempt did not pass evaluation, retrying",
			"attempt", attempt, "scores", verdict.Scores, "feedback", verdict.Feedback)
	}

	run.ErrorKind = lastKind
	run.FinalVerdict = lastVerdict
	e.finishFailed(run, lastVerdict)
	logger.Error("workflow run exhausted retries",
		"attempts", run.Attempts, "error_kind", run.ErrorKind)
}

// transition advances the in-flight state and writes through. Returning false
// means persistence failed and the run has been terminated.
func (e *Engine) transition(run *WorkflowRun, next State) bool {
	run.State = next
	if err := e.saveRun(run); err != nil {
		e.logger.Error("failed to persist run state",
			"run_id", run.ID, "state", next, "error", err)
		run.ErrorKind = KindPersistenceError
		e.finishFailed(run, run.FinalVerdict)
		return false
	}
	return true
}

func (e *Engine) persistAttempt(run *WorkflowRun, attempt *RunAttempt) bool {
	if err := e.saveAttempt(attempt); err != nil {
		e.logger.Error("failed to persist run attempt",
			"run_id", run.ID, "attempt", attempt.Index, "error", err)
		run.ErrorKind = KindPersistenceError
		e.finishFailed(run, run.FinalVerdict)
		return false
	}
	return true
}

// recordAttemptFailure seals a failed attempt and maps the error to the kind
// carried forward for the terminal record.
func (e *Engine) recordAttemptFailure(run *WorkflowRun, attempt *RunAttempt, err error, logger *logging.Logger) string {
	kind := KindOf(err)
	if kind == "" {
		kind = KindModelUnavailable
	}
	attempt.ErrorKind = kind
	attempt.SealedAt = time.Now().UTC()
	if saveErr := e.saveAttempt(attempt); saveErr != nil {
		logger.Error("failed to persist failed attempt",
			"attempt", attempt.Index, "error", saveErr)
	}
	logger.Warn("attempt failed", "attempt", attempt.Index, "error_kind", kind, "error", err)
	return kind
}

// runInterrupted handles cancellation and overall-deadline expiry at a state
// boundary. It reports true when the run has reached a terminal state.
func (e *Engine) runInterrupted(runCtx context.Context, run *WorkflowRun, stage State) bool {
	switch runCtx.Err() {
	case nil:
		return false
	case context.DeadlineExceeded:
		run.ErrorKind = KindStageTimeout
		e.finishFailed(run, run.FinalVerdict)
	default:
		run.State = StateAborted
		run.ErrorKind = KindCancelled
		run.CompletedAt = time.Now().UTC()
		if err := e.saveRun(run); err != nil {
			e.logger.Error("failed to persist aborted run", "run_id", run.ID, "error", err)
		}
		e.publish(run, run.Attempts, events.WorkflowCancelled, events.WorkflowCancelledV1{Stage: string(stage)})
	}
	return true
}

func (e *Engine) finishSucceeded(run *WorkflowRun, attempt *RunAttempt, verdict *EvaluationVerdict, logger *logging.Logger) {
	resolution := &Resolution{
		ID:             uuid.NewString(),
		RunID:          run.ID,
		AttemptIndex:   attempt.Index,
		ConversationID: run.ConversationID,
		Text:           attempt.ResolutionText,
		Citations:      attempt.Citations,
		Scores:         verdict.Scores,
		Status:         ResolutionPendingReview,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.saveResolution(resolution); err != nil {
		logger.Error("failed to persist resolution", "error", err)
		run.ErrorKind = KindPersistenceError
		e.finishFailed(run, verdict)
		return
	}

	run.State = StateSucceeded
	run.FinalVerdict = verdict
	run.CompletedAt = time.Now().UTC()
	if err := e.saveRun(run); err != nil {
		logger.Error("failed to persist succeeded run", "error", err)
	}

	e.publish(run, attempt.Index, events.WorkflowComplete, events.WorkflowCompleteV1{
		ResolutionID: resolution.ID,
		Text:         resolution.Text,
		Scores:       resolution.Scores,
		Attempts:     run.Attempts,
	})
	logger.Info("workflow run succeeded", "attempts", run.Attempts)
}

func (e *Engine) finishFailed(run *WorkflowRun, verdict *EvaluationVerdict) {
	run.State = StateFailed
	run.CompletedAt = time.Now().UTC()
	if err := e.saveRun(run); err != nil {
		e.logger.Error("failed to persist failed run", "run_id", run.ID, "error", err)
	}

	payload := events.WorkflowFailedV1{
		ErrorKind: run.ErrorKind,
		Attempts:  run.Attempts,
	}
	if verdict != nil {
		payload.Scores = verdict.Scores
		payload.Feedback = verdict.Feedback
	}
	e.publish(run, run.Attempts, events.WorkflowFailed, payload)

	if e.deps.Notifier != nil {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		e.deps.Notifier.NotifyRunFailed(notifyCtx, run, verdict)
	}
}

func (e *Engine) formulate(runCtx context.Context, run *WorkflowRun, attempt int, messages []Message, feedback []AttemptFeedback) (QueryResult, error) {
	info := StageInfo{Stage: StateFormulating, ConversationID: run.ConversationID, RunID: run.ID, Attempt: attempt}
	stageCtx, cancel := context.WithTimeout(runCtx, e.cfg.QueryDeadline)
	defer cancel()

	obsCtx := e.deps.Observer.StageStart(stageCtx, info)
	start := time.Now()
	result, err := e.deps.Formulator.Formulate(obsCtx, messages, feedback)
	err = e.mapStageError(stageCtx, runCtx, err)
	e.deps.Observer.StageFinish(obsCtx, info, err, time.Since(start))
	return result, err
}

func (e *Engine) search(runCtx context.Context, run *WorkflowRun, attempt int, query string) ([]source.Result, map[string]string) {
	info := StageInfo{Stage: StateSearching, ConversationID: run.ConversationID, RunID: run.ID, Attempt: attempt}
	obsCtx := e.deps.Observer.StageStart(runCtx, info)
	start := time.Now()
	// the searcher applies its own fan-out deadline and never fails as a whole
	results, errs := e.deps.Searcher.Search(obsCtx, query)
	e.deps.Observer.StageFinish(obsCtx, info, nil, time.Since(start))
	return results, errs
}

func (e *Engine) generate(runCtx context.Context, run *WorkflowRun, attempt int, query string, results []source.Result, feedback []AttemptFeedback) (GenerationResult, error) {
	info := StageInfo{Stage: StateGenerating, ConversationID: run.ConversationID, RunID: run.ID, Attempt: attempt}
	stageCtx, cancel := context.WithTimeout(runCtx, e.cfg.GenerateDeadline)
	defer cancel()

	obsCtx := e.deps.Observer.StageStart(stageCtx, info)
	start := time.Now()
	result, err := e.deps.Generator.Generate(obsCtx, query, results, feedback)
	err = e.mapStageError(stageCtx, runCtx, err)
	e.deps.Observer.StageFinish(obsCtx, info, err, time.Since(start))
	return result, err
}

func (e *Engine) evaluate(runCtx context.Context, run *WorkflowRun, attempt int, query, resolution string, results []source.Result) (EvaluationVerdict, error) {
	info := StageInfo{Stage: StateEvaluating, ConversationID: run.ConversationID, RunID: run.ID, Attempt: attempt}
	stageCtx, cancel := context.WithTimeout(runCtx, e.cfg.EvaluateDeadline)
	defer cancel()

	obsCtx := e.deps.Observer.StageStart(stageCtx, info)
	start := time.Now()
	verdict, err := e.deps.Evaluator.Evaluate(obsCtx, query, resolution, results)
	err = e.mapStageError(stageCtx, runCtx, err)
	e.deps.Observer.StageFinish(obsCtx, info, err, time.Since(start))
	return verdict, err
}

// mapStageError rewrites an error caused by the stage's own deadline to
// stage_timeout. Run-level cancellation is handled at the next boundary, not
// here.
func (e *Engine) mapStageError(stageCtx, runCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if stageCtx.Err() == context.DeadlineExceeded && runCtx.Err() == nil {
		return NewError(KindStageTimeout, err)
	}
	return err
}

func (e *Engine) publish(run *WorkflowRun, attempt int, eventType events.Type, payload any) {
	e.deps.Sink.Publish(run.ConversationID, events.Event{
		Type:           eventType,
		ConversationID: run.ConversationID,
		RunID:          run.ID,
		Attempt:        attempt,
		OccurredAt:     time.Now().UTC(),
		Payload:        payload,
	})
}

// Persistence writes run on short background-derived contexts so a cancelled
// run can still record its terminal state.

func (e *Engine) saveRun(run *WorkflowRun) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.deps.Store.SaveRun(ctx, run)
}

func (e *Engine) saveAttempt(attempt *RunAttempt) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.deps.Store.SaveAttempt(ctx, attempt)
}

func (e *Engine) saveResolution(resolution *Resolution) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.deps.Store.SaveResolution(ctx, resolution)
}
