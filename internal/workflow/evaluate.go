package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wolfman30/repassist-platform/internal/llm"
	"github.com/wolfman30/repassist-platform/internal/source"
	"github.com/wolfman30/repassist-platform/pkg/logging"
)

const minResolutionLength = 100

// uncertainPhrases fail the content guardrail; a customer-ready answer that
// hedges this way needs another pass.
var uncertainPhrases = []string{
	"i don't know",
	"i cannot",
	"i'm not sure",
}

// Evaluator scores a resolution on the fixed criteria and runs the guardrail
// predicates. It never rewrites the resolution. Its model is configured
// independently of the generator to reduce correlated bias.
type Evaluator struct {
	client   llm.Client
	model    string
	minScore int
	logger   *logging.Logger
}

func NewEvaluator(client llm.Client, model string, minScore int, logger *logging.Logger) *Evaluator {
	if client == nil {
		panic("workflow: llm client cannot be nil")
	}
	if minScore <= 0 {
		minScore = 3
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Evaluator{client: client, model: model, minScore: minScore, logger: logger}
}

// Evaluate returns the verdict. A model failure yields a non-passing verdict
// with feedback "evaluator_unavailable" plus a kinded error the engine
// treats as a retryable attempt failure.
func (e *Evaluator) Evaluate(ctx context.Context, query, resolution string, results []source.Result) (EvaluationVerdict, error) {
	guardrailsPassed := checkGuardrails(resolution)

	prompt := fmt.Sprintf("## Original Customer Query:\n%s\n\n## Search Results Used:\n%s\n## Generated Resolution:\n%s",
		query, formatResultSummary(results), resolution)

	resp, err := e.client.Complete(ctx, llm.Request{
		Model:       e.model,
		System:      []string{evaluationSystemPrompt},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: 0.2,
		MaxTokens:   1000,
	})
	if err != nil {
		return EvaluationVerdict{
			Scores:           map[string]int{},
			GuardrailsPassed: false,
			Feedback:         "evaluator_unavailable",
			Passed:           false,
		}, NewError(KindEvaluatorUnavailable, err)
	}

	scores, feedback, parseErr := parseEvaluation(resp.Text)
	if parseErr != nil {
		return EvaluationVerdict{
			Scores:           map[string]int{},
			GuardrailsPassed: false,
			Feedback:         "evaluator_unavailable",
			Passed:           false,
		}, NewError(KindEvaluatorUnavailable, parseErr)
	}

	verdict := EvaluationVerdict{
		Scores:           scores,
		GuardrailsPassed: guardrailsPassed,
		Feedback:         feedback,
	}
	verdict.Passed = guardrailsPassed && verdict.MinScore() >= e.minScore
	if verdict.Passed {
		verdict.Feedback = ""
	}
	return verdict, nil
}

// checkGuardrails runs the bounded predicate set: no uncertain language, a
// substantive minimum length, and at least one inline citation.
func checkGuardrails(resolution string) bool {
	lowered := strings.ToLower(resolution)
	for _, phrase := range uncertainPhrases {
		if strings.Contains(lowered, phrase) {
			return false
		}
	}
	if len(resolution) < minResolutionLength {
		return false
	}
	if !strings.Contains(resolution, "[Source:") {
		return false
	}
	return true
}

func formatResultSummary(results []source.Result) string {
	if len(results) == 0 {
		return "No search results available"
	}
	var sb strings.Builder
	for i, r := range results {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&sb, "- [%s] %s: %s\n", r.Source, r.Title, r.URL)
	}
	return sb.String()
}

func parseEvaluation(text string) (map[string]int, string, error) {
	raw, ok := extractJSONObject(text)
	if !ok {
		return nil, "", fmt.Errorf("workflow: no JSON object in evaluation output")
	}

	var decoded struct {
		Accuracy         int    `json:"accuracy"`
		Relevancy        int    `json:"relevancy"`
		FactualGrounding int    `json:"factual_grounding"`
		CitationQuality  int    `json:"citation_quality"`
		Clarity          int    `json:"clarity"`
		Feedback         string `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, "", fmt.Errorf("workflow: decode evaluation output: %w", err)
	}

	scores := map[string]int{
		CriterionAccuracy:         clampScore(decoded.Accuracy),
		CriterionRelevancy:        clampScore(decoded.Relevancy),
		CriterionFactualGrounding: clampScore(decoded.FactualGrounding),
		CriterionCitationQuality:  clampScore(decoded.CitationQuality),
		CriterionClarity:          clampScore(decoded.Clarity),
	}
	return scores, strings.TrimSpace(decoded.Feedback), nil
}

func clampScore(s int) int {
	if s < 1 {
		return 1
	}
	if s > 5 {
		return 5
	}
	return s
}
