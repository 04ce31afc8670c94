package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wolfman30/repassist-platform/internal/llm"
	"github.com/wolfman30/repassist-platform/pkg/logging"
)

const maxOptimizedQueryLen = 256

// QueryFormulator turns a transcript (plus prior attempt feedback) into an
// optimized search query with structured metadata.
type QueryFormulator struct {
	client llm.Client
	model  string
	logger *logging.Logger
}

func NewQueryFormulator(client llm.Client, model string, logger *logging.Logger) *QueryFormulator {
	if client == nil {
		panic("workflow: llm client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &QueryFormulator{client: client, model: model, logger: logger}
}

// Formulate runs the model with a deterministic-leaning configuration. When
// the model is unavailable it falls back to the last customer message
// truncated to 100 characters; the attempt proceeds with the fallback query.
// With no possible fallback it fails with model_unavailable.
func (f *QueryFormulator) Formulate(ctx context.Context, messages []Message, feedback []AttemptFeedback) (QueryResult, error) {
	prompt := fmt.Sprintf("## Conversation Transcript:\n%s\n## Previous Feedback (if retry):\n%s",
		formatTranscript(messages), formatFeedback(feedback))

	resp, err := f.client.Complete(ctx, llm.Request{
		Model:       f.model,
		System:      []string{queryFormulationSystemPrompt},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: 0.3,
		MaxTokens:   512,
	})
	if err != nil {
		if fallback, ok := fallbackQuery(messages); ok {
			f.logger.Warn("query formulation model failed, using fallback query",
				"error", err, "fallback_query", fallback)
			return QueryResult{OptimizedQuery: fallback}, nil
		}
		return QueryResult{}, NewError(KindModelUnavailable, err)
	}

	result, parseErr := parseQueryResult(resp.Text)
	if parseErr != nil {
		if fallback, ok := fallbackQuery(messages); ok {
			f.logger.Warn("query formulation output unparseable, using fallback query",
				"error", parseErr, "fallback_query", fallback)
			return QueryResult{OptimizedQuery: fallback}, nil
		}
		return QueryResult{}, NewError(KindModelUnavailable, parseErr)
	}
	return result, nil
}

func parseQueryResult(text string) (QueryResult, error) {
	raw, ok := extractJSONObject(text)
	if !ok {
		return QueryResult{}, fmt.Errorf("workflow: no JSON object in query formulation output")
	}

	var decoded struct {
		OptimizedQuery string   `json:"optimized_query"`
		Keywords       []string `json:"keywords"`
		Entities       []string `json:"entities"`
		Intent         string   `json:"intent"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return QueryResult{}, fmt.Errorf("workflow: decode query formulation output: %w", err)
	}

	query := strings.TrimSpace(decoded.OptimizedQuery)
	if query == "" {
		return QueryResult{}, fmt.Errorf("workflow: query formulation produced an empty query")
	}
	if len(query) > maxOptimizedQueryLen {
		query = query[:maxOptimizedQueryLen]
	}

	return QueryResult{
		OptimizedQuery: query,
		Metadata: QueryMetadata{
			Keywords: decoded.Keywords,
			Entities: decoded.Entities,
			Intent:   decoded.Intent,
		},
	}, nil
}

// fallbackQuery returns the most recent customer message capped at 100 chars.
func fallbackQuery(messages []Message) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != RoleCustomer {
			continue
		}
		content := strings.TrimSpace(messages[i].Content)
		if content == "" {
			continue
		}
		if len(content) > 100 {
			content = content[:100]
		}
		return content, true
	}
	return "", false
}
