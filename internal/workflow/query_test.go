package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/repassist-platform/internal/llm"
)

type scriptedLLM struct {
	responses []llm.Response
	errs      []error
	requests  []llm.Request
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	s.requests = append(s.requests, req)
	i := len(s.requests) - 1
	if i < len(s.errs) && s.errs[i] != nil {
		return llm.Response{}, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return llm.Response{}, errors.New("scriptedLLM: no response scripted")
}

func transcript() []Message {
	return []Message{
		{Role: RoleCustomer, Content: "I'm having trouble accessing my 401k account online.", Seq: 1},
		{Role: RoleRepresentative, Content: "Let me take a look at that for you.", Seq: 2},
	}
}

func TestFormulateParsesModelOutput(t *testing.T) {
	client := &scriptedLLM{responses: []llm.Response{{
		Text: "```json\n{\"optimized_query\": \"401k account login reset\", \"keywords\": [\"401k\", \"login\"], \"entities\": [\"401k\"], \"intent\": \"account access\"}\n```",
	}}}
	formulator := NewQueryFormulator(client, "model-tag", nil)

	result, err := formulator.Formulate(context.Background(), transcript(), nil)
	require.NoError(t, err)
	assert.Equal(t, "401k account login reset", result.OptimizedQuery)
	assert.Equal(t, []string{"401k", "login"}, result.Metadata.Keywords)
	assert.Equal(t, "account access", result.Metadata.Intent)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, float32(0.3), req.Temperature)
	assert.Contains(t, req.Messages[0].Content, "CUSTOMER: I'm having trouble")
}

func TestFormulateIncludesPriorFeedback(t *testing.T) {
	client := &scriptedLLM{responses: []llm.Response{{
		Text: `{"optimized_query": "q2", "keywords": [], "entities": [], "intent": ""}`,
	}}}
	formulator := NewQueryFormulator(client, "model-tag", nil)

	_, err := formulator.Formulate(context.Background(), transcript(), []AttemptFeedback{
		{Attempt: 1, Query: "401k reset", Feedback: "results were about IRAs, narrow to 401k plans"},
	})
	require.NoError(t, err)

	prompt := client.requests[0].Messages[0].Content
	assert.Contains(t, prompt, `Attempt 1 query: "401k reset"`)
	assert.Contains(t, prompt, "narrow to 401k plans")
}

func TestFormulateFallsBackToCustomerMessage(t *testing.T) {
	client := &scriptedLLM{errs: []error{errors.New("model down")}}
	formulator := NewQueryFormulator(client, "model-tag", nil)

	result, err := formulator.Formulate(context.Background(), transcript(), nil)
	require.NoError(t, err)
	assert.Equal(t, "I'm having trouble accessing my 401k account online.", result.OptimizedQuery)
}

func TestFormulateFallbackTruncatesTo100Chars(t *testing.T) {
	long := strings.Repeat("x", 150)
	client := &scriptedLLM{errs: []error{errors.New("model down")}}
	formulator := NewQueryFormulator(client, "model-tag", nil)

	result, err := formulator.Formulate(context.Background(), []Message{
		{Role: RoleCustomer, Content: long, Seq: 1},
	}, nil)
	require.NoError(t, err)
	assert.Len(t, result.OptimizedQuery, 100)
}

func TestFormulateModelUnavailableWithoutFallback(t *testing.T) {
	client := &scriptedLLM{errs: []error{errors.New("model down")}}
	formulator := NewQueryFormulator(client, "model-tag", nil)

	_, err := formulator.Formulate(context.Background(), []Message{
		{Role: RoleRepresentative, Content: "let me check", Seq: 1},
	}, nil)
	require.Error(t, err)
	assert.Equal(t, KindModelUnavailable, KindOf(err))
}

func TestFormulateCapsQueryLength(t *testing.T) {
	long := strings.Repeat("q", 400)
	client := &scriptedLLM{responses: []llm.Response{{
		Text: `{"optimized_query": "` + long + `"}`,
	}}}
	formulator := NewQueryFormulator(client, "model-tag", nil)

	result, err := formulator.Formulate(context.Background(), transcript(), nil)
	require.NoError(t, err)
	assert.Len(t, result.OptimizedQuery, maxOptimizedQueryLen)
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`, true},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`, true},
		{"prose around", "Here you go: {\"a\": {\"b\": 2}} thanks", `{"a": {"b": 2}}`, true},
		{"brace in string", `{"a": "}"}`, `{"a": "}"}`, true},
		{"no object", "nothing here", "", false},
		{"unbalanced", `{"a": 1`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractJSONObject(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
