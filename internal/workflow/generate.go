package workflow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/wolfman30/repassist-platform/internal/llm"
	"github.com/wolfman30/repassist-platform/internal/source"
	"github.com/wolfman30/repassist-platform/pkg/logging"
)

var citationPattern = regexp.MustCompile(`\[Source:\s*(https?://[^\]\s]+)\]`)

// GenerationResult is C4's output.
type GenerationResult struct {
	Text        string     `json:"text"`
	Citations   []Citation `json:"citations"`
	GeneratedAt time.Time  `json:"generated_at"`
}

// Generator produces a customer-ready answer with inline citations from the
// collected source snippets.
type Generator struct {
	client           llm.Client
	model            string
	requireGrounding bool
	logger           *logging.Logger
}

func NewGenerator(client llm.Client, model string, requireGrounding bool, logger *logging.Logger) *Generator {
	if client == nil {
		panic("workflow: llm client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Generator{
		client:           client,
		model:            model,
		requireGrounding: requireGrounding,
		logger:           logger,
	}
}

// Generate fails with no_sources when grounding is required and the result
// list is empty, and with citation_invalid when the model cites a URL that is
// not among the inputs. On citation_invalid the offending citation has been
// discarded and the model is not re-invoked for this attempt.
func (g *Generator) Generate(ctx context.Context, query string, results []source.Result, feedback []AttemptFeedback) (GenerationResult, error) {
	if len(results) == 0 && g.requireGrounding {
		return GenerationResult{}, NewError(KindNoSources, errors.New("no source results to ground the resolution"))
	}

	prompt := fmt.Sprintf("## Customer Query:\n%s\n\n## Search Results:\n%s\n## Previous Feedback (if any):\n%s\n\nGenerate the customer response below:",
		query, formatSearchResults(results), formatFeedback(feedback))

	resp, err := g.client.Complete(ctx, llm.Request{
		Model:       g.model,
		System:      []string{resolutionSystemPrompt},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: 0.5,
		MaxTokens:   2000,
	})
	if err != nil {
		return GenerationResult{}, NewError(KindModelUnavailable, err)
	}

	citations, invalid := extractCitations(resp.Text, results)
	out := GenerationResult{
		Text:        resp.Text,
		Citations:   citations,
		GeneratedAt: time.Now().UTC(),
	}
	if len(invalid) > 0 {
		g.logger.Warn("resolution cited URLs outside the source results",
			"invalid_urls", invalid, "kept_citations", len(citations))
		return out, NewError(KindCitationInvalid, fmt.Errorf("fabricated citation URLs: %v", invalid))
	}
	return out, nil
}

// extractCitations finds [Source: URL] markers, resolves each against the
// input results, and separates the URLs that do not belong to any result.
func extractCitations(text string, results []source.Result) ([]Citation, []string) {
	byURL := make(map[string]source.Result, len(results))
	for _, r := range results {
		byURL[source.CanonicalURL(r.URL)] = r
	}

	seen := make(map[string]bool)
	var citations []Citation
	var invalid []string
	for _, match := range citationPattern.FindAllStringSubmatch(text, -1) {
		url := match[1]
		key := source.CanonicalURL(url)
		if seen[key] {
			continue
		}
		seen[key] = true

		matched, ok := byURL[key]
		if !ok {
			invalid = append(invalid, url)
			continue
		}
		label := matched.Title
		if label == "" {
			label = matched.Source
		}
		citations = append(citations, Citation{Label: label, URL: url})
	}
	return citations, invalid
}
