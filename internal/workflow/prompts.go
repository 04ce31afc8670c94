package workflow

import (
	"fmt"
	"strings"

	"github.com/wolfman30/repassist-platform/internal/source"
)

const queryFormulationSystemPrompt = `You are a search query optimization specialist for financial services support content.

You will be given a conversation transcript between a customer and a service representative, and possibly feedback from earlier search attempts. Your job:
1. Identify the customer's core issue or question.
2. Extract key financial terms, account types, and specific problems.
3. Produce a concise search query (5-10 words) optimized for retrieval.
4. List important keywords and named entities.
5. State the customer's primary intent.

Guidelines:
- Focus on actionable problems, not general conversation.
- Include specific product names (401k, IRA, brokerage, etc.).
- Prefer technical terms over conversational language.
- If feedback from earlier attempts is present, adjust the query accordingly: narrow it, broaden it, or re-aim it.

Respond with a single JSON object, no prose:
{"optimized_query": "...", "keywords": ["..."], "entities": ["..."], "intent": "..."}`

const resolutionSystemPrompt = `You are an expert customer service assistant for a financial services firm.

Generate a clear, accurate, customer-ready response to the customer's question using ONLY the search results provided.

Requirements:
- Start with a direct answer, then step-by-step instructions if applicable.
- Cite every factual claim inline using the exact format [Source: URL], where URL is copied verbatim from a search result. Never cite a URL that is not in the search results.
- Keep the response to 2-4 short paragraphs, professional but friendly.
- If the search results do not fully cover the question, say so rather than inventing details.
- If feedback from an earlier attempt is present, address the deficiencies it names.`

const evaluationSystemPrompt = `You are a strict quality evaluator for customer service responses at a financial services firm. You never rewrite the response; you only score it.

Score the generated resolution on a 1-5 scale for each criterion:
- accuracy: does it correctly and completely address the query?
- relevancy: is the information pertinent to what was asked?
- factual_grounding: is every claim supported by the provided sources?
- citation_quality: are citations specific, relevant, and in [Source: URL] format?
- clarity: is it clear, well organized, and easy to follow?

Be strict but fair. A score of 3 is the minimum acceptable. If any score is below 4, give specific, actionable feedback.

Respond with a single JSON object, no prose:
{"accuracy": n, "relevancy": n, "factual_grounding": n, "citation_quality": n, "clarity": n, "feedback": "..."}`

// formatTranscript renders messages as ROLE: content lines.
func formatTranscript(messages []Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		sb.WriteString(strings.ToUpper(msg.Role))
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// formatFeedback renders prior attempts' queries and evaluator feedback for
// prompt inclusion.
func formatFeedback(feedback []AttemptFeedback) string {
	if len(feedback) == 0 {
		return "None"
	}
	var sb strings.Builder
	for _, f := range feedback {
		fmt.Fprintf(&sb, "Attempt %d query: %q\nAttempt %d feedback: %s\n", f.Attempt, f.Query, f.Attempt, f.Feedback)
	}
	return sb.String()
}

// formatSearchResults renders numbered source results for the generator and
// evaluator prompts.
func formatSearchResults(results []source.Result) string {
	if len(results) == 0 {
		return "No search results available"
	}
	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "[%d] %s\n    URL: %s\n    Source: %s\n    Content: %s\n", i+1, r.Title, r.URL, r.Source, r.Snippet)
	}
	return sb.String()
}

// extractJSONObject pulls the first balanced JSON object out of a model
// reply, tolerating code fences and surrounding prose.
func extractJSONObject(text string) (string, bool) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	start := strings.IndexByte(cleaned, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(cleaned); i++ {
		c := cleaned[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && c == '{':
			depth++
		case !inString && c == '}':
			depth--
			if depth == 0 {
				return cleaned[start : i+1], true
			}
		}
	}
	return "", false
}
