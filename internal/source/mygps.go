package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/wolfman30/repassist-platform/pkg/logging"
)

// MyGPSAdapter searches the internal myGPS knowledge base. Access is
// credentialed; without a key the adapter reports unauthorized and
// contributes nothing, which the fan-out records without failing the run.
type MyGPSAdapter struct {
	client *http.Client
	apiURL string
	apiKey string
	logger *logging.Logger
}

func NewMyGPSAdapter(client *http.Client, apiURL, apiKey string, logger *logging.Logger) *MyGPSAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &MyGPSAdapter{
		client: client,
		apiURL: strings.TrimRight(apiURL, "/"),
		apiKey: apiKey,
		logger: logger,
	}
}

func (a *MyGPSAdapter) Name() string { return "mygps" }

func (a *MyGPSAdapter) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if a.apiURL == "" || a.apiKey == "" {
		return nil, fmt.Errorf("%w: myGPS credentials not configured", ErrUnauthorized)
	}
	if k <= 0 {
		k = 5
	}

	payload, err := json.Marshal(map[string]any{
		"query":           query,
		"limit":           k,
		"include_content": true,
	})
	if err != nil {
		return nil, fmt.Errorf("source: marshal myGPS request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("source: build myGPS request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: myGPS rejected credentials (status %d)", ErrUnauthorized, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: myGPS status %d", ErrBadResponse, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("source: read myGPS response: %w", err)
	}

	var decoded struct {
		Results []struct {
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Content string  `json:"content"`
			Snippet string  `json:"snippet"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: myGPS payload: %v", ErrBadResponse, err)
	}

	results := make([]Result, 0, len(decoded.Results))
	for i, item := range decoded.Results {
		if i >= k {
			break
		}
		snippet := item.Content
		if snippet == "" {
			snippet = item.Snippet
		}
		score := item.Score
		if score == 0 {
			score = 0.9 - float64(i)*0.05
		}
		results = append(results, Result{
			Source:    a.Name(),
			Title:     item.Title,
			URL:       item.URL,
			Snippet:   snippet,
			Relevance: score,
		})
	}
	return results, nil
}
