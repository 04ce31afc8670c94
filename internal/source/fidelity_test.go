package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const searchResultsPage = `<html><body>
<div class="result">
  <a href="https://www.fidelity.com/customer-service/how-to-reset-password">
    <h3>Reset your password</h3>
  </a>
  <span>Step-by-step instructions for regaining account access.</span>
</div>
<div class="result">
  <a href="https://www.fidelity.com/go/401k-login-help">
    <h3>401(k) login help</h3>
  </a>
  <span>Common login problems and fixes.</span>
</div>
<a href="/relative/nav">Navigation</a>
</body></html>`

func TestFidelityAdapterSiteScopedSearch(t *testing.T) {
	var gotQuery string
	searchSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		_, _ = w.Write([]byte(searchResultsPage))
	}))
	defer searchSrv.Close()

	adapter := NewFidelityAdapter(searchSrv.Client(), "https://www.fidelity.com", nil, WithSearchURL(searchSrv.URL))

	results, err := adapter.Search(context.Background(), "reset 401k password", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Contains(t, gotQuery, "site:www.fidelity.com")
	assert.Contains(t, gotQuery, "reset 401k password")

	assert.Equal(t, "fidelity", results[0].Source)
	assert.Equal(t, "Reset your password", results[0].Title)
	assert.Equal(t, "https://www.fidelity.com/customer-service/how-to-reset-password", results[0].URL)
	assert.Contains(t, results[0].Snippet, "regaining account access")
	assert.Greater(t, results[0].Relevance, results[1].Relevance)
}

func TestFidelityAdapterFallsBackToNativeSearch(t *testing.T) {
	mux := http.NewServeMux()
	// empty web search page forces the fallback
	searchSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body>no results</body></html>"))
	}))
	defer searchSrv.Close()

	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "lost card", r.URL.Query().Get("query"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"title":"Report a lost card","url":"https://www.fidelity.com/cards/lost","content":"Call us right away.","score":0.95},
			{"title":"Card FAQ","link":"/cards/faq","snippet":"Frequently asked questions."}
		]}`))
	})
	siteSrv := httptest.NewServer(mux)
	defer siteSrv.Close()

	adapter := NewFidelityAdapter(siteSrv.Client(), siteSrv.URL, nil, WithSearchURL(searchSrv.URL))

	results, err := adapter.Search(context.Background(), "lost card", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "Report a lost card", results[0].Title)
	assert.Equal(t, 0.95, results[0].Relevance)
	assert.Equal(t, siteSrv.URL+"/cards/faq", results[1].URL)
	assert.InDelta(t, 0.75, results[1].Relevance, 1e-9)
}

func TestFidelityAdapterBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	adapter := NewFidelityAdapter(srv.Client(), srv.URL, nil, WithSearchURL(srv.URL))

	_, err := adapter.Search(context.Background(), "anything", 3)
	require.Error(t, err)
	assert.Equal(t, "bad_response", ErrorKind(err))
}
