package workflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wolfman30/repassist-platform/internal/source"
	"github.com/wolfman30/repassist-platform/pkg/logging"
)

// SearcherConfig bounds the fan-out.
type SearcherConfig struct {
	TopK          int           // per-source result cap
	Deadline      time.Duration // total fan-out deadline
	SnippetBudget int           // per-snippet byte budget
}

func (c *SearcherConfig) applyDefaults() {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.Deadline <= 0 {
		c.Deadline = 10 * time.Second
	}
	if c.SnippetBudget <= 0 {
		c.SnippetBudget = 2048
	}
}

// Searcher fans a query out to every registered adapter concurrently and
// merges the results. It never fails as a whole: a source timing out or
// erroring contributes zero results and an entry in the error map.
type Searcher struct {
	registry *source.Registry
	cfg      SearcherConfig
	logger   *logging.Logger
}

func NewSearcher(registry *source.Registry, cfg SearcherConfig, logger *logging.Logger) *Searcher {
	if registry == nil {
		panic("workflow: source registry cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg.applyDefaults()
	return &Searcher{registry: registry, cfg: cfg, logger: logger}
}

type rankedResult struct {
	source.Result
	pref int // adapter registration index
	rank int // original position within the adapter's results
}

// Search runs all adapters in parallel up to the configured deadline.
// Adapters still running at the deadline are cancelled and recorded as
// "timeout". The merge is stable: relevance descending, ties broken by
// registration order, then by the adapter's own ranking.
func (s *Searcher) Search(ctx context.Context, query string) ([]source.Result, map[string]string) {
	adapters := s.registry.Adapters()
	fanCtx, cancel := context.WithTimeout(ctx, s.cfg.Deadline)
	defer cancel()

	type outcome struct {
		pref    int
		name    string
		results []source.Result
		err     error
	}

	outcomes := make(chan outcome, len(adapters))
	var wg sync.WaitGroup
	for i, adapter := range adapters {
		wg.Add(1)
		go func(pref int, a source.Adapter) {
			defer wg.Done()
			results, err := a.Search(fanCtx, query, s.cfg.TopK)
			outcomes <- outcome{pref: pref, name: a.Name(), results: results, err: err}
		}(i, adapter)
	}
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	errs := make(map[string]string)
	var merged []rankedResult
	for out := range outcomes {
		if out.err != nil {
			kind := source.ErrorKind(out.err)
			errs[out.name] = kind
			s.logger.Warn("source adapter failed",
				"source", out.name, "error_kind", kind, "error", out.err)
			continue
		}
		for rank, r := range out.results {
			if rank >= s.cfg.TopK {
				break
			}
			r.Snippet = source.TruncateSnippet(r.Snippet, s.cfg.SnippetBudget)
			merged = append(merged, rankedResult{Result: r, pref: out.pref, rank: rank})
		}
	}

	deduped := dedupeByURL(merged)
	sort.SliceStable(deduped, func(i, j int) bool {
		if deduped[i].Relevance != deduped[j].Relevance {
			return deduped[i].Relevance > deduped[j].Relevance
		}
		if deduped[i].pref != deduped[j].pref {
			return deduped[i].pref < deduped[j].pref
		}
		return deduped[i].rank < deduped[j].rank
	})

	// 2x the per-source cap overall keeps some source diversity downstream.
	limit := s.cfg.TopK * 2
	if len(deduped) > limit {
		deduped = deduped[:limit]
	}

	results := make([]source.Result, len(deduped))
	for i, r := range deduped {
		results[i] = r.Result
	}
	return results, errs
}

// dedupeByURL keeps, per canonical URL, the result with the higher relevance
// score; on equal scores the earlier preference order wins.
func dedupeByURL(in []rankedResult) []rankedResult {
	best := make(map[string]int, len(in)) // canonical URL -> index into out
	var out []rankedResult
	for _, r := range in {
		key := source.CanonicalURL(r.URL)
		if idx, ok := best[key]; ok {
			current := out[idx]
			if r.Relevance > current.Relevance ||
				(r.Relevance == current.Relevance && r.pref < current.pref) {
				out[idx] = r
			}
			continue
		}
		best[key] = len(out)
		out = append(out, r)
	}
	return out
}
