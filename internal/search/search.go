// File: internal/search/search.go

// Package search fans queries out to multiple result providers, merges and
// deduplicates on canonical URL, and reranks with a deterministic score so
// the same provider responses always produce the same ordering.
package search

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/textutil"
)

const (
	scrapeEndpoint     = "https://html.duckduckgo.com/html/"
	scrapeLiteEndpoint = "https://lite.duckduckgo.com/lite/"
)

// Service implements schemas.Searcher over a pool of providers. Providers
// are queried concurrently; a provider failure costs that provider's results
// only, never the whole call.
type Service struct {
	providers []Provider
	fallback  Provider
	cfg       config.SearchConfig
	logger    *zap.Logger
}

// NewService wires the provider pool from configuration. API-backed
// providers are only registered when their credential is present; the
// scrape providers are always available. A non-nil session provider enables
// the expensive browser fallback for when every network provider comes back
// empty.
func NewService(cfg config.SearchConfig, sessions schemas.SessionProvider, logger *zap.Logger) *Service {
	log := logger.Named("search")
	client := &http.Client{Timeout: cfg.ProviderTimeout}
	limit := rate.Limit(cfg.ProviderRateLimit)
	if limit <= 0 {
		limit = 1
	}

	var providers []Provider
	if cfg.DirectAPIKey != "" {
		providers = append(providers, &directAPIProvider{
			cfg: cfg, client: client, limiter: rate.NewLimiter(limit, 1), logger: log,
		})
	}
	if cfg.ManagedAPIURL != "" {
		providers = append(providers, &managedAPIProvider{
			cfg: cfg, client: client, limiter: rate.NewLimiter(limit, 1), logger: log,
		})
	}
	providers = append(providers,
		&scrapeProvider{
			endpoint: scrapeEndpoint, engine: schemas.EngineScrape,
			client: client, limiter: rate.NewLimiter(limit, 1), logger: log,
		},
		&scrapeProvider{
			endpoint: scrapeLiteEndpoint, engine: schemas.EngineScrapeLite,
			client: client, limiter: rate.NewLimiter(limit, 1), logger: log,
		},
	)

	svc := &Service{providers: providers, cfg: cfg, logger: log}
	if sessions != nil {
		svc.fallback = &browserProvider{sessions: sessions, logger: log}
	}
	return svc
}

// NewServiceWithProviders builds a service over an explicit provider set.
// Used by tests and by callers that need a custom pool.
func NewServiceWithProviders(cfg config.SearchConfig, providers []Provider, fallback Provider, logger *zap.Logger) *Service {
	return &Service{providers: providers, fallback: fallback, cfg: cfg, logger: logger.Named("search")}
}

// Search runs the query against every registered provider concurrently,
// merges on canonical URL, and returns a reranked list. All providers
// failing yields an empty list and a nil error; search exhaustion is a
// result, not a fault.
func (s *Service) Search(ctx context.Context, query string, opts schemas.SearchOptions) ([]schemas.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty search query")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.cfg.ProviderTimeout
	}

	merged := s.fanOut(ctx, s.providers, query, limit, timeout)

	if len(merged) == 0 && s.fallback != nil {
		s.logger.Info("All network providers returned empty, trying browser fallback",
			zap.String("query", query))
		merged = s.fanOut(ctx, []Provider{s.fallback}, query, limit, timeout)
	}

	ranked := Rerank(query, merged)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	s.logger.Debug("Search complete",
		zap.String("query", query), zap.Int("results", len(ranked)))
	return ranked, nil
}

// fanOut queries the given providers concurrently with a per-provider
// timeout, then merges the successes keyed by canonical URL. First writer
// wins a URL slot; providers are iterated in registration (trust) order
// when collecting, so higher-trust engines claim contested URLs.
func (s *Service) fanOut(ctx context.Context, providers []Provider, query string, limit int, timeout time.Duration) []schemas.SearchResult {
	perProvider := make([][]schemas.SearchResult, len(providers))
	g, gctx := errgroup.WithContext(ctx)

	for i, p := range providers {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()

			results, err := p.Search(pctx, query, limit)
			if err != nil {
				s.logger.Warn("Search provider failed",
					zap.String("engine", string(p.Name())), zap.Error(err))
				return nil
			}
			perProvider[i] = results
			return nil
		})
	}
	// Provider errors are swallowed above, so Wait only observes ctx errors.
	_ = g.Wait()

	seen := make(map[string]struct{})
	var merged []schemas.SearchResult
	for _, results := range perProvider {
		for _, r := range results {
			canon, err := schemas.CanonicalURL(r.URL)
			if err != nil {
				continue
			}
			if _, dup := seen[canon]; dup {
				continue
			}
			seen[canon] = struct{}{}
			r.URL = canon
			merged = append(merged, r)
		}
	}
	return merged
}

// Rerank scores and sorts results deterministically. Score is token overlap
// against the query weighted 1.1, plus a freshness component from any year
// mentioned in the snippet, plus a fixed provider-trust component. Ties
// break on canonical URL so equal-score orderings are stable across runs.
func Rerank(query string, results []schemas.SearchResult) []schemas.SearchResult {
	tokens := textutil.SignificantTokens(query)
	currentYear := time.Now().UTC().Year()

	out := make([]schemas.SearchResult, len(results))
	copy(out, results)
	for i := range out {
		overlap := textutil.Overlap(tokens, out[i].Title+" "+out[i].Snippet+" "+out[i].URL)
		out[i].Score = overlap*1.1 + freshnessScore(out[i], currentYear) + trustScore(out[i].Engine)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].URL < out[j].URL
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// freshnessScore rewards results that mention a recent year. Undated
// results get the floor rather than zero so they stay competitive on
// overlap alone.
func freshnessScore(r schemas.SearchResult, currentYear int) float64 {
	text := r.Title + " " + r.Snippet + " " + r.URL
	switch {
	case strings.Contains(text, fmt.Sprint(currentYear)):
		return 0.45
	case strings.Contains(text, fmt.Sprint(currentYear-1)):
		return 0.25
	default:
		return 0.05
	}
}

func trustScore(engine schemas.SearchEngine) float64 {
	switch engine {
	case schemas.EngineDirectAPI:
		return 0.3
	case schemas.EngineManagedAPI:
		return 0.2
	case schemas.EngineScrape, schemas.EngineScrapeLite:
		return 0.1
	case schemas.EngineBrowser:
		return 0.05
	default:
		return 0
	}
}

var _ schemas.Searcher = (*Service)(nil)
