package reconcile

import (
	"context"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"moviebox/internal/api"
	"moviebox/internal/cache"
	"moviebox/internal/config"
	"moviebox/internal/metrics"
	"moviebox/internal/saved"
)

// DetailSource fetches a single title.
type DetailSource interface {
	GetMovie(ctx context.Context, id string) (*api.Movie, error)
}

// Enricher fills in saved items the list endpoint returned without the
// fields the list view needs. Details come from the cache or a paced,
// de-duplicated fetch; a failed fetch keeps the partial item.
type Enricher struct {
	source      DetailSource
	cache       *cache.LRUCache
	group       singleflight.Group
	limiter     *rate.Limiter
	concurrency int
	logger      zerolog.Logger
}

func NewEnricher(source DetailSource, cfg config.SyncConfig, logger zerolog.Logger) *Enricher {
	limit := rate.Inf
	if cfg.DetailRatePerSec > 0 {
		limit = rate.Limit(cfg.DetailRatePerSec)
	}
	burst := cfg.DetailBurst
	if burst <= 0 {
		burst = 1
	}
	concurrency := cfg.DetailConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	entries := cfg.DetailCacheEntries
	if entries <= 0 {
		entries = 256
	}
	maxBytes := cfg.DetailCacheBytes
	if maxBytes <= 0 {
		maxBytes = 4 * 1024 * 1024
	}

	return &Enricher{
		source:      source,
		cache:       cache.NewLRUCache(entries, maxBytes, cfg.DetailCacheTTL),
		limiter:     rate.NewLimiter(limit, burst),
		concurrency: concurrency,
		logger:      logger,
	}
}

// Detail returns the title from cache or fetches it. Concurrent calls for
// one id share a single request.
func (e *Enricher) Detail(ctx context.Context, id string) (*api.Movie, error) {
	if data, ok := e.cache.Get(id); ok {
		var m api.Movie
		if err := json.Unmarshal(data, &m); err == nil {
			metrics.DetailFetches.WithLabelValues("hit").Inc()
			return &m, nil
		}
		e.cache.Delete(id)
	}

	v, err, _ := e.group.Do(id, func() (any, error) {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		m, err := e.source.GetMovie(ctx, id)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(m); err == nil {
			e.cache.Set(id, data)
		}
		return m, nil
	})
	if err != nil {
		metrics.DetailFetches.WithLabelValues("failed").Inc()
		return nil, err
	}

	metrics.DetailFetches.WithLabelValues("fetched").Inc()
	m := *v.(*api.Movie)
	return &m, nil
}

// Enrich returns items with incomplete entries merged with their detail.
// Order is preserved and the call never fails.
func (e *Enricher) Enrich(ctx context.Context, items []saved.SavedItem) []saved.SavedItem {
	out := make([]saved.SavedItem, len(items))
	copy(out, items)

	var (
		mu     sync.Mutex
		failed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i := range out {
		if !out[i].Incomplete() {
			continue
		}
		i := i
		g.Go(func() error {
			detail, err := e.Detail(gctx, out[i].ID)
			if err != nil {
				e.logger.Debug().Err(err).Str("id", out[i].ID).Msg("detail fetch failed, keeping partial item")
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			out[i] = out[i].MergeDetail(*detail)
			return nil
		})
	}
	_ = g.Wait()

	if failed > 0 {
		e.logger.Warn().Int("failed", failed).Msg("some saved items could not be enriched")
	}
	return out
}

func (e *Enricher) CacheStats() cache.Stats {
	return e.cache.Stats()
}
