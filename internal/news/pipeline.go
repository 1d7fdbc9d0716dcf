package news

import (
	"context"
	"fmt"
	"time"

	"linepress/internal/store"
	"linepress/pkg/logx"
)

// ArticleFetcher retrieves article bodies for resolved headlines.
type ArticleFetcher interface {
	FetchAll(ctx context.Context, headlines []Headline) []ArticleRecord
}

// DigestMaker turns fetched articles into one digest.
type DigestMaker interface {
	Digest(ctx context.Context, articles []ArticleRecord) (Digest, error)
}

// Result is the outcome of one pipeline run.
type Result struct {
	Entry  store.DigestEntry
	Cached bool

	// Reasoning is only set on a fresh (uncached) run whose aggregation
	// emitted a thinking segment.
	Reasoning string
}

// Pipeline executes one keyword set end to end:
// cache lookup → resolve → fetch → summarize → cache write.
//
// Runs are expected to be serialized per key by the caller (the scheduler's
// task chain); the ad-hoc path may overlap with a batch, which the store's
// keep-newer PutDigest absorbs.
type Pipeline struct {
	log logx.Logger

	store      store.Store
	resolver   Resolver
	fetcher    ArticleFetcher
	summarizer DigestMaker

	ttl time.Duration
	now func() time.Time
}

type PipelineConfig struct {
	CacheTTL time.Duration
}

func NewPipeline(st store.Store, r Resolver, f ArticleFetcher, d DigestMaker, cfg PipelineConfig, log logx.Logger) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &Pipeline{
		log:        log,
		store:      st,
		resolver:   r,
		fetcher:    f,
		summarizer: d,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Run executes one pipeline run for a keyword set. Only resolution and
// aggregation failures are fatal; everything else degrades to a partial or
// empty digest. Zero-source digests are returned but never cached.
func (p *Pipeline) Run(ctx context.Context, keywords []string, limit int) (Result, error) {
	key := NormalizeKeywords(keywords)
	log := p.log.With(logx.String("key", key))
	start := p.now()

	// A cache read failure is a forced miss, not a fatal error.
	if entry, ok, err := p.store.GetDigest(ctx, key, p.ttl); err != nil {
		log.Warn("cache read failed; treating as miss", logx.Err(err))
	} else if ok {
		log.Info("cache hit", logx.Time("generated_at", entry.GeneratedAt))
		return Result{Entry: entry, Cached: true}, nil
	}

	headlines, err := p.resolver.Resolve(ctx, keywords, limit)
	if err != nil {
		return Result{}, fmt.Errorf("resolve headlines: %w", err)
	}

	var records []ArticleRecord
	if len(headlines) > 0 {
		records = p.fetcher.FetchAll(ctx, headlines)
	}

	digest, err := p.summarizer.Digest(ctx, records)
	if err != nil {
		return Result{}, err
	}

	entry := store.DigestEntry{
		Key:         key,
		Text:        digest.Text,
		GeneratedAt: digest.GeneratedAt,
		SourceCount: digest.SourceCount,
	}

	// No negative caching: an empty digest is delivered but never stored,
	// so the next request retries a full run.
	if digest.SourceCount > 0 {
		if err := p.store.PutDigest(ctx, entry); err != nil {
			log.Warn("cache write failed; digest still delivered", logx.Err(err))
		}
	}

	log.Info("pipeline run finished",
		logx.Int("sources", digest.SourceCount),
		logx.Duration("took", p.now().Sub(start)))
	return Result{Entry: entry, Reasoning: digest.Reasoning}, nil
}
