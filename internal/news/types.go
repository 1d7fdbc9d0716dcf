package news

import (
	"context"
	"errors"
	"time"
)

// Headline is one candidate article from the search feed, before its body
// has been fetched.
type Headline struct {
	Title       string
	Link        string
	Source      string
	PublishedAt time.Time
}

// ArticleRecord is the outcome of fetching one headline's body.
// Exactly one of Text / Err is set.
type ArticleRecord struct {
	Headline
	Text string
	Err  error
}

// OK reports whether the article body was fetched successfully.
func (a ArticleRecord) OK() bool { return a.Err == nil }

// CondensedArticle is the stage-1 output for one article. Articles whose
// fetch or condensation failed never become one.
type CondensedArticle struct {
	Title       string
	URL         string
	Source      string
	PublishedAt time.Time
	Text        string
}

// Digest is the final styled multi-article summary.
type Digest struct {
	// Reasoning holds the model's thinking segment when the backend emits
	// one; delivery may show it separately. Empty otherwise.
	Reasoning   string
	Text        string
	SourceCount int
	GeneratedAt time.Time
}

// Resolver turns a keyword set into candidate headlines.
// It may return fewer than limit; freshness is not guaranteed.
type Resolver interface {
	Resolve(ctx context.Context, keywords []string, limit int) ([]Headline, error)
}

// Fetch error kinds, one per observable failure mode.
var (
	ErrFetchTimeout = errors.New("fetch timed out")
	ErrFetchBlocked = errors.New("fetch blocked")
	ErrNotFound     = errors.New("article not found")
	ErrParse        = errors.New("article text could not be extracted")
)
