package news

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"linepress/pkg/logx"
)

// GoogleNewsResolver resolves keyword queries against the Google News RSS
// search feed and unwraps each entry's redirect link to the real article URL.
type GoogleNewsResolver struct {
	log logx.Logger

	http      *http.Client
	parser    *gofeed.Parser
	userAgent string

	lang    string // hl, e.g. "zh-TW"
	country string // gl, e.g. "TW"
	edition string // ceid, e.g. "TW:zh-Hant"

	// freshFor drops headlines published longer than this ago (0 disables).
	freshFor time.Duration

	feedBase string
}

type ResolverConfig struct {
	UserAgent string
	Lang      string
	Country   string
	Edition   string
	FreshFor  time.Duration
	Timeout   time.Duration

	// FeedBase overrides the search feed endpoint.
	FeedBase string
}

const defaultFeedBase = "https://news.google.com/rss/search"

func NewGoogleNewsResolver(cfg ResolverConfig, log logx.Logger) *GoogleNewsResolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &GoogleNewsResolver{
		log:       log,
		http:      &http.Client{Timeout: timeout},
		parser:    gofeed.NewParser(),
		userAgent: cfg.UserAgent,
		lang:      cfg.Lang,
		country:   cfg.Country,
		edition:   cfg.Edition,
		freshFor:  cfg.FreshFor,
		feedBase:  cfg.FeedBase,
	}
}

func (r *GoogleNewsResolver) feedURL(keywords []string) string {
	q := strings.Join(keywords, " ")
	v := url.Values{}
	v.Set("q", q)
	if r.lang != "" {
		v.Set("hl", r.lang)
	}
	if r.country != "" {
		v.Set("gl", r.country)
	}
	if r.edition != "" {
		v.Set("ceid", r.edition)
	}
	base := r.feedBase
	if base == "" {
		base = defaultFeedBase
	}
	return base + "?" + v.Encode()
}

func (r *GoogleNewsResolver) Resolve(ctx context.Context, keywords []string, limit int) ([]Headline, error) {
	if limit <= 0 {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.feedURL(keywords), nil)
	if err != nil {
		return nil, err
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch search feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search feed returned HTTP %d", resp.StatusCode)
	}

	feed, err := r.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse search feed: %w", err)
	}

	// Over-fetch so redirect failures and duplicates still leave enough
	// candidates to hit the limit.
	entries := feed.Items
	if len(entries) > limit*2 {
		entries = entries[:limit*2]
	}

	seen := map[string]bool{}
	out := make([]Headline, 0, limit)
	for _, item := range entries {
		if len(out) >= limit {
			break
		}
		real := r.resolveLink(ctx, item.Link)
		if real == "" || seen[real] {
			continue
		}
		seen[real] = true

		h := Headline{Title: item.Title, Link: real}
		if item.PublishedParsed != nil {
			h.PublishedAt = *item.PublishedParsed
		}
		if item.Custom != nil && item.Custom["source"] != "" {
			h.Source = item.Custom["source"]
		} else {
			h.Source = sourceFromURL(real)
		}
		out = append(out, h)
	}

	if r.freshFor > 0 {
		cutoff := time.Now().Add(-r.freshFor)
		fresh := out[:0]
		for _, h := range out {
			if !h.PublishedAt.IsZero() && h.PublishedAt.Before(cutoff) {
				continue
			}
			fresh = append(fresh, h)
		}
		out = fresh
	}

	// Newest first so the digest leads with current events.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PublishedAt.After(out[j].PublishedAt)
	})

	r.log.Debug("headlines resolved", logx.Int("count", len(out)), logx.String("query", strings.Join(keywords, " ")))
	return out, nil
}

// resolveLink follows the Google News redirect to the article's real URL.
// On failure it falls back to the "url" query parameter, then to the
// original link.
func (r *GoogleNewsResolver) resolveLink(ctx context.Context, link string) string {
	if link == "" {
		return ""
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return link
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	resp, err := r.http.Do(req)
	if err == nil {
		final := resp.Request.URL.String()
		resp.Body.Close()
		if final != "" {
			return final
		}
	}
	if target := embeddedURLParam(link); target != "" {
		return target
	}
	return link
}

// embeddedURLParam extracts the "url" query parameter Google News redirect
// links sometimes carry, for when following the redirect itself fails.
func embeddedURLParam(link string) string {
	u, err := url.Parse(link)
	if err != nil || !strings.HasSuffix(u.Host, "news.google.com") {
		return ""
	}
	target := u.Query().Get("url")
	if target == "" {
		return ""
	}
	if dec, err := url.QueryUnescape(target); err == nil {
		return dec
	}
	return target
}

func sourceFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(u.Host, "www.")
}
