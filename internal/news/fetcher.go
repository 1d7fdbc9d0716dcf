package news

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"linepress/pkg/logx"
)

// minArticleRunes rejects pages where extraction found only boilerplate.
const minArticleRunes = 200

const maxBodyBytes = 5 * 1024 * 1024

// Fetcher retrieves article bodies with bounded concurrency.
//
// FetchAll never fails as a whole: each headline yields an ArticleRecord
// carrying either the extracted text or the per-article error, in input
// order.
type Fetcher struct {
	log logx.Logger

	http      *http.Client
	userAgent string

	workers int
	timeout time.Duration
}

type FetcherConfig struct {
	Workers   int
	Timeout   time.Duration
	UserAgent string
}

func NewFetcher(cfg FetcherConfig, log logx.Logger) *Fetcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 3
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		log:       log,
		http:      &http.Client{},
		userAgent: cfg.UserAgent,
		workers:   workers,
		timeout:   timeout,
	}
}

// FetchAll dispatches up to the configured worker bound of concurrent
// fetches and returns when every dispatched fetch has settled.
func (f *Fetcher) FetchAll(ctx context.Context, headlines []Headline) []ArticleRecord {
	records := make([]ArticleRecord, len(headlines))

	sem := make(chan struct{}, f.workers)
	var wg sync.WaitGroup
	for i, h := range headlines {
		wg.Add(1)
		go func(i int, h Headline) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			records[i] = f.fetchOne(ctx, h)
		}(i, h)
	}
	wg.Wait()

	ok := 0
	for _, r := range records {
		if r.OK() {
			ok++
		}
	}
	f.log.Info("article fetch settled", logx.Int("total", len(records)), logx.Int("ok", ok))
	return records
}

func (f *Fetcher) fetchOne(ctx context.Context, h Headline) ArticleRecord {
	rec := ArticleRecord{Headline: h}

	fctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	body, err := f.download(fctx, h.Link)
	if err != nil {
		rec.Err = err
		f.log.Warn("article fetch failed", logx.String("url", h.Link), logx.Err(err))
		return rec
	}

	text, err := extractText(body, h.Link)
	if err != nil {
		rec.Err = err
		f.log.Warn("article extraction failed", logx.String("url", h.Link), logx.Err(err))
		return rec
	}

	rec.Text = text
	return rec
}

func (f *Fetcher) download(ctx context.Context, rawurl string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrFetchTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrFetchBlocked
	default:
		return nil, fmt.Errorf("%w: HTTP %d", ErrParse, resp.StatusCode)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrFetchTimeout
		}
		return nil, fmt.Errorf("%w: read body: %v", ErrParse, err)
	}
	return b, nil
}

// extractText pulls the article's main text out of raw HTML. Readability is
// tried first; a plain goquery text pass covers pages whose markup defeats
// it. Either way a too-short result is a parse failure, never a digest of
// navigation chrome.
func extractText(body []byte, pageURL string) (string, error) {
	var base *url.URL
	if u, err := url.Parse(pageURL); err == nil {
		base = u
	}

	if article, err := readability.FromReader(strings.NewReader(string(body)), base); err == nil {
		text := strings.TrimSpace(article.TextContent)
		if utf8.RuneCountInString(text) >= minArticleRunes {
			return text, nil
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrParse, err)
	}
	doc.Find("script, style, nav, header, footer, aside").Remove()
	var b strings.Builder
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		t := strings.TrimSpace(s.Text())
		if t != "" {
			b.WriteString(t)
			b.WriteString("\n")
		}
	})
	text := strings.TrimSpace(b.String())
	if utf8.RuneCountInString(text) < minArticleRunes {
		return "", ErrParse
	}
	return text, nil
}
