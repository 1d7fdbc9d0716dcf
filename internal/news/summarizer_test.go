package news

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"linepress/internal/llm"
)

const (
	testCondenseModel  = "condense-model"
	testAggregateModel = "aggregate-model"
)

// fakeLLM routes completions by model name so tests can script the two
// stages independently.
type fakeLLM struct {
	mu        sync.Mutex
	condense  func(req llm.Request) (llm.Completion, error)
	aggregate func(req llm.Request) (llm.Completion, error)

	condenseCalls  int32
	aggregateCalls int32
	aggregateInput string
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (llm.Completion, error) {
	switch req.Model {
	case testCondenseModel:
		atomic.AddInt32(&f.condenseCalls, 1)
		if f.condense != nil {
			return f.condense(req)
		}
		return llm.Completion{Final: "condensed: " + firstLine(req.User)}, nil
	case testAggregateModel:
		atomic.AddInt32(&f.aggregateCalls, 1)
		f.mu.Lock()
		f.aggregateInput = req.User
		f.mu.Unlock()
		if f.aggregate != nil {
			return f.aggregate(req)
		}
		return llm.Completion{Final: "digest"}, nil
	default:
		return llm.Completion{}, fmt.Errorf("unexpected model %q", req.Model)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func newTestSummarizer(client llm.Client, workers int) *Summarizer {
	s := NewSummarizer(client, SummarizerConfig{
		CondenseModel:   testCondenseModel,
		AggregateModel:  testAggregateModel,
		Workers:         workers,
		MaxArticleChars: 8000,
	}, testLogger())
	s.now = func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) }
	return s
}

func okArticle(i int) ArticleRecord {
	return ArticleRecord{
		Headline: Headline{
			Title:       fmt.Sprintf("標題 %d", i),
			Link:        fmt.Sprintf("https://example.com/news/%d", i),
			Source:      "example",
			PublishedAt: time.Date(2025, 5, 30+i%2, 12, 0, 0, 0, time.UTC),
		},
		Text: fmt.Sprintf("第 %d 篇文章內文", i),
	}
}

func TestDigestAggregatesAfterAllCondensationsSettle(t *testing.T) {
	t.Parallel()

	const n = 5
	var settled int32
	f := &fakeLLM{}
	f.condense = func(req llm.Request) (llm.Completion, error) {
		// Stagger completions so a premature aggregation would observe
		// settled < n.
		time.Sleep(time.Duration(10+len(req.User)%40) * time.Millisecond)
		atomic.AddInt32(&settled, 1)
		return llm.Completion{Final: "摘要"}, nil
	}
	f.aggregate = func(req llm.Request) (llm.Completion, error) {
		if got := atomic.LoadInt32(&settled); got != n {
			t.Errorf("aggregation started with %d/%d condensations settled", got, n)
		}
		return llm.Completion{Final: "digest"}, nil
	}

	articles := make([]ArticleRecord, n)
	for i := range articles {
		articles[i] = okArticle(i)
	}

	s := newTestSummarizer(f, 2)
	d, err := s.Digest(context.Background(), articles)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if d.SourceCount != n {
		t.Fatalf("SourceCount = %d, want %d", d.SourceCount, n)
	}
	if atomic.LoadInt32(&f.aggregateCalls) != 1 {
		t.Fatalf("aggregate called %d times, want exactly 1", f.aggregateCalls)
	}
}

func TestDigestDropsFailedCondensationsKeepsOrder(t *testing.T) {
	t.Parallel()

	f := &fakeLLM{}
	f.condense = func(req llm.Request) (llm.Completion, error) {
		if strings.Contains(req.User, "標題 1") {
			return llm.Completion{}, llm.ErrTimeout
		}
		return llm.Completion{Final: "摘要:" + firstLine(req.User)}, nil
	}

	articles := []ArticleRecord{okArticle(0), okArticle(1), okArticle(2)}
	s := newTestSummarizer(f, 3)
	d, err := s.Digest(context.Background(), articles)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if d.SourceCount != 2 {
		t.Fatalf("SourceCount = %d, want 2 (one condensation dropped)", d.SourceCount)
	}

	f.mu.Lock()
	input := f.aggregateInput
	f.mu.Unlock()
	i0 := strings.Index(input, "標題 0")
	i2 := strings.Index(input, "標題 2")
	if i0 < 0 || i2 < 0 {
		t.Fatalf("aggregate input missing survivors: %q", input)
	}
	if strings.Contains(input, "標題 1") {
		t.Fatalf("dropped article leaked into aggregate input")
	}
	if i0 > i2 {
		t.Fatalf("survivor order not preserved: %d > %d", i0, i2)
	}
}

func TestDigestSkipsFailedFetches(t *testing.T) {
	t.Parallel()

	f := &fakeLLM{}
	articles := []ArticleRecord{
		okArticle(0),
		{Headline: Headline{Title: "failed", Link: "https://example.com/failed"}, Err: ErrFetchTimeout},
	}
	s := newTestSummarizer(f, 2)
	d, err := s.Digest(context.Background(), articles)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if d.SourceCount != 1 {
		t.Fatalf("SourceCount = %d, want 1", d.SourceCount)
	}
	if got := atomic.LoadInt32(&f.condenseCalls); got != 1 {
		t.Fatalf("condense called %d times, want 1 (failed fetch must not be condensed)", got)
	}
}

func TestDigestZeroArticlesReturnsNoResults(t *testing.T) {
	t.Parallel()

	f := &fakeLLM{}
	s := newTestSummarizer(f, 2)

	for _, articles := range [][]ArticleRecord{
		nil,
		{{Headline: Headline{Title: "x"}, Err: ErrNotFound}},
	} {
		d, err := s.Digest(context.Background(), articles)
		if err != nil {
			t.Fatalf("Digest: %v", err)
		}
		if d.Text != NoResultsText {
			t.Fatalf("Text = %q, want no-results text", d.Text)
		}
		if d.SourceCount != 0 {
			t.Fatalf("SourceCount = %d, want 0", d.SourceCount)
		}
		if d.GeneratedAt.IsZero() {
			t.Fatal("GeneratedAt not set on no-results digest")
		}
	}
	if atomic.LoadInt32(&f.aggregateCalls) != 0 {
		t.Fatalf("aggregate called for zero-article run")
	}
}

func TestDigestAggregationFailureIsFatal(t *testing.T) {
	t.Parallel()

	f := &fakeLLM{}
	f.aggregate = func(req llm.Request) (llm.Completion, error) {
		return llm.Completion{}, llm.ErrInvalidResponse
	}
	s := newTestSummarizer(f, 2)
	if _, err := s.Digest(context.Background(), []ArticleRecord{okArticle(0)}); !errors.Is(err, llm.ErrInvalidResponse) {
		t.Fatalf("err = %v, want wrapped ErrInvalidResponse", err)
	}
}

func TestDigestKeepsSourceURLsVerbatim(t *testing.T) {
	t.Parallel()

	f := &fakeLLM{}
	f.aggregate = func(req llm.Request) (llm.Completion, error) {
		// Model rewrote one link and dropped the other entirely.
		return llm.Completion{Final: "精彩新聞！連結：https://example.com/NEWS/0"}, nil
	}

	articles := []ArticleRecord{okArticle(0), okArticle(1)}
	s := newTestSummarizer(f, 2)
	d, err := s.Digest(context.Background(), articles)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	for _, a := range articles {
		if !strings.Contains(d.Text, a.Link) {
			t.Fatalf("digest missing verbatim URL %s:\n%s", a.Link, d.Text)
		}
	}
}

func TestDigestReasoningPassedThrough(t *testing.T) {
	t.Parallel()

	f := &fakeLLM{}
	f.aggregate = func(req llm.Request) (llm.Completion, error) {
		return llm.Completion{Reasoning: "思考中", Final: "digest https://example.com/news/0"}, nil
	}
	s := newTestSummarizer(f, 1)
	d, err := s.Digest(context.Background(), []ArticleRecord{okArticle(0)})
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if d.Reasoning != "思考中" {
		t.Fatalf("Reasoning = %q", d.Reasoning)
	}
}

func TestTruncateCharsRuneBoundary(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("漢", 10) // 30 bytes
	got := truncateChars(s, 10)
	if len(got) > 10 {
		t.Fatalf("truncated to %d bytes, want <= 10", len(got))
	}
	if !strings.HasPrefix(s, got) || strings.Count(got, "漢")*3 != len(got) {
		t.Fatalf("truncation split a rune: %q", got)
	}
}
