package news

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"linepress/internal/llm"
	"linepress/pkg/logx"
)

// NoResultsText is delivered when a run produced zero condensable articles.
const NoResultsText = "今天沒有抓取到相關新聞可供摘要。"

const condensePrompt = "你是一位資深的新聞編輯，專長是快速提煉文章核心。請將以下提供的新聞內文，" +
	"濃縮成一段不超過150字的客觀、精簡中文摘要。摘要應包含最關鍵的人物、事件、數據和結論。" +
	"請直接輸出摘要內容，不要有任何開頭或結尾的客套話。"

func aggregatePrompt(now time.Time) string {
	return fmt.Sprintf("今天日期是 %s。\n", now.Format("2006-01-02 15:04")) +
		"你是一位風趣幽默、知識淵博的新聞 Podcast 主持人。你的聽眾喜歡輕鬆、易懂且帶有 Emoji 的內容。" +
		"接下來我會提供數則「附有發布日期的精簡新聞摘要」。請你根據這些摘要，將它們整合成一篇連貫的談話性內容。\n" +
		"你的任務是：\n" +
		"1. 用生動的語氣開場，吸引聽眾注意。\n" +
		"2. 將各則新聞摘要自然地串連起來，可以根據發布日期增加時效感，但不要杜撰不存在的事實。\n" +
		"3. 在提到每則新聞的重點後，請務必附上這則新聞的原始標題與連結，連結必須原封不動照抄，格式如下：\n" +
		"   - 標題：[原始新聞標題]（[來源]）\n     [原始連結]\n" +
		"4. 全程多使用 Emoji 來增加活潑感。\n" +
		"5. 要嚴肅應對每則有負面情緒的新聞例如災難與傷亡。\n" +
		"6. 最後結論要加註這是AI生成的內容，讀者應注意正確性。\n" +
		"7. 總結的回答字數限制在500字以下以符合通訊軟體的限制。\n"
}

// SummarizerConfig tunes the two-stage digest generation.
type SummarizerConfig struct {
	CondenseModel   string
	AggregateModel  string
	Workers         int
	MaxArticleChars int
}

// Summarizer condenses each article individually (stage 1, concurrent up to
// the worker bound) and then aggregates the condensations into one styled
// digest (stage 2, a single call). Aggregation never starts until every
// dispatched condensation has settled.
type Summarizer struct {
	log logx.Logger

	client llm.Client
	cfg    SummarizerConfig

	now func() time.Time
}

func NewSummarizer(client llm.Client, cfg SummarizerConfig, log logx.Logger) *Summarizer {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.MaxArticleChars <= 0 {
		cfg.MaxArticleChars = 8000
	}
	return &Summarizer{log: log, client: client, cfg: cfg, now: time.Now}
}

// Digest runs both stages. A run with zero usable articles returns the
// no-results digest with SourceCount 0 and a nil error; only an aggregation
// failure is returned as an error.
func (s *Summarizer) Digest(ctx context.Context, articles []ArticleRecord) (Digest, error) {
	condensed := s.condenseAll(ctx, articles)
	if len(condensed) == 0 {
		return Digest{Text: NoResultsText, GeneratedAt: s.now()}, nil
	}

	out, err := s.aggregate(ctx, condensed)
	if err != nil {
		return Digest{}, fmt.Errorf("aggregate digest: %w", err)
	}
	return Digest{
		Reasoning:   out.Reasoning,
		Text:        ensureSourceLinks(out.Final, condensed),
		SourceCount: len(condensed),
		GeneratedAt: s.now(),
	}, nil
}

// ensureSourceLinks appends a source list for any article whose URL the
// model failed to reproduce verbatim. Every surviving article's original
// link must appear unmodified in the digest so the delivery channel can
// render it.
func ensureSourceLinks(text string, condensed []CondensedArticle) string {
	var missing []CondensedArticle
	for _, c := range condensed {
		if c.URL != "" && !strings.Contains(text, c.URL) {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\n📎 新聞來源：")
	for _, c := range missing {
		fmt.Fprintf(&b, "\n- %s\n  %s", c.Title, c.URL)
	}
	return b.String()
}

// condenseAll issues one completion per fetched article, bounded by the
// worker count. Failed condensations drop the article; output keeps the
// input order of the survivors.
func (s *Summarizer) condenseAll(ctx context.Context, articles []ArticleRecord) []CondensedArticle {
	results := make([]*CondensedArticle, len(articles))

	sem := make(chan struct{}, s.cfg.Workers)
	var wg sync.WaitGroup
	for i, art := range articles {
		if !art.OK() {
			continue
		}
		wg.Add(1)
		go func(i int, art ArticleRecord) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			ca, err := s.condenseOne(ctx, art)
			if err != nil {
				s.log.Warn("condensation dropped article", logx.String("title", art.Title), logx.Err(err))
				return
			}
			results[i] = &ca
		}(i, art)
	}
	wg.Wait()

	out := make([]CondensedArticle, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	s.log.Info("condensation settled", logx.Int("in", len(articles)), logx.Int("out", len(out)))
	return out
}

func (s *Summarizer) condenseOne(ctx context.Context, art ArticleRecord) (CondensedArticle, error) {
	text := art.Text
	if len(text) > s.cfg.MaxArticleChars {
		text = truncateChars(text, s.cfg.MaxArticleChars)
	}

	res, err := s.client.Complete(ctx, llm.Request{
		System:      condensePrompt,
		User:        fmt.Sprintf("新聞標題：%s\n\n新聞內文：\n%s", art.Title, text),
		Model:       s.cfg.CondenseModel,
		MaxTokens:   3500,
		Temperature: 0.2,
	})
	if err != nil {
		return CondensedArticle{}, err
	}

	return CondensedArticle{
		Title:       art.Title,
		URL:         art.Link,
		Source:      art.Source,
		PublishedAt: art.PublishedAt,
		Text:        res.Final,
	}, nil
}

func (s *Summarizer) aggregate(ctx context.Context, condensed []CondensedArticle) (llm.Completion, error) {
	var b strings.Builder
	for i, c := range condensed {
		date := "日期未知"
		if !c.PublishedAt.IsZero() {
			date = c.PublishedAt.Format("2006-01-02")
		}
		fmt.Fprintf(&b, "新聞 %d (發布於: %s):\n標題: %s\n來源: %s\n連結: %s\n摘要內容: %s\n---\n",
			i+1, date, c.Title, c.Source, c.URL, c.Text)
	}

	return s.client.Complete(ctx, llm.Request{
		System:      aggregatePrompt(s.now()),
		User:        b.String(),
		Model:       s.cfg.AggregateModel,
		MaxTokens:   3000,
		Temperature: 0.7,
	})
}

// truncateChars cuts at a rune boundary at or below max bytes.
func truncateChars(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
