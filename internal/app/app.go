// Package app wires configuration, storage, the news pipeline, delivery,
// and the batch scheduler into one runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"linepress/internal/config"
	"linepress/internal/llm"
	"linepress/internal/news"
	"linepress/internal/scheduler"
	"linepress/internal/store"
	"linepress/internal/transport"
	"linepress/internal/transport/line"
	"linepress/internal/transport/telegram"
	"linepress/pkg/logx"
)

type App struct {
	cfg *config.Config
	log logx.Logger

	cfgm  *config.Manager
	store store.Store

	adapter  transport.Adapter
	pipeline *news.Pipeline
	deliver  *Deliverer
	inbound  *QueryHandler
	sched    *scheduler.Service

	watchCancel context.CancelFunc
}

// New builds the full service graph from a config file. Nothing is started
// yet; Start begins the scheduler and the config watcher.
func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	log, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, err
	}

	a, err := build(cfg, log)
	if err != nil {
		log.Close()
		return nil, err
	}
	a.cfgm = config.NewManager(cfgPath, log)
	if _, err := a.cfgm.Load(); err != nil {
		// Already loaded once above; a second failure here would be a race
		// with an editor save and is not fatal.
		log.Warn("config manager load failed", logx.Err(err))
	}
	return a, nil
}

// currentConfig returns the hot-reloaded config when the watcher has one,
// falling back to the boot config. Structural settings (storage driver,
// delivery channel) still require a restart; run defaults do not.
func (a *App) currentConfig() *config.Config {
	if a.cfgm != nil {
		if cfg := a.cfgm.Get(); cfg != nil {
			return cfg
		}
	}
	return a.cfg
}

func build(cfg *config.Config, log logx.Logger) (*App, error) {
	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	adapter, err := buildAdapter(cfg, log)
	if err != nil {
		st.Close()
		return nil, err
	}

	fetchTimeout, _ := cfg.FetchTimeout()
	llmTimeout, _ := cfg.LLMTimeout()
	cacheTTL, _ := cfg.CacheTTL()

	resolver := news.NewGoogleNewsResolver(news.ResolverConfig{
		UserAgent: cfg.News.UserAgent,
		Lang:      cfg.News.Lang,
		Country:   cfg.News.Country,
		Edition:   cfg.News.Edition,
		FreshFor:  time.Duration(cfg.News.FreshDays) * 24 * time.Hour,
		Timeout:   fetchTimeout,
	}, log)

	fetcher := news.NewFetcher(news.FetcherConfig{
		Workers:   cfg.News.Workers,
		Timeout:   fetchTimeout,
		UserAgent: cfg.News.UserAgent,
	}, log)

	client := llm.NewHTTPClient(llm.Config{
		BaseURL:    cfg.LLM.BaseURL,
		APIKey:     cfg.LLM.APIKey,
		Timeout:    llmTimeout,
		RatePerMin: cfg.LLM.RatePerMin,
	}, log)

	summarizer := news.NewSummarizer(client, news.SummarizerConfig{
		CondenseModel:   cfg.LLM.CondenseModel,
		AggregateModel:  cfg.LLM.AggregateModel,
		Workers:         cfg.News.Workers,
		MaxArticleChars: cfg.LLM.MaxArticleChars,
	}, log)

	pipeline := news.NewPipeline(st, resolver, fetcher, summarizer,
		news.PipelineConfig{CacheTTL: cacheTTL}, log)

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Schedule.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	deliver := NewDeliverer(adapter, cfg.Delivery.MessageLimit, cfg.Delivery.ShowReasoning, loc, log)

	a := &App{
		cfg:      cfg,
		log:      log,
		store:    st,
		adapter:  adapter,
		pipeline: pipeline,
		deliver:  deliver,
	}

	var sender scheduler.DigestSender
	if adapter != nil {
		sender = deliver
		a.inbound = NewQueryHandler(pipeline, deliver, adapter, a.runDefaults, log)
	}
	a.sched = scheduler.New(scheduler.Config{
		Enabled:         cfg.Schedule.Enabled,
		Timezone:        cfg.Schedule.Timezone,
		Specs:           cfg.Schedule.Specs,
		RunOnStartup:    cfg.Schedule.RunOnStartup,
		Limit:           cfg.News.Limit,
		DefaultKeywords: cfg.News.DefaultKeywords,
		RunDefaults:     a.runDefaults,
	}, st, pipeline, sender, log)

	return a, nil
}

// runDefaults reads the keyword/limit defaults from the live config so
// batch and inbound runs pick up hot reloads.
func (a *App) runDefaults() (keywords []string, limit int) {
	cfg := a.currentConfig()
	return cfg.News.DefaultKeywords, cfg.News.Limit
}

func buildAdapter(cfg *config.Config, log logx.Logger) (transport.Adapter, error) {
	interval, err := cfg.MinPushInterval()
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Delivery.Channel)) {
	case "", "none":
		return nil, nil
	case "line":
		return line.New(line.Config{
			ChannelToken:    cfg.Delivery.Line.ChannelToken,
			ChannelSecret:   cfg.Delivery.Line.ChannelSecret,
			APIBase:         cfg.Delivery.Line.APIBase,
			WebhookAddr:     cfg.Delivery.Line.WebhookAddr,
			MinPushInterval: interval,
		}, log)
	case "telegram":
		pollTimeout, err := config.ParseDurationField("delivery.telegram.poll_timeout", cfg.Delivery.Telegram.PollTimeout)
		if err != nil {
			return nil, err
		}
		return telegram.New(telegram.Config{
			Token:           cfg.Delivery.Telegram.Token,
			PollTimeout:     pollTimeout,
			MinPushInterval: interval,
		}, log)
	default:
		return nil, fmt.Errorf("unknown delivery.channel %q", cfg.Delivery.Channel)
	}
}

func (a *App) Start(ctx context.Context) error {
	if err := a.sched.Start(ctx); err != nil {
		return err
	}
	if lst, ok := a.adapter.(transport.Listener); ok && a.inbound != nil {
		go func() {
			err := lst.Listen(ctx, a.inbound.Handle)
			switch {
			case errors.Is(err, transport.ErrInboundDisabled):
				a.log.Info("inbound handling disabled")
			case err != nil && ctx.Err() == nil:
				a.log.Error("inbound listener stopped", logx.Err(err))
			}
		}()
	}
	if a.cfgm != nil {
		wctx, cancel := context.WithCancel(ctx)
		a.watchCancel = cancel
		go func() {
			if err := a.cfgm.Watch(wctx); err != nil && wctx.Err() == nil {
				a.log.Warn("config watcher stopped", logx.Err(err))
			}
		}()
		reloads := a.cfgm.Subscribe(1)
		go func() {
			for {
				select {
				case <-wctx.Done():
					return
				case cfg := <-reloads:
					a.noteReload(cfg)
				}
			}
		}()
	}
	a.log.Info("service started")
	return nil
}

// noteReload reports what a config reload changes right away and what
// still needs a restart.
func (a *App) noteReload(cfg *config.Config) {
	a.log.Info("run defaults updated",
		logx.Any("keywords", cfg.News.DefaultKeywords),
		logx.Int("limit", cfg.News.Limit))
	if cfg.Storage.Driver != a.cfg.Storage.Driver ||
		!strings.EqualFold(cfg.Delivery.Channel, a.cfg.Delivery.Channel) ||
		!strings.EqualFold(cfg.Schedule.Timezone, a.cfg.Schedule.Timezone) ||
		strings.Join(cfg.Schedule.Specs, ",") != strings.Join(a.cfg.Schedule.Specs, ",") {
		a.log.Warn("storage, delivery, or schedule changes take effect on restart")
	}
}

func (a *App) Stop(ctx context.Context) {
	if a.watchCancel != nil {
		a.watchCancel()
	}
	a.sched.Stop(ctx)
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("store close failed", logx.Err(err))
		}
	}
	a.log.Info("service stopped")
	a.log.Close()
}

// RunOnce executes a single ad-hoc pipeline run outside the batch chain.
// When deliverTo is non-empty the digest is also pushed to that recipient.
func (a *App) RunOnce(ctx context.Context, keywords []string, limit int, deliverTo string) (news.Result, error) {
	cfg := a.currentConfig()
	if len(keywords) == 0 {
		keywords = cfg.News.DefaultKeywords
	}
	if limit <= 0 {
		limit = cfg.News.Limit
	}
	res, err := a.pipeline.Run(ctx, keywords, limit)
	if err != nil {
		return news.Result{}, err
	}
	if deliverTo != "" {
		if a.adapter == nil {
			return res, fmt.Errorf("delivery requested but delivery.channel is %q", a.cfg.Delivery.Channel)
		}
		if err := a.deliver.SendDigest(ctx, deliverTo, keywords, res); err != nil {
			return res, fmt.Errorf("deliver digest: %w", err)
		}
	}
	return res, nil
}

// FormatResult renders a result the way a subscriber would receive it,
// for console output in once-mode.
func (a *App) FormatResult(keywords []string, res news.Result) string {
	return strings.Join(a.deliver.Segments(keywords, res), "\n\n")
}

// TriggerBatch enqueues a batch run on the scheduler's serial chain.
func (a *App) TriggerBatch() { a.sched.TriggerNow() }
