// Package scheduler drives the daily batch: cron triggers enqueue a batch
// job, and a single consumer drains the queue so per-subscriber pipeline
// runs form a strict serial chain — no two runs' fetch or summarize work
// ever overlaps against the backends.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"linepress/internal/news"
	"linepress/internal/store"
	"linepress/pkg/logx"
)

type Config struct {
	Enabled      bool
	Timezone     string // IANA TZ, e.g. "Asia/Taipei"
	Specs        []string
	RunOnStartup bool

	// Limit is the article target per subscriber digest.
	Limit int

	// DefaultKeywords back a subscription with an empty keyword set.
	DefaultKeywords []string

	// RunDefaults, when set, is consulted at the start of every subscriber
	// run so hot-reloaded keyword/limit defaults apply without a restart.
	// Limit and DefaultKeywords above are the boot-time fallback.
	RunDefaults func() (keywords []string, limit int)
}

// Runner executes one pipeline run. Satisfied by *news.Pipeline.
type Runner interface {
	Run(ctx context.Context, keywords []string, limit int) (news.Result, error)
}

// DigestSender delivers a finished digest to one subscriber.
type DigestSender interface {
	SendDigest(ctx context.Context, to string, keywords []string, res news.Result) error
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config

	store  store.Store
	runner Runner
	sender DigestSender

	parser cron.Parser
	c      *cron.Cron

	// queue carries batch triggers; a single worker drains it so batches
	// (and the runs inside them) are serialized.
	queue    chan struct{}
	stopCh   chan struct{}
	workerWG sync.WaitGroup
	runCtx   context.Context
	cancel   context.CancelFunc
}

func New(cfg Config, st store.Store, runner Runner, sender DigestSender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log.With(logx.String("comp", "scheduler")),
		cfg:    cfg,
		store:  st,
		runner: runner,
		sender: sender,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return nil
	}
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return err
		}
		loc = l
	}

	s.stopCh = make(chan struct{})
	s.queue = make(chan struct{}, 1)
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	for _, spec := range s.cfg.Specs {
		spec := spec
		if _, err := s.c.AddFunc(spec, s.TriggerNow); err != nil {
			s.cancel()
			s.stopCh = nil
			s.queue = nil
			s.cancel = nil
			s.c = nil
			return fmt.Errorf("cron spec %q: %w", spec, err)
		}
		s.log.Info("batch trigger registered", logx.String("spec", spec), logx.String("tz", loc.String()))
	}
	s.c.Start()

	runCtx := s.runCtx
	stopCh := s.stopCh
	queue := s.queue
	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		s.worker(runCtx, stopCh, queue)
	}()

	if s.cfg.RunOnStartup {
		s.TriggerNow()
	}
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	cancel := s.cancel
	c := s.c
	s.stopCh = nil
	s.cancel = nil
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		c.Stop()
	}
	close(stopCh)
	cancel()

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// TriggerNow enqueues a batch run. A trigger arriving while one is already
// pending is subsumed by it.
func (s *Service) TriggerNow() {
	s.mu.Lock()
	queue := s.queue
	s.mu.Unlock()
	if queue == nil {
		return
	}
	select {
	case queue <- struct{}{}:
	default:
		s.log.Debug("batch already pending; trigger subsumed")
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-queue:
			s.RunBatch(ctx)
		}
	}
}

// RunBatch executes one pipeline run per active subscription, in order,
// as a strict serial chain: run i+1 does not start until run i has fully
// settled (digest delivered, partial-failure digest delivered, or fatal
// error recorded). A fatal run advances the chain instead of aborting it.
func (s *Service) RunBatch(ctx context.Context) {
	start := time.Now()
	subs, err := s.store.Subscriptions(ctx)
	if err != nil {
		s.log.Error("batch aborted: subscriptions unreadable", logx.Err(err))
		return
	}

	eligible := subs[:0]
	for _, sub := range subs {
		if sub.Active {
			eligible = append(eligible, sub)
		}
	}
	if len(eligible) == 0 {
		s.log.Info("batch skipped: no active subscriptions")
		return
	}
	s.log.Info("batch started", logx.Int("subscribers", len(eligible)))

	failed := 0
	for _, sub := range eligible {
		select {
		case <-ctx.Done():
			s.log.Warn("batch cancelled", logx.Int("remaining", len(eligible)))
			return
		default:
		}
		if err := s.runOne(ctx, sub); err != nil {
			failed++
			s.log.Error("subscriber run failed; chain continues",
				logx.String("subscriber", sub.ID), logx.Err(err))
		}
	}

	s.log.Info("batch finished",
		logx.Int("subscribers", len(eligible)),
		logx.Int("failed", failed),
		logx.Duration("took", time.Since(start)))
}

func (s *Service) runOne(ctx context.Context, sub store.Subscription) error {
	defaults, limit := s.cfg.DefaultKeywords, s.limit()
	if s.cfg.RunDefaults != nil {
		if kw, l := s.cfg.RunDefaults(); l > 0 {
			defaults, limit = kw, l
		}
	}

	keywords := sub.Keywords
	if len(keywords) == 0 {
		keywords = defaults
	}

	res, err := s.runner.Run(ctx, keywords, limit)
	if err != nil {
		return err
	}

	if s.sender != nil {
		if err := s.sender.SendDigest(ctx, sub.ID, keywords, res); err != nil {
			// The digest was validly produced and cached; delivery failure
			// is reported but never rolls that back.
			s.log.Warn("digest delivery failed", logx.String("subscriber", sub.ID), logx.Err(err))
		}
	}

	sub.LastRunAt = time.Now()
	if err := s.store.SaveSubscription(ctx, sub); err != nil {
		s.log.Warn("last-run update failed", logx.String("subscriber", sub.ID), logx.Err(err))
	}
	return nil
}

func (s *Service) limit() int {
	if s.cfg.Limit > 0 {
		return s.cfg.Limit
	}
	return 6
}
