package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"linepress/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures persistence.
//
// Driver values:
//   - "file": JSON snapshot documents (write-to-temp-then-rename)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Subscription is one subscriber's digest preference.
// The pipeline treats subscriptions as read-only; LastRunAt is the one
// field it writes back after a batch run.
type Subscription struct {
	ID        string    `json:"id"`
	Keywords  []string  `json:"keywords"`
	Active    bool      `json:"active"`
	LastRunAt time.Time `json:"last_run_at,omitzero"`
}

// DigestEntry is one cached digest. Immutable once written; a later write
// for the same key supersedes it.
type DigestEntry struct {
	Key         string    `json:"key"`
	Text        string    `json:"text"`
	GeneratedAt time.Time `json:"generated_at"`
	SourceCount int       `json:"source_count"`
}

// Store is the persistence API used by the pipeline and scheduler.
//
// GetDigest treats an entry older than ttl as absent (soft eviction: the
// stale row stays in place until the next PutDigest overwrites it).
// PutDigest keeps whichever entry has the newer GeneratedAt, so a slow
// batch run can't clobber a fresher ad-hoc result.
type Store interface {
	Subscriptions(ctx context.Context) ([]Subscription, error)
	SaveSubscription(ctx context.Context, sub Subscription) error

	GetDigest(ctx context.Context, key string, ttl time.Duration) (DigestEntry, bool, error)
	PutDigest(ctx context.Context, e DigestEntry) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
