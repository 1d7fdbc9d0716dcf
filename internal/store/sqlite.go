package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"linepress/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// generatedAtLayout pads the fraction to fixed width so stored UTC
// timestamps compare correctly as strings; RFC3339Nano would trim trailing
// zeros and break the keep-newer upsert.
const generatedAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &sqliteStore{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Subscriptions(ctx context.Context) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, keywords, active, last_run_at FROM subscriptions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var (
			sub      Subscription
			keywords string
			active   int
			lastRun  sql.NullString
		)
		if err := rows.Scan(&sub.ID, &keywords, &active, &lastRun); err != nil {
			return nil, err
		}
		if keywords != "" {
			if err := json.Unmarshal([]byte(keywords), &sub.Keywords); err != nil {
				return nil, fmt.Errorf("subscription %s: keywords: %w", sub.ID, err)
			}
		}
		sub.Active = active != 0
		if lastRun.Valid && lastRun.String != "" {
			t, err := time.Parse(time.RFC3339Nano, lastRun.String)
			if err == nil {
				sub.LastRunAt = t
			}
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveSubscription(ctx context.Context, sub Subscription) error {
	if strings.TrimSpace(sub.ID) == "" {
		return errors.New("subscription id is empty")
	}
	keywords, err := json.Marshal(sub.Keywords)
	if err != nil {
		return err
	}
	active := 0
	if sub.Active {
		active = 1
	}
	lastRun := ""
	if !sub.LastRunAt.IsZero() {
		lastRun = sub.LastRunAt.Format(time.RFC3339Nano)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(id, keywords, active, last_run_at) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   keywords=excluded.keywords, active=excluded.active, last_run_at=excluded.last_run_at`,
		sub.ID, string(keywords), active, lastRun)
	return err
}

func (s *sqliteStore) GetDigest(ctx context.Context, key string, ttl time.Duration) (DigestEntry, bool, error) {
	var (
		e   DigestEntry
		gen string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT key, text, generated_at, source_count FROM digest_cache WHERE key = ?`, key).
		Scan(&e.Key, &e.Text, &gen, &e.SourceCount)
	if errors.Is(err, sql.ErrNoRows) {
		return DigestEntry{}, false, nil
	}
	if err != nil {
		return DigestEntry{}, false, err
	}
	e.GeneratedAt, err = time.Parse(time.RFC3339Nano, gen)
	if err != nil {
		return DigestEntry{}, false, err
	}
	if ttl > 0 && time.Since(e.GeneratedAt) >= ttl {
		return DigestEntry{}, false, nil
	}
	return e, true, nil
}

func (s *sqliteStore) PutDigest(ctx context.Context, e DigestEntry) error {
	if strings.TrimSpace(e.Key) == "" {
		return errors.New("digest key is empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO digest_cache(key, text, generated_at, source_count) VALUES(?,?,?,?)
		 ON CONFLICT(key) DO UPDATE SET
		   text=excluded.text, generated_at=excluded.generated_at, source_count=excluded.source_count
		 WHERE excluded.generated_at > digest_cache.generated_at`,
		e.Key, e.Text, e.GeneratedAt.UTC().Format(generatedAtLayout), e.SourceCount)
	return err
}
