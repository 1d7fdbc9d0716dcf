package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"linepress/pkg/logx"
)

func openTestSQLite(t *testing.T) Store {
	t.Helper()
	s, err := Open(Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "linepress.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteSubscriptionRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestSQLite(t)
	ctx := context.Background()

	sub := Subscription{
		ID:        "U42",
		Keywords:  []string{"ai", "台積電"},
		Active:    true,
		LastRunAt: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := s.SaveSubscription(ctx, sub); err != nil {
		t.Fatalf("SaveSubscription: %v", err)
	}
	// Upsert: same id updates in place.
	sub.Active = false
	if err := s.SaveSubscription(ctx, sub); err != nil {
		t.Fatalf("SaveSubscription update: %v", err)
	}

	got, err := s.Subscriptions(ctx)
	if err != nil {
		t.Fatalf("Subscriptions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d subscriptions, want 1", len(got))
	}
	if got[0].Active {
		t.Fatal("update did not apply")
	}
	if len(got[0].Keywords) != 2 || got[0].Keywords[1] != "台積電" {
		t.Fatalf("keywords = %v", got[0].Keywords)
	}
	if !got[0].LastRunAt.Equal(sub.LastRunAt) {
		t.Fatalf("LastRunAt = %v, want %v", got[0].LastRunAt, sub.LastRunAt)
	}
}

func TestSQLiteDigestTTLAndKeepNewer(t *testing.T) {
	t.Parallel()

	s := openTestSQLite(t)
	ctx := context.Background()
	now := time.Now()

	newer := DigestEntry{Key: "ai", Text: "較新", GeneratedAt: now, SourceCount: 5}
	if err := s.PutDigest(ctx, newer); err != nil {
		t.Fatalf("PutDigest: %v", err)
	}
	if err := s.PutDigest(ctx, DigestEntry{Key: "ai", Text: "較舊", GeneratedAt: now.Add(-time.Hour), SourceCount: 1}); err != nil {
		t.Fatalf("PutDigest older: %v", err)
	}
	if e, ok, err := s.GetDigest(ctx, "ai", 4*time.Hour); err != nil || !ok || e.Text != "較新" {
		t.Fatalf("e=%+v ok=%v err=%v, want newer retained", e, ok, err)
	}

	stale := DigestEntry{Key: "tech", Text: "舊", GeneratedAt: now.Add(-5 * time.Hour), SourceCount: 2}
	if err := s.PutDigest(ctx, stale); err != nil {
		t.Fatalf("PutDigest stale: %v", err)
	}
	if _, ok, err := s.GetDigest(ctx, "tech", 4*time.Hour); err != nil || ok {
		t.Fatalf("expired entry should read as absent: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := s.GetDigest(ctx, "tech", 6*time.Hour); !ok {
		t.Fatal("soft-expired entry should remain retrievable under a longer ttl")
	}
}

func TestSQLiteKeepNewerSubSecond(t *testing.T) {
	t.Parallel()

	s := openTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 9, 0, 5, 500_000_000, time.UTC) // .5s

	if err := s.PutDigest(ctx, DigestEntry{Key: "k", Text: "half", GeneratedAt: base, SourceCount: 1}); err != nil {
		t.Fatal(err)
	}
	// .55s is newer than .5s; a trimmed-fraction encoding would compare
	// these backwards.
	later := base.Add(50 * time.Millisecond)
	if err := s.PutDigest(ctx, DigestEntry{Key: "k", Text: "later", GeneratedAt: later, SourceCount: 1}); err != nil {
		t.Fatal(err)
	}
	if e, _, _ := s.GetDigest(ctx, "k", 24*time.Hour); e.Text != "later" {
		t.Fatalf("entry = %+v, want sub-second newer write to win", e)
	}
}
