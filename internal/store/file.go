package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"linepress/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.subscriptions.json (whole-document snapshot)
//   - <prefix>.digests.json      (whole-document snapshot)
//
// Snapshots are written to a temp file and renamed into place so a crash
// mid-write never leaves a half-written document.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	subsPath   string
	digestPath string

	subs    map[string]Subscription
	digests map[string]DigestEntry
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:        log,
		subsPath:   prefix + ".subscriptions.json",
		digestPath: prefix + ".digests.json",
		subs:       map[string]Subscription{},
		digests:    map[string]DigestEntry{},
	}

	// A missing or corrupt document starts empty rather than failing open:
	// cache loss is a forced miss, not an error.
	if err := loadJSON(s.subsPath, &s.subs); err != nil {
		log.Warn("subscription document unreadable; starting empty", logx.String("path", s.subsPath), logx.Err(err))
		s.subs = map[string]Subscription{}
	}
	if err := loadJSON(s.digestPath, &s.digests); err != nil {
		log.Warn("digest cache document unreadable; starting empty", logx.String("path", s.digestPath), logx.Err(err))
		s.digests = map[string]DigestEntry{}
	}

	return s, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) Subscriptions(ctx context.Context) ([]Subscription, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fileStore) SaveSubscription(ctx context.Context, sub Subscription) error {
	_ = ctx
	if strings.TrimSpace(sub.ID) == "" {
		return errors.New("subscription id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ID] = sub
	return writeSnapshot(s.subsPath, s.subs)
}

func (s *fileStore) GetDigest(ctx context.Context, key string, ttl time.Duration) (DigestEntry, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.digests[key]
	if !ok {
		return DigestEntry{}, false, nil
	}
	if ttl > 0 && time.Since(e.GeneratedAt) >= ttl {
		// Expired entries are treated as absent and left in place.
		return DigestEntry{}, false, nil
	}
	return e, true, nil
}

func (s *fileStore) PutDigest(ctx context.Context, e DigestEntry) error {
	_ = ctx
	if strings.TrimSpace(e.Key) == "" {
		return errors.New("digest key is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.digests[e.Key]; ok && cur.GeneratedAt.After(e.GeneratedAt) {
		// A fresher entry already landed; keep it.
		return nil
	}
	s.digests[e.Key] = e
	return writeSnapshot(s.digestPath, s.digests)
}

func loadJSON(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(out)
}

func writeSnapshot(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
