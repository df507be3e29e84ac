// Package cache stores fetched calendar events per configuration
// fingerprint in a key-value store.
//
// Entries are JSON documents {"events": [...], "timestamp": <unix ms>} under
// "<namespace>:<fingerprint>". An entry is served while younger than the
// configured duration and swept once older than StaleAfter, whatever its
// duration.
package cache

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"panelcal/internal/clock"
	"panelcal/internal/config"
	appLog "panelcal/internal/log"
	"panelcal/internal/model"
	"panelcal/internal/storage"
)

// StaleAfter is the age past which Sweep removes an entry.
const StaleAfter = 24 * time.Hour

// ErrCorrupt marks a stored entry that cannot be decoded.
var ErrCorrupt = errors.New("cache: corrupt entry")

// Entry is one cached fetch result.
type Entry struct {
	Fingerprint string
	Events      []model.RawEvent
	Timestamp   time.Time
}

type storedEntry struct {
	Events    []model.RawEvent `json:"events"`
	Timestamp int64            `json:"timestamp"`
}

// Fingerprint derives the cache key for a configuration on a calendar day.
// Equal inputs always give equal fingerprints; source order, colors, day
// count, the past-events toggle and the day all change it.
func Fingerprint(sources []model.CalendarSource, daysToShow int, showPast bool, day time.Time) string {
	canon := struct {
		Sources []model.CalendarSource `json:"s"`
		Days    int                    `json:"d"`
		Past    bool                   `json:"p"`
		Day     string                 `json:"day"`
	}{
		Sources: sources,
		Days:    daysToShow,
		Past:    showPast,
		Day:     day.Format("2006-01-02"),
	}
	if canon.Sources == nil {
		canon.Sources = []model.CalendarSource{}
	}
	// Marshal of this struct cannot fail.
	b, _ := json.Marshal(canon)
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:16])
}

// FingerprintFor is Fingerprint over the cache-relevant fields of cfg.
func FingerprintFor(cfg *config.Config, day time.Time) string {
	return Fingerprint(cfg.Entities, cfg.DaysToShow, cfg.ShowPastEvents, day)
}

// Store is the event cache for one card instance.
type Store struct {
	kv        storage.KV
	clock     clock.Clock
	namespace string
	ttl       time.Duration
}

// New returns a Store over kv. An empty namespace gets a random
// per-instance suffix so two cards showing the same sources never share
// entries.
func New(kv storage.KV, clk clock.Clock, namespace string, ttl time.Duration) *Store {
	if namespace == "" {
		namespace = "panelcal:" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	return &Store{kv: kv, clock: clk, namespace: namespace, ttl: ttl}
}

// Namespace returns the key prefix of this store, without the trailing colon.
func (s *Store) Namespace() string { return s.namespace }

// SetTTL changes the validity window for subsequent Get calls.
func (s *Store) SetTTL(ttl time.Duration) { s.ttl = ttl }

func (s *Store) key(fp string) string {
	return s.namespace + ":" + fp
}

// Get returns the entry for fp if present, decodable and younger than the
// validity window. A corrupt entry is removed.
func (s *Store) Get(fp string) (Entry, bool) {
	key := s.key(fp)
	raw, err := s.kv.Get(key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			appLog.Error("cache read failed", err, "key", key)
		}
		return Entry{}, false
	}

	se, err := decode(raw)
	if err != nil {
		appLog.Debug("cache entry discarded", "key", key, "err", err)
		s.remove(key)
		return Entry{}, false
	}

	ts := time.UnixMilli(se.Timestamp)
	// A timestamp ahead of our clock (another panel with skew) is not
	// trusted.
	if age := s.clock.Now().Sub(ts); age < 0 || age >= s.ttl {
		return Entry{}, false
	}
	return Entry{Fingerprint: fp, Events: se.Events, Timestamp: ts}, true
}

// Put stores events under fp with the current time. It reports whether the
// write succeeded; failures are logged, never returned.
func (s *Store) Put(fp string, events []model.RawEvent) bool {
	if events == nil {
		events = []model.RawEvent{}
	}
	b, err := json.Marshal(storedEntry{Events: events, Timestamp: s.clock.Now().UnixMilli()})
	if err != nil {
		appLog.Error("cache encode failed", err, "fingerprint", fp)
		return false
	}
	if err := s.kv.Set(s.key(fp), string(b)); err != nil {
		appLog.Error("cache write failed", err, "fingerprint", fp, "bytes", len(b))
		return false
	}
	return true
}

// Invalidate removes the entries for cfg on today and yesterday, so a
// configuration change right after midnight still drops the entry written
// before it.
func (s *Store) Invalidate(cfg *config.Config) {
	today := s.clock.Now().In(cfg.Location())
	for _, day := range []time.Time{today, today.AddDate(0, 0, -1)} {
		s.remove(s.key(FingerprintFor(cfg, day)))
	}
}

// Sweep deletes every entry in this namespace older than StaleAfter, and
// every entry that cannot be decoded. It returns the number removed.
func (s *Store) Sweep() int {
	keys, err := s.kv.Keys(s.namespace + ":")
	if err != nil {
		appLog.Error("cache sweep list failed", err, "namespace", s.namespace)
		return 0
	}

	now := s.clock.Now()
	removed := 0
	for _, key := range keys {
		raw, err := s.kv.Get(key)
		if err != nil {
			continue
		}
		se, err := decode(raw)
		if err == nil && now.Sub(time.UnixMilli(se.Timestamp)) <= StaleAfter {
			continue
		}
		if s.remove(key) {
			removed++
		}
	}
	if removed > 0 {
		appLog.Info("cache sweep", "namespace", s.namespace, "removed", removed, "scanned", len(keys))
	}
	return removed
}

func (s *Store) remove(key string) bool {
	if err := s.kv.Remove(key); err != nil {
		appLog.Error("cache remove failed", err, "key", key)
		return false
	}
	return true
}

func decode(raw string) (storedEntry, error) {
	var se storedEntry
	if err := json.Unmarshal([]byte(raw), &se); err != nil {
		return se, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if se.Timestamp <= 0 || se.Events == nil {
		return se, fmt.Errorf("%w: missing events or timestamp", ErrCorrupt)
	}
	return se, nil
}
