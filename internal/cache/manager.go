// Package cache mirrors remote collections in memory. Each collection is
// refreshed by a full paginated fetch, is considered fresh for a TTL, and
// never runs more than one fetch at a time.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"pressroom/api/internal/logging"
	"pressroom/api/internal/metrics"
	"pressroom/api/internal/store"
)

// DefaultTTL is how long a synchronized collection is served without
// contacting the remote store.
const DefaultTTL = 5 * time.Minute

// Fetcher reads a complete collection, newest first.
type Fetcher interface {
	FetchAll(ctx context.Context, collection, orderKey string) ([]store.Record, error)
}

// entry is the per-collection state. records is replaced, never modified in
// place, so a slice handed out by a snapshot stays valid for its holder.
type entry struct {
	collection store.Collection

	mu           sync.Mutex
	records      []store.Record
	lastSyncedAt time.Time
	lastErr      error
	syncing      bool
	done         chan struct{}
}

// EntryStatus describes one collection for dashboards and readiness checks.
type EntryStatus struct {
	Collection   string    `json:"collection"`
	Count        int       `json:"count"`
	LastSyncedAt time.Time `json:"lastSyncedAt"`
	Syncing      bool      `json:"syncing"`
	Fresh        bool      `json:"fresh"`
	LastError    string    `json:"lastError,omitempty"`
}

type Manager struct {
	fetcher Fetcher
	entries map[string]*entry
	names   []string
	ttl     time.Duration
	now     func() time.Time
	logger  *log.Logger
	metrics *metrics.Metrics
}

type Option func(*Manager)

func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock replaces time.Now for freshness decisions.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		m.logger = logging.Component(logger, "cache")
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// New creates one empty entry per collection. Collection names must be
// unique and order keys must be valid field names.
func New(fetcher Fetcher, collections []store.Collection, opts ...Option) (*Manager, error) {
	if fetcher == nil {
		return nil, errors.New("cache: fetcher is required")
	}
	if len(collections) == 0 {
		return nil, errors.New("cache: at least one collection is required")
	}
	m := &Manager{
		fetcher: fetcher,
		entries: make(map[string]*entry, len(collections)),
		ttl:     DefaultTTL,
		now:     time.Now,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, c := range collections {
		if c.Name == "" {
			return nil, errors.New("cache: collection name is required")
		}
		if _, exists := m.entries[c.Name]; exists {
			return nil, fmt.Errorf("cache: duplicate collection %q", c.Name)
		}
		if !store.ValidField(c.OrderKey) {
			return nil, fmt.Errorf("cache: collection %q order key %q: %w", c.Name, c.OrderKey, store.ErrInvalidField)
		}
		m.entries[c.Name] = &entry{collection: c, records: []store.Record{}}
		m.names = append(m.names, c.Name)
	}
	return m, nil
}

func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Collections returns the configured collections in configuration order.
func (m *Manager) Collections() []store.Collection {
	out := make([]store.Collection, 0, len(m.names))
	for _, name := range m.names {
		out = append(out, m.entries[name].collection)
	}
	return out
}

// Lookup returns the configuration of the named collection.
func (m *Manager) Lookup(name string) (store.Collection, error) {
	e, err := m.entry(name)
	if err != nil {
		return store.Collection{}, err
	}
	return e.collection, nil
}

// Collection returns the current snapshot without any I/O. Callers must treat
// the returned slice and its records as read-only.
func (m *Manager) Collection(name string) ([]store.Record, error) {
	e, err := m.entry(name)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.records, nil
}

// Refresh synchronizes the collection unless it is fresh and non-empty (and
// force is false) or a synchronization is already running; in both cases the
// current snapshot is returned without I/O. A failed synchronization returns
// the untouched snapshot together with a *SyncError.
func (m *Manager) Refresh(ctx context.Context, name string, force bool) ([]store.Record, error) {
	e, err := m.entry(name)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.syncing {
		records := e.records
		e.mu.Unlock()
		m.metrics.SkipRefresh(name, "in_flight")
		return records, nil
	}
	if !force && len(e.records) > 0 && m.freshLocked(e) {
		records := e.records
		e.mu.Unlock()
		m.metrics.SkipRefresh(name, "fresh")
		return records, nil
	}
	e.syncing = true
	done := make(chan struct{})
	e.done = done
	e.mu.Unlock()

	return m.sync(ctx, e, done)
}

func (m *Manager) sync(ctx context.Context, e *entry, done chan struct{}) ([]store.Record, error) {
	name := e.collection.Name
	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.done = nil
		close(done)
		e.mu.Unlock()
	}()

	started := time.Now()
	records, err := m.fetcher.FetchAll(ctx, name, e.collection.OrderKey)
	elapsed := time.Since(started)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		syncErr := &SyncError{Collection: name, Err: err}
		e.lastErr = syncErr
		m.metrics.ObserveSync(name, "error", elapsed.Seconds())
		m.logger.Warn("sync failed, keeping stale records", "collection", name, "records", len(e.records), "err", err)
		return e.records, syncErr
	}

	e.records = records
	e.lastSyncedAt = m.now()
	e.lastErr = nil
	m.metrics.ObserveSync(name, "ok", elapsed.Seconds())
	m.metrics.SetRecords(name, len(records))
	m.logger.Info("synced collection", "collection", name, "records", len(records), "took", elapsed)
	return records, nil
}

// RefreshAll refreshes every collection concurrently. Collections do not wait
// on each other; the returned error joins every *SyncError.
func (m *Manager) RefreshAll(ctx context.Context, force bool) error {
	errs := make([]error, len(m.names))
	var g errgroup.Group
	for i, name := range m.names {
		g.Go(func() error {
			_, errs[i] = m.Refresh(ctx, name, force)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Wait blocks until the running synchronization of the collection, if any,
// settles and returns the resulting snapshot. The error is the failure of the
// most recent synchronization, or ctx's error if it ends first.
func (m *Manager) Wait(ctx context.Context, name string) ([]store.Record, error) {
	e, err := m.entry(name)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.records, e.lastErr
}

func (m *Manager) Status(name string) (EntryStatus, error) {
	e, err := m.entry(name)
	if err != nil {
		return EntryStatus{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	status := EntryStatus{
		Collection:   name,
		Count:        len(e.records),
		LastSyncedAt: e.lastSyncedAt,
		Syncing:      e.syncing,
		Fresh:        m.freshLocked(e),
	}
	if e.lastErr != nil {
		status.LastError = e.lastErr.Error()
	}
	return status, nil
}

// StatusAll returns the status of every collection in configuration order.
func (m *Manager) StatusAll() []EntryStatus {
	out := make([]EntryStatus, 0, len(m.names))
	for _, name := range m.names {
		status, _ := m.Status(name)
		out = append(out, status)
	}
	return out
}

func (m *Manager) freshLocked(e *entry) bool {
	if e.lastSyncedAt.IsZero() {
		return false
	}
	return m.now().Sub(e.lastSyncedAt) < m.ttl
}

func (m *Manager) entry(name string) (*entry, error) {
	e, ok := m.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}
	return e, nil
}
