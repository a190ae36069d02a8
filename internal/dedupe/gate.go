// Package dedupe warns about probable duplicate titles while a record is
// being written. Checks are debounced per key, pre-filtered by a loose
// server-side search and scored locally with token Jaccard similarity.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"pressroom/api/internal/logging"
	"pressroom/api/internal/metrics"
	"pressroom/api/internal/similarity"
	"pressroom/api/internal/store"
)

var (
	// ErrSuperseded is returned by Check when a newer check for the same key
	// replaced it before its debounce period ended.
	ErrSuperseded = errors.New("duplicate check superseded")
	ErrClosed     = errors.New("duplicate gate closed")
)

// Searcher finds candidate records whose field loosely matches pattern.
type Searcher interface {
	Search(ctx context.Context, collection, field, pattern string, limit int) ([]store.Record, error)
}

type MatchKind string

const (
	MatchExact   MatchKind = "exact"
	MatchSimilar MatchKind = "similar"
)

type Request struct {
	Title      string
	Collection string
	TitleField string
	// Threshold overrides Config.Threshold when set. Zero reports every
	// candidate the search returned.
	Threshold *float64
}

type Candidate struct {
	Record    store.Record `json:"record"`
	Score     float64      `json:"score"`
	MatchKind MatchKind    `json:"matchKind"`
}

type Result struct {
	Loading    bool        `json:"loading"`
	Checked    bool        `json:"checked"`
	Duplicates []Candidate `json:"duplicates"`
}

func unchecked() Result {
	return Result{Duplicates: []Candidate{}}
}

type task struct {
	ctx     context.Context
	req     Request
	timer   *time.Timer
	deliver func(Result, error)
}

// Gate runs at most one pending check per key. A new check for a key
// replaces the pending one; only the latest input is ever evaluated.
type Gate struct {
	searcher Searcher
	cfg      Config
	logger   *log.Logger
	metrics  *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]*task
	closed  bool
}

type Option func(*Gate)

func WithLogger(logger *log.Logger) Option {
	return func(g *Gate) {
		g.logger = logging.Component(logger, "dedupe")
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

func New(searcher Searcher, cfg Config, opts ...Option) (*Gate, error) {
	if searcher == nil {
		return nil, errors.New("dedupe: searcher is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("dedupe: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gate{
		searcher: searcher,
		cfg:      cfg,
		logger:   logging.Discard(),
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]*task),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Gate) Config() Config {
	return g.cfg
}

// Check waits out the debounce period for key and returns the scored
// duplicates. A title shorter than MinTitleLength returns an unchecked result
// at once without searching. If a newer call for key arrives first, Check
// returns ErrSuperseded. Search failures are logged and read as no
// duplicates.
func (g *Gate) Check(ctx context.Context, key string, req Request) (Result, error) {
	type outcome struct {
		res Result
		err error
	}
	ch := make(chan outcome, 1)
	t, immediate, err := g.schedule(ctx, key, req, func(res Result, err error) {
		ch <- outcome{res, err}
	})
	if err != nil {
		return Result{}, err
	}
	if t == nil {
		return immediate, nil
	}

	select {
	case out := <-ch:
		return out.res, out.err
	case <-ctx.Done():
		g.drop(key, t, ctx.Err())
		out := <-ch
		return out.res, out.err
	}
}

// Schedule is the callback form of Check. It returns the state to show
// right away: Loading while a check is pending, or the final unchecked
// result for a short title. fn runs on a timer goroutine once the check
// completes; it is not called for superseded or cancelled checks.
func (g *Gate) Schedule(key string, req Request, fn func(Result)) (Result, error) {
	t, immediate, err := g.schedule(g.ctx, key, req, func(res Result, err error) {
		if err == nil && fn != nil {
			fn(res)
		}
	})
	if err != nil {
		return Result{}, err
	}
	if t == nil {
		return immediate, nil
	}
	return Result{Loading: true, Duplicates: []Candidate{}}, nil
}

// Cancel drops the pending check for key, if any.
func (g *Gate) Cancel(key string) {
	g.mu.Lock()
	t := g.pending[key]
	g.mu.Unlock()
	if t != nil {
		g.drop(key, t, context.Canceled)
	}
}

// Pending reports whether a check for key is waiting for its debounce period.
func (g *Gate) Pending(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[key]
	return ok
}

// Close stops every pending timer. Pending Check calls return ErrClosed.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	tasks := g.pending
	g.pending = make(map[string]*task)
	g.mu.Unlock()

	g.cancel()
	for _, t := range tasks {
		t.timer.Stop()
		t.deliver(Result{}, ErrClosed)
	}
}

// schedule registers a task for key, superseding the pending one. Whoever
// removes a task from the pending map owns its delivery. A nil task means
// the request was answered immediately.
func (g *Gate) schedule(ctx context.Context, key string, req Request, deliver func(Result, error)) (*task, Result, error) {
	short := utf8.RuneCountInString(strings.TrimSpace(req.Title)) < g.cfg.MinTitleLength

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, Result{}, ErrClosed
	}
	prev := g.pending[key]
	delete(g.pending, key)

	var t *task
	if !short {
		t = &task{ctx: ctx, req: req, deliver: deliver}
		g.pending[key] = t
		t.timer = time.AfterFunc(g.cfg.Debounce, func() { g.fire(key, t) })
	}
	g.mu.Unlock()

	if prev != nil {
		prev.timer.Stop()
		g.metrics.DuplicateCheck(prev.req.Collection, "superseded")
		prev.deliver(Result{}, ErrSuperseded)
	}
	if short {
		g.metrics.DuplicateCheck(req.Collection, "skipped")
		return nil, unchecked(), nil
	}
	return t, Result{}, nil
}

func (g *Gate) drop(key string, t *task, err error) {
	g.mu.Lock()
	owned := g.pending[key] == t
	if owned {
		delete(g.pending, key)
	}
	g.mu.Unlock()
	if owned {
		t.timer.Stop()
		t.deliver(Result{}, err)
	}
}

func (g *Gate) fire(key string, t *task) {
	g.mu.Lock()
	if g.pending[key] != t {
		g.mu.Unlock()
		return
	}
	delete(g.pending, key)
	g.mu.Unlock()

	t.deliver(g.run(t.ctx, t.req))
}

// run is the check itself, after the debounce period. A failed search
// reports no duplicates, unless the failure is the caller giving up.
func (g *Gate) run(ctx context.Context, req Request) (Result, error) {
	threshold := g.cfg.Threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	pattern := SearchPattern(req.Title)
	found, err := g.searcher.Search(ctx, req.Collection, req.TitleField, pattern, g.cfg.MaxCandidates)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			g.metrics.DuplicateCheck(req.Collection, "cancelled")
			return Result{}, ctxErr
		}
		g.logger.Warn("duplicate search failed, reporting no duplicates", "collection", req.Collection, "pattern", pattern, "err", err)
		g.metrics.DuplicateCheck(req.Collection, "search_error")
		return Result{Checked: true, Duplicates: []Candidate{}}, nil
	}

	duplicates := Score(req.Title, req.TitleField, found, threshold)
	outcome := "clear"
	if len(duplicates) > 0 {
		outcome = "duplicate"
	}
	g.metrics.DuplicateCheck(req.Collection, outcome)
	g.logger.Debug("duplicate check", "collection", req.Collection, "candidates", len(found), "duplicates", len(duplicates))
	return Result{Checked: true, Duplicates: duplicates}, nil
}

// SearchPattern builds the coarse search pattern for title: its first three
// words longer than three characters, lower-cased and joined with "%".
func SearchPattern(title string) string {
	keywords := make([]string, 0, 3)
	for _, word := range strings.Fields(strings.ToLower(title)) {
		if utf8.RuneCountInString(word) <= 3 {
			continue
		}
		keywords = append(keywords, word)
		if len(keywords) == 3 {
			break
		}
	}
	return strings.Join(keywords, "%")
}

// Score keeps the candidates whose field scores at least threshold against
// title, highest score first.
func Score(title, field string, candidates []store.Record, threshold float64) []Candidate {
	normalized := normalize(title)
	out := make([]Candidate, 0, len(candidates))
	for _, record := range candidates {
		text := record.Text(field)
		score := similarity.Jaccard(title, text)
		if score < threshold {
			continue
		}
		kind := MatchSimilar
		if normalize(text) == normalized {
			kind = MatchExact
		}
		out = append(out, Candidate{Record: record, Score: score, MatchKind: kind})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
