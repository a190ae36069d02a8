package dedupe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pressroom/api/internal/metrics"
	"pressroom/api/internal/store"
	"pressroom/api/internal/store/storetest"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Debounce = 20 * time.Millisecond
	return cfg
}

func newTestGate(t *testing.T, searcher Searcher, opts ...Option) *Gate {
	t.Helper()
	g, err := New(searcher, testConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g
}

func seedTitles(remote *storetest.Fake, titles ...string) {
	records := make([]store.Record, len(titles))
	for i, title := range titles {
		records[i] = store.Record{ID: title, Fields: map[string]any{"title": title}}
	}
	remote.Put(store.PressReleases, records...)
}

func pressRequest(title string) Request {
	return Request{Title: title, Collection: store.PressReleases, TitleField: "title"}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold above one", func(c *Config) { c.Threshold = 1.5 }},
		{"negative threshold", func(c *Config) { c.Threshold = -0.1 }},
		{"negative min title", func(c *Config) { c.MinTitleLength = -1 }},
		{"negative debounce", func(c *Config) { c.Debounce = -time.Second }},
		{"zero candidates", func(c *Config) { c.MaxCandidates = 0 }},
		{"too many candidates", func(c *Config) { c.MaxCandidates = 1000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	_, err := New(storetest.New(), Config{Threshold: 2, MaxCandidates: 5})
	assert.Error(t, err)
}

func TestShortTitleSkipsSearch(t *testing.T) {
	remote := storetest.New()
	g := newTestGate(t, remote)

	res, err := g.Check(context.Background(), "form", pressRequest("short"))
	require.NoError(t, err)
	assert.False(t, res.Loading)
	assert.False(t, res.Checked)
	assert.Empty(t, res.Duplicates)
	assert.NotNil(t, res.Duplicates)

	time.Sleep(3 * testConfig().Debounce)
	assert.Zero(t, remote.SearchCalls())
}

func TestCheckFindsDuplicates(t *testing.T) {
	remote := storetest.New()
	seedTitles(remote,
		"Tokyo Olympics recap and medal table",
		"tokyo olympics recap",
		"Tokyo weather update",
	)
	g := newTestGate(t, remote)

	res, err := g.Check(context.Background(), "form", pressRequest("Tokyo Olympics Recap"))
	require.NoError(t, err)
	assert.True(t, res.Checked)
	assert.False(t, res.Loading)

	require.Len(t, res.Duplicates, 1)
	assert.Equal(t, "tokyo olympics recap", res.Duplicates[0].Record.ID)
	assert.Equal(t, 1.0, res.Duplicates[0].Score)
	assert.Equal(t, MatchExact, res.Duplicates[0].MatchKind)

	assert.Equal(t, "tokyo%olympics%recap", remote.LastPattern())
	assert.Equal(t, 1, remote.SearchCalls())
}

func TestCheckThresholdOverrideAndOrdering(t *testing.T) {
	remote := storetest.New()
	seedTitles(remote,
		"annual budget report summary extended",
		"annual budget report summary",
		"annual budget report",
	)
	g := newTestGate(t, remote)

	req := pressRequest("Annual budget report summary")
	threshold := 0.5
	req.Threshold = &threshold
	res, err := g.Check(context.Background(), "form", req)
	require.NoError(t, err)

	require.Len(t, res.Duplicates, 3)
	assert.Equal(t, "annual budget report summary", res.Duplicates[0].Record.ID)
	assert.Equal(t, MatchExact, res.Duplicates[0].MatchKind)
	for i := 1; i < len(res.Duplicates); i++ {
		assert.GreaterOrEqual(t, res.Duplicates[i-1].Score, res.Duplicates[i].Score)
		assert.Equal(t, MatchSimilar, res.Duplicates[i].MatchKind)
	}
}

func TestCheckZeroThresholdReportsEveryCandidate(t *testing.T) {
	remote := storetest.New()
	seedTitles(remote,
		"annual budget report",
		"annual budget report quarterly figures city council",
	)
	g := newTestGate(t, remote)

	req := pressRequest("Annual budget report summary")
	res, err := g.Check(context.Background(), "form", req)
	require.NoError(t, err)
	require.Len(t, res.Duplicates, 1, "configured threshold applies when none is given")

	zero := 0.0
	req.Threshold = &zero
	res, err = g.Check(context.Background(), "form", req)
	require.NoError(t, err)
	assert.Len(t, res.Duplicates, 2)
}

func TestSearchErrorFailsOpen(t *testing.T) {
	remote := storetest.New()
	remote.SearchErr = errors.New("remote unavailable")
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	g := newTestGate(t, remote, WithMetrics(m))

	res, err := g.Check(context.Background(), "form", pressRequest("Quarterly earnings announcement"))
	require.NoError(t, err)
	assert.True(t, res.Checked)
	assert.Empty(t, res.Duplicates)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DuplicateChecks.WithLabelValues(store.PressReleases, "search_error")))
}

func TestNewerCheckSupersedesPending(t *testing.T) {
	remote := storetest.New()
	seedTitles(remote, "Quarterly earnings announcement")
	g := newTestGate(t, remote)

	first := make(chan error, 1)
	go func() {
		_, err := g.Check(context.Background(), "form", pressRequest("Quarterly earnings"))
		first <- err
	}()
	require.Eventually(t, func() bool { return g.Pending("form") }, time.Second, time.Millisecond)

	res, err := g.Check(context.Background(), "form", pressRequest("Quarterly earnings announcement"))
	require.NoError(t, err)
	assert.Len(t, res.Duplicates, 1)

	assert.ErrorIs(t, <-first, ErrSuperseded)
	assert.Equal(t, 1, remote.SearchCalls(), "only the latest input is searched")
}

func TestKeysDebounceIndependently(t *testing.T) {
	remote := storetest.New()
	seedTitles(remote, "Quarterly earnings announcement")
	g := newTestGate(t, remote)

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := g.Check(context.Background(), key, pressRequest("Quarterly earnings announcement"))
			assert.NoError(t, err)
			assert.True(t, res.Checked)
		}()
	}
	wg.Wait()
	assert.Equal(t, 2, remote.SearchCalls())
}

func TestShortTitleCancelsPending(t *testing.T) {
	remote := storetest.New()
	g := newTestGate(t, remote)

	first := make(chan error, 1)
	go func() {
		_, err := g.Check(context.Background(), "form", pressRequest("Quarterly earnings"))
		first <- err
	}()
	require.Eventually(t, func() bool { return g.Pending("form") }, time.Second, time.Millisecond)

	res, err := g.Check(context.Background(), "form", pressRequest("Q"))
	require.NoError(t, err)
	assert.False(t, res.Checked)
	assert.ErrorIs(t, <-first, ErrSuperseded)
	assert.False(t, g.Pending("form"))
}

func TestScheduleCallbackAndCancel(t *testing.T) {
	remote := storetest.New()
	seedTitles(remote, "Quarterly earnings announcement")
	g := newTestGate(t, remote)

	got := make(chan Result, 1)
	state, err := g.Schedule("form", pressRequest("Quarterly earnings announcement"), func(r Result) { got <- r })
	require.NoError(t, err)
	assert.True(t, state.Loading)

	select {
	case r := <-got:
		assert.True(t, r.Checked)
		assert.Len(t, r.Duplicates, 1)
	case <-time.After(time.Second):
		t.Fatal("callback not called")
	}

	called := make(chan struct{}, 1)
	_, err = g.Schedule("form", pressRequest("Quarterly earnings announcement"), func(Result) { called <- struct{}{} })
	require.NoError(t, err)
	g.Cancel("form")
	assert.False(t, g.Pending("form"))

	select {
	case <-called:
		t.Fatal("cancelled check ran")
	case <-time.After(5 * testConfig().Debounce):
	}
}

func TestCheckHonoursContext(t *testing.T) {
	g := newTestGate(t, storetest.New())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Check(ctx, "form", pressRequest("Quarterly earnings announcement"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, g.Pending("form"))
}

// blockingSearcher holds every search until its context is done.
type blockingSearcher struct {
	started chan struct{}
}

func (b blockingSearcher) Search(ctx context.Context, _, _, _ string, _ int) ([]store.Record, error) {
	close(b.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCheckCancelledDuringSearchIsNotFailOpen(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	searcher := blockingSearcher{started: make(chan struct{})}
	g := newTestGate(t, searcher, WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-searcher.started
		cancel()
	}()

	res, err := g.Check(ctx, "form", pressRequest("Quarterly earnings announcement"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Checked)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DuplicateChecks.WithLabelValues(store.PressReleases, "cancelled")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.DuplicateChecks.WithLabelValues(store.PressReleases, "search_error")))
}

func TestCloseReleasesPendingChecks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Debounce = time.Hour
	g, err := New(storetest.New(), cfg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := g.Check(context.Background(), "form", pressRequest("Quarterly earnings announcement"))
		done <- err
	}()
	require.Eventually(t, func() bool { return g.Pending("form") }, time.Second, time.Millisecond)

	g.Close()
	assert.ErrorIs(t, <-done, ErrClosed)

	_, err = g.Schedule("form", pressRequest("Quarterly earnings announcement"), nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSearchPattern(t *testing.T) {
	tests := map[string]string{
		"Tokyo Olympics Recap":                "tokyo%olympics%recap",
		"The new city park opens this summer": "city%park%opens",
		"a an the of":                         "",
		"Über großes Fest":                    "über%großes%fest",
	}
	for title, want := range tests {
		assert.Equal(t, want, SearchPattern(title), title)
	}
}

func TestScore(t *testing.T) {
	candidates := []store.Record{
		{ID: "1", Fields: map[string]any{"headline": "city council approves budget"}},
		{ID: "2", Fields: map[string]any{"headline": "City Council approves new budget"}},
		{ID: "3", Fields: map[string]any{"headline": "unrelated story"}},
		{ID: "4", Fields: map[string]any{}},
	}
	got := Score("City council approves new budget", "headline", candidates, 0.7)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].Record.ID)
	assert.Equal(t, MatchExact, got[0].MatchKind)
	assert.Equal(t, "1", got[1].Record.ID)
	assert.InDelta(t, 0.8, got[1].Score, 1e-9)
}
