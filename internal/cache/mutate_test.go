package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pressroom/api/internal/store"
	"pressroom/api/internal/store/storetest"
)

func syncedManager(t *testing.T, n int) (*Manager, *storetest.Fake) {
	t.Helper()
	remote := storetest.New()
	remote.Seed(store.PressReleases, n)
	m := newTestManager(t, remote)
	_, err := m.Refresh(context.Background(), store.PressReleases, false)
	require.NoError(t, err)
	return m, remote
}

func ids(records []store.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestApplyCreatePrepends(t *testing.T) {
	m, _ := syncedManager(t, 3)
	before, _ := m.Status(store.PressReleases)

	require.NoError(t, m.ApplyCreate(store.PressReleases, store.Record{ID: "new", Fields: map[string]any{"title": "Quarterly results"}}))

	records, _ := m.Collection(store.PressReleases)
	assert.Equal(t, []string{"new", "press_releases-00002", "press_releases-00001", "press_releases-00000"}, ids(records))

	after, _ := m.Status(store.PressReleases)
	assert.Equal(t, before.LastSyncedAt, after.LastSyncedAt, "mutations leave lastSyncedAt alone")
}

func TestApplyCreateReplacesSameID(t *testing.T) {
	m, _ := syncedManager(t, 3)

	require.NoError(t, m.ApplyCreate(store.PressReleases, store.Record{ID: "press_releases-00001"}))

	records, _ := m.Collection(store.PressReleases)
	assert.Equal(t, []string{"press_releases-00001", "press_releases-00002", "press_releases-00000"}, ids(records))
}

func TestApplyCreateOnEmptyEntry(t *testing.T) {
	m := newTestManager(t, storetest.New())
	require.NoError(t, m.ApplyCreate(store.SocialPosts, store.Record{ID: "only"}))
	records, _ := m.Collection(store.SocialPosts)
	assert.Equal(t, []string{"only"}, ids(records))
}

func TestApplyUpdateMerges(t *testing.T) {
	m, _ := syncedManager(t, 3)
	snapshot, _ := m.Collection(store.PressReleases)

	require.NoError(t, m.ApplyUpdate(store.PressReleases, "press_releases-00001", map[string]any{"title": "Renamed", "status": "published"}))

	records, _ := m.Collection(store.PressReleases)
	assert.Equal(t, ids(snapshot), ids(records), "order unchanged")
	assert.Equal(t, "Renamed", records[1].Text("title"))
	assert.Equal(t, "published", records[1].Text("status"))

	assert.Equal(t, "press_releases item 1", snapshot[1].Text("title"), "earlier snapshot is untouched")
}

func TestApplyUpdateUnknownIDIsNoop(t *testing.T) {
	m, _ := syncedManager(t, 2)
	before, _ := m.Collection(store.PressReleases)

	require.NoError(t, m.ApplyUpdate(store.PressReleases, "missing", map[string]any{"title": "x"}))

	after, _ := m.Collection(store.PressReleases)
	assert.Equal(t, before, after)
}

func TestApplyDeletePreservesOrder(t *testing.T) {
	m, _ := syncedManager(t, 5)
	snapshot, _ := m.Collection(store.PressReleases)

	require.NoError(t, m.ApplyDelete(store.PressReleases, "press_releases-00002"))

	records, _ := m.Collection(store.PressReleases)
	assert.Equal(t, []string{"press_releases-00004", "press_releases-00003", "press_releases-00001", "press_releases-00000"}, ids(records))
	assert.Len(t, snapshot, 5, "earlier snapshot is untouched")
}

func TestApplyDeleteMany(t *testing.T) {
	m, _ := syncedManager(t, 5)

	require.NoError(t, m.ApplyDeleteMany(store.PressReleases, []string{"press_releases-00004", "press_releases-00000", "missing"}))

	records, _ := m.Collection(store.PressReleases)
	assert.Equal(t, []string{"press_releases-00003", "press_releases-00002", "press_releases-00001"}, ids(records))

	require.NoError(t, m.ApplyDeleteMany(store.PressReleases, nil))
	records, _ = m.Collection(store.PressReleases)
	assert.Len(t, records, 3)
}

func TestApplyDeleteUnknownIDIsNoop(t *testing.T) {
	m, _ := syncedManager(t, 2)
	require.NoError(t, m.ApplyDelete(store.PressReleases, "missing"))
	records, _ := m.Collection(store.PressReleases)
	assert.Len(t, records, 2)
}
