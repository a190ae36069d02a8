package cache

import (
	"maps"

	"pressroom/api/internal/store"
)

// The Apply methods reflect a write that already succeeded remotely. They
// never touch lastSyncedAt, so the entry still ages out on its own schedule.
// Each one publishes a new slice instead of editing the current snapshot.

// ApplyCreate puts record at the front of the collection. A record already
// cached under the same id is dropped first.
func (m *Manager) ApplyCreate(name string, record store.Record) error {
	e, err := m.entry(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make([]store.Record, 0, len(e.records)+1)
	next = append(next, record.Clone())
	for _, r := range e.records {
		if r.ID != record.ID {
			next = append(next, r)
		}
	}
	e.records = next
	m.metrics.SetRecords(name, len(next))
	return nil
}

// ApplyUpdate merges fields into the cached record with the given id. An id
// that is not cached is ignored.
func (m *Manager) ApplyUpdate(name, id string, fields map[string]any) error {
	e, err := m.entry(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, r := range e.records {
		if r.ID != id {
			continue
		}
		updated := r.Clone()
		maps.Copy(updated.Fields, fields)
		next := make([]store.Record, len(e.records))
		copy(next, e.records)
		next[i] = updated
		e.records = next
		return nil
	}
	m.logger.Debug("update for uncached record ignored", "collection", name, "id", id)
	return nil
}

// ApplyDelete removes the record with the given id, keeping the order of the
// rest. An id that is not cached is ignored.
func (m *Manager) ApplyDelete(name, id string) error {
	return m.ApplyDeleteMany(name, []string{id})
}

// ApplyDeleteMany removes every record whose id is in ids, keeping the order
// of the rest.
func (m *Manager) ApplyDeleteMany(name string, ids []string) error {
	e, err := m.entry(name)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := make([]store.Record, 0, len(e.records))
	for _, r := range e.records {
		if _, ok := drop[r.ID]; !ok {
			next = append(next, r)
		}
	}
	if len(next) == len(e.records) {
		m.logger.Debug("delete matched no cached records", "collection", name, "ids", len(ids))
		return nil
	}
	e.records = next
	m.metrics.SetRecords(name, len(next))
	return nil
}
