package coordinator

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/worldmapd/internal/storage"
)

const (
	snapshotKind = "snapshot"
	snapshotID   = "entities"
)

// SnapshotStore keeps the last good snapshot across restarts.
type SnapshotStore struct {
	store *storage.Store
}

// NewSnapshotStore wraps a document store
func NewSnapshotStore(store *storage.Store) *SnapshotStore {
	return &SnapshotStore{store: store}
}

// Save persists snap. Restored snapshots are not written back.
func (s *SnapshotStore) Save(snap *Snapshot) error {
	if snap == nil || snap.Restored {
		return nil
	}
	return s.store.SetJSON(snapshotKind, snapshotID, snap)
}

// Load returns the stored snapshot or nil if none was saved.
func (s *SnapshotStore) Load() (*Snapshot, error) {
	var snap Snapshot
	found, err := s.store.GetJSON(snapshotKind, snapshotID, &snap)
	if err != nil || !found {
		return nil, err
	}
	return &snap, nil
}

// Clear forgets the stored snapshot.
func (s *SnapshotStore) Clear() error {
	return s.store.Delete(snapshotKind, snapshotID)
}

// Listener returns a coordinator listener that saves every snapshot.
func (s *SnapshotStore) Listener() Listener {
	return func(snap *Snapshot) {
		if err := s.Save(snap); err != nil {
			log.Warn().Err(err).Msg("Failed to persist snapshot")
		}
	}
}
