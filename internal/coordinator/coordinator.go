// Package coordinator polls the remote entity store and caches the latest snapshot.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/worldmapd/internal/remote"
)

// Fetcher lists entity records from the remote store.
type Fetcher interface {
	ListEntities(ctx context.Context) ([]remote.Record, error)
}

// Sequencer stamps snapshots; shared with the mirror registry.
type Sequencer interface {
	Next() uint64
}

// Snapshot is an immutable result of one successful refresh.
type Snapshot struct {
	Seq       uint64          `json:"seq"`
	FetchedAt time.Time       `json:"fetched_at"`
	Records   []remote.Record `json:"records"`
	Restored  bool            `json:"restored"`
}

// Record returns the record for id
func (s *Snapshot) Record(id int) (remote.Record, bool) {
	for _, r := range s.Records {
		if r.ID == id {
			return r, true
		}
	}
	return remote.Record{}, false
}

// UpdateFailedError reports a failed refresh. StatusCode is 0 for transport errors.
type UpdateFailedError struct {
	StatusCode int
	Err        error
}

func (e *UpdateFailedError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("update failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("update failed: %v", e.Err)
}

func (e *UpdateFailedError) Unwrap() error {
	return e.Err
}

// Listener is notified after every successful refresh
type Listener func(s *Snapshot)

type listenerEntry struct {
	id int
	fn Listener
}

// Coordinator refreshes the entity list on an interval and on demand.
type Coordinator struct {
	fetcher  Fetcher
	clock    Sequencer
	interval time.Duration

	// serializes refreshes so snapshots are installed in request order
	refreshMu sync.Mutex

	mu        sync.RWMutex
	snapshot  *Snapshot
	lastErr   error
	listeners []listenerEntry
	nextID    int

	trigger chan struct{}
}

// New creates a Coordinator. interval 0 means 5 minutes.
func New(fetcher Fetcher, clock Sequencer, interval time.Duration) *Coordinator {
	if interval == 0 {
		interval = 5 * time.Minute
	}
	return &Coordinator{
		fetcher:  fetcher,
		clock:    clock,
		interval: interval,
		trigger:  make(chan struct{}, 1),
	}
}

// Snapshot returns the latest snapshot, or nil before the first success.
func (c *Coordinator) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// LastError returns the error of the most recent refresh, nil if it succeeded.
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// AddListener registers fn and returns a function that removes it.
func (c *Coordinator) AddListener(fn Listener) (remove func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners = append(c.listeners, listenerEntry{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// Refresh fetches the entity list once. On failure the previous snapshot is
// kept, no listener is called and an *UpdateFailedError is returned.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	seq := c.clock.Next()
	start := time.Now()

	records, err := c.fetcher.ListEntities(ctx)
	if err != nil {
		failed := &UpdateFailedError{Err: err}
		var statusErr *remote.StatusError
		if errors.As(err, &statusErr) {
			failed.StatusCode = statusErr.Code
		}

		c.mu.Lock()
		c.lastErr = failed
		c.mu.Unlock()

		log.Warn().Err(err).Int("status", failed.StatusCode).Msg("Coordinator refresh failed")
		return failed
	}

	snap := &Snapshot{
		Seq:       seq,
		FetchedAt: time.Now(),
		Records:   records,
	}

	log.Debug().
		Int("entities", len(records)).
		Uint64("seq", seq).
		Dur("took", time.Since(start)).
		Msg("Coordinator refreshed")

	c.install(snap)
	return nil
}

// Seed installs a snapshot obtained elsewhere (e.g. restored from disk) and
// notifies listeners. It is ignored once a live snapshot exists.
func (c *Coordinator) Seed(snap *Snapshot) bool {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.mu.RLock()
	live := c.snapshot != nil
	c.mu.RUnlock()
	if live || snap == nil {
		return false
	}

	seeded := *snap
	seeded.Seq = c.clock.Next()
	seeded.Restored = true

	log.Info().Int("entities", len(seeded.Records)).Time("fetched_at", seeded.FetchedAt).Msg("Seeded coordinator from stored snapshot")
	c.install(&seeded)
	return true
}

func (c *Coordinator) install(snap *Snapshot) {
	c.mu.Lock()
	c.snapshot = snap
	if !snap.Restored {
		c.lastErr = nil
	}
	listeners := make([]Listener, len(c.listeners))
	for i, l := range c.listeners {
		listeners[i] = l.fn
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

// RequestRefresh asks the Run loop for a refresh without waiting for it.
// Requests made while one is pending are coalesced.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.trigger <- struct{}{}:
	default:
		// Already requested
	}
}

// Run refreshes on every tick and on request until ctx is cancelled.
// Failures are logged and the loop waits for the next tick.
func (c *Coordinator) Run(ctx context.Context) error {
	log.Info().Dur("interval", c.interval).Msg("Coordinator started")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Coordinator stopping")
			return nil

		case <-c.trigger:
			c.Refresh(ctx)

		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}
