// Package mirror keeps the last known state of every remote entity.
//
// Every write carries a sequence number drawn from a shared Clock. A write only
// lands when its sequence is newer than what the mirror already holds, so a
// snapshot requested before an optimistic update cannot roll that update back
// even when the snapshot arrives later.
package mirror

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/worldmapd/internal/color"
	"github.com/dokzlo13/worldmapd/internal/remote"
)

// Clock hands out strictly increasing sequence numbers.
type Clock struct {
	n atomic.Uint64
}

// Next returns the next sequence number
func (c *Clock) Next() uint64 {
	return c.n.Add(1)
}

// Source says where a mirror's state came from
type Source string

const (
	SourceSnapshot   Source = "snapshot"
	SourceOptimistic Source = "optimistic"
	SourceServer     Source = "server"
)

// State is the host-side view of a light. Brightness is 0..255.
type State struct {
	IsOn       bool      `json:"is_on"`
	RGB        color.RGB `json:"rgb"`
	Brightness uint8     `json:"brightness"`
}

// StateFromWire converts a remote state report to host scale.
func StateFromWire(s remote.EntityState) State {
	return State{
		IsOn:       s.IsOn,
		RGB:        color.RGB{R: s.RGBColor[0], G: s.RGBColor[1], B: s.RGBColor[2]},
		Brightness: color.BrightnessFromWire(s.Brightness),
	}
}

// Mirror is an immutable view of one entity.
type Mirror struct {
	Entity    remote.Entity `json:"entity"`
	State     State         `json:"state"`
	Seq       uint64        `json:"seq"`
	Source    Source        `json:"source"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ChangeFunc is called after a mirror's state changed
type ChangeFunc func(m Mirror)

// Registry holds the mirrors of all known entities.
type Registry struct {
	clock *Clock

	mu       sync.RWMutex
	mirrors  map[int]Mirror
	onChange []ChangeFunc
}

// NewRegistry creates an empty registry stamping writes from clock.
func NewRegistry(clock *Clock) *Registry {
	return &Registry{
		clock:   clock,
		mirrors: make(map[int]Mirror),
	}
}

// Clock returns the sequence clock shared with the coordinator
func (r *Registry) Clock() *Clock {
	return r.clock
}

// OnChange registers a callback for state changes. Must be called before use.
func (r *Registry) OnChange(fn ChangeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = append(r.onChange, fn)
}

// Replace rebuilds the registry from a snapshot taken at seq.
// Entities missing from records are dropped. A mirror written after seq keeps
// its state and only picks up the new entity metadata.
func (r *Registry) Replace(seq uint64, records []remote.Record) {
	now := time.Now()

	r.mu.Lock()
	next := make(map[int]Mirror, len(records))
	var changed []Mirror
	kept := 0
	for _, rec := range records {
		m := Mirror{
			Entity:    rec.Entity,
			State:     StateFromWire(rec.State),
			Seq:       seq,
			Source:    SourceSnapshot,
			UpdatedAt: now,
		}
		if old, ok := r.mirrors[rec.ID]; ok {
			if old.Seq > seq {
				m.State, m.Seq, m.Source, m.UpdatedAt = old.State, old.Seq, old.Source, old.UpdatedAt
				kept++
			} else if old.State == m.State && old.Entity.Name == m.Entity.Name {
				next[rec.ID] = m
				continue
			}
		}
		next[rec.ID] = m
		changed = append(changed, m)
	}
	removed := len(r.mirrors) - countShared(r.mirrors, next)
	r.mirrors = next
	listeners := r.onChange
	r.mu.Unlock()

	log.Debug().
		Uint64("seq", seq).
		Int("entities", len(next)).
		Int("kept_newer", kept).
		Int("removed", removed).
		Msg("Mirrors rebuilt from snapshot")

	notify(listeners, changed)
}

// Apply writes state for id with a fresh sequence number.
// Returns the stored mirror and false when id is unknown.
func (r *Registry) Apply(id int, state State, source Source) (Mirror, bool) {
	return r.ApplyAt(id, state, source, r.clock.Next())
}

// ApplyAt writes state for id if seq is newer than the stored one.
// The returned bool reports whether the write landed.
func (r *Registry) ApplyAt(id int, state State, source Source, seq uint64) (Mirror, bool) {
	r.mu.Lock()
	old, ok := r.mirrors[id]
	if !ok || seq <= old.Seq {
		r.mu.Unlock()
		return old, false
	}
	m := Mirror{
		Entity:    old.Entity,
		State:     state,
		Seq:       seq,
		Source:    source,
		UpdatedAt: time.Now(),
	}
	r.mirrors[id] = m
	listeners := r.onChange
	r.mu.Unlock()

	log.Debug().
		Int("entity", id).
		Str("source", string(source)).
		Uint64("seq", seq).
		Bool("is_on", state.IsOn).
		Msg("Mirror updated")

	notify(listeners, []Mirror{m})
	return m, true
}

// Get returns the mirror for id
func (r *Registry) Get(id int) (Mirror, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mirrors[id]
	return m, ok
}

// All returns all mirrors ordered by entity id
func (r *Registry) All() []Mirror {
	r.mu.RLock()
	out := make([]Mirror, 0, len(r.mirrors))
	for _, m := range r.mirrors {
		out = append(out, m)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Entity.ID < out[j].Entity.ID })
	return out
}

// Len returns the number of mirrored entities
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mirrors)
}

func countShared(a, b map[int]Mirror) int {
	n := 0
	for id := range a {
		if _, ok := b[id]; ok {
			n++
		}
	}
	return n
}

func notify(listeners []ChangeFunc, changed []Mirror) {
	for _, m := range changed {
		for _, fn := range listeners {
			fn(m)
		}
	}
}
