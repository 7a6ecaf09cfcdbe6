package mirror

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/worldmapd/internal/color"
	"github.com/dokzlo13/worldmapd/internal/remote"
)

func record(id int, name string, isOn bool, bri int, rgb [3]uint8) remote.Record {
	return remote.Record{
		Entity: remote.Entity{ID: id, Name: name, StartAddr: 0, EndAddr: 10},
		State:  remote.EntityState{IsOn: isOn, Brightness: bri, RGBColor: rgb},
	}
}

func TestClockIsMonotonic(t *testing.T) {
	var c Clock
	prev := c.Next()
	for i := 0; i < 100; i++ {
		n := c.Next()
		require.Greater(t, n, prev)
		prev = n
	}
}

func TestStateFromWireScalesBrightness(t *testing.T) {
	s := StateFromWire(remote.EntityState{IsOn: true, Brightness: 100, RGBColor: [3]uint8{1, 2, 3}})
	assert.Equal(t, State{IsOn: true, RGB: color.RGB{R: 1, G: 2, B: 3}, Brightness: 255}, s)
}

func TestReplaceBuildsAndDropsMirrors(t *testing.T) {
	clock := &Clock{}
	r := NewRegistry(clock)

	r.Replace(clock.Next(), []remote.Record{
		record(1, "a", true, 100, [3]uint8{255, 0, 0}),
		record(2, "b", false, 0, [3]uint8{}),
	})
	assert.Equal(t, []int{1, 2}, ids(r))

	r.Replace(clock.Next(), []remote.Record{record(2, "b2", true, 50, [3]uint8{})})
	assert.Equal(t, []int{2}, ids(r))

	m, ok := r.Get(2)
	require.True(t, ok)
	assert.Equal(t, "b2", m.Entity.Name)
	assert.Equal(t, uint8(128), m.State.Brightness)
	assert.Equal(t, SourceSnapshot, m.Source)

	_, ok = r.Get(1)
	assert.False(t, ok)
}

func TestApplyUnknownEntity(t *testing.T) {
	r := NewRegistry(&Clock{})
	_, ok := r.Apply(9, State{IsOn: true}, SourceOptimistic)
	assert.False(t, ok)
}

func TestStaleSnapshotDoesNotOverwriteOptimisticWrite(t *testing.T) {
	clock := &Clock{}
	r := NewRegistry(clock)
	r.Replace(clock.Next(), []remote.Record{record(1, "a", false, 0, [3]uint8{})})

	// refresh is requested, then a command lands, then the refresh response arrives
	snapshotSeq := clock.Next()
	written, ok := r.Apply(1, State{IsOn: true, RGB: color.RGB{R: 9}, Brightness: 200}, SourceOptimistic)
	require.True(t, ok)
	r.Replace(snapshotSeq, []remote.Record{record(1, "renamed", false, 0, [3]uint8{})})

	m, _ := r.Get(1)
	assert.Equal(t, written.State, m.State)
	assert.Equal(t, SourceOptimistic, m.Source)
	assert.Equal(t, "renamed", m.Entity.Name, "metadata still follows the snapshot")

	// a snapshot requested after the write wins
	r.Replace(clock.Next(), []remote.Record{record(1, "renamed", false, 0, [3]uint8{})})
	m, _ = r.Get(1)
	assert.False(t, m.State.IsOn)
	assert.Equal(t, SourceSnapshot, m.Source)
}

func TestApplyAtRejectsOlderSequence(t *testing.T) {
	clock := &Clock{}
	r := NewRegistry(clock)
	r.Replace(clock.Next(), []remote.Record{record(1, "a", false, 0, [3]uint8{})})

	older := clock.Next()
	_, ok := r.Apply(1, State{IsOn: true}, SourceServer)
	require.True(t, ok)

	_, ok = r.ApplyAt(1, State{IsOn: false}, SourceOptimistic, older)
	assert.False(t, ok)
	m, _ := r.Get(1)
	assert.True(t, m.State.IsOn)
}

func TestOnChangeNotifications(t *testing.T) {
	clock := &Clock{}
	r := NewRegistry(clock)

	var mu sync.Mutex
	var seen []int
	r.OnChange(func(m Mirror) {
		mu.Lock()
		seen = append(seen, m.Entity.ID)
		mu.Unlock()
	})

	r.Replace(clock.Next(), []remote.Record{record(1, "a", true, 10, [3]uint8{}), record(2, "b", true, 10, [3]uint8{})})
	assert.ElementsMatch(t, []int{1, 2}, seen)

	// identical snapshot: no change
	seen = nil
	r.Replace(clock.Next(), []remote.Record{record(1, "a", true, 10, [3]uint8{}), record(2, "b", true, 10, [3]uint8{})})
	assert.Empty(t, seen)

	r.Apply(2, State{}, SourceOptimistic)
	assert.Equal(t, []int{2}, seen)
}

func TestAllReturnsCopies(t *testing.T) {
	clock := &Clock{}
	r := NewRegistry(clock)
	r.Replace(clock.Next(), []remote.Record{record(1, "a", true, 10, [3]uint8{})})

	all := r.All()
	all[0].State.IsOn = false

	m, _ := r.Get(1)
	assert.True(t, m.State.IsOn)
	assert.Equal(t, 1, r.Len())
}

func ids(r *Registry) []int {
	var out []int
	for _, m := range r.All() {
		out = append(out, m.Entity.ID)
	}
	return out
}
