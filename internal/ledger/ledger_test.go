package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/worldmapd/internal/db"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "ledger.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func TestHasCompleted(t *testing.T) {
	l := newLedger(t)

	assert.False(t, l.HasCompleted(""))
	assert.False(t, l.HasCompleted("k1"))

	require.NoError(t, l.Append(EventCommandFailed, "k1", map[string]any{"error": "boom"}))
	assert.False(t, l.HasCompleted("k1"))

	require.NoError(t, l.Append(EventCommandCompleted, "k1", nil))
	assert.True(t, l.HasCompleted("k1"))
}

func TestDuplicateCompletionIgnored(t *testing.T) {
	l := newLedger(t)

	require.NoError(t, l.AppendWithSource(EventCommandCompleted, "k", "api", "set_color", nil))
	require.NoError(t, l.AppendWithSource(EventCommandCompleted, "k", "api", "set_color", nil))

	entries, err := l.GetByType(EventCommandCompleted, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestQueries(t *testing.T) {
	l := newLedger(t)

	require.NoError(t, l.AppendWithSource(EventCommandCompleted, "a", "api", "create_entity", map[string]any{"name": "x"}))
	require.NoError(t, l.AppendWithSource(EventCommandFailed, "b", "mqtt", "set_color", map[string]any{"error": "e"}))
	require.NoError(t, l.AppendWithSource(EventCommandCompleted, "", "api", "set_color", nil))

	recent, err := l.GetRecent(10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "set_color", recent[0].Command, "newest first")

	byCmd, err := l.GetByCommand("set_color", 10)
	require.NoError(t, err)
	assert.Len(t, byCmd, 2)

	failed, err := l.GetByType(EventCommandFailed, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "mqtt", failed[0].Source)
	assert.Equal(t, "b", failed[0].IdempotencyKey)
	assert.Equal(t, "e", failed[0].Payload["error"])

	limited, err := l.GetRecent(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDeleteOlderThan(t *testing.T) {
	l := newLedger(t)

	_, err := l.db.Exec(`INSERT INTO event_ledger (event_type, timestamp, payload, source, idempotency_key, command) VALUES (?, ?, '', '', '', '')`,
		string(EventCommandCompleted), time.Now().Add(-48*time.Hour).Unix())
	require.NoError(t, err)
	require.NoError(t, l.Append(EventCommandCompleted, "", nil))

	deleted, err := l.DeleteOlderThan(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	recent, _ := l.GetRecent(10)
	assert.Len(t, recent, 1)
}
