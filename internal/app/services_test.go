package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/worldmapd/internal/config"
	"github.com/dokzlo13/worldmapd/internal/coordinator"
	"github.com/dokzlo13/worldmapd/internal/remote"
	"github.com/dokzlo13/worldmapd/internal/remote/remotetest"
)

func newTestConfig(t *testing.T, remoteURL string) *config.Config {
	t.Helper()
	u, err := url.Parse(remoteURL)
	require.NoError(t, err)

	cfg, err := config.Parse([]byte(fmt.Sprintf(`
remote:
  host: %s
  port: %s
  timeout: 2s
realtime:
  enabled: false
api:
  enabled: false
database:
  path: %s
shutdown_timeout: 1s
`, u.Hostname(), u.Port(), filepath.Join(t.TempDir(), "worldmapd.sqlite"))))
	require.NoError(t, err)
	return cfg
}

func newTestServices(t *testing.T, srv *remotetest.Server) *Services {
	t.Helper()
	s, err := NewServices(newTestConfig(t, srv.URL))
	require.NoError(t, err)
	return s
}

func TestStartSeedsFromStoredSnapshotWhenRemoteIsDown(t *testing.T) {
	srv := remotetest.NewServer()
	t.Cleanup(srv.Close)
	srv.FailWith(http.StatusServiceUnavailable)

	s := newTestServices(t, srv)
	t.Cleanup(s.Close)

	require.NotNil(t, s.Remote.Snapshots)
	require.NoError(t, s.Remote.Snapshots.Save(&coordinator.Snapshot{
		Seq:       1,
		FetchedAt: time.Now().Add(-time.Hour),
		Records: []remote.Record{
			{Entity: remote.Entity{ID: 3, Name: "shelf", EndAddr: 20}},
			{Entity: remote.Entity{ID: 4, Name: "desk", StartAddr: 21, EndAddr: 40}},
		},
	}))

	s.Remote.Start(context.Background())

	var refreshErr *coordinator.UpdateFailedError
	require.ErrorAs(t, s.Remote.Coordinator.LastError(), &refreshErr)
	assert.Equal(t, http.StatusServiceUnavailable, refreshErr.StatusCode)
	assert.Equal(t, 2, s.Remote.Mirrors.Len())

	rec := httptest.NewRecorder()
	s.API.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status   string `json:"status"`
		Entities int    `json:"entities"`
		Restored bool   `json:"restored"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, 2, body.Entities)
	assert.True(t, body.Restored)
}

func TestStartWithoutStoredSnapshotIsNotReady(t *testing.T) {
	srv := remotetest.NewServer()
	t.Cleanup(srv.Close)
	srv.FailWith(http.StatusServiceUnavailable)

	s := newTestServices(t, srv)
	t.Cleanup(s.Close)

	s.Remote.Start(context.Background())
	assert.Nil(t, s.Remote.Coordinator.Snapshot())

	rec := httptest.NewRecorder()
	s.API.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestClearStateForgetsSnapshot(t *testing.T) {
	srv := remotetest.NewServer(remote.Record{Entity: remote.Entity{ID: 1, Name: "a", EndAddr: 5}})
	t.Cleanup(srv.Close)

	s := newTestServices(t, srv)
	t.Cleanup(s.Close)

	s.Remote.Start(context.Background())
	stored, err := s.Remote.Snapshots.Load()
	require.NoError(t, err)
	require.NotNil(t, stored)

	require.NoError(t, s.ClearState())
	stored, err = s.Remote.Snapshots.Load()
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestStopWaitsForBackgroundTasks(t *testing.T) {
	srv := remotetest.NewServer()
	t.Cleanup(srv.Close)

	s := newTestServices(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx, func(error) {}))

	var writeErr error
	written := make(chan struct{})
	s.goBackground(func() {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		writeErr = s.Store.Set("test", "late", []byte(`{}`))
		close(written)
	})

	cancel()
	require.NoError(t, s.Stop())

	select {
	case <-written:
	default:
		t.Fatal("Stop returned before background work finished")
	}
	assert.NoError(t, writeErr, "store was still open for in-flight work")
}
