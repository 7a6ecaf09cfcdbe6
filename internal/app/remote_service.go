package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/worldmapd/internal/api"
	"github.com/dokzlo13/worldmapd/internal/color"
	"github.com/dokzlo13/worldmapd/internal/config"
	"github.com/dokzlo13/worldmapd/internal/coordinator"
	"github.com/dokzlo13/worldmapd/internal/dispatch"
	"github.com/dokzlo13/worldmapd/internal/mirror"
	"github.com/dokzlo13/worldmapd/internal/realtime"
	"github.com/dokzlo13/worldmapd/internal/remote"
	"github.com/dokzlo13/worldmapd/internal/storage"
)

// RemoteService wraps everything that talks to the remote entity store:
// REST client, realtime channel, coordinator, mirrors and dispatcher.
type RemoteService struct {
	cfg *config.Config

	Client      *remote.Client
	Realtime    *realtime.Client // nil when disabled
	Clock       *mirror.Clock
	Mirrors     *mirror.Registry
	Coordinator *coordinator.Coordinator
	Snapshots   *coordinator.SnapshotStore // nil when persistence is disabled
	Dispatcher  *dispatch.Dispatcher
}

// NewRemoteService creates all remote-facing components, not connected.
func NewRemoteService(cfg *config.Config, store *storage.Store) (*RemoteService, error) {
	client := remote.NewClient(cfg.Remote.BaseURL(), cfg.Remote.Timeout.Duration())

	var rt *realtime.Client
	var channel dispatch.Channel
	if cfg.Realtime.IsEnabled() {
		var err error
		rt, err = realtime.New(cfg.Remote.BaseURL(), realtime.Options{
			Path:           cfg.Realtime.Path,
			Namespace:      cfg.Realtime.Namespace,
			ConnectTimeout: cfg.Realtime.ConnectTimeout.Duration(),
		})
		if err != nil {
			return nil, err
		}
		channel = rt
	}

	policy, err := color.ParsePolicy(cfg.Dispatcher.BrightnessPolicy, cfg.Dispatcher.GetFixedBrightness())
	if err != nil {
		return nil, err
	}

	// one clock stamps snapshots and mirror writes
	clock := &mirror.Clock{}
	mirrors := mirror.NewRegistry(clock)

	coord := coordinator.New(client, clock, cfg.Coordinator.RefreshInterval.Duration())
	coord.AddListener(func(snap *coordinator.Snapshot) {
		mirrors.Replace(snap.Seq, snap.Records)
	})

	var snapshots *coordinator.SnapshotStore
	if cfg.Coordinator.IsPersistEnabled() {
		snapshots = coordinator.NewSnapshotStore(store)
		coord.AddListener(snapshots.Listener())
	}

	dispatcher := dispatch.New(client, channel, mirrors, dispatch.Options{
		Policy:       policy,
		RateLimitRPS: cfg.Dispatcher.RateLimitRPS,
		RESTToggle:   cfg.Dispatcher.RESTToggle,
	})

	log.Debug().
		Str("remote", client.BaseURL()).
		Str("brightness_policy", dispatcher.Policy().Name()).
		Bool("realtime", rt != nil).
		Msg("Remote service initialized")

	return &RemoteService{
		cfg:         cfg,
		Client:      client,
		Realtime:    rt,
		Clock:       clock,
		Mirrors:     mirrors,
		Coordinator: coord,
		Snapshots:   snapshots,
		Dispatcher:  dispatcher,
	}, nil
}

// Start connects the realtime channel and performs the first refresh.
// Neither failure is fatal: commands fall back to REST and the coordinator
// retries on its next tick.
func (s *RemoteService) Start(ctx context.Context) {
	if s.Realtime != nil {
		if err := s.Realtime.Connect(ctx); err != nil {
			log.Warn().Err(err).Str("url", s.Realtime.URL()).Msg("Realtime channel unavailable, commands will use REST")
		}
	}

	if err := s.Coordinator.Refresh(ctx); err != nil {
		s.seedFromStore()
		return
	}
	log.Info().Int("entities", s.Mirrors.Len()).Msg("Initial snapshot loaded")
}

func (s *RemoteService) seedFromStore() {
	if s.Snapshots == nil {
		return
	}
	snap, err := s.Snapshots.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load stored snapshot")
		return
	}
	if snap == nil {
		log.Info().Msg("No stored snapshot to fall back to")
		return
	}
	s.Coordinator.Seed(snap)
}

// RealtimeStatus returns the channel for status reporting, or a nil interface when disabled.
func (s *RemoteService) RealtimeStatus() api.Realtime {
	if s.Realtime == nil {
		return nil
	}
	return s.Realtime
}

// RunBackground runs the coordinator loop until ctx is cancelled.
func (s *RemoteService) RunBackground(ctx context.Context) {
	if err := s.Coordinator.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Coordinator error")
	}
}

// Close leaves the realtime namespace and releases the HTTP client.
func (s *RemoteService) Close() {
	if s.Realtime != nil {
		if err := s.Realtime.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close realtime channel")
		}
	}
	if s.Client != nil {
		s.Client.Close()
	}
}
