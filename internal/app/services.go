package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/worldmapd/internal/api"
	"github.com/dokzlo13/worldmapd/internal/commands"
	"github.com/dokzlo13/worldmapd/internal/config"
	"github.com/dokzlo13/worldmapd/internal/coordinator"
	"github.com/dokzlo13/worldmapd/internal/db"
	"github.com/dokzlo13/worldmapd/internal/ledger"
	"github.com/dokzlo13/worldmapd/internal/mqtt"
	"github.com/dokzlo13/worldmapd/internal/storage"
)

// Services is a container for all application services.
// It is built once at startup and passed explicitly; nothing is looked up globally.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger // nil when disabled
	Store  *storage.Store

	// Remote store, coordinator, mirrors, dispatcher
	Remote *RemoteService
	Events *EventService

	// Command system
	Registry *commands.Registry
	Invoker  *commands.Invoker

	// Host-facing surfaces
	API         *APIService
	MQTT        *mqtt.Bridge // nil when disabled
	Maintenance *MaintenanceService

	// background goroutines that may still touch the DB
	wg sync.WaitGroup
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	if cfg.Ledger.IsEnabled() {
		s.Ledger = ledger.New(database.DB)
	}
	s.Store = storage.NewStore(database.DB)

	s.Remote, err = NewRemoteService(cfg, s.Store)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Events = NewEventService(cfg, s.Remote.Coordinator, s.Remote.Mirrors)

	s.Registry = commands.NewRegistry()
	if err := commands.RegisterDefaults(s.Registry, commands.Deps{
		Store:     s.Remote.Client,
		Sender:    s.Remote.Dispatcher,
		Refresher: s.Remote.Coordinator,
	}); err != nil {
		s.Close()
		return nil, err
	}
	s.Invoker = commands.NewInvoker(s.Registry, s.Ledger)

	s.API = NewAPIService(cfg, api.Deps{
		Mirrors:     s.Remote.Mirrors,
		Coordinator: s.Remote.Coordinator,
		Lights:      s.Remote.Dispatcher,
		Invoker:     s.Invoker,
		Ledger:      s.Ledger,
		Realtime:    s.Remote.RealtimeStatus(),
		Bus:         s.Events.Bus,
	})

	if cfg.MQTT.Enabled {
		s.MQTT = mqtt.NewBridge(cfg.MQTT, s.Remote.Dispatcher, s.Remote.Mirrors, s.Events.Bus)
	}

	s.Maintenance = NewMaintenanceService(cfg, s.Ledger)

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	// Broker first so the initial snapshot is published as discovery
	if s.MQTT != nil {
		if err := s.MQTT.Start(ctx); err != nil {
			return err
		}
	}

	// Realtime connect and first refresh; failures are logged, not fatal
	s.Remote.Start(ctx)

	s.goBackground(func() { s.Remote.RunBackground(ctx) })
	s.goBackground(func() { s.API.Run(ctx, onFatalError) })
	s.goBackground(func() { s.Maintenance.Run(ctx) })

	log.Debug().Strs("commands", s.Registry.Names()).Msg("Commands registered")
	return nil
}

// ClearState removes the persisted snapshot.
func (s *Services) ClearState() error {
	return coordinator.NewSnapshotStore(s.Store).Clear()
}

func (s *Services) goBackground(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Stop waits for background goroutines to exit, then releases resources.
// The context passed to Start must already be cancelled.
func (s *Services) Stop() error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	// API shutdown is itself bounded by the shutdown timeout
	timeout := s.cfg.GetShutdownTimeout() + time.Second
	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn().Dur("timeout", timeout).Msg("Timed out waiting for background tasks")
	}

	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.MQTT != nil {
		s.MQTT.Close()
	}
	if s.Remote != nil {
		s.Remote.Close()
	}
	if s.Events != nil {
		s.Events.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
