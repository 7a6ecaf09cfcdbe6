package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/worldmapd/internal/config"
	"github.com/dokzlo13/worldmapd/internal/coordinator"
	"github.com/dokzlo13/worldmapd/internal/eventbus"
	"github.com/dokzlo13/worldmapd/internal/mirror"
)

// EventService owns the event bus and feeds it from the coordinator and mirrors.
type EventService struct {
	cfg *config.Config
	Bus *eventbus.Bus
}

// NewEventService creates the bus and hooks it to snapshot and mirror changes.
// Hooks must be added before the first refresh so no change is missed.
func NewEventService(cfg *config.Config, coord *coordinator.Coordinator, mirrors *mirror.Registry) *EventService {
	bus := eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	mirrors.OnChange(func(m mirror.Mirror) {
		bus.Publish(eventbus.EventMirrorChanged, m)
	})
	coord.AddListener(func(snap *coordinator.Snapshot) {
		log.Debug().Uint64("seq", snap.Seq).Bool("restored", snap.Restored).Msg("Snapshot installed")
		bus.Publish(eventbus.EventSnapshotRefreshed, snap)
	})

	return &EventService{
		cfg: cfg,
		Bus: bus,
	}
}

// Close drains the bus within the shutdown timeout.
func (s *EventService) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
	defer cancel()
	s.Bus.Close(ctx)
}
