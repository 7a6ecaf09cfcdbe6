package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/worldmapd/internal/config"
	"github.com/dokzlo13/worldmapd/internal/ledger"
)

// MaintenanceService runs periodic housekeeping.
type MaintenanceService struct {
	cfg    *config.Config
	ledger *ledger.Ledger
}

// NewMaintenanceService creates a new MaintenanceService. l may be nil.
func NewMaintenanceService(cfg *config.Config, l *ledger.Ledger) *MaintenanceService {
	return &MaintenanceService{
		cfg:    cfg,
		ledger: l,
	}
}

// Run performs the periodic tasks until ctx is cancelled.
func (s *MaintenanceService) Run(ctx context.Context) {
	if s.ledger == nil {
		return
	}
	s.runLedgerCleanup(ctx)
}

// runLedgerCleanup periodically cleans up old ledger entries.
func (s *MaintenanceService) runLedgerCleanup(ctx context.Context) {
	retention := s.cfg.Ledger.RetentionPeriod.Duration()
	interval := s.cfg.Ledger.RetentionInterval.Duration()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupLedger(retention)
		}
	}
}

func (s *MaintenanceService) cleanupLedger(retention time.Duration) {
	deleted, err := s.ledger.DeleteOlderThan(retention)
	if err != nil {
		log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
	} else if deleted > 0 {
		log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
	}
}
