package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/worldmapd/internal/api"
	"github.com/dokzlo13/worldmapd/internal/config"
)

// APIService wraps the HTTP API server.
type APIService struct {
	cfg    *config.Config
	server *api.Server
}

// NewAPIService creates a new APIService.
func NewAPIService(cfg *config.Config, deps api.Deps) *APIService {
	return &APIService{
		cfg:    cfg,
		server: api.NewServer(cfg.API.Host, cfg.API.Port, deps),
	}
}

// Run serves the API until ctx is cancelled, if enabled. A server that cannot listen is fatal.
func (s *APIService) Run(ctx context.Context, onFatalError func(error)) {
	if !s.cfg.API.Enabled {
		log.Debug().Msg("API server disabled")
		return
	}

	if err := s.server.Run(ctx, s.cfg.GetShutdownTimeout()); err != nil {
		log.Error().Err(err).Msg("API server error")
		onFatalError(err)
	}
}
