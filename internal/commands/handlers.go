package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/worldmapd/internal/dispatch"
	"github.com/dokzlo13/worldmapd/internal/remote"
)

// EntityStore is the CRUD side of the remote store
type EntityStore interface {
	CreateEntity(ctx context.Context, in remote.EntityInput) error
	UpdateEntity(ctx context.Context, in remote.EntityInput) error
	DeleteEntity(ctx context.Context, id int) error
}

// Sender delivers wire-level color commands
type Sender interface {
	Send(ctx context.Context, cmd remote.ColorCommand) (dispatch.Result, error)
}

// Refresher is asked for a snapshot refresh after a successful CRUD command
type Refresher interface {
	RequestRefresh()
}

// Deps are the collaborators of the built-in handlers. Refresher may be nil.
type Deps struct {
	Store     EntityStore
	Sender    Sender
	Refresher Refresher
}

// RegisterDefaults registers create_entity, update_entity, delete_entity and set_color
func RegisterDefaults(r *Registry, deps Deps) error {
	h := &handlers{deps: deps}
	for name, fn := range map[string]func(context.Context, Request) (*Result, error){
		NameCreateEntity: h.createEntity,
		NameUpdateEntity: h.updateEntity,
		NameDeleteEntity: h.deleteEntity,
		NameSetColor:     h.setColor,
	} {
		if err := r.RegisterFunc(name, fn); err != nil {
			return err
		}
	}
	return nil
}

type handlers struct {
	deps Deps
}

func (h *handlers) createEntity(ctx context.Context, req Request) (*Result, error) {
	r, ok := req.(*CreateEntity)
	if !ok {
		return nil, unexpected(NameCreateEntity, req)
	}
	in := r.Input()
	if err := h.deps.Store.CreateEntity(ctx, in); err != nil {
		log.Error().Err(err).Str("name", in.Name).Msg("Failed to create entity")
		return nil, err
	}
	log.Info().Str("name", in.Name).Int("start_addr", in.StartAddr).Int("end_addr", in.EndAddr).Msg("Entity created")
	h.refresh()
	return &Result{Command: NameCreateEntity}, nil
}

func (h *handlers) updateEntity(ctx context.Context, req Request) (*Result, error) {
	r, ok := req.(*UpdateEntity)
	if !ok {
		return nil, unexpected(NameUpdateEntity, req)
	}
	in := r.Input()
	if err := h.deps.Store.UpdateEntity(ctx, in); err != nil {
		log.Error().Err(err).Int("entity", in.ID).Msg("Failed to update entity")
		return nil, err
	}
	log.Info().Int("entity", in.ID).Str("name", in.Name).Msg("Entity updated")
	h.refresh()
	return &Result{Command: NameUpdateEntity, Entity: in.ID}, nil
}

func (h *handlers) deleteEntity(ctx context.Context, req Request) (*Result, error) {
	r, ok := req.(*DeleteEntity)
	if !ok {
		return nil, unexpected(NameDeleteEntity, req)
	}
	if err := h.deps.Store.DeleteEntity(ctx, *r.ID); err != nil {
		log.Error().Err(err).Int("entity", *r.ID).Msg("Failed to delete entity")
		return nil, err
	}
	log.Info().Int("entity", *r.ID).Msg("Entity deleted")
	h.refresh()
	return &Result{Command: NameDeleteEntity, Entity: *r.ID}, nil
}

func (h *handlers) setColor(ctx context.Context, req Request) (*Result, error) {
	r, ok := req.(*SetColor)
	if !ok {
		return nil, unexpected(NameSetColor, req)
	}
	cmd := r.ColorCommand()
	res, err := h.deps.Sender.Send(ctx, cmd)
	if err != nil {
		// the dispatcher already logged the failure
		return nil, err
	}
	return &Result{Command: NameSetColor, Entity: cmd.Entity, Via: string(res.Via)}, nil
}

func (h *handlers) refresh() {
	if h.deps.Refresher != nil {
		h.deps.Refresher.RequestRefresh()
	}
}

func unexpected(name string, req Request) error {
	return fmt.Errorf("command %q got request of type %T", name, req)
}
