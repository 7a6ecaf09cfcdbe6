package commands

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/worldmapd/internal/ledger"
)

// Invoker decodes, executes and records commands.
// Commands sharing a non-empty idempotency key run at most once successfully;
// concurrent calls with the same key are serialized.
type Invoker struct {
	registry *Registry
	ledger   *ledger.Ledger
	keys     keyLocks
}

// NewInvoker creates a new command invoker. l may be nil when the ledger is disabled.
func NewInvoker(registry *Registry, l *ledger.Ledger) *Invoker {
	return &Invoker{
		registry: registry,
		ledger:   l,
		keys:     keyLocks{locks: make(map[string]*keyLock)},
	}
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// keyLocks hands out one mutex per idempotency key, dropped when unused.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func (k *keyLocks) lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Names returns the registered command names
func (i *Invoker) Names() []string {
	return i.registry.Names()
}

// HasCommand checks if a command is registered
func (i *Invoker) HasCommand(name string) bool {
	_, exists := i.registry.Get(name)
	return exists
}

// Invoke decodes body as the named command and executes it.
// - For HTTP calls: idempotencyKey = Idempotency-Key header, source = "api"
// - For programmatic calls: idempotencyKey = "" (no dedupe)
func (i *Invoker) Invoke(ctx context.Context, name string, body []byte, idempotencyKey, source string) (*Result, error) {
	if !i.HasCommand(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	req, err := Decode(name, body)
	if err != nil {
		log.Warn().Err(err).Str("command", name).Str("source", source).Msg("Rejected command")
		return nil, err
	}
	return i.Execute(ctx, req, idempotencyKey, source)
}

// Execute runs an already validated request
func (i *Invoker) Execute(ctx context.Context, req Request, idempotencyKey, source string) (*Result, error) {
	name := req.Command()
	handler, exists := i.registry.Get(name)
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}

	invocationID := idempotencyKey
	if invocationID == "" {
		invocationID = uuid.NewString()
	} else if i.ledger != nil {
		// check-then-run must not interleave with another call for the same key
		unlock := i.keys.lock(idempotencyKey)
		defer unlock()
	}

	if idempotencyKey != "" && i.ledger != nil && i.ledger.HasCompleted(idempotencyKey) {
		log.Debug().
			Str("command", name).
			Str("idempotency_key", idempotencyKey).
			Msg("Command already completed, skipping")
		return &Result{Command: name, InvocationID: invocationID, Skipped: true}, nil
	}

	logEvent := log.Debug().Str("command", name).Str("invocation_id", invocationID)
	if source != "" {
		logEvent = logEvent.Str("source", source)
	}
	logEvent.Msg("Executing command")

	res, err := handler.Handle(ctx, req)
	if err != nil {
		i.record(ledger.EventCommandFailed, invocationID, source, name, map[string]any{
			"request": req,
			"error":   err.Error(),
		})
		return nil, fmt.Errorf("command %s failed: %w", name, err)
	}

	if res == nil {
		res = &Result{Command: name}
	}
	res.InvocationID = invocationID
	i.record(ledger.EventCommandCompleted, invocationID, source, name, map[string]any{
		"request": req,
		"result":  res,
	})
	return res, nil
}

func (i *Invoker) record(eventType ledger.EventType, key, source, name string, payload map[string]any) {
	if i.ledger == nil {
		return
	}
	if err := i.ledger.AppendWithSource(eventType, key, source, name, payload); err != nil {
		log.Error().Err(err).Str("command", name).Msg("Failed to record command in ledger")
	}
}
