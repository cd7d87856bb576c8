package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"moneybook/internal/amqp"
	"moneybook/internal/core"
	"moneybook/internal/debts"
	"moneybook/internal/log"
	"moneybook/internal/metrics"
	"moneybook/internal/remote"
	"moneybook/internal/txlog"
)

// State of a logical write.
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
)

type (
	// CoordinatorConfig holds the knobs of the sync coordinator.
	CoordinatorConfig struct {
		// RemoteTimeout bounds each remote call (default: 10s)
		RemoteTimeout time.Duration
	}

	// Transition describes one state change of a logical write.
	Transition struct {
		Op     string
		Key    string
		Entity string
		ID     string
		TempID string
		State  State
		Err    error
	}

	// EventPublisher receives a SyncEvent for every confirmed or failed write.
	EventPublisher interface {
		PublishSyncEvent(ctx context.Context, ev *amqp.SyncEvent) error
	}

	CoordinatorOption func(*Coordinator)
)

// DefaultCoordinatorConfig returns sensible defaults
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{RemoteTimeout: 10 * time.Second}
}

// Coordinator applies writes to the local caches first and then confirms
// them against the remote store. A write that the store rejects, that times
// out or whose caller cancels is rolled back and reported as a
// *core.SyncFailure. Nothing is retried.
type Coordinator struct {
	store    remote.Store
	txs      *txlog.Log
	ledger   *debts.Ledger
	identity core.IdentityProvider
	config   CoordinatorConfig

	logger       *slog.Logger
	metrics      *metrics.Sync
	publisher    EventPublisher
	onTransition func(Transition)

	keys *keyLocks
	// hydrating is held exclusively while the remote snapshot is read and the
	// caches are replaced.
	hydrating sync.RWMutex

	aliasMu   sync.Mutex
	txAliases map[string]string
	enAliases map[string]string
	pAliases  map[string]string
}

func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = logger }
}

func WithMetrics(m *metrics.Sync) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

func WithPublisher(p EventPublisher) CoordinatorOption {
	return func(c *Coordinator) { c.publisher = p }
}

// WithTransitionHook registers fn to observe every Pending, Confirmed and
// Failed transition. fn runs synchronously on the writing goroutine.
func WithTransitionHook(fn func(Transition)) CoordinatorOption {
	return func(c *Coordinator) { c.onTransition = fn }
}

func NewCoordinator(
	store remote.Store,
	txs *txlog.Log,
	ledger *debts.Ledger,
	identity core.IdentityProvider,
	config CoordinatorConfig,
	opts ...CoordinatorOption,
) *Coordinator {
	if config.RemoteTimeout <= 0 {
		config.RemoteTimeout = DefaultCoordinatorConfig().RemoteTimeout
	}
	c := &Coordinator{
		store:     store,
		txs:       txs,
		ledger:    ledger,
		identity:  identity,
		config:    config,
		logger:    slog.Default(),
		keys:      newKeyLocks(),
		txAliases: make(map[string]string),
		enAliases: make(map[string]string),
		pAliases:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(log.FieldComponent, log.ComponentCoordinator)
	return c
}

func (c *Coordinator) Transactions() *txlog.Log { return c.txs }

func (c *Coordinator) Ledger() *debts.Ledger { return c.ledger }

// remoteCtx derives the context for a single remote call.
func (c *Coordinator) remoteCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.config.RemoteTimeout)
}

// compensationCtx outlives a cancelled caller so that remote steps which
// already succeeded can still be undone.
func (c *Coordinator) compensationCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.config.RemoteTimeout)
}

// op tracks one logical write from Pending to its final state.
type op struct {
	c      *Coordinator
	ctx    context.Context
	name   string
	key    string
	entity string
	tempID string
	start  time.Time
	settle func(string)
}

func (c *Coordinator) begin(ctx context.Context, name, key, entity, id string) *op {
	o := &op{
		c:      c,
		ctx:    ctx,
		name:   name,
		key:    key,
		entity: entity,
		tempID: id,
		start:  time.Now(),
		settle: c.metrics.Begin(name),
	}
	c.notify(ctx, Transition{Op: name, Key: key, Entity: entity, ID: id, State: StatePending})
	return o
}

func (o *op) confirm(id string) {
	o.settle(string(StateConfirmed))
	t := Transition{Op: o.name, Key: o.key, Entity: o.entity, ID: id, State: StateConfirmed}
	if id != o.tempID {
		t.TempID = o.tempID
	}
	o.c.notify(o.ctx, t)
}

// fail records the failure and returns it as a *core.SyncFailure.
func (o *op) fail(err error) error {
	o.settle(string(StateFailed))
	o.c.notify(o.ctx, Transition{Op: o.name, Key: o.key, Entity: o.entity, ID: o.tempID, State: StateFailed, Err: err})
	return &core.SyncFailure{Op: o.name, Key: o.key, Err: err}
}

func (c *Coordinator) notify(ctx context.Context, t Transition) {
	fields := log.NewFields().WithOperation(t.Op, t.Key)
	fields[log.FieldState] = string(t.State)
	if t.TempID != "" {
		fields.WithRemap(t.TempID, t.ID)
	}
	switch t.State {
	case StateFailed:
		fields.WithError(t.Err)[log.FieldErrorType] = errorType(t.Err)
		c.logger.WarnContext(ctx, "Write rolled back", fields.ToSlice()...)
	case StateConfirmed:
		c.logger.InfoContext(ctx, "Write confirmed", fields.ToSlice()...)
	default:
		c.logger.DebugContext(ctx, "Write applied locally", fields.ToSlice()...)
	}

	if c.onTransition != nil {
		c.onTransition(t)
	}
	if c.publisher == nil || t.State == StatePending {
		return
	}
	ev := amqp.NewSyncEvent(t.Op, t.Entity, t.ID, string(t.State))
	ev.TempID = t.TempID
	if t.Err != nil {
		ev.Error = t.Err.Error()
	}
	// The caller's context may be the reason the write failed.
	pubCtx, cancel := c.compensationCtx(ctx)
	defer cancel()
	if err := c.publisher.PublishSyncEvent(pubCtx, ev); err != nil {
		c.logger.WarnContext(ctx, "Failed to publish sync event",
			log.FieldOperation, t.Op,
			log.FieldError, err)
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return log.ErrorTypeTimeout
	case errors.Is(err, context.Canceled):
		return log.ErrorTypeCancelled
	case errors.Is(err, remote.ErrNotFound), errors.Is(err, core.ErrNotFound):
		return log.ErrorTypeNotFound
	case errors.Is(err, core.ErrValidation):
		return log.ErrorTypeValidation
	case errors.Is(err, core.ErrDrift):
		return log.ErrorTypeDrift
	default:
		return log.ErrorTypeNetwork
	}
}

// lock takes the per-key lock and the shared side of the hydration lock.
// Waiting is abandoned with a *core.SyncFailure when ctx ends.
func (c *Coordinator) lock(ctx context.Context, name, key string) (func(), error) {
	release, err := c.keys.acquire(ctx, key)
	if err != nil {
		return nil, &core.SyncFailure{Op: name, Key: key, Err: err}
	}
	c.hydrating.RLock()
	return func() {
		c.hydrating.RUnlock()
		release()
	}, nil
}

func (c *Coordinator) recordAlias(m map[string]string, tempID, id string) {
	c.aliasMu.Lock()
	m[tempID] = id
	c.aliasMu.Unlock()
}

func (c *Coordinator) alias(m map[string]string, id string) (string, bool) {
	c.aliasMu.Lock()
	defer c.aliasMu.Unlock()
	next, ok := m[id]
	return next, ok
}

// compensate runs undo steps for remote writes that already succeeded.
// Failures are logged; the local rollback happens regardless.
func (c *Coordinator) compensate(ctx context.Context, what string, fn func(context.Context) error) {
	cctx, cancel := c.compensationCtx(ctx)
	defer cancel()
	if err := fn(cctx); err != nil {
		c.logger.ErrorContext(ctx, "Remote compensation failed, store may need reconciliation",
			log.FieldOperation, what,
			log.FieldError, err)
	}
}

func wrapStore(verb, table string, err error) error {
	return fmt.Errorf("%s %s: %w", verb, table, err)
}
