// Package book wires the ledger together: configuration in, a ready Book out.
// Nothing in the module keeps package-level state; everything hangs off Book.
package book

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"moneybook/internal/aggregate"
	"moneybook/internal/amqp"
	"moneybook/internal/backend"
	"moneybook/internal/config"
	"moneybook/internal/core"
	"moneybook/internal/debts"
	"moneybook/internal/log"
	"moneybook/internal/metrics"
	"moneybook/internal/remote"
	"moneybook/internal/services"
	"moneybook/internal/txlog"
)

type (
	Book struct {
		cfg      *config.Config
		logger   *log.Logger
		identity core.IdentityProvider
		now      func() time.Time

		store    remote.Store
		txs      *txlog.Log
		ledger   *debts.Ledger
		coord    *services.Coordinator
		registry *prometheus.Registry
		metrics  *metrics.Sync
		events   *amqp.Client

		cleanup []func() error
	}

	Option func(*options)

	options struct {
		store   remote.Store
		logger  *log.Logger
		now     func() time.Time
		factory backend.Factory
		hook    func(services.Transition)
	}
)

// WithStore uses store instead of building one from the config.
func WithStore(store remote.Store) Option {
	return func(o *options) { o.store = store }
}

func WithLogger(logger *log.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithFactory(f backend.Factory) Option {
	return func(o *options) { o.factory = f }
}

func WithTransitionHook(fn func(services.Transition)) Option {
	return func(o *options) { o.hook = fn }
}

// New builds a Book from cfg. The caches start empty; call Hydrate to load
// the user's records from the store.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Book, error) {
	if cfg == nil {
		return nil, errors.New("book: nil config")
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		lc := log.DefaultConfig()
		lc.Level = log.ParseLevel(cfg.LogLevel)
		lc.Format = cfg.LogFormat
		o.logger = log.New(lc)
	}

	b := &Book{
		cfg:      cfg,
		logger:   o.logger,
		identity: core.StaticIdentity(cfg.UserID),
		now:      o.now,
		registry: metrics.NewRegistry(),
	}
	b.metrics = metrics.NewSync(b.registry)

	b.store = o.store
	if b.store == nil {
		factory := o.factory
		if factory == nil {
			factory = backend.NewFactory(o.logger.Slog())
		}
		bcfg, err := backend.FromAppConfig(cfg)
		if err != nil {
			return nil, err
		}
		res, err := factory.CreateBackend(ctx, bcfg)
		if err != nil {
			return nil, err
		}
		b.store = res.Store
		if res.Cleanup != nil {
			b.cleanup = append(b.cleanup, res.Cleanup)
		}
	}

	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue,
			o.logger.WithComponent(log.ComponentAMQP).Slog())
		if err != nil {
			o.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without sync events", log.FieldError, err)
		} else {
			b.events = client
			b.cleanup = append(b.cleanup, client.Close)
		}
	}

	ledgerLogger := o.logger.WithComponent(log.ComponentLedger).Slog()
	b.txs = txlog.New(b.identity, txlog.WithClock(o.now))
	b.ledger = debts.New(b.identity, debts.WithClock(o.now), debts.WithLogger(ledgerLogger))

	copts := []services.CoordinatorOption{
		services.WithLogger(o.logger.Logger),
		services.WithMetrics(b.metrics),
	}
	if b.events != nil {
		copts = append(copts, services.WithPublisher(b.events))
	}
	if o.hook != nil {
		copts = append(copts, services.WithTransitionHook(o.hook))
	}
	b.coord = services.NewCoordinator(b.store, b.txs, b.ledger, b.identity,
		services.CoordinatorConfig{RemoteTimeout: cfg.RemoteTimeout}, copts...)

	o.logger.DebugContext(ctx, "Book ready",
		log.FieldBackend, cfg.DataBackend,
		log.FieldUserID, cfg.UserID,
		"events", b.events != nil)
	return b, nil
}

// Hydrate loads the user's records from the store into the caches.
func (b *Book) Hydrate(ctx context.Context) (services.HydrateResult, error) {
	return b.coord.Hydrate(ctx)
}

// Open builds a Book and hydrates it. A failure to push reconciled balances
// back to the store is logged and the Book is still returned: its caches
// are loaded and already corrected.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Book, error) {
	b, err := New(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	res, err := b.Hydrate(ctx)
	switch {
	case errors.Is(err, services.ErrBalancePush):
		b.logger.WarnContext(ctx, "Reconciled balances not saved remotely, continuing",
			log.FieldOperation, log.OpHydrate,
			log.FieldError, err)
	case err != nil:
		b.Close()
		return nil, err
	}
	b.logger.DebugContext(ctx, "Hydrated",
		log.FieldOperation, log.OpHydrate,
		"transactions", res.Transactions,
		"people", res.People,
		"entries", res.Entries,
		"drifts", len(res.Drifts),
		log.FieldDuration, res.Duration.Milliseconds())
	return b, nil
}

// Close releases the store and the event publisher.
func (b *Book) Close() error {
	var errs []error
	for i := len(b.cleanup) - 1; i >= 0; i-- {
		if err := b.cleanup[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.cleanup = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close book: %w", err)
	}
	return nil
}

func (b *Book) Config() *config.Config             { return b.cfg }
func (b *Book) Logger() *log.Logger                { return b.logger }
func (b *Book) Coordinator() *services.Coordinator { return b.coord }
func (b *Book) Transactions() *txlog.Log           { return b.txs }
func (b *Book) Ledger() *debts.Ledger              { return b.ledger }
func (b *Book) Registry() *prometheus.Registry     { return b.registry }
func (b *Book) Events() *amqp.Client               { return b.events }
func (b *Book) Now() time.Time                     { return b.now() }
func (b *Book) Identity() core.IdentityProvider    { return b.identity }

// Summary aggregates the transactions that fall in p as of now.
func (b *Book) Summary(p aggregate.Period) aggregate.Summary {
	return aggregate.Summarize(b.txs.List(nil), p, b.now())
}

// Recent returns the n newest transactions.
func (b *Book) Recent(n int) []core.Transaction {
	return aggregate.Recent(b.txs.List(nil), n)
}

// Balance is the net of every transaction ever recorded.
func (b *Book) Balance() decimal.Decimal {
	return aggregate.NetBalance(b.txs.List(nil))
}

// Debts totals the cached balances of every counterparty.
func (b *Book) Debts() aggregate.DebtSummary {
	return aggregate.SummarizeDebts(b.ledger.People())
}
