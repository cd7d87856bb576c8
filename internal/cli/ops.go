package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/google/subcommands"

	"moneybook/internal/amqp"
	"moneybook/internal/book"
	"moneybook/internal/log"
	"moneybook/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

type serveMetricsCmd struct {
	addr string
}

func (*serveMetricsCmd) Name() string     { return "serve-metrics" }
func (*serveMetricsCmd) Synopsis() string { return "expose sync metrics over HTTP until interrupted" }
func (*serveMetricsCmd) Usage() string {
	return `moneybook serve-metrics [-addr <host:port>]

  Serves /metrics for Prometheus. The address defaults to METRICS_ADDR.
`
}

func (c *serveMetricsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.addr, "addr", "", "Listen address (overrides METRICS_ADDR).")
}

func (c *serveMetricsCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return run(ctx, args, func(env *Env, b *book.Book) error {
		addr := c.addr
		if addr == "" {
			addr = b.Config().MetricsAddr
		}
		logger := b.Logger().WithComponent(log.ComponentMetrics)

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(b.Registry()))
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		shutdownCtx, done := GracefulShutdown(logger.Slog(), shutdownTimeout, func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.ErrorContext(ctx, "Metrics server shutdown failed", log.FieldError, err)
			}
		})

		logger.InfoContext(ctx, "Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		WaitForShutdown(shutdownCtx, done)
		return nil
	})
}

type eventsCmd struct{}

func (*eventsCmd) Name() string     { return "events" }
func (*eventsCmd) Synopsis() string { return "print sync events published by other moneybook processes" }
func (*eventsCmd) Usage() string {
	return `moneybook events

  Follows the AMQP exchange configured by AMQP_URL and prints one line per
  confirmed or failed write until interrupted.
`
}
func (*eventsCmd) SetFlags(f *flag.FlagSet) {}

func (*eventsCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return run(ctx, args, func(env *Env, b *book.Book) error {
		client := b.Events()
		if client == nil {
			return errors.New("events: AMQP_URL is not configured")
		}
		logger := b.Logger().WithComponent(log.ComponentAMQP)
		consumeCtx, done := GracefulShutdown(logger.Slog(), shutdownTimeout, nil)

		err := client.ConsumeSyncEvents(consumeCtx, func(ev *amqp.SyncEvent) error {
			_, err := fmt.Fprintln(env.Out, ev.String())
			return err
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		WaitForShutdown(consumeCtx, done)
		return nil
	})
}
