package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"moneybook/internal/core"
	"moneybook/internal/log"
	"moneybook/internal/remote"
)

// HydrateResult summarizes what Hydrate loaded.
type HydrateResult struct {
	Transactions int
	People       int
	Entries      int
	Drifts       []*core.DriftError
	Duration     time.Duration
}

// ErrBalancePush marks a Hydrate error raised after the caches were loaded,
// while pushing reconciled balances back to the store. The local state is
// usable when it is returned.
var ErrBalancePush = errors.New("push reconciled balances")

// Hydrate replaces the local caches with the current user's records from the
// store. The three tables are read in parallel; every record goes through
// the codec, so a malformed record fails the whole load and leaves the
// caches untouched. Cached balances are then reconciled and corrections are
// pushed back.
func (c *Coordinator) Hydrate(ctx context.Context) (HydrateResult, error) {
	start := time.Now()

	res, err := c.load(ctx)
	if err != nil {
		return HydrateResult{}, err
	}

	results, err := c.ReconcileAll(ctx)
	for _, r := range results {
		if r.Drift != nil {
			res.Drifts = append(res.Drifts, r.Drift)
		}
	}
	res.Duration = time.Since(start)

	c.logger.InfoContext(ctx, "Hydrated from remote store",
		log.FieldRecordCount, res.Transactions+res.People+res.Entries,
		"drifts", len(res.Drifts),
		log.FieldDuration, res.Duration.Milliseconds())

	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrBalancePush, err)
	}
	return res, nil
}

// load reads and swaps in the remote snapshot while holding the write side
// of the hydration lock. Writes in flight finish first and new writes wait,
// so no write is confirmed between the reads and the swap.
func (c *Coordinator) load(ctx context.Context) (HydrateResult, error) {
	c.hydrating.Lock()
	defer c.hydrating.Unlock()

	filter := remote.Filter{UserID: c.identity.UserID(), OrderBy: remote.FieldCreatedAt}

	var txRecs, entryRecs, peopleRecs []remote.Record
	g, gctx := errgroup.WithContext(ctx)
	query := func(table string, dst *[]remote.Record) func() error {
		return func() error {
			rctx, cancel := c.remoteCtx(gctx)
			defer cancel()
			recs, err := c.store.Query(rctx, table, filter)
			if err != nil {
				return wrapStore("query", table, err)
			}
			*dst = recs
			return nil
		}
	}
	g.Go(query(remote.TableTransactions, &txRecs))
	g.Go(query(remote.TableSharedEntries, &entryRecs))
	g.Go(query(remote.TablePeople, &peopleRecs))
	if err := g.Wait(); err != nil {
		return HydrateResult{}, &core.SyncFailure{Op: log.OpHydrate, Key: "*", Err: err}
	}

	txs, err := decodeAll(txRecs, remote.DecodeTransaction)
	if err != nil {
		return HydrateResult{}, fmt.Errorf("decode %s: %w", remote.TableTransactions, err)
	}
	people, err := decodeAll(peopleRecs, remote.DecodePerson)
	if err != nil {
		return HydrateResult{}, fmt.Errorf("decode %s: %w", remote.TablePeople, err)
	}
	entries, err := decodeAll(entryRecs, remote.DecodeSharedEntry)
	if err != nil {
		return HydrateResult{}, fmt.Errorf("decode %s: %w", remote.TableSharedEntries, err)
	}

	if err := c.ledger.Load(people, entries); err != nil {
		return HydrateResult{}, fmt.Errorf("load ledger: %w", err)
	}
	if err := c.txs.Load(txs); err != nil {
		return HydrateResult{}, fmt.Errorf("load transactions: %w", err)
	}
	c.aliasMu.Lock()
	clear(c.txAliases)
	clear(c.enAliases)
	clear(c.pAliases)
	c.aliasMu.Unlock()

	return HydrateResult{
		Transactions: len(txs),
		People:       len(people),
		Entries:      len(entries),
	}, nil
}

func decodeAll[T any](recs []remote.Record, decode func(remote.Record) (T, error)) ([]T, error) {
	out := make([]T, 0, len(recs))
	var errs []error
	for _, r := range recs {
		v, err := decode(r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, v)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
