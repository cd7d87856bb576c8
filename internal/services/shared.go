package services

import (
	"context"
	"errors"

	"moneybook/internal/amqp"
	"moneybook/internal/core"
	"moneybook/internal/log"
	"moneybook/internal/remote"
)

// Counterparty names the other side of a shared entry, either by id or by
// display name. A name that matches nobody creates a new person.
type Counterparty struct {
	ID   string
	Name string
}

// ReconcileResult is the person after reconciliation and the drift that
// was corrected, if any.
type ReconcileResult struct {
	Person core.Person
	Drift  *core.DriftError
}

func (c *Coordinator) resolvePerson(id string) string {
	for {
		if _, err := c.ledger.Person(id); err == nil {
			return id
		}
		next, ok := c.alias(c.pAliases, id)
		if !ok {
			return id
		}
		id = next
	}
}

func (c *Coordinator) resolveEntry(id string) string {
	for {
		if _, err := c.ledger.GetByID(id); err == nil {
			return id
		}
		next, ok := c.alias(c.enAliases, id)
		if !ok {
			return id
		}
		id = next
	}
}

func (c *Coordinator) counterpartyName(who Counterparty) (string, error) {
	if who.ID == "" {
		p := core.Person{DisplayName: who.Name}
		if err := p.Validate(); err != nil {
			return "", err
		}
		return who.Name, nil
	}
	p, err := c.ledger.Person(c.resolvePerson(who.ID))
	if err != nil {
		return "", err
	}
	return p.DisplayName, nil
}

// AddSharedEntry records e against who and moves their balance, then
// confirms the person (if new), the entry and the balance remotely. Any
// remote failure undoes the remote steps already taken and restores the
// local state exactly.
func (c *Coordinator) AddSharedEntry(ctx context.Context, who Counterparty, e core.SharedEntry) (core.SharedEntry, core.Person, error) {
	name, err := c.counterpartyName(who)
	if err != nil {
		return core.SharedEntry{}, core.Person{}, err
	}
	key := personKey(name)

	unlock, err := c.lock(ctx, log.OpAddSharedEntry, key)
	if err != nil {
		return core.SharedEntry{}, core.Person{}, err
	}
	defer unlock()

	var (
		prior   core.Person
		created bool
	)
	if who.ID != "" {
		prior, err = c.ledger.Person(c.resolvePerson(who.ID))
	} else {
		prior, created, err = c.ledger.EnsurePerson(name)
	}
	if err != nil {
		return core.SharedEntry{}, core.Person{}, err
	}

	e.ID = ""
	e.CounterpartyID = prior.ID
	tempID, err := c.ledger.ApplyAndRebalance(e)
	if err != nil {
		if created {
			c.dropPerson(ctx, prior.ID)
		}
		return core.SharedEntry{}, core.Person{}, err
	}
	stored, _ := c.ledger.GetByID(tempID)
	after, _ := c.ledger.Person(prior.ID)
	c.logger.DebugContext(ctx, "Shared entry staged",
		log.NewFields().
			WithOperation(log.OpAddSharedEntry, key).
			WithSharedEntry(prior.ID, stored.Amount.String(), string(stored.Direction)).
			ToSlice()...)
	o := c.begin(ctx, log.OpAddSharedEntry, key, amqp.EntitySharedEntry, tempID)

	rollback := func(cause error) error {
		c.ledger.Revert(tempID, prior)
		if created {
			c.dropPerson(ctx, prior.ID)
		}
		return o.fail(cause)
	}

	personID := prior.ID
	if created {
		rctx, cancel := c.remoteCtx(ctx)
		personID, err = c.store.Insert(rctx, remote.TablePeople, remote.ForInsert(remote.EncodePerson(prior)))
		cancel()
		if err != nil {
			return core.SharedEntry{}, core.Person{}, rollback(wrapStore("insert", remote.TablePeople, err))
		}
	}
	undoPerson := func() {
		if created {
			c.compensate(ctx, "delete new person", func(cctx context.Context) error {
				return c.store.Delete(cctx, remote.TablePeople, personID)
			})
		}
	}

	rec := remote.ForInsert(remote.EncodeSharedEntry(stored))
	rec[remote.FieldCounterpartyID] = personID
	rctx, cancel := c.remoteCtx(ctx)
	entryID, err := c.store.Insert(rctx, remote.TableSharedEntries, rec)
	cancel()
	if err != nil {
		undoPerson()
		return core.SharedEntry{}, core.Person{}, rollback(wrapStore("insert", remote.TableSharedEntries, err))
	}

	rctx, cancel = c.remoteCtx(ctx)
	err = c.store.Update(rctx, remote.TablePeople, personID, remote.BalancePatch(after))
	cancel()
	if err != nil {
		c.compensate(ctx, "delete new entry", func(cctx context.Context) error {
			return c.store.Delete(cctx, remote.TableSharedEntries, entryID)
		})
		undoPerson()
		return core.SharedEntry{}, core.Person{}, rollback(wrapStore("update", remote.TablePeople, err))
	}

	if created {
		if err := c.ledger.RekeyPerson(prior.ID, personID); err != nil {
			return core.SharedEntry{}, core.Person{}, o.fail(err)
		}
		c.recordAlias(c.pAliases, prior.ID, personID)
		c.notify(ctx, Transition{
			Op:     log.OpAddSharedEntry,
			Key:    key,
			Entity: amqp.EntityPerson,
			ID:     personID,
			TempID: prior.ID,
			State:  StateConfirmed,
		})
	}
	if err := c.ledger.RekeyEntry(tempID, entryID); err != nil {
		return core.SharedEntry{}, core.Person{}, o.fail(err)
	}
	c.recordAlias(c.enAliases, tempID, entryID)
	o.confirm(entryID)

	stored.ID = entryID
	stored.CounterpartyID = personID
	after.ID = personID
	return stored, after, nil
}

func (c *Coordinator) dropPerson(ctx context.Context, id string) {
	if err := c.ledger.DropPerson(id); err != nil {
		c.logger.ErrorContext(ctx, "Rollback failed", log.FieldPersonID, id, log.FieldError, err)
	}
}

// DeleteSharedEntry removes an entry and takes its amount back out of the
// counterparty's balance. The balance is pushed before the entry is deleted
// remotely so that a failed delete can be undone with another update.
func (c *Coordinator) DeleteSharedEntry(ctx context.Context, entryID string) (core.Person, error) {
	e, err := c.ledger.GetByID(c.resolveEntry(entryID))
	if err != nil {
		return core.Person{}, err
	}
	p, err := c.ledger.Person(e.CounterpartyID)
	if err != nil {
		return core.Person{}, err
	}
	key := personKey(p.DisplayName)

	unlock, err := c.lock(ctx, log.OpDeleteSharedEntry, key)
	if err != nil {
		return core.Person{}, err
	}
	defer unlock()

	id := c.resolveEntry(entryID)
	snap, err := c.ledger.Snapshot(id)
	if err != nil {
		return core.Person{}, err
	}
	prior, err := c.ledger.Person(snap.Data.CounterpartyID)
	if err != nil {
		return core.Person{}, err
	}
	if err := c.ledger.Remove(id); err != nil {
		return core.Person{}, err
	}
	after, _ := c.ledger.Person(prior.ID)
	o := c.begin(ctx, log.OpDeleteSharedEntry, key, amqp.EntitySharedEntry, id)

	rctx, cancel := c.remoteCtx(ctx)
	err = c.store.Update(rctx, remote.TablePeople, prior.ID, remote.BalancePatch(after))
	cancel()
	if err != nil {
		c.ledger.Restore(snap, prior)
		return core.Person{}, o.fail(wrapStore("update", remote.TablePeople, err))
	}

	rctx, cancel = c.remoteCtx(ctx)
	err = c.store.Delete(rctx, remote.TableSharedEntries, id)
	cancel()
	if err != nil {
		c.compensate(ctx, "restore balance", func(cctx context.Context) error {
			return c.store.Update(cctx, remote.TablePeople, prior.ID, remote.BalancePatch(prior))
		})
		c.ledger.Restore(snap, prior)
		return core.Person{}, o.fail(wrapStore("delete", remote.TableSharedEntries, err))
	}
	o.confirm(id)
	return after, nil
}

// Reconcile recomputes the balance of personID from its entries. When the
// cached value drifted it is corrected locally and pushed to the store. The
// local correction stands even if the push fails, since it is derived from
// the entries; the failure is still returned.
func (c *Coordinator) Reconcile(ctx context.Context, personID string) (ReconcileResult, error) {
	p, err := c.ledger.Person(c.resolvePerson(personID))
	if err != nil {
		return ReconcileResult{}, err
	}
	key := personKey(p.DisplayName)

	unlock, err := c.lock(ctx, log.OpReconcile, key)
	if err != nil {
		return ReconcileResult{}, err
	}
	defer unlock()

	id := c.resolvePerson(p.ID)
	corrected, err := c.ledger.Reconcile(id)
	var drift *core.DriftError
	if err != nil && !errors.As(err, &drift) {
		return ReconcileResult{}, err
	}
	res := ReconcileResult{Person: corrected, Drift: drift}
	if drift == nil {
		return res, nil
	}
	c.metrics.DriftCorrected(1)

	o := c.begin(ctx, log.OpReconcile, key, amqp.EntityPerson, id)
	rctx, cancel := c.remoteCtx(ctx)
	err = c.store.Update(rctx, remote.TablePeople, id, remote.BalancePatch(corrected))
	cancel()
	if err != nil {
		return res, o.fail(wrapStore("update", remote.TablePeople, err))
	}
	o.confirm(id)
	return res, nil
}

// ReconcileAll reconciles every person and joins the failures.
func (c *Coordinator) ReconcileAll(ctx context.Context) ([]ReconcileResult, error) {
	people := c.ledger.People()
	results := make([]ReconcileResult, 0, len(people))
	var errs []error
	for _, p := range people {
		res, err := c.Reconcile(ctx, p.ID)
		if err != nil {
			errs = append(errs, err)
		}
		if res.Person.ID != "" {
			results = append(results, res)
		}
	}
	return results, errors.Join(errs...)
}
