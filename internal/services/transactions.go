package services

import (
	"context"

	"moneybook/internal/amqp"
	"moneybook/internal/core"
	"moneybook/internal/log"
	"moneybook/internal/remote"
)

// AddTransaction appends tx under a temporary id, inserts it remotely and
// swaps in the store's id on success. The confirmed transaction is returned.
func (c *Coordinator) AddTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	tx.ID = core.NewTempID()
	key := txKey(tx.ID)

	unlock, err := c.lock(ctx, log.OpAddTransaction, key)
	if err != nil {
		return core.Transaction{}, err
	}
	defer unlock()

	tempID, err := c.txs.Append(tx)
	if err != nil {
		return core.Transaction{}, err
	}
	stored, err := c.txs.GetByID(tempID)
	if err != nil {
		return core.Transaction{}, err
	}
	c.logger.DebugContext(ctx, "Transaction staged",
		log.NewFields().
			WithOperation(log.OpAddTransaction, key).
			WithTransaction(stored.Amount.String(), stored.Category, string(stored.Kind)).
			ToSlice()...)
	o := c.begin(ctx, log.OpAddTransaction, key, amqp.EntityTransaction, tempID)

	rctx, cancel := c.remoteCtx(ctx)
	id, err := c.store.Insert(rctx, remote.TableTransactions, remote.ForInsert(remote.EncodeTransaction(stored)))
	cancel()
	if err != nil {
		if rerr := c.txs.Remove(tempID); rerr != nil {
			c.logger.ErrorContext(ctx, "Rollback failed", log.FieldTempID, tempID, log.FieldError, rerr)
		}
		return core.Transaction{}, o.fail(wrapStore("insert", remote.TableTransactions, err))
	}

	if err := c.txs.Rekey(tempID, id); err != nil {
		return core.Transaction{}, o.fail(err)
	}
	c.recordAlias(c.txAliases, tempID, id)
	o.confirm(id)

	stored.ID = id
	return stored, nil
}

// lockTransaction takes the lock of id. If id was confirmed under a new id
// while the caller waited, the lock of the new id is taken instead.
func (c *Coordinator) lockTransaction(ctx context.Context, name, id string) (string, func(), error) {
	for {
		unlock, err := c.lock(ctx, name, txKey(id))
		if err != nil {
			return "", nil, err
		}
		if _, err := c.txs.GetByID(id); err == nil {
			return id, unlock, nil
		}
		unlock()
		next, ok := c.alias(c.txAliases, id)
		if !ok {
			return "", nil, &core.NotFoundError{Kind: "transaction", ID: id}
		}
		id = next
	}
}

// EditTransaction replaces the editable fields of id in place and pushes the
// new values. The id and CreatedAt do not change. On failure the previous
// values are put back.
func (c *Coordinator) EditTransaction(ctx context.Context, id string, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	id, unlock, err := c.lockTransaction(ctx, log.OpEditTransaction, id)
	if err != nil {
		return core.Transaction{}, err
	}
	defer unlock()

	prev, err := c.txs.Replace(id, tx)
	if err != nil {
		return core.Transaction{}, err
	}
	cur, err := c.txs.GetByID(id)
	if err != nil {
		return core.Transaction{}, err
	}
	o := c.begin(ctx, log.OpEditTransaction, txKey(id), amqp.EntityTransaction, id)

	rctx, cancel := c.remoteCtx(ctx)
	err = c.store.Update(rctx, remote.TableTransactions, id, remote.ForInsert(remote.EncodeTransaction(cur)))
	cancel()
	if err != nil {
		if _, rerr := c.txs.Replace(id, prev); rerr != nil {
			c.logger.ErrorContext(ctx, "Rollback failed", log.FieldKey, txKey(id), log.FieldError, rerr)
		}
		return core.Transaction{}, o.fail(wrapStore("update", remote.TableTransactions, err))
	}
	o.confirm(id)
	return cur, nil
}

// DeleteTransaction removes id locally and remotely. On failure the
// transaction is restored at its original position.
func (c *Coordinator) DeleteTransaction(ctx context.Context, id string) error {
	id, unlock, err := c.lockTransaction(ctx, log.OpDeleteTransaction, id)
	if err != nil {
		return err
	}
	defer unlock()

	snap, err := c.txs.Snapshot(id)
	if err != nil {
		return err
	}
	if err := c.txs.Remove(id); err != nil {
		return err
	}
	o := c.begin(ctx, log.OpDeleteTransaction, txKey(id), amqp.EntityTransaction, id)

	rctx, cancel := c.remoteCtx(ctx)
	err = c.store.Delete(rctx, remote.TableTransactions, id)
	cancel()
	if err != nil {
		c.txs.Restore(snap)
		return o.fail(wrapStore("delete", remote.TableTransactions, err))
	}
	o.confirm(id)
	return nil
}
