// Package txn implements the per-row transaction that coordinates a
// segment's column-group stores with its indexes (spec §4.4, "Cyclic
// ownership" / "Transaction model"). A Transaction is bound to exactly one
// writable segment and one row id for its entire life: there is no
// cross-segment transaction (see DESIGN.md, Open Question 1). It tracks a
// compensating-action stack so Rollback can undo whatever partial work a
// failed multi-index operation already did, the same guard-object pattern
// the teacher uses for atomic.Bool-guarded single-shot Close methods,
// generalized here to an undo list instead of a single flag.
package txn

import (
	"context"

	"github.com/iamNilotpal/ignite/internal/index"
	"github.com/iamNilotpal/ignite/internal/segment"
	ierrors "github.com/iamNilotpal/ignite/pkg/errors"
)

// State is the transaction's lifecycle position.
type State int

const (
	StateStarted State = iota
	StateCommitted
	StateRolledBack
)

// IndexWrite names one index mutation a Transaction should apply or
// reverse as part of a row operation.
type IndexWrite struct {
	Index index.WritableIndex
	Key   []byte
}

// Transaction coordinates one row's store and index writes within a
// single writable segment so that a failure partway through leaves the
// segment and its indexes consistent with each other.
type Transaction struct {
	seg   *segment.Segment
	recID int64
	state State
	undo  []func()
}

// Begin starts a transaction against an already-existing row id recID in
// seg. For a brand-new row pass -1: an insert does not have a recID until
// the underlying store assigns one, and InsertRow records it then.
func Begin(seg *segment.Segment, recID int64) *Transaction {
	return &Transaction{seg: seg, recID: recID, state: StateStarted}
}

// State returns the transaction's current lifecycle state.
func (tx *Transaction) State() State { return tx.state }

// RecID returns the row id this transaction is bound to. For an insert
// transaction this is only valid after InsertRow succeeds.
func (tx *Transaction) RecID() int64 { return tx.recID }

func (tx *Transaction) requireStarted() error {
	if tx.state != StateStarted {
		return ierrors.Wrap(ierrors.ErrInvariant, "txn: operation on a transaction that is not active")
	}
	return nil
}

// InsertRow appends a brand-new row to the segment and registers it under
// every index write. On failure, every index write already applied is
// reversed and the transaction rolls back.
func (tx *Transaction) InsertRow(values map[string][]byte, writes []IndexWrite) (int64, error) {
	if err := tx.requireStarted(); err != nil {
		return 0, err
	}

	id, err := tx.seg.Append(values)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	tx.recID = id
	tx.undo = append(tx.undo, func() { tx.seg.Remove(id) })

	for _, w := range writes {
		if err := w.Index.Insert(w.Key, id); err != nil {
			tx.Rollback()
			return 0, err
		}
		key, idx := w.Key, w.Index
		tx.undo = append(tx.undo, func() { idx.Remove(key, id) })
	}

	return id, nil
}

// UpdateRow rewrites the row's column-group values and swaps its index
// registration from oldWrites to newWrites (e.g. a unique index whose key
// column changed value).
func (tx *Transaction) UpdateRow(values map[string][]byte, oldWrites, newWrites []IndexWrite) error {
	if err := tx.requireStarted(); err != nil {
		return err
	}

	prevValues, err := tx.snapshot(values)
	if err != nil {
		return err
	}

	if err := tx.seg.Update(tx.recID, values); err != nil {
		tx.Rollback()
		return err
	}
	id := tx.recID
	tx.undo = append(tx.undo, func() { tx.seg.Update(id, prevValues) })

	for _, w := range oldWrites {
		if err := w.Index.Remove(w.Key, id); err != nil {
			tx.Rollback()
			return err
		}
		key, idx := w.Key, w.Index
		tx.undo = append(tx.undo, func() { idx.Insert(key, id) })
	}
	for _, w := range newWrites {
		if err := w.Index.Insert(w.Key, id); err != nil {
			tx.Rollback()
			return err
		}
		key, idx := w.Key, w.Index
		tx.undo = append(tx.undo, func() { idx.Remove(key, id) })
	}

	return nil
}

// snapshot reads the current bytes for every column group about to be
// overwritten, so UpdateRow can restore them on rollback.
func (tx *Transaction) snapshot(values map[string][]byte) (map[string][]byte, error) {
	prev := make(map[string][]byte, len(values))
	for name := range values {
		v, err := tx.seg.GetValue(context.Background(), name, tx.recID)
		if err != nil && ierrors.Of(err) != ierrors.KindDeletedRow {
			return nil, err
		}
		prev[name] = v
	}
	return prev, nil
}

// RemoveRow tombstones the row and removes it from every index write.
func (tx *Transaction) RemoveRow(writes []IndexWrite) error {
	if err := tx.requireStarted(); err != nil {
		return err
	}

	id := tx.recID
	if err := tx.seg.Remove(id); err != nil {
		tx.Rollback()
		return err
	}
	tx.undo = append(tx.undo, func() { tx.seg.UndoRemove(id) })

	for _, w := range writes {
		if err := w.Index.Remove(w.Key, id); err != nil {
			tx.Rollback()
			return err
		}
		key, idx := w.Key, w.Index
		tx.undo = append(tx.undo, func() { idx.Insert(key, id) })
	}

	return nil
}

// Commit finalizes the transaction; its compensating actions are
// discarded and Rollback becomes a no-op.
func (tx *Transaction) Commit() error {
	if err := tx.requireStarted(); err != nil {
		return err
	}
	tx.state = StateCommitted
	tx.undo = nil
	return nil
}

// Rollback reverses every compensating action recorded so far, in LIFO
// order. It is safe to call more than once and safe to call after Commit
// (it is then a no-op), which is what lets callers defer it unconditionally
// as a guard.
func (tx *Transaction) Rollback() {
	if tx.state != StateStarted {
		return
	}
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	tx.state = StateRolledBack
}

