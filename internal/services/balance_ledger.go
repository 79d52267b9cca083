package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/spendwise/backend/internal/models"
)

// ErrSlotsNotProvisioned means the user has no balance slot rows. The ledger
// never creates slots; registration does. Surfacing this is a provisioning
// defect, not something a retry can fix.
var ErrSlotsNotProvisioned = errors.New("balance slots not provisioned")

// BalanceLedger keeps the two balance slots of a user consistent with
// creations, edits and removals of that user's earning records. The slots are
// the sole source of truth for the balance: the ledger only ever reads the
// current slot values and the single record being mutated, never the full
// earning history.
//
// Every mutation must run inside one SQL transaction together with the
// earning row change itself; the Tx methods below lock both slot rows with
// SELECT ... FOR UPDATE so concurrent mutations for the same user serialize.
type BalanceLedger struct {
	db *sql.DB
}

func NewBalanceLedger(db *sql.DB) *BalanceLedger {
	return &BalanceLedger{db: db}
}

// RecordCreatedTx applies a newly inserted earning record to the slots:
// prev_balance takes the pre-change cur_balance, cur_balance absorbs the new
// amount. Returns the resulting cur_balance.
func (l *BalanceLedger) RecordCreatedTx(tx *sql.Tx, userID, amount int64) (int64, error) {
	return l.shift(tx, userID, amount)
}

// RecordUpdatedTx applies an edit. oldAmount must be the value the record
// held immediately before the edit, read within the same transaction.
func (l *BalanceLedger) RecordUpdatedTx(tx *sql.Tx, userID, oldAmount, newAmount int64) (int64, error) {
	return l.shift(tx, userID, newAmount-oldAmount)
}

// RecordDeletedTx removes a record's contribution. removedAmount must be read
// from the row before it is deleted, within the same transaction.
func (l *BalanceLedger) RecordDeletedTx(tx *sql.Tx, userID, removedAmount int64) (int64, error) {
	return l.shift(tx, userID, -removedAmount)
}

// shift is the single slot-update path: snapshot cur_balance into
// prev_balance, then move cur_balance by delta.
func (l *BalanceLedger) shift(tx *sql.Tx, userID, delta int64) (int64, error) {
	cur, err := l.lockSlots(tx, userID)
	if err != nil {
		return 0, err
	}

	if err := l.writeSlot(tx, userID, models.SlotPrevBalance, cur); err != nil {
		return 0, err
	}

	newCur := cur + delta
	if err := l.writeSlot(tx, userID, models.SlotCurBalance, newCur); err != nil {
		return 0, err
	}

	return newCur, nil
}

// lockSlots takes row locks on both slot rows and returns the current
// cur_balance. Locking both rows, always in the same order, keeps concurrent
// mutations for one user strictly serialized without deadlocking.
func (l *BalanceLedger) lockSlots(tx *sql.Tx, userID int64) (int64, error) {
	rows, err := tx.Query(`
		SELECT name, amount FROM balances
		WHERE user_id = $1 AND name IN ('prev_balance', 'cur_balance')
		ORDER BY name
		FOR UPDATE`, userID)
	if err != nil {
		return 0, fmt.Errorf("lock balance slots: %w", err)
	}
	defer rows.Close()

	var cur int64
	found := 0
	for rows.Next() {
		var name string
		var amount int64
		if err := rows.Scan(&name, &amount); err != nil {
			return 0, fmt.Errorf("scan balance slot: %w", err)
		}
		if name == models.SlotCurBalance {
			cur = amount
		}
		found++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("read balance slots: %w", err)
	}

	if found != 2 {
		return 0, ErrSlotsNotProvisioned
	}

	return cur, nil
}

func (l *BalanceLedger) writeSlot(tx *sql.Tx, userID int64, slot string, amount int64) error {
	result, err := tx.Exec(`
		UPDATE balances SET amount = $1, updated_at = NOW()
		WHERE user_id = $2 AND name = $3`,
		amount, userID, slot)
	if err != nil {
		return fmt.Errorf("write %s: %w", slot, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected != 1 {
		return ErrSlotsNotProvisioned
	}

	return nil
}

// Balances reads both slots without locking, for balance enquiries.
func (l *BalanceLedger) Balances(ctx context.Context, userID int64) (*models.BalancePair, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT name, amount FROM balances
		WHERE user_id = $1 AND name IN ('prev_balance', 'cur_balance')`, userID)
	if err != nil {
		return nil, fmt.Errorf("read balances: %w", err)
	}
	defer rows.Close()

	var pair models.BalancePair
	found := 0
	for rows.Next() {
		var name string
		var amount int64
		if err := rows.Scan(&name, &amount); err != nil {
			return nil, err
		}
		switch name {
		case models.SlotPrevBalance:
			pair.PrevBalance = amount
		case models.SlotCurBalance:
			pair.CurBalance = amount
		}
		found++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if found != 2 {
		return nil, ErrSlotsNotProvisioned
	}

	return &pair, nil
}

// isSerializationFailure reports whether err is a Postgres serialization or
// deadlock failure. Such transactions are safe to retry from scratch.
func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}
