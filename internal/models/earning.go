package models

import (
	"time"
)

// Balance slot names. Exactly two rows exist per user at all times,
// created during registration.
const (
	SlotPrevBalance = "prev_balance"
	SlotCurBalance  = "cur_balance"
)

type EarningRecord struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Name      string    `json:"name" db:"name"`
	Source    string    `json:"source" db:"source"`
	Amount    int64     `json:"amount" db:"amount"` // minor currency units
	Date      time.Time `json:"date" db:"date"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// BalancePair is the response shape for balance reads: both slots at once.
type BalancePair struct {
	PrevBalance int64 `json:"prev_balance"`
	CurBalance  int64 `json:"cur_balance"`
}
