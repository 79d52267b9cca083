package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Earning event types.
const (
	EarningCreated = "earning.created"
	EarningUpdated = "earning.updated"
	EarningDeleted = "earning.deleted"
)

// EarningEvent is emitted after an earning mutation commits. It is a
// notification feed for downstream consumers, not an audit log: delivery is
// best-effort and the system never reads events back.
type EarningEvent struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	UserID     int64     `json:"user_id"`
	EarningID  int64     `json:"earning_id"`
	Amount     int64     `json:"amount"`
	CurBalance int64     `json:"cur_balance"`
	OccurredAt time.Time `json:"occurred_at"`
}

func NewEarningEvent(eventType string, userID, earningID, amount, curBalance int64) EarningEvent {
	return EarningEvent{
		EventID:    uuid.NewString(),
		Type:       eventType,
		UserID:     userID,
		EarningID:  earningID,
		Amount:     amount,
		CurBalance: curBalance,
		OccurredAt: time.Now(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, event any) error
	Close() error
}
