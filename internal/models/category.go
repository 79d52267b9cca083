package models

import "time"

type Category struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PayingLimit is the monthly spending cap for one category. One row per
// (category, month, year), upserted in place.
type PayingLimit struct {
	ID          int64     `json:"id" db:"id"`
	CategoryID  int64     `json:"category_id" db:"category_id"`
	Month       int       `json:"month" db:"month"`
	Year        int       `json:"year" db:"year"`
	LimitAmount int64     `json:"limit" db:"limit_amount"` // minor currency units
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

type Spending struct {
	ID         int64     `json:"id" db:"id"`
	UserID     int64     `json:"user_id" db:"user_id"`
	CategoryID int64     `json:"category_id" db:"category_id"`
	Name       string    `json:"name" db:"name"`
	Amount     int64     `json:"amount" db:"amount"` // minor currency units
	Date       time.Time `json:"date" db:"date"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// CategoryOverview is one row of the monthly spending overview: what was
// spent in a category against its configured limit (0 when none is set).
type CategoryOverview struct {
	CategoryID   int64  `json:"category_id"`
	CategoryName string `json:"category_name"`
	Spent        int64  `json:"spent"`
	LimitAmount  int64  `json:"limit"`
}
