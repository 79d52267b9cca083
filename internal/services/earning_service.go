package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spendwise/backend/internal/events"
	"github.com/spendwise/backend/internal/models"
)

// maxMutationRetries bounds how often a mutation transaction is retried after
// a serialization conflict before the request fails with 409.
const maxMutationRetries = 3

var errEarningNotFound = errors.New("earning record not found")

type EarningService struct {
	db        *sql.DB
	ledger    *BalanceLedger
	publisher events.Publisher
	validator *ValidationHelper
}

// EarningRequest is the payload for creating or editing an earning record.
// @Description Earning record payload
type EarningRequest struct {
	Name   string `json:"name" validate:"required" example:"November salary"` // Record name
	Source string `json:"source" validate:"required" example:"Acme Corp"`     // Income source
	Amount int64  `json:"amount" validate:"required" example:"250000"`        // Amount in minor currency units
	Date   string `json:"date" validate:"required,datetime=2006-01-02" example:"2023-11-19"`
}

func NewEarningService(db *sql.DB, publisher events.Publisher) *EarningService {
	return &EarningService{
		db:        db,
		ledger:    NewBalanceLedger(db),
		publisher: publisher,
		validator: NewValidationHelper(),
	}
}

// ListEarnings returns the caller's earning records
// @Summary List earning records
// @Description Get all earning records of the authenticated user, optionally filtered by month and year
// @Tags earnings
// @Produce json
// @Security BearerAuth
// @Param month query int false "Filter by month (1-12)"
// @Param year query int false "Filter by year"
// @Success 200 {object} object{data=[]models.EarningRecord,message=string}
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /earning-money [get]
func (s *EarningService) ListEarnings(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	query := `SELECT id, user_id, name, source, amount, date, created_at, updated_at
		FROM earnings WHERE user_id = $1`
	args := []any{userID}

	if month := r.URL.Query().Get("month"); month != "" {
		if m, err := strconv.Atoi(month); err == nil {
			args = append(args, m)
			query += fmt.Sprintf(" AND EXTRACT(MONTH FROM date) = $%d", len(args))
		}
	}
	if year := r.URL.Query().Get("year"); year != "" {
		if y, err := strconv.Atoi(year); err == nil {
			args = append(args, y)
			query += fmt.Sprintf(" AND EXTRACT(YEAR FROM date) = $%d", len(args))
		}
	}
	query += " ORDER BY date DESC, id DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		log.Printf("[EARNING] Failed to list earnings for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch earnings", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	earnings := []models.EarningRecord{}
	for rows.Next() {
		var e models.EarningRecord
		if err := rows.Scan(&e.ID, &e.UserID, &e.Name, &e.Source, &e.Amount, &e.Date, &e.CreatedAt, &e.UpdatedAt); err != nil {
			log.Printf("[EARNING] Failed to scan earning row: %v", err)
			SendErrorResponse(w, "Failed to fetch earnings", http.StatusInternalServerError, nil)
			return
		}
		earnings = append(earnings, e)
	}
	if err := rows.Err(); err != nil {
		SendErrorResponse(w, "Failed to fetch earnings", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"data":    earnings,
		"message": "Get data successfully.",
	})
}

// CreateEarning records a new earning and applies it to the balance slots
// @Summary Create earning record
// @Description Create an earning record; the running balance is updated in the same transaction
// @Tags earnings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body EarningRequest true "Earning record"
// @Success 201 {object} object{data=models.EarningRecord,message=string}
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /earning-money [post]
func (s *EarningService) CreateEarning(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	req, ok := s.decodeEarningRequest(w, r)
	if !ok {
		return
	}

	date, _ := time.Parse("2006-01-02", req.Date)

	var earning models.EarningRecord
	var newBalance int64
	err := s.withMutationTx(r.Context(), func(tx *sql.Tx) error {
		err := tx.QueryRow(`
			INSERT INTO earnings (user_id, name, source, amount, date)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at, updated_at`,
			userID, req.Name, req.Source, req.Amount, date).
			Scan(&earning.ID, &earning.CreatedAt, &earning.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert earning: %w", err)
		}

		newBalance, err = s.ledger.RecordCreatedTx(tx, userID, req.Amount)
		return err
	})
	if err != nil {
		s.sendMutationError(w, userID, "create", err)
		return
	}

	earning.UserID = userID
	earning.Name = req.Name
	earning.Source = req.Source
	earning.Amount = req.Amount
	earning.Date = date

	s.publish(events.EarningCreated, userID, earning.ID, req.Amount, newBalance)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"data":    earning,
		"message": "Created",
	})
}

// UpdateEarning edits an earning record and shifts the balance by the amount difference
// @Summary Update earning record
// @Description Update an earning record; the prior amount is read and the balance shifted in the same transaction
// @Tags earnings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param earningId path int true "Earning record ID"
// @Param request body EarningRequest true "Earning record"
// @Success 200 {object} object{data=models.EarningRecord,message=string}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /earning-money/{earningId} [patch]
func (s *EarningService) UpdateEarning(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	earningID, err := strconv.ParseInt(chi.URLParam(r, "earningId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid earning ID", http.StatusBadRequest, nil)
		return
	}

	req, ok := s.decodeEarningRequest(w, r)
	if !ok {
		return
	}

	date, _ := time.Parse("2006-01-02", req.Date)

	var earning models.EarningRecord
	var newBalance int64
	err = s.withMutationTx(r.Context(), func(tx *sql.Tx) error {
		// Lock the record row and read the amount it held before the edit;
		// the ledger shift is defined relative to exactly this value.
		var oldAmount int64
		err := tx.QueryRow(`
			SELECT amount FROM earnings
			WHERE id = $1 AND user_id = $2
			FOR UPDATE`, earningID, userID).Scan(&oldAmount)
		if err == sql.ErrNoRows {
			return errEarningNotFound
		}
		if err != nil {
			return fmt.Errorf("read prior amount: %w", err)
		}

		err = tx.QueryRow(`
			UPDATE earnings
			SET name = $1, source = $2, amount = $3, date = $4, updated_at = NOW()
			WHERE id = $5 AND user_id = $6
			RETURNING created_at, updated_at`,
			req.Name, req.Source, req.Amount, date, earningID, userID).
			Scan(&earning.CreatedAt, &earning.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update earning: %w", err)
		}

		newBalance, err = s.ledger.RecordUpdatedTx(tx, userID, oldAmount, req.Amount)
		return err
	})
	if err != nil {
		s.sendMutationError(w, userID, "update", err)
		return
	}

	earning.ID = earningID
	earning.UserID = userID
	earning.Name = req.Name
	earning.Source = req.Source
	earning.Amount = req.Amount
	earning.Date = date

	s.publish(events.EarningUpdated, userID, earningID, req.Amount, newBalance)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"data":    earning,
		"message": "Updated",
	})
}

// DeleteEarning removes an earning record and its balance contribution
// @Summary Delete earning record
// @Description Delete an earning record; its amount is removed from the balance in the same transaction
// @Tags earnings
// @Produce json
// @Security BearerAuth
// @Param earningId path int true "Earning record ID"
// @Success 200 {object} object{message=string}
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /earning-money/{earningId} [delete]
func (s *EarningService) DeleteEarning(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	earningID, err := strconv.ParseInt(chi.URLParam(r, "earningId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid earning ID", http.StatusBadRequest, nil)
		return
	}

	var removedAmount, newBalance int64
	err = s.withMutationTx(r.Context(), func(tx *sql.Tx) error {
		err := tx.QueryRow(`
			SELECT amount FROM earnings
			WHERE id = $1 AND user_id = $2
			FOR UPDATE`, earningID, userID).Scan(&removedAmount)
		if err == sql.ErrNoRows {
			return errEarningNotFound
		}
		if err != nil {
			return fmt.Errorf("read amount before delete: %w", err)
		}

		newBalance, err = s.ledger.RecordDeletedTx(tx, userID, removedAmount)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(`DELETE FROM earnings WHERE id = $1 AND user_id = $2`, earningID, userID); err != nil {
			return fmt.Errorf("delete earning: %w", err)
		}
		return nil
	})
	if err != nil {
		s.sendMutationError(w, userID, "delete", err)
		return
	}

	s.publish(events.EarningDeleted, userID, earningID, removedAmount, newBalance)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Deleted",
	})
}

// GetBalances returns both balance slots for the caller
// @Summary Get running balance
// @Description Get the previous and current balance slots of the authenticated user
// @Tags earnings
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{data=models.BalancePair}
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /balances [get]
func (s *EarningService) GetBalances(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	pair, err := s.ledger.Balances(r.Context(), userID)
	if err != nil {
		log.Printf("[EARNING] Failed to read balances for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch balances", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"data": pair,
	})
}

// withMutationTx runs fn inside a transaction, retrying the whole transaction
// from scratch on serialization conflicts. The earning row change and the
// slot writes commit or roll back as one unit.
func (s *EarningService) withMutationTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxMutationRetries; attempt++ {
		err = s.runMutationTx(ctx, fn)
		if err == nil || !isSerializationFailure(err) {
			return err
		}
		log.Printf("[LEDGER] Serialization conflict, retrying transaction (%d/%d): %v", attempt, maxMutationRetries, err)
	}
	return err
}

func (s *EarningService) runMutationTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *EarningService) decodeEarningRequest(w http.ResponseWriter, r *http.Request) (*EarningRequest, bool) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req EarningRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return nil, false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return nil, false
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return nil, false
	}

	return &req, true
}

func (s *EarningService) sendMutationError(w http.ResponseWriter, userID int64, op string, err error) {
	switch {
	case errors.Is(err, errEarningNotFound):
		SendErrorResponse(w, "Unauthorized | Not found", http.StatusNotFound, nil)
	case errors.Is(err, ErrSlotsNotProvisioned):
		log.Printf("[LEDGER] Balance slots missing for user %d during %s", userID, op)
		SendErrorResponse(w, "Account balance not provisioned", http.StatusInternalServerError, nil)
	case isSerializationFailure(err):
		log.Printf("[LEDGER] Giving up %s for user %d after %d attempts: %v", op, userID, maxMutationRetries, err)
		SendErrorResponse(w, "Conflicting concurrent update, please retry", http.StatusConflict, nil)
	default:
		log.Printf("[EARNING] Failed to %s earning for user %d: %v", op, userID, err)
		SendErrorResponse(w, "Failed to process earning record", http.StatusInternalServerError, nil)
	}
}

func (s *EarningService) publish(eventType string, userID, earningID, amount, curBalance int64) {
	if s.publisher == nil {
		return
	}

	event := events.NewEarningEvent(eventType, userID, earningID, amount, curBalance)
	go func() {
		if err := s.publisher.Publish(context.Background(), event); err != nil {
			log.Printf("[EVENTS] Failed to publish %s event for user %d: %v", eventType, userID, err)
		}
	}()
}

// userIDFromContext extracts the authenticated user's ID that the auth
// middleware stored in the request context.
func userIDFromContext(r *http.Request) (int64, bool) {
	raw, ok := r.Context().Value("userID").(string)
	if !ok || raw == "" {
		return 0, false
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return userID, true
}
