package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spendwise/backend/internal/models"
)

// SpendingService covers expense records and the monthly per-category
// overview. Spendings never touch the balance slots; only earnings drive the
// ledger.
type SpendingService struct {
	db        *sql.DB
	validator *ValidationHelper
}

// SpendingRequest is the payload for creating or editing a spending record.
type SpendingRequest struct {
	Name       string `json:"name" validate:"required" example:"Weekly groceries"`
	CategoryID int64  `json:"category_id" validate:"required" example:"3"`
	Amount     int64  `json:"amount" validate:"required,gt=0" example:"12500"` // Amount in minor currency units
	Date       string `json:"date" validate:"required,datetime=2006-01-02" example:"2023-11-19"`
}

func NewSpendingService(db *sql.DB) *SpendingService {
	return &SpendingService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// ListSpendings returns the caller's spending records
// @Summary List spending records
// @Description Get all spending records of the authenticated user, optionally filtered by month and year
// @Tags spendings
// @Produce json
// @Security BearerAuth
// @Param month query int false "Filter by month (1-12)"
// @Param year query int false "Filter by year"
// @Success 200 {object} object{data=[]models.Spending}
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /spendings [get]
func (s *SpendingService) ListSpendings(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	query := `SELECT id, user_id, category_id, name, amount, date, created_at, updated_at
		FROM spendings WHERE user_id = $1`
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
		log.Printf("[SPENDING] Failed to list spendings for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch spendings", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	spendings := []models.Spending{}
	for rows.Next() {
		var sp models.Spending
		if err := rows.Scan(&sp.ID, &sp.UserID, &sp.CategoryID, &sp.Name, &sp.Amount, &sp.Date, &sp.CreatedAt, &sp.UpdatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch spendings", http.StatusInternalServerError, nil)
			return
		}
		spendings = append(spendings, sp)
	}
	if err := rows.Err(); err != nil {
		SendErrorResponse(w, "Failed to fetch spendings", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"data":    spendings,
		"message": "Get data successfully.",
	})
}

// CreateSpending records a new spending
// @Summary Create spending record
// @Tags spendings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body SpendingRequest true "Spending record"
// @Success 201 {object} object{data=models.Spending,message=string}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /spendings [post]
func (s *SpendingService) CreateSpending(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	req, ok := s.decodeSpendingRequest(w, r)
	if !ok {
		return
	}

	if !s.ownsCategory(userID, req.CategoryID) {
		SendErrorResponse(w, "Unauthorized | Not found", http.StatusNotFound, nil)
		return
	}

	date, _ := time.Parse("2006-01-02", req.Date)

	var spending models.Spending
	err := s.db.QueryRow(`
		INSERT INTO spendings (user_id, category_id, name, amount, date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		userID, req.CategoryID, req.Name, req.Amount, date).
		Scan(&spending.ID, &spending.CreatedAt, &spending.UpdatedAt)
	if err != nil {
		log.Printf("[SPENDING] Failed to create spending for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to create spending", http.StatusInternalServerError, nil)
		return
	}

	spending.UserID = userID
	spending.CategoryID = req.CategoryID
	spending.Name = req.Name
	spending.Amount = req.Amount
	spending.Date = date

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"data":    spending,
		"message": "Created",
	})
}

// UpdateSpending edits a spending record
// @Summary Update spending record
// @Tags spendings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param spendingId path int true "Spending record ID"
// @Param request body SpendingRequest true "Spending record"
// @Success 200 {object} object{data=models.Spending,message=string}
// @Failure 404 {object} ErrorResponse
// @Router /spendings/{spendingId} [patch]
func (s *SpendingService) UpdateSpending(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	spendingID, err := strconv.ParseInt(chi.URLParam(r, "spendingId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid spending ID", http.StatusBadRequest, nil)
		return
	}

	req, ok := s.decodeSpendingRequest(w, r)
	if !ok {
		return
	}

	if !s.ownsCategory(userID, req.CategoryID) {
		SendErrorResponse(w, "Unauthorized | Not found", http.StatusNotFound, nil)
		return
	}

	date, _ := time.Parse("2006-01-02", req.Date)

	var spending models.Spending
	err = s.db.QueryRow(`
		UPDATE spendings
		SET category_id = $1, name = $2, amount = $3, date = $4, updated_at = NOW()
		WHERE id = $5 AND user_id = $6
		RETURNING id, user_id, category_id, name, amount, date, created_at, updated_at`,
		req.CategoryID, req.Name, req.Amount, date, spendingID, userID).
		Scan(&spending.ID, &spending.UserID, &spending.CategoryID, &spending.Name, &spending.Amount, &spending.Date, &spending.CreatedAt, &spending.UpdatedAt)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Unauthorized | Not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[SPENDING] Failed to update spending %d: %v", spendingID, err)
		SendErrorResponse(w, "Failed to update spending", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"data":    spending,
		"message": "Updated",
	})
}

// DeleteSpending removes a spending record
// @Summary Delete spending record
// @Tags spendings
// @Produce json
// @Security BearerAuth
// @Param spendingId path int true "Spending record ID"
// @Success 200 {object} object{message=string}
// @Failure 404 {object} ErrorResponse
// @Router /spendings/{spendingId} [delete]
func (s *SpendingService) DeleteSpending(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	spendingID, err := strconv.ParseInt(chi.URLParam(r, "spendingId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid spending ID", http.StatusBadRequest, nil)
		return
	}

	result, err := s.db.Exec(`DELETE FROM spendings WHERE id = $1 AND user_id = $2`, spendingID, userID)
	if err != nil {
		log.Printf("[SPENDING] Failed to delete spending %d: %v", spendingID, err)
		SendErrorResponse(w, "Failed to delete spending", http.StatusInternalServerError, nil)
		return
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil || rowsAffected == 0 {
		SendErrorResponse(w, "Unauthorized | Not found", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Deleted",
	})
}

// MonthlyOverview returns per-category spending totals against limits
// @Summary Monthly spending overview
// @Description Per-category totals for a month, joined with the configured paying limit (0 when none)
// @Tags spendings
// @Produce json
// @Security BearerAuth
// @Param month query int true "Month (1-12)"
// @Param year query int true "Year"
// @Success 200 {object} object{data=[]models.CategoryOverview}
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /spendings/overview [get]
func (s *SpendingService) MonthlyOverview(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	month, err := strconv.Atoi(r.URL.Query().Get("month"))
	if err != nil || month < 1 || month > 12 {
		SendErrorResponse(w, "month is required (1-12)", http.StatusBadRequest, nil)
		return
	}
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil {
		SendErrorResponse(w, "year is required", http.StatusBadRequest, nil)
		return
	}

	rows, err := s.db.Query(`
		SELECT c.id, c.name, COALESCE(SUM(s.amount), 0) AS spent, COALESCE(pl.limit_amount, 0) AS limit_amount
		FROM categories c
		LEFT JOIN spendings s ON s.category_id = c.id
			AND EXTRACT(MONTH FROM s.date) = $2 AND EXTRACT(YEAR FROM s.date) = $3
		LEFT JOIN paying_limits pl ON pl.category_id = c.id
			AND pl.month = $2 AND pl.year = $3
		WHERE c.user_id = $1
		GROUP BY c.id, c.name, pl.limit_amount
		ORDER BY c.name`, userID, month, year)
	if err != nil {
		log.Printf("[SPENDING] Failed to build overview for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to build overview", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	overview := []models.CategoryOverview{}
	for rows.Next() {
		var row models.CategoryOverview
		if err := rows.Scan(&row.CategoryID, &row.CategoryName, &row.Spent, &row.LimitAmount); err != nil {
			SendErrorResponse(w, "Failed to build overview", http.StatusInternalServerError, nil)
			return
		}
		overview = append(overview, row)
	}
	if err := rows.Err(); err != nil {
		SendErrorResponse(w, "Failed to build overview", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"data": overview,
	})
}

func (s *SpendingService) ownsCategory(userID, categoryID int64) bool {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM categories WHERE id = $1 AND user_id = $2)`,
		categoryID, userID).Scan(&exists)
	return err == nil && exists
}

func (s *SpendingService) decodeSpendingRequest(w http.ResponseWriter, r *http.Request) (*SpendingRequest, bool) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req SpendingRequest
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
