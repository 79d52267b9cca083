package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/spendwise/backend/internal/models"
)

type CategoryService struct {
	db        *sql.DB
	validator *ValidationHelper
}

// CategoryRequest is the payload for creating or renaming a category.
type CategoryRequest struct {
	Name string `json:"name" validate:"required" example:"Groceries"` // Category name
}

// PayingLimitRequest is the payload for setting a category's monthly limit.
// @Description Monthly paying limit payload
type PayingLimitRequest struct {
	Limit int64 `json:"limit" validate:"required,gt=0" example:"50000"` // Limit in minor currency units
	Month int   `json:"month" validate:"required,min=1,max=12" example:"11"`
	Year  int   `json:"year" validate:"required,min=2000" example:"2023"`
}

func NewCategoryService(db *sql.DB) *CategoryService {
	return &CategoryService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// ListCategories returns the caller's categories
// @Summary List categories
// @Description Get all categories of the authenticated user
// @Tags categories
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{data=[]models.Category}
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /categories [get]
func (s *CategoryService) ListCategories(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := s.db.Query(`
		SELECT id, user_id, name, created_at, updated_at
		FROM categories WHERE user_id = $1 ORDER BY name`, userID)
	if err != nil {
		log.Printf("[CATEGORY] Failed to list categories for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch categories", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	categories := []models.Category{}
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.CreatedAt, &c.UpdatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch categories", http.StatusInternalServerError, nil)
			return
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		SendErrorResponse(w, "Failed to fetch categories", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"data": categories,
	})
}

// CreateCategory creates a category
// @Summary Create category
// @Tags categories
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CategoryRequest true "Category"
// @Success 201 {object} object{data=models.Category,message=string}
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /categories [post]
func (s *CategoryService) CreateCategory(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	req, ok := s.decodeCategoryRequest(w, r)
	if !ok {
		return
	}

	var category models.Category
	err := s.db.QueryRow(`
		INSERT INTO categories (user_id, name)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at`,
		userID, req.Name).Scan(&category.ID, &category.CreatedAt, &category.UpdatedAt)
	if err != nil {
		log.Printf("[CATEGORY] Failed to create category for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to create category", http.StatusInternalServerError, nil)
		return
	}

	category.UserID = userID
	category.Name = req.Name

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"data":    category,
		"message": "Created",
	})
}

// GetCategory returns one category
// @Summary Get category
// @Tags categories
// @Produce json
// @Security BearerAuth
// @Param categoryId path int true "Category ID"
// @Success 200 {object} object{data=models.Category}
// @Failure 404 {object} ErrorResponse
// @Router /categories/{categoryId} [get]
func (s *CategoryService) GetCategory(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	categoryID, err := strconv.ParseInt(chi.URLParam(r, "categoryId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid category ID", http.StatusBadRequest, nil)
		return
	}

	var category models.Category
	err = s.db.QueryRow(`
		SELECT id, user_id, name, created_at, updated_at
		FROM categories WHERE id = $1 AND user_id = $2`,
		categoryID, userID).
		Scan(&category.ID, &category.UserID, &category.Name, &category.CreatedAt, &category.UpdatedAt)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Unauthorized | Not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch category", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"data": category,
	})
}

// UpdateCategory renames a category
// @Summary Update category
// @Tags categories
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param categoryId path int true "Category ID"
// @Param request body CategoryRequest true "Category"
// @Success 200 {object} object{data=models.Category,message=string}
// @Failure 404 {object} ErrorResponse
// @Router /categories/{categoryId} [put]
func (s *CategoryService) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	categoryID, err := strconv.ParseInt(chi.URLParam(r, "categoryId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid category ID", http.StatusBadRequest, nil)
		return
	}

	req, ok := s.decodeCategoryRequest(w, r)
	if !ok {
		return
	}

	var category models.Category
	err = s.db.QueryRow(`
		UPDATE categories SET name = $1, updated_at = NOW()
		WHERE id = $2 AND user_id = $3
		RETURNING id, user_id, name, created_at, updated_at`,
		req.Name, categoryID, userID).
		Scan(&category.ID, &category.UserID, &category.Name, &category.CreatedAt, &category.UpdatedAt)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Unauthorized | Not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[CATEGORY] Failed to update category %d: %v", categoryID, err)
		SendErrorResponse(w, "Failed to update category", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"data":    category,
		"message": "Updated",
	})
}

// UpsertPayingLimit sets the monthly spending limit for a category
// @Summary Set monthly paying limit
// @Description Create or replace the paying limit of a category for a given month and year
// @Tags categories
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param categoryId path int true "Category ID"
// @Param request body PayingLimitRequest true "Paying limit"
// @Success 200 {object} object{data=models.PayingLimit,message=string}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /categories/{categoryId}/paying-limit [put]
func (s *CategoryService) UpsertPayingLimit(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	categoryID, err := strconv.ParseInt(chi.URLParam(r, "categoryId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid category ID", http.StatusBadRequest, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req PayingLimitRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if !s.ownsCategory(userID, categoryID) {
		SendErrorResponse(w, "Unauthorized | Not found", http.StatusNotFound, nil)
		return
	}

	var limit models.PayingLimit
	err = s.db.QueryRow(`
		INSERT INTO paying_limits (category_id, month, year, limit_amount)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (category_id, month, year)
		DO UPDATE SET limit_amount = EXCLUDED.limit_amount, updated_at = NOW()
		RETURNING id, category_id, month, year, limit_amount, created_at, updated_at`,
		categoryID, req.Month, req.Year, req.Limit).
		Scan(&limit.ID, &limit.CategoryID, &limit.Month, &limit.Year, &limit.LimitAmount, &limit.CreatedAt, &limit.UpdatedAt)
	if err != nil {
		log.Printf("[CATEGORY] Failed to upsert paying limit for category %d: %v", categoryID, err)
		SendErrorResponse(w, "Failed to set paying limit", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"data":    limit,
		"message": "Updated",
	})
}

// DeleteCategory removes a category
// @Summary Delete category
// @Tags categories
// @Produce json
// @Security BearerAuth
// @Param categoryId path int true "Category ID"
// @Success 200 {object} object{message=string}
// @Failure 404 {object} ErrorResponse
// @Router /categories/{categoryId} [delete]
func (s *CategoryService) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	categoryID, err := strconv.ParseInt(chi.URLParam(r, "categoryId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid category ID", http.StatusBadRequest, nil)
		return
	}

	result, err := s.db.Exec(`DELETE FROM categories WHERE id = $1 AND user_id = $2`, categoryID, userID)
	if err != nil {
		log.Printf("[CATEGORY] Failed to delete category %d: %v", categoryID, err)
		SendErrorResponse(w, "Failed to delete category", http.StatusInternalServerError, nil)
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

func (s *CategoryService) ownsCategory(userID, categoryID int64) bool {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM categories WHERE id = $1 AND user_id = $2)`,
		categoryID, userID).Scan(&exists)
	return err == nil && exists
}

func (s *CategoryService) decodeCategoryRequest(w http.ResponseWriter, r *http.Request) (*CategoryRequest, bool) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req CategoryRequest
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
