package services

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

const categoryExistsQuery = "SELECT EXISTS\\(SELECT 1 FROM categories WHERE id = \\$1 AND user_id = \\$2\\)"

func spendingTestRouter(service *SpendingService) chi.Router {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(context.WithValue(req.Context(), "userID", "7")))
		})
	})
	r.Get("/spendings", service.ListSpendings)
	r.Post("/spendings", service.CreateSpending)
	r.Patch("/spendings/{spendingId}", service.UpdateSpending)
	r.Delete("/spendings/{spendingId}", service.DeleteSpending)
	r.Get("/spendings/overview", service.MonthlyOverview)
	return r
}

func TestSpendingService_CreateSpending(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSpendingService(db)
	router := spendingTestRouter(service)
	userID := int64(7)

	body, _ := json.Marshal(map[string]any{
		"name":        "Weekly groceries",
		"category_id": 3,
		"amount":      12500,
		"date":        "2023-11-19",
	})

	t.Run("creates spending in an owned category", func(t *testing.T) {
		now := time.Now()

		mock.ExpectQuery(categoryExistsQuery).
			WithArgs(int64(3), userID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		mock.ExpectQuery("INSERT INTO spendings \\(user_id, category_id, name, amount, date\\) VALUES \\(\\$1, \\$2, \\$3, \\$4, \\$5\\) RETURNING id, created_at, updated_at").
			WithArgs(userID, int64(3), "Weekly groceries", int64(12500), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow(int64(11), now, now))

		req := httptest.NewRequest("POST", "/spendings", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		var response map[string]any
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, "Created", response["message"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("foreign category reads as not found", func(t *testing.T) {
		mock.ExpectQuery(categoryExistsQuery).
			WithArgs(int64(3), userID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		req := httptest.NewRequest("POST", "/spendings", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects a non-positive amount", func(t *testing.T) {
		invalid, _ := json.Marshal(map[string]any{
			"name":        "Weekly groceries",
			"category_id": 3,
			"amount":      -5,
			"date":        "2023-11-19",
		})
		req := httptest.NewRequest("POST", "/spendings", bytes.NewBuffer(invalid))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSpendingService_MonthlyOverview(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSpendingService(db)
	router := spendingTestRouter(service)
	userID := int64(7)

	t.Run("totals per category with limits", func(t *testing.T) {
		mock.ExpectQuery("SELECT c.id, c.name, COALESCE\\(SUM\\(s.amount\\), 0\\) AS spent, COALESCE\\(pl.limit_amount, 0\\) AS limit_amount FROM categories c").
			WithArgs(userID, 11, 2023).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "spent", "limit_amount"}).
				AddRow(int64(3), "Groceries", int64(32500), int64(50000)).
				AddRow(int64(4), "Transport", int64(0), int64(0)))

		req := httptest.NewRequest("GET", "/spendings/overview?month=11&year=2023", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]any
		json.Unmarshal(w.Body.Bytes(), &response)
		data := response["data"].([]any)
		assert.Len(t, data, 2)
		first := data[0].(map[string]any)
		assert.Equal(t, "Groceries", first["category_name"])
		assert.Equal(t, float64(32500), first["spent"])
		assert.Equal(t, float64(50000), first["limit"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing month", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/spendings/overview?year=2023", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSpendingService_DeleteSpending(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSpendingService(db)
	router := spendingTestRouter(service)
	userID := int64(7)

	t.Run("missing record", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM spendings WHERE id = \\$1 AND user_id = \\$2").
			WithArgs(int64(11), userID).
			WillReturnResult(sqlmock.NewResult(0, 0))

		req := httptest.NewRequest("DELETE", "/spendings/11", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
