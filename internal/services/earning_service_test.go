package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

const (
	insertEarningQuery = "INSERT INTO earnings \\(user_id, name, source, amount, date\\) VALUES \\(\\$1, \\$2, \\$3, \\$4, \\$5\\) RETURNING id, created_at, updated_at"
	priorAmountQuery   = "SELECT amount FROM earnings WHERE id = \\$1 AND user_id = \\$2 FOR UPDATE"
	updateEarningQuery = "UPDATE earnings SET name = \\$1, source = \\$2, amount = \\$3, date = \\$4, updated_at = NOW\\(\\) WHERE id = \\$5 AND user_id = \\$6 RETURNING created_at, updated_at"
	deleteEarningQuery = "DELETE FROM earnings WHERE id = \\$1 AND user_id = \\$2"
)

// earningTestRouter mounts the service behind the same routes the server uses,
// with user 7 authenticated.
func earningTestRouter(service *EarningService) chi.Router {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(context.WithValue(req.Context(), "userID", "7")))
		})
	})
	r.Get("/earning-money", service.ListEarnings)
	r.Post("/earning-money", service.CreateEarning)
	r.Patch("/earning-money/{earningId}", service.UpdateEarning)
	r.Delete("/earning-money/{earningId}", service.DeleteEarning)
	r.Get("/balances", service.GetBalances)
	return r
}

func TestEarningService_CreateEarning(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewEarningService(db, nil)
	router := earningTestRouter(service)
	userID := int64(7)

	body, _ := json.Marshal(map[string]any{
		"name":   "November salary",
		"source": "Acme Corp",
		"amount": 500,
		"date":   "2023-11-19",
	})

	t.Run("creates record and shifts balance in one transaction", func(t *testing.T) {
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery(insertEarningQuery).
			WithArgs(userID, "November salary", "Acme Corp", int64(500), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow(int64(42), now, now))
		mock.ExpectQuery(lockSlotsQuery).
			WithArgs(userID).
			WillReturnRows(slotRows(1000, 1000))
		mock.ExpectExec(writeSlotQuery).
			WithArgs(int64(1000), userID, "prev_balance").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(writeSlotQuery).
			WithArgs(int64(1500), userID, "cur_balance").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		req := httptest.NewRequest("POST", "/earning-money", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		var response map[string]any
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, "Created", response["message"])
		data := response["data"].(map[string]any)
		assert.Equal(t, float64(42), data["id"])
		assert.Equal(t, float64(500), data["amount"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("retries the whole transaction on serialization conflict", func(t *testing.T) {
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery(insertEarningQuery).
			WithArgs(userID, "November salary", "Acme Corp", int64(500), sqlmock.AnyArg()).
			WillReturnError(&pq.Error{Code: "40001"})
		mock.ExpectRollback()

		mock.ExpectBegin()
		mock.ExpectQuery(insertEarningQuery).
			WithArgs(userID, "November salary", "Acme Corp", int64(500), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow(int64(43), now, now))
		mock.ExpectQuery(lockSlotsQuery).
			WithArgs(userID).
			WillReturnRows(slotRows(1000, 1500))
		mock.ExpectExec(writeSlotQuery).
			WithArgs(int64(1500), userID, "prev_balance").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(writeSlotQuery).
			WithArgs(int64(2000), userID, "cur_balance").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		req := httptest.NewRequest("POST", "/earning-money", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("gives up with 409 after exhausting retries", func(t *testing.T) {
		for i := 0; i < maxMutationRetries; i++ {
			mock.ExpectBegin()
			mock.ExpectQuery(insertEarningQuery).
				WithArgs(userID, "November salary", "Acme Corp", int64(500), sqlmock.AnyArg()).
				WillReturnError(&pq.Error{Code: "40001"})
			mock.ExpectRollback()
		}

		req := httptest.NewRequest("POST", "/earning-money", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when slots are not provisioned", func(t *testing.T) {
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery(insertEarningQuery).
			WithArgs(userID, "November salary", "Acme Corp", int64(500), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow(int64(44), now, now))
		mock.ExpectQuery(lockSlotsQuery).
			WithArgs(userID).
			WillReturnRows(sqlmock.NewRows([]string{"name", "amount"}))
		mock.ExpectRollback()

		req := httptest.NewRequest("POST", "/earning-money", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid request body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/earning-money", bytes.NewBuffer([]byte("invalid")))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		extra, _ := json.Marshal(map[string]any{
			"name":   "November salary",
			"source": "Acme Corp",
			"amount": 500,
			"date":   "2023-11-19",
			"bogus":  true,
		})
		req := httptest.NewRequest("POST", "/earning-money", bytes.NewBuffer(extra))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unauthenticated request", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/earning-money", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		service.CreateEarning(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestEarningService_UpdateEarning(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewEarningService(db, nil)
	router := earningTestRouter(service)
	userID := int64(7)

	body, _ := json.Marshal(map[string]any{
		"name":   "November salary",
		"source": "Acme Corp",
		"amount": 300,
		"date":   "2023-11-19",
	})

	t.Run("shifts balance by the difference to the prior amount", func(t *testing.T) {
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery(priorAmountQuery).
			WithArgs(int64(42), userID).
			WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow(int64(500)))
		mock.ExpectQuery(updateEarningQuery).
			WithArgs("November salary", "Acme Corp", int64(300), sqlmock.AnyArg(), int64(42), userID).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		mock.ExpectQuery(lockSlotsQuery).
			WithArgs(userID).
			WillReturnRows(slotRows(1000, 1500))
		mock.ExpectExec(writeSlotQuery).
			WithArgs(int64(1500), userID, "prev_balance").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(writeSlotQuery).
			WithArgs(int64(1300), userID, "cur_balance").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		req := httptest.NewRequest("PATCH", "/earning-money/42", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]any
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, "Updated", response["message"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("record of another user reads as not found", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(priorAmountQuery).
			WithArgs(int64(42), userID).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		req := httptest.NewRequest("PATCH", "/earning-money/42", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		var response map[string]any
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, "Unauthorized | Not found", response["error"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid earning id", func(t *testing.T) {
		req := httptest.NewRequest("PATCH", "/earning-money/abc", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestEarningService_DeleteEarning(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewEarningService(db, nil)
	router := earningTestRouter(service)
	userID := int64(7)

	t.Run("removes record and its balance contribution", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(priorAmountQuery).
			WithArgs(int64(42), userID).
			WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow(int64(300)))
		mock.ExpectQuery(lockSlotsQuery).
			WithArgs(userID).
			WillReturnRows(slotRows(1500, 1300))
		mock.ExpectExec(writeSlotQuery).
			WithArgs(int64(1300), userID, "prev_balance").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(writeSlotQuery).
			WithArgs(int64(1000), userID, "cur_balance").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(deleteEarningQuery).
			WithArgs(int64(42), userID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		req := httptest.NewRequest("DELETE", "/earning-money/42", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]any
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, "Deleted", response["message"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing record", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(priorAmountQuery).
			WithArgs(int64(42), userID).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		req := httptest.NewRequest("DELETE", "/earning-money/42", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEarningService_ListEarnings(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewEarningService(db, nil)
	router := earningTestRouter(service)
	userID := int64(7)

	columns := []string{"id", "user_id", "name", "source", "amount", "date", "created_at", "updated_at"}

	t.Run("lists all records", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery("SELECT id, user_id, name, source, amount, date, created_at, updated_at FROM earnings WHERE user_id = \\$1 ORDER BY date DESC, id DESC").
			WithArgs(userID).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(int64(2), userID, "Bonus", "Acme Corp", int64(700), now, now, now).
				AddRow(int64(1), userID, "Salary", "Acme Corp", int64(500), now, now, now))

		req := httptest.NewRequest("GET", "/earning-money", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]any
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, "Get data successfully.", response["message"])
		assert.Len(t, response["data"], 2)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("filters by month and year", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, user_id, name, source, amount, date, created_at, updated_at FROM earnings WHERE user_id = \\$1 AND EXTRACT\\(MONTH FROM date\\) = \\$2 AND EXTRACT\\(YEAR FROM date\\) = \\$3 ORDER BY date DESC, id DESC").
			WithArgs(userID, 11, 2023).
			WillReturnRows(sqlmock.NewRows(columns))

		req := httptest.NewRequest("GET", "/earning-money?month=11&year=2023", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]any
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Len(t, response["data"], 0)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEarningService_GetBalances(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewEarningService(db, nil)
	router := earningTestRouter(service)
	userID := int64(7)

	t.Run("returns both slots", func(t *testing.T) {
		mock.ExpectQuery("SELECT name, amount FROM balances WHERE user_id = \\$1 AND name IN \\('prev_balance', 'cur_balance'\\)").
			WithArgs(userID).
			WillReturnRows(sqlmock.NewRows([]string{"name", "amount"}).
				AddRow("prev_balance", int64(1000)).
				AddRow("cur_balance", int64(1500)))

		req := httptest.NewRequest("GET", "/balances", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]any
		json.Unmarshal(w.Body.Bytes(), &response)
		data := response["data"].(map[string]any)
		assert.Equal(t, float64(1000), data["prev_balance"])
		assert.Equal(t, float64(1500), data["cur_balance"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
