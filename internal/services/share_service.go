package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
)

var ErrShareCodeInvalid = errors.New("invalid or expired share code")

// ErrEarningNotFound reports that an earning record does not exist or belongs
// to another user.
var ErrEarningNotFound = errEarningNotFound

// ShareService issues short-lived, single-use share codes for earning records.
// The code payload lives in Redis with a 5 minute TTL and is consumed on resolve.
type ShareService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewShareService(db *sql.DB, redis *redis.Client) *ShareService {
	return &ShareService{
		db:    db,
		redis: redis,
	}
}

func (s *ShareService) CreateShareCode(ctx context.Context, userID, earningID int64) (string, string, error) {
	if s.redis == nil {
		return "", "", errors.New("sharing is not available")
	}

	var name, source string
	var amount int64
	var date time.Time
	err := s.db.QueryRowContext(ctx,
		"SELECT name, source, amount, date FROM earnings WHERE id = $1 AND user_id = $2",
		earningID, userID).Scan(&name, &source, &amount, &date)
	if err == sql.ErrNoRows {
		return "", "", errEarningNotFound
	}
	if err != nil {
		return "", "", err
	}

	payload := map[string]any{
		"earningId": earningID,
		"name":      name,
		"source":    source,
		"amount":    amount,
		"date":      date.Format("2006-01-02"),
		"sharedAt":  time.Now().Unix(),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}

	code := uuid.NewString()

	key := fmt.Sprintf("share:%s", code)
	if err := s.redis.Set(ctx, key, jsonData, 5*time.Minute).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	qrImage := base64.StdEncoding.EncodeToString(buf.Bytes())

	return code, qrImage, nil
}

func (s *ShareService) ResolveShareCode(ctx context.Context, code string) (map[string]any, error) {
	if s.redis == nil {
		return nil, ErrShareCodeInvalid
	}

	key := fmt.Sprintf("share:%s", code)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrShareCodeInvalid
	}
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	s.redis.Del(ctx, key)

	return result, nil
}
