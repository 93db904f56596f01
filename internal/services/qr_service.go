package services

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/messmate/backend/internal/config"
	"github.com/skip2/go-qrcode"
)

// QRService produces the printed identity code students carry: a QR
// image encoding the roll number. It also issues short-lived kiosk scan
// sessions through Redis so a kiosk can hand a one-time token to its
// scanner page instead of the raw roll number.
type QRService struct {
	db    *sql.DB
	redis *redis.Client
	cfg   *config.QRConfig
}

func NewQRService(db *sql.DB, redisClient *redis.Client, cfg *config.QRConfig) *QRService {
	return &QRService{
		db:    db,
		redis: redisClient,
		cfg:   cfg,
	}
}

// GenerateStudentQR writes the student's identity QR image to the code
// folder and returns its relative path plus the PNG as base64 for
// immediate display.
func (s *QRService) GenerateStudentQR(rollNumber string) (string, string, error) {
	if err := os.MkdirAll(s.cfg.CodeFolder, 0o755); err != nil {
		return "", "", err
	}

	filename := fmt.Sprintf("%s.png", rollNumber)
	path := filepath.Join(s.cfg.CodeFolder, filename)

	png, err := qrcode.Encode(rollNumber, qrcode.Medium, s.cfg.ImageSize)
	if err != nil {
		return "", "", err
	}

	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", "", err
	}

	return filepath.ToSlash(filepath.Join("qr_codes", filename)), base64.StdEncoding.EncodeToString(png), nil
}

// CreateScanSession stores a one-time kiosk token resolving to the roll
// number. Tokens expire after the configured TTL.
func (s *QRService) CreateScanSession(ctx context.Context, rollNumber string) (string, error) {
	if s.redis == nil {
		return "", fmt.Errorf("scan sessions unavailable without redis")
	}

	token := uuid.NewString()
	key := fmt.Sprintf("scan_session:%s", token)
	if err := s.redis.Set(ctx, key, rollNumber, s.cfg.SessionTTL).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// ResolveScanSession consumes a kiosk token exactly once and returns the
// roll number it was issued for.
func (s *QRService) ResolveScanSession(ctx context.Context, token string) (string, error) {
	if s.redis == nil {
		return "", fmt.Errorf("scan sessions unavailable without redis")
	}

	key := fmt.Sprintf("scan_session:%s", token)
	rollNumber, err := s.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("invalid or expired scan session")
	}
	if err != nil {
		return "", err
	}

	s.redis.Del(ctx, key)
	return rollNumber, nil
}
