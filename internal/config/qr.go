package config

import "time"

type QRConfig struct {
	CodeFolder string
	ImageSize  int
	SessionTTL time.Duration
}

func LoadQRConfig() *QRConfig {
	return &QRConfig{
		CodeFolder: getEnv("QR_CODE_FOLDER", "./static/qr_codes"),
		ImageSize:  getEnvAsInt("QR_IMAGE_SIZE", 256),
		SessionTTL: getEnvAsDuration("QR_SESSION_TTL", 5*time.Minute),
	}
}
