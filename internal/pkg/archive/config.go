package archive

import (
	"errors"
	"fmt"
	"time"

	"github.com/rebooked/marketplace/internal/pkg/env"
)

// Config holds S3 archive configuration
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Enabled         bool
}

// LoadConfig loads S3 configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "af-south-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Enabled:         env.GetEnv("S3_ARCHIVE_ENABLED", "false") == "true",
	}

	if cfg.Enabled {
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY are required when the archive is enabled")
		}
		if cfg.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when the archive is enabled")
		}
	}
	return cfg, nil
}

// WebhookKey is webhooks/<provider>/YYYY/MM/DD/<id>-<event>.json
func WebhookKey(provider, event string, id uint, at time.Time) string {
	return fmt.Sprintf("webhooks/%s/%04d/%02d/%02d/%d-%s.json", provider, at.Year(), at.Month(), at.Day(), id, event)
}

// PayoutKey is payouts/<seller>/YYYY/MM/<unix>.json
func PayoutKey(sellerID string, at time.Time) string {
	return fmt.Sprintf("payouts/%s/%04d/%02d/%d.json", sellerID, at.Year(), at.Month(), at.Unix())
}
