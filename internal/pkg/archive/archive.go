// Package archive stores raw webhook payloads and payout reports in object
// storage for reconciliation.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"
)

type Archiver interface {
	PutJSON(ctx context.Context, key string, v any) error
}

// Nop discards everything. Used when the archive is disabled.
type Nop struct{}

func (Nop) PutJSON(context.Context, string, any) error { return nil }

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Archiver struct {
	api    putObjectAPI
	bucket string
}

// New returns an S3 archiver when enabled, otherwise Nop.
func New(ctx context.Context, cfg *Config) (Archiver, error) {
	if cfg == nil || !cfg.Enabled {
		return Nop{}, nil
	}

	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	log.Infof("[Archive] S3 archive enabled for bucket: %s", cfg.BucketName)
	return &S3Archiver{api: client, bucket: cfg.BucketName}, nil
}

func (a *S3Archiver) PutJSON(ctx context.Context, key string, v any) error {
	var body []byte
	switch t := v.(type) {
	case []byte:
		body = t
	case json.RawMessage:
		body = t
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		body = raw
	}

	_, err := a.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("archive %s: %w", key, err)
	}
	return nil
}
