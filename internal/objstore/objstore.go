package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"packetwatch/internal/config"
)

// Store is the raw-batch object store. Batch payloads are written verbatim
// (still gzip-compressed) and addressed by the opaque key recorded on the
// Batch row.
type Store interface {
	Put(ctx context.Context, key string, body []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// S3Store implements Store on AWS S3. Each attempt carries its own timeout;
// retries use capped exponential backoff and abort on context cancellation.
type S3Store struct {
	bucket  string
	retries int
	timeout time.Duration
	client  *s3.Client
}

// NewS3Store initializes the AWS SDK config and the S3 client. SDK-level
// retries are disabled; retry policy lives here so it is uniform with the
// rest of the service's outbound calls.
func NewS3Store(cfg *config.Config) (*S3Store, error) {
	awsCfg, err := awscfg.LoadDefaultConfig(
		context.TODO(),
		awscfg.WithRegion(cfg.AWSRegion),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 0
	})

	return &S3Store{
		bucket:  cfg.RawBucket,
		retries: cfg.S3Retries,
		timeout: cfg.S3Timeout,
		client:  client,
	}, nil
}

// BatchKey derives the object key for one batch's raw payload:
// <prefix>/<server>/<yyyy>/<mm>/<dd>/<uuid>.jsonl.gz
func BatchKey(prefix, serverExternalID string, receivedAt time.Time) string {
	u := receivedAt.UTC()
	return fmt.Sprintf("%s/%s/%04d/%02d/%02d/%s.jsonl.gz",
		prefix, serverExternalID, u.Year(), u.Month(), u.Day(), uuid.NewString())
}

// Put uploads one payload, retrying with backoff. The body reader is rebuilt
// per attempt.
func (s *S3Store) Put(ctx context.Context, key string, body []byte) error {
	var lastErr error
	backoff := 200 * time.Millisecond

	for attempt := 1; attempt <= s.retries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := s.putOnce(ctx, key, body); err == nil {
			return nil
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 2*time.Second {
				backoff = 2 * time.Second
			}
		}
	}

	return lastErr
}

func (s *S3Store) putOnce(ctx context.Context, key string, body []byte) error {
	ctx2, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.PutObject(ctx2, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	})
	return err
}

// Get retrieves one payload by key, for reprocessing and evidence resolution.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	ctx2, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.client.GetObject(ctx2, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}
