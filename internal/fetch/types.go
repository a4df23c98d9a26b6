package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/web3-storage/carsource/internal/archive"
	s3storage "github.com/web3-storage/carsource/internal/storage/s3"
)

// Acquirer hands out the S3 client for a region.
type Acquirer interface {
	Acquire(ctx context.Context, region string) (s3storage.ObjectGetter, error)
}

// Telemetry receives per-attempt and per-call measurements.
type Telemetry interface {
	RecordOperation(operation string, duration time.Duration, size int64, success bool)
	RecordFetch(outcome string)
	RecordError(operation string, err error)
}

// IteratorFactory turns an object body into an archive iterator. On success
// the iterator owns body.
type IteratorFactory func(body io.ReadCloser, contentLength *int64) (archive.Iterator, error)

// Config holds the fetcher's defaults, used when a Request leaves them zero.
type Config struct {
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

// DefaultConfig returns 3 attempts with a fixed 500ms delay.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		RetryDelay:  500 * time.Millisecond,
	}
}

// Request identifies one object to open.
type Request struct {
	Region string
	// URL labels the object in logs; defaults to s3://bucket/key.
	URL    string
	Bucket string
	Key    string

	// MaxAttempts overrides Config.MaxAttempts when positive.
	MaxAttempts int
	// RetryDelay overrides Config.RetryDelay when set and not negative.
	// Zero retries without waiting.
	RetryDelay *time.Duration
	Logger     *slog.Logger
}

func (r Request) url() string {
	if r.URL != "" {
		return r.URL
	}
	return fmt.Sprintf("s3://%s/%s", r.Bucket, r.Key)
}

// Stats is the object metadata reported by S3. Either field may be nil.
type Stats struct {
	// LastModified is milliseconds since the Unix epoch.
	LastModified  *int64 `json:"lastModified,omitempty"`
	ContentLength *int64 `json:"contentLength,omitempty"`
}

func statsFromOutput(out *s3.GetObjectOutput) Stats {
	var stats Stats
	if out.LastModified != nil {
		ms := out.LastModified.UnixMilli()
		stats.LastModified = &ms
	}
	if out.ContentLength != nil {
		length := *out.ContentLength
		stats.ContentLength = &length
	}
	return stats
}

// Result is an opened object: its block iterator and metadata.
type Result struct {
	Iterator archive.Iterator
	Stats    Stats
}

type noopTelemetry struct{}

func (noopTelemetry) RecordOperation(string, time.Duration, int64, bool) {}
func (noopTelemetry) RecordFetch(string)                                 {}
func (noopTelemetry) RecordError(string, error)                          {}
