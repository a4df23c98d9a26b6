// Package fetch opens CAR archives stored in S3, retrying transient failures
// with a fixed delay and handing the body stream to an archive iterator.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/web3-storage/carsource/internal/archive"
	"github.com/web3-storage/carsource/internal/metrics"
	s3storage "github.com/web3-storage/carsource/internal/storage/s3"
	"github.com/web3-storage/carsource/pkg/errors"
	"github.com/web3-storage/carsource/pkg/retry"
)

const operationName = "s3-fetch"

// Fetcher opens remote archive streams through a connection pool.
type Fetcher struct {
	pool        Acquirer
	config      Config
	logger      *slog.Logger
	telemetry   Telemetry
	newIterator IteratorFactory
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the default logger for requests that carry none.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithTelemetry sets the telemetry sink.
func WithTelemetry(t Telemetry) Option {
	return func(f *Fetcher) {
		if t != nil {
			f.telemetry = t
		}
	}
}

// WithIteratorFactory replaces the CAR iterator constructor.
func WithIteratorFactory(factory IteratorFactory) Option {
	return func(f *Fetcher) {
		if factory != nil {
			f.newIterator = factory
		}
	}
}

// WithSleep replaces the timer used between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(f *Fetcher) {
		if sleep != nil {
			f.sleep = sleep
		}
	}
}

// NewFetcher creates a Fetcher drawing clients from pool.
func NewFetcher(pool Acquirer, config Config, opts ...Option) *Fetcher {
	defaults := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.RetryDelay < 0 {
		config.RetryDelay = defaults.RetryDelay
	}

	f := &Fetcher{
		pool:        pool,
		config:      config,
		logger:      slog.Default(),
		telemetry:   noopTelemetry{},
		newIterator: archive.NewIterator,
		sleep:       retry.Sleep,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// OpenRemoteStream fetches the object named by req and returns an iterator
// over its blocks along with its metadata.
//
// A missing object is reported once without retrying. Any other failure is
// retried after RetryDelay until MaxAttempts attempts have been made; no
// delay follows the last attempt. An object that cannot be read as an
// archive is not fetched again. The returned error is an *errors.SourceError
// with code OBJECT_NOT_FOUND, RETRY_EXHAUSTED, ARCHIVE_FORMAT,
// OPERATION_CANCELED, CONNECTION_POOL or VALIDATION_FAILED. RETRY_EXHAUSTED
// wraps the last attempt's failure as NETWORK_ERROR.
func (f *Fetcher) OpenRemoteStream(ctx context.Context, req Request) (*Result, error) {
	url := req.url()
	logger := req.Logger
	if logger == nil {
		logger = f.logger
	}
	logger = logger.With("url", url)

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	client, err := f.pool.Acquire(ctx, req.Region)
	if err != nil && ctx.Err() != nil {
		f.telemetry.RecordFetch(metrics.OutcomeCanceled)
		return nil, f.newError(errors.ErrCodeOperationCanceled, fmt.Sprintf("fetch of %s canceled", url), req, retry.Outcome{Err: err})
	}
	if err != nil {
		f.telemetry.RecordError(operationName, err)
		f.telemetry.RecordFetch(metrics.OutcomePoolError)
		logger.Error("Cannot acquire S3 client", "region", req.Region, "error", errors.Serialize(err))
		return nil, err
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = f.config.MaxAttempts
	}
	delay := f.config.RetryDelay
	if req.RetryDelay != nil && *req.RetryDelay >= 0 {
		delay = *req.RetryDelay
	}

	retryer := retry.New(
		retry.Config{MaxAttempts: maxAttempts, Delay: delay, Multiplier: 1},
		retry.WithPermanent(s3storage.IsNotFound),
		retry.WithSleep(f.sleep),
		retry.WithOnFailure(func(attempt int, err error) {
			logger.Debug("S3 error", "error", err.Error(), "attempt", attempt, "max_attempts", maxAttempts)
		}),
	)

	var output *s3.GetObjectOutput
	outcome := retryer.Do(ctx, func(ctx context.Context) error {
		start := time.Now()
		out, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(req.Bucket),
			Key:    aws.String(req.Key),
		})
		f.telemetry.RecordOperation(operationName, time.Since(start), 0, err == nil)
		if err != nil {
			f.telemetry.RecordError(operationName, err)
			if s3storage.IsNotFound(err) || ctx.Err() != nil {
				return err
			}
			return errors.NewError(errors.ErrCodeNetworkError, "GetObject failed").
				WithComponent("s3").
				WithOperation("GetObject").
				WithCause(err)
		}
		output = out
		return nil
	})

	switch outcome.State {
	case retry.StateSucceeded:
	case retry.StatePermanent:
		f.telemetry.RecordFetch(metrics.OutcomeNotFound)
		logger.Error("Cannot open object, it does not exist", "error", errors.Serialize(outcome.Err))
		return nil, f.newError(errors.ErrCodeObjectNotFound, fmt.Sprintf("object %s does not exist", url), req, outcome)
	case retry.StateExhausted:
		f.telemetry.RecordFetch(metrics.OutcomeExhausted)
		logger.Error("Cannot open object", "attempts", outcome.Attempts, "error", errors.Serialize(outcome.Err))
		return nil, f.newError(errors.ErrCodeRetryExhausted,
			fmt.Sprintf("cannot open %s after %d attempts", url, outcome.Attempts), req, outcome)
	default:
		f.telemetry.RecordFetch(metrics.OutcomeCanceled)
		logger.Debug("Fetch canceled", "attempts", outcome.Attempts, "error", outcome.Err)
		return nil, f.newError(errors.ErrCodeOperationCanceled, fmt.Sprintf("fetch of %s canceled", url), req, outcome)
	}

	stats := statsFromOutput(output)
	iterator, err := f.newIterator(output.Body, output.ContentLength)
	if err != nil {
		if output.Body != nil {
			_ = output.Body.Close()
		}
		f.telemetry.RecordFetch(metrics.OutcomeFormatError)
		f.telemetry.RecordError(operationName, err)
		logger.Error("Cannot parse object as CAR", "error", errors.Serialize(err))
		return nil, errors.NewError(errors.ErrCodeArchiveFormat, fmt.Sprintf("cannot parse %s as CAR", url)).
			WithComponent("fetcher").
			WithOperation("OpenRemoteStream").
			WithDetail("url", url).
			WithCause(err)
	}

	f.telemetry.RecordFetch(metrics.OutcomeSuccess)
	logger.Debug("Object opened", "attempts", outcome.Attempts)
	return &Result{Iterator: iterator, Stats: stats}, nil
}

func (f *Fetcher) newError(code errors.ErrorCode, message string, req Request, outcome retry.Outcome) *errors.SourceError {
	return errors.NewError(code, message).
		WithComponent("fetcher").
		WithOperation("OpenRemoteStream").
		WithDetail("url", req.url()).
		WithDetail("region", req.Region).
		WithDetail("attempts", outcome.Attempts).
		WithCause(outcome.Err)
}

func validateRequest(req Request) error {
	var missing string
	switch {
	case req.Region == "":
		missing = "region"
	case req.Bucket == "":
		missing = "bucket"
	case req.Key == "":
		missing = "key"
	default:
		return nil
	}
	return errors.NewError(errors.ErrCodeValidationFailed, missing+" cannot be empty").
		WithComponent("fetcher").
		WithOperation("OpenRemoteStream")
}
