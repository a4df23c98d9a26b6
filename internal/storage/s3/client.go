package s3

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// ObjectGetter is the part of the S3 API the fetcher needs. *s3.Client satisfies it.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

var _ ObjectGetter = (*s3.Client)(nil)

// ClientFactory builds the client for one region.
type ClientFactory func(ctx context.Context, region string) (ObjectGetter, error)

// NewClientFactory returns a factory producing real S3 clients configured from cfg.
func NewClientFactory(cfg *Config) ClientFactory {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	return func(ctx context.Context, region string) (ObjectGetter, error) {
		return NewClient(ctx, region, cfg)
	}
}

// NewClient creates an S3 client for region with persistent connections and,
// when cfg.Endpoint is set, path-style addressing against that endpoint.
func NewClient(ctx context.Context, region string, cfg *Config) (*s3.Client, error) {
	if region == "" {
		return nil, fmt.Errorf("region cannot be empty")
	}

	httpClient := awshttp.NewBuildableClient().
		WithDialerOptions(func(d *net.Dialer) {
			if cfg.KeepAlive > 0 {
				d.KeepAlive = cfg.KeepAlive
			}
		}).
		WithTransportOptions(func(tr *http.Transport) {
			if cfg.KeepAlive > 0 {
				tr.IdleConnTimeout = cfg.KeepAlive
			}
			if cfg.MaxIdleConnsPerHost > 0 {
				tr.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
			}
		})

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithHTTPClient(httpClient),
		// Retries are driven by the fetcher so attempts and delays stay observable.
		config.WithRetryMaxAttempts(1),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle()
	})

	return client, nil
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if isErrorType[*s3types.NoSuchKey](err) || isErrorType[*s3types.NotFound](err) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
