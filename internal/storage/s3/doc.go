/*
Package s3 provides region-keyed S3 clients for reading archive objects.

A ConnectionPool holds at most one client per region. The first Acquire for a
region builds the client through a ClientFactory; every later Acquire for the
same region returns that same client. Concurrent first requests for one region
build exactly one client. A failed build is reported to the caller and never
cached, so the next Acquire tries again.

	pool := s3.NewConnectionPool(cfg, nil, logger)
	client, err := pool.Acquire(ctx, "us-east-2")
	if err != nil {
		return err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})

# Clients

NewClientFactory builds real AWS SDK clients. Every client shares the pool's
Config:

  - connections are kept alive for Config.KeepAlive (60s by default)
  - a non-empty Config.Endpoint points the client at a custom S3 deployment
    and switches it to path-style addressing
  - static credentials are used when AccessKeyID is set; otherwise the default
    AWS credential chain applies

The SDK's own retryer is limited to a single attempt. Retrying is the caller's
concern.

# Errors

IsNotFound recognises the S3 "object does not exist" responses (NoSuchKey and
NotFound, typed or as generic API errors). Pool failures are returned as
*errors.SourceError with code CONNECTION_POOL.
*/
package s3
