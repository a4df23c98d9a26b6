package s3

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/web3-storage/carsource/pkg/errors"
)

// ConnectionPool keeps one S3 client per region. Clients are built on first
// use and live as long as the pool; they are never rebuilt or closed.
type ConnectionPool struct {
	mu      sync.RWMutex
	clients map[string]ObjectGetter
	group   singleflight.Group

	factory  ClientFactory
	config   *Config
	logger   *slog.Logger
	observer func(clients int)

	hits  atomic.Int64
	stats PoolStats
}

// PoolStats tracks connection pool statistics
type PoolStats struct {
	Clients     int       `json:"clients"`
	Hits        int64     `json:"hits"`
	Created     int64     `json:"created"`
	Errors      int64     `json:"errors"`
	LastCreated time.Time `json:"last_created"`
	LastError   string    `json:"last_error"`
	LastErrorAt time.Time `json:"last_error_at"`
}

// PoolOption configures a ConnectionPool.
type PoolOption func(*ConnectionPool)

// WithObserver registers a callback receiving the client count after each creation.
func WithObserver(fn func(clients int)) PoolOption {
	return func(p *ConnectionPool) { p.observer = fn }
}

// NewConnectionPool creates a new connection pool. A nil factory builds real
// S3 clients from cfg.
func NewConnectionPool(cfg *Config, factory ClientFactory, logger *slog.Logger, opts ...PoolOption) *ConnectionPool {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if factory == nil {
		factory = NewClientFactory(cfg)
	}
	if logger == nil {
		logger = slog.Default()
	}

	pool := &ConnectionPool{
		clients: make(map[string]ObjectGetter),
		factory: factory,
		config:  cfg,
		logger:  logger.With("component", "s3-pool"),
	}
	for _, opt := range opts {
		opt(pool)
	}
	return pool
}

// Acquire returns the client for region, building it if this is the first
// request for that region. Concurrent first requests build exactly one client.
// If ctx ends while waiting for the build, Acquire returns ctx.Err().
// Settings are read only at build time; later configuration changes do not
// affect an existing client.
func (p *ConnectionPool) Acquire(ctx context.Context, region string) (ObjectGetter, error) {
	if client, ok := p.lookup(region); ok {
		p.hits.Add(1)
		return client, nil
	}

	// The build outlives any one waiter: a canceled caller returns early
	// while the others still receive the client.
	buildCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(region, func() (interface{}, error) {
		if client, ok := p.lookup(region); ok {
			return client, nil
		}
		return p.create(buildCtx, region)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(ObjectGetter), nil
	}
}

// Regions returns the regions that currently have a client, sorted.
func (p *ConnectionPool) Regions() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	regions := make([]string, 0, len(p.clients))
	for region := range p.clients {
		regions = append(regions, region)
	}
	sort.Strings(regions)
	return regions
}

// Stats returns current pool statistics
func (p *ConnectionPool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := p.stats
	stats.Clients = len(p.clients)
	stats.Hits = p.hits.Load()
	return stats
}

func (p *ConnectionPool) lookup(region string) (ObjectGetter, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	client, ok := p.clients[region]
	return client, ok
}

func (p *ConnectionPool) create(ctx context.Context, region string) (ObjectGetter, error) {
	endpoint := p.config.Endpoint
	if endpoint == "" {
		endpoint = "default"
	}
	p.logger.Info("Connecting to S3", "endpoint", endpoint, "region", region)

	client, err := p.factory(ctx, region)
	if err != nil {
		p.mu.Lock()
		p.stats.Errors++
		p.stats.LastError = err.Error()
		p.stats.LastErrorAt = time.Now()
		p.mu.Unlock()

		return nil, errors.NewError(errors.ErrCodeConnectionPool,
			fmt.Sprintf("cannot create S3 client for region %q", region)).
			WithComponent("s3-pool").
			WithOperation("Acquire").
			WithDetail("region", region).
			WithCause(err)
	}
	if client == nil {
		return nil, errors.NewError(errors.ErrCodeConnectionPool,
			fmt.Sprintf("client factory returned nil for region %q", region)).
			WithComponent("s3-pool").
			WithOperation("Acquire")
	}

	p.mu.Lock()
	p.clients[region] = client
	p.stats.Created++
	p.stats.LastCreated = time.Now()
	count := len(p.clients)
	p.mu.Unlock()

	if p.observer != nil {
		p.observer(count)
	}
	return client, nil
}
