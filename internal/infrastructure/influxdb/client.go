package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/projectorctl/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize = 100

	// defaultFlushInterval is in seconds, like the config value.
	defaultFlushInterval = 10
)

// pointWriter is the part of api.WriteAPI the telemetry methods use.
type pointWriter interface {
	WritePoint(point *write.Point)
}

// Client records projector telemetry in InfluxDB.
//
// Points are queued on the library's batching write API and never block
// the session goroutines that produce them. Once the client is closed
// new points are dropped.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	influx influxdb2.Client
	batch  api.WriteAPI
	sink   pointWriter
	now    func() time.Time

	mu      sync.RWMutex
	open    bool
	onError func(err error)
}

// Connect pings the server and starts the batching write API.
//
// Returns:
//   - *Client: ready client
//   - error: ErrDisabled when cfg is turned off, ErrConnectionFailed when
//     the server does not answer a healthy ping
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	influx := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := ping(pingCtx, influx); err != nil {
		influx.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	batch := influx.WriteAPI(cfg.Org, cfg.Bucket)
	c := &Client{
		influx: influx,
		batch:  batch,
		sink:   batch,
		now:    time.Now,
		open:   true,
	}
	go c.forwardErrors(batch.Errors())
	return c, nil
}

func clientOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batchSize := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batchSize = uint(cfg.BatchSize)
	}
	flush := time.Duration(defaultFlushInterval) * time.Second
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	return influxdb2.DefaultOptions().
		SetBatchSize(batchSize).
		SetFlushInterval(uint(flush.Milliseconds())) //nolint:gosec // positive by construction
}

func ping(ctx context.Context, influx influxdb2.Client) error {
	healthy, err := influx.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !healthy {
		return fmt.Errorf("ping: server not healthy")
	}
	return nil
}

// forwardErrors ends when the write API is closed.
func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		fn := c.onError
		c.mu.RUnlock()
		if fn != nil {
			fn(err)
		}
	}
}

// Close flushes queued points and releases the client.
func (c *Client) Close() error {
	if c == nil || c.influx == nil {
		return nil
	}
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()

	c.batch.Flush()
	c.influx.Close()
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.influx); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// IsConnected reports whether the client still accepts points.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}

// SetOnError sets the callback for asynchronous batch write failures.
func (c *Client) SetOnError(fn func(err error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// Flush sends queued points now. No-op after Close.
func (c *Client) Flush() {
	if c.batch == nil || !c.IsConnected() {
		return
	}
	c.batch.Flush()
}

func (c *Client) record(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.sink.WritePoint(write.NewPoint(measurement, tags, fields, c.now()))
}
