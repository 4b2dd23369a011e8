package influx

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/riotcore/riot/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second

	// millisecondsPerSecond converts the configured flush interval
	// (seconds) to the milliseconds the client options expect.
	millisecondsPerSecond = 1000
)

// Client wraps the InfluxDB v2 client for mirroring ingested records.
//
// Writes are non-blocking and batched; failures are reported on the
// write API's error channel and surfaced through the onError callback.
// All methods are safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.InfluxDB

	connected bool
	mu        sync.RWMutex

	onError func(err error)
}

// Connect establishes a connection to the InfluxDB server and
// configures the non-blocking write API with batching.
func Connect(cfg config.InfluxDB) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 10
	}

	// #nosec G115 -- values validated above to be positive
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	c := &Client{
		client:    client,
		writeAPI:  writeAPI,
		cfg:       cfg,
		connected: true,
	}

	go c.handleWriteErrors(writeAPI.Errors())

	return c, nil
}

// handleWriteErrors forwards async write failures to the callback.
func (c *Client) handleWriteErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()
		if callback != nil {
			callback(err)
		}
	}
}

// OnError registers a callback for asynchronous write failures.
func (c *Client) OnError(fn func(err error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// IsConnected reports whether the client considers itself connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// WriteRecord mirrors an ingested device record.
//
// Tags carry the low-cardinality identifiers; the raw payload rides as
// a field. The timestamp is the server-assigned receipt time, matching
// the relational row.
func (c *Client) WriteRecord(deviceID, ownerID uint64, topic string, payload []byte, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"records",
		map[string]string{
			"device_id": strconv.FormatUint(deviceID, 10),
			"owner_id":  strconv.FormatUint(ownerID, 10),
			"topic":     topic,
		},
		map[string]interface{}{
			"payload": string(payload),
			"bytes":   len(payload),
		},
		ts,
	)

	c.writeAPI.WritePoint(point)
}

// Flush forces any buffered points to be written immediately.
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// Close flushes pending writes and releases the client.
func (c *Client) Close() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close()
}
