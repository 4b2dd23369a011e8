// Package metrics tracks ingestion throughput and system statistics
// for the /api/v1/system endpoint: an atomic record counter fed by the
// ingestion daemon and a periodically sampled history ring.
package metrics

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// sampleInterval is how often a snapshot is taken.
	sampleInterval = 12 * time.Second

	// historyWindow is how much sampled history the ring retains.
	historyWindow = 30 * time.Minute

	ringSize = int(historyWindow / sampleInterval)
)

// Sample is one snapshot of system state.
type Sample struct {
	Time       time.Time `json:"time"`
	Records    uint64    `json:"records"`
	Devices    int       `json:"devices"`
	Goroutines int       `json:"goroutines"`
	HeapBytes  uint64    `json:"heap_bytes"`
	SysBytes   uint64    `json:"sys_bytes"`
	NumGC      uint32    `json:"num_gc"`
}

// DeviceCounter supplies the active device count for sampling.
type DeviceCounter interface {
	Count(ctx context.Context) (int, error)
}

// Collector accumulates ingestion counters and samples them into a
// fixed ring. All methods are safe for concurrent use.
type Collector struct {
	records   atomic.Uint64
	discarded atomic.Uint64

	devices DeviceCounter

	mu   sync.RWMutex
	ring []Sample // newest appended, oldest dropped
	stop chan struct{}
	done chan struct{}
}

// NewCollector creates a collector. Start must be called to begin
// sampling and Close on shutdown.
func NewCollector(devices DeviceCounter) *Collector {
	return &Collector{
		devices: devices,
		ring:    make([]Sample, 0, ringSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// RecordIngested increments the accepted-record counter.
func (c *Collector) RecordIngested() {
	c.records.Add(1)
}

// RecordDiscarded increments the rejected-message counter.
func (c *Collector) RecordDiscarded() {
	c.discarded.Add(1)
}

// Records returns the total accepted since process start.
func (c *Collector) Records() uint64 {
	return c.records.Load()
}

// Discarded returns the total rejected since process start.
func (c *Collector) Discarded() uint64 {
	return c.discarded.Load()
}

// Start launches the background sampler.
func (c *Collector) Start(ctx context.Context) {
	go c.sample(ctx)
}

// Close stops the sampler and waits for it to exit.
func (c *Collector) Close() {
	close(c.stop)
	<-c.done
}

// History returns the sampled ring, oldest first.
func (c *Collector) History() []Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Sample, len(c.ring))
	copy(out, c.ring)
	return out
}

// Snapshot takes an immediate sample without touching the ring.
func (c *Collector) Snapshot(ctx context.Context) Sample {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	deviceCount := 0
	if c.devices != nil {
		if n, err := c.devices.Count(ctx); err == nil {
			deviceCount = n
		}
	}

	return Sample{
		Time:       time.Now().UTC(),
		Records:    c.records.Load(),
		Devices:    deviceCount,
		Goroutines: runtime.NumGoroutine(),
		HeapBytes:  mem.HeapAlloc,
		SysBytes:   mem.Sys,
		NumGC:      mem.NumGC,
	}
}

func (c *Collector) sample(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := c.Snapshot(ctx)
			c.mu.Lock()
			c.ring = append(c.ring, s)
			if len(c.ring) > ringSize {
				c.ring = c.ring[1:]
			}
			c.mu.Unlock()
		}
	}
}
