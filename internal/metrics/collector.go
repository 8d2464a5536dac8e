package metrics

import (
	"context"
	"sync"
	"time"
)

// State provides access to service state for metrics collection
type State interface {
	HostCount() int
	ActiveSessions() map[string]int
}

// Collector periodically updates gauge metrics from service state
type Collector struct {
	state    State
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCollector creates a new metrics collector
func NewCollector(state State, interval time.Duration) *Collector {
	if interval == 0 {
		interval = 15 * time.Second
	}

	return &Collector{
		state:    state,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic metrics collection and blocks until stopped
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collectMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collectMetrics()
		}
	}
}

// Stop stops the metrics collector
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Collector) collectMetrics() {
	ConfiguredHosts.Set(float64(c.state.HostCount()))

	TerminalSessionsActive.Reset()
	for kind, count := range c.state.ActiveSessions() {
		TerminalSessionsActive.WithLabelValues(kind).Set(float64(count))
	}
}
