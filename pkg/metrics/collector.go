package metrics

import (
	"time"
)

// DepthSource reports unclaimed messages per queue. Implemented by the
// broker; defined here so the collector does not import it.
type DepthSource interface {
	QueueDepth(queue string) (int, error)
}

// Collector periodically samples queue depth into the QueueDepth gauge
type Collector struct {
	source   DepthSource
	queues   []string
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a collector over the given queues
func NewCollector(source DepthSource, queues []string) *Collector {
	return &Collector{
		source:   source,
		queues:   queues,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	for _, q := range c.queues {
		depth, err := c.source.QueueDepth(q)
		if err != nil {
			continue
		}
		QueueDepth.WithLabelValues(q).Set(float64(depth))
	}
}
