package services

import (
	"time"

	"texstream/internal/core/domain"
)

// DefaultThroughputWindow is the receiver reporting period.
const DefaultThroughputWindow = time.Second

// ThroughputCounter counts arrivals and closes a report every window. It is
// not safe for concurrent use.
type ThroughputCounter struct {
	window  time.Duration
	count   int
	elapsed time.Duration
}

func NewThroughputCounter(window time.Duration) *ThroughputCounter {
	if window <= 0 {
		window = DefaultThroughputWindow
	}
	return &ThroughputCounter{window: window}
}

func (c *ThroughputCounter) Increment() { c.count++ }

// Count is the number of arrivals in the open window.
func (c *ThroughputCounter) Count() int { return c.count }

// Advance adds dt to the open window. Once the window is full it returns the
// report and starts a new window.
func (c *ThroughputCounter) Advance(dt time.Duration) (domain.ThroughputReport, bool) {
	c.elapsed += dt
	if c.elapsed < c.window {
		return domain.ThroughputReport{}, false
	}

	report := domain.ThroughputReport{
		Packets: c.count,
		Window:  c.elapsed,
		At:      time.Now(),
	}
	c.count = 0
	c.elapsed = 0
	return report, true
}
