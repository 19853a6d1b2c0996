package partialz

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is a Sink that buffers heartbeats in memory for later export.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type Collector struct {
	beats        []Heartbeat
	beatsCh      chan Heartbeat
	stopCh       chan struct{}
	done         chan struct{}
	droppedCount atomic.Int64
	mu           sync.Mutex
	closeOnce    sync.Once
	closed       atomic.Bool // Track if collector is closed.
	syncMode     atomic.Bool // Bypass channel for synchronous collection.
}

// NewCollector creates a new collector with the specified channel buffer size.
func NewCollector(bufferSize int) *Collector {
	c := &Collector{
		beats:   make([]Heartbeat, 0, 8), // Start with small capacity.
		beatsCh: make(chan Heartbeat, bufferSize),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.start()
	return c
}

// start runs the collector's main loop, receiving heartbeats from the channel.
func (c *Collector) start() {
	defer close(c.done)

	for {
		select {
		case <-c.stopCh:
			// Drain remaining heartbeats before shutdown.
			for {
				select {
				case hb := <-c.beatsCh:
					c.buffer(hb)
				default:
					return
				}
			}
		case hb := <-c.beatsCh:
			c.buffer(hb)
		}
	}
}

// Close shuts down the collector goroutine. Buffered heartbeats stay
// available to Export. Safe to call more than once.
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stopCh)
		select {
		case <-c.done:
		case <-time.After(100 * time.Millisecond):
			// Drain is best effort.
		}
	})
}

// Emit buffers hb with backpressure protection.
// If the internal channel is full the heartbeat is dropped and counted.
// Emit never returns an error; drops are visible through DroppedCount.
func (c *Collector) Emit(_ context.Context, hb Heartbeat) error {
	if c.closed.Load() {
		c.droppedCount.Add(1)
		return nil
	}

	// Copy so later changes by the caller are not observed.
	hb = cloneHeartbeat(hb)

	if c.syncMode.Load() {
		c.buffer(hb)
		return nil
	}

	select {
	case c.beatsCh <- hb:
	default:
		c.droppedCount.Add(1)
	}
	return nil
}

// buffer appends hb to the internal slice.
func (c *Collector) buffer(hb Heartbeat) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.beats) >= cap(c.beats) {
		currentCap := cap(c.beats)
		var newCap int
		if currentCap < 1024 {
			newCap = currentCap * 2
		} else {
			// Grow by 50% for large buffers to avoid excessive memory usage.
			newCap = currentCap + currentCap/2
		}
		if newCap < 32 {
			newCap = 32
		}
		grown := make([]Heartbeat, len(c.beats), newCap)
		copy(grown, c.beats)
		c.beats = grown
	}
	c.beats = append(c.beats, hb)
}

// Export returns all buffered heartbeats and clears the internal buffer.
// The returned slice is safe to modify without affecting the collector.
func (c *Collector) Export() []Heartbeat {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.beats) == 0 {
		return nil
	}

	result := make([]Heartbeat, len(c.beats))
	copy(result, c.beats)

	// Only shrink if buffer is very oversized to avoid allocation churn.
	if cap(c.beats) > 256 && len(c.beats) < cap(c.beats)/8 {
		newCap := cap(c.beats) / 4
		if newCap < 32 {
			newCap = 32
		}
		c.beats = make([]Heartbeat, 0, newCap)
	} else {
		// Entries were handed to result; drop references before reuse.
		clear(c.beats)
		c.beats = c.beats[:0]
	}

	return result
}

// Count returns the current number of buffered heartbeats.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.beats)
}

// CountFor returns how many buffered heartbeats reference id.
func (c *Collector) CountFor(id SpanID) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for i := range c.beats {
		if c.beats[i].SpanID == id {
			n++
		}
	}
	return n
}

// DroppedCount returns the total number of heartbeats dropped due to backpressure.
func (c *Collector) DroppedCount() int64 {
	return c.droppedCount.Load()
}

// SetSyncMode enables synchronous collection for testing.
// When enabled, heartbeats are buffered directly without using the channel.
func (c *Collector) SetSyncMode(sync bool) {
	c.syncMode.Store(sync)
}

// Reset clears all buffered heartbeats and resets the drop counter.
// Does not affect the running goroutine - use Close for that.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.beats)
	c.beats = c.beats[:0]
	c.droppedCount.Store(0)
}

func cloneHeartbeat(hb Heartbeat) Heartbeat {
	if hb.Attributes != nil {
		attrs := make([]Attribute, len(hb.Attributes))
		copy(attrs, hb.Attributes)
		hb.Attributes = attrs
	}
	if hb.Payload != nil {
		payload := make([]byte, len(hb.Payload))
		copy(payload, hb.Payload)
		hb.Payload = payload
	}
	return hb
}
