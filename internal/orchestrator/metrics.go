package orchestrator

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/ShayCichocki/swarm/pkg/models"
)

// Latency histogram bounds, in microseconds.
const (
	minLatencyMicros = 1
	maxLatencyMicros = int64(2 * time.Hour / time.Microsecond)
	latencySigFigs   = 3
)

// metrics accumulates the counters and subtask latencies of one coordination.
type metrics struct {
	mu            sync.Mutex
	latency       *hdrhistogram.Histogram
	spawned       int
	reassignments int
	extensions    int
}

func newMetrics() *metrics {
	return &metrics{
		latency: hdrhistogram.New(minLatencyMicros, maxLatencyMicros, latencySigFigs),
	}
}

func (m *metrics) observe(d time.Duration) {
	v := d.Microseconds()
	if v < minLatencyMicros {
		v = minLatencyMicros
	}
	if v > maxLatencyMicros {
		v = maxLatencyMicros
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = m.latency.RecordValue(v)
}

func (m *metrics) agentSpawned() {
	m.mu.Lock()
	m.spawned++
	m.mu.Unlock()
}

func (m *metrics) reassigned() {
	m.mu.Lock()
	m.reassignments++
	m.mu.Unlock()
}

func (m *metrics) extended() {
	m.mu.Lock()
	m.extensions++
	m.mu.Unlock()
}

// summary fills everything but the subtask counts.
func (m *metrics) summary(delivered int) models.CoordinationMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := models.CoordinationMetrics{
		AgentsSpawned:     m.spawned,
		Reassignments:     m.reassignments,
		DeadlineExtended:  m.extensions,
		MessagesDelivered: delivered,
	}
	if n := m.latency.TotalCount(); n > 0 {
		out.Latency = models.LatencySummary{
			Count: n,
			Mean:  time.Duration(m.latency.Mean()) * time.Microsecond,
			P50:   micros(m.latency.ValueAtQuantile(50)),
			P95:   micros(m.latency.ValueAtQuantile(95)),
			Max:   micros(m.latency.Max()),
		}
	}
	return out
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}
