package conntrack

import (
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
)

const (
	defaultProbeTimeout  = 10 * time.Second
	latencyWindowSamples = 30
	throughputWindow     = time.Second
)

// Option configures a Tracker.
type Option func(*Tracker)

// WithProbeTimeout overrides how long a probe may stay unanswered before
// it counts as lost.
func WithProbeTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.probeTimeout = d
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// Tracker maintains rolling health of one transport connection: probe
// round-trips, loss, throughput and a quality classification.
type Tracker struct {
	mu           sync.Mutex
	now          func() time.Time
	probeTimeout time.Duration

	pending map[string]time.Time

	latencyMS    float64
	minLatencyMS float64
	maxLatencyMS float64
	samples      [latencyWindowSamples]float64
	sampleCount  int
	sampleNext   int

	probesSent  int64
	probesAcked int64
	probesLost  int64

	windowStart time.Time
	windowMsgs  int64
	windowBytes int64
	msgsPerSec  float64
	bytesPerSec float64

	quality        models.Quality
	connectedAt    time.Time
	connected      bool
	reconnectCount int
}

// New creates a tracker in the offline state.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		now:          time.Now,
		probeTimeout: defaultProbeTimeout,
		pending:      make(map[string]time.Time),
		quality:      models.QualityOffline,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordProbeSent timestamps a correlation id and sweeps stale probes,
// counting them as lost.
func (t *Tracker) RecordProbeSent(id string) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	for pid, sentAt := range t.pending {
		if now.Sub(sentAt) >= t.probeTimeout {
			delete(t.pending, pid)
			t.probesLost++
		}
	}

	t.pending[id] = now
	t.probesSent++
}

// RecordProbeAck resolves a pending probe into an RTT sample. Unknown
// ids are ignored; acks arriving past the probe timeout count as lost
// and contribute no latency sample.
func (t *Tracker) RecordProbeAck(id string) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	sentAt, ok := t.pending[id]
	if !ok {
		return
	}
	delete(t.pending, id)

	if now.Sub(sentAt) >= t.probeTimeout {
		t.probesLost++
		t.reclassify()
		return
	}
	t.probesAcked++

	rtt := float64(now.Sub(sentAt)) / float64(time.Millisecond)
	t.latencyMS = rtt
	if t.sampleCount == 0 || rtt < t.minLatencyMS {
		t.minLatencyMS = rtt
	}
	if rtt > t.maxLatencyMS {
		t.maxLatencyMS = rtt
	}

	t.samples[t.sampleNext] = rtt
	t.sampleNext = (t.sampleNext + 1) % latencyWindowSamples
	if t.sampleCount < latencyWindowSamples {
		t.sampleCount++
	}

	t.reclassify()
}

// RecordMessage accumulates the 1-second throughput window.
func (t *Tracker) RecordMessage(sizeBytes int) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.windowStart.IsZero() {
		t.windowStart = now
	}
	if elapsed := now.Sub(t.windowStart); elapsed >= throughputWindow {
		secs := elapsed.Seconds()
		t.msgsPerSec = float64(t.windowMsgs) / secs
		t.bytesPerSec = float64(t.windowBytes) / secs
		t.windowStart = now
		t.windowMsgs = 0
		t.windowBytes = 0
	}

	t.windowMsgs++
	t.windowBytes += int64(sizeBytes)
}

// RecordConnected marks the connection up and starts the uptime clock.
func (t *Tracker) RecordConnected() {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.connected = true
	t.connectedAt = now
	t.reclassify()
}

// RecordDisconnected zeroes uptime and forces quality offline.
func (t *Tracker) RecordDisconnected() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.connected = false
	t.connectedAt = time.Time{}
	t.quality = models.QualityOffline
}

// RecordReconnect bumps the reconnect counter.
func (t *Tracker) RecordReconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.reconnectCount++
}

// Snapshot returns an immutable copy of the metrics.
func (t *Tracker) Snapshot() models.ConnectionMetrics {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	m := models.ConnectionMetrics{
		LatencyMS:      t.latencyMS,
		AvgLatencyMS:   t.avgLatency(),
		MinLatencyMS:   t.minLatencyMS,
		MaxLatencyMS:   t.maxLatencyMS,
		ProbesSent:     t.probesSent,
		ProbesAcked:    t.probesAcked,
		ProbesLost:     t.probesLost,
		LossRate:       t.lossRate(),
		MessagesPerSec: t.msgsPerSec,
		BytesPerSec:    t.bytesPerSec,
		Quality:        t.quality,
		ReconnectCount: t.reconnectCount,
	}
	if t.connected && !t.connectedAt.IsZero() {
		m.UptimeMS = now.Sub(t.connectedAt).Milliseconds()
	}
	return m
}

// avgLatency averages the bounded sample ring. Caller holds the lock.
func (t *Tracker) avgLatency() float64 {
	if t.sampleCount == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < t.sampleCount; i++ {
		sum += t.samples[i]
	}
	return sum / float64(t.sampleCount)
}

// lossRate is lost/(acked+lost). Caller holds the lock.
func (t *Tracker) lossRate() float64 {
	total := t.probesAcked + t.probesLost
	if total == 0 {
		return 0
	}
	return float64(t.probesLost) / float64(total)
}

// reclassify recomputes the quality bucket from average latency and loss
// rate. Caller holds the lock.
func (t *Tracker) reclassify() {
	if t.sampleCount == 0 {
		t.quality = models.QualityOffline
		return
	}

	avg := t.avgLatency()
	loss := t.lossRate()

	switch {
	case avg < 50 && loss < 0.01:
		t.quality = models.QualityExcellent
	case avg < 100 && loss < 0.03:
		t.quality = models.QualityGood
	case avg < 200 && loss < 0.05:
		t.quality = models.QualityFair
	default:
		t.quality = models.QualityPoor
	}
}
