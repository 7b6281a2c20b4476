package conntrack

import (
	"fmt"
	"testing"
	"time"

	"MarketPulse/internal/domain/models"
)

// fakeClock advances manually so RTTs are deterministic.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestProbeAckLatencyAndQuality(t *testing.T) {
	clk := newFakeClock()
	tr := New(WithClock(clk.now))

	tr.RecordProbeSent("p1")
	clk.advance(50 * time.Millisecond)
	tr.RecordProbeAck("p1")

	m := tr.Snapshot()
	if m.LatencyMS != 50 {
		t.Fatalf("expected latency 50ms, got %v", m.LatencyMS)
	}
	if m.Quality != models.QualityExcellent {
		t.Fatalf("expected excellent, got %s", m.Quality)
	}
}

func TestQualityFairAt150ms(t *testing.T) {
	clk := newFakeClock()
	tr := New(WithClock(clk.now))

	tr.RecordProbeSent("p1")
	clk.advance(150 * time.Millisecond)
	tr.RecordProbeAck("p1")

	if q := tr.Snapshot().Quality; q != models.QualityFair {
		t.Fatalf("expected fair, got %s", q)
	}
}

func TestUnknownAckIgnored(t *testing.T) {
	tr := New()
	tr.RecordProbeAck("never-sent")

	m := tr.Snapshot()
	if m.ProbesAcked != 0 || m.Quality != models.QualityOffline {
		t.Fatalf("unexpected state after unknown ack: %+v", m)
	}
}

func TestLateAckCountsAsLost(t *testing.T) {
	clk := newFakeClock()
	tr := New(WithClock(clk.now), WithProbeTimeout(10*time.Second))

	tr.RecordProbeSent("p1")
	clk.advance(15 * time.Second)
	tr.RecordProbeAck("p1")

	m := tr.Snapshot()
	if m.ProbesLost != 1 || m.ProbesAcked != 0 {
		t.Fatalf("expected late ack counted as lost, got %+v", m)
	}
	if m.LatencyMS != 0 {
		t.Fatalf("expected no latency sample from a late ack, got %v", m.LatencyMS)
	}

	// The id is resolved; a duplicate ack changes nothing.
	tr.RecordProbeAck("p1")
	if got := tr.Snapshot().ProbesLost; got != 1 {
		t.Fatalf("expected loss counted once, got %d", got)
	}
}

func TestStaleProbesCountAsLost(t *testing.T) {
	clk := newFakeClock()
	tr := New(WithClock(clk.now), WithProbeTimeout(10*time.Second))

	tr.RecordProbeSent("stale")
	clk.advance(11 * time.Second)
	tr.RecordProbeSent("fresh")

	m := tr.Snapshot()
	if m.ProbesLost != 1 {
		t.Fatalf("expected 1 lost probe, got %d", m.ProbesLost)
	}

	// The stale probe can no longer be acked.
	tr.RecordProbeAck("stale")
	if got := tr.Snapshot().ProbesAcked; got != 0 {
		t.Fatalf("expected stale ack ignored, got %d acked", got)
	}
}

func TestLossRateDegradesQuality(t *testing.T) {
	clk := newFakeClock()
	tr := New(WithClock(clk.now), WithProbeTimeout(time.Second))

	// One fast ack, then enough losses to push loss rate past 5%.
	tr.RecordProbeSent("ok")
	clk.advance(10 * time.Millisecond)
	tr.RecordProbeAck("ok")

	for i := 0; i < 3; i++ {
		tr.RecordProbeSent(fmt.Sprintf("lost%d", i))
		clk.advance(2 * time.Second)
	}
	tr.RecordProbeSent("sweep")
	clk.advance(5 * time.Millisecond)
	tr.RecordProbeAck("sweep")

	m := tr.Snapshot()
	if m.ProbesLost != 3 {
		t.Fatalf("expected 3 lost, got %d", m.ProbesLost)
	}
	if m.Quality != models.QualityPoor {
		t.Fatalf("expected poor under %v loss, got %s", m.LossRate, m.Quality)
	}
}

func TestLatencyWindowBounded(t *testing.T) {
	clk := newFakeClock()
	tr := New(WithClock(clk.now))

	// 30 slow samples, then 30 fast ones; the slow batch must age out.
	for i := 0; i < 30; i++ {
		id := fmt.Sprintf("slow%d", i)
		tr.RecordProbeSent(id)
		clk.advance(200 * time.Millisecond)
		tr.RecordProbeAck(id)
	}
	for i := 0; i < 30; i++ {
		id := fmt.Sprintf("fast%d", i)
		tr.RecordProbeSent(id)
		clk.advance(10 * time.Millisecond)
		tr.RecordProbeAck(id)
	}

	m := tr.Snapshot()
	if m.AvgLatencyMS != 10 {
		t.Fatalf("expected window average 10ms, got %v", m.AvgLatencyMS)
	}
	if m.MaxLatencyMS != 200 {
		t.Fatalf("expected lifetime max 200ms, got %v", m.MaxLatencyMS)
	}
}

func TestThroughputWindowRollover(t *testing.T) {
	clk := newFakeClock()
	tr := New(WithClock(clk.now))

	for i := 0; i < 10; i++ {
		tr.RecordMessage(100)
		clk.advance(100 * time.Millisecond)
	}
	// First message after the rollover publishes the previous window.
	tr.RecordMessage(100)

	m := tr.Snapshot()
	if m.MessagesPerSec != 10 {
		t.Fatalf("expected 10 msgs/sec, got %v", m.MessagesPerSec)
	}
	if m.BytesPerSec != 1000 {
		t.Fatalf("expected 1000 bytes/sec, got %v", m.BytesPerSec)
	}
}

func TestLifecycle(t *testing.T) {
	clk := newFakeClock()
	tr := New(WithClock(clk.now))

	tr.RecordConnected()
	clk.advance(5 * time.Second)

	if up := tr.Snapshot().UptimeMS; up != 5000 {
		t.Fatalf("expected 5000ms uptime, got %d", up)
	}

	tr.RecordReconnect()
	tr.RecordDisconnected()

	m := tr.Snapshot()
	if m.UptimeMS != 0 {
		t.Fatalf("expected zeroed uptime, got %d", m.UptimeMS)
	}
	if m.Quality != models.QualityOffline {
		t.Fatalf("expected offline after disconnect, got %s", m.Quality)
	}
	if m.ReconnectCount != 1 {
		t.Fatalf("expected 1 reconnect, got %d", m.ReconnectCount)
	}
}
