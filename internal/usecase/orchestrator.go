package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/service/conntrack"
	"MarketPulse/internal/service/quality"
	"MarketPulse/pkg/cache"
	"MarketPulse/pkg/logger"
)

const (
	defaultAlertCapacity   = 100
	defaultMetricsInterval = time.Second
	defaultCacheTTL        = 60 * time.Second
	defaultPingInterval    = 10 * time.Second
	defaultMultiSourceCap  = 3
	defaultLatencyWarn     = 2 * time.Second
	defaultLatencyCritical = 5 * time.Second
	defaultStreamSource    = "stream"
	latencySampleWindow    = 60

	cacheKeyPrefix = "market"
	cacheTagMarket = "market"
)

// State mirrors the transport lifecycle. Destroyed is terminal.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDestroyed    State = "destroyed"
)

var ErrOrchestratorDestroyed = errors.New("orchestrator destroyed")

// PipelineCache is the cache surface the pipeline needs. Both the
// memory cache and the layered cache satisfy it.
type PipelineCache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error
	Get(ctx context.Context, key string) (interface{}, bool)
	Stats() cache.Stats
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithAlertCapacity bounds the alert ring buffer.
func WithAlertCapacity(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.alertCap = n
		}
	}
}

// WithMetricsInterval sets the metrics tick period.
func WithMetricsInterval(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.metricsInterval = d
		}
	}
}

// WithCacheTTL sets how long ingested snapshots stay cached.
func WithCacheTTL(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.cacheTTL = d
		}
	}
}

// WithPingInterval sets the probe send period.
func WithPingInterval(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pingInterval = d
		}
	}
}

// WithLatencyThresholds sets the source-to-receipt delays that raise
// warning and error alerts.
func WithLatencyThresholds(warn, critical time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if warn > 0 {
			o.latency.warn = warn
		}
		if critical > 0 {
			o.latency.critical = critical
		}
	}
}

// WithStreamSourceID names the streaming connection in the per-symbol
// multi-source buffer.
func WithStreamSourceID(id string) OrchestratorOption {
	return func(o *Orchestrator) {
		if id != "" {
			o.streamSource = id
		}
	}
}

// latencyMonitor keeps a bounded window of source-to-receipt delays.
type latencyMonitor struct {
	mu       sync.Mutex
	samples  [latencySampleWindow]float64
	count    int
	next     int
	warn     time.Duration
	critical time.Duration
}

// observe records one delay and returns the alert severity it breaches,
// or "" when within bounds.
func (m *latencyMonitor) observe(delay time.Duration) models.AlertSeverity {
	m.mu.Lock()
	m.samples[m.next] = float64(delay) / float64(time.Millisecond)
	m.next = (m.next + 1) % latencySampleWindow
	if m.count < latencySampleWindow {
		m.count++
	}
	m.mu.Unlock()

	switch {
	case delay >= m.critical:
		return models.SeverityError
	case delay >= m.warn:
		return models.SeverityWarning
	default:
		return ""
	}
}

func (m *latencyMonitor) avgMS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < m.count; i++ {
		sum += m.samples[i]
	}
	return sum / float64(m.count)
}

type bufferedSnapshot struct {
	Source string
	Snap   *models.Snapshot
	At     time.Time
}

// Orchestrator binds one transport connection to the ingest pipeline:
// parse, latency check, quality gate, anomaly check, buffering, caching
// and event emission. Messages are processed strictly in arrival order
// on a single goroutine.
type Orchestrator struct {
	transport  drepo.Transport
	tracker    *conntrack.Tracker
	validator  *quality.Validator
	cache      PipelineCache
	aggregator *Aggregator
	bus        *EventBus
	sink       drepo.EventSink
	metrics    drepo.Metrics
	log        *logger.Logger

	alertCap        int
	metricsInterval time.Duration
	cacheTTL        time.Duration
	pingInterval    time.Duration
	multiSourceCap  int
	streamSource    string

	latency *latencyMonitor

	mu            sync.Mutex
	state         State
	everConnected bool
	subscriptions map[string]struct{}
	alerts        []models.Alert
	multiSource   map[string][]bufferedSnapshot

	valid     atomic.Int64
	invalid   atomic.Int64
	dropped   atomic.Int64
	anomalies atomic.Int64

	startOnce   sync.Once
	destroyOnce sync.Once
	done        chan struct{}
}

// NewOrchestrator wires the pipeline. sink and metrics may be nil.
func NewOrchestrator(
	transport drepo.Transport,
	tracker *conntrack.Tracker,
	validator *quality.Validator,
	pipelineCache PipelineCache,
	aggregator *Aggregator,
	bus *EventBus,
	sink drepo.EventSink,
	metrics drepo.Metrics,
	log *logger.Logger,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		transport:       transport,
		tracker:         tracker,
		validator:       validator,
		cache:           pipelineCache,
		aggregator:      aggregator,
		bus:             bus,
		sink:            sink,
		metrics:         metrics,
		log:             log,
		alertCap:        defaultAlertCapacity,
		metricsInterval: defaultMetricsInterval,
		cacheTTL:        defaultCacheTTL,
		pingInterval:    defaultPingInterval,
		multiSourceCap:  defaultMultiSourceCap,
		streamSource:    defaultStreamSource,
		latency:         &latencyMonitor{warn: defaultLatencyWarn, critical: defaultLatencyCritical},
		state:           StateDisconnected,
		subscriptions:   make(map[string]struct{}),
		multiSource:     make(map[string][]bufferedSnapshot),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	if o.state != StateDestroyed {
		o.state = s
	}
	o.mu.Unlock()
}

// On subscribes a listener to one event type. Ordering is guaranteed
// within a type only.
func (o *Orchestrator) On(event models.EventType, fn EventListener) {
	o.bus.On(string(event), fn)
}

// Connect opens the transport and starts the pipeline loop. Safe to
// call again after a disconnect; fails after Destroy.
func (o *Orchestrator) Connect(ctx context.Context) error {
	if o.State() == StateDestroyed {
		return ErrOrchestratorDestroyed
	}
	if o.State() == StateConnected {
		return nil
	}

	o.setState(StateConnecting)
	if err := o.transport.Connect(ctx); err != nil {
		o.setState(StateDisconnected)
		o.raiseAlert("connection", models.SeverityError, "connect failed", map[string]any{"error": err.Error()})
		return fmt.Errorf("connect transport: %w", err)
	}

	o.startOnce.Do(func() { go o.run() })
	return nil
}

// Disconnect closes the transport. Idempotent; safe before Connect.
func (o *Orchestrator) Disconnect() error {
	if o.State() == StateDestroyed {
		return nil
	}
	err := o.transport.Disconnect()
	o.setState(StateDisconnected)
	return err
}

// Destroy stops the pipeline loop and tears the transport down. One-way
// and idempotent; further transport events are ignored and no metrics
// tick fires again.
func (o *Orchestrator) Destroy() error {
	o.destroyOnce.Do(func() {
		close(o.done)
		_ = o.transport.Destroy()
		o.mu.Lock()
		o.state = StateDestroyed
		o.mu.Unlock()
	})
	return nil
}

// Subscribe registers symbols and, when connected, sends the control
// message upstream. Subscriptions survive reconnects.
func (o *Orchestrator) Subscribe(ctx context.Context, symbols ...string) error {
	if len(symbols) == 0 {
		return nil
	}

	o.mu.Lock()
	for _, s := range symbols {
		o.subscriptions[s] = struct{}{}
	}
	connected := o.state == StateConnected
	o.mu.Unlock()

	if !connected {
		return nil
	}
	return o.transport.Send(ctx, models.NewSubscribe(symbols))
}

// Unsubscribe drops symbols and notifies the upstream when connected.
func (o *Orchestrator) Unsubscribe(ctx context.Context, symbols ...string) error {
	if len(symbols) == 0 {
		return nil
	}

	o.mu.Lock()
	for _, s := range symbols {
		delete(o.subscriptions, s)
	}
	connected := o.state == StateConnected
	o.mu.Unlock()

	if !connected {
		return nil
	}
	return o.transport.Send(ctx, models.NewUnsubscribe(symbols))
}

// GetCachedData returns the freshest cached snapshot for a symbol.
func (o *Orchestrator) GetCachedData(symbol string) (*models.Snapshot, bool) {
	v, ok := o.cache.Get(context.Background(), cache.GenerateKey(cacheKeyPrefix, symbol))
	if !ok {
		return nil, false
	}
	snap, ok := v.(*models.Snapshot)
	return snap, ok
}

// Aggregate pulls a symbol through the multi-source aggregator and, on
// success, caches and buffers the answer like a streamed snapshot.
func (o *Orchestrator) Aggregate(ctx context.Context, symbol string) (*models.AggregationResult, error) {
	start := time.Now()
	result, err := o.aggregator.Aggregate(ctx, symbol)
	if o.metrics != nil {
		o.metrics.RecordLatency("aggregate", time.Since(start).Seconds())
	}
	if err != nil {
		return result, err
	}

	o.bufferSnapshot(result.PrimarySource, result.Data)
	key := cache.GenerateKey(cacheKeyPrefix, symbol)
	if cerr := o.cache.Set(ctx, key, result.Data, o.cacheTTL, cacheTagMarket); cerr != nil {
		o.logWarn("cache aggregated snapshot", logger.String("symbol", symbol), logger.Error(cerr))
	}
	return result, nil
}

// Alerts returns a copy of the alert log, oldest first.
func (o *Orchestrator) Alerts() []models.Alert {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]models.Alert, len(o.alerts))
	copy(out, o.alerts)
	return out
}

// ClearAlerts empties the alert log.
func (o *Orchestrator) ClearAlerts() {
	o.mu.Lock()
	o.alerts = nil
	o.mu.Unlock()
}

// ConnectionMetrics returns the tracker's current view.
func (o *Orchestrator) ConnectionMetrics() models.ConnectionMetrics {
	return o.tracker.Snapshot()
}

// MultiSourceSnapshots returns the per-source buffer for a symbol,
// suitable for a cross-source consistency check.
func (o *Orchestrator) MultiSourceSnapshots(symbol string) map[string]*models.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[string]*models.Snapshot, len(o.multiSource[symbol]))
	for _, entry := range o.multiSource[symbol] {
		out[entry.Source] = entry.Snap
	}
	return out
}

// PipelineSnapshot computes the current pipeline metrics. The quality
// score weighs the valid rate at 80% and the anomaly-free rate at 20%.
func (o *Orchestrator) PipelineSnapshot() models.PipelineMetrics {
	valid := o.valid.Load()
	invalid := o.invalid.Load()
	anomalies := o.anomalies.Load()

	score := 100.0
	if total := valid + invalid; total > 0 {
		score = float64(valid)/float64(total)*80 + (1-float64(anomalies)/float64(total))*20
		if score < 0 {
			score = 0
		}
		if score > 100 {
			score = 100
		}
	}

	stats := o.cache.Stats()
	return models.PipelineMetrics{
		CacheHitRate:     stats.HitRate,
		AvgLatencyMS:     o.latency.avgMS(),
		DataQualityScore: score,
		ValidMessages:    valid,
		InvalidMessages:  invalid,
		DroppedMessages:  o.dropped.Load(),
		Anomalies:        anomalies,
	}
}

// run is the single pipeline goroutine: transport events, metrics tick
// and probe tick all serialize here.
func (o *Orchestrator) run() {
	metricsTicker := time.NewTicker(o.metricsInterval)
	defer metricsTicker.Stop()
	pingTicker := time.NewTicker(o.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-o.done:
			return
		case ev, ok := <-o.transport.Events():
			if !ok {
				return
			}
			o.handleTransportEvent(ev)
		case <-metricsTicker.C:
			if o.State() == StateConnected {
				o.emitMetrics()
			}
		case <-pingTicker.C:
			if o.State() == StateConnected {
				o.sendProbe()
			}
		}
	}
}

func (o *Orchestrator) handleTransportEvent(ev models.TransportEvent) {
	switch ev.Kind {
	case models.TransportOpen:
		o.mu.Lock()
		reconnect := o.everConnected
		o.everConnected = true
		if o.state != StateDestroyed {
			o.state = StateConnected
		}
		symbols := make([]string, 0, len(o.subscriptions))
		for s := range o.subscriptions {
			symbols = append(symbols, s)
		}
		o.mu.Unlock()

		o.tracker.RecordConnected()
		if reconnect {
			o.tracker.RecordReconnect()
		}
		if len(symbols) > 0 {
			if err := o.transport.Send(context.Background(), models.NewSubscribe(symbols)); err != nil {
				o.logWarn("resubscribe failed", logger.Error(err))
			}
		}
		o.raiseAlert("connection", models.SeverityInfo, "connection established", nil)
		o.bus.Emit(string(models.EventConnected), nil)

	case models.TransportMessage:
		o.processMessage(ev.Payload, time.Now())

	case models.TransportError:
		o.raiseAlert("connection", models.SeverityError, "transport error", map[string]any{"error": fmt.Sprint(ev.Err)})

	case models.TransportClosed:
		o.setState(StateDisconnected)
		o.tracker.RecordDisconnected()
		o.raiseAlert("connection", models.SeverityWarning, "connection closed", nil)
		o.bus.Emit(string(models.EventDisconnected), nil)

	case models.TransportStatus:
		o.logInfo("transport status", logger.String("status", ev.Status))
	}
}

// processMessage runs the per-message pipeline in arrival order.
func (o *Orchestrator) processMessage(raw []byte, receivedAt time.Time) {
	o.tracker.RecordMessage(len(raw))

	msg, err := models.ParseInbound(raw, receivedAt)
	if err != nil {
		o.dropped.Add(1)
		if o.metrics != nil {
			o.metrics.RecordDrop("parse")
		}
		o.logDebug("dropped unparseable message", logger.Error(err))
		return
	}

	switch msg.Kind {
	case models.KindPong:
		o.tracker.RecordProbeAck(msg.ProbeID)
		return
	case models.KindMarketData:
		// falls through to the pipeline below
	default:
		if o.metrics != nil {
			o.metrics.RecordMessage(string(msg.Kind))
		}
		o.bus.Emit(string(msg.Kind), msg)
		return
	}

	snap := msg.Market
	delay := receivedAt.Sub(time.UnixMilli(snap.Timestamp))
	if sev := o.latency.observe(delay); sev != "" {
		o.raiseAlert("latency", sev,
			fmt.Sprintf("data for %s delayed by %v", snap.Symbol, delay.Truncate(time.Millisecond)),
			map[string]any{"symbol": snap.Symbol})
	}

	report := o.validator.Validate(snap)
	if !report.IsValid {
		o.invalid.Add(1)
		if o.metrics != nil {
			o.metrics.RecordDrop("quality")
		}
		o.raiseAlert("quality", models.SeverityError,
			fmt.Sprintf("rejected snapshot for %s", snap.Symbol),
			map[string]any{"symbol": snap.Symbol, "errors": report.Errors})
		return
	}
	if len(report.Warnings) > 0 {
		o.raiseAlert("quality", models.SeverityWarning,
			fmt.Sprintf("suspect snapshot for %s", snap.Symbol),
			map[string]any{"symbol": snap.Symbol, "warnings": report.Warnings})
	}

	if det := o.validator.DetectAnomalies(snap); det.HasAnomaly {
		o.anomalies.Add(1)
		if o.metrics != nil {
			o.metrics.RecordAnomaly(snap.Symbol)
		}
		sev := models.SeverityInfo
		if det.Confidence > 0.8 {
			sev = models.SeverityWarning
		}
		o.raiseAlert("anomaly", sev, det.Description,
			map[string]any{"symbol": snap.Symbol, "confidence": det.Confidence})
	}

	if snap.OHLCV != nil {
		o.validator.UpdateHistory(snap.Symbol, *snap.OHLCV)
	}
	o.bufferSnapshot(o.streamSource, snap)

	key := cache.GenerateKey(cacheKeyPrefix, snap.Symbol)
	if err := o.cache.Set(context.Background(), key, snap, o.cacheTTL, cacheTagMarket); err != nil {
		o.logWarn("cache snapshot", logger.String("symbol", snap.Symbol), logger.Error(err))
	}

	o.valid.Add(1)
	if o.metrics != nil {
		o.metrics.RecordMessage(string(models.KindMarketData))
		if price, ok := snap.Price(); ok {
			o.metrics.RecordLastPrice(snap.Symbol, price)
		}
		o.metrics.RecordLatency("process_message", time.Since(receivedAt).Seconds())
	}

	o.bus.Emit(string(models.EventData), snap)
	if o.sink != nil {
		if err := o.sink.PublishData(context.Background(), snap); err != nil {
			o.logWarn("publish data event", logger.String("symbol", snap.Symbol), logger.Error(err))
		}
	}
}

// bufferSnapshot upserts a source's latest snapshot for the symbol,
// evicting the oldest source past the cap.
func (o *Orchestrator) bufferSnapshot(source string, snap *models.Snapshot) {
	if source == "" || snap == nil {
		return
	}

	entry := bufferedSnapshot{Source: source, Snap: snap, At: time.Now()}

	o.mu.Lock()
	defer o.mu.Unlock()

	buf := o.multiSource[snap.Symbol]
	for i := range buf {
		if buf[i].Source == source {
			buf[i] = entry
			return
		}
	}
	buf = append(buf, entry)
	if len(buf) > o.multiSourceCap {
		// An upsert refreshes At in place, so position is not age.
		oldest := 0
		for i := range buf {
			if buf[i].At.Before(buf[oldest].At) {
				oldest = i
			}
		}
		buf = append(buf[:oldest], buf[oldest+1:]...)
	}
	o.multiSource[snap.Symbol] = buf
}

func (o *Orchestrator) emitMetrics() {
	pm := o.PipelineSnapshot()
	if o.metrics != nil {
		o.metrics.SetCacheHitRate(pm.CacheHitRate)
		o.metrics.SetQualityScore(pm.DataQualityScore)
	}
	o.bus.Emit(string(models.EventMetrics), pm)
}

func (o *Orchestrator) sendProbe() {
	id := uuid.NewString()
	if err := o.transport.Send(context.Background(), models.NewPing(id)); err != nil {
		o.logDebug("probe send failed", logger.Error(err))
		return
	}
	o.tracker.RecordProbeSent(id)
}

func (o *Orchestrator) raiseAlert(typ string, sev models.AlertSeverity, msg string, data map[string]any) {
	alert := models.NewAlert(typ, sev, msg, data)

	o.mu.Lock()
	o.alerts = append(o.alerts, alert)
	if len(o.alerts) > o.alertCap {
		o.alerts = o.alerts[len(o.alerts)-o.alertCap:]
	}
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.RecordAlert(string(sev))
	}
	o.bus.Emit(string(models.EventAlert), alert)
	if o.sink != nil {
		if err := o.sink.PublishAlert(context.Background(), alert); err != nil {
			o.logWarn("publish alert", logger.Error(err))
		}
	}

	switch sev {
	case models.SeverityError:
		o.logWarn("alert: "+msg, logger.String("type", typ))
	default:
		o.logDebug("alert: "+msg, logger.String("type", typ))
	}
}

func (o *Orchestrator) logWarn(msg string, fields ...logger.Field) {
	if o.log != nil {
		o.log.Warn(msg, fields...)
	}
}

func (o *Orchestrator) logInfo(msg string, fields ...logger.Field) {
	if o.log != nil {
		o.log.Info(msg, fields...)
	}
}

func (o *Orchestrator) logDebug(msg string, fields ...logger.Field) {
	if o.log != nil {
		o.log.Debug(msg, fields...)
	}
}
