package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/service/quality"
	"MarketPulse/pkg/logger"
)

const (
	defaultFetchTimeout  = 5 * time.Second
	defaultMinSources    = 1
	healthyThreshold     = 50.0
	initialSourceHealth  = 100.0
	healthRewardDefault  = 5.0
	healthPenaltyDefault = 15.0
)

var (
	ErrNoHealthySources    = errors.New("no healthy sources available")
	ErrInsufficientSources = errors.New("insufficient sources")
	ErrAllSourcesFailed    = errors.New("all sources failed")
	ErrSourceExists        = errors.New("source already registered")
)

// ScorePolicy folds one fetch outcome into a source's health score.
// Implementations must return a value in [0,100].
type ScorePolicy func(current float64, ok bool) float64

// DefaultScorePolicy rewards success slowly and punishes failure fast,
// so a flapping source drops below the healthy threshold quickly.
func DefaultScorePolicy(current float64, ok bool) float64 {
	if ok {
		current += healthRewardDefault
	} else {
		current -= healthPenaltyDefault
	}
	if current > 100 {
		return 100
	}
	if current < 0 {
		return 0
	}
	return current
}

// DataSource describes one registered provider. Lower Priority wins.
type DataSource struct {
	ID       string
	Priority int
	Enabled  bool
	Fetcher  drepo.SourceFetcher
}

// SourceStatus is the externally visible state of a registered source.
type SourceStatus struct {
	ID       string  `json:"id"`
	Priority int     `json:"priority"`
	Enabled  bool    `json:"enabled"`
	Health   float64 `json:"health"`
	Healthy  bool    `json:"healthy"`
}

type sourceState struct {
	DataSource
	health float64
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithFetchTimeout bounds each Aggregate call, primaries and
// secondaries alike.
func WithFetchTimeout(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if d > 0 {
			a.fetchTimeout = d
		}
	}
}

// WithMinSources sets how many healthy sources Aggregate requires
// before attempting any fetch.
func WithMinSources(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n > 0 {
			a.minSources = n
		}
	}
}

// WithScorePolicy swaps the health scoring function.
func WithScorePolicy(p ScorePolicy) AggregatorOption {
	return func(a *Aggregator) {
		if p != nil {
			a.policy = p
		}
	}
}

// Aggregator fans one symbol request out to registered sources and
// reconciles the answers: the highest-priority success is authoritative,
// the rest feed cross-source validation.
type Aggregator struct {
	mu      sync.Mutex
	sources map[string]*sourceState

	validator *quality.Validator
	metrics   drepo.Metrics
	log       *logger.Logger

	fetchTimeout time.Duration
	minSources   int
	policy       ScorePolicy
}

// NewAggregator creates an Aggregator with no sources registered.
func NewAggregator(
	validator *quality.Validator,
	metrics drepo.Metrics,
	log *logger.Logger,
	opts ...AggregatorOption,
) *Aggregator {
	a := &Aggregator{
		sources:      make(map[string]*sourceState),
		validator:    validator,
		metrics:      metrics,
		log:          log,
		fetchTimeout: defaultFetchTimeout,
		minSources:   defaultMinSources,
		policy:       DefaultScorePolicy,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register adds a source with full health. Duplicate ids are rejected.
func (a *Aggregator) Register(src DataSource) error {
	if src.ID == "" {
		return fmt.Errorf("source id is required")
	}
	if src.Fetcher == nil {
		return fmt.Errorf("source %q has no fetcher", src.ID)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.sources[src.ID]; ok {
		return fmt.Errorf("%w: %s", ErrSourceExists, src.ID)
	}
	a.sources[src.ID] = &sourceState{DataSource: src, health: initialSourceHealth}
	if a.metrics != nil {
		a.metrics.SetSourceHealth(src.ID, initialSourceHealth)
	}
	return nil
}

// Unregister removes a source, reporting whether it existed.
func (a *Aggregator) Unregister(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok := a.sources[id]
	delete(a.sources, id)
	return ok
}

// SetEnabled toggles a source without losing its health score.
func (a *Aggregator) SetEnabled(id string, enabled bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	src, ok := a.sources[id]
	if !ok {
		return false
	}
	src.Enabled = enabled
	return true
}

// HealthySources returns ids of enabled sources above the health
// threshold, best priority first.
func (a *Aggregator) HealthySources() []string {
	states := a.orderedHealthy()
	ids := make([]string, 0, len(states))
	for _, s := range states {
		ids = append(ids, s.ID)
	}
	return ids
}

// Stats returns the state of every registered source, best priority
// first.
func (a *Aggregator) Stats() []SourceStatus {
	a.mu.Lock()
	states := make([]*sourceState, 0, len(a.sources))
	for _, s := range a.sources {
		states = append(states, s)
	}
	a.mu.Unlock()

	sort.Slice(states, func(i, j int) bool {
		if states[i].Priority != states[j].Priority {
			return states[i].Priority < states[j].Priority
		}
		return states[i].ID < states[j].ID
	})

	out := make([]SourceStatus, 0, len(states))
	for _, s := range states {
		out = append(out, SourceStatus{
			ID:       s.ID,
			Priority: s.Priority,
			Enabled:  s.Enabled,
			Health:   s.health,
			Healthy:  s.Enabled && s.health > healthyThreshold,
		})
	}
	return out
}

// Aggregate fetches one symbol from every healthy source under a single
// pinned deadline. The highest-priority success becomes the answer;
// additional successes are compared for divergence. Sources that miss
// the deadline count as failures.
func (a *Aggregator) Aggregate(ctx context.Context, symbol string) (*models.AggregationResult, error) {
	result := &models.AggregationResult{}

	healthy := a.orderedHealthy()
	if len(healthy) == 0 {
		result.Errors = append(result.Errors, ErrNoHealthySources.Error())
		return result, ErrNoHealthySources
	}
	if len(healthy) < a.minSources {
		err := fmt.Errorf("%w: %d healthy, need %d", ErrInsufficientSources, len(healthy), a.minSources)
		result.Errors = append(result.Errors, err.Error())
		return result, err
	}

	fctx, cancel := context.WithTimeout(ctx, a.fetchTimeout)
	defer cancel()

	type outcome struct {
		id   string
		snap *models.Snapshot
		err  error
	}
	outcomes := make(chan outcome, len(healthy))
	for _, src := range healthy {
		go func(id string, fetcher drepo.SourceFetcher) {
			snap, err := fetcher.Fetch(fctx, symbol)
			if err == nil && snap == nil {
				err = fmt.Errorf("source returned no data")
			}
			outcomes <- outcome{id: id, snap: snap, err: err}
		}(src.ID, src.Fetcher)
	}

	snaps := make(map[string]*models.Snapshot, len(healthy))
	errs := make(map[string]error, len(healthy))

collect:
	for range healthy {
		select {
		case out := <-outcomes:
			if out.err != nil {
				errs[out.id] = out.err
			} else {
				snaps[out.id] = out.snap
			}
		case <-fctx.Done():
			break collect
		}
	}

	for _, src := range healthy {
		_, ok := snaps[src.ID]
		if !ok {
			if _, failed := errs[src.ID]; !failed {
				errs[src.ID] = fctx.Err()
			}
		}
		a.scoreSource(src.ID, ok)
	}

	for _, src := range healthy {
		if err, ok := errs[src.ID]; ok {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", src.ID, err))
		}
	}

	for i, src := range healthy {
		snap, ok := snaps[src.ID]
		if !ok {
			continue
		}
		if result.Data == nil {
			result.Success = true
			result.Data = snap
			result.PrimarySource = src.ID
			result.FallbackUsed = i > 0
		}
		result.Sources = append(result.Sources, src.ID)
	}

	if result.Data == nil {
		a.logWarn("aggregation failed for all sources",
			logger.String("symbol", symbol),
			logger.Int("sources", len(healthy)))
		return result, fmt.Errorf("%w: %s", ErrAllSourcesFailed, symbol)
	}

	if len(snaps) >= 2 && a.validator != nil {
		validation := a.validator.ValidateCrossSources(snaps)
		result.Validation = &validation
		if !validation.IsConsistent {
			a.logWarn("sources disagree on price",
				logger.String("symbol", symbol),
				logger.Strings("sources", validation.Sources),
				logger.Any("max_divergence", validation.MaxDivergence))
		}
	}

	if result.FallbackUsed {
		a.logInfo("primary source failed over",
			logger.String("symbol", symbol),
			logger.String("primary", result.PrimarySource))
	}
	return result, nil
}

func (a *Aggregator) logWarn(msg string, fields ...logger.Field) {
	if a.log != nil {
		a.log.Warn(msg, fields...)
	}
}

func (a *Aggregator) logInfo(msg string, fields ...logger.Field) {
	if a.log != nil {
		a.log.Info(msg, fields...)
	}
}

// orderedHealthy snapshots the healthy sources, best priority first.
func (a *Aggregator) orderedHealthy() []DataSource {
	a.mu.Lock()
	out := make([]DataSource, 0, len(a.sources))
	for _, s := range a.sources {
		if s.Enabled && s.health > healthyThreshold {
			out = append(out, s.DataSource)
		}
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (a *Aggregator) scoreSource(id string, ok bool) {
	a.mu.Lock()
	src, found := a.sources[id]
	if !found {
		a.mu.Unlock()
		return
	}
	src.health = a.policy(src.health, ok)
	score := src.health
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.SetSourceHealth(id, score)
	}
}
