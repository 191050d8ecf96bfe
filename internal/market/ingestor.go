package market

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"treasuryd/internal/cache"
	"treasuryd/internal/errors"
	"treasuryd/internal/logger"
	"treasuryd/internal/market/breaker"
	"treasuryd/internal/market/quality"
	"treasuryd/internal/market/source"
	"treasuryd/internal/monitor"
	"treasuryd/internal/types"
)

// PipelineSource identifies results produced by this pipeline
const PipelineSource = "market_data_pipeline"

const summaryCacheKey = "market:latest_summary"

// Risk sentiment thresholds on the fed funds rate, in percent
var (
	riskOffRate = decimal.NewFromFloat(5.5)
	riskOnRate  = decimal.NewFromInt(2)
)

// IngestionResult is the outcome of one ingestion cycle
type IngestionResult struct {
	Success          bool            `json:"success"`
	Source           string          `json:"source"`
	CycleID          string          `json:"cycle_id"`
	RecordsProcessed int             `json:"records_processed"`
	Timestamp        time.Time       `json:"timestamp"`
	QualityReport    *quality.Report `json:"quality_report"`
	Errors           []string        `json:"errors,omitempty"`
}

// Store is the persistence collaborator for snapshots and reports
type Store interface {
	SaveSnapshot(ctx context.Context, snapshot *types.Snapshot, report *quality.Report) error
	GetRecentSnapshots(ctx context.Context, limit int) ([]*types.Snapshot, error)
	GetLatestSnapshot(ctx context.Context) (*types.Snapshot, error)
}

// Config holds the orchestration settings
type Config struct {
	FetchTimeout    time.Duration
	CycleTimeout    time.Duration
	HistoryWindow   int
	SummaryCacheTTL time.Duration
}

// Ingestor coordinates the market-data pipeline: concurrent source fetch
// behind circuit breakers, quality validation, anomaly detection and
// persistence of the resulting snapshot.
type Ingestor struct {
	fetchers []source.Fetcher
	breakers *breaker.Registry
	engine   *quality.Engine
	detector *quality.Detector
	store    Store
	cache    cache.Cache
	metrics  *monitor.MetricsCollector
	cfg      Config

	// Serializes ingestion cycles: snapshot writes are single-writer.
	cycleMu sync.Mutex

	mu         sync.RWMutex
	lastResult *IngestionResult
}

// NewIngestor creates the ingestion orchestrator
func NewIngestor(
	fetchers []source.Fetcher,
	breakers *breaker.Registry,
	engine *quality.Engine,
	detector *quality.Detector,
	store Store,
	c cache.Cache,
	metrics *monitor.MetricsCollector,
	cfg Config,
) *Ingestor {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 45 * time.Second
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 30
	}
	if cfg.SummaryCacheTTL <= 0 {
		cfg.SummaryCacheTTL = time.Minute
	}
	return &Ingestor{
		fetchers: fetchers,
		breakers: breakers,
		engine:   engine,
		detector: detector,
		store:    store,
		cache:    c,
		metrics:  metrics,
		cfg:      cfg,
	}
}

type fetchResult struct {
	fetcher string
	frag    types.Fragment
	err     error
}

func isRetryable(err error) bool {
	if appErr := errors.GetAppError(err); appErr != nil {
		return appErr.IsRetryable()
	}
	return false
}

// IngestMarketData runs one ingestion cycle and returns its result. Source
// fetches run concurrently and are failure-isolated: one source failing or
// hanging never aborts the others. Only an empty merged snapshot or a
// persistence failure makes the cycle unsuccessful.
func (i *Ingestor) IngestMarketData(ctx context.Context) *IngestionResult {
	i.cycleMu.Lock()
	defer i.cycleMu.Unlock()

	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, i.cfg.CycleTimeout)
	defer cancel()

	result := &IngestionResult{
		Source:    PipelineSource,
		CycleID:   uuid.New().String(),
		Timestamp: started,
	}

	snapshot := types.NewSnapshot(result.CycleID, started)
	for _, res := range i.fanOut(ctx) {
		if res.err != nil {
			// Recoverable source-level failures are expected during
			// upstream outages; anything else deserves a louder log.
			if errors.IsSourceError(res.err) {
				logger.Warn("Source fetch failed",
					"fetcher", res.fetcher, "error", res.err.Error(),
					"retryable", isRetryable(res.err))
			} else {
				logger.Error("Source fetch failed unexpectedly",
					"fetcher", res.fetcher, "error", res.err.Error())
			}
			result.Errors = append(result.Errors, res.fetcher+": "+res.err.Error())
			i.metrics.RecordFetchError(res.fetcher)
			continue
		}
		snapshot.Merge(res.frag)
	}

	// History is read-only within a cycle; the new snapshot is appended
	// only after validation completes.
	history, err := i.store.GetRecentSnapshots(ctx, i.cfg.HistoryWindow)
	if err != nil {
		logger.Warn("Failed to load snapshot history, skipping anomaly detection",
			"error", err.Error())
		history = nil
	}

	report := i.engine.Validate(snapshot, PipelineSource)
	i.engine.Finalize(report, i.detector.DetectAnomalies(snapshot, history))
	result.QualityReport = report
	result.RecordsProcessed = snapshot.Len()

	if snapshot.Len() == 0 {
		result.Errors = append(result.Errors, "all sources failed, snapshot is empty")
	} else if err := i.store.SaveSnapshot(ctx, snapshot, report); err != nil {
		result.Errors = append(result.Errors, "persistence failed: "+err.Error())
	} else {
		result.Success = true
		i.cacheSummary(ctx, snapshot)
	}

	i.publishMetrics(result, time.Since(started))

	i.mu.Lock()
	i.lastResult = result
	i.mu.Unlock()

	logger.Info("Ingestion cycle completed",
		"cycle_id", result.CycleID,
		"success", result.Success,
		"records", result.RecordsProcessed,
		"quality_score", report.QualityScore,
		"issues", len(report.Issues),
		"duration", time.Since(started).String())

	return result
}

// fanOut runs all fetchers concurrently with a per-fetch timeout and blocks
// until every one has completed or timed out.
func (i *Ingestor) fanOut(ctx context.Context) []fetchResult {
	results := make([]fetchResult, len(i.fetchers))

	var wg sync.WaitGroup
	for idx, f := range i.fetchers {
		wg.Add(1)
		go func(idx int, f source.Fetcher) {
			defer wg.Done()

			fetchCtx, cancel := context.WithTimeout(ctx, i.cfg.FetchTimeout)
			defer cancel()

			frag, err := f.Fetch(fetchCtx)
			results[idx] = fetchResult{fetcher: f.Name(), frag: frag, err: err}
		}(idx, f)
	}
	wg.Wait()

	return results
}

func (i *Ingestor) cacheSummary(ctx context.Context, snapshot *types.Snapshot) {
	summary := BuildSummary(snapshot)
	if err := i.cache.Set(ctx, summaryCacheKey, summary, i.cfg.SummaryCacheTTL); err != nil {
		logger.Warn("Failed to cache market summary", "error", err.Error())
	}
}

func (i *Ingestor) publishMetrics(result *IngestionResult, elapsed time.Duration) {
	i.metrics.RecordCycle(result.Success, elapsed.Seconds(), result.RecordsProcessed)

	issueCounts := make(map[string]map[string]int)
	for _, issue := range result.QualityReport.Issues {
		byType, ok := issueCounts[string(issue.IssueType)]
		if !ok {
			byType = make(map[string]int)
			issueCounts[string(issue.IssueType)] = byType
		}
		byType[string(issue.Severity)]++
	}
	i.metrics.RecordQuality(result.QualityReport.QualityScore, issueCounts)

	for name, state := range i.breakers.States() {
		i.metrics.SetBreakerState(name, state.Open)
	}
}

// LastResult returns the outcome of the most recent ingestion cycle
func (i *Ingestor) LastResult() *IngestionResult {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.lastResult
}

// ValidateMarketData validates a snapshot without ingesting it
func (i *Ingestor) ValidateMarketData(snapshot *types.Snapshot, sourceName string) *quality.Report {
	return i.engine.Validate(snapshot, sourceName)
}

// DetectAnomalies compares a snapshot against a historical series
func (i *Ingestor) DetectAnomalies(current *types.Snapshot, history []*types.Snapshot) []quality.Issue {
	return i.detector.DetectAnomalies(current, history)
}

// IsCircuitOpen reports whether the breaker for a source is open
func (i *Ingestor) IsCircuitOpen(sourceName string) bool {
	return i.breakers.IsOpen(sourceName)
}

// RecordCircuitBreakerFailure records a failure against a source breaker
func (i *Ingestor) RecordCircuitBreakerFailure(sourceName string) {
	i.breakers.RecordFailure(sourceName)
}

// ResetCircuitBreaker closes the breaker for a source
func (i *Ingestor) ResetCircuitBreaker(sourceName string) {
	i.breakers.Reset(sourceName)
}

// BreakerStates returns all breaker states for monitoring
func (i *Ingestor) BreakerStates() map[string]breaker.State {
	return i.breakers.States()
}
