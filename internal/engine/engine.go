package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/smartfarm/dashboard-client/internal/api"
	"github.com/smartfarm/dashboard-client/internal/metrics"
	"github.com/smartfarm/dashboard-client/internal/model"
	"github.com/smartfarm/dashboard-client/internal/selection"
)

// Fetcher is what the engine needs from the REST layer.
type Fetcher interface {
	FetchDashboard(ctx context.Context, farmID model.FarmID) (*api.Aggregate, error)
}

type Config struct {
	Store   *selection.Store
	Fetcher Fetcher

	// Interval between scheduled refreshes; selection changes and CRUD
	// successes trigger immediate ones on top.
	Interval time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Engine keeps the authoritative live snapshot for the selected farm. One
// loop goroutine is the only snapshot writer; fetches run concurrently and
// funnel their results back through it, so overlapping polls never race.
//
// Every fetch is stamped with the farm id active at dispatch. A result is
// applied only if that stamp still matches the current selection - a slow
// response for a farm the user navigated away from is discarded, whatever
// order it arrives in.
type Engine struct {
	store    *selection.Store
	fetcher  Fetcher
	interval time.Duration
	log      *zap.Logger
	met      *metrics.Metrics
	limiter  *rate.Limiter

	mu      sync.RWMutex
	snap    model.Snapshot
	lastErr error

	refreshC chan struct{}
	results  chan fetchResult
	selCh    chan model.FarmID

	subMu sync.Mutex
	subs  map[chan model.Snapshot]struct{}
}

type fetchResult struct {
	farmID model.FarmID
	agg    *api.Aggregate
	err    error
}

func New(cfg Config) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}
	return &Engine{
		store:    cfg.Store,
		fetcher:  cfg.Fetcher,
		interval: cfg.Interval,
		log:      cfg.Logger,
		met:      cfg.Metrics,
		// CRUD success bursts coalesce instead of stampeding the backend.
		limiter:  rate.NewLimiter(rate.Every(time.Second), 3),
		refreshC: make(chan struct{}, 1),
		results:  make(chan fetchResult, 8),
		// Subscribed at construction so a selection made before Run
		// starts still triggers the first refresh.
		selCh: cfg.Store.Subscribe(),
		subs:  make(map[chan model.Snapshot]struct{}),
	}
}

// Run owns the refresh schedule until ctx is cancelled. The ticker dies
// with the context, so an unmounted dashboard cannot leak a background
// poll loop.
func (e *Engine) Run(ctx context.Context) {
	defer e.store.Unsubscribe(e.selCh)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.dispatch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.dispatch(ctx)
		case id := <-e.selCh:
			if id == 0 {
				e.reset()
				continue
			}
			e.dispatch(ctx)
		case <-e.refreshC:
			e.dispatch(ctx)
		case r := <-e.results:
			e.apply(r)
		}
	}
}

// Refresh requests an immediate cycle; non-blocking and rate-limited.
func (e *Engine) Refresh() {
	if !e.limiter.Allow() {
		return
	}
	select {
	case e.refreshC <- struct{}{}:
	default:
	}
}

// Snapshot returns a clone of the current live view.
func (e *Engine) Snapshot() model.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap.Clone()
}

// LastError returns the transient error of the most recent failed refresh,
// nil after a successful one.
func (e *Engine) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// Subscribe returns a channel receiving a snapshot clone after every
// applied refresh. Sends never block.
func (e *Engine) Subscribe() chan model.Snapshot {
	ch := make(chan model.Snapshot, 4)
	e.subMu.Lock()
	e.subs[ch] = struct{}{}
	e.subMu.Unlock()
	return ch
}

func (e *Engine) Unsubscribe(ch chan model.Snapshot) {
	e.subMu.Lock()
	delete(e.subs, ch)
	e.subMu.Unlock()
}

func (e *Engine) publish(snap model.Snapshot) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for ch := range e.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// dispatch stamps the current farm id and launches a fetch. No selection,
// no fetch.
func (e *Engine) dispatch(ctx context.Context) {
	farm, ok := e.store.Current()
	if !ok {
		return
	}
	id := farm.ID
	go func() {
		agg, err := e.fetcher.FetchDashboard(ctx, id)
		select {
		case e.results <- fetchResult{farmID: id, agg: agg, err: err}:
		case <-ctx.Done():
		}
	}()
}

// apply is the admission check plus merge. Results stamped with a farm
// other than the currently selected one are dropped; that is correct
// behavior, not a failure, so it never logs above Debug.
func (e *Engine) apply(r fetchResult) {
	if r.farmID != e.store.CurrentID() {
		e.met.StaleDiscards.Inc()
		e.log.Debug("discarding fetch result for deselected farm", zap.Int64("farm_id", int64(r.farmID)))
		return
	}

	e.mu.Lock()
	if r.err != nil {
		// Keep whatever was on screen; stale-but-present beats empty.
		e.snap.Stale = true
		e.lastErr = r.err
		snap := e.snap.Clone()
		e.mu.Unlock()
		e.met.RefreshTotal.WithLabelValues("error").Inc()
		e.log.Warn("refresh failed, keeping previous snapshot", zap.Int64("farm_id", int64(r.farmID)), zap.Error(r.err))
		e.publish(snap)
		return
	}

	e.snap = model.Snapshot{
		Readings:    MergeReadings(r.agg.Readings),
		Devices:     r.agg.Devices,
		Rules:       r.agg.Rules,
		History:     r.agg.History,
		LastUpdated: time.Now(),
	}
	e.lastErr = nil
	snap := e.snap.Clone()
	e.mu.Unlock()
	e.met.RefreshTotal.WithLabelValues("ok").Inc()
	e.publish(snap)
}

// reset clears the snapshot after the selection is cleared.
func (e *Engine) reset() {
	e.mu.Lock()
	e.snap = model.Snapshot{}
	e.lastErr = nil
	snap := e.snap
	e.mu.Unlock()
	e.publish(snap)
}

// MergeReadings reduces a latest-readings list to one value per recognized
// metric. Unknown metric types are dropped, not stored; a later duplicate
// supersedes an earlier one.
func MergeReadings(in []model.SensorReading) map[model.Metric]float64 {
	out := make(map[model.Metric]float64, len(model.Metrics))
	for _, r := range in {
		m, ok := model.ParseMetric(r.MetricType)
		if !ok {
			continue
		}
		out[m] = r.Value
	}
	return out
}
