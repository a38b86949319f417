package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smartfarm/dashboard-client/internal/api"
	"github.com/smartfarm/dashboard-client/internal/metrics"
	"github.com/smartfarm/dashboard-client/internal/model"
	"github.com/smartfarm/dashboard-client/internal/selection"
)

// fakeFetcher serves canned aggregates per farm and can hold a farm's
// fetch open to simulate a slow response.
type fakeFetcher struct {
	mu    sync.Mutex
	aggs  map[model.FarmID]*api.Aggregate
	errs  map[model.FarmID]error
	gates map[model.FarmID]chan struct{}
	calls map[model.FarmID]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		aggs:  map[model.FarmID]*api.Aggregate{},
		errs:  map[model.FarmID]error{},
		gates: map[model.FarmID]chan struct{}{},
		calls: map[model.FarmID]int{},
	}
}

func (f *fakeFetcher) set(id model.FarmID, agg *api.Aggregate, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aggs[id] = agg
	f.errs[id] = err
}

func (f *fakeFetcher) block(id model.FarmID) chan struct{} {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gates[id] = gate
	f.mu.Unlock()
	return gate
}

func (f *fakeFetcher) callCount(id model.FarmID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeFetcher) FetchDashboard(ctx context.Context, id model.FarmID) (*api.Aggregate, error) {
	f.mu.Lock()
	f.calls[id]++
	gate := f.gates[id]
	agg := f.aggs[id]
	err := f.errs[id]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return agg, nil
}

func aggFor(deviceName string, temp float64) *api.Aggregate {
	return &api.Aggregate{
		Readings: []model.SensorReading{{MetricType: "TEMPERATURE", Value: temp, Time: "t"}},
		Devices:  []model.Device{{ID: 1, Name: deviceName, Type: model.DeviceSensorTemperature}},
		History:  map[model.Metric][]model.HistoryPoint{},
	}
}

func startEngine(t *testing.T, ff *fakeFetcher) (*Engine, *selection.Store, *metrics.Metrics) {
	t.Helper()
	store := selection.NewStore(t.TempDir(), zap.NewNop())
	met := metrics.NewNop()
	eng := New(Config{
		Store:    store,
		Fetcher:  ff,
		Interval: time.Hour, // tests drive triggers explicitly
		Metrics:  met,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go eng.Run(ctx)
	return eng, store, met
}

func TestStaleFarmResultNeverApplied(t *testing.T) {
	ff := newFakeFetcher()
	ff.set(1, aggFor("farm1-sensor", 11), nil)
	ff.set(2, aggFor("farm2-sensor", 22), nil)
	gate := ff.block(1)

	eng, store, met := startEngine(t, ff)

	// Farm 1's fetch dispatches and hangs.
	store.Select(model.Farm{ID: 1, Name: "one"})
	require.Eventually(t, func() bool { return ff.callCount(1) == 1 }, time.Second, 5*time.Millisecond)

	// Navigate away; farm 2 resolves immediately.
	store.Select(model.Farm{ID: 2, Name: "two"})
	require.Eventually(t, func() bool {
		snap := eng.Snapshot()
		return len(snap.Devices) == 1 && snap.Devices[0].Name == "farm2-sensor"
	}, time.Second, 5*time.Millisecond)

	// Now the slow farm-1 response lands. It must be discarded, not applied.
	close(gate)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(met.StaleDiscards) == 1
	}, time.Second, 5*time.Millisecond)

	snap := eng.Snapshot()
	assert.Equal(t, "farm2-sensor", snap.Devices[0].Name)
	assert.Equal(t, 22.0, snap.Readings[model.MetricTemperature])
	assert.NoError(t, eng.LastError())
}

func TestMergeDropsUnrecognizedMetrics(t *testing.T) {
	got := MergeReadings([]model.SensorReading{
		{MetricType: "TEMPERATURE", Value: 22.5},
		{MetricType: "unknown", Value: 1},
	})
	require.Len(t, got, 1)
	assert.Equal(t, 22.5, got[model.MetricTemperature])
	_, present := got["unknown"]
	assert.False(t, present)
}

func TestMergeLaterReadingSupersedes(t *testing.T) {
	got := MergeReadings([]model.SensorReading{
		{MetricType: "humidity", Value: 60},
		{MetricType: "HUMIDITY", Value: 61},
	})
	assert.Equal(t, 61.0, got[model.MetricHumidity])
}

func TestFailedRefreshKeepsSnapshotAndFlagsStale(t *testing.T) {
	ff := newFakeFetcher()
	ff.set(1, aggFor("sensor", 22.5), nil)

	eng, store, _ := startEngine(t, ff)
	store.Select(model.Farm{ID: 1, Name: "one"})
	require.Eventually(t, func() bool {
		return eng.Snapshot().Readings[model.MetricTemperature] == 22.5
	}, time.Second, 5*time.Millisecond)

	// Backend goes down: the displayed value must survive.
	ff.set(1, nil, errors.New("connection refused"))
	eng.Refresh()
	require.Eventually(t, func() bool { return eng.Snapshot().Stale }, time.Second, 5*time.Millisecond)

	snap := eng.Snapshot()
	assert.Equal(t, 22.5, snap.Readings[model.MetricTemperature])
	assert.Error(t, eng.LastError())

	// Backend recovers: flag clears, value updates.
	ff.set(1, aggFor("sensor", 23.1), nil)
	eng.Refresh()
	require.Eventually(t, func() bool {
		snap := eng.Snapshot()
		return !snap.Stale && snap.Readings[model.MetricTemperature] == 23.1
	}, time.Second, 5*time.Millisecond)
	assert.NoError(t, eng.LastError())
}

func TestClearSelectionResetsSnapshot(t *testing.T) {
	ff := newFakeFetcher()
	ff.set(1, aggFor("sensor", 20), nil)

	eng, store, _ := startEngine(t, ff)
	store.Select(model.Farm{ID: 1, Name: "one"})
	require.Eventually(t, func() bool { return len(eng.Snapshot().Devices) == 1 }, time.Second, 5*time.Millisecond)

	store.Clear()
	require.Eventually(t, func() bool {
		snap := eng.Snapshot()
		return len(snap.Devices) == 0 && len(snap.Readings) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestNoFetchWithoutSelection(t *testing.T) {
	ff := newFakeFetcher()
	eng, _, _ := startEngine(t, ff)

	eng.Refresh()
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, ff.callCount(1))
}

func TestSubscribersSeeAppliedSnapshots(t *testing.T) {
	ff := newFakeFetcher()
	ff.set(1, aggFor("sensor", 25), nil)

	eng, store, _ := startEngine(t, ff)
	sub := eng.Subscribe()
	defer eng.Unsubscribe(sub)

	store.Select(model.Farm{ID: 1, Name: "one"})

	select {
	case snap := <-sub:
		assert.Equal(t, 25.0, snap.Readings[model.MetricTemperature])
	case <-time.After(time.Second):
		t.Fatal("no snapshot broadcast")
	}
}

func TestHistoryCarriedThroughSnapshot(t *testing.T) {
	v1, v3 := 20.0, 21.0
	agg := aggFor("sensor", 20)
	agg.History = map[model.Metric][]model.HistoryPoint{
		model.MetricTemperature: {
			{Time: "t1", Value: &v1},
			{Time: "t2", Value: nil},
			{Time: "t3", Value: &v3},
		},
	}
	ff := newFakeFetcher()
	ff.set(1, agg, nil)

	eng, store, _ := startEngine(t, ff)
	store.Select(model.Farm{ID: 1, Name: "one"})
	require.Eventually(t, func() bool {
		return len(eng.Snapshot().History[model.MetricTemperature]) == 3
	}, time.Second, 5*time.Millisecond)

	pts := eng.Snapshot().History[model.MetricTemperature]
	// The gap survives end to end: one series, nil in the middle.
	assert.NotNil(t, pts[0].Value)
	assert.Nil(t, pts[1].Value)
	assert.NotNil(t, pts[2].Value)
}
