package api

import (
	"context"

	"go.uber.org/zap"

	"github.com/smartfarm/dashboard-client/internal/model"
)

// HistoryRange is the fixed look-back window for the dashboard charts.
const HistoryRange = "24h"

// Aggregate is one coherent fetch of everything the dashboard shows for a
// farm. Readings, devices and rules either all come from the same cycle or
// the aggregate fails; a device list paired with another cycle's rule list
// could reference devices that no longer exist.
type Aggregate struct {
	Readings []model.SensorReading
	Devices  []model.Device
	Rules    []model.Rule
	History  map[model.Metric][]model.HistoryPoint
}

// FetchDashboard issues the three primary reads and the per-metric history
// windows concurrently. Any primary failure fails the whole aggregate.
// History failures are non-fatal: that metric's chart stays empty.
func (c *Client) FetchDashboard(ctx context.Context, farmID model.FarmID) (*Aggregate, error) {
	agg := &Aggregate{History: make(map[model.Metric][]model.HistoryPoint, len(model.Metrics))}

	type primary struct {
		key string
		err error
	}
	prim := make(chan primary, 3)

	go func() {
		var err error
		agg.Readings, err = c.LatestReadings(ctx, farmID)
		prim <- primary{"latest", err}
	}()
	go func() {
		var err error
		agg.Devices, err = c.ListDevices(ctx, farmID)
		prim <- primary{"devices", err}
	}()
	go func() {
		var err error
		agg.Rules, err = c.ListRules(ctx, farmID)
		prim <- primary{"rules", err}
	}()

	type histResult struct {
		metric model.Metric
		points []model.HistoryPoint
		err    error
	}
	hist := make(chan histResult, len(model.Metrics))
	for _, m := range model.Metrics {
		go func(m model.Metric) {
			pts, err := c.History(ctx, farmID, m, HistoryRange)
			hist <- histResult{m, pts, err}
		}(m)
	}

	var firstErr error
	for i := 0; i < cap(prim); i++ {
		p := <-prim
		if p.err != nil && firstErr == nil {
			firstErr = p.err
			c.log.Warn("dashboard fetch failed", zap.String("read", p.key), zap.Int64("farm_id", int64(farmID)), zap.Error(p.err))
		}
	}
	if firstErr != nil {
		// History goroutines finish into the buffered channel on their own.
		return nil, firstErr
	}

	for i := 0; i < cap(hist); i++ {
		h := <-hist
		if h.err != nil {
			c.log.Warn("history window unavailable", zap.String("metric", string(h.metric)), zap.Error(h.err))
			agg.History[h.metric] = nil
			continue
		}
		agg.History[h.metric] = h.points
	}
	return agg, nil
}
