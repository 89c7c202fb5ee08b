package backtest

import (
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

const (
	reportWidthPx  = 1400
	reportHeightPx = 480
)

// RenderReport writes a self-contained HTML page for one run: the replayed
// price series with fill markers, and the equity curve underneath.
func RenderReport(w io.Writer, run Run, snapshots []SnapshotModel, orders []OrderModel) error {
	if len(snapshots) == 0 {
		return fmt.Errorf("run %s has no snapshots to plot", run.ID)
	}

	xAxis := make([]string, len(snapshots))
	klineData := make([]opts.KlineData, len(snapshots))
	equityData := make([]opts.LineData, len(snapshots))
	for i, snap := range snapshots {
		xAxis[i] = time.UnixMilli(snap.TS).UTC().Format("01-02 15:04")
		klineData[i] = opts.KlineData{Value: [4]float64{snap.Open, snap.Close, snap.Low, snap.High}}
		equityData[i] = opts.LineData{Value: snap.Equity}
	}

	init := opts.Initialization{
		Theme:  types.ThemeWesteros,
		Width:  fmt.Sprintf("%dpx", reportWidthPx),
		Height: fmt.Sprintf("%dpx", reportHeightPx),
	}

	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(init),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s %s (%s)", run.Config.Pair, run.Config.Interval, run.Config.Strategy),
			Subtitle: fmt.Sprintf("run %s · %s · %d orders", run.ID, run.Status, run.Stats.Orders),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category"}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)
	kline.SetXAxis(xAxis)
	kline.AddSeries("price", klineData)
	kline.Overlap(buildFillMarkers(xAxis, snapshots, orders))

	equity := charts.NewLine()
	equity.SetGlobalOptions(
		charts.WithInitializationOpts(init),
		charts.WithTitleOpts(opts.Title{
			Title:    "Equity",
			Subtitle: fmt.Sprintf("%.2f -> %.2f (%.2f%%)", run.Stats.InitialEquity, run.Stats.FinalEquity, run.Stats.ReturnPct),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category"}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)
	equity.SetXAxis(xAxis)
	equity.AddSeries("equity", equityData,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(kline, equity)
	return page.Render(w)
}

// buildFillMarkers plots filled orders as points on the price axis, aligned
// to the snapshot whose bar covers the execution time.
func buildFillMarkers(xAxis []string, snapshots []SnapshotModel, orders []OrderModel) *charts.Scatter {
	scatter := charts.NewScatter()
	var buys, sells []opts.ScatterData
	for _, o := range orders {
		if o.Status != "FILLED" {
			continue
		}
		idx := snapshotIndexFor(snapshots, o.ExecutedTS)
		if idx < 0 {
			continue
		}
		point := opts.ScatterData{Value: []any{xAxis[idx], o.Price}, SymbolSize: 12}
		if o.Side == "BUY" {
			buys = append(buys, point)
		} else {
			sells = append(sells, point)
		}
	}
	scatter.AddSeries("buys", buys)
	scatter.AddSeries("sells", sells)
	return scatter
}

func snapshotIndexFor(snapshots []SnapshotModel, ts int64) int {
	for i, snap := range snapshots {
		if snap.TS >= ts {
			return i
		}
	}
	return -1
}
