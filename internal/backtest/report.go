package backtest

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

const (
	reportWidthPx       = 1400
	equityHeightPx      = 480
	drawdownHeightPx    = 280
	colorEquityLine     = "#3b82f6"
	colorDrawdownLine   = "#f87171"
	colorReportBackdrop = "#0b1120"
	colorReportText     = "#e5e7eb"
)

// RenderReport 把一次回测的资金曲线与回撤渲染成单页 HTML。
func RenderReport(res *Result) ([]byte, error) {
	if res == nil || len(res.Equity) == 0 {
		return nil, fmt.Errorf("result has no equity curve to render")
	}

	xAxis := make([]string, 0, len(res.Equity))
	equity := make([]opts.LineData, 0, len(res.Equity))
	drawdown := make([]opts.LineData, 0, len(res.Equity))
	for _, p := range res.Equity {
		xAxis = append(xAxis, time.UnixMilli(p.TS).UTC().Format("01-02 15:04"))
		equity = append(equity, opts.LineData{Value: p.Total.InexactFloat64()})
		drawdown = append(drawdown, opts.LineData{Value: p.Drawdown.InexactFloat64()})
	}

	stats := res.Run.Stats
	subtitle := fmt.Sprintf("trades=%d win=%.1f%% return=%.2f%% maxDD=%.2f%%",
		stats.Trades, stats.WinRate, stats.ReturnPct, stats.MaxDrawdownPct)

	equityChart := charts.NewLine()
	equityChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", reportWidthPx),
			Height:          fmt.Sprintf("%dpx", equityHeightPx),
			BackgroundColor: colorReportBackdrop,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         "Equity",
			Subtitle:      subtitle,
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorReportText, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorReportText},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)
	equityChart.SetXAxis(xAxis)
	equityChart.AddSeries("total", equity,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquityLine, Width: 2}))

	ddChart := charts.NewLine()
	ddChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", reportWidthPx),
			Height:          fmt.Sprintf("%dpx", drawdownHeightPx),
			BackgroundColor: colorReportBackdrop,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:      "Drawdown",
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorReportText, FontSize: 14},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	ddChart.SetXAxis(xAxis)
	ddChart.AddSeries("drawdown", drawdown,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdownLine, Width: 2}))

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(equityChart, ddChart)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
