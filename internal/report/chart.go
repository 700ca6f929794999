package report

import (
	"fmt"
	"io"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"robotrader/internal/persistence"
)

// WriteChart renders the valuation curve as a standalone HTML page.
func WriteChart(w io.Writer, title string, valuations []persistence.ValuationRecord) error {
	if len(valuations) == 0 {
		return fmt.Errorf("no valuation records to chart")
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Width:  "1200px",
			Height: "500px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title: title,
			Left:  "left",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)

	xAxis := make([]string, len(valuations))
	valuation := make([]opts.LineData, len(valuations))
	cash := make([]opts.LineData, len(valuations))
	for i, rec := range valuations {
		xAxis[i] = rec.Timestamp.UTC().Format("2006-01-02 15:04")
		valuation[i] = opts.LineData{Value: rec.Valuation.InexactFloat64()}
		cash[i] = opts.LineData{Value: rec.Cash.InexactFloat64()}
	}

	line.SetXAxis(xAxis)
	line.AddSeries("Valuation", valuation,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	line.AddSeries("Cash", cash,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(line)
	return page.Render(w)
}

// WriteChartFile renders the valuation curve to an HTML file.
func WriteChartFile(path, title string, valuations []persistence.ValuationRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart file: %w", err)
	}
	defer f.Close()
	return WriteChart(f, title, valuations)
}
