package report

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/wcharczuk/go-chart/v2"
)

// ErrNotEnoughData is returned when there are fewer than two monthly points to plot
var ErrNotEnoughData = errors.New("not enough data to plot monthly spend")

// RenderChart draws the monthly trend as a PNG line chart
func RenderChart(w io.Writer, currency string, monthly []MonthTotal) error {
	if len(monthly) < 2 {
		return ErrNotEnoughData
	}

	xs := make([]time.Time, len(monthly))
	ys := make([]float64, len(monthly))
	for i, m := range monthly {
		xs[i] = m.Month.Time()
		ys[i] = m.Total.InexactFloat64()
	}

	graph := chart.Chart{
		Title:  "Monthly Spend",
		Width:  800,
		Height: 400,
		XAxis: chart.XAxis{
			Name:           "Month",
			ValueFormatter: chart.TimeValueFormatterWithFormat("2006-01"),
		},
		YAxis: chart.YAxis{
			Name: "Total Spend (" + currency + ")",
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Monthly Spend",
				XValues: xs,
				YValues: ys,
				Style: chart.Style{
					StrokeWidth: 2,
					DotWidth:    4,
				},
			},
		},
	}

	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("rendering chart: %w", err)
	}
	return nil
}
