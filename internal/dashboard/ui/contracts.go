package ui

import (
	"fmt"
	"html/template"
	"time"

	"github.com/pharmalens/pharmalens/internal/catalog"
	"github.com/pharmalens/pharmalens/internal/dashboard"
	"github.com/pharmalens/pharmalens/internal/dashboard/svg"
)

// Point and guide colors for the anomaly scatter.
const (
	normalPointColor  = "#0ea5e9"
	anomalyPointColor = "#ef4444"
	thresholdColor    = "#dc2626"
)

// PageViewModel combines all dashboard data for rendering.
type PageViewModel struct {
	Phase       dashboard.Phase
	FatalNotice string
	Banner      string
	Pending     int
	UpdatedAt   time.Time
	Filters     dashboard.FilterView
	Meta        catalog.Metadata
	Views       []dashboard.ViewOption
	ViewLabel   string
	Stats       dashboard.SummaryStats
	Table       []dashboard.TableRow
	ChartSVG    template.HTML
	ViewNoData  bool
}

// IsErrored reports whether metadata bootstrap failed terminally.
func (vm PageViewModel) IsErrored() bool {
	return vm.Phase == dashboard.PhaseErrored
}

// IsLoading reports whether metadata has not resolved yet. The page shows
// only a loading notice in this window, no filter controls.
func (vm PageViewModel) IsLoading() bool {
	return vm.Phase == dashboard.PhaseLoading
}

// BarRenderer abstracts SVG bar chart rendering for the dashboard.
type BarRenderer interface {
	Bars(width, height int, bars []svg.Bar, opts svg.BarOpts) (template.HTML, error)
}

// ScatterRenderer abstracts SVG scatter rendering for the dashboard.
type ScatterRenderer interface {
	Scatter(width, height int, points []svg.Point, opts svg.ScatterOpts) (template.HTML, error)
}

// PieRenderer abstracts SVG pie rendering for the dashboard.
type PieRenderer interface {
	Pie(width, height int, slices []svg.Slice, opts svg.PieOpts) (template.HTML, error)
}

// BoxRenderer abstracts SVG quartile chart rendering for the dashboard.
type BoxRenderer interface {
	Boxplot(width, height int, rows []svg.BoxRow, opts svg.BoxOpts) (template.HTML, error)
}

// BandLegend is the shared legend for band-colored charts.
func BandLegend() []svg.LegendItem {
	return []svg.LegendItem{
		{Label: "Bajo", Color: dashboard.BandLow.Color()},
		{Label: "Medio", Color: dashboard.BandMedium.Color()},
		{Label: "Alto", Color: dashboard.BandHigh.Color()},
	}
}

// BarsForGroups converts comparison groups into chart bars, coloring each
// bar by where its mean sits among the group means.
func BarsForGroups(groups []dashboard.BarGroup) []svg.Bar {
	if len(groups) == 0 {
		return nil
	}
	min, max := groups[0].MeanPrice, groups[0].MeanPrice
	for _, g := range groups[1:] {
		if g.MeanPrice < min {
			min = g.MeanPrice
		}
		if g.MeanPrice > max {
			max = g.MeanPrice
		}
	}
	bars := make([]svg.Bar, len(groups))
	for i, g := range groups {
		bars[i] = svg.Bar{
			Label: g.Label,
			Value: g.MeanPrice,
			Color: dashboard.BandFor(g.MeanPrice, min, max).Color(),
		}
	}
	return bars
}

// BarsForHistogram converts server bins into uniform bars.
func BarsForHistogram(bins []catalog.HistogramBin) []svg.Bar {
	bars := make([]svg.Bar, len(bins))
	for i, bin := range bins {
		bars[i] = svg.Bar{Label: bin.Label, Value: float64(bin.Count)}
	}
	return bars
}

// PointsForScatter lays records out on manufacturer slots, keeping the
// order in which manufacturers first appear. The returned labels are the
// slot names for the x axis.
func PointsForScatter(points []dashboard.ScatterPoint) ([]svg.Point, []string) {
	slots := make(map[string]int)
	labels := make([]string, 0)
	marks := make([]svg.Point, len(points))
	for i, p := range points {
		slot, ok := slots[p.Manufacturer]
		if !ok {
			slot = len(labels)
			slots[p.Manufacturer] = slot
			labels = append(labels, p.Manufacturer)
		}
		marks[i] = svg.Point{
			X:     float64(slot),
			Y:     p.Price,
			Color: p.Band.Color(),
			Label: p.Name,
		}
	}
	return marks, labels
}

// SlicesForPie converts composition counts into pie slices.
func SlicesForPie(slices []dashboard.PieSlice) []svg.Slice {
	out := make([]svg.Slice, len(slices))
	for i, s := range slices {
		out[i] = svg.Slice{Label: s.Label, Value: float64(s.Count)}
	}
	return out
}

// RowsForBoxplot converts stacked quartile rows into renderer geometry.
func RowsForBoxplot(rows []dashboard.BoxplotRow) []svg.BoxRow {
	out := make([]svg.BoxRow, len(rows))
	for i, row := range rows {
		out[i] = svg.BoxRow{
			Label:   row.Group,
			Base:    row.Baseline,
			Whisker: row.WhiskerSpan,
			Box:     row.BoxSpan,
			Median:  row.Median,
			Max:     row.Max,
		}
	}
	return out
}

// PointsForAnomalies spreads the flagged records over an index axis and
// returns the threshold guides alongside.
func PointsForAnomalies(report catalog.AnomalyReport) ([]svg.Point, []svg.GuideLine, []svg.LegendItem) {
	points := make([]svg.Point, len(report.Anomalies))
	for i, record := range report.Anomalies {
		color := normalPointColor
		if record.IsAnomaly {
			color = anomalyPointColor
		}
		points[i] = svg.Point{
			X:     float64(i),
			Y:     record.PricePerUnit,
			Color: color,
			Label: record.CommercialName,
		}
	}
	guides := []svg.GuideLine{
		{Value: report.UpperThreshold, Color: thresholdColor, Label: "Umbral superior"},
		{Value: report.LowerThreshold, Color: thresholdColor, Label: "Umbral inferior"},
	}
	legend := []svg.LegendItem{
		{Label: fmt.Sprintf("Normal (%d)", report.NormalCount), Color: normalPointColor},
		{Label: fmt.Sprintf("Anómalo (%d)", report.AnomalyCount), Color: anomalyPointColor},
	}
	return points, guides, legend
}

// PointsForClusters plots the assignment sample over an index axis, one
// palette color per cluster, with each cluster center as a guide line.
func PointsForClusters(report catalog.ClusterReport) ([]svg.Point, []svg.GuideLine, []svg.LegendItem) {
	points := make([]svg.Point, len(report.Sample))
	for i, record := range report.Sample {
		points[i] = svg.Point{
			X:     float64(i),
			Y:     record.PricePerUnit,
			Color: svg.PaletteColor(record.Cluster),
			Label: record.CommercialName,
		}
	}
	guides := make([]svg.GuideLine, len(report.Clusters))
	legend := make([]svg.LegendItem, len(report.Clusters))
	for i, cluster := range report.Clusters {
		color := svg.PaletteColor(cluster.ClusterID)
		guides[i] = svg.GuideLine{
			Value: cluster.Center,
			Color: color,
			Label: fmt.Sprintf("Centro %d", cluster.ClusterID),
		}
		legend[i] = svg.LegendItem{
			Label: fmt.Sprintf("Grupo %d (%d)", cluster.ClusterID, cluster.Count),
			Color: color,
		}
	}
	return points, guides, legend
}
