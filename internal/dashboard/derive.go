package dashboard

import (
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/pharmalens/pharmalens/internal/catalog"
)

// Everything in this file is a pure projection from fetched payloads to
// chart-ready values. No fetching, no state, no clocks.

const (
	bandLowCutoff    = 0.33
	bandMediumCutoff = 0.66
	barGroupLimit    = 20
)

// PriceBand buckets a price into the lower, middle, or upper tercile of the
// displayed set's price span.
type PriceBand string

const (
	BandLow    PriceBand = "low"
	BandMedium PriceBand = "medium"
	BandHigh   PriceBand = "high"
)

// Color returns the band's chart color.
func (b PriceBand) Color() string {
	switch b {
	case BandMedium:
		return "#f39c12"
	case BandHigh:
		return "#e74c3c"
	}
	return "#2ecc71"
}

// BandFor grades a price against the span it appears in. A degenerate span
// grades everything low.
func BandFor(price, min, max float64) PriceBand {
	span := max - min
	if span <= 0 {
		return BandLow
	}
	pos := (price - min) / span
	switch {
	case pos < bandLowCutoff:
		return BandLow
	case pos < bandMediumCutoff:
		return BandMedium
	}
	return BandHigh
}

// PricedRow pairs a record with its band relative to the set it appears in.
type PricedRow struct {
	Record catalog.DrugRecord
	Band   PriceBand
}

// PriceBands classifies every record against the min and max of the slice
// itself, so the bands always span exactly what is on screen. A single
// price, or an empty slice, yields only low bands.
func PriceBands(records []catalog.DrugRecord) []PricedRow {
	if len(records) == 0 {
		return nil
	}
	min, max := records[0].PricePerUnit, records[0].PricePerUnit
	for _, r := range records[1:] {
		if r.PricePerUnit < min {
			min = r.PricePerUnit
		}
		if r.PricePerUnit > max {
			max = r.PricePerUnit
		}
	}
	rows := make([]PricedRow, len(records))
	for i, r := range records {
		rows[i] = PricedRow{Record: r, Band: BandFor(r.PricePerUnit, min, max)}
	}
	return rows
}

func groupLabel(r catalog.DrugRecord, byManufacturer bool) string {
	if byManufacturer {
		return r.Manufacturer
	}
	return r.ActiveIngredient
}

// BarGroup is one bar of the comparison chart.
type BarGroup struct {
	Label     string  `json:"label"`
	MeanPrice float64 `json:"mean_price"`
	Count     int     `json:"count"`
}

// BarGroups averages prices per group and keeps the twenty most expensive
// groups, descending by mean. Groups by manufacturer when an ingredient is
// selected, by ingredient otherwise.
func BarGroups(records []catalog.DrugRecord, byManufacturer bool) []BarGroup {
	type acc struct {
		sum   float64
		count int
	}
	sums := make(map[string]*acc)
	for _, r := range records {
		label := groupLabel(r, byManufacturer)
		a := sums[label]
		if a == nil {
			a = &acc{}
			sums[label] = a
		}
		a.sum += r.PricePerUnit
		a.count++
	}
	groups := make([]BarGroup, 0, len(sums))
	for label, a := range sums {
		groups = append(groups, BarGroup{Label: label, MeanPrice: a.sum / float64(a.count), Count: a.count})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].MeanPrice != groups[j].MeanPrice {
			return groups[i].MeanPrice > groups[j].MeanPrice
		}
		return groups[i].Label < groups[j].Label
	})
	if len(groups) > barGroupLimit {
		groups = groups[:barGroupLimit]
	}
	return groups
}

// PieSlice is one sector of the composition chart.
type PieSlice struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// PieSlices counts records per group, descending by count with ties broken
// by label. Every record lands in exactly one slice, so the slice counts sum
// to the input size.
func PieSlices(records []catalog.DrugRecord, byManufacturer bool) []PieSlice {
	counts := make(map[string]int)
	for _, r := range records {
		counts[groupLabel(r, byManufacturer)]++
	}
	slices := make([]PieSlice, 0, len(counts))
	for label, count := range counts {
		slices = append(slices, PieSlice{Label: label, Count: count})
	}
	sort.Slice(slices, func(i, j int) bool {
		if slices[i].Count != slices[j].Count {
			return slices[i].Count > slices[j].Count
		}
		return slices[i].Label < slices[j].Label
	})
	return slices
}

// ScatterPoint is one mark of the price scatter: a record positioned by
// manufacturer and price.
type ScatterPoint struct {
	Name         string    `json:"name"`
	Manufacturer string    `json:"manufacturer"`
	Price        float64   `json:"price"`
	Band         PriceBand `json:"band"`
}

// ScatterPoints projects records into scatter marks, banded like the table.
func ScatterPoints(records []catalog.DrugRecord) []ScatterPoint {
	rows := PriceBands(records)
	points := make([]ScatterPoint, len(rows))
	for i, row := range rows {
		points[i] = ScatterPoint{
			Name:         row.Record.CommercialName,
			Manufacturer: row.Record.Manufacturer,
			Price:        row.Record.PricePerUnit,
			Band:         row.Band,
		}
	}
	return points
}

// BoxplotRow is one group of the quartile chart, pre-cut into the stacked
// segments the renderer draws: an invisible baseline up to the group
// minimum, the lower whisker up to q1, and the interquartile box up to q3,
// with the median drawn as an absolute marker.
type BoxplotRow struct {
	Group       string  `json:"group"`
	Baseline    float64 `json:"baseline"`
	WhiskerSpan float64 `json:"whisker_span"`
	BoxSpan     float64 `json:"box_span"`
	Median      float64 `json:"median"`
	Max         float64 `json:"max"`
	Count       int     `json:"count"`
}

// BoxplotRows converts quartile summaries into stacked segments. Rows whose
// quartiles are out of order are dropped; the second return value reports
// how many were rejected. Server ordering is preserved.
func BoxplotRows(summaries []catalog.BoxplotSummary) ([]BoxplotRow, int) {
	rows := make([]BoxplotRow, 0, len(summaries))
	rejected := 0
	for _, s := range summaries {
		if !s.Valid() {
			rejected++
			continue
		}
		rows = append(rows, BoxplotRow{
			Group:       s.Group,
			Baseline:    s.Min,
			WhiskerSpan: s.Q1 - s.Min,
			BoxSpan:     s.Q3 - s.Q1,
			Median:      s.Median,
			Max:         s.Max,
			Count:       s.Count,
		})
	}
	return rows, rejected
}

// SummaryStats is the stat strip above the table.
type SummaryStats struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
}

// Summarize computes the stat strip over the displayed records.
func Summarize(records []catalog.DrugRecord) SummaryStats {
	if len(records) == 0 {
		return SummaryStats{}
	}
	prices := make([]float64, len(records))
	for i, r := range records {
		prices[i] = r.PricePerUnit
	}
	min, _ := stats.Min(prices)
	max, _ := stats.Max(prices)
	mean, _ := stats.Mean(prices)
	median, _ := stats.Median(prices)
	return SummaryStats{Count: len(records), Min: min, Max: max, Mean: mean, Median: median}
}
