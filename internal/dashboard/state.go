package dashboard

import (
	"errors"
	"fmt"

	"github.com/pharmalens/pharmalens/internal/catalog"
)

// ViewKind identifies one of the dashboard's visualizations. The string
// values double as form tokens and snapshot fields.
type ViewKind string

const (
	ViewBar       ViewKind = "bar"
	ViewScatter   ViewKind = "scatter"
	ViewPie       ViewKind = "pie"
	ViewHistogram ViewKind = "histogram"
	ViewBoxPlot   ViewKind = "box"
	ViewAnomalies ViewKind = "anomalies"
	ViewClusters  ViewKind = "clusters"
)

// AllViewKinds lists the views in presentation order.
var AllViewKinds = []ViewKind{
	ViewBar,
	ViewScatter,
	ViewPie,
	ViewHistogram,
	ViewBoxPlot,
	ViewAnomalies,
	ViewClusters,
}

// Valid reports whether k names a known view.
func (k ViewKind) Valid() bool {
	switch k {
	case ViewBar, ViewScatter, ViewPie, ViewHistogram, ViewBoxPlot, ViewAnomalies, ViewClusters:
		return true
	}
	return false
}

// ParseViewKind converts a form token into a ViewKind.
func ParseViewKind(s string) (ViewKind, error) {
	k := ViewKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown view %q", s)
	}
	return k, nil
}

// FilterState is one committed configuration of the dashboard: the filter
// criteria, the record sort, and the active view. States are values; every
// transition produces a new one and past states are never mutated.
type FilterState struct {
	Criteria catalog.Criteria
	Sort     catalog.SortSpec
	View     ViewKind
}

// DefaultState is the state a fresh dashboard starts in: no equality
// filters, the full price range up to priceMax, cheapest first, bar view.
func DefaultState(priceMax float64) FilterState {
	return FilterState{
		Criteria: catalog.Criteria{MinPrice: 0, MaxPrice: priceMax},
		Sort:     catalog.SortSpec{Field: catalog.SortByPrice, Order: catalog.SortAsc},
		View:     ViewBar,
	}
}

// WithCriteria returns a copy with new filter criteria and sort.
func (s FilterState) WithCriteria(c catalog.Criteria, sort catalog.SortSpec) FilterState {
	s.Criteria = c
	s.Sort = sort
	return s
}

// WithView returns a copy with the active view switched.
func (s FilterState) WithView(k ViewKind) FilterState {
	s.View = k
	return s
}

// Validate rejects states that must never be committed.
func (s FilterState) Validate() error {
	if s.Criteria.MinPrice < 0 {
		return errors.New("min price must be at least 0")
	}
	if s.Criteria.MaxPrice < s.Criteria.MinPrice {
		return errors.New("max price must not be below min price")
	}
	switch s.Sort.Field {
	case catalog.SortByPrice, catalog.SortByName:
	default:
		return fmt.Errorf("unknown sort field %q", s.Sort.Field)
	}
	switch s.Sort.Order {
	case catalog.SortAsc, catalog.SortDesc:
	default:
		return fmt.Errorf("unknown sort order %q", s.Sort.Order)
	}
	if !s.View.Valid() {
		return fmt.Errorf("unknown view %q", s.View)
	}
	return nil
}

// SecondaryQuery is the kind-specific helper query behind the analytic
// views. The concrete types are the catalog query structs.
type SecondaryQuery interface {
	Encode() string
	Signature() string
}

// BuildBaseQuery derives the record query every view reads. All committed
// criteria and the sort apply, and the slice is always capped.
func BuildBaseQuery(s FilterState) catalog.BaseQuery {
	return catalog.BaseQuery{Criteria: s.Criteria, Sort: s.Sort, Limit: catalog.BaseLimit}
}

// BuildSecondaryQuery derives the helper query for kind, or ok=false when
// the view renders from base records alone.
//
// The analytic endpoints accept a narrower filter vocabulary than the record
// endpoint, so only the criteria each endpoint understands are forwarded:
// the histogram sees ingredient and manufacturer, the rest see ingredient
// only. Price bounds and the remaining dimensions never reach them.
func BuildSecondaryQuery(s FilterState, kind ViewKind) (SecondaryQuery, bool) {
	switch kind {
	case ViewHistogram:
		return catalog.HistogramQuery{
			ActiveIngredient: s.Criteria.ActiveIngredient,
			Manufacturer:     s.Criteria.Manufacturer,
			Bins:             catalog.HistogramBins,
		}, true
	case ViewBoxPlot:
		groupBy := catalog.GroupByIngredient
		if s.Criteria.ActiveIngredient != "" {
			groupBy = catalog.GroupByManufacturer
		}
		return catalog.BoxplotQuery{
			ActiveIngredient: s.Criteria.ActiveIngredient,
			GroupBy:          groupBy,
			Limit:            catalog.BoxplotLimit,
		}, true
	case ViewAnomalies:
		return catalog.AnomalyQuery{
			ActiveIngredient: s.Criteria.ActiveIngredient,
			Contamination:    catalog.AnomalyContamination,
		}, true
	case ViewClusters:
		return catalog.ClusterQuery{
			ActiveIngredient: s.Criteria.ActiveIngredient,
			Clusters:         catalog.ClusterCount,
		}, true
	}
	return nil, false
}

// NeedsSecondary reports whether kind renders from a helper query.
func NeedsSecondary(kind ViewKind) bool {
	switch kind {
	case ViewHistogram, ViewBoxPlot, ViewAnomalies, ViewClusters:
		return true
	}
	return false
}
