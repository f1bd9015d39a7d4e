package dashboard

import (
	"time"

	"github.com/pharmalens/pharmalens/internal/catalog"
)

// Label returns the view's display name.
func (k ViewKind) Label() string {
	switch k {
	case ViewBar:
		return "Comparación de precios"
	case ViewScatter:
		return "Dispersión"
	case ViewPie:
		return "Composición"
	case ViewHistogram:
		return "Histograma"
	case ViewBoxPlot:
		return "Distribución por cuartiles"
	case ViewAnomalies:
		return "Anomalías"
	case ViewClusters:
		return "Agrupamientos"
	}
	return string(k)
}

// ViewOption is one entry of the view switcher.
type ViewOption struct {
	Kind   ViewKind `json:"kind"`
	Label  string   `json:"label"`
	Active bool     `json:"active"`
}

// FilterView mirrors the committed FilterState for the filter panel and the
// state endpoint.
type FilterView struct {
	ActiveIngredient string            `json:"active_ingredient"`
	Manufacturer     string            `json:"manufacturer"`
	Concentration    string            `json:"concentration"`
	Channel          string            `json:"channel"`
	DispensingUnit   string            `json:"dispensing_unit"`
	MinPrice         float64           `json:"min_price"`
	MaxPrice         float64           `json:"max_price"`
	SortField        catalog.SortField `json:"sort_by"`
	SortOrder        catalog.SortOrder `json:"sort_order"`
}

// TableRow is one record of the preview table.
type TableRow struct {
	Name          string    `json:"name"`
	Ingredient    string    `json:"ingredient"`
	Manufacturer  string    `json:"manufacturer"`
	Concentration string    `json:"concentration"`
	Price         float64   `json:"price"`
	Band          PriceBand `json:"band"`
}

// Snapshot is the render-ready projection of a controller at one instant.
// The HTML page and the JSON state endpoint consume the same structure.
// Exactly one chart payload is populated, matching the active view; the
// table and stat strip always reflect the held base records.
type Snapshot struct {
	Phase       Phase                  `json:"phase"`
	FatalNotice string                 `json:"fatal_notice,omitempty"`
	Banner      string                 `json:"banner,omitempty"`
	Pending     int                    `json:"pending"`
	UpdatedAt   time.Time              `json:"updated_at"`
	View        ViewKind               `json:"view"`
	Views       []ViewOption           `json:"views,omitempty"`
	Filters     FilterView             `json:"filters"`
	Meta        catalog.Metadata       `json:"metadata"`
	Stats       SummaryStats           `json:"stats"`
	Table       []TableRow             `json:"table,omitempty"`
	Bars        []BarGroup             `json:"bars,omitempty"`
	Points      []ScatterPoint         `json:"points,omitempty"`
	Slices      []PieSlice             `json:"slices,omitempty"`
	Histogram   []catalog.HistogramBin `json:"histogram,omitempty"`
	Boxplot     []BoxplotRow           `json:"boxplot,omitempty"`
	Anomalies   *catalog.AnomalyReport `json:"anomalies,omitempty"`
	Clusters    *catalog.ClusterReport `json:"clusters,omitempty"`
	ViewNoData  bool                   `json:"view_no_data"`
}

// Snapshot projects the controller under its lock. Loading and errored
// controllers yield a minimal snapshot carrying only the phase and notice.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Phase:       c.phase,
		FatalNotice: c.fatal,
		Banner:      c.banner,
		UpdatedAt:   c.updatedAt,
		View:        c.state.View,
	}
	if c.phase != PhaseReady {
		return snap
	}

	snap.Pending = c.base.pending
	for _, slot := range c.secondaries {
		snap.Pending += slot.pending
	}
	snap.Meta = c.meta
	snap.Filters = FilterView{
		ActiveIngredient: c.state.Criteria.ActiveIngredient,
		Manufacturer:     c.state.Criteria.Manufacturer,
		Concentration:    c.state.Criteria.Concentration,
		Channel:          c.state.Criteria.Channel,
		DispensingUnit:   c.state.Criteria.DispensingUnit,
		MinPrice:         c.state.Criteria.MinPrice,
		MaxPrice:         c.state.Criteria.MaxPrice,
		SortField:        c.state.Sort.Field,
		SortOrder:        c.state.Sort.Order,
	}
	snap.Views = make([]ViewOption, len(AllViewKinds))
	for i, kind := range AllViewKinds {
		snap.Views[i] = ViewOption{Kind: kind, Label: kind.Label(), Active: kind == c.state.View}
	}

	rows := PriceBands(c.base.records)
	snap.Table = make([]TableRow, len(rows))
	for i, row := range rows {
		snap.Table[i] = TableRow{
			Name:          row.Record.CommercialName,
			Ingredient:    row.Record.ActiveIngredient,
			Manufacturer:  row.Record.Manufacturer,
			Concentration: row.Record.Concentration,
			Price:         row.Record.PricePerUnit,
			Band:          row.Band,
		}
	}
	snap.Stats = Summarize(c.base.records)

	byManufacturer := c.state.Criteria.ActiveIngredient != ""
	switch c.state.View {
	case ViewBar:
		snap.Bars = BarGroups(c.base.records, byManufacturer)
	case ViewScatter:
		snap.Points = ScatterPoints(c.base.records)
	case ViewPie:
		snap.Slices = PieSlices(c.base.records, byManufacturer)
	default:
		slot := c.secondaries[c.state.View]
		if slot == nil || !slot.loaded || slot.failed {
			snap.ViewNoData = true
			break
		}
		switch c.state.View {
		case ViewHistogram:
			snap.Histogram = slot.histogram
		case ViewBoxPlot:
			snap.Boxplot = slot.boxplot
		case ViewAnomalies:
			report := slot.anomalies
			snap.Anomalies = &report
		case ViewClusters:
			report := slot.clusters
			snap.Clusters = &report
		}
	}
	return snap
}

// Records returns the held base records, for exports.
func (c *Controller) Records() ([]catalog.DrugRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readyLocked(); err != nil {
		return nil, err
	}
	records := make([]catalog.DrugRecord, len(c.base.records))
	copy(records, c.base.records)
	return records, nil
}
