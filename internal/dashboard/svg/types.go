package svg

// Bar is one vertical bar with its own fill color.
type Bar struct {
	Label string
	Value float64
	Color string
}

// LegendItem is one swatch of a chart legend.
type LegendItem struct {
	Label string
	Color string
}

// BarOpts customises the bar chart renderer.
type BarOpts struct {
	Title       string
	Description string
	BarColor    string
	AxisColor   string
	GridColor   string
	Padding     float64
	TickCount   int
	Legend      []LegendItem
}

// Point is one scatter mark. X is a position on an abstract horizontal
// axis, normally a category slot or a record index.
type Point struct {
	X     float64
	Y     float64
	Color string
	Label string
}

// GuideLine is a horizontal reference drawn across the plot, used for
// anomaly thresholds and cluster centers.
type GuideLine struct {
	Value float64
	Color string
	Label string
}

// ScatterOpts customises the scatter renderer.
type ScatterOpts struct {
	Title       string
	Description string
	PointColor  string
	AxisColor   string
	GridColor   string
	Padding     float64
	TickCount   int
	XLabels     []string
	Guides      []GuideLine
	Legend      []LegendItem
}

// Slice is one pie slice.
type Slice struct {
	Label string
	Value float64
	Color string
}

// PieOpts customises the pie renderer.
type PieOpts struct {
	Title       string
	Description string
	AxisColor   string
}

// BoxRow carries the stacked quartile geometry for one group. Base is the
// group minimum, Whisker spans from the minimum to the first quartile and
// Box from the first to the third. Median and Max are absolute prices.
type BoxRow struct {
	Label   string
	Base    float64
	Whisker float64
	Box     float64
	Median  float64
	Max     float64
}

// BoxOpts customises the quartile chart renderer.
type BoxOpts struct {
	Title        string
	Description  string
	WhiskerColor string
	BoxColor     string
	MedianColor  string
	AxisColor    string
	GridColor    string
	Padding      float64
	TickCount    int
}

// Defaults for the dashboard charts.
const (
	DefaultWidth   = 720
	DefaultHeight  = 240
	DefaultPadding = 24.0
	DefaultTicks   = 6
)

// Palette cycles fills for pies and cluster marks.
var Palette = []string{
	"#0ea5e9", "#f97316", "#22c55e", "#a855f7", "#eab308",
	"#14b8a6", "#ef4444", "#6366f1", "#84cc16", "#ec4899",
}

// PaletteColor returns the i-th palette entry, wrapping around.
func PaletteColor(i int) string {
	if i < 0 {
		i = -i
	}
	return Palette[i%len(Palette)]
}
