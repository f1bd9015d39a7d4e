package catalog

import (
	"net/url"
	"strconv"
	"strings"
)

// Query parameter defaults. The record endpoint is always capped, histogram
// bins and boxplot group counts are fixed, and the ML endpoints run with the
// same tuning the aggregation service was calibrated for.
const (
	BaseLimit            = 50
	HistogramBins        = 10
	BoxplotLimit         = 10
	AnomalyContamination = 0.05
	ClusterCount         = 3
)

// Columns the boxplot endpoint can group by.
const (
	GroupByManufacturer = "fabricante"
	GroupByIngredient   = "principio_activo"
)

// SortField selects the column a record query is ordered by.
type SortField string

const (
	SortByPrice SortField = "price"
	SortByName  SortField = "name"
)

// Column returns the dataset column backing the sort field.
func (f SortField) Column() string {
	if f == SortByName {
		return "nombre_comercial"
	}
	return "precio_por_tableta"
}

// SortOrder is the direction of a record sort.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// SortSpec pairs a sort field with its direction.
type SortSpec struct {
	Field SortField
	Order SortOrder
}

// Criteria is the filter block shared by catalog queries. Empty strings mean
// the dimension is unconstrained; the price bounds are always applied.
type Criteria struct {
	ActiveIngredient string
	Manufacturer     string
	Concentration    string
	Channel          string
	DispensingUnit   string
	MinPrice         float64
	MaxPrice         float64
}

// BaseQuery fetches the filtered, sorted record slice every view reads.
type BaseQuery struct {
	Criteria Criteria
	Sort     SortSpec
	Limit    int
}

// HistogramQuery requests the price distribution for an ingredient and
// manufacturer scope. Other filter dimensions are deliberately not part of
// the histogram contract.
type HistogramQuery struct {
	ActiveIngredient string
	Manufacturer     string
	Bins             int
}

// BoxplotQuery requests per-group five-number summaries. GroupBy must be one
// of the GroupBy* columns; the ingredient scope only applies when grouping by
// manufacturer.
type BoxplotQuery struct {
	ActiveIngredient string
	GroupBy          string
	Limit            int
}

// AnomalyQuery requests an isolation-forest outlier scan over the ingredient
// scope.
type AnomalyQuery struct {
	ActiveIngredient string
	Contamination    float64
}

// ClusterQuery requests a k-means price clustering over the ingredient scope.
type ClusterQuery struct {
	ActiveIngredient string
	Clusters         int
}

// SummaryQuery requests the statistical summary for an ingredient or
// manufacturer scope.
type SummaryQuery struct {
	ActiveIngredient string
	Manufacturer     string
}

// queryWriter builds a raw query string with caller-controlled key order.
// url.Values would sort keys alphabetically and scramble the canonical
// parameter order the aggregation service logs and caches by.
type queryWriter struct {
	b strings.Builder
}

func (w *queryWriter) add(key, value string) {
	if value == "" {
		return
	}
	if w.b.Len() > 0 {
		w.b.WriteByte('&')
	}
	w.b.WriteString(url.QueryEscape(key))
	w.b.WriteByte('=')
	w.b.WriteString(url.QueryEscape(value))
}

func (w *queryWriter) String() string { return w.b.String() }

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Encode renders the query as a raw URL query string. Keys appear in a fixed
// canonical order: equality filters, price bounds, sort, limit.
func (q BaseQuery) Encode() string {
	var w queryWriter
	w.add("active_ingredient", q.Criteria.ActiveIngredient)
	w.add("manufacturer", q.Criteria.Manufacturer)
	w.add("concentration", q.Criteria.Concentration)
	w.add("channel", q.Criteria.Channel)
	w.add("dispensing_unit", q.Criteria.DispensingUnit)
	w.add("min_price", formatPrice(q.Criteria.MinPrice))
	w.add("max_price", formatPrice(q.Criteria.MaxPrice))
	w.add("sort_by", q.Sort.Field.Column())
	w.add("sort_order", string(q.Sort.Order))
	w.add("limit", strconv.Itoa(q.Limit))
	return w.String()
}

// Signature identifies the full parameter set. Two queries with equal
// signatures would return interchangeable data.
func (q BaseQuery) Signature() string { return q.Encode() }

// Encode renders the query as a raw URL query string.
func (q HistogramQuery) Encode() string {
	var w queryWriter
	w.add("active_ingredient", q.ActiveIngredient)
	w.add("manufacturer", q.Manufacturer)
	w.add("bins", strconv.Itoa(q.Bins))
	return w.String()
}

// Signature identifies the full parameter set.
func (q HistogramQuery) Signature() string { return q.Encode() }

// Encode renders the query as a raw URL query string.
func (q BoxplotQuery) Encode() string {
	var w queryWriter
	w.add("active_ingredient", q.ActiveIngredient)
	w.add("group_by", q.GroupBy)
	w.add("limit", strconv.Itoa(q.Limit))
	return w.String()
}

// Signature identifies the full parameter set.
func (q BoxplotQuery) Signature() string { return q.Encode() }

// Encode renders the query as a raw URL query string.
func (q AnomalyQuery) Encode() string {
	var w queryWriter
	w.add("active_ingredient", q.ActiveIngredient)
	w.add("contamination", formatPrice(q.Contamination))
	return w.String()
}

// Signature identifies the full parameter set.
func (q AnomalyQuery) Signature() string { return q.Encode() }

// Encode renders the query as a raw URL query string.
func (q ClusterQuery) Encode() string {
	var w queryWriter
	w.add("active_ingredient", q.ActiveIngredient)
	w.add("n_clusters", strconv.Itoa(q.Clusters))
	return w.String()
}

// Signature identifies the full parameter set.
func (q ClusterQuery) Signature() string { return q.Encode() }

// Encode renders the query as a raw URL query string.
func (q SummaryQuery) Encode() string {
	var w queryWriter
	w.add("active_ingredient", q.ActiveIngredient)
	w.add("manufacturer", q.Manufacturer)
	return w.String()
}

// Signature identifies the full parameter set.
func (q SummaryQuery) Signature() string { return q.Encode() }
