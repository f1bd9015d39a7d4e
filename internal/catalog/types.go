package catalog

// DrugRecord is one row of the MinSalud drug-price catalog. Field tags follow
// the upstream dataset's Spanish column names, which the Aggregation Service
// exposes verbatim. Records are read-only once fetched.
type DrugRecord struct {
	CommercialName   string  `json:"nombre_comercial"`
	ActiveIngredient string  `json:"principio_activo"`
	Manufacturer     string  `json:"fabricante"`
	Concentration    string  `json:"concentracion"`
	Channel          string  `json:"canal"`
	DispensingUnit   string  `json:"unidad_de_dispensacion"`
	PricePerUnit     float64 `json:"precio_por_tableta"`
}

// PriceRange bounds the observed prices across a record set.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

// Metadata describes the catalog: the distinct values of every filterable
// dimension plus the global price range.
type Metadata struct {
	TotalRecords      int        `json:"total_records"`
	ActiveIngredients []string   `json:"active_ingredients"`
	Manufacturers     []string   `json:"manufacturers"`
	Concentrations    []string   `json:"concentrations"`
	Channels          []string   `json:"channels"`
	DispensingUnits   []string   `json:"dispensing_units"`
	PriceRange        PriceRange `json:"price_range"`
	Columns           []string   `json:"columns"`
}

// HistogramBin is one contiguous price bucket. Bins partition the price range
// of the queried set; Normalized is the bin count divided by the set size.
type HistogramBin struct {
	Label      string  `json:"bin"`
	LowerBound float64 `json:"binStart"`
	UpperBound float64 `json:"binEnd"`
	Count      int     `json:"count"`
	Normalized float64 `json:"normalizedCount"`
}

// BoxplotSummary carries the five-number summary for one group. The service
// omits groups with fewer than five members and orders rows by median
// descending.
type BoxplotSummary struct {
	Group  string  `json:"name"`
	Min    float64 `json:"min"`
	Q1     float64 `json:"q1"`
	Median float64 `json:"median"`
	Q3     float64 `json:"q3"`
	Max    float64 `json:"max"`
	Count  int     `json:"count"`
}

// Valid reports whether the quartiles are ordered min ≤ q1 ≤ median ≤ q3 ≤ max.
func (b BoxplotSummary) Valid() bool {
	return b.Min <= b.Q1 && b.Q1 <= b.Median && b.Median <= b.Q3 && b.Q3 <= b.Max
}

// AnomalyRecord is a single record the isolation forest flagged as an outlier.
type AnomalyRecord struct {
	ID               int     `json:"id"`
	CommercialName   string  `json:"nombre_comercial"`
	ActiveIngredient string  `json:"principio_activo"`
	Manufacturer     string  `json:"fabricante"`
	PricePerUnit     float64 `json:"precio_por_tableta"`
	IsAnomaly        bool    `json:"is_anomaly"`
}

// AnomalyReport aggregates the anomaly scan: population counts, price
// averages for both classes, the 2-sigma thresholds, and the flagged records
// ordered by price descending. AnomalyCount always equals len(Anomalies).
type AnomalyReport struct {
	NormalCount     int             `json:"normal_count"`
	AnomalyCount    int             `json:"anomaly_count"`
	NormalAvgPrice  float64         `json:"normal_avg_price"`
	AnomalyAvgPrice float64         `json:"anomaly_avg_price"`
	UpperThreshold  float64         `json:"price_threshold_upper"`
	LowerThreshold  float64         `json:"price_threshold_lower"`
	Anomalies       []AnomalyRecord `json:"anomalies"`
}

// ClusterSummary describes one k-means cluster over the price axis.
// Identifiers are dense 0..k-1 and counts sum to the queried population.
type ClusterSummary struct {
	ClusterID int     `json:"cluster_id"`
	Count     int     `json:"count"`
	MinPrice  float64 `json:"min_price"`
	MaxPrice  float64 `json:"max_price"`
	AvgPrice  float64 `json:"avg_price"`
	Center    float64 `json:"center"`
}

// ClusterSample is a record with its assigned cluster, returned for the first
// hundred rows of the clustered population.
type ClusterSample struct {
	ID               int     `json:"id"`
	CommercialName   string  `json:"nombre_comercial"`
	ActiveIngredient string  `json:"principio_activo"`
	Manufacturer     string  `json:"fabricante"`
	PricePerUnit     float64 `json:"precio_por_tableta"`
	Cluster          int     `json:"cluster"`
}

// ClusterReport combines cluster summaries with the assignment sample.
type ClusterReport struct {
	Clusters []ClusterSummary `json:"clusters"`
	Sample   []ClusterSample  `json:"data_sample"`
}

// PriceStats is the server-computed univariate summary of a filtered set.
type PriceStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
}

// ManufacturerStat is a per-manufacturer breakdown row, present when the
// summary was scoped to an active ingredient.
type ManufacturerStat struct {
	Manufacturer string  `json:"manufacturer"`
	Count        int     `json:"count"`
	MinPrice     float64 `json:"min_price"`
	MaxPrice     float64 `json:"max_price"`
	AvgPrice     float64 `json:"avg_price"`
}

// IngredientStat is a per-ingredient breakdown row, present when the summary
// was scoped to a manufacturer.
type IngredientStat struct {
	ActiveIngredient string  `json:"active_ingredient"`
	Count            int     `json:"count"`
	MinPrice         float64 `json:"min_price"`
	MaxPrice         float64 `json:"max_price"`
	AvgPrice         float64 `json:"avg_price"`
}

// Summary is the server-side statistical summary for a filter scope.
type Summary struct {
	Count             int                `json:"count"`
	PriceStats        PriceStats         `json:"price_stats"`
	Manufacturers     []ManufacturerStat `json:"manufacturers,omitempty"`
	ActiveIngredients []IngredientStat   `json:"active_ingredients,omitempty"`
}
