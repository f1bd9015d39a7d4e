package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeAggregation serves canned aggregation responses and records the raw
// query string each endpoint was last called with.
type fakeAggregation struct {
	mu        sync.Mutex
	lastQuery map[string]string
	responses map[string]string
	status    map[string]int
}

func newFakeAggregation() *fakeAggregation {
	return &fakeAggregation{
		lastQuery: make(map[string]string),
		responses: make(map[string]string),
		status:    make(map[string]int),
	}
}

func (f *fakeAggregation) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.lastQuery[r.URL.Path] = r.URL.RawQuery
	body, ok := f.responses[r.URL.Path]
	code := f.status[r.URL.Path]
	f.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	if code == 0 {
		code = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write([]byte(body))
}

func (f *fakeAggregation) queryFor(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastQuery[path]
}

func newTestClient(t *testing.T) (*Client, *fakeAggregation) {
	t.Helper()
	fake := newFakeAggregation()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 0), fake
}

func TestClientMetadata(t *testing.T) {
	client, fake := newTestClient(t)
	fake.responses["/api/metadata"] = `{
		"status": "success",
		"total_records": 2150,
		"active_ingredients": ["ACETAMINOFEN", "IBUPROFENO"],
		"manufacturers": ["GENFAR S.A.", "TECNOQUIMICAS"],
		"concentrations": ["500 mg"],
		"channels": ["Comercial", "Institucional"],
		"dispensing_units": ["Tableta"],
		"price_range": {"min": 50.5, "max": 12000, "avg": 980.25},
		"columns": ["nombre_comercial", "principio_activo"]
	}`

	meta, err := client.Metadata(context.Background())
	if err != nil {
		t.Fatalf("metadata error: %v", err)
	}
	if meta.TotalRecords != 2150 {
		t.Fatalf("total records = %d", meta.TotalRecords)
	}
	if len(meta.ActiveIngredients) != 2 || meta.ActiveIngredients[1] != "IBUPROFENO" {
		t.Fatalf("unexpected ingredients %#v", meta.ActiveIngredients)
	}
	if meta.PriceRange.Max != 12000 {
		t.Fatalf("price range max = %v", meta.PriceRange.Max)
	}
}

func TestClientRecordsSendsEncodedQuery(t *testing.T) {
	client, fake := newTestClient(t)
	fake.responses["/api/data"] = `{
		"status": "success",
		"count": 1,
		"data": [{
			"nombre_comercial": "Dolex Forte",
			"principio_activo": "ACETAMINOFEN",
			"fabricante": "GSK",
			"concentracion": "500 mg",
			"canal": "Comercial",
			"unidad_de_dispensacion": "Tableta",
			"precio_por_tableta": 150.5
		}]
	}`

	q := BaseQuery{
		Criteria: Criteria{ActiveIngredient: "ACETAMINOFEN", MinPrice: 0, MaxPrice: 500},
		Sort:     SortSpec{Field: SortByPrice, Order: SortAsc},
		Limit:    BaseLimit,
	}
	records, err := client.Records(context.Background(), q)
	if err != nil {
		t.Fatalf("records error: %v", err)
	}
	if len(records) != 1 || records[0].CommercialName != "Dolex Forte" {
		t.Fatalf("unexpected records %#v", records)
	}
	if records[0].PricePerUnit != 150.5 {
		t.Fatalf("price = %v", records[0].PricePerUnit)
	}
	if got := fake.queryFor("/api/data"); got != q.Encode() {
		t.Fatalf("sent query %s, want %s", got, q.Encode())
	}
}

func TestClientSurfacesEnvelopeError(t *testing.T) {
	client, fake := newTestClient(t)
	fake.responses["/api/boxplot"] = `{"status": "error", "message": "Error: columna de agrupacion invalida"}`
	fake.status["/api/boxplot"] = http.StatusBadRequest

	_, err := client.Boxplot(context.Background(), BoxplotQuery{GroupBy: "canal", Limit: BoxplotLimit})
	if err == nil {
		t.Fatal("expected an error for an error envelope")
	}
	if !strings.Contains(err.Error(), "columna de agrupacion invalida") {
		t.Fatalf("error should carry the service message, got %v", err)
	}
}

func TestClientRejectsNonJSONFailure(t *testing.T) {
	client, fake := newTestClient(t)
	fake.responses["/api/histogram"] = `<html>bad gateway</html>`
	fake.status["/api/histogram"] = http.StatusBadGateway

	_, err := client.Histogram(context.Background(), HistogramQuery{Bins: HistogramBins})
	if err == nil {
		t.Fatal("expected an error for a non-JSON failure body")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Fatalf("error should carry the HTTP status, got %v", err)
	}
}

func TestClientAnomaliesFlattensStatistics(t *testing.T) {
	client, fake := newTestClient(t)
	fake.responses["/api/ml/anomalies"] = `{
		"status": "success",
		"statistics": {
			"normal_count": 95,
			"anomaly_count": 5,
			"normal_avg_price": 420.75,
			"anomaly_avg_price": 9800.1,
			"price_threshold_upper": 2400.5,
			"price_threshold_lower": 12.25
		},
		"anomalies": [
			{"id": 17, "nombre_comercial": "Caro Max", "principio_activo": "IBUPROFENO", "fabricante": "ACME", "precio_por_tableta": 11000, "is_anomaly": true}
		]
	}`

	report, err := client.Anomalies(context.Background(), AnomalyQuery{ActiveIngredient: "IBUPROFENO", Contamination: AnomalyContamination})
	if err != nil {
		t.Fatalf("anomalies error: %v", err)
	}
	if report.AnomalyCount != 5 || report.NormalCount != 95 {
		t.Fatalf("counts = %d/%d", report.AnomalyCount, report.NormalCount)
	}
	if report.UpperThreshold != 2400.5 || report.LowerThreshold != 12.25 {
		t.Fatalf("thresholds = %v/%v", report.UpperThreshold, report.LowerThreshold)
	}
	if len(report.Anomalies) != 1 || !report.Anomalies[0].IsAnomaly {
		t.Fatalf("unexpected anomalies %#v", report.Anomalies)
	}
	if got := fake.queryFor("/api/ml/anomalies"); got != "active_ingredient=IBUPROFENO&contamination=0.05" {
		t.Fatalf("sent query %s", got)
	}
}

func TestClientClusters(t *testing.T) {
	client, fake := newTestClient(t)
	fake.responses["/api/ml/clusters"] = `{
		"status": "success",
		"clusters": [
			{"cluster_id": 0, "count": 40, "min_price": 50, "max_price": 300, "avg_price": 120.5, "center": 110.2},
			{"cluster_id": 1, "count": 35, "min_price": 301, "max_price": 900, "avg_price": 550.1, "center": 540.9},
			{"cluster_id": 2, "count": 25, "min_price": 901, "max_price": 12000, "avg_price": 3100.7, "center": 2900.4}
		],
		"data_sample": [
			{"id": 3, "nombre_comercial": "Generico A", "principio_activo": "LOSARTAN", "fabricante": "MK", "precio_por_tableta": 75.5, "cluster": 0}
		]
	}`

	report, err := client.Clusters(context.Background(), ClusterQuery{ActiveIngredient: "LOSARTAN", Clusters: ClusterCount})
	if err != nil {
		t.Fatalf("clusters error: %v", err)
	}
	if len(report.Clusters) != 3 {
		t.Fatalf("expected 3 clusters, got %d", len(report.Clusters))
	}
	if report.Clusters[2].Center != 2900.4 {
		t.Fatalf("cluster center = %v", report.Clusters[2].Center)
	}
	if len(report.Sample) != 1 || report.Sample[0].Cluster != 0 {
		t.Fatalf("unexpected sample %#v", report.Sample)
	}
}

func TestClientSummaryBreakdowns(t *testing.T) {
	client, fake := newTestClient(t)
	fake.responses["/api/summary"] = `{
		"status": "success",
		"summary": {
			"count": 120,
			"price_stats": {"min": 60, "max": 8000, "mean": 700.4, "median": 450.2, "std": 910.3},
			"manufacturers": [
				{"manufacturer": "GENFAR S.A.", "count": 48, "min_price": 60, "max_price": 2000, "avg_price": 300.5}
			]
		}
	}`

	summary, err := client.Summary(context.Background(), SummaryQuery{ActiveIngredient: "ACETAMINOFEN"})
	if err != nil {
		t.Fatalf("summary error: %v", err)
	}
	if summary.Count != 120 || summary.PriceStats.Median != 450.2 {
		t.Fatalf("unexpected summary %#v", summary)
	}
	if len(summary.Manufacturers) != 1 || summary.Manufacturers[0].Count != 48 {
		t.Fatalf("unexpected breakdown %#v", summary.Manufacturers)
	}
	if len(summary.ActiveIngredients) != 0 {
		t.Fatalf("ingredient breakdown should be absent, got %#v", summary.ActiveIngredients)
	}
}
