package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/redis/go-redis/v9"

	"github.com/pharmalens/pharmalens/internal/catalog"
	jobmetrics "github.com/pharmalens/pharmalens/internal/jobs"
	_ "github.com/pharmalens/pharmalens/internal/testing/guard"
	"github.com/pharmalens/pharmalens/jobs"
)

// aggSource answers every aggregation endpoint with a small fixed payload.
type aggSource struct{}

func (aggSource) Metadata(context.Context) (catalog.Metadata, error) {
	return catalog.Metadata{
		TotalRecords:      4,
		ActiveIngredients: []string{"ACETAMINOFEN", "IBUPROFENO"},
		Manufacturers:     []string{"GENFAR", "TECNOQUIMICAS"},
		Concentrations:    []string{"500 mg"},
		Channels:          []string{"COMERCIAL"},
		DispensingUnits:   []string{"TABLETA"},
		PriceRange:        catalog.PriceRange{Min: 100, Max: 950.5, Avg: 400},
		Columns:           []string{"nombre_comercial", "precio_por_tableta"},
	}, nil
}

func (aggSource) Records(context.Context, catalog.BaseQuery) ([]catalog.DrugRecord, error) {
	return []catalog.DrugRecord{{
		CommercialName:   "DOLEX",
		ActiveIngredient: "ACETAMINOFEN",
		Manufacturer:     "GENFAR",
		Concentration:    "500 mg",
		Channel:          "COMERCIAL",
		DispensingUnit:   "TABLETA",
		PricePerUnit:     120,
	}}, nil
}

func (aggSource) Histogram(context.Context, catalog.HistogramQuery) ([]catalog.HistogramBin, error) {
	return []catalog.HistogramBin{{Label: "100 – 200", LowerBound: 100, UpperBound: 200, Count: 4, Normalized: 1}}, nil
}

func (aggSource) Boxplot(context.Context, catalog.BoxplotQuery) ([]catalog.BoxplotSummary, error) {
	return []catalog.BoxplotSummary{{Group: "GENFAR", Min: 100, Q1: 150, Median: 200, Q3: 300, Max: 950.5, Count: 6}}, nil
}

func (aggSource) Anomalies(context.Context, catalog.AnomalyQuery) (catalog.AnomalyReport, error) {
	return catalog.AnomalyReport{NormalCount: 4}, nil
}

func (aggSource) Clusters(context.Context, catalog.ClusterQuery) (catalog.ClusterReport, error) {
	return catalog.ClusterReport{}, nil
}

func (aggSource) Summary(context.Context, catalog.SummaryQuery) (catalog.Summary, error) {
	return catalog.Summary{Count: 4}, nil
}

func TestCatalogWarmupJob(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cache := catalog.NewCache(client, time.Minute)
	service := catalog.NewService(aggSource{}, cache)
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	job := jobs.NewCatalogWarmupJob(service, cache, nil, metrics)
	task, err := jobs.NewCatalogWarmupTask(jobs.CatalogWarmupPayload{})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	if err := job.Handle(context.Background(), task); err != nil {
		t.Fatalf("job handle: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if !assertCounter(t, families, "pharmalens_jobs_total", map[string]string{"job": jobs.TaskCatalogWarmup, "status": "success"}, 1) {
		t.Fatalf("expected pharmalens_jobs_total increment for catalog warmup")
	}
	if !metricExists(families, "pharmalens_job_duration_seconds") {
		t.Fatalf("expected pharmalens_job_duration_seconds to be recorded")
	}
	for _, kind := range []string{"metadata", "base", "histogram", "box", "anomalies", "clusters"} {
		if !assertCounter(t, families, "pharmalens_warmup_queries_total", map[string]string{"kind": kind}, 1) {
			t.Fatalf("expected one warmed %s query", kind)
		}
	}
}

func assertCounter(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string, expected float64) bool {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if matchLabels(metric.GetLabel(), labels) {
				if metric.GetCounter() == nil {
					return false
				}
				if metric.GetCounter().GetValue() == expected {
					return true
				}
			}
		}
	}
	return false
}

func metricExists(families []*dto.MetricFamily, name string) bool {
	for _, fam := range families {
		if fam.GetName() == name {
			return true
		}
	}
	return false
}

func matchLabels(pairs []*dto.LabelPair, expected map[string]string) bool {
	if len(expected) == 0 {
		return true
	}
	seen := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		seen[pair.GetName()] = pair.GetValue()
	}
	for k, v := range expected {
		if seen[k] != v {
			return false
		}
	}
	return true
}
