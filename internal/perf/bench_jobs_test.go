package perf

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

// The warmup job runs nightly and on demand after invalidations. The first
// run pays the upstream round trips; repeats must ride the cache. Both have
// generous wall-clock budgets so the gate only trips on real regressions.
func TestWarmupJobThroughputAndReliability(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cache := catalog.NewCache(client, time.Minute)
	service := catalog.NewService(perfSource{}, cache)
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	job := jobs.NewCatalogWarmupJob(service, cache, nil, metrics)

	task, err := jobs.NewCatalogWarmupTask(jobs.CatalogWarmupPayload{})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	const runs = 20
	for i := 0; i < runs; i++ {
		if err := job.Handle(context.Background(), task); err != nil {
			t.Fatalf("warmup run %d: %v", i, err)
		}
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	success := metricValue(t, families, "pharmalens_jobs_total", map[string]string{"job": jobs.TaskCatalogWarmup, "status": "success"})
	if success != runs {
		t.Fatalf("expected %d successful runs, got %f", runs, success)
	}
	if metricExists(families, "pharmalens_jobs_failures_total") {
		t.Fatal("no run should have failed")
	}

	mean := histogramMean(t, families, "pharmalens_job_duration_seconds", map[string]string{"job": jobs.TaskCatalogWarmup})
	if mean > 2.0 {
		t.Fatalf("warmup mean duration above budget: %fs", mean)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func metricExists(families []*dto.MetricFamily, name string) bool {
	for _, fam := range families {
		if fam.GetName() == name && len(fam.GetMetric()) > 0 {
			return true
		}
	}
	return false
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	for _, lp := range metric.GetLabel() {
		if val, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != val {
				return false
			}
		}
	}
	for key := range labels {
		found := false
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == key {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
