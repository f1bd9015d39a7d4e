package catalog

import (
	"context"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Source is the slice of the aggregation API the service consumes.
type Source interface {
	Metadata(ctx context.Context) (Metadata, error)
	Records(ctx context.Context, q BaseQuery) ([]DrugRecord, error)
	Histogram(ctx context.Context, q HistogramQuery) ([]HistogramBin, error)
	Boxplot(ctx context.Context, q BoxplotQuery) ([]BoxplotSummary, error)
	Anomalies(ctx context.Context, q AnomalyQuery) (AnomalyReport, error)
	Clusters(ctx context.Context, q ClusterQuery) (ClusterReport, error)
	Summary(ctx context.Context, q SummaryQuery) (Summary, error)
}

// Service fronts the aggregation source with the versioned cache. Every
// fetch is keyed by the query signature, so equal queries share one upstream
// call per cache generation.
type Service struct {
	source Source
	cache  *Cache
}

// NewService wires the service with its source and an optional cache.
func NewService(source Source, cache *Cache) *Service {
	return &Service{source: source, cache: cache}
}

// GetMetadata returns the catalog metadata with its dimension lists ordered
// by Spanish collation, the order the dataset's vocabulary reads naturally in.
func (s *Service) GetMetadata(ctx context.Context) (Metadata, error) {
	loader := func(ctx context.Context) (interface{}, error) {
		meta, err := s.source.Metadata(ctx)
		if err != nil {
			return nil, err
		}
		sortSpanish(meta.ActiveIngredients)
		sortSpanish(meta.Manufacturers)
		sortSpanish(meta.Concentrations)
		sortSpanish(meta.Channels)
		sortSpanish(meta.DispensingUnits)
		return meta, nil
	}
	if s.cache == nil {
		value, err := loader(ctx)
		if err != nil {
			return Metadata{}, err
		}
		return value.(Metadata), nil
	}
	key, err := s.cache.BuildKey(ctx, keyMetadata())
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := s.cache.FetchJSON(ctx, key, &meta, loader); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// GetRecords returns the filtered, sorted, capped record slice.
func (s *Service) GetRecords(ctx context.Context, q BaseQuery) ([]DrugRecord, error) {
	loader := func(ctx context.Context) (interface{}, error) {
		return s.source.Records(ctx, q)
	}
	if s.cache == nil {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		return value.([]DrugRecord), nil
	}
	key, err := s.cache.BuildKey(ctx, keyRecords(q.Signature()))
	if err != nil {
		return nil, err
	}
	var records []DrugRecord
	if err := s.cache.FetchJSON(ctx, key, &records, loader); err != nil {
		return nil, err
	}
	return records, nil
}

// GetHistogram returns the binned price distribution for the query scope.
func (s *Service) GetHistogram(ctx context.Context, q HistogramQuery) ([]HistogramBin, error) {
	loader := func(ctx context.Context) (interface{}, error) {
		return s.source.Histogram(ctx, q)
	}
	if s.cache == nil {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		return value.([]HistogramBin), nil
	}
	key, err := s.cache.BuildKey(ctx, keyHistogram(q.Signature()))
	if err != nil {
		return nil, err
	}
	var bins []HistogramBin
	if err := s.cache.FetchJSON(ctx, key, &bins, loader); err != nil {
		return nil, err
	}
	return bins, nil
}

// GetBoxplot returns per-group five-number summaries for the query scope.
func (s *Service) GetBoxplot(ctx context.Context, q BoxplotQuery) ([]BoxplotSummary, error) {
	loader := func(ctx context.Context) (interface{}, error) {
		return s.source.Boxplot(ctx, q)
	}
	if s.cache == nil {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		return value.([]BoxplotSummary), nil
	}
	key, err := s.cache.BuildKey(ctx, keyBoxplot(q.Signature()))
	if err != nil {
		return nil, err
	}
	var rows []BoxplotSummary
	if err := s.cache.FetchJSON(ctx, key, &rows, loader); err != nil {
		return nil, err
	}
	return rows, nil
}

// GetAnomalies runs the outlier scan for the query scope.
func (s *Service) GetAnomalies(ctx context.Context, q AnomalyQuery) (AnomalyReport, error) {
	loader := func(ctx context.Context) (interface{}, error) {
		return s.source.Anomalies(ctx, q)
	}
	if s.cache == nil {
		value, err := loader(ctx)
		if err != nil {
			return AnomalyReport{}, err
		}
		return value.(AnomalyReport), nil
	}
	key, err := s.cache.BuildKey(ctx, keyAnomalies(q.Signature()))
	if err != nil {
		return AnomalyReport{}, err
	}
	var report AnomalyReport
	if err := s.cache.FetchJSON(ctx, key, &report, loader); err != nil {
		return AnomalyReport{}, err
	}
	return report, nil
}

// GetClusters runs the price clustering for the query scope.
func (s *Service) GetClusters(ctx context.Context, q ClusterQuery) (ClusterReport, error) {
	loader := func(ctx context.Context) (interface{}, error) {
		return s.source.Clusters(ctx, q)
	}
	if s.cache == nil {
		value, err := loader(ctx)
		if err != nil {
			return ClusterReport{}, err
		}
		return value.(ClusterReport), nil
	}
	key, err := s.cache.BuildKey(ctx, keyClusters(q.Signature()))
	if err != nil {
		return ClusterReport{}, err
	}
	var report ClusterReport
	if err := s.cache.FetchJSON(ctx, key, &report, loader); err != nil {
		return ClusterReport{}, err
	}
	return report, nil
}

// GetSummary returns the statistical summary for the query scope.
func (s *Service) GetSummary(ctx context.Context, q SummaryQuery) (Summary, error) {
	loader := func(ctx context.Context) (interface{}, error) {
		return s.source.Summary(ctx, q)
	}
	if s.cache == nil {
		value, err := loader(ctx)
		if err != nil {
			return Summary{}, err
		}
		return value.(Summary), nil
	}
	key, err := s.cache.BuildKey(ctx, keySummary(q.Signature()))
	if err != nil {
		return Summary{}, err
	}
	var summary Summary
	if err := s.cache.FetchJSON(ctx, key, &summary, loader); err != nil {
		return Summary{}, err
	}
	return summary, nil
}

func sortSpanish(values []string) {
	if len(values) < 2 {
		return
	}
	collate.New(language.Spanish, collate.IgnoreCase).SortStrings(values)
}
