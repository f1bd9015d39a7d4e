package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Responses are small: records are capped at fifty rows and the cluster
// sample at one hundred. The limit only guards against a misbehaving upstream.
const maxResponseBytes = 16 << 20

const statusSuccess = "success"

// Client talks to the aggregation service's JSON API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client for the aggregation service at baseURL. A zero
// timeout falls back to thirty seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// apiEnvelope is the status wrapper every aggregation response carries. The
// payload fields sit alongside it at the top level.
type apiEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (e apiEnvelope) remoteError() error {
	if e.Status == statusSuccess {
		return nil
	}
	if e.Message == "" {
		return errors.New("aggregation service reported an error")
	}
	return errors.New(e.Message)
}

type remoteResult interface {
	remoteError() error
}

type metadataResponse struct {
	apiEnvelope
	Metadata
}

type recordsResponse struct {
	apiEnvelope
	Count int          `json:"count"`
	Data  []DrugRecord `json:"data"`
}

type summaryResponse struct {
	apiEnvelope
	Summary Summary `json:"summary"`
}

type histogramResponse struct {
	apiEnvelope
	Histogram []HistogramBin `json:"histogram"`
}

type boxplotResponse struct {
	apiEnvelope
	Boxplot []BoxplotSummary `json:"boxplot"`
}

type anomalyStatistics struct {
	NormalCount     int     `json:"normal_count"`
	AnomalyCount    int     `json:"anomaly_count"`
	NormalAvgPrice  float64 `json:"normal_avg_price"`
	AnomalyAvgPrice float64 `json:"anomaly_avg_price"`
	UpperThreshold  float64 `json:"price_threshold_upper"`
	LowerThreshold  float64 `json:"price_threshold_lower"`
}

type anomaliesResponse struct {
	apiEnvelope
	Statistics anomalyStatistics `json:"statistics"`
	Anomalies  []AnomalyRecord   `json:"anomalies"`
}

type clustersResponse struct {
	apiEnvelope
	Clusters []ClusterSummary `json:"clusters"`
	Sample   []ClusterSample  `json:"data_sample"`
}

// get issues a GET and decodes the enveloped response into dest. Error
// bodies are decoded first because the service reports failures as JSON
// envelopes with non-200 statuses.
func (c *Client) get(ctx context.Context, path, rawQuery string, dest remoteResult) error {
	u := c.baseURL + path
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build aggregation request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call aggregation service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read aggregation response: %w", err)
	}
	if err := json.Unmarshal(body, dest); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("aggregation service returned %s", resp.Status)
		}
		return fmt.Errorf("decode aggregation response: %w", err)
	}
	if err := dest.remoteError(); err != nil {
		return fmt.Errorf("aggregation service: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("aggregation service returned %s", resp.Status)
	}
	return nil
}

// Metadata fetches the catalog metadata: dimension values, price range, and
// record count.
func (c *Client) Metadata(ctx context.Context) (Metadata, error) {
	var resp metadataResponse
	if err := c.get(ctx, "/api/metadata", "", &resp); err != nil {
		return Metadata{}, err
	}
	return resp.Metadata, nil
}

// Records fetches the filtered, sorted, capped record slice.
func (c *Client) Records(ctx context.Context, q BaseQuery) ([]DrugRecord, error) {
	var resp recordsResponse
	if err := c.get(ctx, "/api/data", q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Histogram fetches the binned price distribution for the query scope.
func (c *Client) Histogram(ctx context.Context, q HistogramQuery) ([]HistogramBin, error) {
	var resp histogramResponse
	if err := c.get(ctx, "/api/histogram", q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Histogram, nil
}

// Boxplot fetches per-group five-number summaries for the query scope.
func (c *Client) Boxplot(ctx context.Context, q BoxplotQuery) ([]BoxplotSummary, error) {
	var resp boxplotResponse
	if err := c.get(ctx, "/api/boxplot", q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Boxplot, nil
}

// Anomalies runs the isolation-forest scan for the query scope.
func (c *Client) Anomalies(ctx context.Context, q AnomalyQuery) (AnomalyReport, error) {
	var resp anomaliesResponse
	if err := c.get(ctx, "/api/ml/anomalies", q.Encode(), &resp); err != nil {
		return AnomalyReport{}, err
	}
	return AnomalyReport{
		NormalCount:     resp.Statistics.NormalCount,
		AnomalyCount:    resp.Statistics.AnomalyCount,
		NormalAvgPrice:  resp.Statistics.NormalAvgPrice,
		AnomalyAvgPrice: resp.Statistics.AnomalyAvgPrice,
		UpperThreshold:  resp.Statistics.UpperThreshold,
		LowerThreshold:  resp.Statistics.LowerThreshold,
		Anomalies:       resp.Anomalies,
	}, nil
}

// Clusters runs the k-means price clustering for the query scope.
func (c *Client) Clusters(ctx context.Context, q ClusterQuery) (ClusterReport, error) {
	var resp clustersResponse
	if err := c.get(ctx, "/api/ml/clusters", q.Encode(), &resp); err != nil {
		return ClusterReport{}, err
	}
	return ClusterReport{Clusters: resp.Clusters, Sample: resp.Sample}, nil
}

// Summary fetches the statistical summary for the query scope.
func (c *Client) Summary(ctx context.Context, q SummaryQuery) (Summary, error) {
	var resp summaryResponse
	if err := c.get(ctx, "/api/summary", q.Encode(), &resp); err != nil {
		return Summary{}, err
	}
	return resp.Summary, nil
}

// Ping reports whether the aggregation service answers its metadata endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Metadata(ctx)
	return err
}
