package dashhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/pharmalens/pharmalens/internal/catalog"
	"github.com/pharmalens/pharmalens/internal/dashboard"
	"github.com/pharmalens/pharmalens/internal/dashboard/export"
	"github.com/pharmalens/pharmalens/internal/dashboard/svg"
	"github.com/pharmalens/pharmalens/internal/view"
)

type stubSource struct {
	mu  sync.Mutex
	err error
}

func (s *stubSource) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *stubSource) takeErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stubSource) Metadata(ctx context.Context) (catalog.Metadata, error) {
	if err := s.takeErr(); err != nil {
		return catalog.Metadata{}, err
	}
	return catalog.Metadata{
		TotalRecords:      2,
		ActiveIngredients: []string{"Acetaminofén", "Ibuprofeno"},
		Manufacturers:     []string{"Genfar", "Tecnoquímicas"},
		Concentrations:    []string{"400 mg", "500 mg"},
		Channels:          []string{"Comercial"},
		DispensingUnits:   []string{"Tableta"},
		PriceRange:        catalog.PriceRange{Min: 100, Max: 1800, Avg: 750},
	}, nil
}

func (s *stubSource) Records(ctx context.Context, q catalog.BaseQuery) ([]catalog.DrugRecord, error) {
	if err := s.takeErr(); err != nil {
		return nil, err
	}
	return []catalog.DrugRecord{
		{CommercialName: "Dolex Forte", ActiveIngredient: "Acetaminofén", Manufacturer: "Tecnoquímicas", Concentration: "500 mg", Channel: "Comercial", DispensingUnit: "Tableta", PricePerUnit: 850.5},
		{CommercialName: "Advil Max", ActiveIngredient: "Ibuprofeno", Manufacturer: "Genfar", Concentration: "400 mg", Channel: "Comercial", DispensingUnit: "Tableta", PricePerUnit: 1200},
	}, nil
}

func (s *stubSource) Histogram(ctx context.Context, q catalog.HistogramQuery) ([]catalog.HistogramBin, error) {
	if err := s.takeErr(); err != nil {
		return nil, err
	}
	return []catalog.HistogramBin{
		{Label: "100 – 950", LowerBound: 100, UpperBound: 950, Count: 1, Normalized: 0.5},
		{Label: "950 – 1800", LowerBound: 950, UpperBound: 1800, Count: 1, Normalized: 0.5},
	}, nil
}

func (s *stubSource) Boxplot(ctx context.Context, q catalog.BoxplotQuery) ([]catalog.BoxplotSummary, error) {
	if err := s.takeErr(); err != nil {
		return nil, err
	}
	return []catalog.BoxplotSummary{
		{Group: "Genfar", Min: 200, Q1: 400, Median: 700, Q3: 900, Max: 1500, Count: 12},
	}, nil
}

func (s *stubSource) Anomalies(ctx context.Context, q catalog.AnomalyQuery) (catalog.AnomalyReport, error) {
	if err := s.takeErr(); err != nil {
		return catalog.AnomalyReport{}, err
	}
	return catalog.AnomalyReport{
		NormalCount:    1,
		AnomalyCount:   1,
		NormalAvgPrice: 850.5,
		UpperThreshold: 1100,
		LowerThreshold: 150,
		Anomalies: []catalog.AnomalyRecord{
			{ID: 1, CommercialName: "Dolex Forte", PricePerUnit: 850.5, IsAnomaly: false},
			{ID: 2, CommercialName: "Advil Max", PricePerUnit: 1200, IsAnomaly: true},
		},
	}, nil
}

func (s *stubSource) Clusters(ctx context.Context, q catalog.ClusterQuery) (catalog.ClusterReport, error) {
	if err := s.takeErr(); err != nil {
		return catalog.ClusterReport{}, err
	}
	return catalog.ClusterReport{
		Clusters: []catalog.ClusterSummary{{ClusterID: 0, Count: 2, MinPrice: 850.5, MaxPrice: 1200, AvgPrice: 1025.25, Center: 1000}},
		Sample: []catalog.ClusterSample{
			{ID: 1, CommercialName: "Dolex Forte", PricePerUnit: 850.5, Cluster: 0},
			{ID: 2, CommercialName: "Advil Max", PricePerUnit: 1200, Cluster: 0},
		},
	}, nil
}

func (s *stubSource) Summary(ctx context.Context, q catalog.SummaryQuery) (catalog.Summary, error) {
	if err := s.takeErr(); err != nil {
		return catalog.Summary{}, err
	}
	return catalog.Summary{
		Count: 2,
		PriceStats: catalog.PriceStats{
			Mean:   1025.25,
			Median: 1025.25,
			Min:    850.5,
			Max:    1200,
		},
		Manufacturers: []catalog.ManufacturerStat{
			{Manufacturer: "Tecnoquímicas", Count: 1, MinPrice: 850.5, MaxPrice: 850.5, AvgPrice: 850.5},
		},
	}, nil
}

type stubPDF struct {
	data []byte
	err  error
	last export.PDFPayload
}

func (s *stubPDF) RenderSnapshot(ctx context.Context, payload export.PDFPayload) ([]byte, error) {
	s.last = payload
	if s.data == nil {
		s.data = append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("PDF"), 400)...)
	}
	return s.data, s.err
}

type barAdapter func(width, height int, bars []svg.Bar, opts svg.BarOpts) (template.HTML, error)

func (a barAdapter) Bars(width, height int, bars []svg.Bar, opts svg.BarOpts) (template.HTML, error) {
	return a(width, height, bars, opts)
}

type scatterAdapter func(width, height int, points []svg.Point, opts svg.ScatterOpts) (template.HTML, error)

func (a scatterAdapter) Scatter(width, height int, points []svg.Point, opts svg.ScatterOpts) (template.HTML, error) {
	return a(width, height, points, opts)
}

type pieAdapter func(width, height int, slices []svg.Slice, opts svg.PieOpts) (template.HTML, error)

func (a pieAdapter) Pie(width, height int, slices []svg.Slice, opts svg.PieOpts) (template.HTML, error) {
	return a(width, height, slices, opts)
}

type boxAdapter func(width, height int, rows []svg.BoxRow, opts svg.BoxOpts) (template.HTML, error)

func (a boxAdapter) Boxplot(width, height int, rows []svg.BoxRow, opts svg.BoxOpts) (template.HTML, error) {
	return a(width, height, rows, opts)
}

func newTestHandler(t *testing.T, src catalog.Source) *Handler {
	t.Helper()
	templates, err := view.NewEngine()
	if err != nil {
		t.Fatalf("parse templates: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := catalog.NewService(src, nil)
	registry := dashboard.NewRegistry(logger, nil, time.Hour)
	factory := func() *dashboard.Controller {
		return dashboard.NewController(service, logger, nil)
	}
	h := NewHandler(logger, registry, factory, service, templates, barAdapter(svg.Bars), scatterAdapter(svg.Scatter), pieAdapter(svg.Pie), boxAdapter(svg.Boxplot), &stubPDF{})
	h.WithNow(func() time.Time { return time.Date(2025, 6, 10, 15, 4, 0, 0, time.UTC) })
	return h
}

func createSession(t *testing.T, h *Handler) *http.Cookie {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	rec := httptest.NewRecorder()
	h.handleDashboard(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 creating session, got %d", rec.Code)
	}
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == sessionCookie {
			return cookie
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func postForm(t *testing.T, h *Handler, cookie *http.Cookie, path string, form url.Values, fn http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	fn(rec, req)
	return rec
}

func fetchSnapshot(t *testing.T, h *Handler, cookie *http.Cookie) dashboard.Snapshot {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/dashboard/state.json", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.handleState(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching state, got %d", rec.Code)
	}
	var snap dashboard.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return snap
}

func TestDashboardCreatesSession(t *testing.T) {
	h := newTestHandler(t, &stubSource{})
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	rec := httptest.NewRecorder()
	h.handleDashboard(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value == "" {
		t.Fatal("expected session cookie")
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Catálogo de precios de medicamentos") {
		t.Error("expected page heading in response")
	}
	if !strings.Contains(body, "Dolex Forte") {
		t.Error("expected record table in response")
	}
	if !strings.Contains(body, "850,50") {
		t.Errorf("expected Spanish price formatting in response")
	}
	if !strings.Contains(body, "<svg") {
		t.Error("expected rendered chart in response")
	}
}

func TestDashboardReusesSession(t *testing.T) {
	h := newTestHandler(t, &stubSource{})
	cookie := createSession(t, h)

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.handleDashboard(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := h.registry.Len(); got != 1 {
		t.Fatalf("expected a single session, got %d", got)
	}
}

func TestApplyFiltersCommitsAndRedirects(t *testing.T) {
	h := newTestHandler(t, &stubSource{})
	cookie := createSession(t, h)

	form := url.Values{}
	form.Set("active_ingredient", "Acetaminofén")
	form.Set("min_price", "100")
	rec := postForm(t, h, cookie, "/dashboard/filters", form, h.handleApplyFilters)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/dashboard" {
		t.Fatalf("expected redirect to /dashboard, got %q", loc)
	}

	snap := fetchSnapshot(t, h, cookie)
	if snap.Filters.ActiveIngredient != "Acetaminofén" {
		t.Fatalf("expected committed ingredient, got %q", snap.Filters.ActiveIngredient)
	}
	if snap.Filters.MaxPrice != 1800 {
		t.Fatalf("expected max price to fall back to catalog ceiling, got %v", snap.Filters.MaxPrice)
	}
}

func TestApplyFiltersRejectsBadPrice(t *testing.T) {
	h := newTestHandler(t, &stubSource{})
	cookie := createSession(t, h)

	form := url.Values{}
	form.Set("min_price", "abc")
	rec := postForm(t, h, cookie, "/dashboard/filters", form, h.handleApplyFilters)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "min_price") {
		t.Errorf("expected offending field in response, got %q", rec.Body.String())
	}
}

func TestApplyFiltersRejectsInvertedRange(t *testing.T) {
	h := newTestHandler(t, &stubSource{})
	cookie := createSession(t, h)

	form := url.Values{}
	form.Set("min_price", "900")
	form.Set("max_price", "100")
	rec := postForm(t, h, cookie, "/dashboard/filters", form, h.handleApplyFilters)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSwitchViewFetchesHelperData(t *testing.T) {
	h := newTestHandler(t, &stubSource{})
	cookie := createSession(t, h)

	form := url.Values{}
	form.Set("view", "histogram")
	rec := postForm(t, h, cookie, "/dashboard/view", form, h.handleSwitchView)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}

	snap := fetchSnapshot(t, h, cookie)
	if snap.View != dashboard.ViewHistogram {
		t.Fatalf("expected histogram view, got %q", snap.View)
	}
	if len(snap.Histogram) != 2 {
		t.Fatalf("expected histogram bins in snapshot, got %d", len(snap.Histogram))
	}
}

func TestSwitchViewRejectsUnknownKind(t *testing.T) {
	h := newTestHandler(t, &stubSource{})
	cookie := createSession(t, h)

	form := url.Values{}
	form.Set("view", "sunburst")
	rec := postForm(t, h, cookie, "/dashboard/view", form, h.handleSwitchView)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestResetRestoresDefaults(t *testing.T) {
	h := newTestHandler(t, &stubSource{})
	cookie := createSession(t, h)

	form := url.Values{}
	form.Set("active_ingredient", "Ibuprofeno")
	if rec := postForm(t, h, cookie, "/dashboard/filters", form, h.handleApplyFilters); rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303 applying filters, got %d", rec.Code)
	}

	rec := postForm(t, h, cookie, "/dashboard/reset", url.Values{}, h.handleReset)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}

	snap := fetchSnapshot(t, h, cookie)
	if snap.Filters.ActiveIngredient != "" {
		t.Fatalf("expected cleared ingredient, got %q", snap.Filters.ActiveIngredient)
	}
	if snap.View != dashboard.ViewBar {
		t.Fatalf("expected default view after reset, got %q", snap.View)
	}
}

func TestCSVExport(t *testing.T) {
	h := newTestHandler(t, &stubSource{})
	cookie := createSession(t, h)

	req := httptest.NewRequest(http.MethodGet, "/dashboard/export.csv", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.handleCSV(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("unexpected content type %s", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "pharmalens-registros-20250610-1504.csv") {
		t.Fatalf("unexpected disposition %s", cd)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "nombre_comercial") {
		t.Error("expected record header in CSV")
	}
	if !strings.Contains(body, "Registros") {
		t.Error("expected stats section in CSV")
	}
}

func TestXLSXExport(t *testing.T) {
	h := newTestHandler(t, &stubSource{})
	cookie := createSession(t, h)

	req := httptest.NewRequest(http.MethodGet, "/dashboard/export.xlsx", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.handleXLSX(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Fatalf("unexpected content type %s", ct)
	}
	book, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer book.Close()
	rows, err := book.GetRows("Registros")
	if err != nil {
		t.Fatalf("read records sheet: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus two records, got %d rows", len(rows))
	}
}

func TestPDFExport(t *testing.T) {
	h := newTestHandler(t, &stubSource{})
	pdf := &stubPDF{}
	h.pdf = pdf
	cookie := createSession(t, h)

	req := httptest.NewRequest(http.MethodGet, "/dashboard/export.pdf", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.handlePDF(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("unexpected content type %s", ct)
	}
	if rec.Body.Len() <= 1024 {
		t.Fatalf("expected pdf body over 1KB, got %d bytes", rec.Body.Len())
	}
	if pdf.last.GeneratedAt != "10/06/2025 15:04" {
		t.Fatalf("unexpected generation stamp %q", pdf.last.GeneratedAt)
	}
	if len(pdf.last.Table) != 2 {
		t.Fatalf("expected both records in payload, got %d", len(pdf.last.Table))
	}
}

func TestBootstrapFailureRendersNotice(t *testing.T) {
	h := newTestHandler(t, &stubSource{err: errors.New("aggregation unreachable")})

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	rec := httptest.NewRecorder()
	h.handleDashboard(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Servicio no disponible") {
		t.Fatal("expected terminal notice in response")
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("expected session cookie even after failed bootstrap")
	}

	csvReq := httptest.NewRequest(http.MethodGet, "/dashboard/export.csv", nil)
	csvReq.AddCookie(cookie)
	csvRec := httptest.NewRecorder()
	h.handleCSV(csvRec, csvReq)
	if csvRec.Code != http.StatusConflict {
		t.Fatalf("expected 409 before data is ready, got %d", csvRec.Code)
	}
}

func TestReloadRemountsAfterFailure(t *testing.T) {
	src := &stubSource{err: errors.New("aggregation unreachable")}
	h := newTestHandler(t, src)
	cookie := createSession(t, h)

	src.fail(nil)
	rec := postForm(t, h, cookie, "/dashboard/reload", url.Values{}, h.handleReload)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}
	var fresh *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			fresh = c
		}
	}
	if fresh == nil || fresh.Value == cookie.Value {
		t.Fatal("expected a fresh session cookie after reload")
	}
	if got := h.registry.Len(); got != 1 {
		t.Fatalf("expected old session dropped, got %d live", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(fresh)
	pageRec := httptest.NewRecorder()
	h.handleDashboard(pageRec, req)
	if pageRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", pageRec.Code)
	}
	body := pageRec.Body.String()
	if strings.Contains(body, "Servicio no disponible") {
		t.Fatal("expected remounted dashboard to recover")
	}
	if !strings.Contains(body, "Dolex Forte") {
		t.Fatal("expected records after remount")
	}
}
