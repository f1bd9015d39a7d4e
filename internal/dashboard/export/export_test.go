package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/pharmalens/pharmalens/internal/catalog"
	"github.com/pharmalens/pharmalens/internal/dashboard"
)

func sampleRecords() []catalog.DrugRecord {
	return []catalog.DrugRecord{
		{
			CommercialName:   "Dolex Forte",
			ActiveIngredient: "Acetaminofén",
			Manufacturer:     "Tecnoquímicas",
			Concentration:    "500 mg",
			Channel:          "Comercial",
			DispensingUnit:   "Tableta",
			PricePerUnit:     850.5,
		},
		{
			CommercialName:   "Advil Max",
			ActiveIngredient: "Ibuprofeno",
			Manufacturer:     "Pfizer & Co",
			Concentration:    "400 mg",
			Channel:          "Institucional",
			DispensingUnit:   "Cápsula",
			PricePerUnit:     1200,
		},
	}
}

func TestWriteRecordsCSV(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := WriteRecordsCSV(buf, sampleRecords()); err != nil {
		t.Fatalf("records csv error: %v", err)
	}
	reader := csv.NewReader(bytes.NewReader(buf.Bytes()))
	rows, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("csv read error: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "nombre_comercial" || rows[0][6] != "precio_por_tableta" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[1][0] != "Dolex Forte" || rows[1][6] != "850.50" {
		t.Fatalf("unexpected first row %v", rows[1])
	}
	if rows[2][2] != "Pfizer & Co" {
		t.Fatalf("unexpected second row %v", rows[2])
	}
}

func TestWriteStatsCSV(t *testing.T) {
	stats := dashboard.SummaryStats{Count: 2, Min: 850.5, Max: 1200, Mean: 1025.25, Median: 1025.25}
	buf := &bytes.Buffer{}
	if err := WriteStatsCSV(buf, stats); err != nil {
		t.Fatalf("stats csv error: %v", err)
	}
	rows, err := csv.NewReader(bytes.NewReader(buf.Bytes())).ReadAll()
	if err != nil {
		t.Fatalf("csv read error: %v", err)
	}
	if len(rows) != 6 {
		t.Fatalf("expected header plus 5 metric rows, got %d", len(rows))
	}
	if rows[1][0] != "Registros" || rows[1][1] != "2" {
		t.Fatalf("unexpected count row %v", rows[1])
	}
	if rows[4][0] != "Precio promedio" || rows[4][1] != "1025.25" {
		t.Fatalf("unexpected mean row %v", rows[4])
	}
}

func TestWriteWorkbook(t *testing.T) {
	stats := dashboard.SummaryStats{Count: 2, Min: 850.5, Max: 1200, Mean: 1025.25, Median: 1025.25}
	summary := catalog.Summary{
		Count: 2,
		Manufacturers: []catalog.ManufacturerStat{
			{Manufacturer: "Tecnoquímicas", Count: 1, MinPrice: 850.5, MaxPrice: 850.5, AvgPrice: 850.5},
		},
	}
	buf := &bytes.Buffer{}
	if err := WriteWorkbook(buf, sampleRecords(), stats, summary); err != nil {
		t.Fatalf("workbook error: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("workbook reopen error: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Registros")
	if err != nil {
		t.Fatalf("records sheet error: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 record rows, got %d", len(rows))
	}
	if rows[1][0] != "Dolex Forte" {
		t.Fatalf("unexpected record row %v", rows[1])
	}

	statRows, err := f.GetRows("Resumen")
	if err != nil {
		t.Fatalf("stats sheet error: %v", err)
	}
	if len(statRows) != 5 {
		t.Fatalf("expected 5 stat rows, got %d", len(statRows))
	}

	breakRows, err := f.GetRows("Desglose")
	if err != nil {
		t.Fatalf("breakdown sheet error: %v", err)
	}
	if len(breakRows) != 2 {
		t.Fatalf("expected header plus 1 breakdown row, got %d", len(breakRows))
	}
	if breakRows[1][0] != "Tecnoquímicas" {
		t.Fatalf("unexpected breakdown row %v", breakRows[1])
	}
}

func TestWriteWorkbookSkipsEmptyBreakdown(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := WriteWorkbook(buf, nil, dashboard.SummaryStats{}, catalog.Summary{}); err != nil {
		t.Fatalf("workbook error: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("workbook reopen error: %v", err)
	}
	defer f.Close()
	if idx, _ := f.GetSheetIndex("Desglose"); idx >= 0 {
		t.Fatalf("breakdown sheet should be absent")
	}
}

type stubRenderer struct {
	html string
	out  []byte
	err  error
}

func (s *stubRenderer) RenderHTML(_ context.Context, html string) ([]byte, error) {
	s.html = html
	return s.out, s.err
}

func TestPDFExporterRenderSnapshot(t *testing.T) {
	renderer := &stubRenderer{out: []byte("PDF")}
	exporter := &PDFExporter{Renderer: renderer}
	payload := PDFPayload{
		GeneratedAt: "2026-08-23 10:00",
		Filters: dashboard.FilterView{
			ActiveIngredient: "Ibuprofeno",
			MaxPrice:         5000,
			SortField:        catalog.SortByPrice,
			SortOrder:        catalog.SortAsc,
		},
		Stats: dashboard.SummaryStats{Count: 2, Min: 850.5, Max: 1200, Mean: 1025.25, Median: 1025.25},
		Table: []dashboard.TableRow{
			{Name: "Advil <Max>", Ingredient: "Ibuprofeno", Manufacturer: "Pfizer & Co", Concentration: "400 mg", Price: 1200},
		},
	}

	data, err := exporter.RenderSnapshot(context.Background(), payload)
	if err != nil {
		t.Fatalf("pdf render error: %v", err)
	}
	if string(data) != "PDF" {
		t.Fatalf("unexpected payload %q", string(data))
	}
	if !strings.Contains(renderer.html, "Catálogo de precios") {
		t.Fatalf("html missing title: %s", renderer.html)
	}
	if !strings.Contains(renderer.html, "Principio activo: Ibuprofeno") {
		t.Fatalf("html missing filter line: %s", renderer.html)
	}
	if !strings.Contains(renderer.html, "Advil &lt;Max&gt;") {
		t.Fatalf("html should escape record names: %s", renderer.html)
	}
	if !strings.Contains(renderer.html, "Pfizer &amp; Co") {
		t.Fatalf("html should escape manufacturer: %s", renderer.html)
	}
	if strings.Contains(renderer.html, "Desglose") {
		t.Fatalf("empty summary should not render breakdown: %s", renderer.html)
	}
}

func TestPDFExporterRequiresRenderer(t *testing.T) {
	exporter := &PDFExporter{}
	if _, err := exporter.RenderSnapshot(context.Background(), PDFPayload{}); err == nil {
		t.Fatal("expected error without renderer")
	}
}
