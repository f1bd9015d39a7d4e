package export

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/pharmalens/pharmalens/internal/catalog"
	"github.com/pharmalens/pharmalens/internal/dashboard"
)

// Renderer converts an HTML document into PDF bytes.
type Renderer interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// PDFPayload aggregates dashboard data destined for PDF rendering.
type PDFPayload struct {
	GeneratedAt string
	Filters     dashboard.FilterView
	Stats       dashboard.SummaryStats
	Summary     catalog.Summary
	Table       []dashboard.TableRow
}

// PDFExporter renders the dashboard print sheet through a Renderer,
// normally the Gotenberg client.
type PDFExporter struct {
	Renderer Renderer
}

// RenderSnapshot builds the print HTML and converts it to PDF bytes.
func (p *PDFExporter) RenderSnapshot(ctx context.Context, payload PDFPayload) ([]byte, error) {
	if p == nil || p.Renderer == nil {
		return nil, fmt.Errorf("pdf exporter not initialised")
	}
	return p.Renderer.RenderHTML(ctx, buildHTML(payload))
}

func buildHTML(payload PDFPayload) string {
	var b strings.Builder
	b.WriteString("<html><head><meta charset=\"utf-8\"><style>")
	b.WriteString("body{font-family:sans-serif;margin:24px;}h1{font-size:20px;}h2{font-size:15px;}table{width:100%;border-collapse:collapse;margin-bottom:16px;}th,td{border:1px solid #ddd;padding:6px;text-align:right;}th{text-align:left;background:#f5f5f5;}section{margin-bottom:24px;} .metric-label,.row-label{text-align:left;} .filters{color:#555;font-size:12px;margin-bottom:16px;}")
	b.WriteString("</style></head><body>")
	b.WriteString(fmt.Sprintf("<h1>PharmaLens – Catálogo de precios – %s</h1>", html.EscapeString(payload.GeneratedAt)))
	b.WriteString("<p class=\"filters\">")
	b.WriteString(html.EscapeString(filterLine(payload.Filters)))
	b.WriteString("</p>")

	b.WriteString("<section><h2>Resumen</h2><table><tbody>")
	writeCountRow(&b, "Registros", payload.Stats.Count)
	writeMetricRow(&b, "Precio mínimo", payload.Stats.Min)
	writeMetricRow(&b, "Precio máximo", payload.Stats.Max)
	writeMetricRow(&b, "Precio promedio", payload.Stats.Mean)
	writeMetricRow(&b, "Precio mediano", payload.Stats.Median)
	b.WriteString("</tbody></table></section>")

	writeBreakdownHTML(&b, payload.Summary)

	if len(payload.Table) > 0 {
		b.WriteString("<section><h2>Registros filtrados</h2><table><thead><tr><th>Nombre comercial</th><th>Principio activo</th><th>Fabricante</th><th>Concentración</th><th>Precio</th></tr></thead><tbody>")
		for _, row := range payload.Table {
			b.WriteString("<tr><td class=\"row-label\">")
			b.WriteString(html.EscapeString(row.Name))
			b.WriteString("</td><td class=\"row-label\">")
			b.WriteString(html.EscapeString(row.Ingredient))
			b.WriteString("</td><td class=\"row-label\">")
			b.WriteString(html.EscapeString(row.Manufacturer))
			b.WriteString("</td><td class=\"row-label\">")
			b.WriteString(html.EscapeString(row.Concentration))
			b.WriteString("</td><td>")
			b.WriteString(formatFloat(row.Price))
			b.WriteString("</td></tr>")
		}
		b.WriteString("</tbody></table></section>")
	}

	b.WriteString("</body></html>")
	return b.String()
}

func writeBreakdownHTML(b *strings.Builder, summary catalog.Summary) {
	writeRows := func(title, label string, write func()) {
		b.WriteString("<section><h2>")
		b.WriteString(html.EscapeString(title))
		b.WriteString("</h2><table><thead><tr><th>")
		b.WriteString(html.EscapeString(label))
		b.WriteString("</th><th>Registros</th><th>Mínimo</th><th>Máximo</th><th>Promedio</th></tr></thead><tbody>")
		write()
		b.WriteString("</tbody></table></section>")
	}
	switch {
	case len(summary.Manufacturers) > 0:
		writeRows("Desglose por fabricante", "Fabricante", func() {
			for _, m := range summary.Manufacturers {
				writeBreakdownRow(b, m.Manufacturer, m.Count, m.MinPrice, m.MaxPrice, m.AvgPrice)
			}
		})
	case len(summary.ActiveIngredients) > 0:
		writeRows("Desglose por principio activo", "Principio activo", func() {
			for _, ing := range summary.ActiveIngredients {
				writeBreakdownRow(b, ing.ActiveIngredient, ing.Count, ing.MinPrice, ing.MaxPrice, ing.AvgPrice)
			}
		})
	}
}

func writeBreakdownRow(b *strings.Builder, label string, count int, min, max, avg float64) {
	b.WriteString("<tr><td class=\"row-label\">")
	b.WriteString(html.EscapeString(label))
	b.WriteString("</td><td>")
	b.WriteString(fmt.Sprintf("%d", count))
	b.WriteString("</td><td>")
	b.WriteString(formatFloat(min))
	b.WriteString("</td><td>")
	b.WriteString(formatFloat(max))
	b.WriteString("</td><td>")
	b.WriteString(formatFloat(avg))
	b.WriteString("</td></tr>")
}

func writeMetricRow(b *strings.Builder, label string, value float64) {
	b.WriteString("<tr><td class=\"metric-label\">")
	b.WriteString(html.EscapeString(label))
	b.WriteString("</td><td>")
	b.WriteString(formatFloat(value))
	b.WriteString("</td></tr>")
}

func writeCountRow(b *strings.Builder, label string, value int) {
	b.WriteString("<tr><td class=\"metric-label\">")
	b.WriteString(html.EscapeString(label))
	b.WriteString("</td><td>")
	b.WriteString(fmt.Sprintf("%d", value))
	b.WriteString("</td></tr>")
}

// filterLine renders the committed filters as one readable line.
func filterLine(f dashboard.FilterView) string {
	parts := make([]string, 0, 7)
	add := func(label, value string) {
		if value != "" {
			parts = append(parts, label+": "+value)
		}
	}
	add("Principio activo", f.ActiveIngredient)
	add("Fabricante", f.Manufacturer)
	add("Concentración", f.Concentration)
	add("Canal", f.Channel)
	add("Unidad", f.DispensingUnit)
	parts = append(parts, fmt.Sprintf("Precio: %s – %s", formatFloat(f.MinPrice), formatFloat(f.MaxPrice)))
	order := "ascendente"
	if f.SortOrder == catalog.SortDesc {
		order = "descendente"
	}
	field := "precio"
	if f.SortField == catalog.SortByName {
		field = "nombre"
	}
	parts = append(parts, "Orden: "+field+" "+order)
	return strings.Join(parts, " · ")
}
