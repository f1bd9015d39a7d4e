package svg

import (
	"fmt"
	"html/template"
	"math"
	"strings"
)

// legendLimit caps the pie legend; the arcs themselves always cover every
// slice so the partition stays complete.
const legendLimit = 10

// Pie renders a composition chart. Slice values must sum to a positive
// total; a slice without a color takes the next palette entry.
func Pie(width, height int, slices []Slice, opts PieOpts) (template.HTML, error) {
	if len(slices) == 0 {
		return "", fmt.Errorf("svg: slices required")
	}
	total := 0.0
	for _, s := range slices {
		if s.Value < 0 {
			return "", fmt.Errorf("svg: slice values must not be negative")
		}
		total += s.Value
	}
	if total <= 0 {
		return "", fmt.Errorf("svg: slice values must sum to a positive total")
	}
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	axisColor := fallback(opts.AxisColor, "#475569")

	radius := float64(height)/2 - 20
	if radius <= 0 {
		return "", fmt.Errorf("svg: viewport too small")
	}
	cx := radius + 20
	cy := float64(height) / 2

	titleID := makeID(opts.Title, "pie-title")
	descID := makeID(opts.Title, "pie-desc")

	var b strings.Builder
	b.WriteString(fmt.Sprintf("<svg xmlns=\"http://www.w3.org/2000/svg\" viewBox=\"0 0 %d %d\" role=\"img\" aria-labelledby=\"%s %s\">", width, height, titleID, descID))
	b.WriteString(fmt.Sprintf("<title id=\"%s\">%s</title>", titleID, template.HTMLEscapeString(fallback(opts.Title, "Pie chart"))))
	b.WriteString(fmt.Sprintf("<desc id=\"%s\">%s</desc>", descID, template.HTMLEscapeString(fallback(opts.Description, "Composition"))))

	angle := -math.Pi / 2
	for i, s := range slices {
		if s.Value == 0 {
			continue
		}
		fill := fallback(s.Color, PaletteColor(i))
		share := s.Value / total
		if share >= 0.99999 {
			b.WriteString(fmt.Sprintf("<circle cx=\"%.2f\" cy=\"%.2f\" r=\"%.2f\" fill=\"%s\" aria-label=\"%s\"></circle>", cx, cy, radius, fill, template.HTMLEscapeString(s.Label)))
			break
		}
		sweep := share * 2 * math.Pi
		x1 := cx + radius*math.Cos(angle)
		y1 := cy + radius*math.Sin(angle)
		angle += sweep
		x2 := cx + radius*math.Cos(angle)
		y2 := cy + radius*math.Sin(angle)
		largeArc := 0
		if sweep > math.Pi {
			largeArc = 1
		}
		b.WriteString(fmt.Sprintf("<path d=\"M%.2f %.2f L%.2f %.2f A%.2f %.2f 0 %d 1 %.2f %.2f Z\" fill=\"%s\" aria-label=\"%s %s\"></path>", cx, cy, x1, y1, radius, radius, largeArc, x2, y2, fill, template.HTMLEscapeString(s.Label), template.HTMLEscapeString(formatTick(s.Value))))
	}

	legendX := cx + radius + 16
	legendY := cy - radius + 8
	shown := len(slices)
	if shown > legendLimit {
		shown = legendLimit
	}
	for i := 0; i < shown; i++ {
		s := slices[i]
		fill := fallback(s.Color, PaletteColor(i))
		b.WriteString(fmt.Sprintf("<rect x=\"%.2f\" y=\"%.2f\" width=\"10\" height=\"10\" fill=\"%s\"></rect>", legendX, legendY-8, fill))
		b.WriteString(fmt.Sprintf("<text x=\"%.2f\" y=\"%.2f\" fill=\"%s\" font-size=\"10\" text-anchor=\"start\">%s</text>", legendX+14, legendY, axisColor, template.HTMLEscapeString(trimLabel(s.Label))))
		legendY += 16
	}
	if rest := len(slices) - shown; rest > 0 {
		b.WriteString(fmt.Sprintf("<text x=\"%.2f\" y=\"%.2f\" fill=\"%s\" font-size=\"10\" text-anchor=\"start\">+%d más</text>", legendX+14, legendY, axisColor, rest))
	}

	b.WriteString("</svg>")
	return template.HTML(b.String()), nil
}
