package svg

import (
	"fmt"
	"html/template"
	"strings"
)

// Scatter renders a price scatter. The X axis is categorical when XLabels
// is set, otherwise it spans the numeric X range of the points. Guides are
// drawn as dashed horizontal lines, used for anomaly thresholds and
// cluster centers.
func Scatter(width, height int, points []Point, opts ScatterOpts) (template.HTML, error) {
	if len(points) == 0 {
		return "", fmt.Errorf("svg: points required")
	}
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	padding := opts.Padding
	if padding <= 0 {
		padding = DefaultPadding
	}
	tickCount := opts.TickCount
	if tickCount <= 0 {
		tickCount = DefaultTicks
	}

	axisColor := fallback(opts.AxisColor, "#475569")
	gridColor := fallback(opts.GridColor, "#cbd5f5")
	pointColor := fallback(opts.PointColor, "#0ea5e9")

	chartWidth := float64(width) - 2*padding
	chartHeight := float64(height) - 2*padding
	if chartWidth <= 0 || chartHeight <= 0 {
		return "", fmt.Errorf("svg: viewport too small")
	}

	ys := make([]float64, 0, len(points)+len(opts.Guides))
	for _, p := range points {
		ys = append(ys, p.Y)
	}
	for _, g := range opts.Guides {
		ys = append(ys, g.Value)
	}
	minY, maxY := bounds(ys)
	if minY > 0 {
		minY = 0
	}
	if maxY < 0 {
		maxY = 0
	}
	if almostEqual(maxY, minY) {
		maxY = minY + 1
	}
	scaleY := chartHeight / (maxY - minY)

	var minX, maxX float64
	if len(opts.XLabels) > 0 {
		minX, maxX = -0.5, float64(len(opts.XLabels))-0.5
	} else {
		xs := make([]float64, len(points))
		for i, p := range points {
			xs[i] = p.X
		}
		minX, maxX = bounds(xs)
		if almostEqual(maxX, minX) {
			minX, maxX = minX-0.5, maxX+0.5
		}
	}
	scaleX := chartWidth / (maxX - minX)

	titleID := makeID(opts.Title, "scatter-title")
	descID := makeID(opts.Title, "scatter-desc")

	var b strings.Builder
	b.WriteString(fmt.Sprintf("<svg xmlns=\"http://www.w3.org/2000/svg\" viewBox=\"0 0 %d %d\" role=\"img\" aria-labelledby=\"%s %s\">", width, height, titleID, descID))
	b.WriteString(fmt.Sprintf("<title id=\"%s\">%s</title>", titleID, template.HTMLEscapeString(fallback(opts.Title, "Scatter chart"))))
	b.WriteString(fmt.Sprintf("<desc id=\"%s\">%s</desc>", descID, template.HTMLEscapeString(fallback(opts.Description, "Price scatter"))))

	for i := 0; i <= tickCount; i++ {
		ratio := float64(i) / float64(tickCount)
		value := minY + (maxY-minY)*ratio
		y := padding + chartHeight - ratio*chartHeight
		b.WriteString(fmt.Sprintf("<line x1=\"%.2f\" y1=\"%.2f\" x2=\"%.2f\" y2=\"%.2f\" stroke=\"%s\" stroke-width=\"0.5\" stroke-dasharray=\"2,4\" aria-hidden=\"true\"></line>", padding, y, padding+chartWidth, y, gridColor))
		b.WriteString(fmt.Sprintf("<text x=\"%.2f\" y=\"%.2f\" fill=\"%s\" font-size=\"10\" text-anchor=\"end\">%s</text>", padding-6, y+4, axisColor, template.HTMLEscapeString(formatTick(value))))
	}

	// Axes
	b.WriteString(fmt.Sprintf("<g stroke=\"%s\" aria-label=\"Ejes\">", axisColor))
	b.WriteString(fmt.Sprintf("<line x1=\"%.2f\" y1=\"%.2f\" x2=\"%.2f\" y2=\"%.2f\" stroke-width=\"1\"></line>", padding, padding, padding, padding+chartHeight))
	b.WriteString(fmt.Sprintf("<line x1=\"%.2f\" y1=\"%.2f\" x2=\"%.2f\" y2=\"%.2f\" stroke-width=\"1\"></line>", padding, padding+chartHeight, padding+chartWidth, padding+chartHeight))
	b.WriteString("</g>")

	for i, label := range opts.XLabels {
		x := padding + (float64(i)-minX)*scaleX
		b.WriteString(fmt.Sprintf("<text x=\"%.2f\" y=\"%.2f\" fill=\"%s\" font-size=\"10\" text-anchor=\"middle\">%s</text>", x, padding+chartHeight+14, axisColor, template.HTMLEscapeString(trimLabel(label))))
	}

	for _, guide := range opts.Guides {
		y := padding + chartHeight - (guide.Value-minY)*scaleY
		color := fallback(guide.Color, axisColor)
		b.WriteString(fmt.Sprintf("<line x1=\"%.2f\" y1=\"%.2f\" x2=\"%.2f\" y2=\"%.2f\" stroke=\"%s\" stroke-width=\"1\" stroke-dasharray=\"6,3\"></line>", padding, y, padding+chartWidth, y, color))
		if guide.Label != "" {
			b.WriteString(fmt.Sprintf("<text x=\"%.2f\" y=\"%.2f\" fill=\"%s\" font-size=\"9\" text-anchor=\"end\">%s</text>", padding+chartWidth-4, y-4, color, template.HTMLEscapeString(guide.Label)))
		}
	}

	for _, p := range points {
		x := padding + (p.X-minX)*scaleX
		y := padding + chartHeight - (p.Y-minY)*scaleY
		fill := fallback(p.Color, pointColor)
		if p.Label != "" {
			b.WriteString(fmt.Sprintf("<circle cx=\"%.2f\" cy=\"%.2f\" r=\"3\" fill=\"%s\" aria-label=\"%s\"></circle>", x, y, fill, template.HTMLEscapeString(p.Label)))
		} else {
			b.WriteString(fmt.Sprintf("<circle cx=\"%.2f\" cy=\"%.2f\" r=\"3\" fill=\"%s\"></circle>", x, y, fill))
		}
	}

	writeLegend(&b, opts.Legend, padding, axisColor)

	b.WriteString("</svg>")
	return template.HTML(b.String()), nil
}
