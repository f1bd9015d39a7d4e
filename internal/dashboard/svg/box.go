package svg

import (
	"fmt"
	"html/template"
	"strings"
)

// Boxplot renders per-group quartile columns from stacked segments: a
// transparent base up to the group minimum, a whisker from the minimum to
// the first quartile, the box from the first to the third quartile, then a
// whisker up to the maximum. The median is drawn as an absolute marker.
func Boxplot(width, height int, rows []BoxRow, opts BoxOpts) (template.HTML, error) {
	if len(rows) == 0 {
		return "", fmt.Errorf("svg: rows required")
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
	whiskerColor := fallback(opts.WhiskerColor, "#94a3b8")
	boxColor := fallback(opts.BoxColor, "#0ea5e9")
	medianColor := fallback(opts.MedianColor, "#0f172a")

	chartWidth := float64(width) - 2*padding
	chartHeight := float64(height) - 2*padding
	if chartWidth <= 0 || chartHeight <= 0 {
		return "", fmt.Errorf("svg: viewport too small")
	}

	maxVal := 0.0
	for _, row := range rows {
		top := row.Base + row.Whisker + row.Box
		if row.Max > top {
			top = row.Max
		}
		if top > maxVal {
			maxVal = top
		}
	}
	if almostEqual(maxVal, 0) {
		maxVal = 1
	}
	scale := chartHeight / maxVal
	yAt := func(v float64) float64 { return padding + chartHeight - v*scale }

	groupWidth := chartWidth / float64(len(rows))
	boxWidth := groupWidth * 0.5

	titleID := makeID(opts.Title, "box-title")
	descID := makeID(opts.Title, "box-desc")

	var b strings.Builder
	b.WriteString(fmt.Sprintf("<svg xmlns=\"http://www.w3.org/2000/svg\" viewBox=\"0 0 %d %d\" role=\"img\" aria-labelledby=\"%s %s\">", width, height, titleID, descID))
	b.WriteString(fmt.Sprintf("<title id=\"%s\">%s</title>", titleID, template.HTMLEscapeString(fallback(opts.Title, "Quartile chart"))))
	b.WriteString(fmt.Sprintf("<desc id=\"%s\">%s</desc>", descID, template.HTMLEscapeString(fallback(opts.Description, "Price distribution per group"))))

	for i := 0; i <= tickCount; i++ {
		ratio := float64(i) / float64(tickCount)
		value := maxVal * ratio
		y := padding + chartHeight - ratio*chartHeight
		b.WriteString(fmt.Sprintf("<line x1=\"%.2f\" y1=\"%.2f\" x2=\"%.2f\" y2=\"%.2f\" stroke=\"%s\" stroke-width=\"0.5\" stroke-dasharray=\"2,4\" aria-hidden=\"true\"></line>", padding, y, padding+chartWidth, y, gridColor))
		b.WriteString(fmt.Sprintf("<text x=\"%.2f\" y=\"%.2f\" fill=\"%s\" font-size=\"10\" text-anchor=\"end\">%s</text>", padding-6, y+4, axisColor, template.HTMLEscapeString(formatTick(value))))
	}

	// Axes
	b.WriteString(fmt.Sprintf("<g stroke=\"%s\" aria-label=\"Ejes\">", axisColor))
	b.WriteString(fmt.Sprintf("<line x1=\"%.2f\" y1=\"%.2f\" x2=\"%.2f\" y2=\"%.2f\" stroke-width=\"1\"></line>", padding, padding, padding, padding+chartHeight))
	b.WriteString(fmt.Sprintf("<line x1=\"%.2f\" y1=\"%.2f\" x2=\"%.2f\" y2=\"%.2f\" stroke-width=\"1\"></line>", padding, padding+chartHeight, padding+chartWidth, padding+chartHeight))
	b.WriteString("</g>")

	for i, row := range rows {
		center := padding + float64(i)*groupWidth + groupWidth/2
		q1 := row.Base + row.Whisker
		q3 := q1 + row.Box

		// Lower whisker with a cap at the minimum.
		b.WriteString(fmt.Sprintf("<line x1=\"%.2f\" y1=\"%.2f\" x2=\"%.2f\" y2=\"%.2f\" stroke=\"%s\" stroke-width=\"1.5\"></line>", center, yAt(row.Base), center, yAt(q1), whiskerColor))
		b.WriteString(fmt.Sprintf("<line x1=\"%.2f\" y1=\"%.2f\" x2=\"%.2f\" y2=\"%.2f\" stroke=\"%s\" stroke-width=\"1.5\"></line>", center-boxWidth/4, yAt(row.Base), center+boxWidth/4, yAt(row.Base), whiskerColor))

		// Interquartile box.
		boxTop := yAt(q3)
		boxHeight := yAt(q1) - boxTop
		if boxHeight < 1 {
			boxHeight = 1
		}
		b.WriteString(fmt.Sprintf("<rect x=\"%.2f\" y=\"%.2f\" width=\"%.2f\" height=\"%.2f\" fill=\"%s\" fill-opacity=\"0.7\" stroke=\"%s\" aria-label=\"%s\"></rect>", center-boxWidth/2, boxTop, boxWidth, boxHeight, boxColor, boxColor, template.HTMLEscapeString(row.Label)))

		// Upper whisker with a cap at the maximum.
		if row.Max > q3 {
			b.WriteString(fmt.Sprintf("<line x1=\"%.2f\" y1=\"%.2f\" x2=\"%.2f\" y2=\"%.2f\" stroke=\"%s\" stroke-width=\"1.5\"></line>", center, boxTop, center, yAt(row.Max), whiskerColor))
			b.WriteString(fmt.Sprintf("<line x1=\"%.2f\" y1=\"%.2f\" x2=\"%.2f\" y2=\"%.2f\" stroke=\"%s\" stroke-width=\"1.5\"></line>", center-boxWidth/4, yAt(row.Max), center+boxWidth/4, yAt(row.Max), whiskerColor))
		}

		// Median marker at its absolute price.
		b.WriteString(fmt.Sprintf("<line x1=\"%.2f\" y1=\"%.2f\" x2=\"%.2f\" y2=\"%.2f\" stroke=\"%s\" stroke-width=\"2\"></line>", center-boxWidth/2, yAt(row.Median), center+boxWidth/2, yAt(row.Median), medianColor))

		b.WriteString(fmt.Sprintf("<text x=\"%.2f\" y=\"%.2f\" fill=\"%s\" font-size=\"10\" text-anchor=\"middle\">%s</text>", center, padding+chartHeight+14, axisColor, template.HTMLEscapeString(trimLabel(row.Label))))
	}

	b.WriteString("</svg>")
	return template.HTML(b.String()), nil
}
