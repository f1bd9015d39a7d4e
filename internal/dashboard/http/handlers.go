package dashhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pharmalens/pharmalens/internal/catalog"
	"github.com/pharmalens/pharmalens/internal/dashboard"
	"github.com/pharmalens/pharmalens/internal/dashboard/export"
	"github.com/pharmalens/pharmalens/internal/dashboard/svg"
	"github.com/pharmalens/pharmalens/internal/dashboard/ui"
	"github.com/pharmalens/pharmalens/internal/view"
)

const (
	sessionCookie = "pharmalens_session"
	// settleTimeout bounds how long a mutating request waits for its
	// fetches before redirecting; the page keeps refreshing past it.
	settleTimeout  = 10 * time.Second
	summaryTimeout = 5 * time.Second
	pageTitle      = "PharmaLens – Catálogo de precios"
)

// SummaryService provides the server-side breakdown attached to exports.
type SummaryService interface {
	GetSummary(ctx context.Context, q catalog.SummaryQuery) (catalog.Summary, error)
}

// PDFService renders dashboard content to PDF bytes.
type PDFService interface {
	RenderSnapshot(ctx context.Context, payload export.PDFPayload) ([]byte, error)
}

// ControllerFactory builds the controller backing a new browser session.
type ControllerFactory func() *dashboard.Controller

// Handler coordinates HTTP requests for the price dashboard.
type Handler struct {
	logger    *slog.Logger
	registry  *dashboard.Registry
	factory   ControllerFactory
	summaries SummaryService
	templates *view.Engine
	bars      ui.BarRenderer
	scatter   ui.ScatterRenderer
	pie       ui.PieRenderer
	box       ui.BoxRenderer
	pdf       PDFService
	validate  *validator.Validate
	csvPool   sync.Pool
	now       func() time.Time
}

// NewHandler constructs the dashboard HTTP handler.
func NewHandler(logger *slog.Logger, registry *dashboard.Registry, factory ControllerFactory, summaries SummaryService, templates *view.Engine, bars ui.BarRenderer, scatter ui.ScatterRenderer, pie ui.PieRenderer, box ui.BoxRenderer, pdf PDFService) *Handler {
	h := &Handler{
		logger:    logger,
		registry:  registry,
		factory:   factory,
		summaries: summaries,
		templates: templates,
		bars:      bars,
		scatter:   scatter,
		pie:       pie,
		box:       box,
		pdf:       pdf,
		validate:  validator.New(),
		now:       time.Now,
	}
	h.csvPool.New = func() interface{} { return new(bytes.Buffer) }
	return h
}

// WithNow overrides the handler clock for testing.
func (h *Handler) WithNow(fn func() time.Time) {
	if fn != nil {
		h.now = fn
	}
}

// ensureSession resolves the browser session, mounting a fresh controller
// when the cookie is missing or expired.
func (h *Handler) ensureSession(w http.ResponseWriter, r *http.Request) (*dashboard.Controller, error) {
	if cookie, err := r.Cookie(sessionCookie); err == nil && cookie.Value != "" {
		if ctrl, ok := h.registry.Get(cookie.Value); ok {
			return ctrl, nil
		}
	}
	return h.startSession(w, r)
}

// startSession mounts a new controller, binds it to a fresh cookie and
// bootstraps it. Bootstrap failures are not surfaced here; the page renders
// the terminal notice instead.
func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) (*dashboard.Controller, error) {
	if h.factory == nil {
		return nil, errors.New("session factory missing")
	}
	ctrl := h.factory()
	id := h.registry.Create(ctrl)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	dispatch, err := ctrl.Bootstrap(r.Context())
	if err != nil {
		h.logError("bootstrap session", err)
		return ctrl, nil
	}
	h.awaitSettle(r.Context(), dispatch)
	return ctrl, nil
}

// awaitSettle blocks until the dispatched fetches commit or drop, bounded
// by the settle timeout and the request context.
func (h *Handler) awaitSettle(ctx context.Context, d *dashboard.Dispatch) {
	if d == nil {
		return
	}
	timer := time.NewTimer(settleTimeout)
	defer timer.Stop()
	select {
	case <-d.Done():
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.ensureSession(w, r)
	if err != nil {
		h.handleServerError(w, "resolve session", err)
		return
	}

	snap := ctrl.Snapshot()
	vm, err := h.buildViewModel(snap)
	if err != nil {
		h.handleServerError(w, "render charts", err)
		return
	}

	refresh := 0
	if snap.Phase == dashboard.PhaseLoading || (snap.Phase == dashboard.PhaseReady && snap.Pending > 0) {
		refresh = 2
	}
	viewData := view.TemplateData{
		Title:       pageTitle,
		CurrentPath: r.URL.Path,
		Refresh:     refresh,
		Data:        vm,
	}
	if err := h.templates.Render(w, "pages/dashboard.html", viewData); err != nil {
		h.handleServerError(w, "render template", err)
	}
}

func (h *Handler) handleApplyFilters(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.ensureSession(w, r)
	if err != nil {
		h.handleServerError(w, "resolve session", err)
		return
	}

	fallbackMax := 0.0
	if meta, err := ctrl.Metadata(); err == nil {
		fallbackMax = math.Ceil(meta.PriceRange.Max)
	}
	criteria, sort, err := h.parseFilterForm(r, fallbackMax)
	if err != nil {
		h.handleFilterError(w, err)
		return
	}

	dispatch, err := ctrl.ApplyFilters(criteria, sort)
	if err != nil {
		h.handleControllerError(w, r, err)
		return
	}
	h.awaitSettle(r.Context(), dispatch)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (h *Handler) handleSwitchView(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.ensureSession(w, r)
	if err != nil {
		h.handleServerError(w, "resolve session", err)
		return
	}

	kind, err := dashboard.ParseViewKind(strings.TrimSpace(r.PostFormValue("view")))
	if err != nil {
		h.handleFilterError(w, validationError{field: "view"})
		return
	}
	dispatch, err := ctrl.SwitchView(kind)
	if err != nil {
		h.handleControllerError(w, r, err)
		return
	}
	h.awaitSettle(r.Context(), dispatch)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.ensureSession(w, r)
	if err != nil {
		h.handleServerError(w, "resolve session", err)
		return
	}
	dispatch, err := ctrl.Reset()
	if err != nil {
		h.handleControllerError(w, r, err)
		return
	}
	h.awaitSettle(r.Context(), dispatch)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// handleReload discards the session's controller and mounts a fresh one.
// Metadata failure is terminal for a controller, so this remount is the one
// recovery path; it also serves as a plain full refresh.
func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil && cookie.Value != "" {
		h.registry.Drop(cookie.Value)
	}
	if _, err := h.startSession(w, r); err != nil {
		h.handleServerError(w, "restart session", err)
		return
	}
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.ensureSession(w, r)
	if err != nil {
		h.handleServerError(w, "resolve session", err)
		return
	}
	snap := ctrl.Snapshot()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		h.logError("encode state", err)
	}
}

func (h *Handler) handleCSV(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.ensureSession(w, r)
	if err != nil {
		h.handleServerError(w, "resolve session", err)
		return
	}
	records, err := ctrl.Records()
	if err != nil {
		h.respondNotReady(w)
		return
	}
	stats := dashboard.Summarize(records)

	buf := h.csvPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		buf.Reset()
		h.csvPool.Put(buf)
	}()

	if err := export.WriteRecordsCSV(buf, records); err != nil {
		h.handleServerError(w, "write records csv", err)
		return
	}
	buf.WriteString("\n")
	if err := export.WriteStatsCSV(buf, stats); err != nil {
		h.handleServerError(w, "write stats csv", err)
		return
	}

	filename := fmt.Sprintf("pharmalens-registros-%s.csv", h.now().Format("20060102-1504"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logError("stream csv", err)
	}
}

func (h *Handler) handleXLSX(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.ensureSession(w, r)
	if err != nil {
		h.handleServerError(w, "resolve session", err)
		return
	}
	records, err := ctrl.Records()
	if err != nil {
		h.respondNotReady(w)
		return
	}
	stats := dashboard.Summarize(records)
	summary := h.fetchSummary(r.Context(), ctrl)

	buf := &bytes.Buffer{}
	if err := export.WriteWorkbook(buf, records, stats, summary); err != nil {
		h.handleServerError(w, "write workbook", err)
		return
	}

	filename := fmt.Sprintf("pharmalens-registros-%s.xlsx", h.now().Format("20060102-1504"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logError("stream xlsx", err)
	}
}

func (h *Handler) handlePDF(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.ensureSession(w, r)
	if err != nil {
		h.handleServerError(w, "resolve session", err)
		return
	}
	if h.pdf == nil {
		h.handleServerError(w, "pdf exporter", errors.New("pdf exporter not configured"))
		return
	}
	snap := ctrl.Snapshot()
	if snap.Phase != dashboard.PhaseReady {
		h.respondNotReady(w)
		return
	}
	summary := h.fetchSummary(r.Context(), ctrl)

	payload := export.PDFPayload{
		GeneratedAt: h.now().Format("02/01/2006 15:04"),
		Filters:     snap.Filters,
		Stats:       snap.Stats,
		Summary:     summary,
		Table:       snap.Table,
	}
	pdfBytes, err := h.pdf.RenderSnapshot(r.Context(), payload)
	if err != nil {
		h.handleServerError(w, "render pdf", err)
		return
	}

	filename := fmt.Sprintf("pharmalens-registros-%s.pdf", h.now().Format("20060102-1504"))
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	if _, err := w.Write(pdfBytes); err != nil {
		h.logError("stream pdf", err)
	}
}

// fetchSummary pulls the per-scope breakdown for exports. A failure only
// degrades the export, so it is logged and swallowed.
func (h *Handler) fetchSummary(ctx context.Context, ctrl *dashboard.Controller) catalog.Summary {
	if h.summaries == nil {
		return catalog.Summary{}
	}
	state, err := ctrl.State()
	if err != nil {
		return catalog.Summary{}
	}
	ctx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()
	summary, err := h.summaries.GetSummary(ctx, catalog.SummaryQuery{
		ActiveIngredient: state.Criteria.ActiveIngredient,
		Manufacturer:     state.Criteria.Manufacturer,
	})
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("summary unavailable for export", slog.Any("error", err))
		}
		return catalog.Summary{}
	}
	return summary
}

// filterForm holds the raw committed values before they become criteria.
type filterForm struct {
	ActiveIngredient string  `validate:"omitempty,max=200"`
	Manufacturer     string  `validate:"omitempty,max=200"`
	Concentration    string  `validate:"omitempty,max=100"`
	Channel          string  `validate:"omitempty,max=100"`
	DispensingUnit   string  `validate:"omitempty,max=100"`
	MinPrice         float64 `validate:"gte=0"`
	MaxPrice         float64 `validate:"gtefield=MinPrice"`
	SortBy           string  `validate:"oneof=price name"`
	SortOrder        string  `validate:"oneof=asc desc"`
}

func (h *Handler) parseFilterForm(r *http.Request, fallbackMax float64) (catalog.Criteria, catalog.SortSpec, error) {
	if err := r.ParseForm(); err != nil {
		return catalog.Criteria{}, catalog.SortSpec{}, validationError{field: "form"}
	}
	field := func(name string) string { return strings.TrimSpace(r.PostFormValue(name)) }

	form := filterForm{
		ActiveIngredient: field("active_ingredient"),
		Manufacturer:     field("manufacturer"),
		Concentration:    field("concentration"),
		Channel:          field("channel"),
		DispensingUnit:   field("dispensing_unit"),
		SortBy:           field("sort_by"),
		SortOrder:        field("sort_order"),
	}
	if form.SortBy == "" {
		form.SortBy = string(catalog.SortByPrice)
	}
	if form.SortOrder == "" {
		form.SortOrder = string(catalog.SortAsc)
	}

	if raw := field("min_price"); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return catalog.Criteria{}, catalog.SortSpec{}, validationError{field: "min_price"}
		}
		form.MinPrice = value
	}
	if raw := field("max_price"); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return catalog.Criteria{}, catalog.SortSpec{}, validationError{field: "max_price"}
		}
		form.MaxPrice = value
	} else {
		form.MaxPrice = fallbackMax
	}

	if err := h.validate.Struct(form); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return catalog.Criteria{}, catalog.SortSpec{}, validationError{field: strings.ToLower(fieldErrs[0].Field())}
		}
		return catalog.Criteria{}, catalog.SortSpec{}, err
	}

	criteria := catalog.Criteria{
		ActiveIngredient: form.ActiveIngredient,
		Manufacturer:     form.Manufacturer,
		Concentration:    form.Concentration,
		Channel:          form.Channel,
		DispensingUnit:   form.DispensingUnit,
		MinPrice:         form.MinPrice,
		MaxPrice:         form.MaxPrice,
	}
	sort := catalog.SortSpec{
		Field: catalog.SortField(form.SortBy),
		Order: catalog.SortOrder(form.SortOrder),
	}
	return criteria, sort, nil
}

// buildViewModel projects a snapshot into the page, rendering the chart of
// the active view. Views without data keep the no-data notice instead.
func (h *Handler) buildViewModel(snap dashboard.Snapshot) (ui.PageViewModel, error) {
	vm := ui.PageViewModel{
		Phase:       snap.Phase,
		FatalNotice: snap.FatalNotice,
		Banner:      snap.Banner,
		Pending:     snap.Pending,
		UpdatedAt:   snap.UpdatedAt,
		Filters:     snap.Filters,
		Meta:        snap.Meta,
		Views:       snap.Views,
		ViewLabel:   snap.View.Label(),
		Stats:       snap.Stats,
		Table:       snap.Table,
		ViewNoData:  snap.ViewNoData,
	}
	if snap.Phase != dashboard.PhaseReady || snap.ViewNoData {
		return vm, nil
	}
	if h.bars == nil || h.scatter == nil || h.pie == nil || h.box == nil {
		return ui.PageViewModel{}, fmt.Errorf("svg renderer missing")
	}

	switch snap.View {
	case dashboard.ViewBar:
		bars := ui.BarsForGroups(snap.Bars)
		if len(bars) == 0 {
			vm.ViewNoData = true
			return vm, nil
		}
		html, err := h.bars.Bars(svg.DefaultWidth, svg.DefaultHeight, bars, svg.BarOpts{
			Title:       "Comparación de precios",
			Description: "Precio promedio por grupo",
			Legend:      ui.BandLegend(),
		})
		if err != nil {
			return ui.PageViewModel{}, err
		}
		vm.ChartSVG = html
	case dashboard.ViewHistogram:
		bars := ui.BarsForHistogram(snap.Histogram)
		if len(bars) == 0 {
			vm.ViewNoData = true
			return vm, nil
		}
		html, err := h.bars.Bars(svg.DefaultWidth, svg.DefaultHeight, bars, svg.BarOpts{
			Title:       "Histograma de precios",
			Description: "Frecuencia por segmento de precio",
		})
		if err != nil {
			return ui.PageViewModel{}, err
		}
		vm.ChartSVG = html
	case dashboard.ViewScatter:
		points, labels := ui.PointsForScatter(snap.Points)
		if len(points) == 0 {
			vm.ViewNoData = true
			return vm, nil
		}
		html, err := h.scatter.Scatter(svg.DefaultWidth, svg.DefaultHeight, points, svg.ScatterOpts{
			Title:       "Dispersión de precios",
			Description: "Precio por fabricante",
			XLabels:     labels,
			Legend:      ui.BandLegend(),
		})
		if err != nil {
			return ui.PageViewModel{}, err
		}
		vm.ChartSVG = html
	case dashboard.ViewPie:
		slices := ui.SlicesForPie(snap.Slices)
		if len(slices) == 0 {
			vm.ViewNoData = true
			return vm, nil
		}
		html, err := h.pie.Pie(svg.DefaultWidth, svg.DefaultHeight, slices, svg.PieOpts{
			Title:       "Composición del catálogo",
			Description: "Registros por grupo",
		})
		if err != nil {
			return ui.PageViewModel{}, err
		}
		vm.ChartSVG = html
	case dashboard.ViewBoxPlot:
		rows := ui.RowsForBoxplot(snap.Boxplot)
		if len(rows) == 0 {
			vm.ViewNoData = true
			return vm, nil
		}
		html, err := h.box.Boxplot(svg.DefaultWidth, svg.DefaultHeight, rows, svg.BoxOpts{
			Title:       "Distribución por cuartiles",
			Description: "Cuartiles de precio por grupo",
		})
		if err != nil {
			return ui.PageViewModel{}, err
		}
		vm.ChartSVG = html
	case dashboard.ViewAnomalies:
		if snap.Anomalies == nil {
			vm.ViewNoData = true
			return vm, nil
		}
		points, guides, legend := ui.PointsForAnomalies(*snap.Anomalies)
		if len(points) == 0 {
			vm.ViewNoData = true
			return vm, nil
		}
		html, err := h.scatter.Scatter(svg.DefaultWidth, svg.DefaultHeight, points, svg.ScatterOpts{
			Title:       "Anomalías de precio",
			Description: "Registros fuera de los umbrales de precio",
			Guides:      guides,
			Legend:      legend,
		})
		if err != nil {
			return ui.PageViewModel{}, err
		}
		vm.ChartSVG = html
	case dashboard.ViewClusters:
		if snap.Clusters == nil {
			vm.ViewNoData = true
			return vm, nil
		}
		points, guides, legend := ui.PointsForClusters(*snap.Clusters)
		if len(points) == 0 {
			vm.ViewNoData = true
			return vm, nil
		}
		html, err := h.scatter.Scatter(svg.DefaultWidth, svg.DefaultHeight, points, svg.ScatterOpts{
			Title:       "Agrupamientos de precio",
			Description: "Muestra de registros por grupo",
			Guides:      guides,
			Legend:      legend,
		})
		if err != nil {
			return ui.PageViewModel{}, err
		}
		vm.ChartSVG = html
	}
	return vm, nil
}

func (h *Handler) handleControllerError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, dashboard.ErrNotReady) || errors.Is(err, dashboard.ErrErrored) {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	h.handleFilterError(w, err)
}

func (h *Handler) handleFilterError(w http.ResponseWriter, err error) {
	var vErr validationError
	if errors.As(err, &vErr) {
		http.Error(w, fmt.Sprintf("Parámetro no válido: %s", vErr.field), http.StatusBadRequest)
		return
	}
	http.Error(w, "Solicitud no válida", http.StatusBadRequest)
}

func (h *Handler) respondNotReady(w http.ResponseWriter) {
	http.Error(w, "Los datos del tablero aún no están listos", http.StatusConflict)
}

func (h *Handler) handleServerError(w http.ResponseWriter, context string, err error) {
	h.logError(context, err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (h *Handler) logError(context string, err error) {
	if h.logger != nil {
		h.logger.Error(context, slog.Any("error", err))
	}
}

type validationError struct {
	field string
}

func (v validationError) Error() string {
	return fmt.Sprintf("invalid %s", v.field)
}

// HandleDashboardForTest exposes the page handler for tests.
func (h *Handler) HandleDashboardForTest(w http.ResponseWriter, r *http.Request) {
	h.handleDashboard(w, r)
}

// HandleCSVForTest exposes the CSV export handler for tests.
func (h *Handler) HandleCSVForTest(w http.ResponseWriter, r *http.Request) { h.handleCSV(w, r) }

// HandlePDFForTest exposes the PDF export handler for tests.
func (h *Handler) HandlePDFForTest(w http.ResponseWriter, r *http.Request) { h.handlePDF(w, r) }
