package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/pharmalens/pharmalens/internal/catalog"
)

// Phase is the controller lifecycle state.
type Phase string

const (
	// PhaseLoading covers the window before metadata has resolved. No
	// filters render and no data fetches run.
	PhaseLoading Phase = "loading"
	// PhaseReady is normal operation.
	PhaseReady Phase = "ready"
	// PhaseErrored means the metadata load failed. The phase is terminal:
	// the controller never retries, a fresh mount is required.
	PhaseErrored Phase = "errored"
)

const defaultFetchTimeout = 15 * time.Second

var (
	// ErrNotReady is returned for commits against a controller whose
	// metadata has not resolved yet.
	ErrNotReady = errors.New("dashboard is still loading")
	// ErrErrored is returned for commits against a controller whose
	// bootstrap failed.
	ErrErrored = errors.New("dashboard failed to initialize")
)

type baseSlot struct {
	sig     string
	records []catalog.DrugRecord
	loaded  bool
	pending int
}

// secondarySlot holds one view's helper payload. Exactly one of the payload
// fields is populated, matching the view the slot belongs to. Slots survive
// view switches so returning to a view with unchanged filters re-renders
// held data without a fetch.
type secondarySlot struct {
	sig       string
	loaded    bool
	failed    bool
	pending   int
	histogram []catalog.HistogramBin
	boxplot   []BoxplotRow
	anomalies catalog.AnomalyReport
	clusters  catalog.ClusterReport
}

// Controller owns one dashboard session: the committed FilterState, the
// per-slot payloads, and the coordinator ordering overlapping fetches.
//
// The source this engine was modeled on ran on a single-threaded event loop
// and needed no locking; here one mutex guards all controller state and
// fetches run in goroutines that re-acquire it to apply or drop their
// response. Commits return a Dispatch whose Done channel closes when every
// fetch of that commit has settled, so callers can await quiescence.
type Controller struct {
	service *catalog.Service
	logger  *slog.Logger
	metrics *Metrics
	coord   *Coordinator

	fetchTimeout time.Duration
	now          func() time.Time

	// ctx bounds background fetches to the controller's lifetime, not to
	// the HTTP request that triggered the commit.
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	phase       Phase
	booting     bool
	fatal       string
	banner      string
	meta        catalog.Metadata
	state       FilterState
	base        baseSlot
	secondaries map[ViewKind]*secondarySlot
	updatedAt   time.Time
}

// NewController builds an unbootstrapped controller in the Loading phase.
func NewController(service *catalog.Service, logger *slog.Logger, metrics *Metrics) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		service:      service,
		logger:       logger,
		metrics:      metrics,
		coord:        NewCoordinator(),
		fetchTimeout: defaultFetchTimeout,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
		phase:        PhaseLoading,
		secondaries:  make(map[ViewKind]*secondarySlot),
	}
}

// WithNow overrides the clock, for tests.
func (c *Controller) WithNow(now func() time.Time) *Controller {
	if now != nil {
		c.now = now
	}
	return c
}

// WithFetchTimeout overrides the per-fetch deadline.
func (c *Controller) WithFetchTimeout(d time.Duration) *Controller {
	if d > 0 {
		c.fetchTimeout = d
	}
	return c
}

// Close cancels any in-flight fetches. The controller must not be used
// afterwards.
func (c *Controller) Close() {
	c.cancel()
}

// Bootstrap loads the catalog metadata exactly once, seeds the default
// FilterState from it, and dispatches the initial data fetch. A metadata
// failure flips the controller into the terminal Errored phase.
func (c *Controller) Bootstrap(ctx context.Context) (*Dispatch, error) {
	c.mu.Lock()
	if c.phase != PhaseLoading || c.booting {
		c.mu.Unlock()
		return nil, errors.New("dashboard already bootstrapped")
	}
	c.booting = true
	c.mu.Unlock()

	meta, err := c.service.GetMetadata(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.booting = false
	if err != nil {
		c.phase = PhaseErrored
		c.fatal = "No se pudieron cargar los metadatos del catálogo: " + err.Error()
		c.logger.Error("dashboard metadata load failed", "error", err)
		return nil, err
	}
	c.phase = PhaseReady
	c.meta = meta
	c.state = DefaultState(math.Ceil(meta.PriceRange.Max))
	return c.dispatchLocked(true), nil
}

// ApplyFilters commits new criteria and sort. The base query is refetched
// and, when the active view has a helper query, so is that, regardless of
// whether the parameters actually changed.
func (c *Controller) ApplyFilters(criteria catalog.Criteria, sort catalog.SortSpec) (*Dispatch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readyLocked(); err != nil {
		return nil, err
	}
	next := c.state.WithCriteria(criteria, sort)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	c.state = next
	return c.dispatchLocked(true), nil
}

// SwitchView activates another view. The base query is always refetched;
// the view's helper query runs only when its held data does not match the
// current filters.
func (c *Controller) SwitchView(kind ViewKind) (*Dispatch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readyLocked(); err != nil {
		return nil, err
	}
	next := c.state.WithView(kind)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	c.state = next
	return c.dispatchLocked(false), nil
}

// Reset restores the default state: no filters, the full price range, and
// the bar view.
func (c *Controller) Reset() (*Dispatch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readyLocked(); err != nil {
		return nil, err
	}
	c.state = DefaultState(math.Ceil(c.meta.PriceRange.Max))
	return c.dispatchLocked(true), nil
}

// State returns the committed FilterState.
func (c *Controller) State() (FilterState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readyLocked(); err != nil {
		return FilterState{}, err
	}
	return c.state, nil
}

// Metadata returns the bootstrap metadata.
func (c *Controller) Metadata() (catalog.Metadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readyLocked(); err != nil {
		return catalog.Metadata{}, err
	}
	return c.meta, nil
}

func (c *Controller) readyLocked() error {
	switch c.phase {
	case PhaseReady:
		return nil
	case PhaseLoading:
		return ErrNotReady
	}
	return ErrErrored
}

// dispatchLocked issues the base fetch and, when needed, the active view's
// helper fetch. forceSecondary refetches the helper even when its held data
// matches the current filters; view switches pass false so held data is
// reused. Caller holds mu.
func (c *Controller) dispatchLocked(forceSecondary bool) *Dispatch {
	state := c.state
	launches := make([]func(*Dispatch), 0, 2)

	baseQuery := BuildBaseQuery(state)
	baseSeq := c.coord.Issue(SlotBase)
	c.base.pending++
	launches = append(launches, func(d *Dispatch) {
		go c.fetchBase(d, baseQuery, baseSeq)
	})

	if query, ok := BuildSecondaryQuery(state, state.View); ok {
		slot := c.secondary(state.View)
		if forceSecondary || !slot.loaded || slot.failed || slot.sig != query.Signature() {
			seq := c.coord.Issue(SecondarySlot(state.View))
			slot.pending++
			kind := state.View
			launches = append(launches, func(d *Dispatch) {
				go c.fetchSecondary(d, kind, query, seq)
			})
		}
	}

	d := newDispatch(len(launches))
	for _, launch := range launches {
		launch(d)
	}
	return d
}

func (c *Controller) secondary(kind ViewKind) *secondarySlot {
	slot := c.secondaries[kind]
	if slot == nil {
		slot = &secondarySlot{}
		c.secondaries[kind] = slot
	}
	return slot
}

func (c *Controller) fetchBase(d *Dispatch, q catalog.BaseQuery, seq uint64) {
	defer d.finish()
	start := time.Now()
	ctx, cancel := context.WithTimeout(c.ctx, c.fetchTimeout)
	records, err := c.service.GetRecords(ctx, q)
	cancel()
	c.metrics.ObserveFetch(SlotBase, err, time.Since(start))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.base.pending--
	if !c.coord.Admit(SlotBase, seq) {
		c.metrics.AddStaleDrop(SlotBase)
		c.logger.Debug("stale base response dropped", "seq", seq)
		return
	}
	if err != nil {
		// Held secondary data stays untouched; only the banner changes.
		c.banner = "No se pudieron cargar los datos del catálogo: " + err.Error()
		c.logger.Error("base query failed", "query", q.Encode(), "error", err)
		return
	}
	c.banner = ""
	c.base.records = records
	c.base.sig = q.Signature()
	c.base.loaded = true
	c.updatedAt = c.now()
}

func (c *Controller) fetchSecondary(d *Dispatch, kind ViewKind, q SecondaryQuery, seq uint64) {
	defer d.finish()
	slot := SecondarySlot(kind)
	start := time.Now()
	ctx, cancel := context.WithTimeout(c.ctx, c.fetchTimeout)
	apply, err := c.loadSecondary(ctx, q)
	cancel()
	c.metrics.ObserveFetch(slot, err, time.Since(start))

	c.mu.Lock()
	defer c.mu.Unlock()
	sec := c.secondary(kind)
	sec.pending--
	if !c.coord.Admit(slot, seq) {
		c.metrics.AddStaleDrop(slot)
		c.logger.Debug("stale secondary response dropped", "view", string(kind), "seq", seq)
		return
	}
	if err != nil {
		// Non-fatal: the view degrades to its no-data notice, the base
		// dataset and banner are left alone.
		sec.failed = true
		c.logger.Warn("secondary query failed", "view", string(kind), "error", err)
		return
	}
	apply(sec)
	sec.failed = false
	sec.loaded = true
	sec.sig = q.Signature()
	c.updatedAt = c.now()
}

// loadSecondary runs the kind-specific fetch and returns a closure that
// writes the payload into the slot. The closure runs under mu only after the
// response has been admitted.
func (c *Controller) loadSecondary(ctx context.Context, q SecondaryQuery) (func(*secondarySlot), error) {
	switch q := q.(type) {
	case catalog.HistogramQuery:
		bins, err := c.service.GetHistogram(ctx, q)
		if err != nil {
			return nil, err
		}
		return func(s *secondarySlot) { s.histogram = bins }, nil
	case catalog.BoxplotQuery:
		summaries, err := c.service.GetBoxplot(ctx, q)
		if err != nil {
			return nil, err
		}
		rows, rejected := BoxplotRows(summaries)
		if rejected > 0 {
			c.logger.Warn("rejected malformed boxplot groups", "count", rejected)
		}
		return func(s *secondarySlot) { s.boxplot = rows }, nil
	case catalog.AnomalyQuery:
		report, err := c.service.GetAnomalies(ctx, q)
		if err != nil {
			return nil, err
		}
		return func(s *secondarySlot) { s.anomalies = report }, nil
	case catalog.ClusterQuery:
		report, err := c.service.GetClusters(ctx, q)
		if err != nil {
			return nil, err
		}
		return func(s *secondarySlot) { s.clusters = report }, nil
	}
	return nil, fmt.Errorf("no loader for query %T", q)
}
