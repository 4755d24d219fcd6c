package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lox/plantwatch/internal/metrics"
	"github.com/lox/plantwatch/internal/models"
	"github.com/lox/plantwatch/internal/push"
	"github.com/lox/plantwatch/internal/telemetry"
)

const (
	DefaultFetchTimeout = 15 * time.Second
	probeTimeout        = 10 * time.Second
	sinkTimeout         = 5 * time.Second
	archiveQueueSize    = 256
)

var (
	ErrUnknownPlant = errors.New("unknown plant")
	ErrStopped      = errors.New("controller stopped")
)

// Fetcher is the snapshot side of the backend. *telemetry.Client satisfies it.
type Fetcher interface {
	Predict(ctx context.Context, plantID int) (*models.HealthAssessment, error)
	Forecast(ctx context.Context, plantID, days int) (*models.Forecast, error)
	Health(ctx context.Context) (*models.BackendStatus, error)
}

// PushChannel is the subset of *push.Channel the controller drives.
type PushChannel interface {
	Subscribe(plantID int) bool
	On(kind push.EventKind, h push.Handler)
	OnStateChange(l push.StateListener)
	State() models.ConnectionState
}

// ReadingSink receives every pushed sensor reading, for any plant.
type ReadingSink interface {
	RecordReading(ctx context.Context, u models.SensorUpdate) error
}

// EventLog records whether push events were applied or discarded.
type EventLog interface {
	RecordPushEvent(ctx context.Context, kind string, plantID int, applied bool) error
}

type Catalog interface {
	Get(id int) (models.Plant, bool)
}

type Config struct {
	Fetcher Fetcher
	Push    PushChannel
	Catalog Catalog
	Sinks   []ReadingSink
	Events  EventLog

	InitialPlant int
	ForecastDays int
	FetchTimeout time.Duration
	Now          func() time.Time
}

// Controller owns the dashboard state. All mutation happens on the goroutine
// running Run; fetch completions and push events are posted to it and
// checked against the current selection before being applied.
type Controller struct {
	cfg     Config
	events  chan func()
	archive chan func(context.Context)
	done    chan struct{}
	runCtx  context.Context

	st state

	mu      sync.RWMutex
	view    View
	changed chan struct{}
}

type state struct {
	plantID     int
	seq         uint64
	phase       Phase
	health      *models.HealthAssessment
	forecast    *models.Forecast
	lastUpdated time.Time
	conn        models.ConnectionState
	backend     Availability
	status      *models.BackendStatus
	errKind     ErrorKind
	errMsg      string

	// Set when a push replaced the value after the pending fetch was
	// issued; that fetch must not overwrite it.
	pushedHealth   bool
	pushedForecast bool
}

type fetchResult struct {
	plantID  int
	seq      uint64
	health   *models.HealthAssessment
	forecast *models.Forecast
	err      error
}

func New(cfg Config) *Controller {
	if cfg.ForecastDays <= 0 {
		cfg.ForecastDays = telemetry.DefaultForecastDays
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Controller{
		cfg:     cfg,
		events:  make(chan func(), 64),
		archive: make(chan func(context.Context), archiveQueueSize),
		done:    make(chan struct{}),
		changed: make(chan struct{}),
		runCtx:  context.Background(),
	}
	c.st.backend = Checking
	if cfg.InitialPlant != 0 {
		c.st.plantID = cfg.InitialPlant
		c.st.phase = Loading
	}

	if cfg.Push != nil {
		c.st.conn = cfg.Push.State()
		cfg.Push.On(push.EventHealthUpdate, c.onHealthEvent)
		cfg.Push.On(push.EventForecastUpdate, c.onForecastEvent)
		cfg.Push.On(push.EventSensorReading, c.onSensorEvent)
		cfg.Push.OnStateChange(c.onConnectionChange)
	}
	c.publish()
	return c
}

// Run processes posted events until ctx is cancelled. It selects the
// initial plant, if configured, before handling anything else.
func (c *Controller) Run(ctx context.Context) error {
	c.runCtx = ctx
	defer close(c.done)
	go c.drainArchive(ctx)

	if c.cfg.InitialPlant != 0 {
		c.selectEntity(c.cfg.InitialPlant)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-c.events:
			fn()
		}
	}
}

// View returns the latest snapshot.
func (c *Controller) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view
}

// Changed returns a channel closed at the next state change.
func (c *Controller) Changed() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changed
}

// SelectEntity switches the dashboard to plantID: displayed data is
// cleared, a snapshot fetch starts and the push subscription is re-issued.
func (c *Controller) SelectEntity(plantID int) error {
	if c.cfg.Catalog != nil {
		if _, ok := c.cfg.Catalog.Get(plantID); !ok {
			return fmt.Errorf("select plant %d: %w", plantID, ErrUnknownPlant)
		}
	}
	if !c.do(func() { c.selectEntity(plantID) }) {
		return ErrStopped
	}
	return nil
}

// ManualRefresh re-fetches the selected plant. It is rejected, returning
// false, in live mode or while another fetch is in flight.
func (c *Controller) ManualRefresh() bool {
	var accepted bool
	c.do(func() { accepted = c.manualRefresh() })
	return accepted
}

// Probe checks backend availability and records the result.
func (c *Controller) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	status, err := c.cfg.Fetcher.Health(ctx)
	if err != nil {
		log.Printf("dashboard: backend probe failed: %v", err)
	}
	c.do(func() {
		switch {
		case errors.Is(err, telemetry.ErrBusy):
			// Shed while another request tests the backend; no verdict.
			return
		case err != nil:
			c.st.backend = Offline
			c.st.status = nil
		default:
			c.st.backend = Online
			c.st.status = status
		}
		c.publish()
	})
	return err
}

// Retry re-probes the backend and, when it answers, reloads the selected plant.
func (c *Controller) Retry(ctx context.Context) bool {
	if err := c.Probe(ctx); err != nil {
		return false
	}
	var plantID int
	c.do(func() { plantID = c.st.plantID })
	if plantID != 0 {
		if err := c.SelectEntity(plantID); err != nil {
			log.Printf("dashboard: retry select plant %d: %v", plantID, err)
		}
	}
	return true
}

func (c *Controller) post(fn func()) bool {
	select {
	case c.events <- fn:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) do(fn func()) bool {
	ran := make(chan struct{})
	if !c.post(func() {
		fn()
		close(ran)
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-c.done:
		return false
	}
}

// drainArchive writes queued readings and push events to storage, off the
// event loop and off the push channel's receive goroutine.
func (c *Controller) drainArchive(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-c.archive:
			jobCtx, cancel := context.WithTimeout(ctx, sinkTimeout)
			job(jobCtx)
			cancel()
		}
	}
}

// enqueueArchive never blocks; when the queue is full the job is dropped.
func (c *Controller) enqueueArchive(job func(context.Context)) {
	select {
	case c.archive <- job:
	default:
		metrics.ArchiveDroppedTotal.Inc()
	}
}

func (c *Controller) selectEntity(plantID int) {
	c.st.plantID = plantID
	c.st.seq++
	c.st.phase = Loading
	c.st.health = nil
	c.st.forecast = nil
	c.st.lastUpdated = time.Time{}
	c.st.errKind, c.st.errMsg = ErrNone, ""
	c.st.pushedHealth, c.st.pushedForecast = false, false
	c.publish()

	c.startFetch(plantID, c.st.seq)
	if c.cfg.Push != nil {
		c.cfg.Push.Subscribe(plantID)
	}
}

func (c *Controller) manualRefresh() bool {
	if c.st.conn == models.Connected || c.st.phase != Ready || c.st.plantID == 0 {
		return false
	}
	c.st.seq++
	c.st.phase = Refreshing
	c.st.pushedHealth, c.st.pushedForecast = false, false
	c.publish()
	c.startFetch(c.st.plantID, c.st.seq)
	return true
}

func (c *Controller) startFetch(plantID int, seq uint64) {
	ctx := c.runCtx
	go func() {
		res := c.fetch(ctx, plantID, seq)
		c.post(func() { c.applyFetch(res) })
	}()
}

func (c *Controller) fetch(ctx context.Context, plantID int, seq uint64) fetchResult {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	res := fetchResult{plantID: plantID, seq: seq}
	res.health, res.err = c.cfg.Fetcher.Predict(ctx, plantID)
	if res.err != nil {
		return res
	}
	res.forecast, res.err = c.cfg.Fetcher.Forecast(ctx, plantID, c.cfg.ForecastDays)
	if res.err != nil {
		res.health = nil
	}
	return res
}

func (c *Controller) applyFetch(res fetchResult) {
	if res.plantID != c.st.plantID || res.seq != c.st.seq {
		metrics.SnapshotFetchesTotal.WithLabelValues("stale").Inc()
		return
	}

	c.st.phase = Ready
	if res.err != nil {
		kind := classify(res.err)
		metrics.SnapshotFetchesTotal.WithLabelValues(string(kind)).Inc()
		log.Printf("dashboard: fetch plant %d failed (%s): %v", res.plantID, kind, res.err)
		c.st.errKind, c.st.errMsg = kind, res.err.Error()
		if kind == ErrUnavailable {
			c.st.backend = Offline
		}
		c.publish()
		return
	}

	metrics.SnapshotFetchesTotal.WithLabelValues("ok").Inc()
	if !c.st.pushedHealth {
		c.st.health = res.health
	}
	if !c.st.pushedForecast {
		c.st.forecast = res.forecast
	}
	c.st.lastUpdated = c.cfg.Now()
	c.st.errKind, c.st.errMsg = ErrNone, ""
	if c.st.backend == Offline {
		c.st.backend = Online
	}
	c.publish()
}

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, telemetry.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, telemetry.ErrUnavailable):
		return ErrUnavailable
	case errors.Is(err, telemetry.ErrNotFound):
		return ErrNotFound
	default:
		return ErrFetchFailed
	}
}

func (c *Controller) onHealthEvent(e push.Event) {
	h, err := e.Health()
	if err != nil {
		log.Printf("dashboard: %v", err)
		metrics.PushEventsTotal.WithLabelValues(string(e.Kind), "invalid").Inc()
		return
	}
	c.post(func() {
		c.applyPush(e, func() {
			c.st.health = h
			c.st.pushedHealth = true
		})
	})
}

func (c *Controller) onForecastEvent(e push.Event) {
	f, err := e.Forecast()
	if err != nil {
		log.Printf("dashboard: %v", err)
		metrics.PushEventsTotal.WithLabelValues(string(e.Kind), "invalid").Inc()
		return
	}
	c.post(func() {
		c.applyPush(e, func() {
			c.st.forecast = f
			c.st.pushedForecast = true
		})
	})
}

func (c *Controller) onSensorEvent(e push.Event) {
	u, err := e.Sensor()
	if err != nil {
		log.Printf("dashboard: %v", err)
		metrics.PushEventsTotal.WithLabelValues(string(e.Kind), "invalid").Inc()
		return
	}
	if u.PlantID == 0 {
		u.PlantID = e.PlantID
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = models.Timestamp{Time: e.Received}
	}

	update := *u
	if len(c.cfg.Sinks) > 0 {
		c.enqueueArchive(func(ctx context.Context) {
			for _, sink := range c.cfg.Sinks {
				if err := sink.RecordReading(ctx, update); err != nil {
					log.Printf("dashboard: archive reading for plant %d: %v", update.PlantID, err)
				}
			}
		})
	}

	c.post(func() {
		c.applyPush(e, func() {})
	})
}

// applyPush runs set when e targets the selected plant. The phase is left
// alone so a pending fetch still completes normally.
func (c *Controller) applyPush(e push.Event, set func()) {
	applied := e.PlantID == c.st.plantID
	if events := c.cfg.Events; events != nil {
		c.enqueueArchive(func(ctx context.Context) {
			if err := events.RecordPushEvent(ctx, string(e.Kind), e.PlantID, applied); err != nil {
				log.Printf("dashboard: record push event: %v", err)
			}
		})
	}
	if !applied {
		metrics.PushEventsTotal.WithLabelValues(string(e.Kind), "stale").Inc()
		return
	}
	metrics.PushEventsTotal.WithLabelValues(string(e.Kind), "applied").Inc()
	set()
	c.st.lastUpdated = c.cfg.Now()
	c.publish()
}

func (c *Controller) onConnectionChange(state models.ConnectionState, err error) {
	if err != nil {
		log.Printf("dashboard: push channel %s: %v", state, err)
	}
	c.post(func() {
		prev := c.st.conn
		c.st.conn = state
		if state == models.Connected && prev != models.Connected && c.st.plantID != 0 {
			c.cfg.Push.Subscribe(c.st.plantID)
		}
		c.publish()
	})
}

func (c *Controller) publish() {
	st := c.st
	v := View{
		PlantID:        st.plantID,
		Phase:          st.phase,
		Health:         st.health,
		Forecast:       st.forecast,
		LastUpdated:    st.lastUpdated,
		Connection:     st.conn,
		LiveMode:       st.conn == models.Connected,
		RefreshEnabled: st.conn != models.Connected && st.phase == Ready && st.plantID != 0,
		Backend:        st.backend,
		BackendStatus:  st.status,
		ErrorKind:      st.errKind,
		Error:          st.errMsg,
		Seq:            st.seq,
	}
	if c.cfg.Catalog != nil {
		if p, ok := c.cfg.Catalog.Get(st.plantID); ok {
			v.Plant = &p
		}
	}

	c.mu.Lock()
	c.view = v
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}
