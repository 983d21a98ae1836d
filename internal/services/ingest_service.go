package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/irfndi/covid-pulse-go/internal/config"
	"github.com/irfndi/covid-pulse-go/internal/epidemic"
	"github.com/irfndi/covid-pulse-go/internal/models"
	"github.com/irfndi/covid-pulse-go/internal/telemetry"
	"github.com/irfndi/covid-pulse-go/pkg/jhu"
)

// ErrIngestInProgress is returned when a run is requested while another is
// still going.
var ErrIngestInProgress = errors.New("ingest already in progress")

// Source provides the upstream tables.
type Source interface {
	FetchTimeSeries(ctx context.Context, kind jhu.SeriesKind) (*epidemic.Table, error)
	FetchLatest(ctx context.Context) (*epidemic.LatestTable, error)
	FetchWorldData(ctx context.Context) ([]models.WorldData, error)
}

// DocumentWriter persists what an ingest run produces.
type DocumentWriter interface {
	SaveCountryDocument(ctx context.Context, doc *models.CountryDocument) error
	SaveCountryList(ctx context.Context, list models.CountryList) error
	CreateIngestRun(ctx context.Context, run *models.IngestRun) error
	FinishIngestRun(ctx context.Context, run *models.IngestRun) error
}

// CacheInvalidator drops cached views once new documents are stored.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) (int, error)
}

// upstreamTables is one consistent fetch of every source.
type upstreamTables struct {
	confirmed *epidemic.Table
	deaths    *epidemic.Table
	recovered *epidemic.Table
	latest    *epidemic.LatestTable
	world     models.CountryList
}

// IngestService periodically refreshes the stored country documents from the
// upstream tables.
type IngestService struct {
	config  config.IngestConfig
	source  Source
	breaker *CircuitBreaker
	store   DocumentWriter
	cache   CacheInvalidator
	tracer  *telemetry.BusinessTracer
	logger  *logrus.Logger

	runMu   sync.Mutex
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewIngestService creates a new ingest service. breaker and cache may be
// nil.
func NewIngestService(cfg config.IngestConfig, source Source, breaker *CircuitBreaker, store DocumentWriter, cache CacheInvalidator, tracer *telemetry.BusinessTracer, logger *logrus.Logger) *IngestService {
	ctx, cancel := context.WithCancel(context.Background())
	if tracer == nil {
		tracer = telemetry.NewBusinessTracer()
	}
	return &IngestService{
		config:  cfg,
		source:  source,
		breaker: breaker,
		store:   store,
		cache:   cache,
		tracer:  tracer,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
	}
}

// Start begins periodic ingestion.
func (s *IngestService) Start() {
	s.logger.WithFields(logrus.Fields{
		"interval":        s.config.GetInterval().String(),
		"run_on_start":    s.config.RunOnStart,
		"prediction_days": s.config.PredictionDays,
	}).Info("Starting ingest service")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.config.RunOnStart {
			s.runLogged()
		}

		ticker := time.NewTicker(s.config.GetInterval())
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.runLogged()
			}
		}
	}()
}

// Stop cancels the loop and any run in progress and waits for it to exit.
func (s *IngestService) Stop() {
	s.logger.Info("Stopping ingest service")
	s.cancel()
	s.wg.Wait()
}

func (s *IngestService) runLogged() {
	if _, err := s.RunIngest(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WithError(err).Error("Ingest run failed")
	}
}

// RunIngest performs one full refresh and returns its run record.
func (s *IngestService) RunIngest(ctx context.Context) (*models.IngestRun, error) {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return nil, ErrIngestInProgress
	}
	s.running = true
	s.runMu.Unlock()
	defer func() {
		s.runMu.Lock()
		s.running = false
		s.runMu.Unlock()
	}()

	run := &models.IngestRun{
		ID:        uuid.New(),
		StartedAt: s.now().UTC(),
		Status:    models.IngestRunning,
	}
	ctx, span := s.tracer.TraceIngestRun(ctx, run.ID.String())
	defer span.End()

	log := s.logger.WithField("run_id", run.ID.String())
	log.Info("Ingest run started")

	if err := s.store.CreateIngestRun(ctx, run); err != nil {
		s.tracer.RecordError(span, err, "create ingest run")
		return nil, err
	}

	metrics, err := s.ingest(ctx, run, log)
	metrics.Duration = s.now().Sub(run.StartedAt)
	s.tracer.RecordIngestMetrics(span, metrics)

	finished := s.now().UTC()
	run.FinishedAt = &finished
	run.Countries = metrics.Countries
	run.Skipped = metrics.Skipped
	if err != nil {
		run.Status = models.IngestFailed
		run.Error = err.Error()
		s.tracer.RecordError(span, err, "ingest run failed")
	} else {
		run.Status = models.IngestSucceeded
	}

	// record the outcome even when the run was cancelled
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if ferr := s.store.FinishIngestRun(finishCtx, run); ferr != nil {
		log.WithError(ferr).Error("Failed to record ingest run outcome")
	}

	if err != nil {
		return run, err
	}
	log.WithFields(logrus.Fields{
		"countries":   metrics.Countries,
		"skipped":     metrics.Skipped,
		"fitted":      metrics.Fitted,
		"duration_ms": metrics.Duration.Milliseconds(),
	}).Info("Ingest run completed")
	return run, nil
}

func (s *IngestService) ingest(ctx context.Context, run *models.IngestRun, log *logrus.Entry) (telemetry.IngestMetrics, error) {
	var metrics telemetry.IngestMetrics

	tables, err := s.fetch(ctx)
	if err != nil {
		return metrics, err
	}

	list := models.CountryList{}
	for _, entity := range tables.confirmed.Entities() {
		if err := ctx.Err(); err != nil {
			return metrics, err
		}

		doc, fitted, err := s.buildDocument(ctx, tables, entity)
		if err != nil {
			metrics.Skipped++
			log.WithError(err).WithField("country", entity).Warn("Skipping country")
			continue
		}
		if err := s.store.SaveCountryDocument(ctx, doc); err != nil {
			return metrics, fmt.Errorf("save %s: %w", entity, err)
		}

		metrics.Countries++
		if fitted {
			metrics.Fitted++
		}
		list[entity] = models.CountryInfo{Flag: doc.Flag, Population: doc.Population.ValueOrZero()}
	}

	if err := s.store.SaveCountryList(ctx, list); err != nil {
		return metrics, err
	}
	if s.cache != nil {
		removed, err := s.cache.Invalidate(ctx)
		if err != nil {
			log.WithError(err).Warn("Failed to invalidate dashboard cache")
		} else {
			log.WithField("keys", removed).Debug("Dashboard cache invalidated")
		}
	}
	return metrics, nil
}

// fetch downloads every upstream table. The whole fan-out counts as a single
// call against the breaker.
func (s *IngestService) fetch(ctx context.Context) (*upstreamTables, error) {
	if s.breaker == nil {
		return s.fetchAll(ctx)
	}
	var tables *upstreamTables
	err := s.breaker.Execute(ctx, func(ctx context.Context) (err error) {
		tables, err = s.fetchAll(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tables, nil
}

// fetchAll downloads every upstream table concurrently.
func (s *IngestService) fetchAll(ctx context.Context) (*upstreamTables, error) {
	var tables upstreamTables
	g, gctx := errgroup.WithContext(ctx)

	fetchSeries := func(kind jhu.SeriesKind, dest **epidemic.Table) {
		g.Go(func() error {
			table, err := s.source.FetchTimeSeries(gctx, kind)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", kind, err)
			}
			*dest = table
			return nil
		})
	}
	fetchSeries(jhu.Confirmed, &tables.confirmed)
	fetchSeries(jhu.Deaths, &tables.deaths)
	fetchSeries(jhu.Recovered, &tables.recovered)

	g.Go(func() error {
		latest, err := s.source.FetchLatest(gctx)
		if err != nil {
			return fmt.Errorf("fetch latest: %w", err)
		}
		tables.latest = latest
		return nil
	})
	g.Go(func() error {
		rows, err := s.source.FetchWorldData(gctx)
		if err != nil {
			return fmt.Errorf("fetch world data: %w", err)
		}
		tables.world = jhu.CountryList(rows)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &tables, nil
}

// buildDocument derives the stored document of one country. fitted reports
// whether SIR rates were attached.
func (s *IngestService) buildDocument(ctx context.Context, tables *upstreamTables, entity string) (doc *models.CountryDocument, fitted bool, err error) {
	_, span := s.tracer.TraceCountryDerivation(ctx, entity)
	defer span.End()
	defer func() { s.tracer.RecordError(span, err, "derive country") }()

	series, err := epidemic.BuildEntitySeries(tables.confirmed, tables.deaths, tables.recovered, entity)
	if err != nil {
		return nil, false, err
	}
	if series.Len() == 0 {
		return nil, false, epidemic.NewShapeMismatchf("country %q has no reporting days", entity)
	}
	active, err := series.Active()
	if err != nil {
		return nil, false, err
	}

	doc = &models.CountryDocument{
		Country:       entity,
		FirstDate:     epidemic.FormatISODate(series.Dates[0]),
		Dates:         make([]string, series.Len()),
		Total:         series.Confirmed,
		Active:        active,
		Deaths:        series.Deaths,
		Recovered:     series.Recovered,
		DoublingRates: roundRates(epidemic.EstimateDoublingRates(series.Confirmed)),
		UpdatedAt:     s.now().UTC(),
	}
	for i, d := range series.Dates {
		doc.Dates[i] = epidemic.FormatISODate(d)
	}
	if info, ok := tables.world[entity]; ok {
		doc.Flag = info.Flag
		if info.Population > 0 {
			doc.Population = null.IntFrom(info.Population)
		}
	}
	if snap, ok := tables.latest.Snapshots[entity]; ok {
		doc.Latest = &snap
	}

	doc.Predicted = s.defaultPrediction(series, active, doc.DoublingRates)
	fitted = s.attachSIR(doc, series)
	return doc, fitted, nil
}

// defaultPrediction stores the exponential projection at the default
// doubling rate. Active[k] is the value k days after FromDate.
func (s *IngestService) defaultPrediction(series *epidemic.EntitySeries, active []int64, rates []null.Float) *models.Prediction {
	last := series.Dates[series.Len()-1]
	prediction := &models.Prediction{FromDate: epidemic.FormatISODate(last)}

	if s.config.IsExcluded(series.Entity) {
		return prediction
	}
	rate, ok := epidemic.DefaultDoublingRate(rates)
	if !ok || s.config.PredictionDays == 0 {
		return prediction
	}
	forecast, err := epidemic.ForecastExponential(active, series.Dates, s.config.PredictionDays, rate)
	if err != nil {
		return prediction
	}
	prediction.DoublingRate = null.FloatFrom(rate)
	prediction.Active = forecast.Values[forecast.Splice:]
	return prediction
}

func (s *IngestService) attachSIR(doc *models.CountryDocument, series *epidemic.EntitySeries) bool {
	if s.config.IsExcluded(doc.Country) {
		return false
	}
	if !doc.Population.Valid {
		return false
	}

	window, err := epidemic.NewFitWindow(series, doc.Population.Int64, s.config.RetrospectDays)
	if err != nil {
		s.logger.WithError(err).WithField("country", doc.Country).Debug("No SIR fit window")
		return false
	}
	params, err := epidemic.FitSIR(window)
	if err != nil {
		s.logger.WithError(err).WithField("country", doc.Country).Warn("SIR fit failed")
		return false
	}

	from := series.Dates[series.Len()-1-s.config.RetrospectDays]
	doc.Predicted.SIR = epidemic.NewSIRPrediction(from, *params)
	return true
}

// roundRates rounds published doubling rates to two decimals.
func roundRates(rates []null.Float) []null.Float {
	out := make([]null.Float, len(rates))
	for i, r := range rates {
		if !r.Valid {
			continue
		}
		rounded, _ := decimal.NewFromFloat(r.Float64).Round(2).Float64()
		out[i] = null.FloatFrom(rounded)
	}
	return out
}
