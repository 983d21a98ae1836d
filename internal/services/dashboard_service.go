package services

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/irfndi/covid-pulse-go/internal/cache"
	"github.com/irfndi/covid-pulse-go/internal/config"
	"github.com/irfndi/covid-pulse-go/internal/epidemic"
	"github.com/irfndi/covid-pulse-go/internal/logging"
	"github.com/irfndi/covid-pulse-go/internal/models"
	"github.com/irfndi/covid-pulse-go/internal/telemetry"
)

// DocumentReader loads stored documents and the country list.
type DocumentReader interface {
	GetCountryDocument(ctx context.Context, country string) (*models.CountryDocument, error)
	ListCountries(ctx context.Context) (models.CountryList, error)
}

// ViewCache stores rendered views and the country list.
type ViewCache interface {
	GetView(ctx context.Context, key string) (*models.DashboardView, bool)
	SetView(ctx context.Context, key string, view *models.DashboardView)
	GetCountries(ctx context.Context) (models.CountryList, bool)
	SetCountries(ctx context.Context, list models.CountryList)
}

// Session holds the state of one dashboard: the selected country, its parsed
// series and the user's horizon and doubling rate choices. Every View call
// recomputes from that state.
type Session struct {
	cfg     config.DashboardConfig
	printer *message.Printer

	doc              *models.CountryDocument
	series           *epidemic.EntitySeries
	horizon          int
	doublingOverride null.Float
}

// NewSession creates an empty session using the configured default horizon
// and locale.
func NewSession(cfg config.DashboardConfig) (*Session, error) {
	tag, err := language.Parse(cfg.Locale)
	if err != nil {
		return nil, epidemic.NewInvalidParameterf("invalid locale %q", cfg.Locale)
	}
	s := &Session{cfg: cfg, printer: message.NewPrinter(tag)}
	s.SetHorizon(cfg.DefaultHorizon)
	return s, nil
}

// Load replaces the session's country with doc.
func (s *Session) Load(doc *models.CountryDocument) error {
	series, err := epidemic.DocumentSeries(doc)
	if err != nil {
		return err
	}
	if series.Len() == 0 {
		return epidemic.NewShapeMismatchf("country %q has no reporting days", doc.Country)
	}
	s.doc = doc
	s.series = series
	return nil
}

// Country returns the loaded country, or "" before Load.
func (s *Session) Country() string {
	if s.doc == nil {
		return ""
	}
	return s.doc.Country
}

// SetHorizon clamps and stores the forecast horizon and returns the value
// kept.
func (s *Session) SetHorizon(horizon int) int {
	s.horizon = s.cfg.ClampHorizon(horizon)
	return s.horizon
}

// SetDoublingRate overrides the doubling rate of the exponential projection.
// A Null rate restores the default.
func (s *Session) SetDoublingRate(rate null.Float) error {
	if rate.Valid {
		r := rate.Float64
		if math.IsNaN(r) || math.IsInf(r, 0) || r <= 0 {
			return epidemic.NewInvalidParameterf("doubling rate must be a positive finite number, got %v", r)
		}
	}
	s.doublingOverride = rate
	return nil
}

// Close releases the loaded country.
func (s *Session) Close() {
	s.doc = nil
	s.series = nil
	s.doublingOverride = null.Float{}
}

// View derives the dashboard series for the current state.
func (s *Session) View(now time.Time) (*models.DashboardView, error) {
	if s.doc == nil {
		return nil, epidemic.NewInvalidParameterf("no country loaded")
	}
	doc, series, horizon := s.doc, s.series, s.horizon
	n := series.Len()
	length := n + horizon
	active, err := series.Active()
	if err != nil {
		return nil, err
	}

	dates := epidemic.ExtendDates(series.Dates, horizon)
	view := &models.DashboardView{
		Country:     doc.Country,
		Flag:        doc.Flag,
		Population:  doc.Population,
		Horizon:     horizon,
		Dates:       make([]string, len(dates)),
		Active:      epidemic.PadInts(active, length),
		Recovered:   epidemic.PadInts(series.Recovered, length),
		Deaths:      epidemic.PadInts(series.Deaths, length),
		Latest:      doc.Latest,
		GeneratedAt: now.UTC(),
	}
	for i, d := range dates {
		view.Dates[i] = epidemic.FormatISODate(d)
	}

	rates := doc.DoublingRates
	if len(rates) != n {
		rates = epidemic.EstimateDoublingRates(series.Confirmed)
	}
	view.DoublingRates = epidemic.PadFloats(rates, length)

	delta := epidemic.ComputeDelta(series.Confirmed)
	activeDelta := epidemic.ComputeDelta(active)
	view.Delta = epidemic.PadNullInts(delta, length)
	view.ActiveDelta = epidemic.PadNullInts(activeDelta, length)
	view.DeltaSmoothed = epidemic.PadFloats(epidemic.SmoothDelta(delta, s.cfg.SmoothingPeriod), length)

	rate, ok := s.doublingOverride.Float64, s.doublingOverride.Valid
	if !ok {
		rate, ok = epidemic.DefaultDoublingRate(rates)
	}
	if ok {
		forecast, err := epidemic.ForecastExponential(active, series.Dates, horizon, rate)
		if err != nil {
			return nil, err
		}
		view.DoublingRate = null.FloatFrom(rate)
		view.Predicted = forecast.Values
	}

	sir, err := s.sirView(active, horizon)
	if err != nil {
		return nil, err
	}
	view.SIR = sir

	view.Summary = s.summary(view, n, activeDelta)
	return view, nil
}

// sirView returns nil when the document has no fitted rates or no
// population. The run starts from the last active and recovered counts.
func (s *Session) sirView(active []int64, horizon int) (*models.SIRView, error) {
	params, ok := epidemic.DocumentSIRParameters(s.doc)
	if !ok || !s.doc.Population.Valid {
		return nil, nil
	}

	forecast, err := epidemic.ForecastSIR(active, s.series.Recovered, s.doc.Population.Int64, params, horizon)
	if err != nil {
		return nil, err
	}
	return &models.SIRView{
		FromDate: s.doc.Predicted.SIR.FromDate,
		S:        forecast.S,
		I:        forecast.I,
		R:        forecast.R,
		Total:    forecast.Total,
	}, nil
}

func (s *Session) summary(view *models.DashboardView, n int, activeDelta []null.Int) models.Summary {
	current := view.Active[n-1].Int64
	sum := models.Summary{
		CurrentDate:   view.Dates[n-1],
		CurrentActive: current,
		ActiveTrend:   models.TrendFlat,
	}
	if last := activeDelta[n-1]; last.Valid {
		switch {
		case last.Int64 > 0:
			sum.ActiveTrend = models.TrendUp
		case last.Int64 < 0:
			sum.ActiveTrend = models.TrendDown
		}
	}

	var text strings.Builder
	text.WriteString(s.printer.Sprintf("%d active cases on %s", current, sum.CurrentDate))
	if view.Horizon > 0 && len(view.Predicted) > 0 {
		last := len(view.Predicted) - 1
		sum.PredictedDate = view.Dates[last]
		sum.PredictedActive = view.Predicted[last]
		text.WriteString(s.printer.Sprintf(", projected %d on %s at a doubling time of %.1f days",
			sum.PredictedActive.Int64, sum.PredictedDate, view.DoublingRate.Float64))
	}
	sum.Text = text.String()
	return sum
}

// ViewRequest selects a dashboard view. A Null horizon means the configured
// default and a Null doubling rate means the latest estimate.
type ViewRequest struct {
	Country      string
	Horizon      null.Int
	DoublingRate null.Float
}

// DashboardService renders dashboard views from stored documents.
type DashboardService struct {
	cfg    config.DashboardConfig
	store  DocumentReader
	cache  ViewCache
	tracer *telemetry.BusinessTracer
	logger *logging.StandardLogger
	now    func() time.Time
}

// NewDashboardService creates a new dashboard service. cache may be nil.
func NewDashboardService(cfg config.DashboardConfig, store DocumentReader, viewCache ViewCache, tracer *telemetry.BusinessTracer, logger *logging.StandardLogger) (*DashboardService, error) {
	if _, err := language.Parse(cfg.Locale); err != nil {
		return nil, epidemic.NewInvalidParameterf("invalid locale %q", cfg.Locale)
	}
	if tracer == nil {
		tracer = telemetry.NewBusinessTracer()
	}
	return &DashboardService{
		cfg:    cfg,
		store:  store,
		cache:  viewCache,
		tracer: tracer,
		logger: logger,
		now:    time.Now,
	}, nil
}

// ListCountries returns the selectable countries.
func (s *DashboardService) ListCountries(ctx context.Context) (models.CountryList, error) {
	if s.cache != nil {
		if list, ok := s.cache.GetCountries(ctx); ok {
			return list, nil
		}
	}
	list, err := s.store.ListCountries(ctx)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetCountries(ctx, list)
	}
	return list, nil
}

// ResolveCountry matches name against the country list ignoring case and
// returns the stored spelling.
func (s *DashboardService) ResolveCountry(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	list, err := s.ListCountries(ctx)
	if err != nil {
		return "", err
	}
	if list.Contains(name) {
		return name, nil
	}
	for country := range list {
		if strings.EqualFold(country, name) {
			return country, nil
		}
	}
	return "", epidemic.NewNoDataForEntity(name)
}

// GetDocument returns the stored document of a selectable country.
func (s *DashboardService) GetDocument(ctx context.Context, name string) (*models.CountryDocument, error) {
	country, err := s.ResolveCountry(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.store.GetCountryDocument(ctx, country)
}

// BuildView renders the view selected by req, serving it from cache when
// possible.
func (s *DashboardService) BuildView(ctx context.Context, req ViewRequest) (*models.DashboardView, error) {
	country := req.Country
	if strings.TrimSpace(country) == "" {
		country = s.cfg.DefaultCountry
	}
	country, err := s.ResolveCountry(ctx, country)
	if err != nil {
		return nil, err
	}

	session, err := NewSession(s.cfg)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	if req.Horizon.Valid {
		session.SetHorizon(int(req.Horizon.Int64))
	}
	if err := session.SetDoublingRate(req.DoublingRate); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.TraceDashboardView(ctx, country, session.horizon)
	defer span.End()

	key := cache.ViewKey(country, session.horizon, req.DoublingRate)
	if s.cache != nil {
		if view, ok := s.cache.GetView(ctx, key); ok {
			s.tracer.RecordCacheResult(span, true)
			return view, nil
		}
		s.tracer.RecordCacheResult(span, false)
	}

	doc, err := s.store.GetCountryDocument(ctx, country)
	if err != nil {
		s.tracer.RecordError(span, err, "load document")
		return nil, err
	}
	if err := session.Load(doc); err != nil {
		s.tracer.RecordError(span, err, "load series")
		return nil, err
	}
	view, err := session.View(s.now())
	if err != nil {
		s.tracer.RecordError(span, err, "derive view")
		return nil, err
	}

	if s.cache != nil {
		s.cache.SetView(ctx, key, view)
	}
	s.logger.WithCountry(country).Debug("Dashboard view built",
		"horizon", view.Horizon, "sir", view.SIR != nil)
	return view, nil
}
