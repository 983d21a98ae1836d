package handlers

import (
	"context"
	"sync"

	"github.com/guregu/null/v6"

	"github.com/irfndi/covid-pulse-go/internal/cache"
	"github.com/irfndi/covid-pulse-go/internal/epidemic"
	"github.com/irfndi/covid-pulse-go/internal/models"
	"github.com/irfndi/covid-pulse-go/internal/services"
)

type fakeDashboard struct {
	list    models.CountryList
	docs    map[string]*models.CountryDocument
	listErr error
	viewErr error

	mu       sync.Mutex
	requests []services.ViewRequest
}

func (f *fakeDashboard) ListCountries(context.Context) (models.CountryList, error) {
	return f.list, f.listErr
}

func (f *fakeDashboard) GetDocument(_ context.Context, country string) (*models.CountryDocument, error) {
	doc, ok := f.docs[country]
	if !ok {
		return nil, epidemic.NewNoDataForEntity(country)
	}
	return doc, nil
}

func (f *fakeDashboard) BuildView(_ context.Context, req services.ViewRequest) (*models.DashboardView, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.viewErr != nil {
		return nil, f.viewErr
	}
	if _, ok := f.docs[req.Country]; !ok {
		return nil, epidemic.NewNoDataForEntity(req.Country)
	}
	horizon := 7
	if req.Horizon.Valid {
		horizon = int(req.Horizon.Int64)
	}
	rate := null.FloatFrom(2.5)
	if req.DoublingRate.Valid {
		rate = req.DoublingRate
	}
	return &models.DashboardView{Country: req.Country, Horizon: horizon, DoublingRate: rate}, nil
}

func (f *fakeDashboard) lastRequest() services.ViewRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakeIngest struct {
	run *models.IngestRun
	err error
}

func (f *fakeIngest) RunIngest(context.Context) (*models.IngestRun, error) {
	return f.run, f.err
}

type fakeRuns struct {
	run *models.IngestRun
	err error
}

func (f *fakeRuns) LatestIngestRun(context.Context) (*models.IngestRun, error) {
	return f.run, f.err
}

type fakeChecker struct{ err error }

func (f fakeChecker) HealthCheck(context.Context) error { return f.err }

type fakeCacheStats struct{ stats cache.CacheStats }

func (f fakeCacheStats) GetStats() cache.CacheStats { return f.stats }

type fakeBreaker struct {
	state  services.CircuitBreakerState
	stats  services.CircuitBreakerStats
	resets int
}

func (f *fakeBreaker) State() services.CircuitBreakerState { return f.state }
func (f *fakeBreaker) Stats() services.CircuitBreakerStats { return f.stats }

func (f *fakeBreaker) Reset() {
	f.resets++
	f.state = services.Closed
}
