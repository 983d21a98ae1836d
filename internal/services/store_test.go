package services

import (
	"context"
	"errors"
	"sync"

	"github.com/irfndi/covid-pulse-go/internal/epidemic"
	"github.com/irfndi/covid-pulse-go/internal/models"
)

// memoryStore keeps documents, the country list and runs in maps.
type memoryStore struct {
	mu       sync.Mutex
	docs     map[string]*models.CountryDocument
	list     models.CountryList
	runs     map[string]*models.IngestRun
	finished []*models.IngestRun
	saveErr  error
	reads    int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		docs: map[string]*models.CountryDocument{},
		list: models.CountryList{},
		runs: map[string]*models.IngestRun{},
	}
}

func (m *memoryStore) SaveCountryDocument(_ context.Context, doc *models.CountryDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.docs[doc.Country] = doc
	return nil
}

func (m *memoryStore) SaveCountryList(_ context.Context, list models.CountryList) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.list = list
	return nil
}

func (m *memoryStore) CreateIngestRun(_ context.Context, run *models.IngestRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *run
	m.runs[run.ID.String()] = &copied
	return nil
}

func (m *memoryStore) FinishIngestRun(_ context.Context, run *models.IngestRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID.String()]; !ok {
		return errors.New("unknown run")
	}
	copied := *run
	m.runs[run.ID.String()] = &copied
	m.finished = append(m.finished, &copied)
	return nil
}

func (m *memoryStore) GetCountryDocument(_ context.Context, country string) (*models.CountryDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	doc, ok := m.docs[country]
	if !ok {
		return nil, epidemic.NewNoDataForEntity(country)
	}
	return doc, nil
}

func (m *memoryStore) ListCountries(_ context.Context) (models.CountryList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(models.CountryList, len(m.list))
	for k, v := range m.list {
		out[k] = v
	}
	return out, nil
}

func (m *memoryStore) readCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// countingInvalidator records Invalidate calls.
type countingInvalidator struct {
	mu    sync.Mutex
	calls int
}

func (c *countingInvalidator) Invalidate(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return 0, nil
}
