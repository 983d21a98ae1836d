// Package jhu fetches the JHU CSSE COVID-19 tables and the population table
// the ingest pipeline reads.
package jhu

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/covid-pulse-go/internal/config"
	"github.com/irfndi/covid-pulse-go/internal/epidemic"
	"github.com/irfndi/covid-pulse-go/internal/models"
)

// SeriesKind selects one of the global time-series tables.
type SeriesKind string

const (
	Confirmed SeriesKind = "confirmed"
	Deaths    SeriesKind = "deaths"
	Recovered SeriesKind = "recovered"
)

// maxBodyBytes bounds a single download.
const maxBodyBytes = 64 << 20

// Client represents the upstream HTTP client
type Client struct {
	HTTPClient    *http.Client
	TimeSeriesURL string
	LatestURL     string
	WorldDataURL  string
	logger        *logrus.Logger
}

// NewClient creates a new upstream client instance
func NewClient(cfg *config.SourceConfig, logger *logrus.Logger) *Client {
	timeout := cfg.GetTimeout()
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Client{
		HTTPClient:    &http.Client{Timeout: timeout},
		TimeSeriesURL: strings.TrimSuffix(cfg.TimeSeriesURL, "/"),
		LatestURL:     cfg.LatestURL,
		WorldDataURL:  cfg.WorldDataURL,
		logger:        logger,
	}
}

// TimeSeriesURLFor returns the location of the global table of kind.
func (c *Client) TimeSeriesURLFor(kind SeriesKind) string {
	return fmt.Sprintf("%s/time_series_covid19_%s_global.csv", c.TimeSeriesURL, kind)
}

// FetchTimeSeries downloads and parses one global time-series table.
func (c *Client) FetchTimeSeries(ctx context.Context, kind SeriesKind) (*epidemic.Table, error) {
	switch kind {
	case Confirmed, Deaths, Recovered:
	default:
		return nil, fmt.Errorf("unknown series kind %q", kind)
	}

	body, err := c.download(ctx, c.TimeSeriesURLFor(kind))
	if err != nil {
		return nil, err
	}
	table, err := epidemic.ParseTimeSeriesTable(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s table: %w", kind, err)
	}
	if table.Dropped > 0 {
		c.logger.WithFields(logrus.Fields{"kind": kind, "dropped": table.Dropped}).Warn("Dropped malformed time-series rows")
	}
	return table, nil
}

// FetchLatest downloads and parses the per-country latest counts.
func (c *Client) FetchLatest(ctx context.Context) (*epidemic.LatestTable, error) {
	body, err := c.download(ctx, c.LatestURL)
	if err != nil {
		return nil, err
	}
	table, err := epidemic.ParseLatestTable(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("latest table: %w", err)
	}
	return table, nil
}

// FetchWorldData downloads the population table. Without a configured URL
// it returns no rows and populations stay unknown.
func (c *Client) FetchWorldData(ctx context.Context) ([]models.WorldData, error) {
	if c.WorldDataURL == "" {
		return nil, nil
	}
	body, err := c.download(ctx, c.WorldDataURL)
	if err != nil {
		return nil, err
	}
	rows, dropped, err := ParseWorldData(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		c.logger.WithField("dropped", dropped).Warn("Dropped malformed world data rows")
	}
	return rows, nil
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/csv, text/plain")
	req.Header.Set("User-Agent", "Covid-Pulse-Go/1.0")

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.WithError(err).Warn("Error closing response body")
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("upstream error (%d) for %s: %s", resp.StatusCode, url, snippet(body))
	}

	c.logger.WithFields(logrus.Fields{
		"url":         url,
		"bytes":       len(body),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Fetched upstream table")
	return body, nil
}

func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
