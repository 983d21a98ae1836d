package cache

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/guregu/null/v6"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/covid-pulse-go/internal/logging"
	"github.com/irfndi/covid-pulse-go/internal/models"
)

func newTestCache(t *testing.T, ttl time.Duration) (*DashboardCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewDashboardCache(client, ttl, logging.NewStandardLoggerWithWriter(io.Discard, "debug", "")), mr
}

func TestViewKey(t *testing.T) {
	tests := []struct {
		name    string
		country string
		horizon int
		rate    null.Float
		want    string
	}{
		{"default rate", "Germany", 7, null.Float{}, "dashboard:view:germany:7:default"},
		{"override", "Germany", 30, null.FloatFrom(2.5), "dashboard:view:germany:30:2.5"},
		{"zero horizon", "US", 0, null.Float{}, "dashboard:view:us:0:default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ViewKey(tt.country, tt.horizon, tt.rate))
		})
	}
}

func TestDashboardCache_View(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()
	key := ViewKey("Germany", 7, null.Float{})

	_, ok := c.GetView(ctx, key)
	assert.False(t, ok)

	view := &models.DashboardView{
		Country:      "Germany",
		Horizon:      7,
		DoublingRate: null.FloatFrom(4.2),
		Dates:        []string{"2020-03-01", "2020-03-02"},
		Active:       []null.Int{null.IntFrom(10), null.IntFrom(12)},
	}
	c.SetView(ctx, key, view)

	got, ok := c.GetView(ctx, key)
	require.True(t, ok)
	assert.Equal(t, view.Country, got.Country)
	assert.Equal(t, view.Active, got.Active)
	assert.Equal(t, 4.2, got.DoublingRate.Float64)

	assert.Equal(t, time.Minute, mr.TTL(key))

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.InDelta(t, 0.5, stats.HitRate(), 1e-9)
}

func TestDashboardCache_Expiry(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	c.SetCountries(ctx, models.CountryList{"Italy": {Flag: "it.png", Population: 60359546}})
	_, ok := c.GetCountries(ctx)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)
	_, ok = c.GetCountries(ctx)
	assert.False(t, ok)
}

func TestDashboardCache_CorruptEntryIsMiss(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	key := ViewKey("Chile", 7, null.Float{})
	require.NoError(t, mr.Set(key, "{not json"))

	_, ok := c.GetView(context.Background(), key)
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.GetStats().Misses)
}

func TestDashboardCache_Invalidate(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	c.SetView(ctx, ViewKey("Germany", 7, null.Float{}), &models.DashboardView{Country: "Germany"})
	c.SetView(ctx, ViewKey("Italy", 14, null.FloatFrom(3)), &models.DashboardView{Country: "Italy"})
	c.SetCountries(ctx, models.CountryList{"Germany": {}})
	require.NoError(t, mr.Set("unrelated", "keep"))

	removed, err := c.Invalidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.True(t, mr.Exists("unrelated"))

	_, ok := c.GetCountries(ctx)
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.GetStats().Invalidations)
}

func TestDashboardCache_InvalidateLogsEvent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	var buf bytes.Buffer
	c := NewDashboardCache(client, time.Minute, logging.NewStandardLoggerWithWriter(&buf, "info", ""))
	ctx := context.Background()

	c.SetView(ctx, ViewKey("Germany", 7, null.Float{}), &models.DashboardView{Country: "Germany"})
	_, err := c.Invalidate(ctx)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"event_type":"dashboards_invalidated"`)
	assert.Contains(t, out, `"keys_removed":1`)
}

func TestDashboardCache_RedisDown(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	mr.Close()
	ctx := context.Background()

	c.SetView(ctx, "k", &models.DashboardView{})
	_, ok := c.GetView(ctx, "k")
	assert.False(t, ok)

	_, err := c.Invalidate(ctx)
	assert.Error(t, err)
	assert.Equal(t, int64(0), c.GetStats().Sets)
}

func TestCacheStats_HitRateEmpty(t *testing.T) {
	assert.Zero(t, CacheStats{}.HitRate())
}
