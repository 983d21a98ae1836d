package database

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/covid-pulse-go/internal/config"
	"github.com/irfndi/covid-pulse-go/internal/logging"
)

func TestPostgresDB_NilPool(t *testing.T) {
	db := &PostgresDB{}

	assert.NotPanics(t, db.Close)
	assert.Error(t, db.HealthCheck(context.Background()))
}

func TestBuildPoolConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.DatabaseConfig
		check   func(t *testing.T, cfg config.DatabaseConfig)
		wantErr string
	}{
		{
			name: "components",
			cfg: config.DatabaseConfig{
				Host: "db.local", Port: 5433, User: "pulse", Password: "secret",
				DBName: "covid_pulse", SSLMode: "disable",
				MaxOpenConns: 10, MaxIdleConns: 2,
				ConnMaxLifetime: "30m", ConnMaxIdleTime: "5m",
			},
		},
		{
			name: "database url wins",
			cfg: config.DatabaseConfig{
				Host:        "ignored",
				DatabaseURL: "postgres://u:p@url.local:6543/fromurl?sslmode=disable",
			},
		},
		{
			name:    "bad lifetime",
			cfg:     config.DatabaseConfig{Host: "h", Port: 5432, DBName: "d", SSLMode: "disable", ConnMaxLifetime: "soon"},
			wantErr: "conn_max_lifetime",
		},
		{
			name:    "bad idle time",
			cfg:     config.DatabaseConfig{Host: "h", Port: 5432, DBName: "d", SSLMode: "disable", ConnMaxIdleTime: "-"},
			wantErr: "conn_max_idle_time",
		},
		{
			name:    "bad url",
			cfg:     config.DatabaseConfig{DatabaseURL: "postgres://%zz"},
			wantErr: "failed to parse database config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			poolConfig, err := buildPoolConfig(tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)

			switch tt.name {
			case "components":
				assert.Equal(t, "db.local", poolConfig.ConnConfig.Host)
				assert.Equal(t, uint16(5433), poolConfig.ConnConfig.Port)
				assert.Equal(t, "covid_pulse", poolConfig.ConnConfig.Database)
				assert.Equal(t, int32(10), poolConfig.MaxConns)
				assert.Equal(t, int32(2), poolConfig.MinConns)
				assert.Equal(t, 30*time.Minute, poolConfig.MaxConnLifetime)
				assert.Equal(t, 5*time.Minute, poolConfig.MaxConnIdleTime)
			case "database url wins":
				assert.Equal(t, "url.local", poolConfig.ConnConfig.Host)
				assert.Equal(t, "fromurl", poolConfig.ConnConfig.Database)
			}
		})
	}
}

func TestRedisConnection(t *testing.T) {
	mr := miniredis.RunT(t)
	logger := logging.NewLogrusLogger("error")

	cfg := config.RedisConfig{Host: mr.Host(), Port: mustPort(t, mr.Port())}
	client, err := NewRedisConnection(context.Background(), cfg, logger)
	require.NoError(t, err)

	assert.NoError(t, client.HealthCheck(context.Background()))
	client.Close()
}

func TestRedisConnection_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.RedisConfig{Host: mr.Host(), Port: mustPort(t, mr.Port())}
	mr.Close()

	_, err := NewRedisConnection(context.Background(), cfg, logging.NewLogrusLogger("error"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}

func TestRedisClient_NilClient(t *testing.T) {
	client := &RedisClient{}

	assert.NotPanics(t, client.Close)
	assert.Error(t, client.HealthCheck(context.Background()))
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	for _, e := range entries {
		body, err := migrations.ReadFile("migrations/" + e.Name())
		require.NoError(t, err)
		assert.Contains(t, string(body), "-- +goose Up", e.Name())
		assert.Contains(t, string(body), "-- +goose Down", e.Name())
	}
}

func mustPort(t *testing.T, port string) int {
	t.Helper()
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return p
}
