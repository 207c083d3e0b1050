package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromMap_Defaults(t *testing.T) {
	cfg, err := FromMap(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "study-progress", cfg.App.Name)
	assert.True(t, cfg.IsDevelopment())
	assert.True(t, cfg.App.Debug)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, time.UTC, cfg.Progress.Location)
	assert.Equal(t, 2*time.Second, cfg.Progress.StoreTimeout)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, []string{"*"}, cfg.HTTP.AllowedOrigins)
	assert.Empty(t, cfg.HTTP.APIKeys)

	rules := cfg.Progress.XPRules()
	assert.Equal(t, int64(10), rules.XPPerHour)
	assert.Equal(t, map[int]int64{7: 100, 30: 500}, rules.StreakMilestones)
}

func TestFromMap_Overrides(t *testing.T) {
	cfg, err := FromMap(map[string]string{
		"APP_ENV":                    "production",
		"DB_DRIVER":                  "Postgres",
		"DATABASE_URL":               "postgres://app@db/progress",
		"PROGRESS_TIMEZONE":          "UTC+5",
		"PROGRESS_STORE_TIMEOUT":     "750ms",
		"PROGRESS_STREAK_MILESTONES": "3:10,10:200",
		"HTTP_API_KEYS":              "a,b",
		"REDIS_ENABLED":              "true",
		"REDIS_EVENT_BUS":            "true",
	})
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.App.Debug)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	_, offset := time.Date(2024, 1, 1, 0, 0, 0, 0, cfg.Progress.Location).Zone()
	assert.Equal(t, 5*3600, offset)
	assert.Equal(t, 750*time.Millisecond, cfg.Progress.StoreTimeout)
	assert.Equal(t, map[int]int64{3: 10, 10: 200}, cfg.Progress.StreakMilestones)
	assert.Equal(t, []string{"a", "b"}, cfg.HTTP.APIKeys)
}

func TestFromMap_Invalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want string
	}{
		{"postgres without url", map[string]string{"DB_DRIVER": "postgres"}, "DATABASE_URL is required"},
		{"unknown driver", map[string]string{"DB_DRIVER": "mongo"}, "DB_DRIVER must be"},
		{"memory in production", map[string]string{"DB_DRIVER": "memory", "APP_ENV": "production"}, "not allowed in production"},
		{"bad timezone", map[string]string{"PROGRESS_TIMEZONE": "Mars/Olympus"}, "PROGRESS_TIMEZONE"},
		{"zero attempts", map[string]string{"PROGRESS_MAX_ATTEMPTS": "0"}, "PROGRESS_MAX_ATTEMPTS"},
		{"negative bonus", map[string]string{"PROGRESS_COMPLETION_BONUS": "-1"}, "non-negative"},
		{"bus without redis", map[string]string{"REDIS_EVENT_BUS": "true"}, "REDIS_EVENT_BUS requires"},
		{"unparsable duration", map[string]string{"PROGRESS_STORE_TIMEOUT": "soon"}, "parse env"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromMap(tt.vars)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PROGRESS_TEST_ONLY=1\nDB_DRIVER=memory\n"), 0o600))
	t.Setenv("DB_DRIVER", "sqlite")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver, "process env wins over the file")

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
