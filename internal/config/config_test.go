package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoad_NormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9090"
host: calendar.example.org
horizon_days: -3
backfill_days: -1
store:
  driver: SQLite
  path: /tmp/schedcal.db
basic_auth:
  username: admin
  password: secret
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "calendar.example.org", cfg.Host)
	assert.Equal(t, 30, cfg.HorizonDays)
	assert.Equal(t, 0, cfg.BackfillDays)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, 366, cfg.MaxHorizonDays)
	assert.Equal(t, 5000, cfg.MaxOccurrencesPerSchedule)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "/tmp/schedcal.db", cfg.Store.Path)
	assert.Equal(t, "", cfg.Store.Refresh)
	require.NotNil(t, cfg.BasicAuth)
	assert.Equal(t, "admin", cfg.BasicAuth.Username)
}

func TestNormalize_UnknownDriver(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Driver: "postgres"}}
	cfg.Normalize()

	assert.Equal(t, DriverYAML, cfg.Store.Driver)
}

func TestNormalize_ClampsToMaxHorizon(t *testing.T) {
	cfg := &Config{HorizonDays: 90, BackfillDays: 45, MaxHorizonDays: 30, MaxOccurrencesPerSchedule: 200}
	cfg.Normalize()

	assert.Equal(t, 30, cfg.HorizonDays)
	assert.Equal(t, 30, cfg.BackfillDays)
	assert.Equal(t, 30, cfg.MaxHorizonDays)
	assert.Equal(t, 200, cfg.MaxOccurrencesPerSchedule)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unclosed"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)

	assert.Error(t, Save(path, nil))
}
