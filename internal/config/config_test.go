package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().FetchSize, cfg.FetchSize)
	assert.Equal(t, Default().AdminAddr, cfg.AdminAddr)
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
database_url: postgres://localhost/dcb
fetch_size: 250
topics:
  orders:
    publisher: kafka
    filter:
      event_types: ["OrderPlaced"]
      required_tags: ["order_id"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/dcb", cfg.DatabaseURL)
	assert.Equal(t, 250, cfg.FetchSize)
	require.Contains(t, cfg.Topics, "orders")
	assert.Equal(t, "kafka", cfg.Topics["orders"].Publisher)
	assert.Equal(t, []string{"OrderPlaced"}, cfg.Topics["orders"].Filter.EventTypes)
}

func TestEnvOverridesTakePriorityOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database_url: postgres://file/db\n"), 0o600))

	t.Setenv("DATABASE_URL", "postgres://env/db")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/db", cfg.DatabaseURL)
}

func TestEnvOverridesRejectOnDuplicateCSV(t *testing.T) {
	t.Setenv("REJECT_ON_DUPLICATE_COMMANDS", "PlaceOrder, CancelOrder ,")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"PlaceOrder", "CancelOrder"}, cfg.RejectOnDuplicate)
}

func TestBackoffDurationDefaultsFactor(t *testing.T) {
	b := Backoff{InitialMS: 100, MaxMS: 1000, Factor: 0}
	_, _, initial, max, factor := b.BackoffDuration()
	assert.Equal(t, 100*time.Millisecond, initial)
	assert.Equal(t, 1000*time.Millisecond, max)
	assert.Equal(t, 2.0, factor)
}

func TestBackoffDurationKeepsExplicitFactor(t *testing.T) {
	b := Backoff{InitialMS: 50, MaxMS: 500, Factor: 1.5}
	_, _, _, _, factor := b.BackoffDuration()
	assert.Equal(t, 1.5, factor)
}

func TestBackoffDurationCarriesEnabledAndThreshold(t *testing.T) {
	b := Backoff{Enabled: true, Threshold: 3, InitialMS: 100, MaxMS: 1000, Factor: 2}
	enabled, threshold, _, _, _ := b.BackoffDuration()
	assert.True(t, enabled)
	assert.Equal(t, 3, threshold)
}
