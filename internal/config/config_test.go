package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliconai/salesdesk/internal/constants"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "features.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

const minimalConfig = `
workers:
  endpoints:
    conversation: http://conversation:8080
    knowledge: http://knowledge:8080
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Service.Port)
	assert.Equal(t, "localhost:7233", cfg.Temporal.HostPort)
	assert.Equal(t, constants.TaskQueue, cfg.Temporal.TaskQueue)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Database.Enabled)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
service:
  port: 9000
temporal:
  host_port: temporal.internal:7233
  task_queue: custom-queue
redis:
  addr: redis.internal:6379
workers:
  endpoints:
    conversation: http://conversation:8080
  classifier_url: http://classifier:8080/classify
routing:
  long_turn_words: 30
`))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Service.Port)
	assert.Equal(t, "custom-queue", cfg.Temporal.TaskQueue)
	assert.Equal(t, "http://classifier:8080/classify", cfg.Workers.ClassifierURL)

	rc, err := cfg.RoutingConfig([]string{
		constants.WorkerConversation, constants.WorkerKnowledge,
		constants.WorkerDocExtract, constants.WorkerCalendar, constants.WorkerVision,
	})
	require.NoError(t, err)
	assert.Equal(t, 30, rc.LongTurnWords)
	assert.Equal(t, 4, rc.MaxWorkers)
}

func TestRoutingFileTakesPrecedence(t *testing.T) {
	tablePath := filepath.Join(t.TempDir(), "routing.yaml")
	require.NoError(t, os.WriteFile(tablePath, []byte("max_workers: 3\n"), 0o644))

	cfg, err := Load(writeConfig(t, minimalConfig+`
routing_file: `+tablePath+`
routing:
  max_workers: 2
`))
	require.NoError(t, err)

	rc, err := cfg.RoutingConfig([]string{
		constants.WorkerConversation, constants.WorkerKnowledge,
		constants.WorkerDocExtract, constants.WorkerCalendar, constants.WorkerVision,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, rc.MaxWorkers)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SALESDESK_REDIS_ADDR", "override:6379")

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	assert.Equal(t, "override:6379", cfg.Redis.Addr)
}

func TestLoadRequiresDefaultWorker(t *testing.T) {
	_, err := Load(writeConfig(t, `
workers:
  endpoints:
    knowledge: http://knowledge:8080
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), constants.DefaultWorker)
}

func TestLoadRejectsDatabaseWithoutDSN(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
database:
  enabled: true
`))
	require.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
