package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/nort-backend/internal/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	return log
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("QUEUE_BACKEND", "")
	t.Setenv("GENERATION_CONFIG_FILE", "")
	t.Setenv("MAX_CHAIN_DEPTH", "")

	cfg, err := LoadConfig(testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, QueueBackendMemory, cfg.QueueBackend)
	assert.Equal(t, 6, cfg.Dispatcher.MaxChainDepth)
	assert.Equal(t, 3, cfg.Generation.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Completion.Timeout)
}

func TestLoadConfigAsynqNeedsRedis(t *testing.T) {
	t.Setenv("QUEUE_BACKEND", "asynq")
	t.Setenv("REDIS_ADDR", "")

	_, err := LoadConfig(testLogger(t))
	require.Error(t, err)
}

func TestLoadConfigRejectsUnknownBackend(t *testing.T) {
	t.Setenv("QUEUE_BACKEND", "kafka")

	_, err := LoadConfig(testLogger(t))
	require.Error(t, err)
}

func TestGenerationProfileOverridesEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "generation.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model: pygmalion-6b
temperature: 0.7
max_tokens: 256
timeout: 45s
max_retries: 0
protocol: v2
max_attempts: 5
max_chain_depth: 2
`), 0o600))
	t.Setenv("QUEUE_BACKEND", "")
	t.Setenv("COMPLETION_MODEL", "from-env")
	t.Setenv("GENERATION_CONFIG_FILE", path)

	cfg, err := LoadConfig(testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "pygmalion-6b", cfg.Completion.Model)
	assert.InDelta(t, 0.7, cfg.Completion.Temperature, 1e-9)
	assert.Equal(t, 256, cfg.Completion.MaxTokens)
	assert.Equal(t, 45*time.Second, cfg.Completion.Timeout)
	assert.Equal(t, 0, cfg.Completion.MaxRetries)
	assert.Equal(t, "v2", cfg.Generation.DefaultProtocol)
	assert.Equal(t, 5, cfg.Generation.MaxAttempts)
	assert.Equal(t, 2, cfg.Dispatcher.MaxChainDepth)
	// untouched fields keep their defaults
	assert.InDelta(t, 0.8, cfg.Completion.TopP, 1e-9)
}

func TestGenerationProfileBadTimeout(t *testing.T) {
	var cfg Config
	err := cfg.applyProfile(generationProfile{Timeout: "soon"})
	require.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"http://a", "http://b"}, splitList(" http://a, ,http://b "))
	assert.Nil(t, splitList(""))
}
