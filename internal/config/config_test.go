package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoad_Defaults(t *testing.T) {
	v := newViper()
	v.Set("data_dir", "/srv/ledgerflow")

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "/srv/ledgerflow/ledgerflow.db", cfg.Database)
	assert.Equal(t, "/srv/ledgerflow/logs", cfg.LogDir)
	assert.Equal(t, 5*time.Minute, cfg.Tasks.LeaseTTL)
	assert.Equal(t, 30*time.Second, cfg.Tasks.Heartbeat)
	assert.Equal(t, 3, cfg.Tasks.MaxToolCalls)
	assert.Equal(t, 2, cfg.Tasks.MaxAttempts)
	assert.Equal(t, "@every 1m", cfg.Scheduler.ReconcileSpec)
	assert.Empty(t, cfg.Scheduler.AutoRunSpec)
}

func TestLoad_FromFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /data
database: /db/books.db
llm:
  base_url: http://localhost:8080/v1
  rate_limit: 120
tasks:
  lease_ttl: 2m
  heartbeat: 10s
scheduler:
  auto_run: "*/5 * * * *"
`), 0o600))

	t.Setenv("LEDGERFLOW_LLM_API_KEY", "sk-test")

	v := newViper()
	v.SetConfigFile(path)
	v.SetEnvPrefix("LEDGERFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "/db/books.db", cfg.Database)
	assert.Equal(t, "/data/logs", cfg.LogDir)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "http://localhost:8080/v1", cfg.LLM.BaseURL)
	assert.Equal(t, 120, cfg.LLM.RateLimit)
	assert.Equal(t, 2*time.Minute, cfg.Tasks.LeaseTTL)
	assert.Equal(t, 10*time.Second, cfg.Tasks.Heartbeat)
	assert.Equal(t, "*/5 * * * *", cfg.Scheduler.AutoRunSpec)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		set     map[string]any
		wantErr error
	}{
		{"empty data dir", map[string]any{"data_dir": ""}, common.ErrMissingConfig},
		{"lease shorter than heartbeat", map[string]any{"tasks.lease_ttl": "10s", "tasks.heartbeat": "30s"}, common.ErrInvalidConfig},
		{"zero heartbeat", map[string]any{"tasks.heartbeat": "0s"}, common.ErrInvalidConfig},
		{"negative tool calls", map[string]any{"tasks.max_tool_calls": -1}, common.ErrInvalidConfig},
		{"no attempts", map[string]any{"tasks.max_attempts": 0}, common.ErrInvalidConfig},
		{"bad cron", map[string]any{"scheduler.reconcile": "every minute"}, common.ErrInvalidConfig},
		{"bad log level", map[string]any{"logging.level": "loud"}, common.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper()
			v.Set("data_dir", "/srv/ledgerflow")
			for k, val := range tt.set {
				v.Set(k, val)
			}

			_, err := Load(v)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}
