package partialz

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 5*time.Second, cfg.ScheduledDelay)
	require.Equal(t, 30*time.Second, cfg.ExporterTimeout)
	require.Equal(t, DefaultServiceName, cfg.ServiceName)
	require.NoError(t, cfg.Validate())
	require.Equal(t, "5000ms", cfg.Frequency())
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{ScheduledDelay: 250 * time.Millisecond}.WithDefaults()
	require.Equal(t, 250*time.Millisecond, cfg.ScheduledDelay)
	require.Equal(t, DefaultExporterTimeout, cfg.ExporterTimeout)
	require.Equal(t, DefaultServiceName, cfg.ServiceName)
	require.Equal(t, "250ms", cfg.Frequency())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"sub-millisecond delay", Config{ScheduledDelay: time.Microsecond, ServiceName: "svc"}},
		{"zero delay", Config{ServiceName: "svc"}},
		{"negative timeout", Config{ScheduledDelay: time.Second, ExporterTimeout: -time.Second, ServiceName: "svc"}},
		{"empty service", Config{ScheduledDelay: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
scheduled_delay: 2s
service_name: checkout
metrics_addr: ":9464"
`))
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, cfg.ScheduledDelay)
	require.Equal(t, DefaultExporterTimeout, cfg.ExporterTimeout)
	require.Equal(t, "checkout", cfg.ServiceName)
	require.Equal(t, ":9464", cfg.MetricsAddr)
	require.Equal(t, "2000ms", cfg.Frequency())
}

func TestParseConfigEmpty(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestParseConfigErrors(t *testing.T) {
	_, err := ParseConfig([]byte("scheduled_delay: [not, a, duration]"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse config")

	_, err = ParseConfig([]byte("exporter_timeout: -1s"))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partialz.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduled_delay: 100ms\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 100*time.Millisecond, cfg.ScheduledDelay)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "read config")
}
