package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	want := &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Chart: ChartConfig{
			Width:  600,
			Height: 300,
			Color:  "#0ad",
		},
		BLE: BLEConfig{
			ConnectTimeout: 10 * time.Second,
			ScanTimeout:    5 * time.Second,
		},
	}
	assert.Equal(t, want, cfg)
	assert.NoError(t, cfg.Validate())
}

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
demo: true
chart:
  height: 120
  color: "#f00"
ble:
  connect_timeout: 3s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.True(t, cfg.Demo)
	assert.Equal(t, 600, cfg.Chart.Width)
	assert.Equal(t, 120, cfg.Chart.Height)
	assert.Equal(t, "#f00", cfg.Chart.Color)
	assert.Equal(t, 3*time.Second, cfg.BLE.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.BLE.ScanTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoadTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	cfg, err := Load(writeConfig(t, "chart:\n  snapshot_dir: ~/charts\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "charts"), cfg.Chart.SnapshotDir)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading config file")

	_, err = Load(writeConfig(t, "chart: [\n"))
	assert.ErrorContains(t, err, "parsing config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{
			name:   "log_level",
			modify: func(c *Config) { c.LogLevel = "loud" },
			want:   `log_level must be debug, info, warn, or error, got "loud"`,
		},
		{
			name:   "log_format",
			modify: func(c *Config) { c.LogFormat = "xml" },
			want:   `log_format must be "text" or "json", got "xml"`,
		},
		{
			name:   "width",
			modify: func(c *Config) { c.Chart.Width = 1 },
			want:   "chart.width must be at least 2, got 1",
		},
		{
			name:   "height",
			modify: func(c *Config) { c.Chart.Height = 10 },
			want:   "chart.height must be greater than 10, got 10",
		},
		{
			name:   "color",
			modify: func(c *Config) { c.Chart.Color = "blue" },
			want:   `chart.color must be a #rgb or #rrggbb color, got "blue"`,
		},
		{
			name:   "color_digits",
			modify: func(c *Config) { c.Chart.Color = "#0a" },
			want:   `chart.color must be a #rgb or #rrggbb color, got "#0a"`,
		},
		{
			name:   "color_hex",
			modify: func(c *Config) { c.Chart.Color = "#zzz" },
			want:   `chart.color must be a #rgb or #rrggbb color, got "#zzz"`,
		},
		{
			name:   "connect_timeout",
			modify: func(c *Config) { c.BLE.ConnectTimeout = 0 },
			want:   "ble.connect_timeout must be > 0, got 0s",
		},
		{
			name:   "scan_timeout",
			modify: func(c *Config) { c.BLE.ScanTimeout = -time.Second },
			want:   "ble.scan_timeout must be > 0, got -1s",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.modify(cfg)
			assert.EqualError(t, cfg.Validate(), test.want)
		})
	}
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseLevel("")
	assert.Error(t, err)
}
