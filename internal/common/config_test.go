package common

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "investx.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromFiles_Defaults(t *testing.T) {
	config, err := LoadFromFiles()
	require.NoError(t, err)
	assert.Equal(t, "badger", config.Storage.Type)
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, 30*time.Second, Duration(config.Sandbox.Timeout, 0))
	assert.Equal(t, 4, config.Export.Workers)
}

func TestLoadFromFiles_LaterFilesOverride(t *testing.T) {
	first := writeConfig(t, `
[server]
port = 9000

[storage]
type = "sqlite"
`)
	second := writeConfig(t, `
[server]
port = 9100

[sandbox]
timeout = "5s"
max_steps = 1000
`)

	config, err := LoadFromFiles(first, second)
	require.NoError(t, err)
	assert.Equal(t, 9100, config.Server.Port)
	assert.Equal(t, "sqlite", config.Storage.Type)
	assert.Equal(t, "5s", config.Sandbox.Timeout)
	assert.Equal(t, uint64(1000), config.Sandbox.MaxSteps)
	// Untouched sections keep defaults
	assert.Equal(t, "US", config.EODHD.Exchange)
}

func TestLoadFromFiles_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "[server]\nport = 9000\n")
	t.Setenv("INVESTX_SERVER_PORT", "9300")
	t.Setenv("EODHD_API_KEY", "demo")
	t.Setenv("INVESTX_LOG_OUTPUT", "stdout, file")

	config, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9300, config.Server.Port)
	assert.Equal(t, "demo", config.EODHD.APIKey)
	assert.Equal(t, []string{"stdout", "file"}, config.Logging.Output)

	ApplyFlagOverrides(config, 9400, "")
	assert.Equal(t, 9400, config.Server.Port)
	assert.Equal(t, "localhost", config.Server.Host)
}

func TestLoadFromFiles_Errors(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = LoadFromFiles(writeConfig(t, "[server\nport="))
	assert.Error(t, err)

	_, err = LoadFromFiles(writeConfig(t, "[storage]\ntype = \"mongo\"\n"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unsupported storage type"))

	_, err = LoadFromFiles(writeConfig(t, "[sandbox]\ntimeout = \"soon\"\n"))
	assert.Error(t, err)
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		schedule string
		wantErr  bool
	}{
		{"0 */6 * * *", false},
		{"*/5 * * * *", false},
		{"*/2 * * * *", true},
		{"* * * * *", true},
		{"0 0 * *", true},
		{"not a cron", true},
	}
	for _, tt := range tests {
		t.Run(tt.schedule, func(t *testing.T) {
			err := ValidateSchedule(tt.schedule)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("bogus", time.Minute))
	assert.Equal(t, time.Minute, Duration("-1s", time.Minute))
	assert.Equal(t, 2*time.Second, Duration("2s", time.Minute))
}

func TestDeepCloneConfig(t *testing.T) {
	config := NewDefaultConfig()
	clone := DeepCloneConfig(config)
	clone.Logging.Output[0] = "file"
	assert.Equal(t, "stdout", config.Logging.Output[0])
	assert.Nil(t, DeepCloneConfig(nil))
}

func TestNewIDs(t *testing.T) {
	a, b := NewChartID(), NewChartID()
	assert.True(t, strings.HasPrefix(a, "chart_"))
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(NewExportID(), "export_"))
}
