package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeScenario(t, `
readers: 16
writers: 4
duration: 2s
read_hold: 150us
write_hold: 1ms
max_readers: 32
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 16, cfg.Readers)
	require.Equal(t, 4, cfg.Writers)
	require.Equal(t, 2*time.Second, time.Duration(cfg.Duration))
	require.Equal(t, 150*time.Microsecond, time.Duration(cfg.ReadHold))
	require.Equal(t, time.Millisecond, time.Duration(cfg.WriteHold))
	require.EqualValues(t, 32, cfg.MaxReaders)
}

func TestLoadConfigPartialKeepsDefaults(t *testing.T) {
	path := writeScenario(t, "readers: 3\n")

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	def := defaultConfig()
	require.Equal(t, 3, cfg.Readers)
	require.Equal(t, def.Writers, cfg.Writers)
	require.Equal(t, def.Duration, cfg.Duration)
}

func TestLoadConfigErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		body string
	}{
		{name: "bad duration", body: "duration: fast\n"},
		{name: "unknown field", body: "raeders: 3\n"},
		{name: "no workers", body: "readers: 0\nwriters: 0\n"},
		{name: "negative workers", body: "readers: -1\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadConfig(writeScenario(t, tc.body))
			require.Error(t, err)
		})
	}
}

func TestFlagsOverrideScenario(t *testing.T) {
	flagConfigPath = writeScenario(t, "readers: 16\nwriters: 4\n")
	defer func() { flagConfigPath = "" }()

	require.NoError(t, rootCmd.Flags().Set("writers", "7"))

	cfg, err := resolveConfig(rootCmd)
	require.NoError(t, err)
	require.Equal(t, 16, cfg.Readers) // из файла
	require.Equal(t, 7, cfg.Writers)  // явный флаг сильнее файла
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
