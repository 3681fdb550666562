package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/loopsched/internal/target"
)

func TestLoad_MissingFileIsZeroConfig(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Config{}, cfg)
	assert.Equal(t, target.DefaultNVGPU(), cfg.Target())
	assert.Equal(t, 4, cfg.WorkersOr(4))
	assert.Equal(t, 10, cfg.MaxStatesOr(10))

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Config{}, cfg)
}

func TestLoad_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
target: sm80
max_threads: 512
rules: [auto_bind]
workers: 2
store_path: /tmp/loopsched.db
log_level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, target.Target{Name: "sm80", MaxThreads: 512, MaxBlocks: target.DefaultMaxBlocks}, cfg.Target())
	assert.Equal(t, []string{"auto_bind"}, cfg.Rules)
	assert.Equal(t, 2, cfg.WorkersOr(4))
	assert.Equal(t, 1024, cfg.MaxStatesOr(1024), "unset keeps the default")
	assert.Equal(t, "/tmp/loopsched.db", cfg.StorePath)

	lvl, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}

func TestParse_ZeroIsNotUnset(t *testing.T) {
	_, err := Parse([]byte("workers: 0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workers must be positive")
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"unknown key", "colour: blue\n", "parse config"},
		{"bad threads", "max_threads: -1\n", "max_threads must be positive"},
		{"bad states", "max_states: 0\n", "max_states must be positive"},
		{"bad level", "log_level: loud\n", `unknown log_level "loud"`},
		{"not yaml", "workers: [\n", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	lvl, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)
}
