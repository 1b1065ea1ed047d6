package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestDefaultsProduceValidConfig(t *testing.T) {
	cfg, err := NewConfigFromViper(newTestViper())
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Engine.MaxIterations)
	assert.Equal(t, 3, cfg.Engine.QuickMaxIterations)
	assert.Equal(t, 3, cfg.Engine.VisualIterationCap)
	assert.Equal(t, 1500*time.Millisecond, cfg.Engine.SettleDelay)
	assert.Equal(t, "converge-var", cfg.Engine.KeyPrefix)
	assert.Equal(t, ProviderGemini, cfg.LLM.Provider)
	assert.True(t, cfg.Browser.Headless)
}

func TestValidateRejectsBadValues(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*viper.Viper)
		wantErr string
	}{
		{
			name:    "zero max iterations",
			mutate:  func(v *viper.Viper) { v.Set("engine.max_iterations", 0) },
			wantErr: "engine.max_iterations",
		},
		{
			name:    "zero visual cap",
			mutate:  func(v *viper.Viper) { v.Set("engine.visual_iteration_cap", 0) },
			wantErr: "engine.visual_iteration_cap",
		},
		{
			name:    "empty key prefix",
			mutate:  func(v *viper.Viper) { v.Set("engine.key_prefix", "") },
			wantErr: "engine.key_prefix",
		},
		{
			name:    "unknown provider",
			mutate:  func(v *viper.Viper) { v.Set("llm.provider", "mystery") },
			wantErr: "llm.provider",
		},
		{
			name:    "unknown report format",
			mutate:  func(v *viper.Viper) { v.Set("report.formats", []string{"pdf"}) },
			wantErr: "report format",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := newTestViper()
			tc.mutate(v)
			_, err := NewConfigFromViper(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
engine:
  max_iterations: 7
  settle_delay: 500ms
llm:
  fast:
    model: gemini-2.0-flash-lite
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Engine.MaxIterations)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.SettleDelay)
	assert.Equal(t, "gemini-2.0-flash-lite", cfg.LLM.Fast.Model)
	// Untouched keys keep their defaults.
	assert.Equal(t, 3, cfg.Engine.VisualIterationCap)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Engine.MaxIterations)
}
