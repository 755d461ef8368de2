package reposync

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfigFile(t, `
paths:
  base_dir: /var/lib/reposync
background:
  interval: 15m
  network_policy: never
commits:
  conventional: true
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/reposync", cfg.Paths.BaseDir)
	assert.Equal(t, 15*time.Minute, time.Duration(cfg.Background.Interval))
	assert.Equal(t, NetworkPolicyNever, cfg.Background.NetworkPolicy)
	assert.True(t, cfg.Commits.Conventional)
	assert.IsType(t, DenyAll{}, cfg.Policy())
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfigFile(t, "{}\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Paths.BaseDir)
	assert.Equal(t, 30*time.Minute, time.Duration(cfg.Background.Interval))
	assert.Equal(t, NetworkPolicyAlways, cfg.Background.NetworkPolicy)
	assert.False(t, cfg.Commits.Conventional)
	assert.IsType(t, AllowAll{}, cfg.Policy())
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("REPOSYNC_TEST_DIR", "/data/repos")
	path := writeConfigFile(t, `
paths:
  base_dir: ${REPOSYNC_TEST_DIR}/clones
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/repos/clones", cfg.Paths.BaseDir)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errPart string
	}{
		{
			name:    "malformed yaml",
			content: "paths: [",
			errPart: "failed to parse",
		},
		{
			name:    "unknown network policy",
			content: "background:\n  network_policy: sometimes\n",
			errPart: "unknown network policy",
		},
		{
			name:    "interval below minimum",
			content: "background:\n  interval: 10s\n",
			errPart: "below the 1m minimum",
		},
		{
			name:    "invalid duration",
			content: "background:\n  interval: soon\n",
			errPart: "invalid duration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfigFile(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errPart)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read")
}
