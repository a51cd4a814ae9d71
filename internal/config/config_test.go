package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/impls/internal/logging"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, filepath.Join(".impls", "index.db"), cfg.DB)
	assert.Equal(t, 300*time.Millisecond, cfg.Watch.Debounce)
	assert.Contains(t, cfg.Exclude, "vendor/**")
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid default config", func(c *Config) {}, false},
		{"missing db", func(c *Config) { c.DB = "" }, true},
		{"negative parallel", func(c *Config) { c.Parallel = -1 }, true},
		{"negative debounce", func(c *Config) { c.Watch.Debounce = -time.Second }, true},
		{"bad include glob", func(c *Config) { c.Include = []string{"[unterminated"} }, true},
		{"good globs", func(c *Config) { c.Include = []string{"internal/**/*.go", "*.go"} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "impls.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db: /tmp/x.db
include: ["pkg/**"]
parallel: 4
watch:
  debounce: 1s
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.DB)
	assert.Equal(t, []string{"pkg/**"}, cfg.Include)
	assert.Equal(t, 4, cfg.Parallel)
	assert.Equal(t, time.Second, cfg.Watch.Debounce)
	// Unset keys keep their defaults.
	assert.Equal(t, filepath.Join(".impls", "rules"), cfg.RulesDir)
}

func TestLoadFromFile_Errors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("parallel: [1, 2"), 0o644))
	_, err = LoadFromFile(bad)
	assert.Error(t, err)
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Include = []string{"**/*.go"}
	cfg.BuildFlags = []string{"-tags=integration"}
	require.NoError(t, cfg.SaveToFile(path))

	got, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestMerge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Merge(&Config{RulesDir: "policy", Parallel: 2})
	assert.Equal(t, "policy", cfg.RulesDir)
	assert.Equal(t, 2, cfg.Parallel)
	assert.Equal(t, filepath.Join(".impls", "index.db"), cfg.DB, "zero values do not override")

	cfg.Merge(nil)
	assert.Equal(t, "policy", cfg.RulesDir)
}

func TestLoader_LayersUserThenProject(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	sub := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	userPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(userPath, []byte("parallel: 8\nrules_dir: user-rules\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ProjectConfigFile), []byte("rules_dir: project-rules\n"), 0o644))

	l := NewLoader(logging.NewNop())
	l.UserConfigPath = userPath
	cfg, err := l.Load(sub)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Parallel, "user layer applies")
	assert.Equal(t, "project-rules", cfg.RulesDir, "project layer wins")
	assert.Equal(t, 300*time.Millisecond, cfg.Watch.Debounce, "defaults survive both layers")
}

func TestLoader_InvalidProjectConfig(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ProjectConfigFile), []byte("parallel: -3\n"), 0o644))

	l := NewLoader(logging.NewNop())
	l.UserConfigPath = ""
	_, err := l.Load(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parallel")
}

func TestFindProjectConfig_StopsAtGitRoot(t *testing.T) {
	outer := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outer, ProjectConfigFile), []byte("db: x\n"), 0o644))
	repo := filepath.Join(outer, "repo")
	require.NoError(t, os.MkdirAll(filepath.Join(repo, ".git"), 0o755))

	assert.Empty(t, FindProjectConfig(repo))
	assert.Equal(t, filepath.Join(outer, ProjectConfigFile), FindProjectConfig(outer))
}

func TestResolve(t *testing.T) {
	assert.Equal(t, filepath.Join("/repo", ".impls", "index.db"), Resolve("/repo", filepath.Join(".impls", "index.db")))
	assert.Equal(t, "/abs.db", Resolve("/repo", "/abs.db"))
	assert.Equal(t, "", Resolve("/repo", ""))
}
