package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sage.json")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.Model.Model)
	assert.Equal(t, 30, cfg.Session.RetentionDays)
	// Derived paths are filled in even without a file.
	assert.NotEmpty(t, cfg.Session.DBPath)
	assert.NotEmpty(t, cfg.Logging.File)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sage.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"slack": {"bot_token": "xoxb-abc", "signing_secret": "s3cret"},
		"model": {"model": "gpt-4.1"},
		"session": {"retention_days": 7},
		"data_dir": "`+dir+`"
	}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "xoxb-abc", cfg.Slack.BotToken)
	assert.Equal(t, "gpt-4.1", cfg.Model.Model)
	assert.Equal(t, 7, cfg.Session.RetentionDays)
	// Untouched fields keep their defaults.
	assert.Equal(t, 20, cfg.Session.HistoryLimit)
	assert.Equal(t, filepath.Join(dir, "sessions.db"), cfg.Session.DBPath)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sage.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sage.json")
	loader := NewLoader(path)

	cfg := DefaultConfig()
	cfg.Slack.BotToken = "xoxb-roundtrip"
	cfg.AI.Profiles = []AIProfile{{ID: "p1", Provider: "anthropic", APIKey: "key", Priority: 1}}

	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "xoxb-roundtrip", loaded.Slack.BotToken)
	require.Len(t, loaded.AI.Profiles, 1)
	assert.Equal(t, "anthropic", loaded.AI.Profiles[0].Provider)
}

func TestGetConfigPathExplicit(t *testing.T) {
	loader := NewLoader("/tmp/custom.json")
	assert.Equal(t, "/tmp/custom.json", loader.GetConfigPath())
}
