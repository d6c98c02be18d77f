package config

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"searchveil/prefs"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SEARCHVEIL_LISTEN", "127.0.0.1:8080")
	t.Setenv("SEARCHVEIL_ROOT_URL", "https://veil.example")
	t.Setenv("SEARCHVEIL_UPSTREAM_TIMEOUT", "5s")
	t.Setenv("SEARCHVEIL_PREFERENCES_KEY", "secret")
	t.Setenv("SEARCHVEIL_PREFERENCES_ENCRYPTED", "true")
	t.Setenv("SEARCHVEIL_CONFIG_THEME", "dark")
	t.Setenv("SEARCHVEIL_CONFIG_BLOCK_TITLE", "(?i)spam")
	t.Setenv("SEARCHVEIL_CONFIG_NEW_TAB", "true")
	t.Setenv("SEARCHVEIL_CONFIG_NOJS", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "https://veil.example", cfg.RootURL)
	assert.Equal(t, 5*time.Second, cfg.UpstreamTimeout)
	assert.True(t, cfg.PreferencesEncrypted)
	assert.Equal(t, "dark", cfg.Defaults.Theme)
	assert.Equal(t, "(?i)spam", cfg.Defaults.BlockTitle)
	assert.True(t, cfg.Defaults.NewTab)
	assert.True(t, cfg.Defaults.NoJS)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing listen", func(c *Config) { c.Listen = "" }},
		{"bad root url", func(c *Config) { c.RootURL = "not a url" }},
		{"short timeout", func(c *Config) { c.UpstreamTimeout = time.Millisecond }},
		{"encrypted without key", func(c *Config) { c.PreferencesEncrypted = true }},
		{"unknown theme", func(c *Config) { c.Defaults.Theme = "neon" }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid), err)
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestSettingsPreferences(t *testing.T) {
	t.Parallel()

	s := DefaultSettings()
	s.Theme = "dark"
	s.NewTab = true
	p := s.Preferences()
	assert.Equal(t, prefs.Settings{"theme": "dark", "safe": false, "new_tab": true, "ai_sidebar": false}, p)

	codec := prefs.NewCodec("", false)
	tok, err := codec.Encode(p)
	require.NoError(t, err)
	restored := DefaultSettings().WithPreferences(codec.Decode(tok))
	assert.Equal(t, "dark", restored.Theme)
	assert.True(t, restored.NewTab)

	ignored := DefaultSettings().WithPreferences(prefs.Settings{"theme": "neon", "safe": "maybe"})
	assert.Equal(t, DefaultSettings(), ignored)
	assert.True(t, DefaultSettings().WithPreferences(prefs.Settings{"safe": 1}).Safe)
}

func TestSettingsFromForm(t *testing.T) {
	t.Parallel()

	base := DefaultSettings()
	base.Alts = true
	form := url.Values{
		"theme":     {"light"},
		"block":     {" pinterest.com "},
		"new_tab":   {"on"},
		"favicons":  {"true"},
		"anon_view": {""},
	}
	s := base.FromForm(form)
	assert.Equal(t, "light", s.Theme)
	assert.Equal(t, "pinterest.com", s.Block)
	assert.True(t, s.NewTab)
	assert.True(t, s.Favicons)
	assert.False(t, s.AnonView)
	assert.False(t, s.Alts)

	uc := s.Rewrite("uTOKEN")
	assert.Equal(t, "pinterest.com", uc.Block)
	assert.True(t, uc.NewTab)
	assert.Equal(t, "uTOKEN", uc.Preferences)
}

func TestFindVocabulary(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, VocabularyFile)
	require.NoError(t, os.WriteFile(path, []byte("result_child_limit: 4\n"), 0o600))

	got, err := FindVocabulary(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = FindVocabulary(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, ErrVocabularyNotFound)

	v, from, err := LoadVocabulary(path)
	require.NoError(t, err)
	assert.Equal(t, path, from)
	assert.Equal(t, 4, v.ResultChildLimit)
}

func TestLoadVocabularyRejectsBadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), VocabularyFile)
	require.NoError(t, os.WriteFile(path, []byte("result_child_limit: -1\n"), 0o600))
	_, _, err := LoadVocabulary(path)
	assert.Error(t, err)
}
