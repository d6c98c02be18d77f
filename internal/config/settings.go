package config

import (
	"net/url"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"searchveil/prefs"
	"searchveil/rewrite"
)

// Themes lists the accepted theme names.
var Themes = []string{"system", "light", "dark"}

// Settings are the per-user options. The environment provides the defaults
// and each session keeps its own copy.
type Settings struct {
	Theme          string `json:"theme" default:"system"`
	LangInterface  string `json:"lang_interface" split_words:"true"`
	LangSearch     string `json:"lang_search" split_words:"true"`
	Country        string `json:"country"`
	Near           string `json:"near"`
	TimePeriod     string `json:"time_period" split_words:"true"`
	Block          string `json:"block"`
	BlockTitle     string `json:"block_title" split_words:"true"`
	BlockURL       string `json:"block_url" split_words:"true"`
	Safe           bool   `json:"safe"`
	NewTab         bool   `json:"new_tab" split_words:"true"`
	AnonView       bool   `json:"anon_view" split_words:"true"`
	GetOnly        bool   `json:"get_only" split_words:"true"`
	Alts           bool   `json:"alts"`
	NoJS           bool   `json:"nojs"`
	Favicons       bool   `json:"favicons"`
	Minimal        bool   `json:"minimal"`
	AISidebar      bool   `json:"ai_sidebar" split_words:"true"`
}

// DefaultSettings returns the settings used without any environment.
func DefaultSettings() Settings {
	return Settings{Theme: "system"}
}

// Validate implements validation.Validatable.
func (s Settings) Validate() error {
	themes := make([]any, len(Themes))
	for i, t := range Themes {
		themes[i] = t
	}
	return validation.ValidateStruct(&s,
		validation.Field(&s.Theme, validation.Required, validation.In(themes...)),
		validation.Field(&s.TimePeriod, validation.In("", "h", "d", "w", "m", "y")),
		validation.Field(&s.Country, validation.Length(0, 8)),
		validation.Field(&s.LangInterface, validation.Length(0, 16)),
		validation.Field(&s.LangSearch, validation.Length(0, 16)),
	)
}

// Rewrite returns the subset of s the rewrite pipeline consumes. token is
// the preference token appended to footer links, or "".
func (s Settings) Rewrite(token string) rewrite.UserConfig {
	return rewrite.UserConfig{
		Block:       s.Block,
		BlockTitle:  s.BlockTitle,
		BlockURL:    s.BlockURL,
		Alts:        s.Alts,
		NewTab:      s.NewTab,
		Favicons:    s.Favicons,
		AnonView:    s.AnonView,
		Minimal:     s.Minimal,
		GetOnly:     s.GetOnly,
		Preferences: token,
	}
}

// Preferences returns the URL-safe settings carried in preference tokens.
func (s Settings) Preferences() prefs.Settings {
	return prefs.Settings{
		"theme":      s.Theme,
		"safe":       s.Safe,
		"new_tab":    s.NewTab,
		"ai_sidebar": s.AISidebar,
	}
}

// WithPreferences returns a copy of s with the values of p applied.
// Unknown keys and values of the wrong type are ignored.
func (s Settings) WithPreferences(p prefs.Settings) Settings {
	if v, ok := p["theme"].(string); ok && validTheme(v) {
		s.Theme = v
	}
	if v, ok := prefBool(p["safe"]); ok {
		s.Safe = v
	}
	if v, ok := prefBool(p["new_tab"]); ok {
		s.NewTab = v
	}
	if v, ok := prefBool(p["ai_sidebar"]); ok {
		s.AISidebar = v
	}
	return s
}

// FromForm returns a copy of s updated from a settings form. Checkbox fields
// absent from the form are switched off.
func (s Settings) FromForm(form url.Values) Settings {
	str := func(name string, dst *string) {
		if form.Has(name) {
			*dst = strings.TrimSpace(form.Get(name))
		}
	}
	if t := form.Get("theme"); validTheme(t) {
		s.Theme = t
	}
	str("lang_interface", &s.LangInterface)
	str("lang_search", &s.LangSearch)
	str("country", &s.Country)
	str("near", &s.Near)
	str("time_period", &s.TimePeriod)
	str("block", &s.Block)
	str("block_title", &s.BlockTitle)
	str("block_url", &s.BlockURL)

	box := func(name string) bool {
		switch strings.ToLower(form.Get(name)) {
		case "on", "true", "1":
			return true
		}
		return false
	}
	s.Safe = box("safe")
	s.NewTab = box("new_tab")
	s.AnonView = box("anon_view")
	s.GetOnly = box("get_only")
	s.Alts = box("alts")
	s.NoJS = box("nojs")
	s.Favicons = box("favicons")
	s.Minimal = box("minimal")
	s.AISidebar = box("ai_sidebar")
	return s
}

func validTheme(t string) bool {
	for _, v := range Themes {
		if t == v {
			return true
		}
	}
	return false
}

func prefBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case int:
		return x != 0, true
	case string:
		switch x {
		case "on", "true", "1":
			return true, true
		case "off", "false", "0", "":
			return false, true
		}
	}
	return false, false
}
