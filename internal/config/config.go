package config

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/kelseyhightower/envconfig"
)

const (
	// AppName names the environment prefix and the XDG config directory.
	AppName = "searchveil"

	// DefaultUserAgent is sent upstream. The text-browser identity gets the
	// lightweight result markup the rewrite stages are written against.
	DefaultUserAgent = "Lynx/2.9.2 libwww-FM/2.14 SSL-MM/1.4.1 OpenSSL/3.4.0"
)

// Config holds all service configuration.
type Config struct {
	Listen  string `default:":5000"`
	RootURL string `split_words:"true"`

	UpstreamURL     string        `split_words:"true" default:"https://www.google.com/search"`
	UserAgent       string        `split_words:"true" default:"Lynx/2.9.2 libwww-FM/2.14 SSL-MM/1.4.1 OpenSSL/3.4.0"`
	UpstreamTimeout time.Duration `split_words:"true" default:"20s"`
	MaxBodyBytes    int64         `split_words:"true" default:"10485760"`

	// Browser renders anonymous-view pages in headless Chrome.
	Browser        bool          `default:"false"`
	BrowserTimeout time.Duration `split_words:"true" default:"25s"`

	SessionTTL time.Duration `split_words:"true" default:"168h"`
	Vocabulary string

	PreferencesKey       string `split_words:"true"`
	PreferencesEncrypted bool   `split_words:"true"`

	LogLevel string `split_words:"true" default:"info"`
	LogDev   bool   `split_words:"true"`

	Defaults Settings `envconfig:"CONFIG"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(AppName, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when the environment is empty.
func Default() *Config {
	return &Config{
		Listen:          ":5000",
		UpstreamURL:     "https://www.google.com/search",
		UserAgent:       DefaultUserAgent,
		UpstreamTimeout: 20 * time.Second,
		MaxBodyBytes:    10 << 20,
		BrowserTimeout:  25 * time.Second,
		SessionTTL:      7 * 24 * time.Hour,
		LogLevel:        "info",
		Defaults:        DefaultSettings(),
	}
}

// Validate checks the configuration. Failures wrap ErrInvalid.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Listen, validation.Required),
		validation.Field(&c.RootURL, is.URL),
		validation.Field(&c.UpstreamURL, validation.Required, is.URL),
		validation.Field(&c.UserAgent, validation.Required),
		validation.Field(&c.UpstreamTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.MaxBodyBytes, validation.Required, validation.Min(int64(1024))),
		validation.Field(&c.BrowserTimeout, validation.When(c.Browser, validation.Required, validation.Min(time.Second))),
		validation.Field(&c.SessionTTL, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.PreferencesKey,
			validation.When(c.PreferencesEncrypted, validation.Required.Error("is required when preferences are encrypted"))),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Defaults),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}
