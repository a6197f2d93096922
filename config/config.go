// Package config loads the settings of gh-folder-download from a YAML
// file, a .env file and the environment, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/gkatanacio/gh-folder-download/filter"
	"github.com/gkatanacio/gh-folder-download/github"
)

var ErrInvalid = errors.New("invalid configuration")

// Config is the complete configuration of a run.
type Config struct {
	GitHubToken string          `yaml:"github_token,omitempty" validate:"omitempty,ghtoken"`
	Download    DownloadConfig  `yaml:"download"`
	Cache       CacheConfig     `yaml:"cache"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Filters     filter.Rules    `yaml:"filters"`
	Paths       PathsConfig     `yaml:"paths"`
	UI          UIConfig        `yaml:"ui"`
}

type DownloadConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" validate:"min=1,max=20"`
	// Timeout is the per-attempt transfer timeout in seconds.
	Timeout   int `yaml:"timeout" validate:"min=5,max=300"`
	ChunkSize int `yaml:"chunk_size" validate:"min=1024,max=65536"`
	// MaxRetries is the number of attempts per file transfer.
	MaxRetries int `yaml:"max_retries" validate:"min=1,max=10"`
	// RetryDelay is the base backoff delay in seconds.
	RetryDelay      float64 `yaml:"retry_delay" validate:"gte=0.1,lte=30"`
	VerifyIntegrity bool    `yaml:"verify_integrity"`
}

func (d DownloadConfig) TimeoutDuration() time.Duration {
	return time.Duration(d.Timeout) * time.Second
}

func (d DownloadConfig) RetryDelayDuration() time.Duration {
	return time.Duration(d.RetryDelay * float64(time.Second))
}

type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	// Dir defaults to ~/.gh-folder-download/cache.
	Dir         string `yaml:"dir,omitempty"`
	MaxAgeDays  int    `yaml:"max_age_days" validate:"min=1,max=365"`
	AutoCleanup bool   `yaml:"auto_cleanup"`
}

type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
	Buffer  int  `yaml:"buffer" validate:"min=10,max=1000"`
}

type PathsConfig struct {
	DefaultOutput string `yaml:"default_output" validate:"required"`
}

type UIConfig struct {
	ShowProgress bool   `yaml:"show_progress"`
	Verbosity    string `yaml:"verbosity" validate:"oneof=debug info warn warning error"`
	QuietMode    bool   `yaml:"quiet_mode"`
	LogFormat    string `yaml:"log_format" validate:"oneof=console json"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Download: DownloadConfig{
			MaxConcurrent:   5,
			Timeout:         30,
			ChunkSize:       8192,
			MaxRetries:      5,
			RetryDelay:      2.0,
			VerifyIntegrity: true,
		},
		Cache: CacheConfig{
			Enabled:     true,
			MaxAgeDays:  30,
			AutoCleanup: true,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Buffer:  100,
		},
		Paths: PathsConfig{DefaultOutput: "."},
		UI: UIConfig{
			ShowProgress: true,
			Verbosity:    "info",
			LogFormat:    "console",
		},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// report yaml keys rather than Go field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("ghtoken", func(fl validator.FieldLevel) bool {
		return github.ValidTokenFormat(fl.Field().String())
	})
	return v
}

// Normalize trims and lower-cases free-form values before validation.
func (c *Config) Normalize() {
	c.GitHubToken = strings.TrimSpace(c.GitHubToken)
	c.UI.Verbosity = strings.ToLower(strings.TrimSpace(c.UI.Verbosity))
	c.UI.LogFormat = strings.ToLower(strings.TrimSpace(c.UI.LogFormat))
}

// Validate checks every range and format constraint, including that the
// filter rules compile.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, describe(fe))
		}
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
	}
	if _, err := filter.New(c.Filters, zerolog.Nop()); err != nil {
		return fmt.Errorf("%w: filters: %v", ErrInvalid, err)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "ghtoken":
		return fmt.Sprintf("%s has an invalid format (expected ghp_..., github_pat_... or a 40-char hex token)", field)
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.GitHubToken != "" {
		c.GitHubToken = maskToken(c.GitHubToken)
	}
	return c
}

func maskToken(t string) string {
	if len(t) <= 8 {
		return strings.Repeat("*", len(t))
	}
	return t[:4] + strings.Repeat("*", len(t)-8) + t[len(t)-4:]
}
