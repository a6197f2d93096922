package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const (
	FileName  = "gh-folder-download.yaml"
	EnvPrefix = "GH_FOLDER_DOWNLOAD_"
)

// SearchPaths lists the config file locations in priority order: the
// working directory, the user config directory and the home directory.
func SearchPaths() []string {
	paths := []string{FileName}

	var userDir string
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			userDir = filepath.Join(appData, "gh-folder-download")
		}
	} else if home, err := os.UserHomeDir(); err == nil {
		userDir = filepath.Join(home, ".config", "gh-folder-download")
	}
	if userDir != "" {
		paths = append(paths, filepath.Join(userDir, FileName))
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "."+FileName))
	}
	return paths
}

// Loader assembles a Config from its sources.
type Loader struct {
	fs      afero.Fs
	paths   []string
	envFile string
	lookup  func(string) (string, bool)
	log     zerolog.Logger
}

func NewLoader(fs afero.Fs, log zerolog.Logger) *Loader {
	return &Loader{
		fs:      fs,
		paths:   SearchPaths(),
		envFile: ".env",
		lookup:  os.LookupEnv,
		log:     log.With().Str("component", "config").Logger(),
	}
}

// Load returns the effective configuration and the file it was read from,
// which is empty when only defaults and the environment apply. An explicit
// path must exist; the search paths are optional.
func (l *Loader) Load(explicit string) (Config, string, error) {
	cfg := Default()

	path, err := l.locate(explicit)
	if err != nil {
		return Config{}, "", err
	}
	if path != "" {
		if err := l.readFile(path, &cfg); err != nil {
			return Config{}, "", err
		}
		l.log.Debug().Str("path", path).Msg("loaded config file")
	}

	dotenv, err := l.readDotenv()
	if err != nil {
		return Config{}, "", err
	}
	lookup := func(key string) (string, bool) {
		if v, ok := l.lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, "", err
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, "", err
	}
	return cfg, path, nil
}

func (l *Loader) locate(explicit string) (string, error) {
	if explicit != "" {
		if _, err := l.fs.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return explicit, nil
	}
	for _, p := range l.paths {
		if ok, _ := afero.Exists(l.fs, p); ok {
			return p, nil
		}
	}
	return "", nil
}

func (l *Loader) readFile(path string, cfg *Config) error {
	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// readDotenv parses the .env file without touching the process
// environment. A missing file is not an error.
func (l *Loader) readDotenv() (map[string]string, error) {
	if l.envFile == "" {
		return nil, nil
	}
	f, err := l.fs.Open(l.envFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.envFile, err)
	}
	defer f.Close()

	vars, err := godotenv.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", l.envFile, err)
	}
	l.log.Debug().Str("path", l.envFile).Int("vars", len(vars)).Msg("loaded .env file")
	return vars, nil
}

type envBinding struct {
	name string
	set  func(c *Config, v string) error
}

var envBindings = []envBinding{
	{"GITHUB_TOKEN", func(c *Config, v string) error { c.GitHubToken = v; return nil }},
	{"MAX_CONCURRENT", intSetter(func(c *Config) *int { return &c.Download.MaxConcurrent })},
	{"TIMEOUT", intSetter(func(c *Config) *int { return &c.Download.Timeout })},
	{"MAX_RETRIES", intSetter(func(c *Config) *int { return &c.Download.MaxRetries })},
	{"VERIFY_INTEGRITY", boolSetter(func(c *Config) *bool { return &c.Download.VerifyIntegrity })},
	{"CACHE_ENABLED", boolSetter(func(c *Config) *bool { return &c.Cache.Enabled })},
	{"CACHE_DIR", func(c *Config, v string) error { c.Cache.Dir = v; return nil }},
	{"RATE_LIMIT_ENABLED", boolSetter(func(c *Config) *bool { return &c.RateLimit.Enabled })},
	{"RATE_LIMIT_BUFFER", intSetter(func(c *Config) *int { return &c.RateLimit.Buffer })},
	{"DEFAULT_OUTPUT", func(c *Config, v string) error { c.Paths.DefaultOutput = v; return nil }},
	{"SHOW_PROGRESS", boolSetter(func(c *Config) *bool { return &c.UI.ShowProgress })},
	{"VERBOSITY", func(c *Config, v string) error { c.UI.Verbosity = v; return nil }},
	{"QUIET", boolSetter(func(c *Config) *bool { return &c.UI.QuietMode })},
	{"LOG_FORMAT", func(c *Config, v string) error { c.UI.LogFormat = v; return nil }},
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.set(cfg, v); err != nil {
			return fmt.Errorf("%w: %s%s: %v", ErrInvalid, EnvPrefix, b.name, err)
		}
	}
	return nil
}

func intSetter(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolSetter(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := parseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", v)
	}
}
