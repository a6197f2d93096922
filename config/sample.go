package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

var ErrFileExists = errors.New("config file already exists")

const sample = `# gh-folder-download configuration
# Every option is shown with its default value.

# GitHub authentication
# github_token: "ghp_..."

download:
  max_concurrent: 5         # parallel downloads (1-20)
  timeout: 30               # per-attempt timeout in seconds (5-300)
  chunk_size: 8192          # read size in bytes (1024-65536)
  max_retries: 5            # attempts per file (1-10)
  retry_delay: 2.0          # base retry delay in seconds (0.1-30.0)
  verify_integrity: true    # check size and content after download

cache:
  enabled: true
  # dir: ~/.gh-folder-download/cache
  max_age_days: 30          # entries older than this are removed (1-365)
  auto_cleanup: true        # clean old entries on startup

rate_limit:
  enabled: true             # pace API calls against the remaining quota
  buffer: 100               # requests kept in reserve (10-1000)

filters:
  # include_extensions: [".go", ".md"]
  # exclude_extensions: [".log", ".tmp"]
  # include_patterns: ["src/**", "docs/**"]
  # exclude_patterns: ["**/testdata/**", "**/*.pyc"]
  # min_size: 1KB
  # max_size: 10MB
  exclude_binary: false
  exclude_large_files: false  # skip files over 10MB

paths:
  default_output: "."

ui:
  show_progress: true
  verbosity: info           # debug, info, warn or error
  quiet_mode: false
  log_format: console       # console or json
`

// WriteSample writes a commented configuration file with every default.
func WriteSample(fs afero.Fs, path string, force bool) error {
	if !force {
		if ok, _ := afero.Exists(fs, path); ok {
			return fmt.Errorf("%w: %s (use --force to overwrite)", ErrFileExists, path)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return afero.WriteFile(fs, path, []byte(sample), 0o644)
}

// Marshal renders cfg as YAML with the token masked.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg.Redacted())
}
