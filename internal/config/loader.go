package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// flagKeys maps CLI flag names to config keys. Flags not listed here are
// command-local and never reach the config.
var flagKeys = map[string]string{
	"project":      "project_id",
	"location":     "location",
	"dataset":      "dataset",
	"bucket":       "bucket",
	"retries":      "workflow.retries",
	"retry-delay":  "workflow.retry_delay",
	"max-parallel": "workflow.max_parallel",
	"timeout":      "workflow.timeout",
	"audit":        "audit.enabled",
	"preflight":    "preflight",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"addr":         "server.addr",
	"queue-size":   "server.queue_size",
	"workers":      "server.workers",
}

// Loaded is a resolved configuration together with the file it was read from.
type Loaded struct {
	*Config
	File string
}

// findConfigFile returns the explicit path, or the default file name if it
// exists in the working directory.
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat(DefaultConfigFileName); err == nil {
		return DefaultConfigFileName
	}
	return ""
}

// envKey transforms WALMART_WORKFLOW__RETRIES into workflow.retries.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// Load resolves configuration from defaults, the YAML file, environment
// variables and flags. Precedence (highest to lowest): flags > env > file > defaults.
func Load(cfgFile string, flags *pflag.FlagSet) (*Loaded, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	used := findConfigFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	// 3. Environment (WALMART_ prefix, __ separates nested keys)
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags, only the ones explicitly set
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Loaded{Config: &cfg, File: used}, nil
}

// RegisterFlags adds the persistent flags understood by Load.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("project", "", "GCP project ID")
	fs.String("location", "", "BigQuery location")
	fs.String("dataset", "", "BigQuery dataset ID")
	fs.String("bucket", "", "GCS bucket holding the source files")
	fs.Int("retries", DefaultRetries, "Retries per task")
	fs.Duration("retry-delay", DefaultRetryDelay, "Delay between task retries")
	fs.Int("max-parallel", DefaultMaxParallel, "Maximum tasks running at once")
	fs.Duration("timeout", DefaultTimeout, "Timeout for a whole run (0 disables)")
	fs.Bool("audit", false, "Record runs in the ingestion_runs table")
	fs.Bool("preflight", true, "Check source objects exist before loading")
	fs.String("log-level", DefaultLogLevel, "Log level (debug|info|warn|error)")
	fs.String("log-format", DefaultLogFormat, "Log format (console|json)")
}
