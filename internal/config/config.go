// Package config loads CLI settings from a YAML file, STREAMSHEET_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ukaji3/streamsheet-go/internal/logging"
	"github.com/ukaji3/streamsheet-go/pkg/streamsheet"
	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/jobs"
	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/storage"
)

// EnvPrefix prefixes environment overrides, e.g.
// STREAMSHEET_EXPORT_ROW_ACCESS_WINDOW_SIZE.
const EnvPrefix = "STREAMSHEET"

// Storage selects where uploaded workbooks go.
type Storage struct {
	// Type is "local" or "s3".
	Type  string              `yaml:"type"`
	Dir   string              `yaml:"dir,omitempty"`
	S3    storage.S3Config    `yaml:"s3"`
	Retry storage.RetryConfig `yaml:"retry"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace,omitempty"`
}

// Redis locates the job store when Jobs.Store is "redis".
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"-"`
	DB       int    `yaml:"db"`
}

// Jobs configures background exports.
type Jobs struct {
	jobs.Config `yaml:",inline"`
	// Store is "memory" or "redis".
	Store     string        `yaml:"store"`
	Retention time.Duration `yaml:"retention"`
	KeyPrefix string        `yaml:"key_prefix,omitempty"`
	Redis     Redis         `yaml:"redis"`
}

// Config is the effective CLI configuration.
type Config struct {
	// Preset names the base export configuration that explicit export
	// settings refine.
	Preset  string             `yaml:"preset,omitempty"`
	Export  streamsheet.Config `yaml:"export"`
	Log     logging.Config     `yaml:"log"`
	Storage Storage            `yaml:"storage"`
	Metrics Metrics            `yaml:"metrics"`
	Jobs    Jobs               `yaml:"jobs"`
}

// flagKeys binds CLI flag names to configuration keys.
var flagKeys = map[string]string{
	"preset":       "preset",
	"window":       "export.row_access_window_size",
	"flush-batch":  "export.flush_batch_size",
	"max-rows":     "export.max_rows",
	"on-error":     "export.failure_policy",
	"on-cancel":    "export.cancel_policy",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"log-file":     "log.file",
	"metrics-addr": "metrics.addr",
	"storage":      "storage.type",
	"storage-dir":  "storage.dir",
}

// Load reads the configuration. path may be empty; flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
		// The flag disables what the key enables.
		if f := flags.Lookup("no-formula-guard"); f != nil && f.Changed {
			off, err := flags.GetBool("no-formula-guard")
			if err != nil {
				return nil, err
			}
			v.Set("export.prevent_formula_injection", !off)
		}
		if f := flags.Lookup("metrics-addr"); f != nil && f.Changed {
			v.Set("metrics.enabled", true)
		}
		if f := flags.Lookup("log-file"); f != nil && f.Changed {
			v.Set("log.output", "file")
		}
	}

	export, err := getExportConfig(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Preset:  v.GetString("preset"),
		Export:  export,
		Log:     getLogConfig(v),
		Storage: getStorageConfig(v),
		Metrics: getMetricsConfig(v),
		Jobs:    getJobsConfig(v),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the sections that have closed value sets.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Export.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Storage.Type {
	case "", "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket is required for s3 storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage type %q", c.Storage.Type))
	}
	switch c.Jobs.Store {
	case "", "memory":
	case "redis":
		if c.Jobs.Redis.Addr == "" {
			errs = append(errs, errors.New("jobs.redis.addr is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown job store %q", c.Jobs.Store))
	}
	return errors.Join(errs...)
}

// YAML renders the configuration. Secrets are omitted.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	return out, nil
}

func setDefaults(v *viper.Viper) {
	ld := logging.DefaultConfig()
	v.SetDefault("log.level", ld.Level)
	v.SetDefault("log.format", ld.Format)
	v.SetDefault("log.output", ld.Output)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.dir", "exports")
	rd := storage.DefaultRetryConfig()
	v.SetDefault("storage.retry.max_tries", rd.MaxTries)
	v.SetDefault("storage.retry.initial_interval", rd.InitialInterval)
	v.SetDefault("storage.retry.max_interval", rd.MaxInterval)
	v.SetDefault("storage.retry.max_elapsed_time", rd.MaxElapsedTime)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	jd := jobs.DefaultConfig()
	v.SetDefault("jobs.workers", jd.Workers)
	v.SetDefault("jobs.queue_size", jd.QueueSize)
	v.SetDefault("jobs.store", "memory")
	v.SetDefault("jobs.retention", jobs.DefaultRetention)
}

// getExportConfig starts from the preset, or the defaults, and applies
// every export key set by file, environment or flag.
func getExportConfig(v *viper.Viper) (streamsheet.Config, error) {
	cfg := streamsheet.DefaultConfig()
	if name := v.GetString("preset"); name != "" {
		p, err := streamsheet.Preset(name)
		if err != nil {
			return cfg, err
		}
		cfg = p
	}
	if v.IsSet("export.row_access_window_size") {
		cfg.RowAccessWindowSize = v.GetInt("export.row_access_window_size")
	}
	if v.IsSet("export.flush_batch_size") {
		cfg.FlushBatchSize = v.GetInt("export.flush_batch_size")
	}
	if v.IsSet("export.prevent_formula_injection") {
		cfg.PreventFormulaInjection = v.GetBool("export.prevent_formula_injection")
	}
	if v.IsSet("export.max_rows") {
		cfg.MaxRows = v.GetInt64("export.max_rows")
	}
	if v.IsSet("export.failure_policy") {
		p, err := streamsheet.ParseFailurePolicy(v.GetString("export.failure_policy"))
		if err != nil {
			return cfg, streamsheet.NewConfigError("failure_policy", err.Error())
		}
		cfg.FailurePolicy = p
	}
	if v.IsSet("export.cancel_policy") {
		p, err := streamsheet.ParseCancelPolicy(v.GetString("export.cancel_policy"))
		if err != nil {
			return cfg, streamsheet.NewConfigError("cancel_policy", err.Error())
		}
		cfg.CancelPolicy = p
	}
	return cfg, nil
}

func getLogConfig(v *viper.Viper) logging.Config {
	return logging.Config{
		Level:  v.GetString("log.level"),
		Format: v.GetString("log.format"),
		Output: v.GetString("log.output"),
		File:   v.GetString("log.file"),
	}
}

func getStorageConfig(v *viper.Viper) Storage {
	return Storage{
		Type: strings.ToLower(v.GetString("storage.type")),
		Dir:  v.GetString("storage.dir"),
		S3: storage.S3Config{
			Bucket:          v.GetString("storage.s3.bucket"),
			Region:          v.GetString("storage.s3.region"),
			Endpoint:        v.GetString("storage.s3.endpoint"),
			Prefix:          v.GetString("storage.s3.prefix"),
			AccessKeyID:     v.GetString("storage.s3.access_key_id"),
			SecretAccessKey: v.GetString("storage.s3.secret_access_key"),
		},
		Retry: storage.RetryConfig{
			MaxTries:        v.GetUint("storage.retry.max_tries"),
			InitialInterval: v.GetDuration("storage.retry.initial_interval"),
			MaxInterval:     v.GetDuration("storage.retry.max_interval"),
			MaxElapsedTime:  v.GetDuration("storage.retry.max_elapsed_time"),
		},
	}
}

func getMetricsConfig(v *viper.Viper) Metrics {
	return Metrics{
		Enabled:   v.GetBool("metrics.enabled"),
		Addr:      v.GetString("metrics.addr"),
		Namespace: v.GetString("metrics.namespace"),
	}
}

func getJobsConfig(v *viper.Viper) Jobs {
	return Jobs{
		Config: jobs.Config{
			Workers:   v.GetInt("jobs.workers"),
			QueueSize: v.GetInt("jobs.queue_size"),
			TempDir:   v.GetString("jobs.temp_dir"),
		},
		Store:     strings.ToLower(v.GetString("jobs.store")),
		Retention: v.GetDuration("jobs.retention"),
		KeyPrefix: v.GetString("jobs.key_prefix"),
		Redis: Redis{
			Addr:     v.GetString("jobs.redis.addr"),
			Password: v.GetString("jobs.redis.password"),
			DB:       v.GetInt("jobs.redis.db"),
		},
	}
}
