package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoRunner is returned when neither an explicit nor a persisted default runner is available.
var ErrNoRunner = errors.New("no runner given and no default runner configured")

// Config is the complete adr configuration. It is loaded once by the CLI and
// passed explicitly to every component.
type Config struct {
	Runner  string        `yaml:"runner"`
	Log     LogConfig     `yaml:"log"`
	Storage StorageConfig `yaml:"storage"`
	Queue   QueueConfig   `yaml:"queue"`
	Poll    PollConfig    `yaml:"poll"`
	Worker  WorkerConfig  `yaml:"worker"`
	Publish PublishConfig `yaml:"publish"`
	Tracing TracingConfig `yaml:"tracing"`
}

type LogConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // json, console
	Output     string `yaml:"output"` // stdout, file, both
	Dir        string `yaml:"dir"`    // per-runner log files are written here
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// StorageConfig points at the S3 compatible object store holding runner namespaces.
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type QueueConfig struct {
	Addr              string        `yaml:"addr"`
	Password          string        `yaml:"password"`
	DB                int           `yaml:"db"`
	Prefix            string        `yaml:"prefix"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
}

type PollConfig struct {
	Delay    time.Duration `yaml:"delay"`
	MaxPolls int           `yaml:"max_polls"`
}

type WorkerConfig struct {
	WorkDir     string `yaml:"work_dir"`
	Address     string `yaml:"address"`
	StopOnEmpty bool   `yaml:"stop_on_empty"`
}

type PublishConfig struct {
	Command         string   `yaml:"command"`
	PreProcessing   string   `yaml:"preprocessing"`
	PostProcessing  string   `yaml:"postprocessing"`
	StorePatterns   []string `yaml:"store_patterns"`
	ExcludePatterns []string `yaml:"exclude_patterns"`
	TempDir         string   `yaml:"temp_dir"`
}

type TracingConfig struct {
	Exporter     string  `yaml:"exporter"` // none, stdout, otlp, otlphttp
	Endpoint     string  `yaml:"endpoint"`
	Headers      string  `yaml:"headers"`
	Insecure     bool    `yaml:"insecure"`
	Sampler      string  `yaml:"sampler"`
	SamplerRatio float64 `yaml:"sampler_ratio"`
	Environment  string  `yaml:"environment"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			Output:     "both",
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     14,
		},
		Storage: StorageConfig{
			Endpoint: "localhost:9000",
			Region:   "eu-central-1",
		},
		Queue: QueueConfig{
			Addr:              "localhost:6379",
			Prefix:            "adr",
			VisibilityTimeout: 12 * time.Hour,
		},
		Poll: PollConfig{
			Delay:    10 * time.Second,
			MaxPolls: 30,
		},
		Worker: WorkerConfig{
			WorkDir: ".",
		},
		Publish: PublishConfig{
			Command:         "./aeolis.sh {}",
			StorePatterns:   []string{`\.nc$`},
			ExcludePatterns: []string{`\.log$`, `\.nc$`, `\.pyc$`},
		},
		Tracing: TracingConfig{
			Exporter:     "none",
			Insecure:     true,
			SamplerRatio: 1,
		},
	}
}

// DefaultPath is ~/.adr/config.yaml, or ./adr.yaml when no home directory is known.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "adr.yaml"
	}
	return filepath.Join(home, ".adr", "config.yaml")
}

// Load reads path on top of Default and applies ADR_* environment overrides.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// LoadFile is Load without the environment overrides. Use it before Save so
// overrides are not written back to disk.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path with owner-only permissions since it carries credentials.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

func (c *Config) ApplyEnv() {
	c.Runner = getenv("ADR_RUNNER", c.Runner)
	c.Log.Level = getenv("ADR_LOG_LEVEL", c.Log.Level)
	c.Log.Dir = getenv("ADR_LOG_DIR", c.Log.Dir)
	c.Storage.Endpoint = getenv("ADR_MINIO_ENDPOINT", c.Storage.Endpoint)
	c.Storage.AccessKey = getenv("ADR_MINIO_ACCESS_KEY", c.Storage.AccessKey)
	c.Storage.SecretKey = getenv("ADR_MINIO_SECRET_KEY", c.Storage.SecretKey)
	c.Storage.Region = getenv("ADR_MINIO_REGION", c.Storage.Region)
	c.Storage.UseSSL = getenvBool("ADR_MINIO_USE_SSL", c.Storage.UseSSL)
	c.Queue.Addr = getenv("ADR_REDIS_ADDR", c.Queue.Addr)
	c.Queue.Password = getenv("ADR_REDIS_PASSWORD", c.Queue.Password)
	c.Queue.DB = getenvInt("ADR_REDIS_DB", c.Queue.DB)
	c.Queue.Prefix = getenv("ADR_REDIS_PREFIX", c.Queue.Prefix)
	c.Poll.Delay = getenvDuration("ADR_POLL_DELAY", c.Poll.Delay)
	c.Poll.MaxPolls = getenvInt("ADR_POLL_MAX", c.Poll.MaxPolls)
	c.Worker.WorkDir = getenv("ADR_WORK_DIR", c.Worker.WorkDir)
	c.Worker.Address = getenv("ADR_WORKER_ADDRESS", c.Worker.Address)
	c.Tracing.Exporter = getenv("ADR_OTEL_EXPORTER", c.Tracing.Exporter)
	c.Tracing.Endpoint = getenv("ADR_OTEL_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.Headers = getenv("ADR_OTEL_HEADERS", c.Tracing.Headers)
	c.Tracing.Insecure = getenvBool("ADR_OTEL_INSECURE", c.Tracing.Insecure)
	c.Tracing.Sampler = getenv("ADR_OTEL_SAMPLER", c.Tracing.Sampler)
	c.Tracing.SamplerRatio = getenvFloat("ADR_OTEL_SAMPLER_RATIO", c.Tracing.SamplerRatio)
	c.Tracing.Environment = getenv("ADR_ENVIRONMENT", c.Tracing.Environment)
}

// Validate checks the parts of the configuration every command relies on.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Storage.Endpoint) == "" {
		return errors.New("storage.endpoint is required")
	}
	if strings.TrimSpace(c.Queue.Addr) == "" {
		return errors.New("queue.addr is required")
	}
	if c.Poll.MaxPolls <= 0 {
		return fmt.Errorf("poll.max_polls must be positive, got %d", c.Poll.MaxPolls)
	}
	if c.Poll.Delay < 0 {
		return fmt.Errorf("poll.delay must not be negative, got %s", c.Poll.Delay)
	}
	if _, err := CompilePatterns(c.Publish.StorePatterns); err != nil {
		return fmt.Errorf("publish.store_patterns: %w", err)
	}
	if _, err := CompilePatterns(c.Publish.ExcludePatterns); err != nil {
		return fmt.Errorf("publish.exclude_patterns: %w", err)
	}
	return nil
}

// ResolveRunner prefers an explicit runner id over the persisted default.
func (c Config) ResolveRunner(explicit string) (string, error) {
	if r := strings.TrimSpace(explicit); r != "" {
		return r, nil
	}
	if r := strings.TrimSpace(c.Runner); r != "" {
		return r, nil
	}
	return "", ErrNoRunner
}

// CompilePatterns compiles regular expressions, skipping blank entries.
func CompilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}

func getenvFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
