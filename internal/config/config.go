// Package config loads rollcall settings.
//
// Values are layered: built-in defaults, then an optional YAML file, then environment
// variables (a .env file in the working directory is loaded first). Command-line flags are
// applied on top by the cmd package.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/andresmejia3/rollcall/internal/enroll"
	"github.com/andresmejia3/rollcall/internal/matcher"
	"github.com/andresmejia3/rollcall/internal/store"
)

// DefaultFile is read when no --config is given and the file exists.
const DefaultFile = "rollcall.yaml"

type Config struct {
	DataDir    string `yaml:"data_dir"`
	LedgerPath string `yaml:"ledger_path"`
	LogLevel   string `yaml:"log_level"`

	Store    StoreConfig    `yaml:"store"`
	Match    MatchConfig    `yaml:"match"`
	Enroll   EnrollConfig   `yaml:"enroll"`
	Camera   CameraConfig   `yaml:"camera"`
	Provider ProviderConfig `yaml:"provider"`
}

type StoreConfig struct {
	Backend     string `yaml:"backend"` // file or postgres
	DatabaseURL string `yaml:"database_url"`
}

type MatchConfig struct {
	Threshold float64 `yaml:"threshold"`
	Policy    string  `yaml:"policy"`
}

type EnrollConfig struct {
	TargetSampleCount  int    `yaml:"target_sample_count"`
	InterSampleDelayMS int    `yaml:"inter_sample_delay_ms"`
	MaxAttempts        int    `yaml:"max_attempts"`
	DuplicateCheck     string `yaml:"duplicate_check"`
}

type CameraConfig struct {
	Device      string        `yaml:"device"`
	Format      string        `yaml:"format"`
	FPS         int           `yaml:"fps"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type ProviderConfig struct {
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:    "user_data",
		LedgerPath: "attendance_log.csv",
		LogLevel:   "warn",
		Store:      StoreConfig{Backend: store.BackendFile},
		Match: MatchConfig{
			Threshold: matcher.DefaultThreshold,
			Policy:    string(matcher.FirstMatch),
		},
		Enroll: EnrollConfig{
			TargetSampleCount:  enroll.DefaultTargetSamples,
			InterSampleDelayMS: int(enroll.DefaultSampleDelay / time.Millisecond),
			DuplicateCheck:     string(enroll.DuplicateWarn),
		},
		Camera: CameraConfig{
			Device:      "/dev/video0",
			FPS:         15,
			ReadTimeout: 10 * time.Second,
		},
		Provider: ProviderConfig{
			Command: "python3",
			Args:    []string{"-u", "python/worker.py"},
			Timeout: 30 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, path and the environment.
// An empty path reads DefaultFile if present; an explicit path must exist.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()
	file, explicit := path, path != ""
	if !explicit {
		file = DefaultFile
	}
	data, err := os.ReadFile(file)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", file, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.DataDir, "ROLLCALL_DATA_DIR")
	setString(&c.LedgerPath, "ROLLCALL_LEDGER")
	setString(&c.LogLevel, "ROLLCALL_LOG_LEVEL")
	setString(&c.Store.Backend, "ROLLCALL_STORE")
	setString(&c.Match.Policy, "ROLLCALL_MATCH_POLICY")
	setString(&c.Enroll.DuplicateCheck, "ROLLCALL_DUPLICATE_CHECK")
	setString(&c.Camera.Device, "ROLLCALL_CAMERA")
	setString(&c.Provider.Command, "ROLLCALL_PROVIDER")

	if v := os.Getenv("ROLLCALL_MATCH_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("ROLLCALL_MATCH_THRESHOLD: %w", err)
		}
		c.Match.Threshold = f
	}
	for key, dst := range map[string]*int{
		"ROLLCALL_TARGET_SAMPLES":  &c.Enroll.TargetSampleCount,
		"ROLLCALL_SAMPLE_DELAY_MS": &c.Enroll.InterSampleDelayMS,
		"ROLLCALL_MAX_ATTEMPTS":    &c.Enroll.MaxAttempts,
		"ROLLCALL_CAMERA_FPS":      &c.Camera.FPS,
	} {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		c.Store.DatabaseURL = url
	}
	// Same variables the docker-compose file sets for the postgres container
	if host := os.Getenv("POSTGRES_HOST"); host != "" && c.Store.DatabaseURL == "" {
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		c.Store.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
			os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD"), host, port, os.Getenv("POSTGRES_DB"))
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// Validate checks every value that would otherwise fail deep inside a session.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.LedgerPath == "" {
		errs = append(errs, errors.New("ledger_path is required"))
	}
	switch c.Store.Backend {
	case store.BackendFile:
	case store.BackendPostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("store.database_url is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}
	if c.Match.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("match.threshold must be positive, got %v", c.Match.Threshold))
	}
	if _, err := matcher.ParsePolicy(c.Match.Policy); err != nil {
		errs = append(errs, err)
	}
	if c.Enroll.TargetSampleCount <= 0 {
		errs = append(errs, fmt.Errorf("enroll.target_sample_count must be positive, got %d", c.Enroll.TargetSampleCount))
	}
	if c.Enroll.InterSampleDelayMS < 0 || c.Enroll.MaxAttempts < 0 {
		errs = append(errs, errors.New("enroll.inter_sample_delay_ms and enroll.max_attempts cannot be negative"))
	}
	if _, err := enroll.ParseDuplicateCheck(c.Enroll.DuplicateCheck); err != nil {
		errs = append(errs, err)
	}
	if c.Camera.ReadTimeout < 0 || c.Provider.Timeout < 0 {
		errs = append(errs, errors.New("timeouts cannot be negative"))
	}
	if c.Provider.Command == "" {
		errs = append(errs, errors.New("provider.command is required"))
	}
	return errors.Join(errs...)
}

// EnrollOptions converts the enroll section.
func (c *Config) EnrollOptions() enroll.Options {
	check, _ := enroll.ParseDuplicateCheck(c.Enroll.DuplicateCheck)
	return enroll.Options{
		TargetSamples:  c.Enroll.TargetSampleCount,
		SampleDelay:    time.Duration(c.Enroll.InterSampleDelayMS) * time.Millisecond,
		MaxAttempts:    c.Enroll.MaxAttempts,
		DuplicateCheck: check,
		Threshold:      c.Match.Threshold,
	}
}

// StoreOptions converts the store section.
func (c *Config) StoreOptions() store.Config {
	return store.Config{Backend: c.Store.Backend, DataDir: c.DataDir, DatabaseURL: c.Store.DatabaseURL}
}
