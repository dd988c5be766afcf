// Package config loads the application configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then a
// .env file, then TETHER_* environment variables (for example
// TETHER_STORE_DRIVER=redis or TETHER_MODEL_NAME=llama3.1:8b).
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/aretw0/tether/pkg/models"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "tether"

// Store drivers.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Outcome classifiers.
const (
	ClassifierRandom  = "random"
	ClassifierRedis   = "redis"
	ClassifierProcess = "process"
)

type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Model      models.Config    `mapstructure:"model"`
	Prompts    PromptsConfig    `mapstructure:"prompts"`
	Store      StoreConfig      `mapstructure:"store"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Locking    LockingConfig    `mapstructure:"locking"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Server     ServerConfig     `mapstructure:"server"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
	Privacy    PrivacyConfig    `mapstructure:"privacy"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type PromptsConfig struct {
	// Path to a YAML or JSON prompt set. Empty uses the embedded set.
	Path string `mapstructure:"path"`
}

type StoreConfig struct {
	Driver string        `mapstructure:"driver"`
	Dir    string        `mapstructure:"dir"`
	Prefix string        `mapstructure:"prefix"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LockingConfig struct {
	Distributed bool          `mapstructure:"distributed"`
	TTL         time.Duration `mapstructure:"ttl"`
}

type PipelineConfig struct {
	Classifier     string  `mapstructure:"classifier"`
	CompletionRate float64 `mapstructure:"completion_rate" split_words:"true"`
	// RetryCap aborts a stage after this many failures in total. Zero never aborts.
	RetryCap   int    `mapstructure:"retry_cap" split_words:"true"`
	WorkingDir string `mapstructure:"working_dir" split_words:"true"`
	// JobsFile lists the command run for each stage by the process classifier.
	JobsFile   string        `mapstructure:"jobs_file" split_words:"true"`
	JobTimeout time.Duration `mapstructure:"job_timeout" split_words:"true"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type EncryptionConfig struct {
	// Key is a base64 encoded 32 byte AES key. Empty disables encryption.
	Key          string   `mapstructure:"key"`
	FallbackKeys []string `mapstructure:"fallback_keys" split_words:"true"`
}

type PrivacyConfig struct {
	// MaskFields are regular expressions of state field names whose values are masked at rest.
	MaskFields []string `mapstructure:"mask_fields" split_words:"true"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Log:     LogConfig{Level: "info", Format: "text"},
		Model:   models.Config{Driver: "ollama"},
		Store:   StoreConfig{Driver: StoreMemory, Dir: ".tether/checkpoints"},
		Redis:   RedisConfig{Addr: "localhost:6379"},
		Locking: LockingConfig{TTL: 30 * time.Second},
		Pipeline: PipelineConfig{
			Classifier:     ClassifierRandom,
			CompletionRate: 4.0 / 11.0,
			WorkingDir:     ".",
		},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// Load builds the configuration from path (optional), envFile (optional) and the environment.
// A missing envFile is not an error.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read environment: %w", err)
	}
	return cfg, cfg.Validate()
}

func decodeYAML(data []byte, cfg *Config) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case StoreMemory, StoreFile, StoreRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown store driver '%s'", c.Store.Driver))
	}
	switch c.Pipeline.Classifier {
	case ClassifierRandom:
	case ClassifierProcess:
		if c.Pipeline.JobsFile == "" {
			errs = append(errs, errors.New("the process classifier needs a jobs file"))
		}
	case ClassifierRedis:
		if c.Store.Driver != StoreRedis {
			errs = append(errs, errors.New("the redis classifier needs the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown outcome classifier '%s'", c.Pipeline.Classifier))
	}
	if c.Locking.Distributed && c.Store.Driver != StoreRedis {
		errs = append(errs, errors.New("distributed locking needs the redis store"))
	}
	if c.Pipeline.CompletionRate < 0 || c.Pipeline.CompletionRate > 1 {
		errs = append(errs, fmt.Errorf("completion rate %v is outside [0, 1]", c.Pipeline.CompletionRate))
	}
	if c.Pipeline.RetryCap < 0 {
		errs = append(errs, errors.New("retry cap must not be negative"))
	}
	if c.Encryption.Key != "" {
		if _, _, err := c.EncryptionKeys(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EncryptionKeys decodes the active and fallback keys.
func (c Config) EncryptionKeys() ([]byte, [][]byte, error) {
	active, err := decodeKey(c.Encryption.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("encryption key: %w", err)
	}
	var fallback [][]byte
	for i, k := range c.Encryption.FallbackKeys {
		key, err := decodeKey(k)
		if err != nil {
			return nil, nil, fmt.Errorf("fallback key %d: %w", i, err)
		}
		fallback = append(fallback, key)
	}
	return active, fallback, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("want 32 bytes, got %d", len(key))
	}
	return key, nil
}
