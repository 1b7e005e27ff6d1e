// Package config - Application configuration from a YAML file, a .env file and the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/khactrung2406/Do-An-Tot-Nghiep/inference"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/inference/engines"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/inference/providers"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/model"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/model/preprocess"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/postprocess"
)

// Config is the full application configuration.
type Config struct {
	Model     model.Config    `yaml:"model"`
	Detection DetectionConfig `yaml:"detection"`
	Engine    engines.Config  `yaml:"engine"`
	Classes   ClassesConfig   `yaml:"classes"`
	Server    ServerConfig    `yaml:"server"`
	History   HistoryConfig   `yaml:"history"`
	Log       LogConfig       `yaml:"log"`
}

// DetectionConfig holds the acceptance rule applied to the top detection.
type DetectionConfig struct {
	// AcceptThreshold must be positive; zero would read as the detector default.
	AcceptThreshold float32 `yaml:"accept_threshold"`
}

// ClassesConfig selects the label mapping.
type ClassesConfig struct {
	// Set names a built-in class set.
	Set string `yaml:"set"`
	// MappingFile is a YAML class set that replaces the built-in one.
	MappingFile string `yaml:"mapping_file"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// HistoryConfig configures the detection history store.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration of the stock sea-snail detector.
func Default() *Config {
	return &Config{
		Model: model.Config{
			Name:                model.ModelNameYOLO11,
			Family:              model.ModelFamilyYOLO,
			Path:                "models/sea_snails_yolo11.onnx",
			InputSize:           640,
			NumBoxes:            8400,
			NumClasses:          31,
			ChannelOrder:        preprocess.ChannelOrderCHW,
			Resample:            "bilinear",
			ConfidenceThreshold: 0.25,
			NMS:                 postprocess.NMSConfig{IoUThreshold: 0.5},
			Inputs:              []string{"images"},
			Outputs:             []string{"output0"},
		},
		Detection: DetectionConfig{AcceptThreshold: 0.3},
		Engine: engines.Config{
			Type:           inference.EngineTypeONNX,
			PoolSize:       1,
			AcquireTimeout: inference.DefaultAcquireTimeout,
			Provider: providers.Config{
				Backend:           providers.CPUProviderBackend,
				IntraOpNumThreads: 4,
				GraphOptimization: providers.GraphOptimizationAll,
			},
		},
		Classes: ClassesConfig{Set: models.SeaSnailSet},
		Server: ServerConfig{
			Addr:           ":8080",
			MaxUploadBytes: 10 << 20,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			RequestTimeout: 20 * time.Second,
		},
		History: HistoryConfig{Enabled: true, Path: "snails.db"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path when non-empty, then
// environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config %s", path)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads environment variables from .env files. Missing files are ignored and
// variables already set are kept.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return errors.Wrapf(err, "failed to load %s", p)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Model.Path = getEnv("SNAIL_MODEL_PATH", c.Model.Path)
	c.Engine.Type = inference.EngineType(getEnv("SNAIL_ENGINE", string(c.Engine.Type)))
	c.Engine.Provider.Backend = providers.ProviderBackend(getEnv("SNAIL_BACKEND", string(c.Engine.Provider.Backend)))
	c.Engine.PoolSize = getEnvAsInt("SNAIL_POOL_SIZE", c.Engine.PoolSize)
	c.Engine.LibraryPath = getEnv(providers.SharedLibraryEnv, c.Engine.LibraryPath)
	c.Classes.MappingFile = getEnv("SNAIL_CLASS_MAPPING", c.Classes.MappingFile)
	c.Server.Addr = getEnv("SNAIL_SERVER_ADDR", c.Server.Addr)
	c.History.Path = getEnv("SNAIL_HISTORY_PATH", c.History.Path)
	c.Log.Level = getEnv("SNAIL_LOG_LEVEL", c.Log.Level)
}

// Validate rejects inconsistent values.
func (c *Config) Validate() error {
	if err := c.Model.Validate(); err != nil {
		return err
	}
	if err := c.Engine.Validate(); err != nil {
		return errors.Wrap(err, "engine")
	}
	if a := c.Detection.AcceptThreshold; a <= 0 || a > 1 {
		return errors.Errorf("detection.accept_threshold must be in (0, 1], got %v", a)
	}
	if c.Classes.Set == "" && c.Classes.MappingFile == "" {
		return errors.New("classes.set or classes.mapping_file is required")
	}
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return errors.Errorf("server.max_upload_bytes must be positive, got %d", c.Server.MaxUploadBytes)
	}
	if c.History.Enabled && c.History.Path == "" {
		return errors.New("history.path is required when history is enabled")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return errors.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Apply configures a logrus logger.
func (l LogConfig) Apply(logger *log.Logger) error {
	level, err := log.ParseLevel(l.Level)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	if l.Format == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
