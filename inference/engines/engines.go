// Package engines - Construction of inference engines and pools from configuration.
package engines

import (
	"fmt"
	"strings"
	"time"

	"github.com/khactrung2406/Do-An-Tot-Nghiep/inference"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/inference/onnx"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/inference/opencv"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/inference/providers"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/model"
)

// OpenCVConfig selects the OpenCV DNN backend and target.
type OpenCVConfig struct {
	Backend string `json:"backend" yaml:"backend"`
	Target  string `json:"target" yaml:"target"`
}

// Config selects and configures an inference engine.
type Config struct {
	Type inference.EngineType `json:"type" yaml:"type"`
	// PoolSize is the number of engines sharing the load.
	PoolSize int `json:"pool_size" yaml:"pool_size"`
	// AcquireTimeout bounds the wait for a free engine, inference.DefaultAcquireTimeout when 0.
	AcquireTimeout time.Duration `json:"acquire_timeout" yaml:"acquire_timeout"`
	// LibraryPath overrides the onnxruntime shared library location.
	LibraryPath string           `json:"library_path" yaml:"library_path"`
	Provider    providers.Config `json:"provider" yaml:"provider"`
	OpenCV      OpenCVConfig     `json:"opencv" yaml:"opencv"`
}

// ParseType normalizes an engine type name, "onnx" when empty.
func ParseType(s string) (inference.EngineType, error) {
	switch t := inference.EngineType(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return inference.EngineTypeONNX, nil
	case inference.EngineTypeONNX, inference.EngineTypeOpenCV:
		return t, nil
	default:
		return "", fmt.Errorf("unknown engine type %q", s)
	}
}

// Validate checks the engine configuration.
func (c Config) Validate() error {
	t, err := ParseType(string(c.Type))
	if err != nil {
		return err
	}
	if c.PoolSize < 0 {
		return fmt.Errorf("pool_size must not be negative, got %d", c.PoolSize)
	}
	if c.AcquireTimeout < 0 {
		return fmt.Errorf("acquire_timeout must not be negative, got %s", c.AcquireTimeout)
	}
	if t == inference.EngineTypeONNX {
		return c.Provider.Validate()
	}
	return nil
}

// New builds one engine for the model.
func New(cfg Config, m model.Config) (inference.Engine, error) {
	t, err := ParseType(string(cfg.Type))
	if err != nil {
		return nil, err
	}

	switch t {
	case inference.EngineTypeOpenCV:
		return opencv.NewNet(opencv.Options{Model: m, Backend: cfg.OpenCV.Backend, Target: cfg.OpenCV.Target})
	default:
		return onnx.NewSession(onnx.Options{Model: m, Provider: cfg.Provider, LibraryPath: cfg.LibraryPath})
	}
}

// NewPool builds PoolSize engines for the model.
func NewPool(cfg Config, m model.Config) (*inference.Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pool, err := inference.NewPool(cfg.PoolSize, func(int) (inference.Engine, error) {
		return New(cfg, m)
	})
	if err != nil {
		return nil, err
	}
	if cfg.AcquireTimeout > 0 {
		pool.SetAcquireTimeout(cfg.AcquireTimeout)
	}
	return pool, nil
}
