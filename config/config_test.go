package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khactrung2406/Do-An-Tot-Nghiep/inference"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/inference/providers"
	"github.com/khactrung2406/Do-An-Tot-Nghiep/models/model"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 640, cfg.Model.InputSize)
	assert.Equal(t, 31, cfg.Model.NumClasses)
	assert.Equal(t, 8400, cfg.Model.NumBoxes)
	assert.Equal(t, float32(0.25), cfg.Model.ConfidenceThreshold)
	assert.Equal(t, float32(0.5), cfg.Model.NMS.IoUThreshold)
	assert.Equal(t, float32(0.3), cfg.Detection.AcceptThreshold)
	assert.Equal(t, 4, cfg.Engine.Provider.IntraOpNumThreads)
	assert.Equal(t, 5*time.Second, cfg.Engine.AcquireTimeout)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "snails.yaml", `
model:
  path: /models/custom.onnx
  input_size: 320
  num_boxes: 2100
  confidence_threshold: 0.4
  nms:
    iou_threshold: 0.45
    class_aware: true
engine:
  type: opencv
  pool_size: 3
  acquire_timeout: 2s
server:
  addr: ":9090"
  request_timeout: 5s
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/models/custom.onnx", cfg.Model.Path)
	assert.Equal(t, 320, cfg.Model.InputSize)
	assert.Equal(t, 2100, cfg.Model.NumBoxes)
	assert.Equal(t, 31, cfg.Model.NumClasses, "Unset keys keep their defaults")
	assert.True(t, cfg.Model.NMS.ClassAware)
	assert.Equal(t, inference.EngineTypeOpenCV, cfg.Engine.Type)
	assert.Equal(t, 3, cfg.Engine.PoolSize)
	assert.Equal(t, 2*time.Second, cfg.Engine.AcquireTimeout)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SNAIL_MODEL_PATH", "/env/model.onnx")
	t.Setenv("SNAIL_BACKEND", "cuda")
	t.Setenv("SNAIL_POOL_SIZE", "6")
	t.Setenv("SNAIL_SERVER_ADDR", "127.0.0.1:7000")
	t.Setenv("SNAIL_HISTORY_PATH", "/tmp/h.db")
	t.Setenv("SNAIL_LOG_LEVEL", "warn")
	t.Setenv(providers.SharedLibraryEnv, "/opt/ort/libonnxruntime.so")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/env/model.onnx", cfg.Model.Path)
	assert.Equal(t, providers.CUDAProviderBackend, cfg.Engine.Provider.Backend)
	assert.Equal(t, 6, cfg.Engine.PoolSize)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Addr)
	assert.Equal(t, "/tmp/h.db", cfg.History.Path)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "/opt/ort/libonnxruntime.so", cfg.Engine.LibraryPath)
}

func TestLoad_InvalidIntEnvKeepsDefault(t *testing.T) {
	t.Setenv("SNAIL_POOL_SIZE", "many")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Engine.PoolSize)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "model: [unterminated"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "classes.yaml", "model:\n  num_classes: 0\n"))
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
}

func TestLoad_ZeroAcceptThresholdRejected(t *testing.T) {
	path := writeFile(t, "zero.yaml", "detection:\n  accept_threshold: 0\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accept_threshold")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"Unknown engine", func(c *Config) { c.Engine.Type = "tflite" }},
		{"Unknown backend", func(c *Config) { c.Engine.Provider.Backend = "nnapi" }},
		{"Accept above one", func(c *Config) { c.Detection.AcceptThreshold = 1.2 }},
		{"Accept of zero", func(c *Config) { c.Detection.AcceptThreshold = 0 }},
		{"No classes", func(c *Config) { c.Classes.Set = "" }},
		{"No address", func(c *Config) { c.Server.Addr = "" }},
		{"Zero upload limit", func(c *Config) { c.Server.MaxUploadBytes = 0 }},
		{"History without path", func(c *Config) { c.History.Path = "" }},
		{"Bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"Bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "SNAIL_TEST_DOTENV=from-file\n")
	t.Setenv("SNAIL_TEST_DOTENV", "")
	os.Unsetenv("SNAIL_TEST_DOTENV")

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "absent.env")))
	assert.Equal(t, "from-file", os.Getenv("SNAIL_TEST_DOTENV"))
}

func TestLogConfig_Apply(t *testing.T) {
	logger := log.New()
	require.NoError(t, LogConfig{Level: "debug", Format: "json"}.Apply(logger))
	assert.Equal(t, log.DebugLevel, logger.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, logger.Formatter)

	assert.Error(t, LogConfig{Level: "nope"}.Apply(logger))
}
