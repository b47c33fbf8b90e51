package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

const (
	DefaultPort         = 8003
	DefaultModelPath    = "models/Eff_net_b3_01_brain_tumor.onnx"
	DefaultMetadataPath = "models/model_metadata.json"
)

// DefaultAllowedOrigins are the frontends allowed to call the API with credentials.
var DefaultAllowedOrigins = []string{
	"http://localhost:8080",
	"http://127.0.0.1:8080",
	"https://earlymed.vercel.app",
}

type Config struct {
	Port           int
	ModelPath      string
	MetadataPath   string
	ORTLibraryPath string
	AllowedOrigins []string
}

func Defaults() *Config {
	return &Config{
		Port:           DefaultPort,
		ModelPath:      DefaultModelPath,
		MetadataPath:   DefaultMetadataPath,
		AllowedOrigins: append([]string(nil), DefaultAllowedOrigins...),
	}
}

// Load builds the config from the environment, falling back to defaults.
func Load() (*Config, error) {
	cfg := Defaults()
	port, err := getEnvInt("PORT", DefaultPort)
	if err != nil {
		return cfg, err
	}
	cfg.Port = port
	cfg.ModelPath = getEnv("MODEL_PATH", cfg.ModelPath)
	cfg.MetadataPath = getEnv("MODEL_METADATA_PATH", cfg.MetadataPath)
	cfg.ORTLibraryPath = getEnv("ONNXRUNTIME_LIB", "")
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("invalid port %d", c.Port)
	}
	if c.ModelPath == "" {
		return errors.New("model path must be set")
	}
	return nil
}

func (c *Config) ListenAddr() string {
	return ":" + strconv.Itoa(c.Port)
}

// ResolvePaths makes relative model paths absolute against root.
func (c *Config) ResolvePaths(root string) {
	if c.ModelPath != "" && !filepath.IsAbs(c.ModelPath) {
		c.ModelPath = filepath.Join(root, c.ModelPath)
	}
	if c.MetadataPath != "" && !filepath.IsAbs(c.MetadataPath) {
		c.MetadataPath = filepath.Join(root, c.MetadataPath)
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	return n, nil
}
