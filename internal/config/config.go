// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/SyedDaiam9101/volseg-service/internal/inference"
	"github.com/SyedDaiam9101/volseg-service/internal/logging"
)

// EnvPrefix is prepended to every environment variable the service reads.
const EnvPrefix = "VOLSEG"

// Config holds all configuration for the service
type Config struct {
	// Server configuration
	Port        int `mapstructure:"port"`
	MetricsPort int `mapstructure:"metrics_port"`

	// Model configuration
	Model            string `mapstructure:"model"`
	ONNXLibrary      string `mapstructure:"onnx_library"`
	Device           string `mapstructure:"device"`
	PatchSize        int    `mapstructure:"patch_size"`
	NumClasses       int    `mapstructure:"num_classes"`
	InputName        string `mapstructure:"input_name"`
	OutputName       string `mapstructure:"output_name"`
	DegeneratePolicy string `mapstructure:"degenerate_policy"`
	Workers          int    `mapstructure:"workers"`

	// Storage
	Redis    string        `mapstructure:"redis"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	RunsDB   string        `mapstructure:"runs_db"`

	// OpenTelemetry configuration
	OTELEnabled  bool   `mapstructure:"otel_enabled"`
	OTELEndpoint string `mapstructure:"otel_endpoint"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Feature flags
	UseMock bool `mapstructure:"use_mock"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 50051)
	v.SetDefault("metrics_port", 9100)
	v.SetDefault("model", "unet_hippocampus.onnx")
	v.SetDefault("onnx_library", "")
	v.SetDefault("device", inference.DefaultDevice)
	v.SetDefault("patch_size", inference.DefaultPatchSize)
	v.SetDefault("num_classes", inference.DefaultNumClasses)
	v.SetDefault("input_name", "input")
	v.SetDefault("output_name", "output")
	v.SetDefault("degenerate_policy", string(inference.PolicyZero))
	v.SetDefault("workers", 1)
	v.SetDefault("redis", "localhost:6379")
	v.SetDefault("cache_ttl", time.Hour)
	v.SetDefault("runs_db", "volseg_runs.db")
	v.SetDefault("otel_enabled", false)
	v.SetDefault("otel_endpoint", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("use_mock", false)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Standard OTEL variable also enables tracing
	_ = v.BindEnv("otel_endpoint", EnvPrefix+"_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func decode(v *viper.Viper) (*Config, error) {
	if v.GetString("otel_endpoint") != "" {
		v.Set("otel_enabled", true)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// New returns a viper instance with defaults and environment bindings applied.
// Callers may layer flags on top before calling FromViper.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	bindEnv(v)
	return v
}

// ReadConfigFile reads configPath into v, or searches the default locations
// for config.yaml when configPath is empty. A missing default file is not an
// error. It returns the file used, if any.
func ReadConfigFile(v *viper.Viper, configPath string) (string, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return "", fmt.Errorf("error reading config file %s: %w", configPath, err)
		}
		return v.ConfigFileUsed(), nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/volseg/")
	v.AddConfigPath("$HOME/.volseg")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error occurred
			return "", fmt.Errorf("error reading config file: %w", err)
		}
		return "", nil
	}
	return v.ConfigFileUsed(), nil
}

// Load loads configuration from environment variables and an optional config file.
// Priority (highest to lowest): env vars > config file > defaults
func Load() (*Config, error) {
	v := New()
	if _, err := ReadConfigFile(v, ""); err != nil {
		return nil, err
	}
	return decode(v)
}

// LoadWithConfigFile loads configuration from a specific config file
func LoadWithConfigFile(configPath string) (*Config, error) {
	v := New()
	if _, err := ReadConfigFile(v, configPath); err != nil {
		return nil, err
	}
	return decode(v)
}

// FromViper decodes a prepared viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	return decode(v)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.MetricsPort)
	}
	if c.Port == c.MetricsPort {
		return fmt.Errorf("port and metrics_port must be different")
	}
	if c.Model == "" && !c.UseMock {
		return fmt.Errorf("model path is required when not using mock inference")
	}
	if c.PatchSize <= 0 {
		return fmt.Errorf("invalid patch_size: %d", c.PatchSize)
	}
	if c.NumClasses < 2 || c.NumClasses > 256 {
		return fmt.Errorf("invalid num_classes: %d (must be in [2,256])", c.NumClasses)
	}
	if c.Workers < 1 {
		return fmt.Errorf("invalid workers: %d", c.Workers)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("invalid cache_ttl: %s", c.CacheTTL)
	}
	if _, err := inference.ParseDegeneratePolicy(c.DegeneratePolicy); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// InferenceConfig maps the model settings onto the agent factory's configuration.
func (c *Config) InferenceConfig() inference.DefaultConfig {
	policy, _ := inference.ParseDegeneratePolicy(c.DegeneratePolicy)
	return inference.DefaultConfig{
		ParameterPath: c.Model,
		LibraryPath:   c.ONNXLibrary,
		Device:        c.Device,
		PatchSize:     c.PatchSize,
		NumClasses:    c.NumClasses,
		InputName:     c.InputName,
		OutputName:    c.OutputName,
		Policy:        policy,
	}
}
