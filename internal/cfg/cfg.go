// Package cfg loads service configuration from a YAML file or from
// environment variables, with env values taking precedence over file
// values.
package cfg

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the resolved runtime configuration.
type Settings struct {
	ArtifactDir     string
	ArtifactURL     string
	DataPath        string
	ListenPort      int
	MetricsPort     int
	TopKDefault     int
	BackgroundRows  int
	KernelSamples   int
	GeneratorSeed   int64
	RecentRetention int
	HTTPTimeout     time.Duration
}

// ConfigFile mirrors the YAML layout.
type ConfigFile struct {
	Artifacts struct {
		Dir string `yaml:"dir"`
		URL string `yaml:"url"`
	} `yaml:"artifacts"`

	Serving struct {
		ListenPort  int `yaml:"listenPort"`
		TopKDefault int `yaml:"topKDefault"`
	} `yaml:"serving"`

	Explain struct {
		BackgroundRows int   `yaml:"backgroundRows"`
		KernelSamples  int   `yaml:"kernelSamples"`
		GeneratorSeed  int64 `yaml:"generatorSeed"`
	} `yaml:"explain"`

	System struct {
		DataPath        string `yaml:"dataPath"`
		MetricsPort     int    `yaml:"metricsPort"`
		RecentRetention int    `yaml:"recentRetention"`
		HTTPTimeout     string `yaml:"httpTimeout"`
	} `yaml:"system"`
}

// Load resolves settings from CONFIG_FILE if set, otherwise from
// environment variables with defaults.
func Load() (Settings, error) {
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	httpTimeout, err := time.ParseDuration(config.System.HTTPTimeout)
	if err != nil {
		httpTimeout = 30 * time.Second
	}

	settings := Settings{
		ArtifactDir:     getEnvOrDefault("ARTIFACT_DIR", orString(config.Artifacts.Dir, "artifacts")),
		ArtifactURL:     getEnvOrDefault("ARTIFACT_URL", config.Artifacts.URL),
		DataPath:        getEnvOrDefault("DATA_PATH", config.System.DataPath),
		ListenPort:      getIntFromEnvOrConfig("LISTEN_PORT", config.Serving.ListenPort, 8000),
		MetricsPort:     getIntFromEnvOrConfig("METRICS_PORT", config.System.MetricsPort, 9090),
		TopKDefault:     getIntFromEnvOrConfig("TOP_K_DEFAULT", config.Serving.TopKDefault, 6),
		BackgroundRows:  getIntFromEnvOrConfig("BACKGROUND_ROWS", config.Explain.BackgroundRows, 50),
		KernelSamples:   getIntFromEnvOrConfig("KERNEL_SAMPLES", config.Explain.KernelSamples, 100),
		GeneratorSeed:   getInt64FromEnvOrConfig("GENERATOR_SEED", config.Explain.GeneratorSeed, 42),
		RecentRetention: getIntFromEnvOrConfig("RECENT_RETENTION", config.System.RecentRetention, 2000),
		HTTPTimeout:     httpTimeout,
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		ArtifactDir:     getEnvOrDefault("ARTIFACT_DIR", "artifacts"),
		ArtifactURL:     os.Getenv("ARTIFACT_URL"), // optional
		DataPath:        os.Getenv("DATA_PATH"),    // optional
		ListenPort:      getIntOrDefault("LISTEN_PORT", 8000),
		MetricsPort:     getIntOrDefault("METRICS_PORT", 9090),
		TopKDefault:     getIntOrDefault("TOP_K_DEFAULT", 6),
		BackgroundRows:  getIntOrDefault("BACKGROUND_ROWS", 50),
		KernelSamples:   getIntOrDefault("KERNEL_SAMPLES", 100),
		GeneratorSeed:   getInt64OrDefault("GENERATOR_SEED", 42),
		RecentRetention: getIntOrDefault("RECENT_RETENTION", 2000),
		HTTPTimeout:     getDurationOrDefault("HTTP_TIMEOUT", 30*time.Second),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getInt64OrDefault(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getInt64FromEnvOrConfig(key string, configValue, defaultValue int64) int64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseInt(env, 10, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func orString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// validateSettings performs validation of configuration values.
func validateSettings(settings *Settings) error {
	if settings.ArtifactDir == "" {
		return fmt.Errorf("artifact directory cannot be empty")
	}
	if settings.ListenPort < 1 || settings.ListenPort > 65535 {
		return fmt.Errorf("listen port must be between 1 and 65535, got %d", settings.ListenPort)
	}
	if settings.MetricsPort < 1 || settings.MetricsPort > 65535 {
		return fmt.Errorf("metrics port must be between 1 and 65535, got %d", settings.MetricsPort)
	}
	if settings.ListenPort == settings.MetricsPort {
		return fmt.Errorf("listen port and metrics port must differ, both are %d", settings.ListenPort)
	}
	if settings.TopKDefault < 1 {
		return fmt.Errorf("default top-k must be at least 1, got %d", settings.TopKDefault)
	}
	if settings.BackgroundRows < 1 || settings.BackgroundRows > 500 {
		return fmt.Errorf("background rows must be between 1 and 500, got %d", settings.BackgroundRows)
	}
	if settings.KernelSamples < 1 || settings.KernelSamples > 10000 {
		return fmt.Errorf("kernel samples must be between 1 and 10000, got %d", settings.KernelSamples)
	}
	if settings.RecentRetention < 1 {
		return fmt.Errorf("recent retention must be at least 1, got %d", settings.RecentRetention)
	}
	if settings.HTTPTimeout < time.Second || settings.HTTPTimeout > 5*time.Minute {
		return fmt.Errorf("HTTP timeout must be between 1s and 5m, got %v", settings.HTTPTimeout)
	}
	return nil
}
