package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/arkui-x/request-task/internal/domain"
	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*domain.Config, error) {
	config := domain.DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.request-task")
		v.AddConfigPath("/etc/request-task")
	}

	// REQTASK_POLL_INTERVAL overrides poll.interval
	v.SetEnvPrefix("REQTASK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config = expandPaths(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// bindEnv registers every key so AutomaticEnv also applies to keys that
// are absent from the config file
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"server.host", "server.port", "server.bundle",
		"database.path",
		"storage.default_path",
		"poll.interval", "poll.max_interval", "poll.backoff_factor", "poll.max_pending_polls", "poll.max_retries",
		"probe.timeout",
		"network.mode", "network.probe_address", "network.cache_ttl",
		"workers.store_pool_size", "workers.call_timeout",
		"download.max_redirects", "download.user_agent",
		"notification.enabled", "notification.sound", "notification.method",
		"logging.level", "logging.format", "logging.output_path", "logging.logs_dir",
	} {
		_ = v.BindEnv(key)
	}
}

// expandPaths expands environment variables in path configurations
func expandPaths(config *domain.Config) *domain.Config {
	config.Database.Path = expandPath(config.Database.Path)
	config.Storage.DefaultPath = expandPath(config.Storage.DefaultPath)
	config.Logging.LogsDir = expandPath(config.Logging.LogsDir)

	if config.Logging.OutputPath != "stdout" && config.Logging.OutputPath != "stderr" {
		config.Logging.OutputPath = expandPath(config.Logging.OutputPath)
	}

	return config
}

// expandPath expands environment variables and ~ in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	if strings.Contains(path, "$HOME") {
		if home, err := os.UserHomeDir(); err == nil {
			path = strings.ReplaceAll(path, "$HOME", home)
		}
	}

	return os.ExpandEnv(path)
}

// validateConfig validates the configuration
func validateConfig(config *domain.Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Path == "" {
		return fmt.Errorf("database path not configured")
	}

	if config.Storage.DefaultPath == "" {
		return fmt.Errorf("default storage path not configured")
	}

	if config.Poll.Interval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	if config.Poll.MaxInterval < config.Poll.Interval {
		config.Poll.MaxInterval = config.Poll.Interval
	}

	if config.Poll.BackoffFactor < 1 {
		return fmt.Errorf("poll backoff factor must be at least 1")
	}

	if config.Poll.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	if config.Poll.MaxPendingPolls < 0 {
		return fmt.Errorf("max pending polls cannot be negative")
	}

	if config.Workers.StorePoolSize < 1 {
		return fmt.Errorf("store pool size must be at least 1")
	}

	switch config.Network.Mode {
	case "auto", "wifi", "cellular", "none":
	default:
		return fmt.Errorf("unknown network mode: %s", config.Network.Mode)
	}

	if config.Download.MaxRedirects < 0 {
		return fmt.Errorf("max redirects cannot be negative")
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}

	return nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *domain.Config, path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("server", config.Server)
	v.Set("database", config.Database)
	v.Set("storage", config.Storage)
	v.Set("poll", config.Poll)
	v.Set("probe", config.Probe)
	v.Set("network", config.Network)
	v.Set("workers", config.Workers)
	v.Set("download", config.Download)
	v.Set("notification", config.Notification)
	v.Set("logging", config.Logging)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
