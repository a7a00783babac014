package domain

import "time"

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Poll         PollConfig         `mapstructure:"poll"`
	Probe        ProbeConfig        `mapstructure:"probe"`
	Network      NetworkConfig      `mapstructure:"network"`
	Workers      WorkersConfig      `mapstructure:"workers"`
	Download     DownloadConfig     `mapstructure:"download"`
	Notification NotificationConfig `mapstructure:"notification"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	Bundle string `mapstructure:"bundle"` // owner recorded on created tasks
}

// DatabaseConfig locates the task record store
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig contains local storage configuration
type StorageConfig struct {
	DefaultPath string `mapstructure:"default_path"`
}

// PollConfig tunes the progress poll of running downloads
type PollConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	BackoffFactor   float64       `mapstructure:"backoff_factor"`
	MaxPendingPolls int           `mapstructure:"max_pending_polls"`
	MaxRetries      int           `mapstructure:"max_retries"`
}

// ProbeConfig tunes the pre-flight request
type ProbeConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// NetworkConfig selects how connectivity is detected
type NetworkConfig struct {
	Mode         string        `mapstructure:"mode"` // auto, wifi, cellular, none
	ProbeAddress string        `mapstructure:"probe_address"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// WorkersConfig sizes the store worker pool
type WorkersConfig struct {
	StorePoolSize int           `mapstructure:"store_pool_size"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
}

// DownloadConfig tunes the built-in download service
type DownloadConfig struct {
	MaxRedirects int    `mapstructure:"max_redirects"`
	UserAgent    string `mapstructure:"user_agent"`
}

// NotificationConfig contains notification-related configuration
type NotificationConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Sound   bool   `mapstructure:"sound"`
	Method  string `mapstructure:"method"` // osascript, notify-send
}

// LoggingConfig contains logging-related configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, or file path
	LogsDir    string `mapstructure:"logs_dir"`    // category log files; empty disables them
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:   "localhost",
			Port:   8090,
			Bundle: "request-task",
		},
		Database: DatabaseConfig{
			Path: "$HOME/.request-task/tasks.db",
		},
		Storage: StorageConfig{
			DefaultPath: "$HOME/.request-task/cache",
		},
		Poll: PollConfig{
			Interval:        time.Second,
			MaxInterval:     5 * time.Second,
			BackoffFactor:   1.5,
			MaxPendingPolls: 3,
			MaxRetries:      3,
		},
		Probe: ProbeConfig{
			Timeout: 5 * time.Second,
		},
		Network: NetworkConfig{
			Mode:         "auto",
			ProbeAddress: "1.1.1.1:53",
			CacheTTL:     5 * time.Second,
		},
		Workers: WorkersConfig{
			StorePoolSize: 4,
			CallTimeout:   10 * time.Second,
		},
		Download: DownloadConfig{
			MaxRedirects: 10,
			UserAgent:    "request-task/1.0",
		},
		Notification: NotificationConfig{
			Enabled: false,
			Sound:   false,
			Method:  "notify-send",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stdout",
			LogsDir:    "$HOME/.request-task/logs",
		},
	}
}
