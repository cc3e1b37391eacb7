package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" envconfig:"SERVER"`
	Logging    LoggingConfig    `yaml:"logging" envconfig:"LOGGING"`
	WebSocket  WebSocketConfig  `yaml:"websocket" envconfig:"WEBSOCKET"`
	Operations OperationsConfig `yaml:"operations" envconfig:"OPERATIONS"`
	Storage    StorageConfig    `yaml:"storage" envconfig:"STORAGE"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps" envconfig:"RATE_LIMIT_RPS" default:"50"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" envconfig:"RATE_LIMIT_BURST" default:"100"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/app.log"`
}

// WebSocketConfig contains live channel configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE" default:"1024"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE" default:"1024"`
	SendBufferSize  int           `yaml:"send_buffer_size" envconfig:"SEND_BUFFER_SIZE" default:"256"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT" default:"60s"`
	WriteWait       time.Duration `yaml:"write_wait" envconfig:"WRITE_WAIT" default:"10s"`
	SweepInterval   time.Duration `yaml:"sweep_interval" envconfig:"SWEEP_INTERVAL" default:"1m"`
	IdleThreshold   time.Duration `yaml:"idle_threshold" envconfig:"IDLE_THRESHOLD" default:"5m"`
}

// OperationsConfig controls the bulk-operation executor
type OperationsConfig struct {
	ItemTimeout      time.Duration `yaml:"item_timeout" envconfig:"ITEM_TIMEOUT" default:"2m"`
	InterItemRate    float64       `yaml:"inter_item_rate" envconfig:"INTER_ITEM_RATE" default:"10"`
	MaxConcurrent    int64         `yaml:"max_concurrent" envconfig:"MAX_CONCURRENT" default:"8"`
	Retention        time.Duration `yaml:"retention" envconfig:"RETENTION" default:"24h"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval" envconfig:"CLEANUP_INTERVAL" default:"1h"`
	MaxErrorLength   int           `yaml:"max_error_length" envconfig:"MAX_ERROR_LENGTH" default:"512"`
	ListDefaultLimit int           `yaml:"list_default_limit" envconfig:"LIST_DEFAULT_LIMIT" default:"50"`
}

// StorageConfig contains paths for uploaded file storage
type StorageConfig struct {
	UploadDir string `yaml:"upload_dir" envconfig:"UPLOAD_DIR" default:"data/uploads"`
	LogsDir   string `yaml:"logs_dir" envconfig:"LOGS_DIR" default:"logs"`
}

// Load loads configuration from environment variables and an optional config file
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("INVOICEFLOW", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	configFile := configFilePath()
	if _, err := os.Stat(configFile); err == nil {
		fileConfig, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileConfig, cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// configFilePath returns the config file location, overridable via env
func configFilePath() string {
	if path := os.Getenv("INVOICEFLOW_CONFIG_FILE"); path != "" {
		return path
	}
	return "config.yaml"
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs merges file config with env config (env takes precedence)
func mergeConfigs(fileConfig, envConfig Config) Config {
	if envConfig.Server.Port == 0 {
		envConfig.Server.Port = fileConfig.Server.Port
	}
	if envConfig.Server.ReadTimeout == 0 {
		envConfig.Server.ReadTimeout = fileConfig.Server.ReadTimeout
	}
	if envConfig.Server.WriteTimeout == 0 {
		envConfig.Server.WriteTimeout = fileConfig.Server.WriteTimeout
	}
	if envConfig.Logging.Level == "" {
		envConfig.Logging.Level = fileConfig.Logging.Level
	}
	if envConfig.Logging.FilePath == "" {
		envConfig.Logging.FilePath = fileConfig.Logging.FilePath
	}
	if envConfig.Operations.ItemTimeout == 0 {
		envConfig.Operations.ItemTimeout = fileConfig.Operations.ItemTimeout
	}
	if envConfig.Operations.Retention == 0 {
		envConfig.Operations.Retention = fileConfig.Operations.Retention
	}
	if envConfig.Storage.UploadDir == "" {
		envConfig.Storage.UploadDir = fileConfig.Storage.UploadDir
	}
	return envConfig
}

// validate checks configuration invariants after load
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Operations.ItemTimeout <= 0 {
		return fmt.Errorf("item timeout must be positive, got %s", c.Operations.ItemTimeout)
	}
	if c.Operations.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent operations must be positive, got %d", c.Operations.MaxConcurrent)
	}
	if c.WebSocket.PongWait <= c.WebSocket.WriteWait {
		return fmt.Errorf("pong wait (%s) must exceed write wait (%s)", c.WebSocket.PongWait, c.WebSocket.WriteWait)
	}
	return nil
}

// EnsureDirectories creates the directories the application writes into
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Storage.UploadDir, c.Storage.LogsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
