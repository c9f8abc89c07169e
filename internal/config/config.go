package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Overflow policies applied when a backup would exceed a retention ceiling.
const (
	OverflowRefuse = "refuse"
	OverflowEvict  = "evict"
)

// Console modes.
const (
	ConsoleExec = "exec"
	ConsoleRCON = "rcon"
)

// Config holds the application configuration.
type Config struct {
	ServerPort int    `yaml:"port"`
	GamePort   int    `yaml:"gamePort"`
	RCONPort   int    `yaml:"rconPort"`
	Image      string `yaml:"serverImage"`

	MaxServers        int `yaml:"maxServers"`
	MaxRunningServers int `yaml:"maxRunningServers"`

	BackupPath          string `yaml:"backupPath"`
	MaxBackupsPerServer int    `yaml:"maxBackupsPerServer"`
	MaxTotalBackups     int    `yaml:"maxTotalBackups"`
	BackupOverflow      string `yaml:"backupOverflow"`
	MinFreeDiskBytes    uint64 `yaml:"minFreeDiskBytes"`
	AutoBackupCron      string `yaml:"autoBackupCron"`

	IconPath     string `yaml:"iconPath"`
	DatabasePath string `yaml:"databasePath"`

	LockFile       string        `yaml:"lockFile"`
	LockTimeout    time.Duration `yaml:"lockTimeout"`
	HealthInterval time.Duration `yaml:"healthInterval"`
	HealthTimeout  time.Duration `yaml:"healthTimeout"`
	StopTimeout    time.Duration `yaml:"stopTimeout"`
	StatsInterval  time.Duration `yaml:"statsInterval"`

	ConsoleMode  string `yaml:"consoleMode"`
	RCONHost     string `yaml:"rconHost"`
	RCONPassword string `yaml:"rconPassword"`

	JWTSecret   string   `yaml:"jwtSecret"`
	CORSOrigins []string `yaml:"corsOrigins"`

	LogLevel  string `yaml:"logLevel"`
	LogPretty bool   `yaml:"logPretty"`

	Minio MinioConfig `yaml:"minio"`
}

// MinioConfig configures the optional off-site backup mirror. An empty Endpoint disables it.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
	Region    string `yaml:"region"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ServerPort:          8080,
		GamePort:            25565,
		RCONPort:            25575,
		Image:               "itzg/minecraft-server:latest",
		MaxServers:          10,
		MaxRunningServers:   1,
		BackupPath:          "./backups",
		MaxBackupsPerServer: 7,
		MaxTotalBackups:     50,
		BackupOverflow:      OverflowRefuse,
		MinFreeDiskBytes:    1 << 30,
		IconPath:            "./icons",
		DatabasePath:        "./events.db",
		LockTimeout:         5 * time.Minute,
		HealthInterval:      5 * time.Second,
		HealthTimeout:       5 * time.Minute,
		StopTimeout:         60 * time.Second,
		StatsInterval:       15 * time.Second,
		ConsoleMode:         ConsoleExec,
		RCONHost:            "127.0.0.1",
		RCONPassword:        "minecraft",
		CORSOrigins:         []string{"*"},
		LogLevel:            "info",
		Minio:               MinioConfig{Bucket: "minecraft-backups", Region: "us-east-1"},
	}
}

// Load builds the configuration from defaults, then the YAML file named by CONFIG_FILE (if any),
// then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	e := envReader{}
	e.int("PORT", &cfg.ServerPort)
	e.int("GAME_PORT", &cfg.GamePort)
	e.int("RCON_PORT", &cfg.RCONPort)
	e.str("SERVER_IMAGE", &cfg.Image)
	e.int("MAX_SERVERS", &cfg.MaxServers)
	e.int("MAX_RUNNING_SERVERS", &cfg.MaxRunningServers)
	e.str("BACKUP_PATH", &cfg.BackupPath)
	e.int("MAX_BACKUPS_PER_SERVER", &cfg.MaxBackupsPerServer)
	e.int("MAX_TOTAL_BACKUPS", &cfg.MaxTotalBackups)
	e.str("BACKUP_OVERFLOW", &cfg.BackupOverflow)
	e.uint("MIN_FREE_DISK_BYTES", &cfg.MinFreeDiskBytes)
	e.str("AUTO_BACKUP_CRON", &cfg.AutoBackupCron)
	e.str("ICON_PATH", &cfg.IconPath)
	e.str("DATABASE_PATH", &cfg.DatabasePath)
	e.str("LOCK_FILE", &cfg.LockFile)
	e.duration("LOCK_TIMEOUT", &cfg.LockTimeout)
	e.duration("HEALTH_INTERVAL", &cfg.HealthInterval)
	e.duration("HEALTH_TIMEOUT", &cfg.HealthTimeout)
	e.duration("STOP_TIMEOUT", &cfg.StopTimeout)
	e.duration("STATS_INTERVAL", &cfg.StatsInterval)
	e.str("CONSOLE_MODE", &cfg.ConsoleMode)
	e.str("RCON_HOST", &cfg.RCONHost)
	e.str("RCON_PASSWORD", &cfg.RCONPassword)
	e.str("JWT_SECRET", &cfg.JWTSecret)
	e.list("CORS_ORIGINS", &cfg.CORSOrigins)
	e.str("LOG_LEVEL", &cfg.LogLevel)
	e.bool("LOG_PRETTY", &cfg.LogPretty)
	e.str("MINIO_ENDPOINT", &cfg.Minio.Endpoint)
	e.str("MINIO_ACCESS_KEY", &cfg.Minio.AccessKey)
	e.str("MINIO_SECRET_KEY", &cfg.Minio.SecretKey)
	e.str("MINIO_BUCKET", &cfg.Minio.Bucket)
	e.bool("MINIO_USE_SSL", &cfg.Minio.UseSSL)
	e.str("MINIO_REGION", &cfg.Minio.Region)
	if e.err != nil {
		return nil, e.err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.JWTSecret == "":
		return fmt.Errorf("JWT_SECRET must be set")
	case c.MaxServers < 1:
		return fmt.Errorf("MAX_SERVERS must be at least 1")
	case c.MaxRunningServers < 1:
		return fmt.Errorf("MAX_RUNNING_SERVERS must be at least 1")
	case c.MaxBackupsPerServer < 1 || c.MaxTotalBackups < 1:
		return fmt.Errorf("backup ceilings must be at least 1")
	case c.BackupOverflow != OverflowRefuse && c.BackupOverflow != OverflowEvict:
		return fmt.Errorf("BACKUP_OVERFLOW must be %q or %q, got %q", OverflowRefuse, OverflowEvict, c.BackupOverflow)
	case c.ConsoleMode != ConsoleExec && c.ConsoleMode != ConsoleRCON:
		return fmt.Errorf("CONSOLE_MODE must be %q or %q, got %q", ConsoleExec, ConsoleRCON, c.ConsoleMode)
	case c.HealthInterval <= 0 || c.HealthTimeout <= 0:
		return fmt.Errorf("health interval and timeout must be positive")
	}
	return nil
}

// Helper to get an environment variable with a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// envReader overrides fields from set environment variables and keeps the first parse error.
type envReader struct {
	err error
}

func (e *envReader) lookup(key string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	return os.LookupEnv(key)
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = n
}

func (e *envReader) uint(key string, dst *uint64) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		e.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = n
}

func (e *envReader) bool(key string, dst *bool) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = b
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = d
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	var items []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*dst = items
}
