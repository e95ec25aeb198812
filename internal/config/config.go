package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// Mode constants
	ModeStdio  = "stdio"
	ModeServer = "server"

	// Log formats
	LogFormatJSON    = "json"
	LogFormatConsole = "console"

	// Repository drivers
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	// Default values
	DefaultPort            = 8080
	DefaultHost            = "127.0.0.1"
	DefaultLogLevel        = "info"
	DefaultMaxFileSize     = 100 * 1024 * 1024 // 100MB
	DefaultSessionTimeout  = time.Hour
	DefaultSweepInterval   = time.Minute
	DefaultBroadcastBuffer = 64
	DefaultMetricsAddr     = "127.0.0.1:9090"

	// Directory permissions
	DefaultDirPerm = 0o750

	envPrefix = "FORMFILL"
)

// Config holds all configuration for the form-fill MCP server
type Config struct {
	// Server configuration
	Mode string // "server" or "stdio"
	Host string
	Port int

	// Upload directory: PDFs named by relative path are read from here
	PDFDirectory string

	// Application configuration
	Version     string
	ServerName  string
	LogLevel    string
	LogFormat   string
	MaxFileSize int64 // Maximum PDF file size in bytes

	// Persistence
	DBDriver string
	DBDSN    string

	// Blob storage: GCSBucket wins over BlobDir when both are set
	BlobDir   string
	GCSBucket string
	GCSPrefix string

	// Realtime channel; empty keeps broadcasts in-process
	RedisURL string

	// Mapping table path; empty uses the embedded default
	MappingFile string

	// Collaboration
	SessionTimeout  time.Duration
	SweepInterval   time.Duration
	BroadcastBuffer int

	// Ops HTTP listener for /healthz and /metrics; empty disables it
	MetricsAddr string
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	currentDir, err := os.Getwd()
	if err != nil {
		// Fallback to current directory if working directory cannot be determined
		currentDir = "."
	}

	return &Config{
		Mode:            ModeStdio, // Default to stdio mode for MCP compatibility
		Host:            DefaultHost,
		Port:            DefaultPort,
		PDFDirectory:    currentDir,
		Version:         "1.0.0",
		ServerName:      "mcp-pdf-formfill",
		LogLevel:        DefaultLogLevel,
		LogFormat:       LogFormatJSON,
		MaxFileSize:     DefaultMaxFileSize,
		DBDriver:        DriverMemory,
		SessionTimeout:  DefaultSessionTimeout,
		SweepInterval:   DefaultSweepInterval,
		BroadcastBuffer: DefaultBroadcastBuffer,
		MetricsAddr:     DefaultMetricsAddr,
	}
}

// LoadFromFlags parses command line flags and returns a configuration
func LoadFromFlags() (*Config, error) {
	cfg := DefaultConfig()

	setupViperEnvironment(cfg)
	defineCommandLineFlags(cfg)
	bindFlagsToViper()
	setupUsageMessage()

	// Check for version flag before parsing
	if err := checkVersionFlag(); err != nil {
		return nil, err
	}

	pflag.Parse()

	populateConfigFromViper(cfg)

	// Expand paths if needed
	if cfg.PDFDirectory != "" {
		if expandedPath, err := filepath.Abs(cfg.PDFDirectory); err == nil {
			cfg.PDFDirectory = expandedPath
		}
	}
	if cfg.BlobDir == "" && cfg.GCSBucket == "" && cfg.PDFDirectory != "" {
		cfg.BlobDir = filepath.Join(cfg.PDFDirectory, ".formfill", "blobs")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// flagKeys lists every flag that is mirrored into viper
var flagKeys = []string{
	"mode", "host", "port", "dir", "loglevel", "logformat", "maxfilesize",
	"db-driver", "db-dsn", "blob-dir", "gcs-bucket", "gcs-prefix", "redis-url",
	"mapping", "session-timeout", "sweep-interval", "broadcast-buffer", "metrics-addr",
}

// setupViperEnvironment configures viper with environment variables and defaults
func setupViperEnvironment(cfg *Config) {
	// Set environment variable prefix; FORMFILL_DB_DRIVER maps to db-driver
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("mode", cfg.Mode)
	viper.SetDefault("host", cfg.Host)
	viper.SetDefault("port", cfg.Port)
	viper.SetDefault("dir", cfg.PDFDirectory)
	viper.SetDefault("loglevel", cfg.LogLevel)
	viper.SetDefault("logformat", cfg.LogFormat)
	viper.SetDefault("maxfilesize", cfg.MaxFileSize)
	viper.SetDefault("db-driver", cfg.DBDriver)
	viper.SetDefault("db-dsn", cfg.DBDSN)
	viper.SetDefault("blob-dir", cfg.BlobDir)
	viper.SetDefault("gcs-bucket", cfg.GCSBucket)
	viper.SetDefault("gcs-prefix", cfg.GCSPrefix)
	viper.SetDefault("redis-url", cfg.RedisURL)
	viper.SetDefault("mapping", cfg.MappingFile)
	viper.SetDefault("session-timeout", cfg.SessionTimeout)
	viper.SetDefault("sweep-interval", cfg.SweepInterval)
	viper.SetDefault("broadcast-buffer", cfg.BroadcastBuffer)
	viper.SetDefault("metrics-addr", cfg.MetricsAddr)
}

// defineCommandLineFlags sets up all command line flags
func defineCommandLineFlags(cfg *Config) {
	pflag.String("mode", cfg.Mode, "Server mode: 'stdio' for MCP standard I/O, 'server' for HTTP server")
	pflag.String("host", cfg.Host, "Server host address (server mode only)")
	pflag.Int("port", cfg.Port, "Server port (server mode only)")
	pflag.String("dir", cfg.PDFDirectory, "Directory containing uploaded PDF files")
	pflag.String("loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
	pflag.String("logformat", cfg.LogFormat, "Log format (json, console)")
	pflag.Int64("maxfilesize", cfg.MaxFileSize, "Maximum PDF file size in bytes")
	pflag.String("db-driver", cfg.DBDriver, "Document repository (memory, sqlite, postgres)")
	pflag.String("db-dsn", cfg.DBDSN, "Repository DSN: SQLite file path or Postgres connection string")
	pflag.String("blob-dir", cfg.BlobDir, "Directory for original and filled PDFs (default <dir>/.formfill/blobs)")
	pflag.String("gcs-bucket", cfg.GCSBucket, "Google Cloud Storage bucket for PDFs instead of blob-dir")
	pflag.String("gcs-prefix", cfg.GCSPrefix, "Object name prefix inside gcs-bucket")
	pflag.String("redis-url", cfg.RedisURL, "Redis URL for cross-process collaboration events")
	pflag.String("mapping", cfg.MappingFile, "Field mapping table (YAML); empty uses the built-in table")
	pflag.Duration("session-timeout", cfg.SessionTimeout, "Inactivity window before a session is closed")
	pflag.Duration("sweep-interval", cfg.SweepInterval, "How often idle sessions are swept")
	pflag.Int("broadcast-buffer", cfg.BroadcastBuffer, "Per-session event buffer")
	pflag.String("metrics-addr", cfg.MetricsAddr, "Address for /healthz and /metrics; empty disables")
}

// bindFlagsToViper binds command line flags to viper configuration
func bindFlagsToViper() {
	for _, key := range flagKeys {
		_ = viper.BindPFlag(key, pflag.Lookup(key))
	}
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nMCP PDF Form Fill - two-party PDF form completion over the Model Context Protocol\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                                              "+
			"# stdio mode, in-memory documents (default)\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --db-driver=sqlite --db-dsn=formfill.db     "+
			"# persist documents in SQLite\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=server --redis-url=redis://localhost:6379/0 "+
			"# SSE server sharing events through Redis\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  Every flag can be set as %s_<FLAG>, dashes replaced by underscores,\n", envPrefix)
		fmt.Fprintf(os.Stderr, "  e.g. %s_DB_DRIVER=postgres %s_LOGLEVEL=debug\n", envPrefix, envPrefix)
	}
}

// checkVersionFlag checks if version flag was requested
func checkVersionFlag() error {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return fmt.Errorf("version requested")
		}
	}
	return nil
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(cfg *Config) {
	cfg.Mode = viper.GetString("mode")
	cfg.Host = viper.GetString("host")
	cfg.Port = viper.GetInt("port")
	cfg.PDFDirectory = viper.GetString("dir")
	cfg.LogLevel = viper.GetString("loglevel")
	cfg.LogFormat = viper.GetString("logformat")
	cfg.MaxFileSize = viper.GetInt64("maxfilesize")
	cfg.DBDriver = viper.GetString("db-driver")
	cfg.DBDSN = viper.GetString("db-dsn")
	cfg.BlobDir = viper.GetString("blob-dir")
	cfg.GCSBucket = viper.GetString("gcs-bucket")
	cfg.GCSPrefix = viper.GetString("gcs-prefix")
	cfg.RedisURL = viper.GetString("redis-url")
	cfg.MappingFile = viper.GetString("mapping")
	cfg.SessionTimeout = viper.GetDuration("session-timeout")
	cfg.SweepInterval = viper.GetDuration("sweep-interval")
	cfg.BroadcastBuffer = viper.GetInt("broadcast-buffer")
	cfg.MetricsAddr = viper.GetString("metrics-addr")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate mode
	if c.Mode != ModeStdio && c.Mode != ModeServer {
		return errors.New("mode must be either 'stdio' or 'server'")
	}

	// Validate port range (only for server mode)
	if c.Mode == ModeServer && (c.Port < 1 || c.Port > 65535) {
		return errors.New("port must be between 1 and 65535")
	}

	// Validate PDF directory
	if c.PDFDirectory == "" {
		return errors.New("PDF directory cannot be empty")
	}

	// Missing directories are allowed so placeholder paths survive until first use;
	// an existing path must be a directory.
	if info, err := os.Stat(c.PDFDirectory); err == nil && !info.IsDir() {
		return fmt.Errorf("PDF directory %s is not a directory", c.PDFDirectory)
	}

	// Validate max file size
	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}
	if c.LogFormat != LogFormatJSON && c.LogFormat != LogFormatConsole {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.LogFormat)
	}

	switch c.DBDriver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.DBDSN == "" {
			return fmt.Errorf("db-dsn is required for the %s driver", c.DBDriver)
		}
	default:
		return fmt.Errorf("invalid db driver: %s (must be one of: memory, sqlite, postgres)", c.DBDriver)
	}

	if c.BlobDir == "" && c.GCSBucket == "" {
		return errors.New("either blob-dir or gcs-bucket must be set")
	}

	if c.SessionTimeout <= 0 {
		return errors.New("session timeout must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	if c.BroadcastBuffer <= 0 {
		return errors.New("broadcast buffer must be positive")
	}

	return nil
}

// Address returns the server address as host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// LogConfig returns the logger settings
func (c *Config) LogConfig() LogConfig {
	return LogConfig{Level: c.LogLevel, Format: c.LogFormat}
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{Mode: %s, Host: %s, Port: %d, PDFDirectory: %s, LogLevel: %s, MaxFileSize: %d, "+
		"DBDriver: %s, BlobDir: %s, GCSBucket: %s, Redis: %t, SessionTimeout: %s}",
		c.Mode, c.Host, c.Port, c.PDFDirectory, c.LogLevel, c.MaxFileSize,
		c.DBDriver, c.BlobDir, c.GCSBucket, c.RedisURL != "", c.SessionTimeout)
}

// IsServerMode returns true if the server is running in HTTP server mode
func (c *Config) IsServerMode() bool {
	return c.Mode == ModeServer
}

// IsStdioMode returns true if the server is running in stdio mode
func (c *Config) IsStdioMode() bool {
	return c.Mode == ModeStdio
}
