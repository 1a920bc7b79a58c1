package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server"`

	// Storage configuration
	Storage StorageConfig `json:"storage"`

	// Database configuration (PostgreSQL backend)
	Database DatabaseConfig `json:"database"`

	// Mongo configuration (alternate storage backend)
	Mongo MongoConfig `json:"mongo"`

	// Telemetry configuration
	Telemetry TelemetryConfig `json:"telemetry"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// CORS configuration
	CORS CORSConfig `json:"cors"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// StorageConfig selects the reading-store backend
type StorageConfig struct {
	Backend string `json:"backend"` // postgres or mongo
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
	MaxConns int    `json:"max_conns"`
	MinConns int    `json:"min_conns"`
}

// MongoConfig holds MongoDB-related configuration
type MongoConfig struct {
	URI    string `json:"uri"`
	DBName string `json:"db_name"`
}

// TelemetryConfig holds the device connection manager configuration
type TelemetryConfig struct {
	// TopicPrefix is the per-device subscription prefix; the session
	// subscribes to <prefix>/<device_name>/data.
	TopicPrefix string `json:"topic_prefix"`

	// ClientIDPrefix is prepended to generated MQTT client IDs.
	ClientIDPrefix string `json:"client_id_prefix"`

	// DemoBrokerHosts lists public demo brokers that get simulated
	// traffic while connected.
	DemoBrokerHosts []string `json:"demo_broker_hosts"`

	ProbeTimeout      time.Duration `json:"probe_timeout"`
	ConnectTimeout    time.Duration `json:"connect_timeout"`
	KeepAlive         time.Duration `json:"keep_alive"`
	SimulatorInterval time.Duration `json:"simulator_interval"`
	SweeperInterval   time.Duration `json:"sweeper_interval"`
	OfflineTimeout    time.Duration `json:"offline_timeout"`

	// ArchiveEnabled mirrors each reading into the history table in
	// the same transaction.
	ArchiveEnabled bool `json:"archive_enabled"`

	// DisplayTimezone is the IANA zone used for outbound event
	// timestamps.
	DisplayTimezone string `json:"display_timezone"`

	// BootLockPath is the advisory file lock guarding broker
	// ownership across processes on the same host.
	BootLockPath string `json:"boot_lock_path"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level        string `json:"level"`
	Format       string `json:"format"` // json or text
	Output       string `json:"output"` // stdout or stderr
	EnableCaller bool   `json:"enable_caller"`
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	ExposedHeaders   []string `json:"exposed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age"`
}

// Load loads configuration from environment variables with fallback defaults
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	if err := godotenv.Load(); err != nil {
		// Environment variables can also be set directly
	}

	config := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "9010"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
		},
		Storage: StorageConfig{
			Backend: getEnv("STORAGE_BACKEND", "postgres"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "telemetry"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			DBName:   getEnv("POSTGRES_DB", "telemetry"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
			MaxConns: getInt("POSTGRES_MAX_CONNS", 25),
			MinConns: getInt("POSTGRES_MIN_CONNS", 5),
		},
		Mongo: MongoConfig{
			URI:    getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			DBName: getEnv("MONGODB_DB", "telemetry"),
		},
		Telemetry: TelemetryConfig{
			TopicPrefix:       getEnv("TELEMETRY_TOPIC_PREFIX", "francauto/devices"),
			ClientIDPrefix:    getEnv("TELEMETRY_CLIENT_ID_PREFIX", "francauto"),
			DemoBrokerHosts:   getStringSlice("TELEMETRY_DEMO_BROKERS", []string{"test.mosquitto.org", "broker.hivemq.com"}),
			ProbeTimeout:      getDuration("TELEMETRY_PROBE_TIMEOUT", 3*time.Second),
			ConnectTimeout:    getDuration("TELEMETRY_CONNECT_TIMEOUT", 10*time.Second),
			KeepAlive:         getDuration("TELEMETRY_KEEP_ALIVE", 60*time.Second),
			SimulatorInterval: getDuration("TELEMETRY_SIMULATOR_INTERVAL", 5*time.Second),
			SweeperInterval:   getDuration("TELEMETRY_SWEEPER_INTERVAL", 30*time.Second),
			OfflineTimeout:    getDuration("TELEMETRY_OFFLINE_TIMEOUT", 2*time.Minute),
			ArchiveEnabled:    getBool("TELEMETRY_ARCHIVE_ENABLED", true),
			DisplayTimezone:   getEnv("TELEMETRY_DISPLAY_TIMEZONE", "UTC"),
			BootLockPath:      getEnv("TELEMETRY_BOOT_LOCK_PATH", os.TempDir()+"/telemetry_mqtt_init.lock"),
		},
		Logging: LoggingConfig{
			Level:        getEnv("LOG_LEVEL", "info"),
			Format:       getEnv("LOG_FORMAT", "text"),
			Output:       getEnv("LOG_OUTPUT", "stdout"),
			EnableCaller: getBool("LOG_ENABLE_CALLER", false),
		},
		CORS: CORSConfig{
			AllowedOrigins:   getStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedMethods:   getStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
			AllowedHeaders:   getStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "Authorization"}),
			ExposedHeaders:   getStringSlice("CORS_EXPOSED_HEADERS", []string{"Content-Length"}),
			AllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", true),
			MaxAge:           getInt("CORS_MAX_AGE", 43200), // 12 hours
		},
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "postgres", "mongo":
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND: %q (expected postgres or mongo)", c.Storage.Backend)
	}
	if c.Storage.Backend == "postgres" && c.Database.User == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if c.Telemetry.TopicPrefix == "" {
		return fmt.Errorf("TELEMETRY_TOPIC_PREFIX must not be empty")
	}
	if c.Telemetry.OfflineTimeout <= c.Telemetry.SweeperInterval {
		log.Println("WARNING: TELEMETRY_OFFLINE_TIMEOUT is not larger than the sweeper interval; devices may flap offline")
	}
	if _, err := time.LoadLocation(c.Telemetry.DisplayTimezone); err != nil {
		return fmt.Errorf("invalid TELEMETRY_DISPLAY_TIMEZONE: %w", err)
	}
	return nil
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password, c.Database.DBName, c.Database.SSLMode)
}

// DisplayLocation returns the configured display timezone. Validate has
// already rejected unknown zones, so failures fall back to UTC.
func (c *Config) DisplayLocation() *time.Location {
	loc, err := time.LoadLocation(c.Telemetry.DisplayTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return intValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if value == "1" || value == "true" || value == "TRUE" {
		return true
	}
	if value == "0" || value == "false" || value == "FALSE" {
		return false
	}
	log.Fatalf("invalid %s: %q (expected true/false or 1/0)", key, value)
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return duration
}

func getStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Simple comma-separated parsing
	parts := make([]string, 0)
	for _, part := range splitString(value, ",") {
		if trimmed := trimString(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Simple string splitting and trimming helpers
func splitString(s, sep string) []string {
	if s == "" {
		return []string{}
	}
	parts := make([]string, 0)
	start := 0
	for i := 0; i < len(s); i++ {
		if i+len(sep) <= len(s) && s[i:i+len(sep)] == sep {
			parts = append(parts, s[start:i])
			start = i + len(sep)
			i += len(sep) - 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func trimString(s string) string {
	start := 0
	end := len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '\n' || s[start] == '\r') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\n' || s[end-1] == '\r') {
		end--
	}
	return s[start:end]
}
