package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `json:"server"`
	Database      DatabaseConfig      `json:"database"`
	AWS           AWSConfig           `json:"aws"`
	Storage       StorageConfig       `json:"storage"`
	Security      SecurityConfig      `json:"security"`
	Logging       LoggingConfig       `json:"logging"`
	Notifications NotificationsConfig `json:"notifications"`
	Workers       WorkersConfig       `json:"workers"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	Mode            string        `json:"mode"` // debug, release, test
	AllowedOrigins  []string      `json:"allowed_origins"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleConns   int           `json:"max_idle_conns"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
}

// AWSConfig is shared by the S3, SNS and SES clients. Leaving the keys empty
// falls back to the default credential chain.
type AWSConfig struct {
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
}

// StorageConfig
type StorageConfig struct {
	Driver         string        `json:"driver"` // s3, memory
	Bucket         string        `json:"bucket"`
	UsePathStyle   bool          `json:"use_path_style"`
	PresignTTL     time.Duration `json:"presign_ttl"`
	UploadTimeout  time.Duration `json:"upload_timeout"`
	MaxUploadBytes int64         `json:"max_upload_bytes"`
}

// SecurityConfig
type SecurityConfig struct {
	JWTSecret       string `json:"jwt_secret"`
	JWTIssuer       string `json:"jwt_issuer"`
	SignatureIssuer string `json:"signature_issuer"`
	SignatureTitle  string `json:"signature_subject"`
}

// LoggingConfig
type LoggingConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// NotificationsConfig
type NotificationsConfig struct {
	SNSTopicARN      string        `json:"sns_topic_arn"`
	SESSender        string        `json:"ses_sender"`
	Timeout          time.Duration `json:"timeout"`
	WebsocketEnabled bool          `json:"websocket_enabled"`
}

// WorkersConfig
type WorkersConfig struct {
	SweepSchedule string `json:"sweep_schedule"`
	BatchSize     int    `json:"batch_size"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Mode:            "release",
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "ig_docs",
			SSLMode:        "disable",
			MaxConnections: 25,
			MaxIdleConns:   5,
			MaxLifetime:    30 * time.Minute,
		},
		AWS: AWSConfig{
			Region: "ap-south-1",
		},
		Storage: StorageConfig{
			Driver:         "s3",
			Bucket:         "ig-docs",
			PresignTTL:     time.Hour,
			UploadTimeout:  30 * time.Second,
			MaxUploadBytes: 5 << 20,
		},
		Security: SecurityConfig{
			SignatureIssuer: "IG Drones India pvt. Ltd.",
			SignatureTitle:  "Signed by IG Docs",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Notifications: NotificationsConfig{
			Timeout:          5 * time.Second,
			WebsocketEnabled: true,
		},
		Workers: WorkersConfig{
			SweepSchedule: "0 */15 * * * *",
			BatchSize:     100,
		},
	}
}

// LoadConfig loads configuration from .env, the JSON file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	// .env is optional; real environment variables win over it
	_ = godotenv.Load()

	config := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	overrideWithEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func overrideWithEnv(config *Config) {
	setString(&config.Server.Host, "SERVER_HOST")
	setInt(&config.Server.Port, "SERVER_PORT")
	setString(&config.Server.Mode, "GIN_MODE")
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		config.Server.AllowedOrigins = strings.Split(v, ",")
	}

	setString(&config.Database.Host, "DATABASE_HOST")
	setInt(&config.Database.Port, "DATABASE_PORT")
	setString(&config.Database.User, "DATABASE_USER")
	setString(&config.Database.Password, "DATABASE_PASSWORD")
	setString(&config.Database.DBName, "DATABASE_DBNAME")
	setString(&config.Database.SSLMode, "DATABASE_SSLMODE")

	setString(&config.AWS.Region, "AWS_REGION")
	setString(&config.AWS.Endpoint, "AWS_ENDPOINT_URL")
	setString(&config.AWS.AccessKeyID, "AWS_ACCESS_KEY_ID")
	setString(&config.AWS.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")

	setString(&config.Storage.Driver, "STORAGE_DRIVER")
	setString(&config.Storage.Bucket, "S3_BUCKET")
	setBool(&config.Storage.UsePathStyle, "S3_USE_PATH_STYLE")
	setDuration(&config.Storage.PresignTTL, "S3_PRESIGN_TTL")
	setDuration(&config.Storage.UploadTimeout, "S3_UPLOAD_TIMEOUT")

	setString(&config.Security.JWTSecret, "JWT_SECRET")
	setString(&config.Security.JWTIssuer, "JWT_ISSUER")
	setString(&config.Security.SignatureIssuer, "SIGNATURE_ISSUER")

	setString(&config.Logging.Level, "LOG_LEVEL")
	setBool(&config.Logging.Development, "LOG_DEVELOPMENT")

	setString(&config.Notifications.SNSTopicARN, "SNS_TOPIC_ARN")
	setString(&config.Notifications.SESSender, "SES_SENDER")
	setBool(&config.Notifications.WebsocketEnabled, "WEBSOCKET_ENABLED")

	setString(&config.Workers.SweepSchedule, "SWEEP_SCHEDULE")
	setInt(&config.Workers.BatchSize, "SWEEP_BATCH_SIZE")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Validate rejects configurations the server cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Security.JWTSecret == "" {
		errs = append(errs, errors.New("security.jwt_secret is required"))
	}
	if c.Storage.Driver != "s3" && c.Storage.Driver != "memory" {
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}
	if c.Storage.Driver == "s3" && c.Storage.Bucket == "" {
		errs = append(errs, errors.New("storage.bucket is required"))
	}
	if c.Storage.UploadTimeout <= 0 {
		errs = append(errs, errors.New("storage.upload_timeout must be positive"))
	}
	if c.Storage.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("storage.max_upload_bytes must be positive"))
	}
	return errors.Join(errs...)
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
