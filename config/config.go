package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration. Values come from an optional
// YAML file (PLAYBELL_CONFIG) and are overridden by environment variables.
type Config struct {
	ServerPort int    `yaml:"serverPort"`
	PublicURL  string `yaml:"publicURL"`
	LogLevel   string `yaml:"logLevel"`
	LogDir     string `yaml:"logDir"`

	Auth     AuthConfig     `yaml:"auth"`
	Store    StoreConfig    `yaml:"store"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	MQ       MQConfig       `yaml:"mq"`
	Telegram TelegramConfig `yaml:"telegram"`
	Email    EmailConfig    `yaml:"email"`
}

type AuthConfig struct {
	JWTSecret         string        `yaml:"jwtSecret"`
	SessionTTL        time.Duration `yaml:"sessionTTL"`
	BcryptCost        int           `yaml:"bcryptCost"`
	PasswordMinLength int           `yaml:"passwordMinLength"`
	SecureCookie      bool          `yaml:"secureCookie"`

	// SuperadminUsername/SuperadminPassword seed the superadmin account on
	// startup when none exists. Seeding is skipped without a password.
	SuperadminUsername string `yaml:"superadminUsername"`
	SuperadminPassword string `yaml:"superadminPassword"`
}

// StoreConfig selects the record store backend: "file" or "postgres".
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Dir    string `yaml:"dir"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbName"`
	UseSSL   bool   `yaml:"useSSL"`
}

// StorageConfig selects the asset backend: "local", "minio" or "gcs".
type StorageConfig struct {
	Driver string      `yaml:"driver"`
	Local  LocalConfig `yaml:"local"`
	Minio  MinioConfig `yaml:"minio"`
	GCS    GCSConfig   `yaml:"gcs"`
}

type LocalConfig struct {
	Dir string `yaml:"dir"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
}

type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	ProjectID       string `yaml:"projectID"`
	CredentialsFile string `yaml:"credentialsFile"`
}

// MQConfig selects the notification queue backend: "memory", "redis",
// "rabbitmq" or "pubsub".
type MQConfig struct {
	Driver   string         `yaml:"driver"`
	Channel  string         `yaml:"channel"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	PubSub   PubSubConfig   `yaml:"pubsub"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Consumer names this process in the consumer group. Random when empty.
	Consumer string `yaml:"consumer"`
	// ClaimIdle is how long an entry must sit unacked before another
	// consumer takes it over.
	ClaimIdle time.Duration `yaml:"claimIdle"`
}

type RabbitMQConfig struct {
	URL             string `yaml:"url"`
	PrefetchCount   int    `yaml:"prefetchCount"`
	QueueDurable    bool   `yaml:"queueDurable"`
	QueueAutoDelete bool   `yaml:"queueAutoDelete"`
}

type PubSubConfig struct {
	ProjectID          string `yaml:"projectID"`
	CredentialsFile    string `yaml:"credentialsFile"`
	SubscriptionSuffix string `yaml:"subscriptionSuffix"`
}

type TelegramConfig struct {
	BotToken     string        `yaml:"botToken"`
	ChatID       string        `yaml:"chatID"`
	PollInterval time.Duration `yaml:"pollInterval"`
}

type EmailConfig struct {
	ResendAPIKey string `yaml:"resendAPIKey"`
	From         string `yaml:"from"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		ServerPort: 3000,
		PublicURL:  "http://localhost:3000",
		LogLevel:   "info",
		Auth: AuthConfig{
			SessionTTL:         24 * time.Hour,
			BcryptCost:         10,
			PasswordMinLength:  6,
			SuperadminUsername: "superadmin",
		},
		Store: StoreConfig{
			Driver: "file",
			Dir:    "data",
		},
		Database: DatabaseConfig{
			Host:   "localhost",
			Port:   5432,
			User:   "playbell",
			DBName: "playbell_db",
		},
		Storage: StorageConfig{
			Driver: "local",
			Local:  LocalConfig{Dir: "uploads"},
		},
		MQ: MQConfig{
			Driver:  "memory",
			Channel: "playbell.notifications",
		},
		Telegram: TelegramConfig{
			PollInterval: 3 * time.Second,
		},
		Email: EmailConfig{
			From: "PlayBell <onboarding@resend.dev>",
		},
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// and the environment, in that order.
func LoadConfig() (Config, error) {
	if os.Getenv("ENV") == "dev" {
		_ = godotenv.Load()
	}

	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("PLAYBELL_CONFIG")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.ServerPort = getEnvInt("SERVER_PORT", cfg.ServerPort)
	cfg.PublicURL = getEnv("PUBLIC_URL", cfg.PublicURL)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogDir = getEnv("LOG_DIR", cfg.LogDir)

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.SessionTTL = getEnvDuration("SESSION_TTL", cfg.Auth.SessionTTL)
	cfg.Auth.BcryptCost = getEnvInt("BCRYPT_COST", cfg.Auth.BcryptCost)
	cfg.Auth.PasswordMinLength = getEnvInt("PASSWORD_MIN_LENGTH", cfg.Auth.PasswordMinLength)
	cfg.Auth.SecureCookie = getEnvBool("SECURE_COOKIE", cfg.Auth.SecureCookie)
	cfg.Auth.SuperadminUsername = getEnv("SUPERADMIN_USERNAME", cfg.Auth.SuperadminUsername)
	cfg.Auth.SuperadminPassword = getEnv("SUPERADMIN_PASSWORD", cfg.Auth.SuperadminPassword)

	cfg.Store.Driver = getEnv("STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.Dir = getEnv("DATA_DIR", cfg.Store.Dir)

	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.DBName = getEnv("DB_NAME", cfg.Database.DBName)
	cfg.Database.UseSSL = getEnvBool("DB_USE_SSL", cfg.Database.UseSSL)

	cfg.Storage.Driver = getEnv("STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.Local.Dir = getEnv("UPLOAD_DIR", cfg.Storage.Local.Dir)
	cfg.Storage.Minio.Endpoint = getEnv("MINIO_ENDPOINT", cfg.Storage.Minio.Endpoint)
	cfg.Storage.Minio.AccessKey = getEnv("MINIO_ACCESS_KEY", cfg.Storage.Minio.AccessKey)
	cfg.Storage.Minio.SecretKey = getEnv("MINIO_SECRET_KEY", cfg.Storage.Minio.SecretKey)
	cfg.Storage.Minio.Bucket = getEnv("MINIO_BUCKET", cfg.Storage.Minio.Bucket)
	cfg.Storage.Minio.UseSSL = getEnvBool("MINIO_USE_SSL", cfg.Storage.Minio.UseSSL)
	cfg.Storage.GCS.Bucket = getEnv("GCS_BUCKET", cfg.Storage.GCS.Bucket)
	cfg.Storage.GCS.ProjectID = getEnv("GCS_PROJECT_ID", cfg.Storage.GCS.ProjectID)
	cfg.Storage.GCS.CredentialsFile = getEnv("GCS_CREDENTIALS_FILE", cfg.Storage.GCS.CredentialsFile)

	cfg.MQ.Driver = getEnv("MQ_DRIVER", cfg.MQ.Driver)
	cfg.MQ.Channel = getEnv("MQ_CHANNEL", cfg.MQ.Channel)
	cfg.MQ.Redis.Addr = getEnv("REDIS_ADDR", cfg.MQ.Redis.Addr)
	cfg.MQ.Redis.Password = getEnv("REDIS_PASSWORD", cfg.MQ.Redis.Password)
	cfg.MQ.Redis.DB = getEnvInt("REDIS_DB", cfg.MQ.Redis.DB)
	cfg.MQ.Redis.Consumer = getEnv("REDIS_CONSUMER", cfg.MQ.Redis.Consumer)
	cfg.MQ.Redis.ClaimIdle = getEnvDuration("REDIS_CLAIM_IDLE", cfg.MQ.Redis.ClaimIdle)
	cfg.MQ.RabbitMQ.URL = getEnv("RABBITMQ_URL", cfg.MQ.RabbitMQ.URL)
	cfg.MQ.RabbitMQ.PrefetchCount = getEnvInt("RABBITMQ_PREFETCH", cfg.MQ.RabbitMQ.PrefetchCount)
	cfg.MQ.RabbitMQ.QueueDurable = getEnvBool("RABBITMQ_QUEUE_DURABLE", cfg.MQ.RabbitMQ.QueueDurable)
	cfg.MQ.PubSub.ProjectID = getEnv("PUBSUB_PROJECT_ID", cfg.MQ.PubSub.ProjectID)
	cfg.MQ.PubSub.CredentialsFile = getEnv("PUBSUB_CREDENTIALS_FILE", cfg.MQ.PubSub.CredentialsFile)

	cfg.Telegram.BotToken = getEnv("TELEGRAM_BOT_TOKEN", cfg.Telegram.BotToken)
	cfg.Telegram.ChatID = getEnv("TELEGRAM_CHAT_ID", cfg.Telegram.ChatID)
	cfg.Telegram.PollInterval = getEnvDuration("TELEGRAM_POLL_INTERVAL", cfg.Telegram.PollInterval)

	cfg.Email.ResendAPIKey = getEnv("RESEND_API_KEY", cfg.Email.ResendAPIKey)
	cfg.Email.From = getEnv("EMAIL_FROM", cfg.Email.From)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.Atoi(strings.TrimSpace(valueStr)); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.ParseBool(strings.TrimSpace(valueStr)); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := time.ParseDuration(strings.TrimSpace(valueStr)); err == nil {
			return value
		}
	}
	return defaultValue
}
