package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Worker    WorkerConfig
	Scheduler SchedulerConfig
	Crypto    CryptoConfig
	Telegram  TelegramConfig
	Timesheet TimesheetConfig
	API       APIConfig
}

type ServerConfig struct {
	Port int
	Env  string // "development", "production"
}

type DatabaseConfig struct {
	Driver  string // "mysql", "postgres", "sqlite"
	Host    string
	Port    string
	Name    string
	User    string
	Pass    string
	Charset string
	Path    string // sqlite file path
}

type RedisConfig struct {
	Addr string
	Pass string
	DB   int
}

// WorkerConfig is the explicit retry and concurrency policy of the job worker.
type WorkerConfig struct {
	Concurrency   int
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	MaxJobTimeout time.Duration
	PollWait      time.Duration
}

type SchedulerConfig struct {
	ReconcileCron  string // empty disables periodic reconciliation
	JiraCallDelay  time.Duration
	PromoteEvery   time.Duration
	ReconcileLimit int
}

type CryptoConfig struct {
	Key []byte // 32 bytes, AES-256
}

type TelegramConfig struct {
	Token  string
	ChatID int64
}

type TimesheetConfig struct {
	NonWorkingProject string
}

type APIConfig struct {
	Key string
}

// Load reads configuration from .env file and environment variables.
func Load() (*Config, error) {
	// Load .env file (ignore error if missing)
	_ = godotenv.Load()

	viper.AutomaticEnv()

	viper.SetDefault("APP_PORT", 8080)
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("DB_DRIVER", "mysql")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "3306")
	viper.SetDefault("DB_CHARSET", "utf8mb4")
	viper.SetDefault("DB_PATH", "timesheet.db")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("WORKER_CONCURRENCY", 10)
	viper.SetDefault("WORKER_MAX_ATTEMPTS", 3)
	viper.SetDefault("WORKER_BACKOFF_BASE", "5s")
	viper.SetDefault("WORKER_BACKOFF_MAX", "10m")
	viper.SetDefault("WORKER_MAX_JOB_TIMEOUT", "1h")
	viper.SetDefault("WORKER_POLL_WAIT", "5s")
	viper.SetDefault("SCHEDULER_RECONCILE_CRON", "")
	viper.SetDefault("SCHEDULER_PROMOTE_EVERY", "1s")
	viper.SetDefault("SCHEDULER_RECONCILE_LIMIT", 16)
	viper.SetDefault("JIRA_CALL_DELAY", "1s")
	viper.SetDefault("NON_WORKING_PROJECT", "Non-Working")

	key, err := decodeKey(viper.GetString("CONFIG_ENCRYPTION_KEY"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetInt("APP_PORT"),
			Env:  viper.GetString("APP_ENV"),
		},
		Database: DatabaseConfig{
			Driver:  viper.GetString("DB_DRIVER"),
			Host:    viper.GetString("DB_HOST"),
			Port:    viper.GetString("DB_PORT"),
			Name:    viper.GetString("DB_NAME"),
			User:    viper.GetString("DB_USER"),
			Pass:    viper.GetString("DB_PASS"),
			Charset: viper.GetString("DB_CHARSET"),
			Path:    viper.GetString("DB_PATH"),
		},
		Redis: RedisConfig{
			Addr: viper.GetString("REDIS_ADDR"),
			Pass: viper.GetString("REDIS_PASS"),
			DB:   viper.GetInt("REDIS_DB"),
		},
		Worker: WorkerConfig{
			Concurrency:   viper.GetInt("WORKER_CONCURRENCY"),
			MaxAttempts:   viper.GetInt("WORKER_MAX_ATTEMPTS"),
			BackoffBase:   durationOr("WORKER_BACKOFF_BASE", 5*time.Second),
			BackoffMax:    durationOr("WORKER_BACKOFF_MAX", 10*time.Minute),
			MaxJobTimeout: durationOr("WORKER_MAX_JOB_TIMEOUT", time.Hour),
			PollWait:      durationOr("WORKER_POLL_WAIT", 5*time.Second),
		},
		Scheduler: SchedulerConfig{
			ReconcileCron:  viper.GetString("SCHEDULER_RECONCILE_CRON"),
			JiraCallDelay:  durationOr("JIRA_CALL_DELAY", time.Second),
			PromoteEvery:   durationOr("SCHEDULER_PROMOTE_EVERY", time.Second),
			ReconcileLimit: viper.GetInt("SCHEDULER_RECONCILE_LIMIT"),
		},
		Crypto: CryptoConfig{
			Key: key,
		},
		Telegram: TelegramConfig{
			Token:  viper.GetString("TELEGRAM_TOKEN"),
			ChatID: viper.GetInt64("TELEGRAM_CHAT_ID"),
		},
		Timesheet: TimesheetConfig{
			NonWorkingProject: viper.GetString("NON_WORKING_PROJECT"),
		},
		API: APIConfig{
			Key: viper.GetString("API_KEY"),
		},
	}

	if cfg.Database.Driver != "sqlite" && cfg.Database.Name == "" {
		log.Println("WARNING: DB_NAME is not set")
	}
	if cfg.API.Key == "" {
		log.Println("WARNING: API_KEY is not set, the HTTP API will reject every request")
	}

	return cfg, nil
}

// LoadDatabaseOnly reads just the database section, for the --migrate entrypoint.
func LoadDatabaseOnly() (*DatabaseConfig, error) {
	_ = godotenv.Load()
	viper.AutomaticEnv()
	viper.SetDefault("DB_DRIVER", "mysql")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "3306")
	viper.SetDefault("DB_CHARSET", "utf8mb4")
	viper.SetDefault("DB_PATH", "timesheet.db")

	return &DatabaseConfig{
		Driver:  viper.GetString("DB_DRIVER"),
		Host:    viper.GetString("DB_HOST"),
		Port:    viper.GetString("DB_PORT"),
		Name:    viper.GetString("DB_NAME"),
		User:    viper.GetString("DB_USER"),
		Pass:    viper.GetString("DB_PASS"),
		Charset: viper.GetString("DB_CHARSET"),
		Path:    viper.GetString("DB_PATH"),
	}, nil
}

// DSN returns the driver-specific DSN string for GORM.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
			d.Host, d.Port, d.User, d.Pass, d.Name)
	case "sqlite":
		return d.Path
	default:
		return d.User + ":" + d.Pass + "@tcp(" + d.Host + ":" + d.Port + ")/" + d.Name + "?charset=" + d.Charset + "&parseTime=True&loc=UTC"
	}
}

func durationOr(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func decodeKey(raw string) ([]byte, error) {
	if raw == "" {
		log.Println("WARNING: CONFIG_ENCRYPTION_KEY is not set, integration configs cannot be decrypted")
		return nil, nil
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("CONFIG_ENCRYPTION_KEY must be hex encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("CONFIG_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}
