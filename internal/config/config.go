package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    slog.Level
	ServiceName string
	Version     string
	// CORSOrigins lists browser origins allowed to call the API. Empty
	// allows any origin without credentials.
	CORSOrigins []string

	Database DatabaseConfig
	RedisURL string
	Casdoor  CasdoorConfig
	Kafka    KafkaConfig
	Storage  StorageConfig
	AI       AIConfig
	Worker   WorkerConfig
	Quiz     QuizConfig
	Tracing  TracingConfig
}

type DatabaseConfig struct {
	URL             string
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// DSN returns DATABASE_URL when set, otherwise a key/value postgres DSN.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type CasdoorConfig struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
	Cert         string
	Organization string
	Application  string
}

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
}

// Enabled reports whether events go to Kafka instead of the in-process bus.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type StorageConfig struct {
	Bucket          string
	CredentialsFile string
	MaxUploadBytes  int64
}

type AIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

type WorkerConfig struct {
	Concurrency  int
	PollInterval time.Duration
	MaxAttempts  int
	RetryDelay   time.Duration
	StaleRunning time.Duration
}

type QuizConfig struct {
	PassMark           float64
	DefaultCount       int
	MaxCount           int
	ExamSecondsPerItem int
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    parseLogLevel(getEnv("LOG_LEVEL", "info")),
		ServiceName: getEnv("SERVICE_NAME", "exam-service"),
		Version:     getEnv("SERVICE_VERSION", "dev"),
		CORSOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Name:            getEnv("DB_NAME", "dentprep"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
		},
		RedisURL: getEnv("REDIS_URL", ""),
		Casdoor: CasdoorConfig{
			Endpoint:     getEnv("CASDOOR_ENDPOINT", ""),
			ClientID:     getEnv("CASDOOR_CLIENT_ID", ""),
			ClientSecret: getEnv("CASDOOR_CLIENT_SECRET", ""),
			Cert:         getEnv("CASDOOR_CERT", ""),
			Organization: getEnv("CASDOOR_ORGANIZATION", ""),
			Application:  getEnv("CASDOOR_APPLICATION", ""),
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(getEnv("KAFKA_BROKERS", "")),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "exam-service"),
		},
		Storage: StorageConfig{
			Bucket:          getEnv("GCS_BUCKET", ""),
			CredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
			MaxUploadBytes:  int64(getEnvInt("MAX_UPLOAD_BYTES", 5<<20)),
		},
		AI: AIConfig{
			APIKey:     getEnv("OPENAI_API_KEY", ""),
			BaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com"),
			Model:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			Timeout:    getEnvDuration("OPENAI_TIMEOUT", 60*time.Second),
			MaxRetries: getEnvInt("OPENAI_MAX_RETRIES", 3),
		},
		Worker: WorkerConfig{
			Concurrency:  getEnvInt("WORKER_CONCURRENCY", 2),
			PollInterval: getEnvDuration("WORKER_POLL_INTERVAL", time.Second),
			MaxAttempts:  getEnvInt("WORKER_MAX_ATTEMPTS", 5),
			RetryDelay:   getEnvDuration("WORKER_RETRY_DELAY", 30*time.Second),
			StaleRunning: getEnvDuration("WORKER_STALE_RUNNING", 10*time.Minute),
		},
		Quiz: QuizConfig{
			PassMark:           getEnvFloat("QUIZ_PASS_MARK", 60),
			DefaultCount:       getEnvInt("QUIZ_DEFAULT_COUNT", 20),
			MaxCount:           getEnvInt("QUIZ_MAX_COUNT", 100),
			ExamSecondsPerItem: getEnvInt("QUIZ_EXAM_SECONDS_PER_ITEM", 72),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("OTEL_ENABLED", false),
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Insecure:    getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false),
			SampleRatio: getEnvFloat("OTEL_SAMPLER_RATIO", 0.1),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that must be present outside development.
func (c *Config) Validate() error {
	var missing []string
	if c.IsProduction() {
		if c.Casdoor.Endpoint == "" {
			missing = append(missing, "CASDOOR_ENDPOINT")
		}
		if c.Casdoor.Cert == "" {
			missing = append(missing, "CASDOOR_CERT")
		}
		if c.Storage.Bucket == "" {
			missing = append(missing, "GCS_BUCKET")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.Quiz.PassMark < 0 || c.Quiz.PassMark > 100 {
		return fmt.Errorf("QUIZ_PASS_MARK must be between 0 and 100, got %v", c.Quiz.PassMark)
	}
	if c.Worker.Concurrency < 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must not be negative")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvFloat(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(getEnv(key, "")) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
