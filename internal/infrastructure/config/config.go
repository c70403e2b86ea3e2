package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"ledger-server/internal/domain/money"

	"github.com/joho/godotenv"
)

// 台帳ストアの種類
const (
	StoreMemory = "memory"
	StoreMySQL  = "mysql"
)

// Config アプリケーション全体の設定
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Gateway       GatewayConfig
	Ledger        LedgerConfig
	OpenTelemetry OpenTelemetryConfig
	Environment   string
}

// ServerConfig サーバー設定
type ServerConfig struct {
	Port         int
	GRPCPort     int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig データベース設定
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig Redis設定（決済ステータスキャッシュ）
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	Enabled   bool
	StatusTTL time.Duration
}

// KafkaConfig Kafka設定（ライフサイクルイベント）
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// GatewayConfig 決済ゲートウェイ設定
type GatewayConfig struct {
	Latency                 time.Duration
	DeclineRate             float64
	TransientRate           float64
	Timeout                 time.Duration // 0なら無制限
	CircuitFailureThreshold int
	CircuitSuccessThreshold int
	CircuitOpenTimeout      time.Duration
}

// LedgerConfig 台帳設定
type LedgerConfig struct {
	Store           string
	SeedBalances    map[string]int64 // 補助単位
	DefaultCurrency string
	StuckAfter      time.Duration
}

// OpenTelemetryConfig OpenTelemetry設定
type OpenTelemetryConfig struct {
	Enabled         bool
	ServiceName     string
	ServiceVersion  string
	OTLPEndpoint    string
	OTLPInsecure    bool
	TraceExporter   string // "otlp", "stdout"
	MetricsExporter string // "otlp", "stdout"
	SampleRatio     float64
	Environment     string
}

// Load 設定を読み込む
func Load() (*Config, error) {
	// .envファイルを読み込む（存在しない場合は無視）
	_ = godotenv.Load()

	env := getEnv("ENVIRONMENT", "development")
	port := getEnvAsInt("SERVER_PORT", 8080)

	seeds, err := ParseSeedBalances(getEnv("LEDGER_SEED_BALANCES", ""))
	if err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cfg := &Config{
		Environment: env,
		Server: ServerConfig{
			Port:         port,
			GRPCPort:     getEnvAsInt("GRPC_PORT", port+1),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 3306),
			User:            getEnv("DB_USER", "root"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "ledger_db"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 10*time.Minute),
		},
		Redis: RedisConfig{
			Host:      getEnv("REDIS_HOST", "localhost"),
			Port:      getEnvAsInt("REDIS_PORT", 6379),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			Enabled:   getEnvAsBool("REDIS_ENABLED", false),
			StatusTTL: getEnvAsDuration("REDIS_STATUS_TTL", 24*time.Hour),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvAsBool("KAFKA_ENABLED", false),
			Brokers: getEnvAsList("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_TOPIC", "payment-events"),
		},
		Gateway: GatewayConfig{
			Latency:                 getEnvAsDuration("GATEWAY_LATENCY", 100*time.Millisecond),
			DeclineRate:             getEnvAsFloat("GATEWAY_DECLINE_RATE", 0.1),
			TransientRate:           getEnvAsFloat("GATEWAY_TRANSIENT_RATE", 0),
			Timeout:                 getEnvAsDuration("GATEWAY_TIMEOUT", 0),
			CircuitFailureThreshold: getEnvAsInt("GATEWAY_CB_FAILURE_THRESHOLD", 5),
			CircuitSuccessThreshold: getEnvAsInt("GATEWAY_CB_SUCCESS_THRESHOLD", 2),
			CircuitOpenTimeout:      getEnvAsDuration("GATEWAY_CB_OPEN_TIMEOUT", 30*time.Second),
		},
		Ledger: LedgerConfig{
			Store:           strings.ToLower(getEnv("LEDGER_STORE", StoreMemory)),
			SeedBalances:    seeds,
			DefaultCurrency: getEnv("LEDGER_DEFAULT_CURRENCY", "USD"),
			StuckAfter:      getEnvAsDuration("LEDGER_STUCK_AFTER", 5*time.Minute),
		},
		OpenTelemetry: OpenTelemetryConfig{
			Enabled:         getEnvAsBool("OTEL_ENABLED", true),
			ServiceName:     getEnv("OTEL_SERVICE_NAME", "ledger-server"),
			ServiceVersion:  getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			OTLPEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318"),
			OTLPInsecure:    getEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			TraceExporter:   getEnv("OTEL_TRACES_EXPORTER", "otlp"),
			MetricsExporter: getEnv("OTEL_METRICS_EXPORTER", "otlp"),
			SampleRatio:     getEnvAsFloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
			Environment:     env,
		},
	}

	// 必須設定の検証
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate 設定の検証
func (c *Config) validate() error {
	switch c.Ledger.Store {
	case StoreMemory:
	case StoreMySQL:
		if c.Database.Host == "" {
			return fmt.Errorf("DB_HOST is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("DB_NAME is required")
		}
	default:
		return fmt.Errorf("unknown LEDGER_STORE: %s", c.Ledger.Store)
	}
	if c.Gateway.DeclineRate < 0 || c.Gateway.DeclineRate > 1 {
		return fmt.Errorf("GATEWAY_DECLINE_RATE must be within [0,1]")
	}
	if c.Gateway.TransientRate < 0 || c.Gateway.TransientRate > 1 {
		return fmt.Errorf("GATEWAY_TRANSIENT_RATE must be within [0,1]")
	}
	if c.Gateway.DeclineRate+c.Gateway.TransientRate > 1 {
		return fmt.Errorf("GATEWAY_DECLINE_RATE + GATEWAY_TRANSIENT_RATE must not exceed 1")
	}
	if c.OpenTelemetry.SampleRatio < 0 || c.OpenTelemetry.SampleRatio > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be within [0,1]")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED")
	}
	return nil
}

// DSN データベース接続文字列を返す
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

// Address Redis接続アドレスを返す
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ParseSeedBalances "user_123:1000.00,user_456:50" 形式の初期残高を解析する
func ParseSeedBalances(s string) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		userID, amount, ok := strings.Cut(pair, ":")
		if !ok || strings.TrimSpace(userID) == "" {
			return nil, fmt.Errorf("invalid LEDGER_SEED_BALANCES entry: %q", pair)
		}
		minor, err := money.ParseSigned(amount)
		if err != nil {
			return nil, fmt.Errorf("invalid LEDGER_SEED_BALANCES amount for %s: %w", userID, err)
		}
		out[strings.TrimSpace(userID)] = minor
	}
	return out, nil
}

// getEnv 環境変数を取得（デフォルト値付き）
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt 環境変数を整数として取得
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat 環境変数を浮動小数点数として取得
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool 環境変数を真偽値として取得
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration 環境変数を時間として取得
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList カンマ区切りの環境変数をスライスとして取得
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
