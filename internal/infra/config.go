package infra

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Режимы работы шлюза
const (
	ModeStateful  = "stateful"
	ModeStateless = "stateless"
)

// Драйверы хранилища заявок (только для stateful)
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// MinTokenSecretLen — минимальная длина ключа подписи токенов.
const MinTokenSecretLen = 32

// Config — корневая структура конфигурации шлюза.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Approval     ApprovalConfig     `mapstructure:"approval"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Notify       NotifyConfig       `mapstructure:"notify"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Logger       LoggerConfig       `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	PublicURL       string        `mapstructure:"public_url"` // База для ссылок в ответах и уведомлениях
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr — адрес для net/http.Server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ApprovalConfig выбирает способ хранения заявок.
type ApprovalConfig struct {
	Mode        string        `mapstructure:"mode"`         // stateful, stateless
	TokenSecret string        `mapstructure:"token_secret"` // Обязателен для stateless, без значения по умолчанию
	TokenTTL    time.Duration `mapstructure:"token_ttl"`    // 0 — токен бессрочный
}

type StorageConfig struct {
	Driver     string        `mapstructure:"driver"`
	SQLitePath string        `mapstructure:"sqlite_path"`
	RecordTTL  time.Duration `mapstructure:"record_ttl"` // Учитывается только Redis
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (хранилище и Pub/Sub).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// OrchestratorConfig — доступ к Rundeck и защита исходящих вызовов.
type OrchestratorConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIVersion int           `mapstructure:"api_version"`
	Token      string        `mapstructure:"token"`
	AuthHeader string        `mapstructure:"auth_header"`
	Timeout    time.Duration `mapstructure:"timeout"`
	DryRun     bool          `mapstructure:"dry_run"` // Вызовы только логируются

	// Настройки Circuit Breaker
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBFailures    uint32        `mapstructure:"cb_failures"`
	RateLimit     float64       `mapstructure:"rate_limit"` // запросов в секунду, 0 — без ограничения
}

type NotifyConfig struct {
	WebhookURL     string        `mapstructure:"webhook_url"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
	RedisEnabled   bool          `mapstructure:"redis_enabled"`
	RedisChannel   string        `mapstructure:"redis_channel"`
	BufferSize     int           `mapstructure:"buffer_size"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	return loadConfig(".", "./configs")
}

func loadConfig(paths ...string) (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	// 2. Переменные окружения: ORCHESTRATOR_TOKEN перекроет orchestrator.token
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	return &cfg, nil
}

// bindLegacyEnv сохраняет совместимость с переменными прежнего сервиса.
func bindLegacyEnv(v *viper.Viper) error {
	aliases := map[string][]string{
		"orchestrator.base_url": {"ORCHESTRATOR_BASE_URL", "RUNDECK_URL"},
		"orchestrator.token":    {"ORCHESTRATOR_TOKEN", "RUNDECK_API_TOKEN"},
		"notify.webhook_url":    {"NOTIFY_WEBHOOK_URL", "WEBHOOK_URL"},
		"approval.token_secret": {"APPROVAL_TOKEN_SECRET", "APPROVAL_SECRET"},
	}
	for key, envs := range aliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("approval.mode", ModeStateful)
	v.SetDefault("approval.token_secret", "")
	v.SetDefault("approval.token_ttl", time.Duration(0))

	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.sqlite_path", "approvals.db")
	v.SetDefault("storage.record_ttl", time.Duration(0))

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 2)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("orchestrator.base_url", "")
	v.SetDefault("orchestrator.api_version", 41)
	v.SetDefault("orchestrator.token", "")
	v.SetDefault("orchestrator.auth_header", "X-Rundeck-Auth-Token")
	v.SetDefault("orchestrator.timeout", 5*time.Second)
	v.SetDefault("orchestrator.dry_run", false)
	v.SetDefault("orchestrator.cb_max_requests", 1)
	v.SetDefault("orchestrator.cb_interval", 60*time.Second)
	v.SetDefault("orchestrator.cb_timeout", 30*time.Second)
	v.SetDefault("orchestrator.cb_failures", 5)
	v.SetDefault("orchestrator.rate_limit", 0.0)

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.webhook_timeout", 5*time.Second)
	v.SetDefault("notify.redis_enabled", false)
	v.SetDefault("notify.redis_channel", RedisChanApprovalEvents)
	v.SetDefault("notify.buffer_size", 256)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// Validate проверяет конфигурацию при старте: лучше упасть сразу, чем на первом решении.
func (c *Config) Validate() error {
	var problems []string

	switch c.Approval.Mode {
	case ModeStateful:
		switch c.Storage.Driver {
		case DriverMemory, DriverSQLite, DriverRedis:
		case DriverPostgres:
			if c.Database.URL == "" {
				problems = append(problems, "database.url is required for the postgres driver")
			}
		default:
			problems = append(problems, fmt.Sprintf("unknown storage.driver %q", c.Storage.Driver))
		}
		if c.Storage.Driver == DriverSQLite && c.Storage.SQLitePath == "" {
			problems = append(problems, "storage.sqlite_path is required for the sqlite driver")
		}
	case ModeStateless:
		if len(c.Approval.TokenSecret) < MinTokenSecretLen {
			problems = append(problems, fmt.Sprintf("approval.token_secret must be at least %d bytes in stateless mode", MinTokenSecretLen))
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown approval.mode %q", c.Approval.Mode))
	}

	if !c.Orchestrator.DryRun {
		if c.Orchestrator.Token == "" {
			problems = append(problems, "orchestrator.token is required")
		}
		if u, err := url.Parse(c.Orchestrator.BaseURL); err != nil || !u.IsAbs() || u.Host == "" {
			problems = append(problems, "orchestrator.base_url must be an absolute URL")
		}
	}

	if _, err := url.Parse(c.Server.PublicURL); err != nil || c.Server.PublicURL == "" {
		problems = append(problems, "server.public_url must be a valid URL")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
