package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Cron      CronConfig
	Webhook   WebhookConfig
	Workflow  WorkflowConfig
	RateLimit RateLimitConfig
	HeyGen    HeyGenConfig
	Submagic  SubmagicConfig
	Late      LateConfig
	LLM       LLMConfig
	R2        R2Config
	Gateway   GatewayConfig
	Tenants   *TenantRegistry
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

// CronConfig controls the time-driven entry points. Secret authenticates
// external cron callers; the intervals drive the in-process periodic tasks.
type CronConfig struct {
	Secret           string
	ScheduleInterval time.Duration
	SweepInterval    time.Duration
}

// WebhookConfig holds inbound webhook authentication material.
// Token is the shared secret carried by renderer callbacks; SigningSecret is
// the HMAC key for enhancer callback signatures.
type WebhookConfig struct {
	PublicBaseURL string
	Token         string
	SigningSecret string
}

// WorkflowConfig makes stage timeouts and the requeue cap explicit per-stage
// configuration. The render timeout is deliberately much larger than the
// enhance timeout since rendering is the slower stage.
type WorkflowConfig struct {
	RenderTimeout     time.Duration
	EnhanceTimeout    time.Duration
	PendingTimeout    time.Duration
	DistributeTimeout time.Duration
	MaxRetries        int
	SweepBatchSize    int
}

type RateLimitConfig struct {
	CreatePerHour  int
	RequeuePerHour int
}

type HeyGenConfig struct {
	APIKey  string
	BaseURL string
}

type SubmagicConfig struct {
	APIKey  string
	BaseURL string
}

type LateConfig struct {
	APIKey  string
	BaseURL string
}

type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("CRON_SECRET")
	readSecret("WEBHOOK_TOKEN")
	readSecret("WEBHOOK_SIGNING_SECRET")
	readSecret("HEYGEN_API_KEY")
	readSecret("SUBMAGIC_API_KEY")
	readSecret("LATE_API_KEY")
	readSecret("LLM_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("cron.secret", "CRON_SECRET")
	_ = viper.BindEnv("cron.schedule_interval", "CRON_SCHEDULE_INTERVAL")
	_ = viper.BindEnv("cron.sweep_interval", "CRON_SWEEP_INTERVAL")
	_ = viper.BindEnv("webhook.public_base_url", "WEBHOOK_PUBLIC_BASE_URL")
	_ = viper.BindEnv("webhook.token", "WEBHOOK_TOKEN")
	_ = viper.BindEnv("webhook.signing_secret", "WEBHOOK_SIGNING_SECRET")
	_ = viper.BindEnv("workflow.render_timeout", "WORKFLOW_RENDER_TIMEOUT")
	_ = viper.BindEnv("workflow.enhance_timeout", "WORKFLOW_ENHANCE_TIMEOUT")
	_ = viper.BindEnv("workflow.pending_timeout", "WORKFLOW_PENDING_TIMEOUT")
	_ = viper.BindEnv("workflow.distribute_timeout", "WORKFLOW_DISTRIBUTE_TIMEOUT")
	_ = viper.BindEnv("workflow.max_retries", "WORKFLOW_MAX_RETRIES")
	_ = viper.BindEnv("workflow.sweep_batch_size", "WORKFLOW_SWEEP_BATCH_SIZE")
	_ = viper.BindEnv("ratelimit.create_per_hour", "RATELIMIT_CREATE_PER_HOUR")
	_ = viper.BindEnv("ratelimit.requeue_per_hour", "RATELIMIT_REQUEUE_PER_HOUR")
	_ = viper.BindEnv("heygen.api_key", "HEYGEN_API_KEY")
	_ = viper.BindEnv("heygen.base_url", "HEYGEN_BASE_URL")
	_ = viper.BindEnv("submagic.api_key", "SUBMAGIC_API_KEY")
	_ = viper.BindEnv("submagic.base_url", "SUBMAGIC_BASE_URL")
	_ = viper.BindEnv("late.api_key", "LATE_API_KEY")
	_ = viper.BindEnv("late.base_url", "LATE_BASE_URL")
	_ = viper.BindEnv("llm.api_key", "LLM_API_KEY")
	_ = viper.BindEnv("llm.base_url", "LLM_BASE_URL")
	_ = viper.BindEnv("llm.model", "LLM_MODEL")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("cron.schedule_interval", "3h")
	viper.SetDefault("cron.sweep_interval", "30m")
	viper.SetDefault("webhook.public_base_url", "http://localhost:8000")

	// Stage timeouts. Rendering takes minutes to tens of minutes; enhancing is
	// typically faster. The sweeper only touches workflows older than these.
	viper.SetDefault("workflow.render_timeout", "20m")
	viper.SetDefault("workflow.enhance_timeout", "10m")
	viper.SetDefault("workflow.pending_timeout", "5m")
	viper.SetDefault("workflow.distribute_timeout", "10m")
	viper.SetDefault("workflow.max_retries", 3)
	viper.SetDefault("workflow.sweep_batch_size", 10)

	viper.SetDefault("ratelimit.create_per_hour", 30)
	viper.SetDefault("ratelimit.requeue_per_hour", 30)

	viper.SetDefault("heygen.base_url", "https://api.heygen.com")
	viper.SetDefault("submagic.base_url", "https://api.submagic.co")
	viper.SetDefault("late.base_url", "https://getlate.dev/api/v1")

	// LLM defaults
	viper.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	viper.SetDefault("llm.model", "llama-3.3-70b-versatile")

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	// Tenant roster comes from the config file when present, otherwise the
	// compiled-in defaults.
	var tenants []Tenant
	if err := viper.UnmarshalKey("tenants", &tenants); err != nil || len(tenants) == 0 {
		tenants = DefaultTenants()
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		Cron: CronConfig{
			Secret:           viper.GetString("cron.secret"),
			ScheduleInterval: viper.GetDuration("cron.schedule_interval"),
			SweepInterval:    viper.GetDuration("cron.sweep_interval"),
		},
		Webhook: WebhookConfig{
			PublicBaseURL: viper.GetString("webhook.public_base_url"),
			Token:         viper.GetString("webhook.token"),
			SigningSecret: viper.GetString("webhook.signing_secret"),
		},
		Workflow: WorkflowConfig{
			RenderTimeout:     viper.GetDuration("workflow.render_timeout"),
			EnhanceTimeout:    viper.GetDuration("workflow.enhance_timeout"),
			PendingTimeout:    viper.GetDuration("workflow.pending_timeout"),
			DistributeTimeout: viper.GetDuration("workflow.distribute_timeout"),
			MaxRetries:        viper.GetInt("workflow.max_retries"),
			SweepBatchSize:    viper.GetInt("workflow.sweep_batch_size"),
		},
		RateLimit: RateLimitConfig{
			CreatePerHour:  viper.GetInt("ratelimit.create_per_hour"),
			RequeuePerHour: viper.GetInt("ratelimit.requeue_per_hour"),
		},
		HeyGen: HeyGenConfig{
			APIKey:  viper.GetString("heygen.api_key"),
			BaseURL: viper.GetString("heygen.base_url"),
		},
		Submagic: SubmagicConfig{
			APIKey:  viper.GetString("submagic.api_key"),
			BaseURL: viper.GetString("submagic.base_url"),
		},
		Late: LateConfig{
			APIKey:  viper.GetString("late.api_key"),
			BaseURL: viper.GetString("late.base_url"),
		},
		LLM: LLMConfig{
			APIKey:  viper.GetString("llm.api_key"),
			BaseURL: viper.GetString("llm.base_url"),
			Model:   viper.GetString("llm.model"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
		Tenants: NewTenantRegistry(tenants),
	}

	return cfg, nil
}
