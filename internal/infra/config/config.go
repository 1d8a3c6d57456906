package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App        AppSettings        `mapstructure:"app"`
	Postgres   PostgresSettings   `mapstructure:"postgres"`
	Redis      RedisSettings      `mapstructure:"redis"`
	Kafka      KafkaSettings      `mapstructure:"kafka"`
	JWT        JWTSettings        `mapstructure:"jwt"`
	Session    SessionSettings    `mapstructure:"session"`
	Risk       RiskSettings       `mapstructure:"risk"`
	TwoFactor  TwoFactorSettings  `mapstructure:"two_factor"`
	Sweeper    SweeperSettings    `mapstructure:"sweeper"`
	Geo        GeoSettings        `mapstructure:"geo"`
	Telemetry  TelemetrySettings  `mapstructure:"telemetry"`
	RateLimit  RateLimitSettings  `mapstructure:"rate_limit"`
	Argon2     Argon2Settings     `mapstructure:"argon2"`
	Revocation RevocationSettings `mapstructure:"revocation"`
	Admin      AdminSettings      `mapstructure:"admin"`
}

type AppSettings struct {
	Name           string   `mapstructure:"name"`
	Env            string   `mapstructure:"env"`
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures the Redis connection and key prefixes.
type RedisSettings struct {
	Host                 string        `mapstructure:"host"`
	Port                 int           `mapstructure:"port"`
	DB                   int           `mapstructure:"db"`
	Password             string        `mapstructure:"password"`
	TLSEnabled           bool          `mapstructure:"tls_enabled"`
	RevocationPrefix     string        `mapstructure:"revocation_prefix"`
	RevocationTTL        time.Duration `mapstructure:"revocation_ttl"`
	TwoFactorSetupPrefix string        `mapstructure:"two_factor_setup_prefix"`
}

// KafkaSettings configures the Kafka producer feeding the notification dispatcher.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

// JWTSettings configures signing material and token lifetimes.
type JWTSettings struct {
	KeyDirectory    string        `mapstructure:"key_directory"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// SessionSettings carries tenant-independent session defaults. Per-account
// overrides (session_timeout, max_concurrent_sessions) live on the account row.
type SessionSettings struct {
	DefaultTimeout        time.Duration `mapstructure:"default_timeout"`
	RememberMeDuration    time.Duration `mapstructure:"remember_me_duration"`
	MaxConcurrentDefault  int           `mapstructure:"max_concurrent_default"`
	ImpossibleVelocityKmh float64       `mapstructure:"impossible_velocity_kmh"`
}

// RiskSettings configures the advisory risk scorer.
type RiskSettings struct {
	StepUpThreshold int `mapstructure:"step_up_threshold"`
}

// TwoFactorSettings configures TOTP enrolment.
type TwoFactorSettings struct {
	Issuer      string        `mapstructure:"issuer"`
	SetupTTL    time.Duration `mapstructure:"setup_ttl"`
	BackupCodes int           `mapstructure:"backup_codes"`
}

// SweeperSettings configures the expired-session hygiene sweep.
type SweeperSettings struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	Retention time.Duration `mapstructure:"retention"`
}

// GeoSettings locates the MaxMind database backing the geolocation collaborator.
type GeoSettings struct {
	MMDBPath string `mapstructure:"mmdb_path"`
}

// RateLimitSettings configures rate limiting windows and max attempts per endpoint.
type RateLimitSettings struct {
	WindowDuration     time.Duration `mapstructure:"window_duration"`
	LoginMaxAttempts   int           `mapstructure:"login_max_attempts"`
	RefreshMaxAttempts int           `mapstructure:"refresh_max_attempts"`
}

// Argon2Settings configures Argon2id password hashing parameters.
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

type TelemetrySettings struct {
	MetricsPort  int     `mapstructure:"metrics_port"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// RevocationSettings controls token-validation behaviour when the revocation
// cache cannot answer.
type RevocationSettings struct {
	DegradationPolicy string `mapstructure:"degradation_policy"`
}

// AdminSettings guards the administrative endpoint group. Admin traffic comes
// from internal back-office systems, not portal accounts; an empty key
// disables the group entirely.
type AdminSettings struct {
	APIKey string `mapstructure:"api_key"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("PORTAL")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.allowed_origins",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.revocation_prefix",
		"redis.revocation_ttl",
		"redis.two_factor_setup_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"jwt.key_directory",
		"jwt.access_token_ttl",
		"jwt.refresh_token_ttl",
		"session.default_timeout",
		"session.remember_me_duration",
		"session.max_concurrent_default",
		"session.impossible_velocity_kmh",
		"risk.step_up_threshold",
		"two_factor.issuer",
		"two_factor.setup_ttl",
		"two_factor.backup_codes",
		"sweeper.enabled",
		"sweeper.interval",
		"sweeper.retention",
		"geo.mmdb_path",
		"telemetry.metrics_port",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"rate_limit.window_duration",
		"rate_limit.login_max_attempts",
		"rate_limit.refresh_max_attempts",
		"argon2.memory",
		"argon2.iterations",
		"argon2.parallelism",
		"argon2.salt_length",
		"argon2.key_length",
		"revocation.degradation_policy",
		"admin.api_key",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "portal-iam")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.allowed_origins", []string{})

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "portal")
	v.SetDefault("postgres.password", "portal_password")
	v.SetDefault("postgres.database", "portal")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.revocation_prefix", "portal:session_revoked")
	v.SetDefault("redis.revocation_ttl", "720h")
	v.SetDefault("redis.two_factor_setup_prefix", "portal:2fa_setup")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "portal")
	v.SetDefault("kafka.async", true)

	v.SetDefault("jwt.key_directory", "./secrets")
	v.SetDefault("jwt.access_token_ttl", "60m")
	v.SetDefault("jwt.refresh_token_ttl", "720h")

	v.SetDefault("session.default_timeout", "30m")
	v.SetDefault("session.remember_me_duration", "720h")
	v.SetDefault("session.max_concurrent_default", 5)
	v.SetDefault("session.impossible_velocity_kmh", 900)

	v.SetDefault("risk.step_up_threshold", 75)

	v.SetDefault("two_factor.issuer", "Portal")
	v.SetDefault("two_factor.setup_ttl", "10m")
	v.SetDefault("two_factor.backup_codes", 10)

	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.interval", "1h")
	v.SetDefault("sweeper.retention", "720h")

	v.SetDefault("geo.mmdb_path", "")

	v.SetDefault("telemetry.metrics_port", 9090)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "portal-iam")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.login_max_attempts", 5)
	v.SetDefault("rate_limit.refresh_max_attempts", 10)

	v.SetDefault("argon2.memory", 65536)
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)

	v.SetDefault("revocation.degradation_policy", "lenient")

	v.SetDefault("admin.api_key", "")
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}
