package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvSandbox = "sandbox"
	EnvLive    = "live"
	EnvStub    = "stub"
)

const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

var baseURLs = map[string]string{
	EnvSandbox: "https://cybqa.pesapal.com/pesapalv3/api",
	EnvLive:    "https://pay.pesapal.com/v3/api",
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Pesapal  PesapalConfig  `mapstructure:"pesapal"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Firebase FirebaseConfig `mapstructure:"firebase"`
}

type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	Env            string        `mapstructure:"env"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RatePerMinute  int           `mapstructure:"rate_per_minute"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // mysql or sqlite
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// PesapalConfig selects the processor environment and carries the merchant's order defaults.
// Credentials are expected from the environment (PESAGATE_PESAPAL_CONSUMER_KEY etc.), never from the file.
type PesapalConfig struct {
	Environment         string        `mapstructure:"environment"`
	BaseURL             string        `mapstructure:"base_url"` // overrides the environment's URL when set
	ConsumerKey         string        `mapstructure:"consumer_key"`
	ConsumerSecret      string        `mapstructure:"consumer_secret"`
	IPNURL              string        `mapstructure:"ipn_url"`
	IPNNotificationType string        `mapstructure:"ipn_notification_type"`
	Currency            string        `mapstructure:"currency"`
	CountryCode         string        `mapstructure:"country_code"`
	Description         string        `mapstructure:"description"`
	ReferencePrefix     string        `mapstructure:"reference_prefix"`
	BillingLine1        string        `mapstructure:"billing_line_1"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	TokenAttempts       int           `mapstructure:"token_attempts"`
	TokenRetryDelay     time.Duration `mapstructure:"token_retry_delay"`
}

type WorkflowConfig struct {
	Mode         string        `mapstructure:"mode"` // sync blocks on polling, async returns after submit
	PollAttempts int           `mapstructure:"poll_attempts"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// AdminConfig guards operator endpoints. Empty PasswordHash disables operator auth.
type AdminConfig struct {
	PasswordHash string        `mapstructure:"password_hash"` // bcrypt
	JWTSecret    string        `mapstructure:"jwt_secret"`
	TokenExpiry  time.Duration `mapstructure:"token_expiry"`
	Issuer       string        `mapstructure:"issuer"`
}

type RedisConfig struct {
	Addr      string        `mapstructure:"addr"` // empty: in-process dedupe
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	DedupeTTL time.Duration `mapstructure:"dedupe_ttl"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"` // empty: events disabled
	Topic   string   `mapstructure:"topic"`
}

type FirebaseConfig struct {
	ServiceAccountPath string `mapstructure:"service_account_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.read_timeout", 10*time.Second)
	// lower bound; sync mode raises it to SyncBudget, see HTTPWriteTimeout
	v.SetDefault("server.write_timeout", 90*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_per_minute", 100)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "pesagate.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("pesapal.environment", EnvSandbox)
	v.SetDefault("pesapal.base_url", "")
	v.SetDefault("pesapal.consumer_key", "")
	v.SetDefault("pesapal.consumer_secret", "")
	v.SetDefault("pesapal.ipn_url", "")
	v.SetDefault("pesapal.ipn_notification_type", "POST")
	v.SetDefault("pesapal.currency", "UGX")
	v.SetDefault("pesapal.country_code", "UG")
	v.SetDefault("pesapal.description", "Thanks For Using Al-Transfer")
	v.SetDefault("pesapal.reference_prefix", "AL")
	v.SetDefault("pesapal.billing_line_1", "Pesapal Limited")
	v.SetDefault("pesapal.request_timeout", 15*time.Second)
	v.SetDefault("pesapal.token_attempts", 3)
	v.SetDefault("pesapal.token_retry_delay", 2*time.Second)

	v.SetDefault("workflow.mode", ModeSync)
	v.SetDefault("workflow.poll_attempts", 10)
	v.SetDefault("workflow.poll_interval", 5*time.Second)

	v.SetDefault("admin.password_hash", "")
	v.SetDefault("admin.jwt_secret", "change-me-in-production")
	v.SetDefault("admin.token_expiry", 12*time.Hour)
	v.SetDefault("admin.issuer", "pesagate")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dedupe_ttl", 24*time.Hour)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "payment.status")

	v.SetDefault("firebase.service_account_path", "")
}

// Load resolves configuration once at startup: defaults, then the optional YAML file at path,
// then PESAGATE_* environment variables (PESAGATE_PESAPAL_ENVIRONMENT=live etc.).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("PESAGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	p := c.Pesapal
	switch p.Environment {
	case EnvSandbox, EnvLive:
		if p.ConsumerKey == "" || p.ConsumerSecret == "" {
			return fmt.Errorf("pesapal %s environment requires consumer_key and consumer_secret", p.Environment)
		}
		if p.IPNURL == "" {
			return fmt.Errorf("pesapal %s environment requires ipn_url", p.Environment)
		}
	case EnvStub:
	default:
		return fmt.Errorf("invalid pesapal environment %q", p.Environment)
	}
	switch c.Workflow.Mode {
	case ModeSync, ModeAsync:
	default:
		return fmt.Errorf("invalid workflow mode %q", c.Workflow.Mode)
	}
	if c.Workflow.PollAttempts < 1 {
		return errors.New("workflow.poll_attempts must be at least 1")
	}
	if p.TokenAttempts < 1 {
		return errors.New("pesapal.token_attempts must be at least 1")
	}
	return nil
}

// SyncBudget is the worst-case duration of one sync submit-and-resolve: token retries,
// IPN registration, submission, then every poll call and the waits between them.
func (c *Config) SyncBudget() time.Duration {
	p, w := c.Pesapal, c.Workflow
	token := time.Duration(p.TokenAttempts)*p.RequestTimeout + time.Duration(p.TokenAttempts-1)*p.TokenRetryDelay
	poll := time.Duration(w.PollAttempts)*p.RequestTimeout + time.Duration(w.PollAttempts-1)*w.PollInterval
	return token + 2*p.RequestTimeout + poll
}

// HTTPWriteTimeout is server.write_timeout, raised in sync mode to cover SyncBudget.
func (c *Config) HTTPWriteTimeout() time.Duration {
	if c.Workflow.Mode != ModeSync {
		return c.Server.WriteTimeout
	}
	if need := c.SyncBudget() + 5*time.Second; need > c.Server.WriteTimeout {
		return need
	}
	return c.Server.WriteTimeout
}

// APIBaseURL returns the processor base URL for the selected environment.
func (p PesapalConfig) APIBaseURL() string {
	if p.BaseURL != "" {
		return strings.TrimRight(p.BaseURL, "/")
	}
	return baseURLs[p.Environment]
}

// AdminEnabled reports whether operator endpoints require a JWT.
func (a AdminConfig) AdminEnabled() bool {
	return a.PasswordHash != ""
}
