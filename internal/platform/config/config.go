// Package config loads service configuration from environment variables and
// an optional config file using viper, then validates it.
//
// Every key can be set through the environment by upper-casing it and
// replacing dots with underscores: broker.retry_delay becomes
// BROKER_RETRY_DELAY. Environment values take precedence over the file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	KeyDatabaseURL = "database_url"
	KeyNATSURL     = "nats_url"
	KeyJWTSecret   = "jwt_secret"
)

type Config struct {
	Service         string        `mapstructure:"-"`
	Env             string        `mapstructure:"env"`
	LogLevel        string        `mapstructure:"log_level" validate:"oneof=debug info warn warning error"`
	HTTPAddr        string        `mapstructure:"http_addr" validate:"required"`
	DatabaseURL     string        `mapstructure:"database_url"`
	NATSURL         string        `mapstructure:"nats_url"`
	JWTSecret       string        `mapstructure:"jwt_secret"`
	UIOrigin        string        `mapstructure:"ui_origin"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`

	DB       Database `mapstructure:"db"`
	Broker   Broker   `mapstructure:"broker"`
	Consumer Consumer `mapstructure:"consumer"`
	Outbox   Outbox   `mapstructure:"outbox"`
	Gateway  Gateway  `mapstructure:"gateway"`
	Otel     Otel     `mapstructure:"otel"`
}

type Database struct {
	MinConns          int           `mapstructure:"min_conns" validate:"gte=0"`
	MaxConns          int           `mapstructure:"max_conns" validate:"gt=0"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

type Broker struct {
	RetryDelay     time.Duration `mapstructure:"retry_delay" validate:"gt=0"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout" validate:"gt=0"`
}

type Consumer struct {
	MaxDeliver int           `mapstructure:"max_deliver" validate:"gt=0"`
	AckWait    time.Duration `mapstructure:"ack_wait" validate:"gt=0"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type Outbox struct {
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	BatchSize    int           `mapstructure:"batch_size" validate:"gt=0"`
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"gt=0"`
	Lease        time.Duration `mapstructure:"lease" validate:"gt=0"`
}

type Gateway struct {
	IdentityURL      string        `mapstructure:"identity_url" validate:"omitempty,url"`
	TasksURL         string        `mapstructure:"tasks_url" validate:"omitempty,url"`
	NotificationsURL string        `mapstructure:"notifications_url" validate:"omitempty,url"`
	UpstreamTimeout  time.Duration `mapstructure:"upstream_timeout" validate:"gt=0"`
	Routes           []Route       `mapstructure:"routes" validate:"dive"`
}

// Route overrides the built-in gateway route table when set in a config file.
type Route struct {
	Name    string `mapstructure:"name" validate:"required"`
	Prefix  string `mapstructure:"prefix" validate:"required,startswith=/"`
	Target  string `mapstructure:"target" validate:"required,url"`
	Rewrite string `mapstructure:"rewrite"`
	Public  bool   `mapstructure:"public"`
}

type Otel struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

type Options struct {
	Service     string
	File        string
	DefaultAddr string
	// Required lists keys that must be non-empty after loading.
	Required []string
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func Load(opts Options) (Config, error) {
	v := viper.New()
	setDefaults(v, opts.DefaultAddr)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("otel.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_ENDPOINT")

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", opts.File, err)
		}
	}

	var missing []string
	for _, key := range opts.Required {
		if strings.TrimSpace(v.GetString(key)) == "" {
			missing = append(missing, fmt.Sprintf("%s (env %s)", key, envName(key)))
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.Service = opts.Service

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return Config{}, fmt.Errorf("invalid config: %s", strings.Join(fields, "; "))
		}
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, addr string) {
	if addr == "" {
		addr = ":8080"
	}
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("http_addr", addr)
	v.SetDefault("database_url", "")
	v.SetDefault("nats_url", "nats://localhost:4222")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("ui_origin", "http://localhost:3000")
	v.SetDefault("shutdown_timeout", "10s")

	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.max_conns", 20)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("db.max_conn_idle_time", "5m")
	v.SetDefault("db.health_check_period", "30s")

	v.SetDefault("broker.retry_delay", "5s")
	v.SetDefault("broker.publish_timeout", "5s")

	v.SetDefault("consumer.max_deliver", 5)
	v.SetDefault("consumer.ack_wait", "30s")
	v.SetDefault("consumer.timeout", "5s")

	v.SetDefault("outbox.poll_interval", "2s")
	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.max_attempts", 10)
	v.SetDefault("outbox.lease", "30s")

	v.SetDefault("gateway.identity_url", "http://localhost:5001")
	v.SetDefault("gateway.tasks_url", "http://localhost:5002")
	v.SetDefault("gateway.notifications_url", "http://localhost:5003")
	v.SetDefault("gateway.upstream_timeout", "10s")

	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.insecure", true)
	v.SetDefault("otel.sample_ratio", 1.0)
}

func envName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
