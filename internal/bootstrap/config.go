// Package bootstrap wires casecore's composition root: configuration,
// connections, domain services, and the process launcher. Grounded on
// the teacher's components/audit/internal/bootstrap (config.go,
// service.go, server.go) — the simpler of the teacher's two bootstrap
// shapes, chosen because casecore has no HTTP routing surface of its
// own to justify the unified-ledger component's heavier multi-module
// wiring.
package bootstrap

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// ApplicationName identifies this service in logs and traces.
const ApplicationName = "casecore"

// Config is the top-level environment configuration (spec.md §6).
type Config struct {
	EnvName  string `env:"ENV_NAME"`
	LogLevel string `env:"LOG_LEVEL"`

	Port string `env:"PORT" envDefault:"3003"`
	Mode string `env:"MODE" envDefault:"production"`

	OtelServiceName         string `env:"OTEL_RESOURCE_SERVICE_NAME"`
	OtelLibraryName         string `env:"OTEL_LIBRARY_NAME"`
	OtelServiceVersion      string `env:"OTEL_RESOURCE_SERVICE_VERSION"`
	OtelDeploymentEnv       string `env:"OTEL_RESOURCE_DEPLOYMENT_ENVIRONMENT"`
	OtelColExporterEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	PostgresPrimaryDSN string `env:"POSTGRES_PRIMARY_DSN"`
	PostgresReplicaDSN string `env:"POSTGRES_REPLICA_DSN"`

	MongoDBHost     string `env:"MONGO_HOST"`
	MongoDBName     string `env:"MONGO_NAME"`
	MongoDBUser     string `env:"MONGO_USER"`
	MongoDBPassword string `env:"MONGO_PASSWORD"`
	MongoDBPort     string `env:"MONGO_PORT"`

	RedisURL string `env:"REDIS_URL"`

	RabbitMQHost     string `env:"RABBITMQ_HOST"`
	RabbitMQPortHost string `env:"RABBITMQ_PORT_HOST"`
	RabbitMQUser     string `env:"RABBITMQ_DEFAULT_USER"`
	RabbitMQPass     string `env:"RABBITMQ_DEFAULT_PASS"`

	KeyStorePath     string `env:"LEDGER_KEY_PATH" envDefault:"/etc/casecore/ledger.key"`
	JWTSigningSecret string `env:"JWT_SIGNING_SECRET"`

	EnableLifecycleScheduler    bool  `env:"ENABLE_LIFECYCLE_SCHEDULER"`
	LifecycleIntervalMS         int64 `env:"LIFECYCLE_INTERVAL_MS" envDefault:"86400000"`
	LifecycleInitialDelayMS     int64 `env:"LIFECYCLE_INITIAL_DELAY_MS"`
	LifecycleRunImmediately     bool  `env:"LIFECYCLE_RUN_IMMEDIATELY"`
	LifecyclePerTenantDelayMS   int64 `env:"LIFECYCLE_PER_TENANT_DELAY_MS" envDefault:"100"`

	TypingThrottleMS               int64 `env:"TYPING_THROTTLE_MS" envDefault:"300"`
	DisbursementExecutionTimeoutMS int64 `env:"DISBURSEMENT_EXECUTION_TIMEOUT_MS" envDefault:"86400000"`

	IdempotencyTTLHours int64 `env:"IDEMPOTENCY_TTL_HOURS" envDefault:"24"`
}

// LifecycleInterval is LifecycleIntervalMS as a time.Duration.
func (c *Config) LifecycleInterval() time.Duration {
	return time.Duration(c.LifecycleIntervalMS) * time.Millisecond
}

// LifecycleInitialDelay is LifecycleInitialDelayMS as a time.Duration.
func (c *Config) LifecycleInitialDelay() time.Duration {
	return time.Duration(c.LifecycleInitialDelayMS) * time.Millisecond
}

// LifecyclePerTenantDelay is LifecyclePerTenantDelayMS as a time.Duration.
func (c *Config) LifecyclePerTenantDelay() time.Duration {
	return time.Duration(c.LifecyclePerTenantDelayMS) * time.Millisecond
}

// TypingThrottle is TypingThrottleMS as a time.Duration.
func (c *Config) TypingThrottle() time.Duration {
	return time.Duration(c.TypingThrottleMS) * time.Millisecond
}

// IdempotencyTTL is IdempotencyTTLHours as a time.Duration.
func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLHours) * time.Hour
}

// DisbursementExecutionTimeout is DisbursementExecutionTimeoutMS as a
// time.Duration.
func (c *Config) DisbursementExecutionTimeout() time.Duration {
	return time.Duration(c.DisbursementExecutionTimeoutMS) * time.Millisecond
}

// LoadConfig reads environment variables into a Config, applying
// envDefault tag values when a variable is unset. Grounded on
// common/os.go's SetConfigFromEnvVars (the teacher's own hand-rolled
// reflection-based loader — there is no third-party env-parsing
// library in the teacher's dependency tree to reuse instead, so this
// is the teacher's idiom, not a stdlib fallback).
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := setFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: load config: %w", err)
	}

	return cfg, nil
}

func setFromEnv(s any) error {
	v := reflect.ValueOf(s)

	t := v.Type()
	if t.Kind() != reflect.Ptr {
		return fmt.Errorf("setFromEnv: target must be a pointer")
	}

	e := t.Elem()

	for i := 0; i < e.NumField(); i++ {
		f := e.Field(i)

		tag, ok := f.Tag.Lookup("env")
		if !ok {
			continue
		}

		fv := v.Elem().FieldByName(f.Name)
		if !fv.CanSet() {
			continue
		}

		def := f.Tag.Get("envDefault")
		raw := getenvOrDefault(tag, def)

		switch fv.Kind() {
		case reflect.Bool:
			fv.SetBool(parseBoolOrDefault(raw, false))
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			fv.SetInt(parseIntOrDefault(raw, 0))
		default:
			fv.SetString(raw)
		}
	}

	return nil
}

func getenvOrDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}

	return v
}

func parseBoolOrDefault(s string, def bool) bool {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}

	return v
}

func parseIntOrDefault(s string, def int64) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}

	return v
}
