package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Engine is the payments-engine configuration.
type Engine struct {
	// DB
	PGEngineDSN string `envconfig:"PG_ENGINE_DSN" required:"true"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"20"`
	// Network
	EngineHTTPAddr string `envconfig:"ENGINE_HTTP_ADDR" default:":8090"`
	EngineGRPCAddr string `envconfig:"ENGINE_GRPC_ADDR" default:":50060"`
	// JWT for operator endpoints
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
	// Broker
	RabbitURL            string `envconfig:"RABBIT_URL" required:"true"`
	PaymentExchange      string `envconfig:"PAYMENT_EXCHANGE" default:"payment.exchange"`
	PaymentQueue         string `envconfig:"ENGINE_PAYMENT_QUEUE" default:"engine.payment.q"`
	PaymentDLX           string `envconfig:"ENGINE_PAYMENT_DLX" default:"engine.payment.dlx"`
	NotificationExchange string `envconfig:"NOTIFICATION_EXCHANGE" default:"notification.exchange"`
	// Cache
	RedisURL string `envconfig:"REDIS_URL" default:""`
	// Gateway
	OmisePub string `envconfig:"OMISE_PUBLIC_KEY" required:"true"`
	OmiseSec string `envconfig:"OMISE_SECRET_KEY" required:"true"`
	// Collaborators
	CalendarBaseURL string `envconfig:"CALENDAR_BASE_URL" default:"http://calendar:8085"`

	PolicyFile string `envconfig:"ENGINE_POLICY_FILE" default:""`

	Policy Policy `ignored:"true"`
}

// Policy holds the retry and money-split knobs. Environment values are the
// defaults; ENGINE_POLICY_FILE may override any of them.
type Policy struct {
	TherapistSharePercent int           `envconfig:"THERAPIST_SHARE_PERCENT" default:"85"`
	OutboxWorkers         int           `envconfig:"OUTBOX_WORKERS" default:"2"`
	OutboxBatchSize       int           `envconfig:"OUTBOX_BATCH_SIZE" default:"20"`
	OutboxLockDuration    time.Duration `envconfig:"OUTBOX_LOCK_DURATION" default:"2m"`
	OutboxPollInterval    time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"2s"`
	OutboxMaxRetries      int           `envconfig:"OUTBOX_MAX_RETRIES" default:"5"`
	BackoffBase           time.Duration `envconfig:"BACKOFF_BASE" default:"2s"`
	BackoffMultiplier     float64       `envconfig:"BACKOFF_MULTIPLIER" default:"2"`
	BackoffMax            time.Duration `envconfig:"BACKOFF_MAX" default:"10m"`
	PayoutMaxAttempts     int           `envconfig:"PAYOUT_MAX_ATTEMPTS" default:"5"`
	PayoutRetryWindow     time.Duration `envconfig:"PAYOUT_RETRY_WINDOW" default:"6h"`
	PayoutLease           time.Duration `envconfig:"PAYOUT_LEASE" default:"5m"`
	PayoutPollInterval    time.Duration `envconfig:"PAYOUT_POLL_INTERVAL" default:"30s"`
	LedgerStaleAfter      time.Duration `envconfig:"LEDGER_STALE_AFTER" default:"5m"`
	CompletedCacheTTL     time.Duration `envconfig:"COMPLETED_CACHE_TTL" default:"24h"`
}

// LoadEngine reads .env (if present), the environment, and the optional
// policy file, in that order of precedence (file wins).
func LoadEngine() (Engine, error) {
	_ = godotenv.Load(".env")

	var c Engine
	if err := envconfig.Process("", &c); err != nil {
		return c, err
	}
	if err := c.requireSet(); err != nil {
		return c, err
	}
	if err := envconfig.Process("", &c.Policy); err != nil {
		return c, err
	}
	if c.PolicyFile != "" {
		if err := overlayPolicy(c.PolicyFile, &c.Policy); err != nil {
			return c, err
		}
	}
	return c, c.Policy.Validate()
}

// requireSet rejects required keys that are present but blank; envconfig
// only checks presence.
func (c Engine) requireSet() error {
	for _, kv := range [][2]string{
		{"PG_ENGINE_DSN", c.PGEngineDSN},
		{"JWT_SECRET", c.JWTSecret},
		{"RABBIT_URL", c.RabbitURL},
		{"OMISE_PUBLIC_KEY", c.OmisePub},
		{"OMISE_SECRET_KEY", c.OmiseSec},
	} {
		if strings.TrimSpace(kv[1]) == "" {
			return fmt.Errorf("required key %s is empty", kv[0])
		}
	}
	return nil
}

func overlayPolicy(path string, p *Policy) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	var doc struct {
		Policy *yamlPolicy `yaml:"policy"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse policy file: %w", err)
	}
	if doc.Policy == nil {
		return nil
	}
	if err := doc.Policy.apply(p); err != nil {
		return fmt.Errorf("policy file %s: %w", path, err)
	}
	return nil
}

// yamlPolicy mirrors Policy with pointer fields so absent keys keep their
// environment values.
type yamlPolicy struct {
	TherapistSharePercent *int     `yaml:"therapist_share_percent"`
	OutboxWorkers         *int     `yaml:"outbox_workers"`
	OutboxBatchSize       *int     `yaml:"outbox_batch_size"`
	OutboxLockDuration    *string  `yaml:"outbox_lock_duration"`
	OutboxMaxRetries      *int     `yaml:"outbox_max_retries"`
	BackoffBase           *string  `yaml:"backoff_base"`
	BackoffMultiplier     *float64 `yaml:"backoff_multiplier"`
	BackoffMax            *string  `yaml:"backoff_max"`
	PayoutMaxAttempts     *int     `yaml:"payout_max_attempts"`
	PayoutRetryWindow     *string  `yaml:"payout_retry_window"`
}

func (y *yamlPolicy) apply(p *Policy) error {
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	setInt(&p.TherapistSharePercent, y.TherapistSharePercent)
	setInt(&p.OutboxWorkers, y.OutboxWorkers)
	setInt(&p.OutboxBatchSize, y.OutboxBatchSize)
	setInt(&p.OutboxMaxRetries, y.OutboxMaxRetries)
	setInt(&p.PayoutMaxAttempts, y.PayoutMaxAttempts)
	if y.BackoffMultiplier != nil {
		p.BackoffMultiplier = *y.BackoffMultiplier
	}

	for _, d := range []struct {
		key string
		dst *time.Duration
		v   *string
	}{
		{"outbox_lock_duration", &p.OutboxLockDuration, y.OutboxLockDuration},
		{"backoff_base", &p.BackoffBase, y.BackoffBase},
		{"backoff_max", &p.BackoffMax, y.BackoffMax},
		{"payout_retry_window", &p.PayoutRetryWindow, y.PayoutRetryWindow},
	} {
		if d.v == nil {
			continue
		}
		v, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func (p Policy) Validate() error {
	if p.TherapistSharePercent <= 0 || p.TherapistSharePercent > 100 {
		return fmt.Errorf("therapist share percent out of range: %d", p.TherapistSharePercent)
	}
	if p.OutboxBatchSize <= 0 {
		return fmt.Errorf("outbox batch size must be positive")
	}
	if p.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff multiplier must be >= 1")
	}
	return nil
}
