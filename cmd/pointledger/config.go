package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/pointledger/internal/logger"
)

const (
	defaultListenAddr         = "localhost:8000"
	defaultLoggingLevel       = logger.LevelInfo
	defaultEnvironment        = logger.EnvProduction
	defaultSignatureTolerance = 5 * time.Minute
	defaultAuditExchange      = "ledger.audit"
	defaultReconcileInterval  = time.Hour
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the ledger service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Shared secret the payment provider signs webhooks with
	WebhookSecret string

	// Max age of signed webhook timestamp
	SignatureTolerance time.Duration

	// Secret key
	// Operator tokens are signed with it
	SecretKey string

	// RabbitMQ to publish audit records to
	// If empty audit records are only logged
	AMQPURL string

	// Fanout exchange for audit records
	AuditExchange string

	// Interval of background balance reconciliation, zero disables it
	ReconcileInterval time.Duration

	// Environment
	Environment string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:           defaultLoggingLevel,
		ListenAddr:         defaultListenAddr,
		SignatureTolerance: defaultSignatureTolerance,
		AuditExchange:      defaultAuditExchange,
		ReconcileInterval:  defaultReconcileInterval,
		Environment:        defaultEnvironment,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":         setString(&c.ListenAddr),
		"DATABASE_URI":        setString(&c.DatabaseDSN),
		"WEBHOOK_SECRET":      setString(&c.WebhookSecret),
		"SIGNATURE_TOLERANCE": setDuration(&c.SignatureTolerance),
		"SECRET_KEY":          setString(&c.SecretKey),
		"AMQP_URL":            setString(&c.AMQPURL),
		"AUDIT_EXCHANGE":      setString(&c.AuditExchange),
		"RECONCILE_INTERVAL":  setDuration(&c.ReconcileInterval),
		"LOG_LEVEL":           setString(&c.LogLevel),
		"ENVIRONMENT":         setString(&c.Environment),
	}

	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	return nil
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("pointledger", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.WebhookSecret, "webhook-secret", "w", c.WebhookSecret, "Payment provider webhook signing secret")
	fs.DurationVarP(&c.SignatureTolerance, "signature-tolerance", "t", c.SignatureTolerance, "Max age of signed webhook timestamp")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key to sign operator tokens")
	fs.StringVarP(&c.AMQPURL, "amqp", "q", c.AMQPURL, "RabbitMQ URL to publish audit records to")
	fs.StringVarP(&c.AuditExchange, "audit-exchange", "x", c.AuditExchange, "Exchange for audit records")
	fs.DurationVarP(&c.ReconcileInterval, "reconcile-interval", "r", c.ReconcileInterval, "Interval of balance reconciliation (0 disables)")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")

	return fs.Parse(args)
}

// Validate checks required options are set
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("database DSN is required"))
	}
	if c.WebhookSecret == "" {
		errs = append(errs, errors.New("webhook secret is required"))
	}
	if c.SecretKey == "" {
		errs = append(errs, errors.New("secret key is required"))
	}
	if c.SignatureTolerance <= 0 {
		errs = append(errs, errors.New("signature tolerance must be positive"))
	}
	if c.ReconcileInterval < 0 {
		errs = append(errs, errors.New("reconcile interval must not be negative"))
	}

	return errors.Join(errs...)
}
