package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	// HTTP Server
	Port string

	// Database
	SQLiteDBPath string

	// Reasoning service
	ReasoningBaseURL string
	ReasoningAPIKey  string
	ReasoningModel   string
	ReasoningTimeout time.Duration

	// EstimatedMaxCostUSD is the pre-check amount the gateway asks the
	// ledger about before each call. The actual cost is only known after
	// the call returns.
	EstimatedMaxCostUSD string

	// Budget
	BudgetAllowOverrun bool

	// Chat source (AMQP)
	AMQPURL          string
	AMQPExchange     string
	AMQPInboundQueue string
	AMQPReplyQueue   string

	// Email source (Gmail)
	GmailCredentialsFile string
	GmailTokenFile       string
	GmailMaxResults      int

	// Intake worker
	IntakeInterval  time.Duration
	IntakeLookback  time.Duration
	IntakeBatchSize int

	// Feedback adjustment
	FeedbackStep int
	BiasLimit    int
}

func Load() *Config {
	cfg := &Config{
		Port:         getEnv("PORT", "8082"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/faccende.db"),

		ReasoningBaseURL: getEnv("REASONING_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		ReasoningAPIKey:  getEnv("REASONING_API_KEY", ""),
		ReasoningModel:   getEnv("REASONING_MODEL", "gemini-2.0-flash"),
		ReasoningTimeout: getEnvDuration("REASONING_TIMEOUT", 60*time.Second),

		EstimatedMaxCostUSD: getEnv("ESTIMATED_MAX_COST_USD", "0.02"),

		BudgetAllowOverrun: getEnvBool("BUDGET_ALLOW_OVERRUN", false),

		AMQPURL:          getEnv("AMQP_URL", ""),
		AMQPExchange:     getEnv("AMQP_EXCHANGE", "faccende"),
		AMQPInboundQueue: getEnv("AMQP_INBOUND_QUEUE", "chat_inbound"),
		AMQPReplyQueue:   getEnv("AMQP_REPLY_QUEUE", "chat_replies"),

		GmailCredentialsFile: getEnv("GMAIL_CREDENTIALS_FILE", ""),
		GmailTokenFile:       getEnv("GMAIL_TOKEN_FILE", ""),
		GmailMaxResults:      getEnvInt("GMAIL_MAX_RESULTS", 50),

		IntakeInterval:  getEnvDuration("INTAKE_INTERVAL", 5*time.Minute),
		IntakeLookback:  getEnvDuration("INTAKE_LOOKBACK", 24*time.Hour),
		IntakeBatchSize: getEnvInt("INTAKE_BATCH_SIZE", 50),

		FeedbackStep: getEnvInt("FEEDBACK_STEP", 3),
		BiasLimit:    getEnvInt("BIAS_LIMIT", 20),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate SQLite path
	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	// Validate reasoning service configuration
	if c.ReasoningBaseURL == "" {
		errors = append(errors, "reasoning base URL cannot be empty")
	} else if parsedURL, err := url.Parse(c.ReasoningBaseURL); err != nil {
		errors = append(errors, fmt.Sprintf("invalid reasoning base URL '%s': %v", c.ReasoningBaseURL, err))
	} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		errors = append(errors, fmt.Sprintf("invalid reasoning base URL scheme '%s': must be 'http' or 'https'", parsedURL.Scheme))
	}
	if c.ReasoningModel == "" {
		errors = append(errors, "reasoning model cannot be empty")
	}
	if c.ReasoningTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid reasoning timeout %v: must be at least 1 second", c.ReasoningTimeout))
	}

	if est, err := decimal.NewFromString(c.EstimatedMaxCostUSD); err != nil {
		errors = append(errors, fmt.Sprintf("invalid estimated max cost '%s': %v", c.EstimatedMaxCostUSD, err))
	} else if !est.IsPositive() {
		errors = append(errors, fmt.Sprintf("invalid estimated max cost '%s': must be positive", c.EstimatedMaxCostUSD))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPInboundQueue == "" {
			errors = append(errors, "AMQP inbound queue name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPReplyQueue == "" {
			errors = append(errors, "AMQP reply queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate Gmail configuration: both files or neither
	hasCreds := c.GmailCredentialsFile != ""
	hasToken := c.GmailTokenFile != ""
	if hasCreds != hasToken {
		errors = append(errors, "GMAIL_CREDENTIALS_FILE and GMAIL_TOKEN_FILE must be provided together")
	}
	if hasCreds {
		if _, err := os.Stat(c.GmailCredentialsFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("Gmail credentials file does not exist: %s", c.GmailCredentialsFile))
		}
	}
	if c.GmailMaxResults < 1 || c.GmailMaxResults > 500 {
		errors = append(errors, fmt.Sprintf("invalid Gmail max results %d: must be between 1 and 500", c.GmailMaxResults))
	}

	// Validate intake configuration
	if c.IntakeInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid intake interval %v: must be at least 1 second", c.IntakeInterval))
	} else if c.IntakeInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid intake interval %v: must be at most 24 hours", c.IntakeInterval))
	}
	if c.IntakeLookback < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid intake lookback %v: must be at least 1 minute", c.IntakeLookback))
	}
	if c.IntakeBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid intake batch size %d: must be at least 1", c.IntakeBatchSize))
	} else if c.IntakeBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid intake batch size %d: must be at most 1000", c.IntakeBatchSize))
	}

	// Validate feedback configuration
	if c.FeedbackStep < 1 {
		errors = append(errors, fmt.Sprintf("invalid feedback step %d: must be at least 1", c.FeedbackStep))
	}
	if c.BiasLimit < 1 || c.BiasLimit > 100 {
		errors = append(errors, fmt.Sprintf("invalid bias limit %d: must be between 1 and 100", c.BiasLimit))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// EstimatedMaxCost returns the pre-check amount as a decimal. Validate must
// have accepted the configuration first.
func (c *Config) EstimatedMaxCost() decimal.Decimal {
	d, err := decimal.NewFromString(c.EstimatedMaxCostUSD)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
