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

	"commissioni/internal/core"
	"commissioni/internal/schedule"
)

// Config is the immutable configuration surface of the bot, loaded once at
// startup. The core packages receive values from here as constructor
// parameters and never read the environment themselves.
type Config struct {
	// HTTP (hook + health + metrics)
	Port string

	// Database
	SQLiteDBPath string

	// Ownership and split
	OwnerID    int64
	SplitRatio string // user fraction, e.g. "0.5"

	// Timezone for month resolution and trigger times
	Timezone string

	// Safety thresholds
	UndoWindow        time.Duration
	DuplicateWindow   time.Duration
	ZeroActivityDays  int
	ExtremeMultiplier float64
	ExtremeMinSample  int

	// Month-boundary confirmation gate
	BoundaryWindow time.Duration
	ConfirmTimeout time.Duration

	// Trigger times ("HH:MM", interpreted in Timezone)
	WeeklySummaryAt  string
	MonthEndCloseAt  string
	MonthStartAt     string
	PayoutReminderAt string
	ActivityCheckAt  string

	// AMQP notification outbox (optional)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Logging: "text", "tint" or "" for auto-detect
	LogFormat string

	loc   *time.Location
	ratio decimal.Decimal
}

func Load() *Config {
	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/commissioni.db"),

		OwnerID:    getEnvInt64("OWNER_USER_ID", 0),
		SplitRatio: getEnv("SPLIT_RATIO", "0.5"),

		Timezone: getEnv("TIMEZONE", "Africa/Nairobi"),

		UndoWindow:        getEnvDuration("UNDO_WINDOW", 5*time.Minute),
		DuplicateWindow:   getEnvDuration("DUPLICATE_WINDOW", 2*time.Minute),
		ZeroActivityDays:  getEnvInt("ZERO_ACTIVITY_DAYS", 7),
		ExtremeMultiplier: getEnvFloat("EXTREME_MULTIPLIER", 2.0),
		ExtremeMinSample:  getEnvInt("EXTREME_MIN_SAMPLE", 3),

		BoundaryWindow: getEnvDuration("BOUNDARY_WINDOW", 5*time.Minute),
		ConfirmTimeout: getEnvDuration("CONFIRM_TIMEOUT", 2*time.Minute),

		WeeklySummaryAt:  getEnv("WEEKLY_SUMMARY_AT", "18:00"),
		MonthEndCloseAt:  getEnv("MONTH_END_CLOSE_AT", "23:00"),
		MonthStartAt:     getEnv("MONTH_START_AT", "00:00"),
		PayoutReminderAt: getEnv("PAYOUT_REMINDER_AT", "18:00"),
		ActivityCheckAt:  getEnv("ACTIVITY_CHECK_AT", "09:00"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "commissioni"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "notifications"),

		LogFormat: getEnv("LOG_FORMAT", ""),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid.
// It also resolves the timezone and split ratio for later accessors.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

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

	if c.OwnerID <= 0 {
		errors = append(errors, "OWNER_USER_ID must be set to a positive user id")
	}

	if ratio, err := core.ParseSplitRatio(c.SplitRatio); err != nil {
		errors = append(errors, err.Error())
	} else {
		c.ratio = ratio
	}

	if loc, err := time.LoadLocation(c.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	} else {
		c.loc = loc
	}

	if c.UndoWindow < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid undo window %v: must be at least 1 minute", c.UndoWindow))
	}
	if c.DuplicateWindow < time.Second {
		errors = append(errors, fmt.Sprintf("invalid duplicate window %v: must be at least 1 second", c.DuplicateWindow))
	}
	if c.ZeroActivityDays < 1 {
		errors = append(errors, fmt.Sprintf("invalid zero activity days %d: must be at least 1", c.ZeroActivityDays))
	}
	if c.ExtremeMultiplier <= 1 {
		errors = append(errors, fmt.Sprintf("invalid extreme multiplier %v: must be greater than 1", c.ExtremeMultiplier))
	}
	if c.ExtremeMinSample < 1 {
		errors = append(errors, fmt.Sprintf("invalid extreme min sample %d: must be at least 1", c.ExtremeMinSample))
	}
	if c.BoundaryWindow < 0 {
		errors = append(errors, fmt.Sprintf("invalid boundary window %v: must not be negative", c.BoundaryWindow))
	}
	if c.ConfirmTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid confirm timeout %v: must be at least 1 second", c.ConfirmTimeout))
	}

	for name, v := range map[string]string{
		"WEEKLY_SUMMARY_AT":  c.WeeklySummaryAt,
		"MONTH_END_CLOSE_AT": c.MonthEndCloseAt,
		"MONTH_START_AT":     c.MonthStartAt,
		"PAYOUT_REMINDER_AT": c.PayoutReminderAt,
		"ACTIVITY_CHECK_AT":  c.ActivityCheckAt,
	} {
		if _, err := schedule.ParseTimeOfDay(v); err != nil {
			errors = append(errors, fmt.Sprintf("invalid %s '%s': %v", name, v, err))
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "tint" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'tint'", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Location returns the resolved timezone. Valid only after Validate.
func (c *Config) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// Ratio returns the parsed split ratio. Valid only after Validate.
func (c *Config) Ratio() decimal.Decimal {
	if c.ratio.IsZero() {
		return core.DefaultSplitRatio
	}
	return c.ratio
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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
