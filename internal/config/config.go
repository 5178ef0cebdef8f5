package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	Port          string
	DatabaseURL   string
	SQLitePath    string
	LocalTimezone *time.Location

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string

	PushTTL     int
	PushTimeout time.Duration

	CronToken            string
	ReminderCron         string
	ReminderBatchTimeout time.Duration
}

// Load reads configuration values and prepares defaults where applicable.
// Values that fail to parse are reported on logger and replaced by their defaults.
func Load(logger *slog.Logger) *Config {
	_ = godotenv.Load()

	timezoneName := getenvDefault("LOCAL_TIMEZONE", "Local")
	location, err := time.LoadLocation(timezoneName)
	if err != nil {
		logger.Warn("config: invalid LOCAL_TIMEZONE, defaulting to system local", "value", timezoneName, "error", err)
		location = time.Local
	}

	reminderCron, ok := os.LookupEnv("REMINDER_CRON")
	if !ok {
		reminderCron = "* * * * *"
	}

	return &Config{
		Port:                 getenvDefault("PORT", "8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		SQLitePath:           getenvDefault("SQLITE_PATH", "reminders.db"),
		LocalTimezone:        location,
		VAPIDPublicKey:       strings.TrimSpace(os.Getenv("VAPID_PUBLIC_KEY")),
		VAPIDPrivateKey:      unescapePEM(os.Getenv("VAPID_PRIVATE_KEY")),
		VAPIDSubject:         strings.TrimSpace(os.Getenv("VAPID_SUBJECT")),
		PushTTL:              ParseIntEnv(logger, "PUSH_TTL", 60),
		PushTimeout:          ParseDurationEnv(logger, "PUSH_TIMEOUT", 12*time.Second),
		CronToken:            os.Getenv("CRON_TOKEN"),
		ReminderCron:         strings.TrimSpace(reminderCron),
		ReminderBatchTimeout: ParseDurationEnv(logger, "REMINDER_BATCH_TIMEOUT", 2*time.Minute),
	}
}

func getenvDefault(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	return value
}

// unescapePEM allows a PEM block to be supplied on a single line with
// literal "\n" separators, which is how most hosting dashboards store it.
func unescapePEM(value string) string {
	value = strings.TrimSpace(value)
	if strings.Contains(value, `\n`) {
		value = strings.ReplaceAll(value, `\n`, "\n")
	}
	return value
}

// ParseIntEnv returns the integer value for an environment variable or the provided default.
func ParseIntEnv(logger *slog.Logger, key string, def int) int {
	value := os.Getenv(key)
	if value == "" {
		return def
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		logger.Warn("config: unable to parse int, using default", "key", key, "value", value, "default", def, "error", err)
		return def
	}
	return parsed
}

// ParseDurationEnv returns the duration value for an environment variable or the provided default.
func ParseDurationEnv(logger *slog.Logger, key string, def time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return def
	}

	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		logger.Warn("config: unable to parse positive duration, using default", "key", key, "value", value, "default", def, "error", err)
		return def
	}
	return parsed
}
