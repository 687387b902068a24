package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	StateFile   = "file"
	StateSQLite = "sqlite"
)

type Config struct {
	ConfigPath string
	State      string
	DBPath     string

	CheckInterval    time.Duration
	FetchTimeout     time.Duration
	FetchConcurrency int
	// FetchProxy routes checks through HTTP_PROXY/HTTPS_PROXY. Only http:// proxies work.
	FetchProxy bool

	ListenAddr string

	SlackSigningKey string
	SlackMessageKey string
	SlackChannel    string

	SMTPPassword string

	LogLevel  logrus.Level
	LogFormat string
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("could not load .env: %w", err)
	}

	var err error

	cfg := &Config{
		ConfigPath:      getEnv("CERTWATCH_CONFIG", "config.json"),
		State:           getEnv("CERTWATCH_STATE", StateFile),
		DBPath:          getEnv("CERTWATCH_DB", "certwatch.db"),
		ListenAddr:      getEnv("LISTEN_ADDR", "127.0.0.1:8080"),
		SlackSigningKey: getEnv("SLACK_SIGNING_KEY", ""),
		SlackMessageKey: getEnv("SLACK_MESSAGE_KEY", ""),
		SlackChannel:    getEnv("SLACK_CHANNEL", ""),
		SMTPPassword:    getEnv("SMTP_PASSWORD", ""),
		LogFormat:       getEnv("LOG_FORMAT", "text"),
	}

	if cfg.CheckInterval, err = getEnvDuration("CHECK_INTERVAL", 12*time.Hour); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = getEnvDuration("FETCH_TIMEOUT", 3*time.Second); err != nil {
		return nil, err
	}
	if cfg.FetchConcurrency, err = getEnvInt("FETCH_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if cfg.FetchProxy, err = getEnvBool("FETCH_PROXY", false); err != nil {
		return nil, err
	}
	if cfg.LogLevel, err = logrus.ParseLevel(getEnv("LOG_LEVEL", "info")); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	if cfg.State != StateFile && cfg.State != StateSQLite {
		return nil, fmt.Errorf("CERTWATCH_STATE must be %q or %q, got %q", StateFile, StateSQLite, cfg.State)
	}
	if cfg.CheckInterval <= 0 {
		return nil, fmt.Errorf("CHECK_INTERVAL must be positive")
	}
	if cfg.FetchTimeout <= 0 {
		return nil, fmt.Errorf("FETCH_TIMEOUT must be positive")
	}
	if cfg.FetchConcurrency < 1 {
		return nil, fmt.Errorf("FETCH_CONCURRENCY must be at least 1")
	}

	return cfg, nil
}

// ListensPublicly reports whether the HTTP surface is bound to anything but a
// loopback address. /run and /status are unauthenticated.
func (c *Config) ListensPublicly() bool {
	if c.ListenAddr == "" {
		return false
	}

	host, _, err := net.SplitHostPort(c.ListenAddr)
	if err != nil {
		return true
	}

	if host == "localhost" {
		return false
	}

	ip := net.ParseIP(host)

	return ip == nil || !ip.IsLoopback()
}

// SlackNotifications reports whether enough is configured to post alerts.
func (c *Config) SlackNotifications() bool {
	return c.SlackMessageKey != "" && c.SlackChannel != ""
}

// ConfigureLogging applies the log level and format to the standard logrus logger.
func (c *Config) ConfigureLogging() {
	logrus.SetLevel(c.LogLevel)

	if c.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}

	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return i, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}

	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}

	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
