package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/dispatch-alert-relay/internal/domain"
)

// Config holds all relay settings, populated from environment variables.
// It is built once at startup and passed by pointer; nothing mutates it.
type Config struct {
	// Mailbox settings.
	IMAPServer          string
	IMAPPort            int
	IMAPUsername        string
	IMAPPassword        string
	IMAPFolder          string
	IMAPExcludeSubject  string
	IMAPTimeout         time.Duration
	IMAPConnectAttempts int
	IMAPReconnectDelay  time.Duration
	IMAPErrorBackoff    time.Duration
	PollInterval        time.Duration

	// Telegram settings.
	TelegramToken       string
	TelegramAPIURL      string
	TelegramTimeout     time.Duration
	TelegramMaxAttempts int
	TelegramRetryDelay  time.Duration
	TelegramLogChatID   string

	// Stations holds the subscribed stations and their chats.
	Stations *domain.Registry

	StagingDir         string
	DeliveryWorkers    int
	ProcessedCacheSize int

	// Optional incident feed; disabled when no broker is set.
	KafkaBrokers       []string
	KafkaIncidentTopic string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	LogNotifyLevel  string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
// Every error wraps domain.ErrConfig.
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfig, err)
	}
	return cfg, nil
}

func load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	p := &parser{}
	cfg := &Config{
		IMAPServer:          strings.TrimSpace(os.Getenv("IMAP_SERVER")),
		IMAPPort:            p.positiveInt("IMAP_PORT", 993),
		IMAPUsername:        strings.TrimSpace(os.Getenv("EMAIL_USERNAME")),
		IMAPPassword:        os.Getenv("EMAIL_PASSWORD"),
		IMAPFolder:          sharedcfg.EnvOrDefault("IMAP_FOLDER", "INBOX"),
		IMAPExcludeSubject:  sharedcfg.EnvOrDefault("IMAP_EXCLUDE_SUBJECT", "Einsatzabschluss"),
		IMAPTimeout:         p.duration("IMAP_TIMEOUT", "30s", false),
		IMAPConnectAttempts: p.positiveInt("IMAP_CONNECT_ATTEMPTS", 5),
		IMAPReconnectDelay:  p.duration("IMAP_RECONNECT_DELAY", "5s", true),
		IMAPErrorBackoff:    p.duration("IMAP_ERROR_BACKOFF", "10s", true),
		PollInterval:        p.duration("POLL_INTERVAL", "1s", true),

		TelegramToken:       strings.TrimSpace(os.Getenv("APITOKEN")),
		TelegramAPIURL:      strings.TrimRight(sharedcfg.EnvOrDefault("TELEGRAM_API_URL", "https://api.telegram.org"), "/"),
		TelegramTimeout:     p.duration("TELEGRAM_TIMEOUT", "5s", false),
		TelegramMaxAttempts: p.positiveInt("TELEGRAM_MAX_ATTEMPTS", 10),
		TelegramRetryDelay:  p.duration("TELEGRAM_RETRY_DELAY", "0s", true),
		TelegramLogChatID:   strings.TrimSpace(os.Getenv("TELEGRAM_LOG_CHATID")),

		StagingDir:         sharedcfg.EnvOrDefault("STAGING_DIR", "AlarmXML"),
		DeliveryWorkers:    p.positiveInt("DELIVERY_WORKERS", 4),
		ProcessedCacheSize: p.positiveInt("PROCESSED_CACHE_SIZE", 1000),

		KafkaIncidentTopic: sharedcfg.EnvOrDefault("KAFKA_INCIDENT_TOPIC", "dispatch-incidents"),

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		LogNotifyLevel:  sharedcfg.EnvOrDefault("LOG_NOTIFY_LEVEL", "warn"),
		ShutdownTimeout: shutdownTimeout,
	}
	if p.err != nil {
		return nil, p.err
	}

	if brokers := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); brokers != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(brokers)
	}

	if cfg.IMAPServer == "" {
		return nil, errors.New("IMAP_SERVER is required")
	}
	if cfg.IMAPUsername == "" {
		return nil, errors.New("EMAIL_USERNAME is required")
	}
	if cfg.IMAPPassword == "" {
		return nil, errors.New("EMAIL_PASSWORD is required")
	}
	if cfg.TelegramToken == "" {
		return nil, errors.New("APITOKEN is required")
	}
	if cfg.IMAPPort > 65535 {
		return nil, errors.New("invalid IMAP_PORT")
	}

	names := splitList(os.Getenv("WACHEN"))
	if len(names) == 0 {
		return nil, errors.New("WACHEN is required")
	}
	stations, err := domain.NewRegistry(names,
		splitListLen(os.Getenv("TELEGRAM_CHATIDS"), len(names)),
		splitListLen(os.Getenv("BOT_CHATIDS"), len(names)))
	if err != nil {
		return nil, fmt.Errorf("WACHEN/TELEGRAM_CHATIDS/BOT_CHATIDS: %w", err)
	}
	cfg.Stations = stations

	return cfg, nil
}

// IMAPAddr returns host:port of the mail server.
func (c *Config) IMAPAddr() string {
	return fmt.Sprintf("%s:%d", c.IMAPServer, c.IMAPPort)
}

// KafkaEnabled reports whether the incident feed is configured.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// parser collects the first parse error so Load can build the struct in one literal.
type parser struct {
	err error
}

func (p *parser) positiveInt(key string, fallback int) int {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		p.fail(fmt.Errorf("invalid %s", key))
		return fallback
	}
	return n
}

func (p *parser) duration(key, fallback string, allowZero bool) time.Duration {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		p.fail(fmt.Errorf("invalid %s", key))
		return 0
	}
	return d
}

func (p *parser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

// splitList splits a comma-separated list, returning nil for an empty value.
func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// splitListLen splits a channel list. An unset list means no channels of
// that kind at all and yields n empty ids; a set list must align with WACHEN.
func splitListLen(s string, n int) []string {
	parts := splitList(s)
	if parts == nil {
		return make([]string, n)
	}
	return parts
}
