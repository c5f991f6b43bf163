package config

import (
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone   = "UTC"
	configPathEnv     = "ADRELISTER_CONFIG"
	logLevelEnv       = "LOG_LEVEL"
	logFormatEnv      = "LOG_FORMAT"
	httpAddrEnv       = "HTTP_ADDR"
	databaseDSNEnv    = "DATABASE_DSN"
	scraperUserEnv    = "SCRAPER_USERNAME"
	scraperPassEnv    = "SCRAPER_PASSWORD"
	scraperURLEnv     = "SCRAPER_BASE_URL"
	redisAddrEnv      = "REDIS_ADDR"
	redisPasswordEnv  = "REDIS_PASSWORD"
	kafkaBrokersEnv   = "KAFKA_BROKERS"
	archiveBucketEnv  = "ARCHIVE_BUCKET"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	HTTP          HTTPConfig         `yaml:"http"`
	Database      DatabaseConfig     `yaml:"database"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Throttle      ThrottleConfig     `yaml:"throttle"`
	Scraper       ScraperConfig      `yaml:"scraper"`
	Articles      ArticlesConfig     `yaml:"articles"`
	Redis         RedisConfig        `yaml:"redis"`
	Kafka         KafkaConfig        `yaml:"kafka"`
	Archive       ArchiveConfig      `yaml:"archive"`
	Notifications NotificationConfig `yaml:"notifications"`
}

// LoggingConfig selects the slog level and handler ("text" or "json").
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HTTPConfig describes the API listener.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// DatabaseConfig describes Postgres connection details. An empty DSN keeps state in memory.
type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"maxConns"`
}

// SchedulerConfig defines how often scheduled batches are checked.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// ThrottleConfig bounds the random pause between two adapter calls.
type ThrottleConfig struct {
	MinDelay time.Duration `yaml:"minDelay"`
	MaxDelay time.Duration `yaml:"maxDelay"`
}

// ScraperConfig picks the marketplace adapter and how to reach it.
type ScraperConfig struct {
	Adapter  string        `yaml:"adapter"`
	BaseURL  string        `yaml:"baseUrl"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ArticlesConfig locates a unit's live ad list and how to read it.
type ArticlesConfig struct {
	// UnitURL contains an {id} placeholder replaced with the representative article id.
	UnitURL   string            `yaml:"unitUrl"`
	PageSize  int               `yaml:"pageSize"`
	UserAgent string            `yaml:"userAgent"`
	Timeout   time.Duration     `yaml:"timeout"`
	Selectors SelectorsConfig   `yaml:"selectors"`
	Headers   map[string]string `yaml:"headers"`
}

// SelectorsConfig holds goquery selectors for one ad row.
type SelectorsConfig struct {
	Item             string `yaml:"item"`
	ID               string `yaml:"id"`
	IDAttr           string `yaml:"idAttr"`
	ConfirmationDate string `yaml:"confirmationDate"`
	Price            string `yaml:"price"`
	Floor            string `yaml:"floor"`
	Broker           string `yaml:"broker"`
	VerificationCode string `yaml:"verificationCode"`
}

// RedisConfig enables the cluster-wide session lock when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockKey  string        `yaml:"lockKey"`
	LockTTL  time.Duration `yaml:"lockTtl"`
}

// KafkaConfig enables progress events when Brokers is set.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// ArchiveConfig enables S3 run reports when Bucket is set.
type ArchiveConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			fileCfg, err := Parse(raw)
			if err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()
	cfg.normalizeThrottle()

	return cfg
}

// Parse decodes a YAML document without applying defaults.
func Parse(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(logFormatEnv); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv(httpAddrEnv); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(scraperURLEnv); v != "" {
		c.Scraper.BaseURL = v
	}
	if v := os.Getenv(scraperUserEnv); v != "" {
		c.Scraper.Username = v
	}
	if v := os.Getenv(scraperPassEnv); v != "" {
		c.Scraper.Password = v
	}

	if v := os.Getenv(redisAddrEnv); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv(redisPasswordEnv); v != "" {
		c.Redis.Password = v
	}

	if v := os.Getenv(kafkaBrokersEnv); v != "" {
		c.Kafka.Brokers = splitList(v)
	}

	if v := os.Getenv(archiveBucketEnv); v != "" {
		c.Archive.Bucket = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func (c *Config) normalizeThrottle() {
	if c.Throttle.MaxDelay < c.Throttle.MinDelay {
		log.Printf("config: throttle maxDelay %s below minDelay %s, using minDelay", c.Throttle.MaxDelay, c.Throttle.MinDelay)
		c.Throttle.MaxDelay = c.Throttle.MinDelay
	}
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if override.HTTP.Addr != "" {
		base.HTTP.Addr = override.HTTP.Addr
	}
	if override.HTTP.ShutdownTimeout > 0 {
		base.HTTP.ShutdownTimeout = override.HTTP.ShutdownTimeout
	}

	if override.Database.DSN != "" {
		base.Database.DSN = override.Database.DSN
	}
	if override.Database.MaxConns > 0 {
		base.Database.MaxConns = override.Database.MaxConns
	}

	if override.Scheduler.CronExpression != "" {
		base.Scheduler.CronExpression = override.Scheduler.CronExpression
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}

	if override.Throttle.MinDelay > 0 {
		base.Throttle.MinDelay = override.Throttle.MinDelay
	}
	if override.Throttle.MaxDelay > 0 {
		base.Throttle.MaxDelay = override.Throttle.MaxDelay
	}

	if override.Scraper.Adapter != "" {
		base.Scraper.Adapter = override.Scraper.Adapter
	}
	if override.Scraper.BaseURL != "" {
		base.Scraper.BaseURL = override.Scraper.BaseURL
	}
	if override.Scraper.Username != "" {
		base.Scraper.Username = override.Scraper.Username
	}
	if override.Scraper.Password != "" {
		base.Scraper.Password = override.Scraper.Password
	}
	if override.Scraper.Timeout > 0 {
		base.Scraper.Timeout = override.Scraper.Timeout
	}

	base.Articles = mergeArticles(base.Articles, override.Articles)

	if override.Redis.Addr != "" {
		base.Redis.Addr = override.Redis.Addr
	}
	if override.Redis.Password != "" {
		base.Redis.Password = override.Redis.Password
	}
	if override.Redis.DB != 0 {
		base.Redis.DB = override.Redis.DB
	}
	if override.Redis.LockKey != "" {
		base.Redis.LockKey = override.Redis.LockKey
	}
	if override.Redis.LockTTL > 0 {
		base.Redis.LockTTL = override.Redis.LockTTL
	}

	if len(override.Kafka.Brokers) > 0 {
		base.Kafka.Brokers = override.Kafka.Brokers
	}
	if override.Kafka.Topic != "" {
		base.Kafka.Topic = override.Kafka.Topic
	}

	if override.Archive.Bucket != "" {
		base.Archive.Bucket = override.Archive.Bucket
	}
	if override.Archive.Prefix != "" {
		base.Archive.Prefix = override.Archive.Prefix
	}
	if override.Archive.Region != "" {
		base.Archive.Region = override.Archive.Region
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	return base
}

func mergeArticles(base, override ArticlesConfig) ArticlesConfig {
	if override.UnitURL != "" {
		base.UnitURL = override.UnitURL
	}
	if override.PageSize > 0 {
		base.PageSize = override.PageSize
	}
	if override.UserAgent != "" {
		base.UserAgent = override.UserAgent
	}
	if override.Timeout > 0 {
		base.Timeout = override.Timeout
	}
	if len(override.Headers) > 0 {
		base.Headers = override.Headers
	}

	sel, o := &base.Selectors, override.Selectors
	for dst, src := range map[*string]string{
		&sel.Item:             o.Item,
		&sel.ID:               o.ID,
		&sel.IDAttr:           o.IDAttr,
		&sel.ConfirmationDate: o.ConfirmationDate,
		&sel.Price:            o.Price,
		&sel.Floor:            o.Floor,
		&sel.Broker:           o.Broker,
		&sel.VerificationCode: o.VerificationCode,
	} {
		if src != "" {
			*dst = src
		}
	}
	return base
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		HTTP:      HTTPConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Database:  DatabaseConfig{DSN: "", MaxConns: 10},
		Scheduler: SchedulerConfig{CronExpression: "* * * * *", Timezone: defaultTimezone, location: tz},
		Throttle:  ThrottleConfig{MinDelay: 2 * time.Second, MaxDelay: 3 * time.Second},
		Scraper: ScraperConfig{
			Adapter: "mock",
			BaseURL: "http://localhost:9222",
			Timeout: 90 * time.Second,
		},
		Articles: ArticlesConfig{
			UnitURL:   "https://land.example.org/units/{id}/articles",
			PageSize:  20,
			UserAgent: "AdRelister/1.0",
			Timeout:   15 * time.Second,
			Selectors: SelectorsConfig{
				Item:             "li.article",
				ID:               "a.article-link",
				IDAttr:           "data-article-id",
				ConfirmationDate: ".confirmed-at",
				Price:            ".price",
				Floor:            ".floor",
				Broker:           ".broker",
				VerificationCode: ".verification",
			},
		},
		Redis: RedisConfig{LockKey: "adrelister:scraper-session", LockTTL: 2 * time.Hour},
		Kafka: KafkaConfig{Topic: "adrelister.batch-progress"},
		Archive: ArchiveConfig{
			Prefix: "batch-reports/",
			Region: "ap-northeast-2",
		},
		Notifications: NotificationConfig{
			Telegram: TelegramConfig{BotToken: "", ChatID: ""},
		},
	}
}
