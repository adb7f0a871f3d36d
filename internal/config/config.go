package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"ratiowatch/internal/feed"
	"ratiowatch/internal/logging"
	"ratiowatch/internal/ratio"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Instruments InstrumentsConfig `mapstructure:"instruments"`
	Ratio       ratio.Bounds      `mapstructure:"ratio"`
	Feed        FeedConfig        `mapstructure:"feed"`
	Sink        SinkConfig        `mapstructure:"sink"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs sampling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// InstrumentsConfig names the two legs of the pair.
type InstrumentsConfig struct {
	A string `mapstructure:"a"`
	B string `mapstructure:"b"`
}

// FeedConfig selects where quote pairs come from.
type FeedConfig struct {
	Kind       string  `mapstructure:"kind"`
	Path       string  `mapstructure:"path"`
	Seed       int64   `mapstructure:"seed"`
	StartA     float64 `mapstructure:"start_a"`
	StartB     float64 `mapstructure:"start_b"`
	Volatility float64 `mapstructure:"volatility"`
	SpreadBps  float64 `mapstructure:"spread_bps"`
}

// SinkConfig configures where records are aggregated.
type SinkConfig struct {
	RetainGroups int  `mapstructure:"retain_groups"`
	Postgres     bool `mapstructure:"postgres"`
	Stream       bool `mapstructure:"stream"`
}

// MetricsConfig controls the Prometheus/stream listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Cooldown time.Duration `mapstructure:"cooldown"`
	// Retention prunes audit rows older than this at startup; zero keeps all.
	Retention time.Duration  `mapstructure:"retention"`
	Channels  []string       `mapstructure:"channels"`
	Telegram  TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot target.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RATIOWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ratiowatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)

	v.SetDefault("scheduler.interval", "1s")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x72617469))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("instruments.a", "A")
	v.SetDefault("instruments.b", "B")

	v.SetDefault("ratio.upper_bound", ratio.DefaultUpperBound)
	v.SetDefault("ratio.lower_bound", ratio.DefaultLowerBound)

	v.SetDefault("feed.kind", feed.KindRandom)
	v.SetDefault("feed.seed", 1)
	v.SetDefault("feed.start_a", 100.0)
	v.SetDefault("feed.start_b", 100.0)
	v.SetDefault("feed.volatility", 0.01)
	v.SetDefault("feed.spread_bps", 5.0)

	v.SetDefault("sink.retain_groups", 10000)
	v.SetDefault("sink.postgres", false)
	v.SetDefault("sink.stream", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9464")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "5m")
	v.SetDefault("alerting.retention", "720h")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if err := c.Ratio.Validate(); err != nil {
		return fmt.Errorf("ratio: %w", err)
	}
	if c.Instruments.A == "" || c.Instruments.B == "" {
		return fmt.Errorf("instruments.a and instruments.b must be set")
	}
	if c.Instruments.A == c.Instruments.B {
		return fmt.Errorf("instruments.a and instruments.b must differ")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	switch c.Feed.Kind {
	case feed.KindRandom:
	case feed.KindReplay:
		if c.Feed.Path == "" {
			return fmt.Errorf("feed.path is required for replay feeds")
		}
	default:
		return fmt.Errorf("feed.kind %q not supported", c.Feed.Kind)
	}
	if c.Sink.RetainGroups < 0 {
		return fmt.Errorf("sink.retain_groups cannot be negative")
	}
	if c.Sink.Postgres && c.Database.DSN == "" {
		return fmt.Errorf("sink.postgres requires database.dsn")
	}
	if c.Alerting.Cooldown < 0 {
		return fmt.Errorf("alerting.cooldown cannot be negative")
	}
	if c.Alerting.Retention < 0 {
		return fmt.Errorf("alerting.retention cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
