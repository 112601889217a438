package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"polyswarm/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Stream     StreamConfig     `mapstructure:"stream"`
	Filter     FilterConfig     `mapstructure:"filter"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Swarm      SwarmConfig      `mapstructure:"swarm"`
	Models     ModelsConfig     `mapstructure:"models"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Store      StoreConfig      `mapstructure:"store"`
	Backend    BackendConfig    `mapstructure:"backend"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StreamConfig covers the trade WebSocket feed.
type StreamConfig struct {
	URL              string        `mapstructure:"url"`
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
}

// FilterConfig governs trade admission.
type FilterConfig struct {
	MinTradeSize    float64       `mapstructure:"min_trade_size"`
	MinPrice        float64       `mapstructure:"min_price"`
	MaxPrice        float64       `mapstructure:"max_price"`
	ExcludeKeywords []string      `mapstructure:"exclude_keywords"`
	AIEnabled       bool          `mapstructure:"ai_enabled"`
	AITimeout       time.Duration `mapstructure:"ai_timeout"`
}

// QueueConfig sizes the backpressure queue.
type QueueConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// SwarmConfig tunes the consensus orchestrator.
type SwarmConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Concurrency     int           `mapstructure:"concurrency"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	RetryDelayBase  time.Duration `mapstructure:"retry_delay_base"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	AnalysisMinSize float64       `mapstructure:"analysis_min_size"`
	PickThreshold   float64       `mapstructure:"pick_threshold"`
}

// ModelsConfig holds one credential per model backend. An absent key silently
// excludes that backend from the swarm.
type ModelsConfig struct {
	OpenAIKey      string `mapstructure:"openai_key"`
	OpenAIModel    string `mapstructure:"openai_model"`
	AnthropicKey   string `mapstructure:"anthropic_key"`
	AnthropicModel string `mapstructure:"anthropic_model"`
	XAIKey         string `mapstructure:"xai_key"`
	XAIModel       string `mapstructure:"xai_model"`
	DeepSeekKey    string `mapstructure:"deepseek_key"`
	DeepSeekModel  string `mapstructure:"deepseek_model"`
}

// ClassifierConfig selects the AI-assisted admission classifier backend.
type ClassifierConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// StoreConfig describes the local snapshot directory and retention policy.
type StoreConfig struct {
	DataDir             string        `mapstructure:"data_dir"`
	SaveInterval        time.Duration `mapstructure:"save_interval"`
	PruneInterval       time.Duration `mapstructure:"prune_interval"`
	PredictionRetention time.Duration `mapstructure:"prediction_retention"`
	MarketRetention     time.Duration `mapstructure:"market_retention"`
}

// BackendConfig points at the persistence collaborator API.
type BackendConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// AlertingConfig defines pick alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// DatabaseConfig encapsulates the optional PostgreSQL archive.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("POLYSWARM")
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
	v.SetDefault("app.name", "polyswarm")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("stream.url", "wss://ws-live-data.polymarket.com")
	v.SetDefault("stream.reconnect_delay", "3s")
	v.SetDefault("stream.handshake_timeout", "10s")
	v.SetDefault("stream.ping_interval", "30s")

	v.SetDefault("filter.min_trade_size", 500.0)
	v.SetDefault("filter.min_price", 0.02)
	v.SetDefault("filter.max_price", 0.98)
	v.SetDefault("filter.exclude_keywords", []string{})
	v.SetDefault("filter.ai_enabled", false)
	v.SetDefault("filter.ai_timeout", "10s")

	v.SetDefault("queue.capacity", 1000)

	v.SetDefault("swarm.enabled", true)
	v.SetDefault("swarm.concurrency", 3)
	v.SetDefault("swarm.call_timeout", "120s")
	v.SetDefault("swarm.max_attempts", 3)
	v.SetDefault("swarm.retry_delay_base", "1s")
	v.SetDefault("swarm.rate_per_second", 2.0)
	v.SetDefault("swarm.analysis_min_size", 1000.0)
	v.SetDefault("swarm.pick_threshold", 70.0)

	v.SetDefault("models.openai_model", "gpt-4o")
	v.SetDefault("models.anthropic_model", "claude-sonnet-4-20250514")
	v.SetDefault("models.xai_model", "grok-3")
	v.SetDefault("models.deepseek_model", "deepseek-chat")

	v.SetDefault("classifier.model", "gpt-4o-mini")
	v.SetDefault("classifier.base_url", "https://api.openai.com/v1")

	v.SetDefault("store.data_dir", "data")
	v.SetDefault("store.save_interval", "5m")
	v.SetDefault("store.prune_interval", "1h")
	v.SetDefault("store.prediction_retention", "720h") // 30 days
	v.SetDefault("store.market_retention", "168h")     // 7 days

	v.SetDefault("backend.request_timeout", "15s")
	v.SetDefault("backend.max_attempts", 3)
	v.SetDefault("backend.retry_delay_base", "1s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("export.max_data_points", 100000)
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
	if c.Stream.URL == "" {
		return fmt.Errorf("stream.url is required")
	}
	if c.Stream.ReconnectDelay <= 0 {
		return fmt.Errorf("stream.reconnect_delay must be greater than zero")
	}
	if c.Filter.MinTradeSize < 0 {
		return fmt.Errorf("filter.min_trade_size cannot be negative")
	}
	if c.Filter.MinPrice < 0 || c.Filter.MaxPrice > 1 || c.Filter.MinPrice >= c.Filter.MaxPrice {
		return fmt.Errorf("filter price band must satisfy 0 <= min < max <= 1")
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be greater than zero")
	}
	if c.Swarm.Concurrency <= 0 {
		return fmt.Errorf("swarm.concurrency must be greater than zero")
	}
	if c.Swarm.MaxAttempts <= 0 {
		return fmt.Errorf("swarm.max_attempts must be greater than zero")
	}
	if c.Swarm.PickThreshold < 0 || c.Swarm.PickThreshold > 100 {
		return fmt.Errorf("swarm.pick_threshold must lie within [0, 100]")
	}
	if c.Store.SaveInterval <= 0 || c.Store.PruneInterval <= 0 {
		return fmt.Errorf("store intervals must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required when telegram is enabled")
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
