package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Settings is the fully-resolved runtime configuration: defaults, then the
// YAML file, then environment variables, each layer overriding the last.
type Settings struct {
	Timeout time.Duration
	Retries int

	// Routing service credentials and pacing. Without a credential the
	// service enforces a far tighter call budget, so the gate interval
	// stretches to tens of seconds.
	RoutingAPIKey        string
	QuoteIntervalWithKey time.Duration
	QuoteIntervalNoKey   time.Duration
	QuoteMaxRetries      int
	QuoteRetryBaseDelay  time.Duration
	QuoteStaleness       time.Duration
	RequoteTolerancePct  float64

	// Planner thresholds.
	RebalanceThresholdPct float64
	MinTradeValueUSD      float64
	YieldMinImprovement   float64
	YieldMinTVLUSD        float64
	YieldAPYCeiling       float64
	ArbMinSpreadPct       float64
	ArbFeePct             float64
	ArbNotionalUSD        float64

	// Phrasing decorator.
	OpenAIAPIKey string
	OpenAIModel  string

	// Local stores.
	CachePath     string
	CacheLockPath string
	HistoryPath   string
	HistoryLock   string

	// NotifyWebhookURL, when set, mirrors discovery events to an external
	// receiver alongside the structured log.
	NotifyWebhookURL string

	// Per-chain RPC overrides keyed by chain id.
	RPCOverrides map[int64]string

	LogLevel string
	LogFile  string
}

type fileConfig struct {
	Timeout  string `yaml:"timeout"`
	Retries  *int   `yaml:"retries"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
	Routing  struct {
		APIKey          string   `yaml:"api_key"`
		APIKeyEnv       string   `yaml:"api_key_env"`
		IntervalWithKey string   `yaml:"interval_with_key"`
		IntervalNoKey   string   `yaml:"interval_no_key"`
		MaxRetries      *int     `yaml:"max_retries"`
		RetryBaseDelay  string   `yaml:"retry_base_delay"`
		QuoteStaleness  string   `yaml:"quote_staleness"`
		RequoteTolPct   *float64 `yaml:"requote_tolerance_pct"`
	} `yaml:"routing"`
	Planner struct {
		RebalanceThresholdPct *float64 `yaml:"rebalance_threshold_pct"`
		MinTradeValueUSD      *float64 `yaml:"min_trade_value_usd"`
		YieldMinImprovement   *float64 `yaml:"yield_min_improvement"`
		YieldMinTVLUSD        *float64 `yaml:"yield_min_tvl_usd"`
		YieldAPYCeiling       *float64 `yaml:"yield_apy_ceiling"`
		ArbMinSpreadPct       *float64 `yaml:"arb_min_spread_pct"`
		ArbFeePct             *float64 `yaml:"arb_fee_pct"`
		ArbNotionalUSD        *float64 `yaml:"arb_notional_usd"`
	} `yaml:"planner"`
	Phrasing struct {
		APIKey    string `yaml:"api_key"`
		APIKeyEnv string `yaml:"api_key_env"`
		Model     string `yaml:"model"`
	} `yaml:"phrasing"`
	Notify struct {
		WebhookURL string `yaml:"webhook_url"`
	} `yaml:"notify"`
	Stores struct {
		CachePath   string `yaml:"cache_path"`
		HistoryPath string `yaml:"history_path"`
	} `yaml:"stores"`
	RPC map[int64]string `yaml:"rpc"`
}

func Load(path string) (Settings, error) {
	// A local .env is optional; ignore a missing file.
	_ = godotenv.Load()

	settings, err := defaults()
	if err != nil {
		return Settings{}, err
	}

	if err := applyFile(path, &settings); err != nil {
		return Settings{}, err
	}
	applyEnv(&settings)

	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	return settings, nil
}

func defaults() (Settings, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Settings{}, fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".config", "chainpilot")
	return Settings{
		Timeout:               10 * time.Second,
		Retries:               2,
		QuoteIntervalWithKey:  1500 * time.Millisecond,
		QuoteIntervalNoKey:    30 * time.Second,
		QuoteMaxRetries:       3,
		QuoteRetryBaseDelay:   2 * time.Second,
		QuoteStaleness:        30 * time.Second,
		RequoteTolerancePct:   1.0,
		RebalanceThresholdPct: 5.0,
		MinTradeValueUSD:      50,
		YieldMinImprovement:   2.0,
		YieldMinTVLUSD:        1_000_000,
		YieldAPYCeiling:       100,
		ArbMinSpreadPct:       0.5,
		ArbFeePct:             0.3,
		ArbNotionalUSD:        500,
		OpenAIModel:           "gpt-4o-mini",
		CachePath:             filepath.Join(dir, "cache.db"),
		CacheLockPath:         filepath.Join(dir, "cache.lock"),
		HistoryPath:           filepath.Join(dir, "history.db"),
		HistoryLock:           filepath.Join(dir, "history.lock"),
		RPCOverrides:          map[int64]string{},
		LogLevel:              "info",
	}, nil
}

func applyFile(path string, settings *Settings) error {
	if strings.TrimSpace(path) == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		path = filepath.Join(home, ".config", "chainpilot", "config.yaml")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if fc.Timeout != "" {
		d, err := time.ParseDuration(fc.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout in config: %w", err)
		}
		settings.Timeout = d
	}
	if fc.Retries != nil {
		settings.Retries = *fc.Retries
	}
	if fc.LogLevel != "" {
		settings.LogLevel = fc.LogLevel
	}
	if fc.LogFile != "" {
		settings.LogFile = fc.LogFile
	}

	applyDuration(fc.Routing.IntervalWithKey, &settings.QuoteIntervalWithKey)
	applyDuration(fc.Routing.IntervalNoKey, &settings.QuoteIntervalNoKey)
	applyDuration(fc.Routing.RetryBaseDelay, &settings.QuoteRetryBaseDelay)
	applyDuration(fc.Routing.QuoteStaleness, &settings.QuoteStaleness)
	if fc.Routing.MaxRetries != nil {
		settings.QuoteMaxRetries = *fc.Routing.MaxRetries
	}
	if fc.Routing.RequoteTolPct != nil {
		settings.RequoteTolerancePct = *fc.Routing.RequoteTolPct
	}
	settings.RoutingAPIKey = resolveSecret(fc.Routing.APIKey, fc.Routing.APIKeyEnv)

	applyFloat(fc.Planner.RebalanceThresholdPct, &settings.RebalanceThresholdPct)
	applyFloat(fc.Planner.MinTradeValueUSD, &settings.MinTradeValueUSD)
	applyFloat(fc.Planner.YieldMinImprovement, &settings.YieldMinImprovement)
	applyFloat(fc.Planner.YieldMinTVLUSD, &settings.YieldMinTVLUSD)
	applyFloat(fc.Planner.YieldAPYCeiling, &settings.YieldAPYCeiling)
	applyFloat(fc.Planner.ArbMinSpreadPct, &settings.ArbMinSpreadPct)
	applyFloat(fc.Planner.ArbFeePct, &settings.ArbFeePct)
	applyFloat(fc.Planner.ArbNotionalUSD, &settings.ArbNotionalUSD)

	if fc.Phrasing.Model != "" {
		settings.OpenAIModel = fc.Phrasing.Model
	}
	settings.OpenAIAPIKey = resolveSecret(fc.Phrasing.APIKey, fc.Phrasing.APIKeyEnv)

	if fc.Notify.WebhookURL != "" {
		settings.NotifyWebhookURL = fc.Notify.WebhookURL
	}
	if fc.Stores.CachePath != "" {
		settings.CachePath = fc.Stores.CachePath
		settings.CacheLockPath = fc.Stores.CachePath + ".lock"
	}
	if fc.Stores.HistoryPath != "" {
		settings.HistoryPath = fc.Stores.HistoryPath
		settings.HistoryLock = fc.Stores.HistoryPath + ".lock"
	}
	for id, url := range fc.RPC {
		settings.RPCOverrides[id] = url
	}
	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("CHAINPILOT_ROUTING_API_KEY"); v != "" {
		settings.RoutingAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && settings.OpenAIAPIKey == "" {
		settings.OpenAIAPIKey = v
	}
	if v := os.Getenv("CHAINPILOT_NOTIFY_WEBHOOK_URL"); v != "" {
		settings.NotifyWebhookURL = v
	}
	if v := os.Getenv("CHAINPILOT_LOG_LEVEL"); v != "" {
		settings.LogLevel = v
	}
}

// QuoteInterval picks the pacing interval the routing service's call budget
// allows for the configured credential state.
func (s Settings) QuoteInterval() time.Duration {
	if strings.TrimSpace(s.RoutingAPIKey) != "" {
		return s.QuoteIntervalWithKey
	}
	return s.QuoteIntervalNoKey
}

func resolveSecret(literal, envName string) string {
	if strings.TrimSpace(literal) != "" {
		return strings.TrimSpace(literal)
	}
	if strings.TrimSpace(envName) != "" {
		return strings.TrimSpace(os.Getenv(envName))
	}
	return ""
}

func applyDuration(raw string, dst *time.Duration) {
	if strings.TrimSpace(raw) == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}

func applyFloat(src *float64, dst *float64) {
	if src != nil {
		*dst = *src
	}
}
