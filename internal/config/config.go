package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ModeLive  = "live"
	ModePaper = "paper"
)

type Config struct {
	Log        LoggingConfig    `yaml:"log"`
	Polymarket PolymarketConfig `yaml:"polymarket"`
	Binance    BinanceConfig    `yaml:"binance"`
	State      StateConfig      `yaml:"state"`
	Journal    JournalConfig    `yaml:"journal"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	App        AppConfig        `yaml:"app"`
	Strategy   StrategyConfig   `yaml:"strategy"`
	Wallets    []WalletConfig   `yaml:"wallets"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type PolymarketConfig struct {
	ClobURL  string        `yaml:"clob_url"`
	GammaURL string        `yaml:"gamma_url"`
	DataURL  string        `yaml:"data_url"`
	ChainID  int64         `yaml:"chain_id"`
	Timeout  time.Duration `yaml:"timeout"`
}

type BinanceConfig struct {
	WSURL          string        `yaml:"ws_url"`
	RESTURL        string        `yaml:"rest_url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	VolWindow      int           `yaml:"vol_window"`
	VolSample      time.Duration `yaml:"vol_sample"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type JournalConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type TelegramConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Token                  string        `yaml:"token"`
	ChatID                 string        `yaml:"chat_id"`
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type AppConfig struct {
	Mode            string        `yaml:"mode"`
	TickInterval    time.Duration `yaml:"tick_interval"`
	MarketInterval  time.Duration `yaml:"market_interval"`
	SyncInterval    time.Duration `yaml:"sync_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	SafetyBackoff   time.Duration `yaml:"safety_backoff"`
	CleanupOnStart  bool          `yaml:"cleanup_on_start"`
	EventBuffer     int           `yaml:"event_buffer"`
	PaperBalance    float64       `yaml:"paper_balance"`
	PanicDiscount   float64       `yaml:"panic_discount"`
}

type WalletConfig struct {
	Name             string   `yaml:"name"`
	PrivateKeyEnv    string   `yaml:"private_key_env"`
	FunderAddress    string   `yaml:"funder_address"`
	SignatureType    int      `yaml:"signature_type"`
	APIKeyEnv        string   `yaml:"api_key_env"`
	APISecretEnv     string   `yaml:"api_secret_env"`
	APIPassphraseEnv string   `yaml:"api_passphrase_env"`
	Assets           []string `yaml:"assets"`
}

// StrategyConfig carries one sub-config per strategy. Enabled lists the
// strategy names the registry should construct.
type StrategyConfig struct {
	Enabled           []string        `yaml:"enabled"`
	SubtractSpread    bool            `yaml:"subtract_spread"`
	GlobalStopLossPct float64         `yaml:"stoploss_pct"`
	EdgeHedge         EdgeHedgeConfig `yaml:"edge_hedge"`
	Arbitrage         ArbitrageConfig `yaml:"arbitrage"`
	Sniper            SniperConfig    `yaml:"sniper"`
	Trend             TrendConfig     `yaml:"trend"`
}

type EdgeHedgeConfig struct {
	MinEdgePct              float64 `yaml:"min_edge_pct"`
	ProfitHedgeThresholdPct float64 `yaml:"profit_hedge_threshold_pct"`
	StoplossTriggerPct      float64 `yaml:"stoploss_trigger_pct"`
	EntryCooldownSec        float64 `yaml:"entry_cooldown_sec"`
	PositionSizeUSDC        float64 `yaml:"position_size_usdc"`
	MinHedgeValueUSDC       float64 `yaml:"min_hedge_value_usdc"`
}

type ArbitrageConfig struct {
	MinProfitRate     float64 `yaml:"min_profit_rate"`
	MaxProfitRate     float64 `yaml:"max_profit_rate"`
	MinSize           float64 `yaml:"min_size"`
	SizeStep          float64 `yaml:"size_step"`
	MaxSearchSize     float64 `yaml:"max_search_size"`
	SlippageTolerance float64 `yaml:"slippage_tolerance"`
	AmountUSDC        float64 `yaml:"amount_usdc"`
}

type SniperConfig struct {
	MinutesBefore      float64 `yaml:"minutes_before"`
	ProbThreshold      float64 `yaml:"prob_threshold"`
	AmountUSDC         float64 `yaml:"amount_usdc"`
	MaxTimes           int     `yaml:"max_times"`
	IntervalSeconds    float64 `yaml:"interval_seconds"`
	HedgeProbThreshold float64 `yaml:"hedge_prob_threshold"`
}

type TrendConfig struct {
	Mode                    string  `yaml:"mode"`
	EdgeThresholdPct        float64 `yaml:"edge_threshold_pct"`
	ContrarianEntryEdgeMin  float64 `yaml:"contrarian_entry_edge_min"`
	ContrarianEntryEdgeMax  float64 `yaml:"contrarian_entry_edge_max"`
	ExitEdgeThreshold       float64 `yaml:"exit_edge_threshold"`
	StoplossEdgePct         float64 `yaml:"stoploss_edge_pct"`
	TimeExitSeconds         float64 `yaml:"time_exit_seconds"`
	ContrarianTakeProfitPct float64 `yaml:"contrarian_take_profit_pct"`
	BetAmountUSDC           float64 `yaml:"bet_amount_usdc"`
	MaxPositionUSDC         float64 `yaml:"max_position_usdc"`
	UseKelly                bool    `yaml:"use_kelly"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.File != "" {
		if cfg.Log.MaxSizeMB == 0 {
			cfg.Log.MaxSizeMB = 100
		}
		if cfg.Log.MaxBackups == 0 {
			cfg.Log.MaxBackups = 5
		}
		if cfg.Log.MaxAgeDays == 0 {
			cfg.Log.MaxAgeDays = 14
		}
	}
	if cfg.Polymarket.ClobURL == "" {
		cfg.Polymarket.ClobURL = "https://clob.polymarket.com"
	}
	if cfg.Polymarket.GammaURL == "" {
		cfg.Polymarket.GammaURL = "https://gamma-api.polymarket.com"
	}
	if cfg.Polymarket.DataURL == "" {
		cfg.Polymarket.DataURL = "https://data-api.polymarket.com"
	}
	if cfg.Polymarket.ChainID == 0 {
		cfg.Polymarket.ChainID = 137
	}
	if cfg.Polymarket.Timeout == 0 {
		cfg.Polymarket.Timeout = 10 * time.Second
	}
	if cfg.Binance.WSURL == "" {
		cfg.Binance.WSURL = "wss://stream.binance.com:9443/ws"
	}
	if cfg.Binance.RESTURL == "" {
		cfg.Binance.RESTURL = "https://api.binance.com"
	}
	if cfg.Binance.ReconnectDelay == 0 {
		cfg.Binance.ReconnectDelay = 3 * time.Second
	}
	if cfg.Binance.PingInterval == 0 {
		cfg.Binance.PingInterval = 30 * time.Second
	}
	if cfg.Binance.VolWindow == 0 {
		cfg.Binance.VolWindow = 60
	}
	if cfg.Binance.VolSample == 0 {
		cfg.Binance.VolSample = time.Minute
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/polyedge-bot.db"
	}
	if cfg.Journal.Schema == "" {
		cfg.Journal.Schema = "public"
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 3 * time.Second
	}
	applyAppDefaults(&cfg.App)
	applyStrategyDefaults(&cfg.Strategy)
	for i := range cfg.Wallets {
		w := &cfg.Wallets[i]
		if w.Name == "" {
			w.Name = fmt.Sprintf("wallet-%d", i)
		}
		if len(w.Assets) == 0 {
			w.Assets = []string{"BTC"}
		}
		for j, asset := range w.Assets {
			w.Assets[j] = strings.ToUpper(strings.TrimSpace(asset))
		}
	}
}

func applyAppDefaults(app *AppConfig) {
	if app.Mode == "" {
		app.Mode = ModePaper
	}
	if app.TickInterval == 0 {
		app.TickInterval = 500 * time.Millisecond
	}
	if app.MarketInterval == 0 {
		app.MarketInterval = time.Second
	}
	if app.SyncInterval == 0 {
		app.SyncInterval = 20 * time.Second
	}
	if app.ShutdownTimeout == 0 {
		app.ShutdownTimeout = 15 * time.Second
	}
	if app.SafetyBackoff == 0 {
		app.SafetyBackoff = 30 * time.Second
	}
	if app.EventBuffer == 0 {
		app.EventBuffer = 256
	}
	if app.PaperBalance == 0 {
		app.PaperBalance = 100
	}
	if app.PanicDiscount == 0 {
		app.PanicDiscount = 0.01
	}
}

func applyStrategyDefaults(s *StrategyConfig) {
	if len(s.Enabled) == 0 {
		s.Enabled = []string{"expiry_sniper", "arbitrage", "edge_hedge", "trend"}
	}
	if s.GlobalStopLossPct == 0 {
		s.GlobalStopLossPct = 20
	}
	eh := &s.EdgeHedge
	if eh.MinEdgePct == 0 {
		eh.MinEdgePct = 10
	}
	if eh.ProfitHedgeThresholdPct == 0 {
		eh.ProfitHedgeThresholdPct = 7
	}
	if eh.StoplossTriggerPct == 0 {
		eh.StoplossTriggerPct = 15
	}
	if eh.EntryCooldownSec == 0 {
		eh.EntryCooldownSec = 30
	}
	if eh.PositionSizeUSDC == 0 {
		eh.PositionSizeUSDC = 10
	}
	if eh.MinHedgeValueUSDC == 0 {
		eh.MinHedgeValueUSDC = 0.5
	}
	arb := &s.Arbitrage
	if arb.MinProfitRate == 0 {
		arb.MinProfitRate = 1
	}
	if arb.MaxProfitRate == 0 {
		arb.MaxProfitRate = 50
	}
	if arb.MinSize == 0 {
		arb.MinSize = 5
	}
	if arb.SizeStep == 0 {
		arb.SizeStep = 1
	}
	if arb.MaxSearchSize == 0 {
		arb.MaxSearchSize = 1000
	}
	if arb.SlippageTolerance == 0 {
		arb.SlippageTolerance = 0.005
	}
	if arb.AmountUSDC == 0 {
		arb.AmountUSDC = 10
	}
	sn := &s.Sniper
	if sn.MinutesBefore == 0 {
		sn.MinutesBefore = 15
	}
	if sn.ProbThreshold == 0 {
		sn.ProbThreshold = 98
	}
	if sn.AmountUSDC == 0 {
		sn.AmountUSDC = 10
	}
	if sn.MaxTimes == 0 {
		sn.MaxTimes = 3
	}
	if sn.IntervalSeconds == 0 {
		sn.IntervalSeconds = 60
	}
	if sn.HedgeProbThreshold == 0 {
		sn.HedgeProbThreshold = 90
	}
	tr := &s.Trend
	if tr.Mode == "" {
		tr.Mode = "auto"
	}
	if tr.EdgeThresholdPct == 0 {
		tr.EdgeThresholdPct = 3
	}
	if tr.ContrarianEntryEdgeMin == 0 {
		tr.ContrarianEntryEdgeMin = 3
	}
	if tr.ContrarianEntryEdgeMax == 0 {
		tr.ContrarianEntryEdgeMax = 10
	}
	if tr.ExitEdgeThreshold == 0 {
		tr.ExitEdgeThreshold = 1
	}
	if tr.StoplossEdgePct == 0 {
		tr.StoplossEdgePct = -10
	}
	if tr.TimeExitSeconds == 0 {
		tr.TimeExitSeconds = 300
	}
	if tr.ContrarianTakeProfitPct == 0 {
		tr.ContrarianTakeProfitPct = 3
	}
	if tr.BetAmountUSDC == 0 {
		tr.BetAmountUSDC = 10
	}
	if tr.MaxPositionUSDC == 0 {
		tr.MaxPositionUSDC = 100
	}
}

func validate(cfg *Config) error {
	if cfg.App.Mode != ModeLive && cfg.App.Mode != ModePaper {
		return fmt.Errorf("app.mode must be %q or %q", ModeLive, ModePaper)
	}
	if len(cfg.Wallets) == 0 {
		return errors.New("at least one wallet is required")
	}
	seen := make(map[string]struct{}, len(cfg.Wallets))
	for _, w := range cfg.Wallets {
		if _, ok := seen[w.Name]; ok {
			return fmt.Errorf("duplicate wallet name %q", w.Name)
		}
		seen[w.Name] = struct{}{}
		if cfg.App.Mode == ModeLive && w.PrivateKeyEnv == "" {
			return fmt.Errorf("wallet %s: private_key_env is required in live mode", w.Name)
		}
		for _, asset := range w.Assets {
			if asset != "BTC" && asset != "ETH" {
				return fmt.Errorf("wallet %s: unsupported asset %q", w.Name, asset)
			}
		}
	}
	if cfg.Journal.Enabled && strings.TrimSpace(cfg.Journal.DSN) == "" {
		return errors.New("journal.dsn is required when journal is enabled")
	}
	if cfg.App.PanicDiscount < 0 || cfg.App.PanicDiscount >= 1 {
		return errors.New("app.panic_discount must be in [0, 1)")
	}
	return ValidateStrategy(cfg.Strategy)
}

// ValidateStrategy enforces the invariants the strategies rely on. A
// violation refuses startup.
func ValidateStrategy(s StrategyConfig) error {
	eh := s.EdgeHedge
	if eh.ProfitHedgeThresholdPct >= eh.StoplossTriggerPct {
		return errors.New("strategy.edge_hedge.profit_hedge_threshold_pct must be < stoploss_trigger_pct")
	}
	if eh.PositionSizeUSDC <= 0 {
		return errors.New("strategy.edge_hedge.position_size_usdc must be > 0")
	}
	if eh.EntryCooldownSec < 0 {
		return errors.New("strategy.edge_hedge.entry_cooldown_sec must be >= 0")
	}
	if s.GlobalStopLossPct <= 0 {
		return errors.New("strategy.stoploss_pct must be > 0")
	}
	arb := s.Arbitrage
	if arb.MinProfitRate >= arb.MaxProfitRate {
		return errors.New("strategy.arbitrage.min_profit_rate must be < max_profit_rate")
	}
	if arb.MinSize <= 0 || arb.SizeStep <= 0 {
		return errors.New("strategy.arbitrage.min_size and size_step must be > 0")
	}
	if arb.SlippageTolerance < 0 {
		return errors.New("strategy.arbitrage.slippage_tolerance must be >= 0")
	}
	sn := s.Sniper
	if sn.ProbThreshold <= 0 || sn.ProbThreshold > 100 {
		return errors.New("strategy.sniper.prob_threshold must be in (0, 100]")
	}
	if sn.MaxTimes < 0 {
		return errors.New("strategy.sniper.max_times must be >= 0")
	}
	tr := s.Trend
	switch tr.Mode {
	case "directional", "contrarian", "auto":
	default:
		return fmt.Errorf("strategy.trend.mode %q is not one of directional, contrarian, auto", tr.Mode)
	}
	if tr.ContrarianEntryEdgeMin > tr.ContrarianEntryEdgeMax {
		return errors.New("strategy.trend.contrarian_entry_edge_min must be <= contrarian_entry_edge_max")
	}
	return nil
}
