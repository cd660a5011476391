package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStrategyDefaults(t *testing.T) {
	cfg := &Config{Wallets: []WalletConfig{{}}}
	applyDefaults(cfg)
	eh := cfg.Strategy.EdgeHedge
	if eh.MinEdgePct != 10 || eh.ProfitHedgeThresholdPct != 7 || eh.StoplossTriggerPct != 15 {
		t.Fatalf("unexpected edge hedge defaults: %+v", eh)
	}
	if eh.EntryCooldownSec != 30 || eh.PositionSizeUSDC != 10 {
		t.Fatalf("unexpected edge hedge sizing defaults: %+v", eh)
	}
	arb := cfg.Strategy.Arbitrage
	if arb.MinProfitRate != 1 || arb.MinSize != 5 || arb.SlippageTolerance != 0.005 || arb.MaxSearchSize != 1000 {
		t.Fatalf("unexpected arbitrage defaults: %+v", arb)
	}
	sn := cfg.Strategy.Sniper
	if sn.MinutesBefore != 15 || sn.ProbThreshold != 98 || sn.MaxTimes != 3 || sn.IntervalSeconds != 60 || sn.HedgeProbThreshold != 90 {
		t.Fatalf("unexpected sniper defaults: %+v", sn)
	}
	tr := cfg.Strategy.Trend
	if tr.Mode != "auto" || tr.StoplossEdgePct != -10 || tr.TimeExitSeconds != 300 {
		t.Fatalf("unexpected trend defaults: %+v", tr)
	}
	if cfg.Strategy.GlobalStopLossPct != 20 {
		t.Fatalf("expected global stoploss 20, got %v", cfg.Strategy.GlobalStopLossPct)
	}
	if len(cfg.Strategy.Enabled) != 4 {
		t.Fatalf("expected all strategies enabled by default, got %v", cfg.Strategy.Enabled)
	}
}

func TestAppDefaults(t *testing.T) {
	cfg := &Config{Wallets: []WalletConfig{{}}}
	applyDefaults(cfg)
	if cfg.App.Mode != ModePaper {
		t.Fatalf("expected paper mode default, got %q", cfg.App.Mode)
	}
	if cfg.App.SafetyBackoff != 30*time.Second {
		t.Fatalf("expected 30s safety backoff, got %v", cfg.App.SafetyBackoff)
	}
	if cfg.App.PanicDiscount != 0.01 {
		t.Fatalf("expected panic discount 0.01, got %v", cfg.App.PanicDiscount)
	}
	if cfg.Wallets[0].Name != "wallet-0" {
		t.Fatalf("expected generated wallet name, got %q", cfg.Wallets[0].Name)
	}
	if len(cfg.Wallets[0].Assets) != 1 || cfg.Wallets[0].Assets[0] != "BTC" {
		t.Fatalf("expected BTC default asset, got %v", cfg.Wallets[0].Assets)
	}
}

func TestValidateRejectsInvertedHedgeThresholds(t *testing.T) {
	cfg := &Config{Wallets: []WalletConfig{{}}}
	cfg.Strategy.EdgeHedge.ProfitHedgeThresholdPct = 15
	cfg.Strategy.EdgeHedge.StoplossTriggerPct = 15
	applyDefaults(cfg)
	err := validate(cfg)
	if err == nil {
		t.Fatalf("expected threshold validation error")
	}
	if !strings.Contains(err.Error(), "profit_hedge_threshold_pct") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateLiveModeRequiresKey(t *testing.T) {
	cfg := &Config{App: AppConfig{Mode: ModeLive}, Wallets: []WalletConfig{{Name: "main"}}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected private key validation error")
	}
	cfg.Wallets[0].PrivateKeyEnv = "MAIN_PK"
	if err := validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsUnknownAsset(t *testing.T) {
	cfg := &Config{Wallets: []WalletConfig{{Assets: []string{"sol"}}}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected unsupported asset error")
	}
}

func TestValidateRejectsDuplicateWallets(t *testing.T) {
	cfg := &Config{Wallets: []WalletConfig{{Name: "a"}, {Name: "a"}}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected duplicate wallet error")
	}
}

func TestValidateTrendMode(t *testing.T) {
	cfg := &Config{Wallets: []WalletConfig{{}}}
	cfg.Strategy.Trend.Mode = "momentum"
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected trend mode error")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
app:
  mode: paper
  tick_interval: 250ms
strategy:
  stoploss_pct: 25
  edge_hedge:
    min_edge_pct: 12
  sniper:
    max_times: 2
wallets:
  - name: main
    assets: [btc, eth]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.TickInterval != 250*time.Millisecond {
		t.Fatalf("expected 250ms tick, got %v", cfg.App.TickInterval)
	}
	if cfg.Strategy.GlobalStopLossPct != 25 {
		t.Fatalf("expected stoploss 25, got %v", cfg.Strategy.GlobalStopLossPct)
	}
	if cfg.Strategy.EdgeHedge.MinEdgePct != 12 {
		t.Fatalf("expected min edge 12, got %v", cfg.Strategy.EdgeHedge.MinEdgePct)
	}
	if cfg.Strategy.Sniper.MaxTimes != 2 {
		t.Fatalf("expected max times 2, got %v", cfg.Strategy.Sniper.MaxTimes)
	}
	if got := cfg.Wallets[0].Assets; len(got) != 2 || got[0] != "BTC" || got[1] != "ETH" {
		t.Fatalf("unexpected assets: %v", got)
	}
}

func TestLoadRequiresPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
