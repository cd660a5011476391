package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"polyedge-bot/internal/config"
	"polyedge-bot/internal/feed"
	"polyedge-bot/internal/logging"
	"polyedge-bot/internal/polymarket"
	"polyedge-bot/internal/strategy"

	"go.uber.org/zap"
)

const (
	defaultVerifyEnvFile = ".env"
	defaultVerifyTimeout = 30 * time.Second
)

type marketReport struct {
	Slug        string    `json:"slug"`
	ConditionID string    `json:"condition_id"`
	UpToken     string    `json:"up_token"`
	DownToken   string    `json:"down_token"`
	Strike      float64   `json:"strike"`
	End         time.Time `json:"end"`
	SecondsLeft float64   `json:"seconds_left"`
	NegRisk     bool      `json:"neg_risk"`
}

type quoteReport struct {
	UpAsk   float64 `json:"up_ask"`
	UpBid   float64 `json:"up_bid"`
	DownAsk float64 `json:"down_ask"`
	DownBid float64 `json:"down_bid"`
}

type fairReport struct {
	Up        float64 `json:"up"`
	Down      float64 `json:"down"`
	D2        float64 `json:"d2"`
	EdgeUp    float64 `json:"edge_up_pct"`
	EdgeDown  float64 `json:"edge_down_pct"`
	KellyUp   float64 `json:"kelly_up"`
	KellyDown float64 `json:"kelly_down"`
}

type assetReport struct {
	Asset      string                         `json:"asset"`
	Spot       float64                        `json:"spot"`
	Volatility float64                        `json:"volatility"`
	Market     *marketReport                  `json:"market,omitempty"`
	Quotes     *quoteReport                   `json:"quotes,omitempty"`
	Fair       *fairReport                    `json:"fair,omitempty"`
	Arbitrage  *strategy.ArbitrageOpportunity `json:"arbitrage,omitempty"`
	Error      string                         `json:"error,omitempty"`
}

type walletReport struct {
	Name      string                        `json:"name"`
	Signer    string                        `json:"signer"`
	Funder    string                        `json:"funder"`
	Balance   float64                       `json:"balance_usdc"`
	Positions map[string]*strategy.Position `json:"positions"`
	Error     string                        `json:"error,omitempty"`
}

type report struct {
	Time   time.Time     `json:"time"`
	Assets []assetReport `json:"assets"`
	Wallet *walletReport `json:"wallet,omitempty"`
}

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	assetsFlag := flag.String("assets", "BTC,ETH", "comma separated assets to inspect")
	walletName := flag.String("wallet", "", "optional wallet name to check balance and positions")
	flag.Parse()

	if err := config.LoadEnv(defaultVerifyEnvFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), defaultVerifyTimeout)
	defer cancel()

	prices := feed.New(cfg.Binance, log)
	client := polymarket.NewClient(cfg.Polymarket, log)
	discovery := polymarket.NewDiscovery(client, prices, log)
	markets := polymarket.NewMarkets(client, discovery, prices, log)
	finder := strategy.NewArbitrageFinder(cfg.Strategy.Arbitrage)

	out := report{Time: time.Now().UTC()}
	for _, raw := range strings.Split(*assetsFlag, ",") {
		asset := strings.ToUpper(strings.TrimSpace(raw))
		if asset == "" {
			continue
		}
		out.Assets = append(out.Assets, inspect(ctx, asset, prices, markets, finder, cfg.Strategy.SubtractSpread))
	}
	if *walletName != "" {
		out.Wallet = inspectWallet(ctx, cfg, *walletName, client, markets)
	}

	pretty, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(pretty))
}

func inspect(ctx context.Context, asset string, prices *feed.Feed, markets *polymarket.Markets, finder *strategy.ArbitrageFinder, subtractSpread bool) assetReport {
	rep := assetReport{Asset: asset}
	spot, err := prices.TickerPrice(ctx, asset)
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	rep.Spot = spot
	rep.Volatility = prices.Volatility(asset)

	if err := markets.Refresh(ctx, asset); err != nil {
		rep.Error = err.Error()
	}
	m, ok := markets.Market(asset)
	if !ok {
		return rep
	}
	left, _ := markets.TimeRemaining(asset)
	rep.Market = &marketReport{
		Slug:        m.Slug,
		ConditionID: m.ConditionID,
		UpToken:     m.UpToken,
		DownToken:   m.DownToken,
		Strike:      m.Strike,
		End:         m.End,
		SecondsLeft: left,
		NegRisk:     m.NegRisk,
	}
	snap, err := markets.Snapshot(ctx, asset)
	if err != nil {
		if rep.Error == "" {
			rep.Error = err.Error()
		}
		return rep
	}
	rep.Quotes = &quoteReport{UpAsk: snap.UpAsk, UpBid: snap.UpBid, DownAsk: snap.DownAsk, DownBid: snap.DownBid}
	eval := strategy.NewEvaluation(snap, subtractSpread)
	rep.Fair = &fairReport{
		Up:        eval.Fair.Up,
		Down:      eval.Fair.Down,
		D2:        eval.Fair.D2,
		EdgeUp:    eval.EdgeUp,
		EdgeDown:  eval.EdgeDown,
		KellyUp:   strategy.KellyFraction(eval.Fair.Up, snap.UpAsk),
		KellyDown: strategy.KellyFraction(eval.Fair.Down, snap.DownAsk),
	}
	opp := finder.Analyze(snap.UpAsks, snap.DownAsks)
	rep.Arbitrage = &opp
	return rep
}

func inspectWallet(ctx context.Context, cfg *config.Config, name string, client *polymarket.Client, markets *polymarket.Markets) *walletReport {
	rep := &walletReport{Name: name, Positions: make(map[string]*strategy.Position)}
	var wallet *config.WalletConfig
	for i := range cfg.Wallets {
		if cfg.Wallets[i].Name == name {
			wallet = &cfg.Wallets[i]
		}
	}
	if wallet == nil {
		rep.Error = fmt.Sprintf("wallet %q not in config", name)
		return rep
	}
	key := config.Secret(wallet.PrivateKeyEnv)
	if key == "" {
		rep.Error = errors.New("private key env is empty").Error()
		return rep
	}
	signer, err := polymarket.NewSigner(key, wallet.FunderAddress, wallet.SignatureType, cfg.Polymarket.ChainID, polymarket.Creds{
		Key:        config.Secret(wallet.APIKeyEnv),
		Secret:     config.Secret(wallet.APISecretEnv),
		Passphrase: config.Secret(wallet.APIPassphraseEnv),
	})
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	rep.Signer = signer.Address().Hex()
	rep.Funder = signer.Funder().Hex()
	live := polymarket.NewLive(client, signer, markets, zap.NewNop())
	balance, err := live.Balance(ctx)
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	rep.Balance = balance
	for _, asset := range wallet.Assets {
		pos, err := live.OpenPosition(ctx, asset)
		if err != nil {
			continue
		}
		rep.Positions[asset] = pos
	}
	return rep
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
