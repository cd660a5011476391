package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"polyedge-bot/internal/alerts"
	"polyedge-bot/internal/app"
	"polyedge-bot/internal/config"
	"polyedge-bot/internal/exec"
	"polyedge-bot/internal/feed"
	"polyedge-bot/internal/journal"
	"polyedge-bot/internal/logging"
	"polyedge-bot/internal/metrics"
	"polyedge-bot/internal/polymarket"
	"polyedge-bot/internal/state/sqlite"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	envPath := flag.String("env", ".env", "path to env file with wallet secrets")
	flag.Parse()

	if err := config.LoadEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envPath, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()
	log.Info("config loaded", zap.String("path", *configPath), zap.String("mode", cfg.App.Mode))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("bot terminated", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return err
	}
	defer store.Close()

	writer, err := journal.New(cfg.Journal, log)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	defer writer.Close()

	prom := metrics.NewPrometheus()
	telegram := alerts.NewTelegram(cfg.Telegram, log)

	prices := feed.New(cfg.Binance, log)
	client := polymarket.NewClient(cfg.Polymarket, log)
	discovery := polymarket.NewDiscovery(client, prices, log)
	markets := polymarket.NewMarkets(client, discovery, prices, log)

	apps := make([]*app.App, 0, len(cfg.Wallets))
	for _, wallet := range cfg.Wallets {
		gateway, err := newGateway(cfg, wallet, client, markets, log)
		if err != nil {
			return fmt.Errorf("wallet %s: %w", wallet.Name, err)
		}
		a, err := app.New(cfg, wallet, app.Deps{
			Gateway: gateway,
			Markets: markets,
			Store:   store,
			Journal: writer,
			Alerts:  telegram,
			Metrics: prom.Metrics,
			Log:     log,
		})
		if err != nil {
			return err
		}
		apps = append(apps, a)
	}
	operator := app.NewOperator(cfg.Telegram, telegram, store, apps, log.Named("operator"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := prices.Run(gctx, allAssets(cfg.Wallets))
		if err != nil && gctx.Err() == nil {
			return fmt.Errorf("price feed: %w", err)
		}
		return nil
	})
	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(prom), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	for _, a := range apps {
		g.Go(func() error { return a.Run(gctx) })
	}
	g.Go(func() error { return operator.Run(gctx) })

	if err := telegram.Send(ctx, fmt.Sprintf("polyedge-bot started in %s mode with %d wallet(s)", cfg.App.Mode, len(apps))); err != nil {
		log.Warn("startup alert failed", zap.Error(err))
	}
	return g.Wait()
}

func newGateway(cfg *config.Config, wallet config.WalletConfig, client *polymarket.Client, markets *polymarket.Markets, log *zap.Logger) (exec.Gateway, error) {
	if cfg.App.Mode == config.ModePaper {
		return polymarket.NewPaper(markets, cfg.App.PaperBalance, log.With(zap.String("wallet", wallet.Name))), nil
	}
	key := config.Secret(wallet.PrivateKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%s is required", wallet.PrivateKeyEnv)
	}
	creds := polymarket.Creds{
		Key:        config.Secret(wallet.APIKeyEnv),
		Secret:     config.Secret(wallet.APISecretEnv),
		Passphrase: config.Secret(wallet.APIPassphraseEnv),
	}
	if creds.Key == "" || creds.Secret == "" || creds.Passphrase == "" {
		return nil, errors.New("api key, secret and passphrase are required in live mode")
	}
	signer, err := polymarket.NewSigner(key, wallet.FunderAddress, wallet.SignatureType, cfg.Polymarket.ChainID, creds)
	if err != nil {
		return nil, err
	}
	log.Info("live wallet ready",
		zap.String("wallet", wallet.Name),
		zap.String("signer", signer.Address().Hex()),
		zap.String("funder", signer.Funder().Hex()),
	)
	return polymarket.NewLive(client, signer, markets, log.With(zap.String("wallet", wallet.Name))), nil
}

func allAssets(wallets []config.WalletConfig) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, w := range wallets {
		for _, asset := range w.Assets {
			if _, ok := seen[asset]; ok {
				continue
			}
			seen[asset] = struct{}{}
			out = append(out, asset)
		}
	}
	return out
}

func metricsMux(prom *metrics.Prometheus) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", prom.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
