package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/strikebot/config"
	"github.com/alejandrodnm/strikebot/internal/adapters/binance"
	"github.com/alejandrodnm/strikebot/internal/adapters/notify"
	"github.com/alejandrodnm/strikebot/internal/adapters/polymarket"
	"github.com/alejandrodnm/strikebot/internal/adapters/storage"
	"github.com/alejandrodnm/strikebot/internal/application/engine"
	"github.com/alejandrodnm/strikebot/internal/application/marketdata"
	"github.com/alejandrodnm/strikebot/internal/application/sweeper"
	"github.com/alejandrodnm/strikebot/internal/domain"
	"github.com/alejandrodnm/strikebot/internal/ports"
	"github.com/alejandrodnm/strikebot/internal/strategy"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one evaluation tick and exit")
	dryRun := flag.Bool("dry-run", false, "simulate fills instead of placing real orders")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print full wallet dashboard (default: compact 1-line)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	dry := *dryRun || cfg.Engine.DryRun

	slog.Info("strikebot starting",
		"config", *configPath,
		"tick", cfg.TickInterval(),
		"assets", cfg.Engine.Assets,
		"wallets", len(cfg.Wallets),
		"dry_run", dry,
		"once", *once,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Market data: Binance spot + Polymarket quotes.
	rest := binance.NewRESTClient(cfg.API.BinanceBase)
	var stream *binance.Stream
	if !*once {
		stream = binance.NewStream(cfg.API.BinanceWSBase, cfg.Engine.Assets)
		go stream.Run(ctx)
	}
	spotFeed := binance.NewSpotFeed(stream, rest)

	pmClient := polymarket.NewClient(cfg.API.CLOBBase, cfg.API.GammaBase)
	quotes := polymarket.NewHourlyQuotes(pmClient)
	resolver := polymarket.NewResolver(pmClient)

	builder := marketdata.NewBuilder(spotFeed, quotes, cfg.SnapshotMaxAge())

	store, err := storage.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	executor, err := buildExecutor(pmClient, dry)
	if err != nil {
		slog.Error("failed to build executor", "err", err)
		os.Exit(1)
	}

	runners := buildRunners(cfg, executor, store)
	if len(runners) == 0 {
		slog.Error("no wallet has any strategy enabled")
		os.Exit(1)
	}

	notifier := notify.NewConsole(*table)

	eng := engine.New(engine.EngineConfig{
		TickInterval:     cfg.TickInterval(),
		SnapshotInterval: cfg.SnapshotInterval(),
		RiskFreeRate:     cfg.Engine.RiskFreeRate,
		Assets:           cfg.Engine.Assets,
		Once:             *once,
	}, builder, runners, store, notifier)

	// Redemption sweeper en su propia cadencia, nunca fatal para el engine.
	if !*once {
		redeemer := buildRedeemer(resolver, runners)
		sw := sweeper.New(sweeper.Config{
			Interval:    cfg.SweepInterval(),
			FeeRate:     cfg.Sweeper.FeeRate,
			MaxAttempts: cfg.Sweeper.MaxAttempts,
		}, redeemer, resolver, store, sweeperWallets(runners))
		go sw.Run(ctx)
	}

	if err := eng.Run(ctx); err != nil {
		slog.Error("engine exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("strikebot stopped cleanly")
}

// buildExecutor elige el executor: simulado en dry-run, CLOB live con
// credentials del entorno en caso contrario.
func buildExecutor(client *polymarket.Client, dry bool) (ports.OrderExecutor, error) {
	if dry {
		return engine.NewSimExecutor(), nil
	}

	creds := polymarket.Credentials{
		Address:    os.Getenv("POLY_ADDRESS"),
		APIKey:     os.Getenv("POLY_API_KEY"),
		Secret:     os.Getenv("POLY_SECRET"),
		Passphrase: os.Getenv("POLY_PASSPHRASE"),
	}
	return polymarket.NewExecutor(client, creds, nil)
}

// buildRunners construye un runner por wallet con estrategias habilitadas.
func buildRunners(cfg *config.Config, executor ports.OrderExecutor, store ports.TradeStore) map[string]*engine.Runner {
	runners := make(map[string]*engine.Runner, len(cfg.Wallets))

	for _, w := range cfg.Wallets {
		if !w.Strategies.Enabled() {
			slog.Warn("wallet has no enabled strategies, skipping", "wallet", w.ID)
			continue
		}

		reg := strategy.NewRegistry()
		if w.Strategies.Arbitrage.Enabled {
			reg.Register(strategy.NewArbitrage(w.Strategies.Arbitrage))
		}
		if w.Strategies.EdgeHedge.Enabled {
			reg.Register(strategy.NewEdgeHedge(w.Strategies.EdgeHedge))
		}
		if w.Strategies.ExpirySniper.Enabled {
			reg.Register(strategy.NewExpirySniper(w.Strategies.ExpirySniper))
		}
		if w.Strategies.Trend.Enabled {
			reg.Register(strategy.NewTrend(w.Strategies.Trend))
		}

		ectx := domain.NewExecutionContext(w.ID, w.InitialBalanceUSDC, w.AutoTrade)
		runners[w.ID] = engine.NewRunner(ectx, reg, executor, store, engine.Config{
			OrderTimeout:    cfg.OrderTimeout(),
			MaxPositionUSDC: w.MaxPositionUSDC,
			Priority:        strategy.DefaultPriority,
		})
	}
	return runners
}

// buildRedeemer elige el redeemer del sweeper. Sin el signing onchain el
// modo live también liquida contra el resolver — el payout real queda en
// el wallet de Polygon y aquí solo se refleja contablemente.
func buildRedeemer(resolver ports.Resolver, runners map[string]*engine.Runner) ports.Redeemer {
	lookup := func(walletID, marketID string) (domain.Position, bool) {
		r, ok := runners[walletID]
		if !ok {
			return domain.Position{}, false
		}
		for _, pos := range r.Context().View().Positions {
			if pos.MarketID == marketID && pos.Status == domain.PositionOpen {
				return pos, true
			}
		}
		return domain.Position{}, false
	}
	return engine.NewSimRedeemer(resolver, lookup)
}

// sweeperWallets adapta el map de runners a la interfaz del sweeper.
func sweeperWallets(runners map[string]*engine.Runner) map[string]sweeper.Wallet {
	wallets := make(map[string]sweeper.Wallet, len(runners))
	for id, r := range runners {
		wallets[id] = r
	}
	return wallets
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
