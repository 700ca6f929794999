// Package main is the entry point for the robotrader CLI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"robotrader/internal/alerting"
	"robotrader/internal/broker"
	"robotrader/internal/broker/backtest"
	binancebroker "robotrader/internal/broker/binance"
	"robotrader/internal/config"
	"robotrader/internal/feed"
	"robotrader/internal/metrics"
	"robotrader/internal/persistence"
	"robotrader/internal/portfolio"
	"robotrader/internal/report"
	"robotrader/internal/strategy"
	"robotrader/internal/trader"
	"robotrader/internal/types"
)

// Version information (set by build flags).
var (
	Version   = "0.3.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "backtest":
		cmdBacktest(os.Args[2:])
	case "run":
		cmdRun(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`robotrader - Strategy backtesting and live trading

Usage:
  robotrader <command> [options]

Commands:
  backtest   Replay a strategy over historical candles
  run        Start live trading
  validate   Validate configuration file
  version    Show version information
  help       Show this help message

Examples:
  robotrader backtest --config config.yaml --chart report.html
  robotrader run --config config.yaml
  robotrader validate --config config.yaml

Use "robotrader <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("robotrader version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Portfolio:     %s\n", cfg.Portfolio.Identity)
	fmt.Printf("  Initial cash:  %.2f\n", cfg.Portfolio.InitialCash)
	fmt.Printf("  Symbol:        %s\n", cfg.Market.Symbol)
	fmt.Printf("  Broker:        %s\n", cfg.Broker.Type)
	fmt.Printf("  Strategy:      %s\n", cfg.Strategy.Name)
}

func cmdBacktest(args []string) {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	chartPath := fs.String("chart", "", "Write a valuation chart to this HTML file")
	verbose := fs.Bool("verbose", false, "Verbose output")
	fs.Parse(args)

	logger := newLogger(*verbose, false)
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	source, err := newSource(cfg)
	if err != nil {
		slog.Error("failed to create data source", "err", err)
		os.Exit(1)
	}

	strat, err := newStrategy(cfg)
	if err != nil {
		slog.Error("failed to create strategy", "err", err)
		os.Exit(1)
	}

	bt := trader.NewBacktest(trader.BacktestConfig{
		Identity:    cfg.Portfolio.Identity,
		Symbol:      cfg.Market.Symbol,
		InitialCash: cfg.InitialCashDecimal(),
		Warmup:      cfg.Strategy.SMAPeriod,
		Engine: backtest.Config{
			CostRate:       decimal.NewFromFloat(cfg.Broker.CostRate),
			PenaltyRelief:  decimal.NewFromFloat(cfg.Broker.PenaltyRelief),
			BackdateOffset: cfg.BackdateOffset(),
		},
	}, source, strat, nil, logger)

	result, err := bt.Run(context.Background())
	if err != nil {
		slog.Error("backtest failed", "err", err)
		os.Exit(1)
	}

	printSummary(result.Summary)

	if *chartPath != "" {
		title := fmt.Sprintf("%s %s", cfg.Portfolio.Identity, cfg.Market.Symbol)
		if err := report.WriteChartFile(*chartPath, title, result.Valuations); err != nil {
			slog.Error("failed to write chart", "err", err)
			os.Exit(1)
		}
		fmt.Printf("\nValuation chart written to %s\n", *chartPath)
	}
}

func printSummary(s report.Summary) {
	hundred := decimal.NewFromInt(100)
	fmt.Println("\n=== BACKTEST RESULTS ===")
	fmt.Printf("Start Valuation:  %.2f\n", s.StartValuation.InexactFloat64())
	fmt.Printf("End Valuation:    %.2f\n", s.EndValuation.InexactFloat64())
	fmt.Printf("Total Return:     %.2f%%\n", s.TotalReturn.Mul(hundred).InexactFloat64())
	fmt.Printf("Max Drawdown:     %.2f%%\n", s.MaxDrawdown.Mul(hundred).InexactFloat64())
	fmt.Println()
	fmt.Printf("Total Trades:     %d\n", s.TotalTrades)
	fmt.Printf("Winning Trades:   %d\n", s.WinningTrades)
	fmt.Printf("Losing Trades:    %d\n", s.LosingTrades)
	fmt.Printf("Win Rate:         %.2f%%\n", s.WinRate.Mul(hundred).InexactFloat64())
	fmt.Printf("Profit Factor:    %.2f\n", s.ProfitFactor.InexactFloat64())
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	verbose := fs.Bool("verbose", false, "Verbose output")
	fs.Parse(args)

	logger := newLogger(*verbose, true)
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("robotrader starting",
		"version", Version,
		"portfolio", cfg.Portfolio.Identity,
		"symbol", cfg.Market.Symbol,
		"broker", cfg.Broker.Type,
	)

	var recorder *metrics.Recorder
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		recorder = metrics.NewRecorder()
		serverCfg := metrics.DefaultServerConfig()
		if cfg.Metrics.Port > 0 {
			serverCfg.Port = cfg.Metrics.Port
		}
		if cfg.Metrics.Path != "" {
			serverCfg.MetricsPath = cfg.Metrics.Path
		}
		metricsServer = metrics.NewServer(serverCfg, logger)
		metricsServer.Start()
	}

	var store persistence.Store
	if cfg.Persistence.Enabled {
		store, err = newStore(cfg)
		if err != nil {
			slog.Error("failed to open store", "err", err)
			os.Exit(1)
		}
		defer store.Close()
	}

	liveBroker, err := newBroker(cfg, logger)
	if err != nil {
		slog.Error("failed to create broker", "err", err)
		os.Exit(1)
	}

	pf, err := loadOrCreatePortfolio(ctx, cfg, store, liveBroker, recorder, logger)
	if err != nil {
		slog.Error("failed to initialize portfolio", "err", err)
		os.Exit(1)
	}

	source, err := newSource(cfg)
	if err != nil {
		slog.Error("failed to create data source", "err", err)
		os.Exit(1)
	}

	strat, err := newStrategy(cfg)
	if err != nil {
		slog.Error("failed to create strategy", "err", err)
		os.Exit(1)
	}

	liveCfg := trader.DefaultLiveConfig(cfg.Market.Symbol)
	liveCfg.PollInterval = cfg.PollInterval()
	if cfg.Market.HistoryLimit > 0 {
		liveCfg.HistoryLimit = cfg.Market.HistoryLimit
	}
	if cfg.Market.RateLimitPerSec > 0 {
		liveCfg.RateLimit = rate.Limit(cfg.Market.RateLimitPerSec)
		liveCfg.RateBurst = cfg.Market.RateLimitPerSec
	}

	live := trader.NewLive(liveCfg, source, strat, pf, newAlerter(cfg, logger), recorder, logger)
	if err := live.Run(ctx); err != nil {
		slog.Error("live trading failed", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if store != nil {
		if err := pf.Save(shutdownCtx); err != nil {
			slog.Error("failed to save portfolio on shutdown", "err", err)
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown error", "err", err)
		}
	}

	slog.Info("robotrader shutdown complete")
}

func newLogger(verbose, json bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func newSource(cfg *config.Config) (feed.Source, error) {
	switch cfg.Data.Type {
	case "csv":
		return feed.NewCSVSource(cfg.Data.Path, cfg.Market.Symbol), nil
	case "binance", "":
		client := binance.NewClient(cfg.Broker.APIKey, cfg.Broker.APISecret)
		return feed.NewBinanceSource(client, cfg.Market.Interval), nil
	default:
		return nil, fmt.Errorf("%w: unknown data source %q", types.ErrValidation, cfg.Data.Type)
	}
}

func newStrategy(cfg *config.Config) (strategy.Strategy, error) {
	switch cfg.Strategy.Name {
	case "reversal", "":
		rc := strategy.DefaultReversalConfig()
		if cfg.Strategy.SMAPeriod > 0 {
			rc.SMAPeriod = cfg.Strategy.SMAPeriod
		}
		if cfg.Strategy.RSIPeriod > 0 {
			rc.RSIPeriod = cfg.Strategy.RSIPeriod
		}
		if cfg.Strategy.RSIOverbought > 0 {
			rc.RSIOverbought = cfg.Strategy.RSIOverbought
		}
		if cfg.Strategy.PositionSize > 0 {
			rc.PositionSize = decimal.NewFromFloat(cfg.Strategy.PositionSize)
		}
		if cfg.Strategy.TrailingStop > 0 {
			rc.TrailingStop = decimal.NewFromFloat(cfg.Strategy.TrailingStop)
		}
		return strategy.NewReversal(rc), nil
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", types.ErrValidation, cfg.Strategy.Name)
	}
}

func newBroker(cfg *config.Config, logger *slog.Logger) (broker.Broker, error) {
	switch cfg.Broker.Type {
	case "binance":
		return binancebroker.New(cfg.Broker.APIKey, cfg.Broker.APISecret, logger), nil
	case "backtest":
		engine := backtest.New(backtest.Config{
			CostRate:       decimal.NewFromFloat(cfg.Broker.CostRate),
			PenaltyRelief:  decimal.NewFromFloat(cfg.Broker.PenaltyRelief),
			BackdateOffset: cfg.BackdateOffset(),
		}, logger)
		engine.SetTimestamp(time.Now().UTC())
		return engine, nil
	default:
		return nil, fmt.Errorf("%w: unknown broker %q", types.ErrValidation, cfg.Broker.Type)
	}
}

func newStore(cfg *config.Config) (persistence.Store, error) {
	switch cfg.Persistence.Type {
	case "sqlite":
		return persistence.NewSQLiteStore(cfg.Persistence.Path)
	default:
		return persistence.NewFileStore(cfg.Persistence.Path)
	}
}

func newAlerter(cfg *config.Config, logger *slog.Logger) alerting.Alerter {
	if !cfg.Alerting.Enabled {
		return alerting.NewNopAlerter()
	}
	multi := alerting.NewMultiAlerter(logger)
	for _, channel := range cfg.Alerting.Channels {
		if channel == "console" {
			multi.AddAlerter(alerting.NewConsoleAlerter(logger))
		}
	}
	return multi
}

func loadOrCreatePortfolio(ctx context.Context, cfg *config.Config, store persistence.Store, b broker.Broker, recorder *metrics.Recorder, logger *slog.Logger) (*portfolio.Portfolio, error) {
	pcfg := portfolio.Config{
		Identity:         cfg.Portfolio.Identity,
		InitialCash:      cfg.InitialCashDecimal(),
		RatchetThreshold: cfg.RatchetThresholdDecimal(),
		AutoSave:         cfg.Portfolio.AutoSave && store != nil,
	}

	if store != nil {
		pf, err := portfolio.Load(ctx, store, pcfg, b, recorder, logger)
		if err == nil {
			return pf, nil
		}
		if !errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
	}
	return portfolio.New(pcfg, b, store, recorder, logger), nil
}
