package trader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"robotrader/internal/alerting"
	"robotrader/internal/feed"
	"robotrader/internal/metrics"
	"robotrader/internal/portfolio"
	"robotrader/internal/strategy"
)

// LiveConfig holds live trading loop configuration.
type LiveConfig struct {
	Symbol string

	// PollInterval is the wall-clock gap between ticks.
	PollInterval time.Duration

	// HistoryLimit is how many candles are fetched per evaluation.
	HistoryLimit int

	// RateLimit caps outbound data requests per second.
	RateLimit rate.Limit
	RateBurst int
}

// DefaultLiveConfig returns sensible defaults for the live loop.
func DefaultLiveConfig(symbol string) LiveConfig {
	return LiveConfig{
		Symbol:       symbol,
		PollInterval: time.Minute,
		HistoryLimit: 200,
		RateLimit:    rate.Limit(5),
		RateBurst:    5,
	}
}

// Live polls market data on an interval and drives the strategy and
// portfolio against a real broker.
type Live struct {
	cfg       LiveConfig
	source    feed.Source
	strategy  strategy.Strategy
	portfolio *portfolio.Portfolio
	alerter   alerting.Alerter
	recorder  *metrics.Recorder
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewLive creates a live trading loop.
func NewLive(cfg LiveConfig, source feed.Source, strat strategy.Strategy, pf *portfolio.Portfolio, alerter alerting.Alerter, recorder *metrics.Recorder, logger *slog.Logger) *Live {
	if logger == nil {
		logger = slog.Default()
	}
	if alerter == nil {
		alerter = alerting.NewNopAlerter()
	}
	return &Live{
		cfg:       cfg,
		source:    source,
		strategy:  strat,
		portfolio: pf,
		alerter:   alerter,
		recorder:  recorder,
		limiter:   rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		logger:    logger,
	}
}

// Run blocks until the context is cancelled, ticking every
// PollInterval. Feed errors are alerted and skipped; portfolio update
// errors are alerted and returned.
func (l *Live) Run(ctx context.Context) error {
	l.logger.Info("live trading started",
		"symbol", l.cfg.Symbol,
		"interval", l.cfg.PollInterval,
		"strategy", l.strategy.Name(),
		"feed", l.source.Name(),
	)
	l.alerter.Alert(ctx, alerting.EventSeverity(alerting.EventTraderStarted),
		"trader started", "symbol", l.cfg.Symbol, "strategy", l.strategy.Name())

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := l.tick(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			l.alerter.Alert(ctx, alerting.EventSeverity(alerting.EventUpdateError),
				"portfolio update failed", "symbol", l.cfg.Symbol, "error", err.Error())
			return err
		}
		l.recorder.RecordHeartbeat()

		select {
		case <-ctx.Done():
			l.logger.Info("live trading stopping", "symbol", l.cfg.Symbol)
			l.alerter.Alert(context.WithoutCancel(ctx), alerting.EventSeverity(alerting.EventTraderStopped),
				"trader stopped", "symbol", l.cfg.Symbol)
			return nil
		case <-ticker.C:
		}
	}

	l.alerter.Alert(context.WithoutCancel(ctx), alerting.EventSeverity(alerting.EventTraderStopped),
		"trader stopped", "symbol", l.cfg.Symbol)
	return nil
}

// tick runs one evaluate-and-update pass.
func (l *Live) tick(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}

	candles, err := l.source.GetHistoricalData(ctx, l.cfg.Symbol, l.cfg.HistoryLimit)
	if err != nil {
		l.logger.Warn("market data fetch failed", "symbol", l.cfg.Symbol, "error", err)
		l.alerter.Alert(ctx, alerting.EventSeverity(alerting.EventFeedError),
			"market data fetch failed", "symbol", l.cfg.Symbol, "error", err.Error())
		return nil
	}
	if len(candles) == 0 {
		return nil
	}
	latest := candles[len(candles)-1]

	if err := l.strategy.EvaluateMarket(ctx, l.cfg.Symbol, candles, l.portfolio); err != nil {
		return fmt.Errorf("evaluate %s: %w", l.cfg.Symbol, err)
	}

	prices := map[string]decimal.Decimal{l.cfg.Symbol: latest.Close}
	if err := l.portfolio.Update(ctx, latest.Timestamp, prices); err != nil {
		return fmt.Errorf("update portfolio: %w", err)
	}
	return nil
}
