package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"volna/internal/analysis/indicator"
	"volna/internal/backtest"
	"volna/internal/config"
	"volna/internal/engine"
	"volna/internal/engine/ledger"
	"volna/internal/engine/protect"
	"volna/internal/gateway/binance"
	"volna/internal/gateway/notifier"
	"volna/internal/live"
	"volna/internal/logger"
	"volna/internal/market"
	"volna/internal/store/sqlite"
	"volna/internal/universe"
)

// AppBuilder 按固定顺序装配依赖：配置 → 标的清单 → 存储 →
// 网关 → 回测栈 → 实盘栈。测试可用 option 替换外部依赖。
type AppBuilder struct {
	cfg *config.Config

	sourceOverride   market.Source
	notifierOverride notifier.TextNotifier
}

type AppBuilderOption func(*AppBuilder)

// WithSource 替换行情来源（测试注入）。
func WithSource(src market.Source) AppBuilderOption {
	return func(b *AppBuilder) {
		if src != nil {
			b.sourceOverride = src
		}
	}
}

// WithNotifier 替换通知渠道（测试注入）。
func WithNotifier(n notifier.TextNotifier) AppBuilderOption {
	return func(b *AppBuilder) {
		if n != nil {
			b.notifierOverride = n
		}
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	registry, err := universe.NewRegistry(cfg.Universe.Path)
	if err != nil {
		return nil, fmt.Errorf("loading universe failed: %w", err)
	}
	logger.Infof("✓ universe loaded: %d instruments", len(registry.Snapshot().Instruments))

	gateway, err := b.buildGateway(cfg)
	if err != nil {
		return nil, fmt.Errorf("building market gateway failed: %w", err)
	}

	candleStore, err := backtest.NewStore(cfg.Backtest.DataRoot)
	if err != nil {
		return nil, fmt.Errorf("opening candle store failed: %w", err)
	}
	resultStore, err := sqlite.NewResultStore(cfg.Storage.ResultDB)
	if err != nil {
		candleStore.Close()
		return nil, fmt.Errorf("opening result store failed: %w", err)
	}

	params := strategyParams(cfg.Strategy)
	indicatorCfg := indicator.Settings{MinBars: cfg.Backtest.LookbackBars}

	runner, err := backtest.NewRunner(backtest.RunnerConfig{
		Store:           candleStore,
		Registry:        registry,
		Params:          params,
		Indicator:       indicatorCfg,
		HigherTimeframe: cfg.Backtest.HigherTimeframe,
		LowerTimeframe:  cfg.Backtest.LowerTimeframe,
		InitialBalance:  decimal.NewFromFloat(cfg.Backtest.InitialBalance),
	})
	if err != nil {
		return nil, err
	}
	sim := backtest.NewSimulator(runner, resultStore, cfg.Backtest.MaxConcurrent)
	note := b.buildNotifier(cfg)
	sim.SetNotifier(note)

	var fetchSvc *backtest.FetchService
	if b.sourceOverride != nil {
		fetchSvc, err = backtest.NewFetchService(backtest.FetchConfig{Store: candleStore, Source: b.sourceOverride})
	} else {
		fetchSvc, err = backtest.NewFetchService(backtest.FetchConfig{Store: candleStore, Source: gateway})
	}
	if err != nil {
		return nil, err
	}

	httpServer, err := backtest.NewHTTPServer(backtest.HTTPConfig{
		Addr:      cfg.App.HTTPAddr,
		Fetch:     fetchSvc,
		Simulator: sim,
		Registry:  registry,
		Decisions: resultStore,
	})
	if err != nil {
		return nil, err
	}

	app := &App{
		cfg:         cfg,
		sim:         sim,
		fetch:       fetchSvc,
		http:        httpServer,
		candleStore: candleStore,
		resultStore: resultStore,
	}

	if cfg.Live.Enabled {
		liveSvc, err := b.buildLive(ctx, cfg, registry, gateway, resultStore, note, params, indicatorCfg)
		if err != nil {
			return nil, err
		}
		app.live = liveSvc
	}
	return app, nil
}

func (b *AppBuilder) buildGateway(cfg *config.Config) (*binance.Gateway, error) {
	return binance.New(binance.Config{
		APIKey:       cfg.Market.APIKey,
		APISecret:    cfg.Market.APISecret,
		RESTBaseURL:  cfg.Market.RESTBaseURL,
		HTTPTimeout:  cfg.Market.HTTPTimeout(),
		DepthLimit:   cfg.Live.OrderBookDepth,
		ProxyEnabled: cfg.Market.ProxyURL != "",
		RESTProxyURL: cfg.Market.ProxyURL,
	})
}

// buildNotifier 选择推送渠道：测试注入优先，其次 Telegram，默认丢弃。
func (b *AppBuilder) buildNotifier(cfg *config.Config) notifier.TextNotifier {
	if b.notifierOverride != nil {
		return b.notifierOverride
	}
	if cfg.Notify.Telegram.Enabled {
		return notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
	}
	return notifier.Nop{}
}

func (b *AppBuilder) buildLive(
	ctx context.Context,
	cfg *config.Config,
	registry *universe.Registry,
	gateway *binance.Gateway,
	resultStore *sqlite.ResultStore,
	note notifier.TextNotifier,
	params engine.Params,
	indicatorCfg indicator.Settings,
) (*live.Service, error) {
	// 实盘下单时用交易所实际可用余额开账，纸面模式沿用回测初始资金
	initial := decimal.NewFromFloat(cfg.Backtest.InitialBalance)
	if cfg.Live.TradeEnabled {
		bal, err := gateway.AvailableBalance(ctx, "USDT")
		if err != nil {
			logger.Warnf("querying account balance failed, falling back to configured balance: %v", err)
		} else if bal.Sign() > 0 {
			initial = bal
			logger.Infof("live ledger seeded from exchange balance: %s USDT", bal.StringFixed(2))
		}
	}
	led := ledger.New(initial)
	ev := engine.NewEvaluator(params, led, engine.FixedLotSizer{CommissionRate: params.CommissionRate}, false)

	liveCfg := live.Config{
		Source:          gateway,
		Registry:        registry,
		Evaluator:       ev,
		Books:           gateway,
		Log:             resultStore,
		Notifier:        note,
		Indicator:       indicatorCfg,
		HigherTimeframe: cfg.Backtest.HigherTimeframe,
		LowerTimeframe:  cfg.Live.Interval,
		ScanOffset:      time.Duration(cfg.Live.OffsetSeconds) * time.Second,
	}
	if b.sourceOverride != nil {
		liveCfg.Source = b.sourceOverride
	}
	if cfg.Live.TradeEnabled {
		liveCfg.Trader = gateway
	} else {
		logger.Infof("live trading disabled, running in paper mode")
	}
	return live.NewService(liveCfg)
}

func strategyParams(s config.StrategyConfig) engine.Params {
	return engine.Params{
		Protect: protect.Params{
			StopLossATRMult:      decimal.NewFromFloat(s.StopLossATRMult),
			TakeProfitATRMult:    decimal.NewFromFloat(s.TakeProfitATRMult),
			BreakevenATRMult:     decimal.NewFromFloat(s.BreakevenATRMult),
			BreakevenOffsetSteps: int64(s.BreakevenOffsetSteps),
		},
		MinADX:         s.MinADX,
		MinScore:       s.MinScore,
		MinConfidence:  s.MinConfidence,
		CommissionRate: decimal.NewFromFloat(s.CommissionRate),
		MinProfitRatio: decimal.NewFromFloat(s.MinProfitRatio),
		Cooldown:       s.Cooldown(),
	}
}
