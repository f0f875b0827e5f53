// Package live 实盘扫描循环：按低周期收盘对齐，逐标的评估并执行。
package live

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"volna/internal/analysis/indicator"
	"volna/internal/engine"
	"volna/internal/engine/signal"
	"volna/internal/gateway/notifier"
	"volna/internal/logger"
	"volna/internal/market"
	"volna/internal/scheduler"
	"volna/internal/universe"
)

// BookProvider 订单簿快照来源。缺省（nil）时打分不含失衡因子。
type BookProvider interface {
	BookStats(ctx context.Context, symbol string) (*market.BookStats, error)
}

// OrderExecutor 下单通道。nil 表示纸面模式：决策照常，订单不出门。
type OrderExecutor interface {
	PlaceMarketOrder(ctx context.Context, symbol, side string, quantity decimal.Decimal, closing bool) (string, error)
	PlaceStopOrder(ctx context.Context, symbol, side string, stopPrice decimal.Decimal) (string, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

// DecisionLog 决策落库接口，由 store/sqlite 实现。
type DecisionLog interface {
	SaveLiveDecision(ctx context.Context, sig signal.TradeSignal, phase string, entered bool) error
}

type Config struct {
	Source    market.Source
	Registry  *universe.Registry
	Evaluator *engine.Evaluator

	Books    BookProvider
	Trader   OrderExecutor
	Log      DecisionLog
	Notifier notifier.TextNotifier

	Indicator       indicator.Settings
	HigherTimeframe string
	LowerTimeframe  string
	HistoryLimit    int
	ScanOffset      time.Duration
	MaxConcurrent   int
}

// Service 每个低周期收盘后扫描全部标的。数据拉取并行，
// 评估串行走共享 Evaluator，资金争用由账本原子裁决。
type Service struct {
	cfg Config

	// symbol -> 交易所侧保护止损单
	stopOrders map[string]string
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("live service requires market source")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("live service requires universe registry")
	}
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("live service requires evaluator")
	}
	if cfg.HigherTimeframe == "" || cfg.LowerTimeframe == "" {
		return nil, fmt.Errorf("live service requires both timeframes")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 200
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notifier.Nop{}
	}
	return &Service{cfg: cfg, stopOrders: make(map[string]string)}, nil
}

// Run 阻塞运行扫描循环，直到 ctx 结束。
func (s *Service) Run(ctx context.Context) error {
	interval, ok := scheduler.ParseIntervalDuration(s.cfg.LowerTimeframe)
	if !ok {
		return fmt.Errorf("unsupported lower timeframe: %s", s.cfg.LowerTimeframe)
	}
	sched := scheduler.NewAlignedScheduler(ctx, interval, s.cfg.ScanOffset)
	sched.Name = "live-scan"
	sched.Start(func() { s.ScanOnce(ctx) })
	return nil
}

// cycleData 一次扫描中单个标的的输入。
type cycleData struct {
	inst   universe.Instrument
	higher indicator.Snapshot
	lower  indicator.Snapshot
	book   *market.BookStats
	err    error
}

// ScanOnce 执行一轮完整扫描。拉数并行，评估按 symbol 升序串行。
func (s *Service) ScanOnce(ctx context.Context) {
	instruments := s.cfg.Registry.Snapshot().Ordered()
	if len(instruments) == 0 {
		logger.Warnf("live scan: universe is empty")
		return
	}

	data := make([]*cycleData, len(instruments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrent)
	for i, inst := range instruments {
		i, inst := i, inst
		g.Go(func() error {
			data[i] = s.collect(gctx, inst)
			return nil
		})
	}
	_ = g.Wait()

	evaluated := 0
	for _, cd := range data {
		if cd == nil {
			continue
		}
		if cd.err != nil {
			if indicator.Skippable(cd.err) {
				logger.Debugf("live scan: skip %s: %v", cd.inst.Symbol, cd.err)
			} else {
				logger.Warnf("live scan: %s data unavailable: %v", cd.inst.Symbol, cd.err)
			}
			continue
		}
		s.evaluate(ctx, cd)
		evaluated++
	}
	logger.Infof("live scan done: %d/%d instruments evaluated", evaluated, len(instruments))
}

func (s *Service) collect(ctx context.Context, inst universe.Instrument) *cycleData {
	cd := &cycleData{inst: inst}
	lowerBars, err := s.cfg.Source.FetchHistory(ctx, inst.Symbol, s.cfg.LowerTimeframe, s.cfg.HistoryLimit)
	if err != nil {
		cd.err = err
		return cd
	}
	higherBars, err := s.cfg.Source.FetchHistory(ctx, inst.Symbol, s.cfg.HigherTimeframe, s.cfg.HistoryLimit)
	if err != nil {
		cd.err = err
		return cd
	}
	// 高周期只看低周期决策时点之前收盘的 bar，与回测的游标推进一致
	if len(lowerBars) > 0 {
		higherBars = market.FilterClosedBefore(higherBars, lowerBars[len(lowerBars)-1].CloseTime)
	}
	cd.lower, err = indicator.Compute(inst.Symbol, s.cfg.LowerTimeframe, lowerBars, s.cfg.Indicator)
	if err != nil {
		cd.err = err
		return cd
	}
	cd.higher, err = indicator.Compute(inst.Symbol, s.cfg.HigherTimeframe, higherBars, s.cfg.Indicator)
	if err != nil {
		cd.err = err
		return cd
	}
	if s.cfg.Books != nil {
		book, err := s.cfg.Books.BookStats(ctx, inst.Symbol)
		if err != nil {
			// 订单簿失败不阻塞评估，只丢失一个打分因子
			logger.Debugf("live scan: %s book stats unavailable: %v", inst.Symbol, err)
		} else {
			cd.book = book
		}
	}
	return cd
}

func (s *Service) evaluate(ctx context.Context, cd *cycleData) {
	ev := s.cfg.Evaluator
	sym := cd.inst.Symbol

	prevStop := decimal.Zero
	if pos, ok := ev.Position(sym); ok {
		prevStop = pos.StopLoss
	}

	out := ev.EvaluateCycle(cd.inst, cd.higher, cd.lower, cd.book)

	if out.Closed != nil {
		s.onExit(ctx, *out.Closed)
	}
	entered := out.Entered
	if plan, ok := ev.PendingPlan(sym); ok {
		entered = s.fillEntry(ctx, cd, plan, out.Signal)
	} else if pos, held := ev.Position(sym); held && !prevStop.IsZero() && !pos.StopLoss.Equal(prevStop) {
		s.moveStop(ctx, pos)
	}

	if s.cfg.Log != nil && out.Signal != nil {
		phase := string(ev.Machine().Phase(sym))
		if err := s.cfg.Log.SaveLiveDecision(ctx, *out.Signal, phase, entered); err != nil {
			logger.Warnf("live scan: persist decision for %s failed: %v", sym, err)
		}
	}
}

// fillEntry 把待执行计划变成真实仓位：先市价进场，再挂保护止损。
func (s *Service) fillEntry(ctx context.Context, cd *cycleData, plan engine.EntryPlan, sig *signal.TradeSignal) bool {
	ev := s.cfg.Evaluator
	sym := cd.inst.Symbol
	fillPrice := decimal.NewFromFloat(cd.lower.Price)
	quantity := decimal.NewFromInt(plan.Lots).Mul(decimal.NewFromInt(cd.inst.LotSize))

	if s.cfg.Trader != nil {
		orderID, err := s.cfg.Trader.PlaceMarketOrder(ctx, sym, plan.Side, quantity, false)
		if err != nil {
			logger.Errorf("live entry: %s market order failed: %v", sym, err)
			ev.AbortEntry(sym)
			return false
		}
		logger.Infof("live entry: %s %s filled, order=%s", sym, plan.Side, orderID)
	}
	if err := ev.ConfirmEntry(sym, fillPrice, cd.lower.Timestamp); err != nil {
		logger.Errorf("live entry: confirm %s failed: %v", sym, err)
		ev.AbortEntry(sym)
		return false
	}
	pos, ok := ev.Position(sym)
	if !ok {
		return true
	}
	if s.cfg.Trader != nil {
		stopID, err := s.cfg.Trader.PlaceStopOrder(ctx, sym, pos.Side, pos.StopLoss)
		if err != nil {
			logger.Warnf("live entry: %s protective stop failed, position is unguarded: %v", sym, err)
		} else {
			s.stopOrders[sym] = stopID
		}
	}
	entrySig := signal.TradeSignal{Symbol: sym}
	if sig != nil {
		entrySig = *sig
	}
	s.notify(notifier.EntryMessage(entrySig, pos).RenderMarkdown())
	return true
}

// moveStop 止损收紧后重挂交易所侧的保护单。
func (s *Service) moveStop(ctx context.Context, pos engine.OpenPosition) {
	if s.cfg.Trader == nil {
		return
	}
	sym := pos.Symbol
	if old, ok := s.stopOrders[sym]; ok {
		if err := s.cfg.Trader.CancelOrder(ctx, sym, old); err != nil {
			logger.Warnf("live stop: cancel old stop for %s failed: %v", sym, err)
		}
	}
	stopID, err := s.cfg.Trader.PlaceStopOrder(ctx, sym, pos.Side, pos.StopLoss)
	if err != nil {
		logger.Errorf("live stop: replace stop for %s failed: %v", sym, err)
		delete(s.stopOrders, sym)
		return
	}
	s.stopOrders[sym] = stopID
	logger.Infof("live stop: %s tightened to %s", sym, pos.StopLoss)
}

func (s *Service) onExit(ctx context.Context, rec engine.TradeRecord) {
	sym := rec.Symbol
	if s.cfg.Trader != nil {
		if old, ok := s.stopOrders[sym]; ok {
			if err := s.cfg.Trader.CancelOrder(ctx, sym, old); err != nil {
				logger.Debugf("live exit: cancel stop for %s failed: %v", sym, err)
			}
		}
		if _, err := s.cfg.Trader.PlaceMarketOrder(ctx, sym, rec.Side, rec.Quantity, true); err != nil {
			logger.Errorf("live exit: close %s on exchange failed: %v", sym, err)
		}
	}
	delete(s.stopOrders, sym)
	logger.Infof("live exit: %s %s closed (%s), net=%s", sym, rec.Side, rec.ExitReason, rec.NetPnL)
	s.notify(notifier.ExitMessage(rec).RenderMarkdown())
}

func (s *Service) notify(text string) {
	if err := s.cfg.Notifier.SendText(text); err != nil {
		logger.Warnf("live notify failed: %v", err)
	}
}
