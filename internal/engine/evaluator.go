package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"volna/internal/analysis/indicator"
	"volna/internal/engine/economics"
	"volna/internal/engine/ledger"
	"volna/internal/engine/protect"
	"volna/internal/engine/signal"
	"volna/internal/engine/state"
	"volna/internal/logger"
	"volna/internal/market"
	"volna/internal/universe"
)

// Params 策略参数。实盘与回测共用同一份，杜绝两套常量漂移。
type Params struct {
	Protect        protect.Params
	MinADX         float64
	MinScore       float64
	MinConfidence  float64
	CommissionRate decimal.Decimal
	MinProfitRatio decimal.Decimal
	Cooldown       time.Duration
}

// EntryPlan 已预留资金、等待成交确认的入场计划（实盘路径）。
type EntryPlan struct {
	Instrument universe.Instrument
	Side       string
	Lots       int64
	Reserved   decimal.Decimal
	Commission decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	PlannedAt  time.Time
}

// Evaluator 驱动单周期决策：持仓管理优先，其次扫描入场。
// directEntry 为 true 时（回测）入场在同一周期内确认成交；
// 否则停在 ENTRY_PENDING，由调用方下单后 ConfirmEntry/AbortEntry。
type Evaluator struct {
	params      Params
	ledger      *ledger.Ledger
	machine     *state.Machine
	scorer      *signal.Scorer
	filter      *economics.Filter
	sizer       Sizer
	directEntry bool

	mu        sync.Mutex
	positions map[string]*OpenPosition
	plans     map[string]*EntryPlan
}

func NewEvaluator(p Params, led *ledger.Ledger, sizer Sizer, directEntry bool) *Evaluator {
	return &Evaluator{
		params:      p,
		ledger:      led,
		machine:     state.NewMachine(p.Cooldown),
		scorer:      signal.NewScorer(p.MinADX, p.MinScore, p.MinConfidence),
		filter:      economics.NewFilter(p.CommissionRate, p.MinProfitRatio),
		sizer:       sizer,
		directEntry: directEntry,
	}
}

// Machine 暴露状态机给调度方（惰性冷却判定在读取时发生）。
func (e *Evaluator) Machine() *state.Machine { return e.machine }

// Ledger 共享资金账本。
func (e *Evaluator) Ledger() *ledger.Ledger { return e.ledger }

// Position 当前持仓副本。
func (e *Evaluator) Position(symbol string) (OpenPosition, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.positions[symbol]; ok {
		return *p, true
	}
	return OpenPosition{}, false
}

// EvaluateCycle 对一个标的执行一次评估。higher/lower 为两个时间框架
// 的指标切面，book 可为 nil。时间取 lower 切面的时间戳。
func (e *Evaluator) EvaluateCycle(inst universe.Instrument, higher, lower indicator.Snapshot, book *market.BookStats) Outcome {
	out := Outcome{Symbol: inst.Symbol}
	now := lower.Timestamp
	e.machine.SetNowFunc(func() time.Time { return now })

	held := e.machine.IsHeld(inst.Symbol)
	e.mu.Lock()
	pos := e.positions[inst.Symbol]
	e.mu.Unlock()

	// 状态与持仓互为充要条件，不一致即自愈复位
	if held && pos == nil {
		logger.Warnf("%s state says held but no position, resetting to scanning", inst.Symbol)
		e.machine.ResetToScanning(inst.Symbol)
		out.Skipped = "state/position mismatch"
		return out
	}
	if pos != nil && !held {
		logger.Warnf("%s has position but state %s, force closing", inst.Symbol, e.machine.Phase(inst.Symbol))
		price := decimal.NewFromFloat(lower.Price)
		rec := e.closePosition(pos, price, now, ExitEndOfPeriod)
		e.machine.ResetToScanning(inst.Symbol)
		out.Closed = &rec
		out.Skipped = "state/position mismatch"
		return out
	}

	if pos != nil {
		return e.manageHeld(inst, pos, lower, now)
	}
	if !e.machine.CanEnter(inst.Symbol) {
		out.Skipped = fmt.Sprintf("phase %s", e.machine.Phase(inst.Symbol))
		return out
	}
	return e.tryEnter(inst, higher, lower, book, now)
}

func (e *Evaluator) manageHeld(inst universe.Instrument, pos *OpenPosition, lower indicator.Snapshot, now time.Time) Outcome {
	out := Outcome{Symbol: inst.Symbol}
	price := decimal.NewFromFloat(lower.Price)
	atr := decimal.NewFromFloat(lower.ATR)

	next, moved, err := protect.Advance(pos.Side, pos.EntryPrice, price, atr, pos.StopLoss, inst.Step(), e.params.Protect)
	if err != nil {
		logger.Warnf("%s trailing stop skipped: %v", inst.Symbol, err)
	} else if moved {
		logger.Debugf("%s stop %s -> %s at price %s", inst.Symbol, pos.StopLoss, next, price)
		pos.StopLoss = next
	}

	stopHit, takeHit := protect.Triggered(pos.Side, price, pos.StopLoss, pos.TakeProfit)
	switch {
	case stopHit:
		rec := e.closePosition(pos, pos.StopLoss, now, ExitStopLoss)
		e.transitionToExit(inst.Symbol, rec.NetPnL)
		out.Closed = &rec
	case takeHit:
		rec := e.closePosition(pos, pos.TakeProfit, now, ExitTakeProfit)
		e.transitionToExit(inst.Symbol, rec.NetPnL)
		out.Closed = &rec
	default:
		e.ledger.MarkUnrealized(pos.EntryValue(), unrealizedPnL(pos, price))
	}
	return out
}

func (e *Evaluator) tryEnter(inst universe.Instrument, higher, lower indicator.Snapshot, book *market.BookStats, now time.Time) Outcome {
	out := Outcome{Symbol: inst.Symbol}

	sig := e.scorer.Score(higher, lower, book)
	out.Signal = &sig
	if !e.scorer.CanExecute(sig) {
		out.Skipped = sig.Rationale
		return out
	}
	side := sig.Action.Side()
	entry := decimal.NewFromFloat(lower.Price)
	atr := decimal.NewFromFloat(lower.ATR)

	levels, err := protect.Initial(side, entry, atr, inst.Step(), e.params.Protect)
	if err != nil {
		out.Skipped = err.Error()
		return out
	}

	lots := e.sizer.Lots(inst, entry, e.ledger.Available())
	if lots <= 0 {
		out.Skipped = "position sizing returned zero lots"
		return out
	}

	assess := e.filter.Assess(entry, levels.TakeProfit, lots, inst.LotSize)
	if !assess.Viable {
		out.Skipped = fmt.Sprintf("not economical: %s", assess.Reason)
		return out
	}

	qty := decimal.NewFromInt(lots * inst.LotSize)
	entryValue := entry.Mul(qty)
	entryCommission := entryValue.Mul(e.params.CommissionRate)
	if !e.ledger.OpenPosition(entryValue, entryCommission) {
		out.Skipped = "insufficient available capital"
		return out
	}
	if err := e.machine.Transition(inst.Symbol, state.EntryPending, ""); err != nil {
		// 资金已占用但状态不让进：立即回滚
		e.ledger.ClosePosition(entryValue, entryCommission)
		out.Skipped = err.Error()
		return out
	}

	if e.directEntry {
		pos := &OpenPosition{
			Symbol:     inst.Symbol,
			Side:       side,
			EntryTime:  now,
			EntryPrice: entry,
			Lots:       lots,
			LotSize:    inst.LotSize,
			StopLoss:   levels.StopLoss,
			TakeProfit: levels.TakeProfit,
		}
		if err := e.machine.Transition(inst.Symbol, state.Active, ""); err != nil {
			e.ledger.ClosePosition(entryValue, entryCommission)
			e.machine.ResetToScanning(inst.Symbol)
			out.Skipped = err.Error()
			return out
		}
		e.mu.Lock()
		if e.positions == nil {
			e.positions = make(map[string]*OpenPosition)
		}
		e.positions[inst.Symbol] = pos
		e.mu.Unlock()
		logger.Infof("%s %s entry at %s, stop %s take %s (%s)",
			inst.Symbol, side, entry, levels.StopLoss, levels.TakeProfit, sig.Rationale)
	} else {
		plan := &EntryPlan{
			Instrument: inst,
			Side:       side,
			Lots:       lots,
			Reserved:   entryValue,
			Commission: entryCommission,
			StopLoss:   levels.StopLoss,
			TakeProfit: levels.TakeProfit,
			PlannedAt:  now,
		}
		e.mu.Lock()
		if e.plans == nil {
			e.plans = make(map[string]*EntryPlan)
		}
		e.plans[inst.Symbol] = plan
		e.mu.Unlock()
	}
	out.Entered = true
	return out
}

// PendingPlan 返回等待成交确认的计划。
func (e *Evaluator) PendingPlan(symbol string) (EntryPlan, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.plans[symbol]; ok {
		return *p, true
	}
	return EntryPlan{}, false
}

// ConfirmEntry 订单成交回报：建仓并转 ACTIVE。
// 成交价与计划价可能有滑点，保护价按计划价保持不变。
func (e *Evaluator) ConfirmEntry(symbol string, fillPrice decimal.Decimal, fillTime time.Time) error {
	e.mu.Lock()
	plan, ok := e.plans[symbol]
	if ok {
		delete(e.plans, symbol)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s has no pending entry plan", symbol)
	}
	if err := e.machine.Transition(symbol, state.Active, ""); err != nil {
		e.ledger.ClosePosition(plan.Reserved, plan.Commission)
		return err
	}
	pos := &OpenPosition{
		Symbol:     symbol,
		Side:       plan.Side,
		EntryTime:  fillTime,
		EntryPrice: fillPrice,
		Lots:       plan.Lots,
		LotSize:    plan.Instrument.LotSize,
		StopLoss:   plan.StopLoss,
		TakeProfit: plan.TakeProfit,
	}
	e.mu.Lock()
	if e.positions == nil {
		e.positions = make(map[string]*OpenPosition)
	}
	e.positions[symbol] = pos
	e.mu.Unlock()
	logger.Infof("%s %s fill confirmed at %s", symbol, plan.Side, fillPrice)
	return nil
}

// AbortEntry 下单失败或撤单：释放资金，退回 SCANNING。
func (e *Evaluator) AbortEntry(symbol string) {
	e.mu.Lock()
	plan, ok := e.plans[symbol]
	if ok {
		delete(e.plans, symbol)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	e.ledger.ClosePosition(plan.Reserved, plan.Commission)
	e.machine.ResetToScanning(symbol)
	logger.Warnf("%s entry aborted, reserved funds released", symbol)
}

// ForceClose 以给定价格强平（回放窗口结束）。无持仓返回 false。
func (e *Evaluator) ForceClose(symbol string, price decimal.Decimal, at time.Time) (TradeRecord, bool) {
	e.mu.Lock()
	pos := e.positions[symbol]
	e.mu.Unlock()
	if pos == nil {
		return TradeRecord{}, false
	}
	rec := e.closePosition(pos, price, at, ExitEndOfPeriod)
	e.transitionToExit(symbol, rec.NetPnL)
	return rec, true
}

// HeldSymbols 当前持仓标的（排序交给调用方）。
func (e *Evaluator) HeldSymbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.positions))
	for sym := range e.positions {
		out = append(out, sym)
	}
	return out
}

// closePosition 结算一笔持仓：释放占用资金、入账净盈亏、生成记录。
// 入场手续费在开仓时已从 available 扣除，这里只再扣出场侧。
func (e *Evaluator) closePosition(pos *OpenPosition, exitPrice decimal.Decimal, at time.Time, reason string) TradeRecord {
	qty := pos.Quantity()
	var raw decimal.Decimal
	if pos.Side == market.SideLong {
		raw = exitPrice.Sub(pos.EntryPrice).Mul(qty)
	} else {
		raw = pos.EntryPrice.Sub(exitPrice).Mul(qty)
	}
	entryValue := pos.EntryValue()
	entryCommission := entryValue.Mul(e.params.CommissionRate)
	exitCommission := exitPrice.Mul(qty).Mul(e.params.CommissionRate)

	e.ledger.ClosePosition(entryValue, raw.Sub(exitCommission))

	net := raw.Sub(entryCommission).Sub(exitCommission)
	outlay := entryValue.Mul(decimal.NewFromInt(1).Add(e.params.CommissionRate))
	var pct decimal.Decimal
	if outlay.Sign() > 0 {
		pct = net.DivRound(outlay, 6).Mul(decimal.NewFromInt(100))
	}

	e.mu.Lock()
	delete(e.positions, pos.Symbol)
	e.mu.Unlock()

	logger.Infof("%s closed %s at %s, net pnl %s (%s%%)", pos.Symbol, reason, exitPrice, net, pct)
	return TradeRecord{
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		EntryTime:  pos.EntryTime,
		ExitTime:   at,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   qty,
		NetPnL:     net,
		PnLPercent: pct,
		ExitReason: reason,
	}
}

func (e *Evaluator) transitionToExit(symbol string, netPnL decimal.Decimal) {
	cause := state.CauseProfit
	if netPnL.Sign() < 0 {
		cause = state.CauseLoss
	}
	if err := e.machine.Transition(symbol, state.ExitPending, ""); err != nil {
		e.machine.ResetToScanning(symbol)
		return
	}
	if err := e.machine.Transition(symbol, state.Cooldown, cause); err != nil {
		e.machine.ResetToScanning(symbol)
	}
}

func unrealizedPnL(pos *OpenPosition, price decimal.Decimal) decimal.Decimal {
	if pos.Side == market.SideLong {
		return price.Sub(pos.EntryPrice).Mul(pos.Quantity())
	}
	return pos.EntryPrice.Sub(price).Mul(pos.Quantity())
}
