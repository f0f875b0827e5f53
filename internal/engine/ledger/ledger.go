// Package ledger 维护多标的共享的资金池。
// N 个标的可以并发评估，但同一池内的四个操作必须串行：
// 一个 Ledger 实例一把锁，按资金场景隔离（参数扫描每组独立建池）。
package ledger

import (
	"sync"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Ledger 共享资金账本。所有金额用 decimal 运算，避免浮点漂移。
type Ledger struct {
	mu sync.Mutex

	available decimal.Decimal
	locked    decimal.Decimal
	total     decimal.Decimal
	peak      decimal.Decimal
	maxDD     decimal.Decimal
	maxDDPct  decimal.Decimal
}

// Snapshot 账本只读视图。
type Snapshot struct {
	Available          decimal.Decimal
	Locked             decimal.Decimal
	Total              decimal.Decimal
	Peak               decimal.Decimal
	MaxDrawdown        decimal.Decimal
	MaxDrawdownPercent decimal.Decimal
}

func New(initial decimal.Decimal) *Ledger {
	return &Ledger{
		available: initial,
		locked:    decimal.Zero,
		total:     initial,
		peak:      initial,
		maxDD:     decimal.Zero,
		maxDDPct:  decimal.Zero,
	}
}

// OpenPosition 原子性地检查并占用资金：available 扣除
// tradeAmount+entryCommission，locked 增加 tradeAmount。
// 资金不足时返回 false 且无任何副作用，是多标的共享资金的
// 唯一准入闸门。
func (l *Ledger) OpenPosition(tradeAmount, entryCommission decimal.Decimal) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	need := tradeAmount.Add(entryCommission)
	if l.available.LessThan(need) {
		return false
	}
	l.available = l.available.Sub(need)
	l.locked = l.locked.Add(tradeAmount)
	l.total = l.available.Add(l.locked)
	l.updatePeakAndDrawdown()
	return true
}

// ClosePosition 释放占用资金并入账已实现盈亏。
func (l *Ledger) ClosePosition(lockedAmount, netPnL decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.available = l.available.Add(lockedAmount).Add(netPnL)
	l.locked = l.locked.Sub(lockedAmount)
	l.total = l.available.Add(l.locked)
	l.updatePeakAndDrawdown()
}

// MarkUnrealized 以浮动盈亏重算 total（仅用于报告），不动 available/locked。
func (l *Ledger) MarkUnrealized(lockedAmount, unrealizedPnL decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total = l.available.Add(lockedAmount).Add(unrealizedPnL)
	l.updatePeakAndDrawdown()
}

// Available 当前可用资金。
func (l *Ledger) Available() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.available
}

// Snapshot 返回账本视图副本。
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		Available:          l.available,
		Locked:             l.locked,
		Total:              l.total,
		Peak:               l.peak,
		MaxDrawdown:        l.maxDD,
		MaxDrawdownPercent: l.maxDDPct,
	}
}

// 调用方必须持有 l.mu。
func (l *Ledger) updatePeakAndDrawdown() {
	if l.total.GreaterThan(l.peak) {
		l.peak = l.total
	}
	drawdown := l.peak.Sub(l.total)
	if drawdown.GreaterThan(l.maxDD) {
		l.maxDD = drawdown
		if l.peak.Sign() > 0 {
			l.maxDDPct = drawdown.DivRound(l.peak, 4).Mul(hundred)
		}
	}
}
