// Package protect 计算保护性止损价：初始止损、保本抬升、ATR 跟踪。
// 所有价格先用 decimal 计算再对齐到最小报价单位，保证可直接下单。
package protect

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"volna/internal/market"
)

// ErrNoVolatility ATR 不为正时无法定义止损距离。
var ErrNoVolatility = errors.New("non-positive ATR, cannot size protective stop")

// Params 止损参数。
type Params struct {
	StopLossATRMult      decimal.Decimal
	TakeProfitATRMult    decimal.Decimal
	BreakevenATRMult     decimal.Decimal
	BreakevenOffsetSteps int64
}

// RoundToStep 把价格对齐到最小报价单位：除以 step 四舍五入取整再乘回。
func RoundToStep(price, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return price
	}
	return price.DivRound(step, 0).Mul(step)
}

// InitialLevels 入场时的初始止损/止盈价。
type InitialLevels struct {
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// Initial 计算入场时刻的止损与止盈。多头止损在下方，空头镜像。
func Initial(side string, entry, atr, step decimal.Decimal, p Params) (InitialLevels, error) {
	if atr.Sign() <= 0 {
		return InitialLevels{}, fmt.Errorf("%w: atr=%s", ErrNoVolatility, atr)
	}
	slDist := atr.Mul(p.StopLossATRMult)
	tpDist := atr.Mul(p.TakeProfitATRMult)
	var sl, tp decimal.Decimal
	switch side {
	case market.SideLong:
		sl = entry.Sub(slDist)
		tp = entry.Add(tpDist)
	case market.SideShort:
		sl = entry.Add(slDist)
		tp = entry.Sub(tpDist)
	default:
		return InitialLevels{}, fmt.Errorf("unknown side %q", side)
	}
	return InitialLevels{
		StopLoss:   RoundToStep(sl, step),
		TakeProfit: RoundToStep(tp, step),
	}, nil
}

// Advance 根据当前价格推进止损。返回新的止损价；止损只收紧不放松，
// 没有变化时返回原值和 moved=false。
//
// 两段式推进：
//  1. 浮盈未达 BreakevenATRMult*ATR 时，常规跟踪：止损跟在当前价
//     后方 StopLossATRMult*ATR 处，只有同时越过保本线和旧止损才生效。
//  2. 浮盈达到触发线后，止损钉在保本价
//     （入场价加减 BreakevenOffsetSteps 个报价单位），不再继续跟随。
func Advance(side string, entry, current, atr, stop, step decimal.Decimal, p Params) (decimal.Decimal, bool, error) {
	if atr.Sign() <= 0 {
		return stop, false, fmt.Errorf("%w: atr=%s", ErrNoVolatility, atr)
	}
	beTrigger := atr.Mul(p.BreakevenATRMult)
	offset := step.Mul(decimal.NewFromInt(p.BreakevenOffsetSteps))
	trailDist := atr.Mul(p.StopLossATRMult)

	switch side {
	case market.SideLong:
		gain := current.Sub(entry)
		breakeven := entry.Add(offset)
		if gain.GreaterThanOrEqual(beTrigger) {
			candidate := RoundToStep(breakeven, step)
			if candidate.GreaterThan(stop) {
				return candidate, true, nil
			}
			return stop, false, nil
		}
		candidate := RoundToStep(current.Sub(trailDist), step)
		if candidate.GreaterThan(breakeven) && candidate.GreaterThan(stop) {
			return candidate, true, nil
		}
		return stop, false, nil
	case market.SideShort:
		gain := entry.Sub(current)
		breakeven := entry.Sub(offset)
		if gain.GreaterThanOrEqual(beTrigger) {
			candidate := RoundToStep(breakeven, step)
			if candidate.LessThan(stop) {
				return candidate, true, nil
			}
			return stop, false, nil
		}
		candidate := RoundToStep(current.Add(trailDist), step)
		if candidate.LessThan(breakeven) && candidate.LessThan(stop) {
			return candidate, true, nil
		}
		return stop, false, nil
	default:
		return stop, false, fmt.Errorf("unknown side %q", side)
	}
}

// Triggered 判断当前价是否触发止损或止盈。
func Triggered(side string, current, stop, take decimal.Decimal) (stopHit, takeHit bool) {
	switch side {
	case market.SideLong:
		return current.LessThanOrEqual(stop), current.GreaterThanOrEqual(take)
	case market.SideShort:
		return current.GreaterThanOrEqual(stop), current.LessThanOrEqual(take)
	}
	return false, false
}
