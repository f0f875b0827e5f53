package engine

import (
	"github.com/shopspring/decimal"

	"volna/internal/universe"
)

// Sizer 决定一次入场买多少手。仓位尺寸属于外部协作方的决策，
// 引擎只消费结果。
type Sizer interface {
	// Lots 返回手数；0 表示放弃本次入场。
	Lots(inst universe.Instrument, price, available decimal.Decimal) int64
}

// FixedLotSizer 买得起就买一手的保守策略。
type FixedLotSizer struct {
	CommissionRate decimal.Decimal
}

func (s FixedLotSizer) Lots(inst universe.Instrument, price, available decimal.Decimal) int64 {
	cost := price.Mul(decimal.NewFromInt(inst.LotSize))
	need := cost.Add(cost.Mul(s.CommissionRate))
	if need.GreaterThan(available) {
		return 0
	}
	return 1
}
