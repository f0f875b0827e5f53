// Package economics 评估一笔候选交易扣除手续费后是否还有利可图。
// 预期利润被成本吃掉的单子直接拒绝，这是正确性要求而非优化。
package economics

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// Filter 利润/成本过滤器。
type Filter struct {
	CommissionRate decimal.Decimal
	MinProfitRatio decimal.Decimal
}

func NewFilter(commissionRate, minProfitRatio decimal.Decimal) *Filter {
	return &Filter{CommissionRate: commissionRate, MinProfitRatio: minProfitRatio}
}

// Assessment 一笔候选交易的成本核算。
type Assessment struct {
	EntryNotional decimal.Decimal
	Commission    decimal.Decimal
	GrossProfit   decimal.Decimal
	NetProfit     decimal.Decimal
	ProfitRatio   decimal.Decimal
	Viable        bool
	Reason        string
}

// Assess 核算 entry 到 target 的一笔 lots*lotSize 交易。
// 往返手续费按入场名义价值双边计；零费率时 ratio 视为 100。
func (f *Filter) Assess(entry, target decimal.Decimal, lots, lotSize int64) Assessment {
	qty := decimal.NewFromInt(lots * lotSize)
	notional := entry.Mul(qty)
	commission := notional.Mul(f.CommissionRate).Mul(two)
	gross := target.Sub(entry).Abs().Mul(qty)
	net := gross.Sub(commission)

	ratio := decimal.NewFromInt(100)
	if commission.Sign() > 0 {
		ratio = gross.DivRound(commission, 8)
	}

	a := Assessment{
		EntryNotional: notional,
		Commission:    commission,
		GrossProfit:   gross,
		NetProfit:     net,
		ProfitRatio:   ratio,
	}
	switch {
	case net.Sign() <= 0:
		a.Reason = fmt.Sprintf("net profit %s not positive after commission %s", net, commission)
	case ratio.LessThan(f.MinProfitRatio):
		a.Reason = fmt.Sprintf("profit/commission ratio %s below %s", ratio, f.MinProfitRatio)
	default:
		a.Viable = true
		a.Reason = fmt.Sprintf("ratio %s, net %s", ratio, net)
	}
	return a
}
