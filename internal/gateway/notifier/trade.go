package notifier

import (
	"fmt"
	"time"

	"volna/internal/engine"
	"volna/internal/engine/signal"
)

// EntryMessage 开仓通知。
func EntryMessage(sig signal.TradeSignal, pos engine.OpenPosition) StructuredMessage {
	return StructuredMessage{
		Icon:  "📈",
		Title: fmt.Sprintf("开仓 %s %s", pos.Symbol, pos.Side),
		Sections: []MessageSection{
			{
				Title: "仓位",
				Lines: []string{
					fmt.Sprintf("入场价 %s", pos.EntryPrice),
					fmt.Sprintf("数量 %s (%d 手)", pos.Quantity(), pos.Lots),
					fmt.Sprintf("止损 %s / 止盈 %s", pos.StopLoss, pos.TakeProfit),
				},
			},
			{
				Title: "信号",
				Lines: []string{
					fmt.Sprintf("置信度 %.2f", sig.Confidence),
					sig.Rationale,
				},
			},
		},
		Timestamp: pos.EntryTime,
	}
}

// ExitMessage 平仓通知。
func ExitMessage(rec engine.TradeRecord) StructuredMessage {
	icon := "✅"
	if rec.NetPnL.Sign() < 0 {
		icon = "🛑"
	}
	return StructuredMessage{
		Icon:  icon,
		Title: fmt.Sprintf("平仓 %s %s (%s)", rec.Symbol, rec.Side, rec.ExitReason),
		Sections: []MessageSection{
			{
				Title: "结果",
				Lines: []string{
					fmt.Sprintf("入场 %s -> 出场 %s", rec.EntryPrice, rec.ExitPrice),
					fmt.Sprintf("净盈亏 %s (%s%%)", rec.NetPnL, rec.PnLPercent),
					fmt.Sprintf("持仓 %s", rec.ExitTime.Sub(rec.EntryTime).Round(time.Minute)),
				},
			},
		},
		Timestamp: rec.ExitTime,
	}
}
