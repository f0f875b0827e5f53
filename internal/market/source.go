package market

import "context"

// Source 抽象历史 K 线来源（交易所 REST 或本地缓存）。
type Source interface {
	Name() string
	// FetchHistory 拉取最近 limit 根 K 线（实盘扫描用）。
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	// FetchRange 拉取 [start,end] 毫秒区间内最多 limit 根 K 线（数据回补用）。
	FetchRange(ctx context.Context, symbol, interval string, start, end int64, limit int) ([]Candle, error)
}

// FilterClosedBefore 返回 closeTime 不晚于 cutoff（毫秒）的前缀。
// 输入要求按时间升序；回测按当前 bar 截断高周期序列时使用。
func FilterClosedBefore(candles []Candle, cutoff int64) []Candle {
	n := len(candles)
	for n > 0 && candles[n-1].CloseTime > cutoff {
		n--
	}
	return candles[:n]
}
