package market

// BookStats 汇总订单簿双边挂单量，用于信号打分的失衡因子。
// 回测中通常缺失（nil），实盘由 gateway 聚合 depth 快照得到。
type BookStats struct {
	Symbol    string `json:"symbol"`
	BidVolume int64  `json:"bid_volume"`
	AskVolume int64  `json:"ask_volume"`
}

// BidDominant 买盘占优。
func (b *BookStats) BidDominant() bool {
	return b != nil && b.BidVolume > b.AskVolume
}

// AskDominant 卖盘占优。
func (b *BookStats) AskDominant() bool {
	return b != nil && b.AskVolume > b.BidVolume
}
