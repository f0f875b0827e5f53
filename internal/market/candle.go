package market

type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

const (
	SideLong  = "long"
	SideShort = "short"
)

// OppositeSide 返回对侧方向；未知输入原样返回。
func OppositeSide(side string) string {
	switch side {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return side
	}
}
