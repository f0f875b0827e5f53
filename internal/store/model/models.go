package model

import "gorm.io/datatypes"

// BacktestRunModel maps to 'backtest_runs'.
type BacktestRunModel struct {
	ID             string         `gorm:"column:id;primaryKey"`
	Status         string         `gorm:"column:status"`
	RequestJSON    datatypes.JSON `gorm:"column:request_json"`
	StatsJSON      datatypes.JSON `gorm:"column:stats_json"`
	EquityJSON     datatypes.JSON `gorm:"column:equity_json"`
	Profit         float64        `gorm:"column:profit"`
	ReturnPct      float64        `gorm:"column:return_pct"`
	WinRate        float64        `gorm:"column:win_rate"`
	MaxDrawdownPct float64        `gorm:"column:max_drawdown_pct"`
	Trades         int            `gorm:"column:trades"`
	Message        string         `gorm:"column:message"`
	CreatedAtMs    int64          `gorm:"column:created_at"`
	CompletedAtMs  int64          `gorm:"column:completed_at"`
}

func (BacktestRunModel) TableName() string { return "backtest_runs" }

// BacktestTradeModel maps to 'backtest_trades'.
// Prices are stored as strings to keep decimal exactness across round trips.
type BacktestTradeModel struct {
	ID         int64  `gorm:"column:id;primaryKey;autoIncrement"`
	RunID      string `gorm:"column:run_id;index"`
	Symbol     string `gorm:"column:symbol"`
	Side       string `gorm:"column:side"`
	EntryMs    int64  `gorm:"column:entry_ts"`
	ExitMs     int64  `gorm:"column:exit_ts"`
	EntryPrice string `gorm:"column:entry_price"`
	ExitPrice  string `gorm:"column:exit_price"`
	Quantity   string `gorm:"column:quantity"`
	NetPnL     string `gorm:"column:net_pnl"`
	PnLPercent string `gorm:"column:pnl_percent"`
	ExitReason string `gorm:"column:exit_reason"`
}

func (BacktestTradeModel) TableName() string { return "backtest_trades" }

// LiveDecisionModel maps to 'live_decisions', one row per evaluated
// instrument per live scan cycle that produced a signal.
type LiveDecisionModel struct {
	ID         int64   `gorm:"column:id;primaryKey;autoIncrement"`
	Symbol     string  `gorm:"column:symbol;index"`
	Action     string  `gorm:"column:action"`
	Confidence float64 `gorm:"column:confidence"`
	ScoreBuy   float64 `gorm:"column:score_buy"`
	ScoreSell  float64 `gorm:"column:score_sell"`
	Rationale  string  `gorm:"column:rationale"`
	Phase      string  `gorm:"column:phase"`
	Entered    bool    `gorm:"column:entered"`
	CreatedMs  int64   `gorm:"column:created_at;index"`
}

func (LiveDecisionModel) TableName() string { return "live_decisions" }
