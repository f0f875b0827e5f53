package config

import (
	"strings"
	"time"
)

// Config 是 volna 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Market   MarketConfig   `toml:"market"`
	Universe UniverseConfig `toml:"universe"`
	Strategy StrategyConfig `toml:"strategy"`
	Backtest BacktestConfig `toml:"backtest"`
	Live     LiveConfig     `toml:"live"`
	Notify   NotifyConfig   `toml:"notify"`
	Storage  StorageConfig  `toml:"storage"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// MarketConfig 描述行情网关（Binance USDT 合约 REST）。
// APIKey/APISecret 仅实盘下单需要，纯行情可留空。
type MarketConfig struct {
	RESTBaseURL    string `toml:"rest_base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	ProxyURL       string `toml:"proxy_url"`
	APIKey         string `toml:"api_key"`
	APISecret      string `toml:"api_secret"`
}

func (m MarketConfig) HTTPTimeout() time.Duration {
	if m.TimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// UniverseConfig 指向被跟踪标的清单文件。
type UniverseConfig struct {
	Path string `toml:"path"`
}

// StrategyConfig 集中所有策略参数，实盘与回测共用同一份注入，
// 避免同一常量散落两条代码路径。
type StrategyConfig struct {
	StopLossATRMult      float64 `toml:"stop_loss_atr_mult"`
	TakeProfitATRMult    float64 `toml:"take_profit_atr_mult"`
	BreakevenATRMult     float64 `toml:"breakeven_atr_mult"`
	BreakevenOffsetSteps int     `toml:"breakeven_offset_steps"`
	MinADX               float64 `toml:"min_adx"`
	MinScore             float64 `toml:"min_score"`
	MinConfidence        float64 `toml:"min_confidence"`
	MinProfitRatio       float64 `toml:"min_profit_ratio"`
	CommissionRate       float64 `toml:"commission_rate"`
	CooldownMinutes      int     `toml:"cooldown_minutes"`
}

func (s StrategyConfig) Cooldown() time.Duration {
	if s.CooldownMinutes < 0 {
		return 0
	}
	return time.Duration(s.CooldownMinutes) * time.Minute
}

// BacktestConfig 控制历史回放。
type BacktestConfig struct {
	DataRoot        string  `toml:"data_root"`
	HigherTimeframe string  `toml:"higher_timeframe"`
	LowerTimeframe  string  `toml:"lower_timeframe"`
	LookbackBars    int     `toml:"lookback_bars"`
	InitialBalance  float64 `toml:"initial_balance"`
	MaxConcurrent   int     `toml:"max_concurrent"`
}

// LiveConfig 控制实盘扫描循环。TradeEnabled 为假时只做决策与落库，
// 订单不出门（纸面模式）。
type LiveConfig struct {
	Enabled        bool   `toml:"enabled"`
	TradeEnabled   bool   `toml:"trade_enabled"`
	Interval       string `toml:"interval"`
	OffsetSeconds  int    `toml:"offset_seconds"`
	OrderBookDepth int    `toml:"order_book_depth"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type StorageConfig struct {
	ResultDB string `toml:"result_db"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
