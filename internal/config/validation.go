package config

import (
	"fmt"
	"strings"

	"volna/internal/scheduler"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Strategy.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Live.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if c.Live.Enabled && c.Live.TradeEnabled {
		if err := c.Market.validateForTrading(); err != nil {
			return err
		}
	}
	return nil
}

func (s *StrategyConfig) validate() error {
	if s.StopLossATRMult <= 0 {
		return fmt.Errorf("strategy.stop_loss_atr_mult must be > 0")
	}
	if s.TakeProfitATRMult <= 0 {
		return fmt.Errorf("strategy.take_profit_atr_mult must be > 0")
	}
	if s.BreakevenATRMult <= 0 {
		return fmt.Errorf("strategy.breakeven_atr_mult must be > 0")
	}
	if s.MinConfidence < 0 || s.MinConfidence > 1 {
		return fmt.Errorf("strategy.min_confidence must be within [0, 1]")
	}
	if s.CommissionRate < 0 || s.CommissionRate >= 1 {
		return fmt.Errorf("strategy.commission_rate must be within [0, 1)")
	}
	if s.MinProfitRatio < 1 {
		return fmt.Errorf("strategy.min_profit_ratio must be >= 1")
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if _, ok := scheduler.ParseIntervalDuration(b.HigherTimeframe); !ok {
		return fmt.Errorf("backtest.higher_timeframe is invalid: %s", b.HigherTimeframe)
	}
	if _, ok := scheduler.ParseIntervalDuration(b.LowerTimeframe); !ok {
		return fmt.Errorf("backtest.lower_timeframe is invalid: %s", b.LowerTimeframe)
	}
	if b.LookbackBars < 30 {
		return fmt.Errorf("backtest.lookback_bars must be >= 30")
	}
	if b.InitialBalance <= 0 {
		return fmt.Errorf("backtest.initial_balance must be > 0")
	}
	return nil
}

func (l *LiveConfig) validate() error {
	if !l.Enabled {
		return nil
	}
	if _, ok := scheduler.ParseIntervalDuration(l.Interval); !ok {
		return fmt.Errorf("live.interval is invalid: %s", l.Interval)
	}
	if l.OffsetSeconds < 0 {
		return fmt.Errorf("live.offset_seconds must be >= 0")
	}
	return nil
}

func (m *MarketConfig) validateForTrading() error {
	if strings.TrimSpace(m.APIKey) == "" || strings.TrimSpace(m.APISecret) == "" {
		return fmt.Errorf("market.api_key and market.api_secret are required when live.trade_enabled")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if !n.Telegram.Enabled {
		return nil
	}
	if strings.TrimSpace(n.Telegram.BotToken) == "" || strings.TrimSpace(n.Telegram.ChatID) == "" {
		return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
	}
	return nil
}
