package config

import "strings"

// 默认值常量
const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9991"
	defaultAppLogPath  = "/data/logs/volna.log"

	defaultMarketREST    = "https://fapi.binance.com"
	defaultMarketTimeout = 15

	defaultUniversePath = "configs/universe.yaml"

	defaultStopLossATRMult      = 2.0
	defaultTakeProfitATRMult    = 3.0
	defaultBreakevenATRMult     = 1.0
	defaultBreakevenOffsetSteps = 5
	defaultMinADX               = 20.0
	defaultMinScore             = 3.0
	defaultMinConfidence        = 0.8
	defaultMinProfitRatio       = 3.0
	defaultCommissionRate       = 0.0005
	defaultCooldownMinutes      = 60

	defaultBacktestDataRoot = "/data/backtest"
	defaultHigherTimeframe  = "1h"
	defaultLowerTimeframe   = "15m"
	defaultLookbackBars     = 120
	defaultInitialBalance   = 10000
	defaultMaxConcurrent    = 4

	defaultLiveInterval  = "15m"
	defaultLiveOffset    = 10
	defaultLiveBookDepth = 20

	defaultResultDB = "/data/db/volna.db"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Universe.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Live.applyDefaults(keys)
	c.Storage.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		intFieldDefault("market.timeout_seconds", &m.TimeoutSeconds, defaultMarketTimeout),
	)
}

func (u *UniverseConfig) applyDefaults(keys keySet) {
	if u == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("universe.path", &u.Path, defaultUniversePath),
	)
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("strategy.stop_loss_atr_mult", &s.StopLossATRMult, defaultStopLossATRMult),
		floatFieldDefault("strategy.take_profit_atr_mult", &s.TakeProfitATRMult, defaultTakeProfitATRMult),
		floatFieldDefault("strategy.breakeven_atr_mult", &s.BreakevenATRMult, defaultBreakevenATRMult),
		intFieldDefault("strategy.breakeven_offset_steps", &s.BreakevenOffsetSteps, defaultBreakevenOffsetSteps),
		floatFieldDefault("strategy.min_adx", &s.MinADX, defaultMinADX),
		floatFieldDefault("strategy.min_score", &s.MinScore, defaultMinScore),
		floatFieldDefault("strategy.min_confidence", &s.MinConfidence, defaultMinConfidence),
		floatFieldDefault("strategy.min_profit_ratio", &s.MinProfitRatio, defaultMinProfitRatio),
		floatFieldDefault("strategy.commission_rate", &s.CommissionRate, defaultCommissionRate),
		fieldDefault{
			key:   "strategy.cooldown_minutes",
			need:  func() bool { return s.CooldownMinutes <= 0 },
			apply: func() { s.CooldownMinutes = defaultCooldownMinutes },
		},
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("backtest.data_root", &b.DataRoot, defaultBacktestDataRoot),
		stringFieldDefault("backtest.higher_timeframe", &b.HigherTimeframe, defaultHigherTimeframe),
		stringFieldDefault("backtest.lower_timeframe", &b.LowerTimeframe, defaultLowerTimeframe),
		intFieldDefault("backtest.lookback_bars", &b.LookbackBars, defaultLookbackBars),
		floatFieldDefault("backtest.initial_balance", &b.InitialBalance, defaultInitialBalance),
		intFieldDefault("backtest.max_concurrent", &b.MaxConcurrent, defaultMaxConcurrent),
	)
}

func (l *LiveConfig) applyDefaults(keys keySet) {
	if l == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("live.interval", &l.Interval, defaultLiveInterval),
		intFieldDefault("live.offset_seconds", &l.OffsetSeconds, defaultLiveOffset),
		intFieldDefault("live.order_book_depth", &l.OrderBookDepth, defaultLiveBookDepth),
	)
}

func (s *StorageConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("storage.result_db", &s.ResultDB, defaultResultDB),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target == 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
