package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"volna/internal/analysis/indicator"
	"volna/internal/engine"
	"volna/internal/engine/ledger"
	"volna/internal/logger"
	"volna/internal/scheduler"
	"volna/internal/universe"
)

// RunnerConfig 回放引擎的静态依赖与默认参数。
type RunnerConfig struct {
	Store           *Store
	Registry        *universe.Registry
	Params          engine.Params
	Indicator       indicator.Settings
	HigherTimeframe string
	LowerTimeframe  string
	InitialBalance  decimal.Decimal
}

// Runner 按历史 K 线逐 bar 回放决策循环。
// 多标的共用一个资金账本时，同一时间戳内按 symbol 升序串行评估，
// 资金争用的结果因此可跨运行复现。
type Runner struct {
	cfg RunnerConfig
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("runner requires candle store")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("runner requires universe registry")
	}
	return &Runner{cfg: cfg}, nil
}

// symbolData 单个标的的预计算序列与游标。
type symbolData struct {
	inst        universe.Instrument
	lower       *indicator.Series
	higher      *indicator.Series
	lowerByTS   map[int64]int
	higherIdx   int
	lastPrice   decimal.Decimal
	lastBarTime time.Time
}

// Execute 执行一次回测。阻塞直到回放完成或 ctx 取消。
func (r *Runner) Execute(ctx context.Context, req RunRequest) (*Result, error) {
	params, initial, err := r.resolveParams(req)
	if err != nil {
		return nil, err
	}
	higherTF := req.HigherTimeframe
	if higherTF == "" {
		higherTF = r.cfg.HigherTimeframe
	}
	lowerTF := req.LowerTimeframe
	if lowerTF == "" {
		lowerTF = r.cfg.LowerTimeframe
	}
	lowerStep, ok := scheduler.ParseIntervalDuration(lowerTF)
	if !ok {
		return nil, fmt.Errorf("unsupported lower timeframe: %s", lowerTF)
	}
	higherStep, ok := scheduler.ParseIntervalDuration(higherTF)
	if !ok {
		return nil, fmt.Errorf("unsupported higher timeframe: %s", higherTF)
	}

	instruments, err := r.resolveInstruments(req.Symbols)
	if err != nil {
		return nil, err
	}

	icfg := r.cfg.Indicator
	minBars := icfg.MinBars
	if minBars <= 0 {
		minBars = 120
	}

	// 预热窗口：请求区间前再多取 MinBars 根
	data := make([]*symbolData, 0, len(instruments))
	for _, inst := range instruments {
		sd, err := r.loadSymbol(ctx, inst, higherTF, lowerTF, req, int64(minBars)*lowerStep.Milliseconds(), int64(minBars)*higherStep.Milliseconds())
		if err != nil {
			if indicator.Skippable(err) {
				logger.Warnf("%s excluded from run: %v", inst.Symbol, err)
				continue
			}
			return nil, err
		}
		data = append(data, sd)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("no instrument has enough history for [%d,%d]", req.StartTS, req.EndTS)
	}
	sort.Slice(data, func(a, b int) bool { return data[a].inst.Symbol < data[b].inst.Symbol })

	led := ledger.New(initial)
	ev := engine.NewEvaluator(params, led, engine.FixedLotSizer{CommissionRate: params.CommissionRate}, true)

	timestamps := collectTimestamps(data, req.StartTS, req.EndTS)
	result := &Result{}
	bars := 0

	for _, ts := range timestamps {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		for _, sd := range data {
			idx, ok := sd.lowerByTS[ts]
			if !ok {
				continue
			}
			lowerSnap, err := sd.lower.At(idx)
			if err != nil {
				continue
			}
			higherSnap, ok := sd.advanceHigher(ts)
			if !ok {
				continue
			}
			bars++
			sd.lastPrice = decimal.NewFromFloat(lowerSnap.Price)
			sd.lastBarTime = lowerSnap.Timestamp

			out := ev.EvaluateCycle(sd.inst, higherSnap, lowerSnap, nil)
			if out.Closed != nil {
				result.Trades = append(result.Trades, *out.Closed)
			}
		}
		snap := led.Snapshot()
		result.Equity = append(result.Equity, EquityPoint{
			TS:       ts,
			Total:    snap.Total,
			Drawdown: snap.Peak.Sub(snap.Total),
		})
	}

	// 窗口结束：未了结仓位按最后观测价强平
	forced := 0
	for _, sd := range data {
		if sd.lastPrice.IsZero() {
			continue
		}
		if rec, ok := ev.ForceClose(sd.inst.Symbol, sd.lastPrice, sd.lastBarTime); ok {
			result.Trades = append(result.Trades, rec)
			forced++
		}
	}

	result.Run = Run{
		Status:      RunStatusDone,
		Request:     req,
		Stats:       buildStats(initial, led, result.Trades, forced, bars),
		CreatedAt:   time.Now(),
		CompletedAt: time.Now(),
	}
	return result, nil
}

func (r *Runner) resolveParams(req RunRequest) (engine.Params, decimal.Decimal, error) {
	params := r.cfg.Params
	if req.StopLossATRMult > 0 {
		params.Protect.StopLossATRMult = decimal.NewFromFloat(req.StopLossATRMult)
	}
	if req.TakeProfitATRMult > 0 {
		params.Protect.TakeProfitATRMult = decimal.NewFromFloat(req.TakeProfitATRMult)
	}
	if req.BreakevenATRMult > 0 {
		params.Protect.BreakevenATRMult = decimal.NewFromFloat(req.BreakevenATRMult)
	}
	initial := r.cfg.InitialBalance
	if req.InitialBalance > 0 {
		initial = decimal.NewFromFloat(req.InitialBalance)
	}
	if initial.Sign() <= 0 {
		return params, initial, fmt.Errorf("initial balance must be positive")
	}
	if req.StartTS <= 0 || req.EndTS <= req.StartTS {
		return params, initial, fmt.Errorf("start/end do not form a range")
	}
	return params, initial, nil
}

func (r *Runner) resolveInstruments(symbols []string) ([]universe.Instrument, error) {
	if len(symbols) == 0 {
		insts := r.cfg.Registry.Snapshot().Ordered()
		if len(insts) == 0 {
			return nil, fmt.Errorf("universe is empty")
		}
		return insts, nil
	}
	out := make([]universe.Instrument, 0, len(symbols))
	for _, sym := range symbols {
		inst, ok := r.cfg.Registry.Instrument(sym)
		if !ok {
			return nil, fmt.Errorf("unknown instrument: %s", sym)
		}
		if inst.Disabled {
			continue
		}
		out = append(out, inst)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no enabled instrument in request")
	}
	return out, nil
}

func (r *Runner) loadSymbol(ctx context.Context, inst universe.Instrument, higherTF, lowerTF string, req RunRequest, lowerWarmupMs, higherWarmupMs int64) (*symbolData, error) {
	lowerBars, err := r.cfg.Store.RangeBars(ctx, inst.Symbol, lowerTF, req.StartTS-lowerWarmupMs, req.EndTS)
	if err != nil {
		return nil, err
	}
	higherBars, err := r.cfg.Store.RangeBars(ctx, inst.Symbol, higherTF, req.StartTS-higherWarmupMs, req.EndTS)
	if err != nil {
		return nil, err
	}
	lowerSeries, err := indicator.BuildSeries(inst.Symbol, lowerTF, lowerBars, r.cfg.Indicator)
	if err != nil {
		return nil, err
	}
	higherSeries, err := indicator.BuildSeries(inst.Symbol, higherTF, higherBars, r.cfg.Indicator)
	if err != nil {
		return nil, err
	}
	byTS := make(map[int64]int, len(lowerBars))
	for i, b := range lowerBars {
		byTS[b.CloseTime] = i
	}
	return &symbolData{
		inst:      inst,
		lower:     lowerSeries,
		higher:    higherSeries,
		lowerByTS: byTS,
		higherIdx: -1,
	}, nil
}

// advanceHigher 推进高周期游标到最后一根已收盘 bar，返回其切面。
// 高周期 bar 未收盘前不可见，避免未来数据泄漏。
func (sd *symbolData) advanceHigher(ts int64) (indicator.Snapshot, bool) {
	candles := sd.higher.Candles
	for sd.higherIdx+1 < len(candles) && candles[sd.higherIdx+1].CloseTime <= ts {
		sd.higherIdx++
	}
	if sd.higherIdx < 0 {
		return indicator.Snapshot{}, false
	}
	snap, err := sd.higher.At(sd.higherIdx)
	if err != nil {
		return indicator.Snapshot{}, false
	}
	return snap, true
}

// collectTimestamps 合并所有标的在请求区间内的低周期收盘时间并升序去重。
func collectTimestamps(data []*symbolData, start, end int64) []int64 {
	seen := make(map[int64]struct{})
	for _, sd := range data {
		for _, b := range sd.lower.Candles {
			if b.CloseTime < start || b.CloseTime > end {
				continue
			}
			seen[b.CloseTime] = struct{}{}
		}
	}
	out := make([]int64, 0, len(seen))
	for ts := range seen {
		out = append(out, ts)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

func buildStats(initial decimal.Decimal, led *ledger.Ledger, trades []engine.TradeRecord, forced, bars int) RunStats {
	snap := led.Snapshot()
	wins, losses := 0, 0
	for _, t := range trades {
		if t.NetPnL.Sign() > 0 {
			wins++
		} else {
			losses++
		}
	}
	winRate := 0.0
	if len(trades) > 0 {
		winRate = float64(wins) / float64(len(trades)) * 100
	}
	profit := snap.Total.Sub(initial)
	returnPct := 0.0
	if initial.Sign() > 0 {
		returnPct = profit.DivRound(initial, 6).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}
	return RunStats{
		InitialBalance: initial.InexactFloat64(),
		FinalBalance:   snap.Total.InexactFloat64(),
		Profit:         profit.InexactFloat64(),
		ReturnPct:      returnPct,
		WinRate:        winRate,
		MaxDrawdown:    snap.MaxDrawdown.InexactFloat64(),
		MaxDrawdownPct: snap.MaxDrawdownPercent.InexactFloat64(),
		Trades:         len(trades),
		Wins:           wins,
		Losses:         losses,
		ForcedCloses:   forced,
		Bars:           bars,
		FinishedAt:     time.Now(),
	}
}
