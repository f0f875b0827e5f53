package backtest

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volna/internal/engine"
	"volna/internal/engine/protect"
	"volna/internal/market"
	"volna/internal/universe"
)

const (
	lowerStepMs   = int64(15 * 60 * 1000)
	lowerBarCount = 1600
)

var runBase = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

// syntheticLower 生成带趋势和周期波动的 15m K 线
func syntheticLower(phase float64) []market.Candle {
	price := func(i int) float64 {
		return 100 + 0.02*float64(i) + 2*math.Sin(float64(i)/12+phase)
	}
	out := make([]market.Candle, 0, lowerBarCount)
	for i := 1; i <= lowerBarCount; i++ {
		open := price(i - 1)
		close := price(i)
		hi := math.Max(open, close) + 0.5
		lo := math.Min(open, close) - 0.5
		ot := runBase + int64(i-1)*lowerStepMs
		out = append(out, market.Candle{
			OpenTime:  ot,
			CloseTime: ot + lowerStepMs - 1,
			Open:      open,
			High:      hi,
			Low:       lo,
			Close:     close,
			Volume:    1000,
			Trades:    50,
		})
	}
	return out
}

// aggregateHourly 把 15m 序列合成 1h
func aggregateHourly(lower []market.Candle) []market.Candle {
	var out []market.Candle
	for i := 0; i+4 <= len(lower); i += 4 {
		chunk := lower[i : i+4]
		c := market.Candle{
			OpenTime:  chunk[0].OpenTime,
			CloseTime: chunk[3].CloseTime,
			Open:      chunk[0].Open,
			Close:     chunk[3].Close,
			High:      chunk[0].High,
			Low:       chunk[0].Low,
		}
		for _, b := range chunk {
			c.High = math.Max(c.High, b.High)
			c.Low = math.Min(c.Low, b.Low)
			c.Volume += b.Volume
			c.Trades += b.Trades
		}
		out = append(out, c)
	}
	return out
}

func writeUniverseFile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "universe.yaml")
	content := `instruments:
  ALFA:
    name: Alfa Test
    lot_size: 1
    price_step: "0.01"
  BETA:
    name: Beta Test
    lot_size: 1
    price_step: "0.01"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	dir := t.TempDir()

	store, err := NewStore(filepath.Join(dir, "data"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	for sym, phase := range map[string]float64{"ALFA": 0, "BETA": 1.3} {
		lower := syntheticLower(phase)
		higher := aggregateHourly(lower)
		_, err := store.InsertBars(ctx, sym, "15m", lower)
		require.NoError(t, err)
		_, err = store.InsertBars(ctx, sym, "1h", higher)
		require.NoError(t, err)
	}

	registry, err := universe.NewRegistry(writeUniverseFile(t, dir))
	require.NoError(t, err)

	d := decimal.RequireFromString
	runner, err := NewRunner(RunnerConfig{
		Store:    store,
		Registry: registry,
		Params: engine.Params{
			Protect: protect.Params{
				StopLossATRMult:      d("2"),
				TakeProfitATRMult:    d("3"),
				BreakevenATRMult:     d("1"),
				BreakevenOffsetSteps: 5,
			},
			MinADX:         20,
			MinScore:       3,
			MinConfidence:  0.8,
			CommissionRate: d("0.0005"),
			MinProfitRatio: d("3"),
			Cooldown:       time.Hour,
		},
		HigherTimeframe: "1h",
		LowerTimeframe:  "15m",
		InitialBalance:  d("10000"),
	})
	require.NoError(t, err)
	return runner
}

func testRequest() RunRequest {
	return RunRequest{
		StartTS: runBase + 600*lowerStepMs,
		EndTS:   runBase + int64(lowerBarCount)*lowerStepMs,
	}
}

func TestExecuteProducesConsistentResult(t *testing.T) {
	runner := newTestRunner(t)
	res, err := runner.Execute(context.Background(), testRequest())
	require.NoError(t, err)

	stats := res.Run.Stats
	assert.Equal(t, RunStatusDone, res.Run.Status)
	assert.Equal(t, len(res.Trades), stats.Trades)
	assert.Equal(t, stats.Trades, stats.Wins+stats.Losses)
	assert.Greater(t, stats.Bars, 0)
	require.NotEmpty(t, res.Equity)

	// 资金守恒：期末资金 = 期初 + 全部净盈亏
	sum := decimal.Zero
	for _, tr := range res.Trades {
		sum = sum.Add(tr.NetPnL)
	}
	assert.InDelta(t, 10000+sum.InexactFloat64(), stats.FinalBalance, 1e-6)
	assert.InDelta(t, stats.FinalBalance-stats.InitialBalance, stats.Profit, 1e-6)

	// 资金曲线时间严格递增
	for i := 1; i < len(res.Equity); i++ {
		assert.Greater(t, res.Equity[i].TS, res.Equity[i-1].TS)
	}

	// 窗口结束后不存在未了结仓位：每笔都有出场原因
	for _, tr := range res.Trades {
		assert.Contains(t, []string{engine.ExitStopLoss, engine.ExitTakeProfit, engine.ExitEndOfPeriod}, tr.ExitReason)
	}
}

func TestExecuteIsDeterministic(t *testing.T) {
	runner := newTestRunner(t)
	req := testRequest()

	first, err := runner.Execute(context.Background(), req)
	require.NoError(t, err)
	second, err := runner.Execute(context.Background(), req)
	require.NoError(t, err)

	require.Equal(t, len(first.Trades), len(second.Trades))
	for i := range first.Trades {
		a, b := first.Trades[i], second.Trades[i]
		assert.Equal(t, a.Symbol, b.Symbol)
		assert.Equal(t, a.Side, b.Side)
		assert.Equal(t, a.ExitReason, b.ExitReason)
		assert.True(t, a.EntryPrice.Equal(b.EntryPrice))
		assert.True(t, a.ExitPrice.Equal(b.ExitPrice))
		assert.True(t, a.NetPnL.Equal(b.NetPnL))
		assert.True(t, a.EntryTime.Equal(b.EntryTime))
	}
	assert.Equal(t, first.Run.Stats.FinalBalance, second.Run.Stats.FinalBalance)
	assert.Equal(t, first.Run.Stats.MaxDrawdownPct, second.Run.Stats.MaxDrawdownPct)
}

func TestExecuteRejectsBadRange(t *testing.T) {
	runner := newTestRunner(t)
	_, err := runner.Execute(context.Background(), RunRequest{StartTS: 100, EndTS: 50})
	require.Error(t, err)
}

func TestSweepRunsEveryCombination(t *testing.T) {
	runner := newTestRunner(t)
	cells, err := runner.Sweep(context.Background(), SweepRequest{
		Base:          testRequest(),
		StopLossMults: []float64{1.5, 2.0},
		TakeProfits:   []float64{2.0, 3.0},
		MaxConcurrent: 2,
	})
	require.NoError(t, err)
	require.Len(t, cells, 4)
	for _, cell := range cells {
		assert.Empty(t, cell.Error)
		assert.Equal(t, cell.Stats.Trades, cell.Stats.Wins+cell.Stats.Losses)
	}
}
