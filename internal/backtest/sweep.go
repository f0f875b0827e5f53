package backtest

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"volna/internal/logger"
)

// SweepRequest ATR 倍数网格扫描：对每组 (止损, 止盈) 组合独立回测。
type SweepRequest struct {
	Base          RunRequest `json:"base"`
	StopLossMults []float64  `json:"stop_loss_mults"`
	TakeProfits   []float64  `json:"take_profit_mults"`
	MaxConcurrent int        `json:"max_concurrent"`
}

// SweepCell 网格中一个参数组合的结果摘要。
type SweepCell struct {
	StopLossATRMult   float64  `json:"stop_loss_atr_mult"`
	TakeProfitATRMult float64  `json:"take_profit_atr_mult"`
	Stats             RunStats `json:"stats"`
	Error             string   `json:"error,omitempty"`
}

// Sweep 并行执行参数网格。每个组合有自己独立的资金账本和状态机，
// 组合之间不存在资金争用，可安全并行；组合内部仍是确定性串行回放。
func (r *Runner) Sweep(ctx context.Context, req SweepRequest) ([]SweepCell, error) {
	if len(req.StopLossMults) == 0 || len(req.TakeProfits) == 0 {
		return nil, fmt.Errorf("sweep requires at least one multiplier per axis")
	}
	maxConcurrent := req.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	type combo struct{ sl, tp float64 }
	combos := make([]combo, 0, len(req.StopLossMults)*len(req.TakeProfits))
	for _, sl := range req.StopLossMults {
		for _, tp := range req.TakeProfits {
			combos = append(combos, combo{sl: sl, tp: tp})
		}
	}

	cells := make([]SweepCell, len(combos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i, c := range combos {
		i, c := i, c
		g.Go(func() error {
			runReq := req.Base
			runReq.StopLossATRMult = c.sl
			runReq.TakeProfitATRMult = c.tp
			cell := SweepCell{StopLossATRMult: c.sl, TakeProfitATRMult: c.tp}
			res, err := r.Execute(gctx, runReq)
			if err != nil {
				cell.Error = err.Error()
				logger.Warnf("sweep cell sl=%.2f tp=%.2f failed: %v", c.sl, c.tp, err)
			} else {
				cell.Stats = res.Run.Stats
			}
			cells[i] = cell
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// 收益降序方便直接取最优
	sort.SliceStable(cells, func(a, b int) bool { return cells[a].Stats.Profit > cells[b].Stats.Profit })
	return cells, nil
}
