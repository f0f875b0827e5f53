// Package sqlite 用 gorm + sqlite 持久化回测结果与实盘决策日志。
package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"volna/internal/backtest"
	"volna/internal/engine"
	"volna/internal/engine/signal"
	"volna/internal/store/model"
)

// ResultStore 回测与实盘结果库。
type ResultStore struct {
	db *gorm.DB
}

func NewResultStore(path string) (*ResultStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("result store requires db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&model.BacktestRunModel{},
		&model.BacktestTradeModel{},
		&model.LiveDecisionModel{},
	); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &ResultStore{db: db}, nil
}

func (s *ResultStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveResult 写入 run 元信息、逐笔成交与资金曲线。
func (s *ResultStore) SaveResult(ctx context.Context, res *backtest.Result) error {
	if res == nil {
		return fmt.Errorf("result is nil")
	}
	reqJSON, err := json.Marshal(res.Run.Request)
	if err != nil {
		return err
	}
	statsJSON, err := json.Marshal(res.Run.Stats)
	if err != nil {
		return err
	}
	equityJSON, err := json.Marshal(res.Equity)
	if err != nil {
		return err
	}
	row := model.BacktestRunModel{
		ID:             res.Run.ID,
		Status:         res.Run.Status,
		RequestJSON:    datatypes.JSON(reqJSON),
		StatsJSON:      datatypes.JSON(statsJSON),
		EquityJSON:     datatypes.JSON(equityJSON),
		Profit:         res.Run.Stats.Profit,
		ReturnPct:      res.Run.Stats.ReturnPct,
		WinRate:        res.Run.Stats.WinRate,
		MaxDrawdownPct: res.Run.Stats.MaxDrawdownPct,
		Trades:         res.Run.Stats.Trades,
		Message:        res.Run.Message,
		CreatedAtMs:    res.Run.CreatedAt.UnixMilli(),
		CompletedAtMs:  res.Run.CompletedAt.UnixMilli(),
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		for _, t := range res.Trades {
			tr := model.BacktestTradeModel{
				RunID:      res.Run.ID,
				Symbol:     t.Symbol,
				Side:       t.Side,
				EntryMs:    t.EntryTime.UnixMilli(),
				ExitMs:     t.ExitTime.UnixMilli(),
				EntryPrice: t.EntryPrice.String(),
				ExitPrice:  t.ExitPrice.String(),
				Quantity:   t.Quantity.String(),
				NetPnL:     t.NetPnL.String(),
				PnLPercent: t.PnLPercent.String(),
				ExitReason: t.ExitReason,
			}
			if err := tx.Create(&tr).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ListRuns 按创建时间倒序返回 run 摘要。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]backtest.Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var rows []model.BacktestRunModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]backtest.Run, 0, len(rows))
	for _, row := range rows {
		run, err := rowToRun(row)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// GetResult 取回完整结果（含成交与资金曲线）。
func (s *ResultStore) GetResult(ctx context.Context, id string) (*backtest.Result, error) {
	var row model.BacktestRunModel
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	run, err := rowToRun(row)
	if err != nil {
		return nil, err
	}
	res := &backtest.Result{Run: run}
	if len(row.EquityJSON) > 0 {
		if err := json.Unmarshal(row.EquityJSON, &res.Equity); err != nil {
			return nil, err
		}
	}
	var trades []model.BacktestTradeModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", id).Order("id ASC").Find(&trades).Error; err != nil {
		return nil, err
	}
	for _, t := range trades {
		rec, err := rowToTrade(t)
		if err != nil {
			return nil, err
		}
		res.Trades = append(res.Trades, rec)
	}
	return res, nil
}

// SaveLiveDecision 记录一次实盘扫描的信号结论。
func (s *ResultStore) SaveLiveDecision(ctx context.Context, sig signal.TradeSignal, phase string, entered bool) error {
	row := model.LiveDecisionModel{
		Symbol:     sig.Symbol,
		Action:     string(sig.Action),
		Confidence: sig.Confidence,
		ScoreBuy:   sig.ScoreBuy,
		ScoreSell:  sig.ScoreSell,
		Rationale:  sig.Rationale,
		Phase:      phase,
		Entered:    entered,
		CreatedMs:  time.Now().UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// ListLiveDecisions 最近的实盘决策，按时间倒序。
func (s *ResultStore) ListLiveDecisions(ctx context.Context, symbol string, limit int) ([]model.LiveDecisionModel, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if symbol != "" {
		q = q.Where("symbol = ?", strings.ToUpper(symbol))
	}
	var rows []model.LiveDecisionModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func rowToRun(row model.BacktestRunModel) (backtest.Run, error) {
	run := backtest.Run{
		ID:      row.ID,
		Status:  row.Status,
		Message: row.Message,
	}
	if len(row.RequestJSON) > 0 {
		if err := json.Unmarshal(row.RequestJSON, &run.Request); err != nil {
			return backtest.Run{}, err
		}
	}
	if len(row.StatsJSON) > 0 {
		if err := json.Unmarshal(row.StatsJSON, &run.Stats); err != nil {
			return backtest.Run{}, err
		}
	}
	if row.CreatedAtMs > 0 {
		run.CreatedAt = time.UnixMilli(row.CreatedAtMs)
	}
	if row.CompletedAtMs > 0 {
		run.CompletedAt = time.UnixMilli(row.CompletedAtMs)
	}
	return run, nil
}

func rowToTrade(t model.BacktestTradeModel) (engine.TradeRecord, error) {
	rec := engine.TradeRecord{
		Symbol:     t.Symbol,
		Side:       t.Side,
		EntryTime:  time.UnixMilli(t.EntryMs),
		ExitTime:   time.UnixMilli(t.ExitMs),
		ExitReason: t.ExitReason,
	}
	for _, f := range []struct {
		src string
		dst *decimal.Decimal
	}{
		{t.EntryPrice, &rec.EntryPrice},
		{t.ExitPrice, &rec.ExitPrice},
		{t.Quantity, &rec.Quantity},
		{t.NetPnL, &rec.NetPnL},
		{t.PnLPercent, &rec.PnLPercent},
	} {
		v, err := decimal.NewFromString(f.src)
		if err != nil {
			return engine.TradeRecord{}, fmt.Errorf("trade %d has bad decimal %q: %w", t.ID, f.src, err)
		}
		*f.dst = v
	}
	return rec, nil
}
