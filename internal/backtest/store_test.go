package backtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volna/internal/market"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mkBars(startMs, stepMs int64, n int) []market.Candle {
	out := make([]market.Candle, 0, n)
	for i := 0; i < n; i++ {
		ot := startMs + int64(i)*stepMs
		out = append(out, market.Candle{
			OpenTime:  ot,
			CloseTime: ot + stepMs - 1,
			Open:      100,
			High:      101,
			Low:       99,
			Close:     100.5,
			Volume:    10,
			Trades:    3,
		})
	}
	return out
}

func TestInsertAndRangeRoundTrip(t *testing.T) {
	store := newTempStore(t)
	ctx := context.Background()
	step := int64(60_000)

	bars := mkBars(1_000_000, step, 10)
	n, err := store.InsertBars(ctx, "sber", "1m", bars)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	got, err := store.RangeBars(ctx, "SBER", "1m", 1_000_000, 1_000_000+9*step)
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.Equal(t, bars[0], got[0])
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].OpenTime, got[i-1].OpenTime)
	}

	// 子区间
	got, err = store.RangeBars(ctx, "SBER", "1m", 1_000_000+2*step, 1_000_000+4*step)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestInsertBarsUpsertsOnConflict(t *testing.T) {
	store := newTempStore(t)
	ctx := context.Background()

	bars := mkBars(1_000_000, 60_000, 3)
	_, err := store.InsertBars(ctx, "SBER", "1m", bars)
	require.NoError(t, err)

	// 同一 open_time 重写应覆盖而不是追加
	bars[1].Close = 250
	_, err = store.InsertBars(ctx, "SBER", "1m", bars[1:2])
	require.NoError(t, err)

	got, err := store.RangeBars(ctx, "SBER", "1m", 1_000_000, 2_000_000)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 250.0, got[1].Close)
}

func TestCoverageTracksRange(t *testing.T) {
	store := newTempStore(t)
	ctx := context.Background()
	step := int64(60_000)

	_, err := store.InsertBars(ctx, "SBER", "1m", mkBars(1_000_000, step, 5))
	require.NoError(t, err)

	cov, err := store.Coverage(ctx, "SBER", "1m")
	require.NoError(t, err)
	assert.Equal(t, "SBER", cov.Symbol)
	assert.Equal(t, "1m", cov.Timeframe)
	assert.Equal(t, int64(1_000_000), cov.MinTime)
	assert.Equal(t, int64(1_000_000+4*step), cov.MaxTime)
	assert.Equal(t, int64(5), cov.Bars)
	assert.Greater(t, cov.LastSyncAt, int64(0))
}

func TestLatestOpenTime(t *testing.T) {
	store := newTempStore(t)
	ctx := context.Background()

	ts, err := store.LatestOpenTime(ctx, "SBER", "1m")
	require.NoError(t, err)
	assert.Zero(t, ts)

	_, err = store.InsertBars(ctx, "SBER", "1m", mkBars(1_000_000, 60_000, 2))
	require.NoError(t, err)
	ts, err = store.LatestOpenTime(ctx, "SBER", "1m")
	require.NoError(t, err)
	assert.Equal(t, int64(1_060_000), ts)
}

func TestTimeframesAreIsolated(t *testing.T) {
	store := newTempStore(t)
	ctx := context.Background()

	_, err := store.InsertBars(ctx, "SBER", "1m", mkBars(1_000_000, 60_000, 2))
	require.NoError(t, err)

	got, err := store.RangeBars(ctx, "SBER", "1h", 1, 10_000_000)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRangeBarsValidatesInput(t *testing.T) {
	store := newTempStore(t)
	ctx := context.Background()

	_, err := store.RangeBars(ctx, "SBER", "1m", 0, 100)
	assert.Error(t, err)
	_, err = store.RangeBars(ctx, "", "1m", 1, 100)
	assert.Error(t, err)
}
