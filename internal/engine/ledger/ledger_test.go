package ledger

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestOpenClosePreservesCapital(t *testing.T) {
	l := New(d("10000"))

	ok := l.OpenPosition(d("3000"), d("1.5"))
	require.True(t, ok)

	snap := l.Snapshot()
	assert.True(t, snap.Available.Equal(d("6998.5")), "available=%s", snap.Available)
	assert.True(t, snap.Locked.Equal(d("3000")), "locked=%s", snap.Locked)
	assert.True(t, snap.Total.Equal(d("9998.5")), "total=%s", snap.Total)

	// 平仓：净盈亏 +120，占用资金归还
	l.ClosePosition(d("3000"), d("120"))
	snap = l.Snapshot()
	assert.True(t, snap.Locked.IsZero())
	assert.True(t, snap.Available.Equal(d("10118.5")))
	assert.True(t, snap.Total.Equal(snap.Available))
}

func TestOpenPositionRefusedLeavesStateUntouched(t *testing.T) {
	l := New(d("1000"))
	before := l.Snapshot()

	ok := l.OpenPosition(d("999.9"), d("0.2"))
	require.False(t, ok)

	after := l.Snapshot()
	assert.True(t, before.Available.Equal(after.Available))
	assert.True(t, before.Locked.Equal(after.Locked))
	assert.True(t, before.Total.Equal(after.Total))
	assert.True(t, before.Peak.Equal(after.Peak))
	assert.True(t, before.MaxDrawdown.Equal(after.MaxDrawdown))
}

func TestDrawdownTracksPeak(t *testing.T) {
	l := New(d("10000"))

	require.True(t, l.OpenPosition(d("2000"), d("1")))
	l.ClosePosition(d("2000"), d("500")) // total 10499
	snap := l.Snapshot()
	assert.True(t, snap.Peak.Equal(d("10499")))
	assert.True(t, snap.MaxDrawdown.Equal(d("1")), "maxDD=%s", snap.MaxDrawdown)

	require.True(t, l.OpenPosition(d("2000"), d("1")))
	l.ClosePosition(d("2000"), d("-1049.9")) // total 9448.1
	snap = l.Snapshot()
	assert.True(t, snap.Peak.Equal(d("10499")))
	assert.True(t, snap.MaxDrawdown.Equal(d("1050.9")))
	// 1050.9 / 10499 = 0.1001 (四位小数) -> 10.01%
	assert.True(t, snap.MaxDrawdownPercent.Equal(d("10.01")), "pct=%s", snap.MaxDrawdownPercent)

	// 回升不会缩小历史最大回撤
	require.True(t, l.OpenPosition(d("1000"), d("0")))
	l.ClosePosition(d("1000"), d("2000"))
	snap = l.Snapshot()
	assert.True(t, snap.MaxDrawdown.Equal(d("1050.9")))
}

func TestRandomizedRoundTripsConserveFunds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	l := New(d("50000"))
	realized := decimal.Zero
	commissions := decimal.Zero

	for i := 0; i < 500; i++ {
		amount := decimal.NewFromInt(rng.Int63n(4000) + 1)
		fee := amount.Mul(d("0.0005")).Round(8)
		if !l.OpenPosition(amount, fee) {
			continue
		}
		commissions = commissions.Add(fee)
		pnl := decimal.NewFromInt(rng.Int63n(200) - 100)
		l.ClosePosition(amount, pnl)
		realized = realized.Add(pnl)
	}

	snap := l.Snapshot()
	require.True(t, snap.Locked.IsZero())
	want := d("50000").Add(realized).Sub(commissions)
	assert.True(t, snap.Available.Equal(want), "available=%s want=%s", snap.Available, want)
	assert.True(t, snap.Total.Equal(want))
}

func TestConcurrentAdmissionNeverOverspends(t *testing.T) {
	l := New(d("10000"))

	var wg sync.WaitGroup
	granted := make([]bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			granted[idx] = l.OpenPosition(d("6000"), d("0"))
		}(i)
	}
	wg.Wait()

	// 两笔各 6000 的申请最多批准一笔
	assert.NotEqual(t, granted[0], granted[1])
	snap := l.Snapshot()
	assert.True(t, snap.Available.Equal(d("4000")))
	assert.True(t, snap.Locked.Equal(d("6000")))
	assert.True(t, snap.Total.Equal(d("10000")))
}
