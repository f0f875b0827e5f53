package protect

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volna/internal/market"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

var testParams = Params{
	StopLossATRMult:      d("2"),
	TakeProfitATRMult:    d("3"),
	BreakevenATRMult:     d("1"),
	BreakevenOffsetSteps: 5,
}

func TestRoundToStep(t *testing.T) {
	cases := []struct {
		price, step, want string
	}{
		{"100.12", "0.1", "100.1"},
		{"100.15", "0.1", "100.2"}, // 四舍五入（half up）
		{"100.14999", "0.1", "100.1"},
		{"263.7", "0.5", "263.5"},
		{"263.75", "0.5", "264"},
		{"99.999", "1", "100"},
		{"-1.26", "0.05", "-1.25"},
	}
	for _, c := range cases {
		got := RoundToStep(d(c.price), d(c.step))
		assert.True(t, got.Equal(d(c.want)), "round(%s, %s) = %s, want %s", c.price, c.step, got, c.want)
	}
}

func TestInitialLevelsLongShort(t *testing.T) {
	lv, err := Initial(market.SideLong, d("100"), d("2"), d("0.1"), testParams)
	require.NoError(t, err)
	assert.True(t, lv.StopLoss.Equal(d("96")))
	assert.True(t, lv.TakeProfit.Equal(d("106")))

	lv, err = Initial(market.SideShort, d("100"), d("2"), d("0.1"), testParams)
	require.NoError(t, err)
	assert.True(t, lv.StopLoss.Equal(d("104")))
	assert.True(t, lv.TakeProfit.Equal(d("94")))
}

func TestInitialRejectsZeroATR(t *testing.T) {
	_, err := Initial(market.SideLong, d("100"), d("0"), d("0.1"), testParams)
	require.ErrorIs(t, err, ErrNoVolatility)
}

func TestAdvanceBreakevenThenPins(t *testing.T) {
	entry, atr, step := d("100"), d("2"), d("0.1")
	stop := d("96")

	// 浮盈不足且跟踪价 97.5 未越过保本线 100.5：不动
	next, moved, err := Advance(market.SideLong, entry, d("101.5"), atr, stop, step, testParams)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.True(t, next.Equal(stop))

	// 浮盈达到 1*ATR：抬到保本价 100.5
	next, moved, err = Advance(market.SideLong, entry, d("102"), atr, stop, step, testParams)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.True(t, next.Equal(d("100.5")), "stop=%s", next)
	stop = next

	// 价格继续走远：止损钉在保本价，不再跟随
	next, moved, err = Advance(market.SideLong, entry, d("105"), atr, stop, step, testParams)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.True(t, next.Equal(d("100.5")))
}

func TestAdvanceTrailsBeforeBreakevenTrigger(t *testing.T) {
	// 跟踪距离比触发线近时，触发前的常规跟踪就能收紧止损
	tight := Params{
		StopLossATRMult:      d("0.5"),
		TakeProfitATRMult:    d("3"),
		BreakevenATRMult:     d("1"),
		BreakevenOffsetSteps: 5,
	}
	entry, atr, step := d("100"), d("2"), d("0.1")
	stop := d("96")

	// 浮盈 1.8 未触发保本；跟踪价 100.8 已越过保本线 100.5
	next, moved, err := Advance(market.SideLong, entry, d("101.8"), atr, stop, step, tight)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.True(t, next.Equal(d("100.8")), "stop=%s", next)
	stop = next

	// 回撤：候选 100 不高于现有止损，不动
	next, moved, err = Advance(market.SideLong, entry, d("101"), atr, stop, step, tight)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.True(t, next.Equal(d("100.8")))

	// 触发保本后保本价 100.5 低于现有止损，也不放松
	next, moved, err = Advance(market.SideLong, entry, d("102"), atr, stop, step, tight)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.True(t, next.Equal(d("100.8")))
}

func TestAdvanceShortMirrors(t *testing.T) {
	entry, atr, step := d("100"), d("2"), d("0.1")
	stop := d("104")

	// 浮盈达到 1*ATR：压到保本价 99.5
	next, moved, err := Advance(market.SideShort, entry, d("98"), atr, stop, step, testParams)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.True(t, next.Equal(d("99.5")), "stop=%s", next)
	stop = next

	// 继续下行：钉在保本价
	next, moved, err = Advance(market.SideShort, entry, d("95"), atr, stop, step, testParams)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.True(t, next.Equal(d("99.5")))

	// 触发前的常规跟踪（跟踪距离 0.5*ATR）
	tight := Params{
		StopLossATRMult:      d("0.5"),
		TakeProfitATRMult:    d("3"),
		BreakevenATRMult:     d("1"),
		BreakevenOffsetSteps: 5,
	}
	next, moved, err = Advance(market.SideShort, entry, d("98.2"), atr, d("104"), step, tight)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.True(t, next.Equal(d("99.2")), "stop=%s", next)
}

func TestAdvanceNeverLoosens(t *testing.T) {
	entry, atr, step := d("100"), d("2"), d("0.1")
	stop := d("96")
	prices := []string{"102", "103.3", "104.8", "103.1", "106.4", "105", "108.2"}
	for _, p := range prices {
		next, _, err := Advance(market.SideLong, entry, d(p), atr, stop, step, testParams)
		require.NoError(t, err)
		assert.True(t, next.GreaterThanOrEqual(stop), "stop loosened at price %s: %s < %s", p, next, stop)
		stop = next
	}
}

func TestAdvanceZeroATR(t *testing.T) {
	stop := d("96")
	next, moved, err := Advance(market.SideLong, d("100"), d("105"), d("0"), stop, d("0.1"), testParams)
	require.ErrorIs(t, err, ErrNoVolatility)
	assert.False(t, moved)
	assert.True(t, next.Equal(stop))
}

func TestTriggered(t *testing.T) {
	stopHit, takeHit := Triggered(market.SideLong, d("95.9"), d("96"), d("106"))
	assert.True(t, stopHit)
	assert.False(t, takeHit)

	stopHit, takeHit = Triggered(market.SideLong, d("106"), d("96"), d("106"))
	assert.False(t, stopHit)
	assert.True(t, takeHit)

	stopHit, takeHit = Triggered(market.SideShort, d("104.2"), d("104"), d("94"))
	assert.True(t, stopHit)
	assert.False(t, takeHit)
}
