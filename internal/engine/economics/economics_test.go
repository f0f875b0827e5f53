package economics

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestViableTradePasses(t *testing.T) {
	f := NewFilter(d("0.0005"), d("3"))

	// entry 100 -> target 106, 1 lot x 10
	// notional 1000, commission 1, gross 60, net 59, ratio 60
	a := f.Assess(d("100"), d("106"), 1, 10)
	assert.True(t, a.Viable)
	assert.True(t, a.Commission.Equal(d("1")))
	assert.True(t, a.GrossProfit.Equal(d("60")))
	assert.True(t, a.NetProfit.Equal(d("59")))
	assert.True(t, a.ProfitRatio.Equal(d("60")))
}

func TestRatioBoundary(t *testing.T) {
	f := NewFilter(d("0.001"), d("3"))

	// notional 1000, commission 2; gross 6 -> ratio 恰为 3，放行
	a := f.Assess(d("100"), d("100.6"), 1, 10)
	assert.True(t, a.Viable, a.Reason)
	assert.True(t, a.ProfitRatio.Equal(d("3")))

	// gross 5.9 -> ratio 2.95，拒绝
	a = f.Assess(d("100"), d("100.59"), 1, 10)
	assert.False(t, a.Viable)
	assert.Contains(t, a.Reason, "ratio")
}

func TestNetProfitMustBePositive(t *testing.T) {
	f := NewFilter(d("0.01"), d("0"))

	// commission 20, gross 10 -> net -10
	a := f.Assess(d("100"), d("101"), 1, 10)
	assert.False(t, a.Viable)
	assert.Contains(t, a.Reason, "not positive")

	// target == entry：零利润同样拒绝
	a = f.Assess(d("100"), d("100"), 1, 10)
	assert.False(t, a.Viable)
}

func TestZeroCommissionRatioIsCapped(t *testing.T) {
	f := NewFilter(d("0"), d("3"))
	a := f.Assess(d("100"), d("100.01"), 1, 1)
	assert.True(t, a.Viable)
	assert.True(t, a.ProfitRatio.Equal(d("100")))
}

func TestShortDirectionUsesAbsoluteMove(t *testing.T) {
	f := NewFilter(d("0.0005"), d("3"))
	a := f.Assess(d("100"), d("94"), 1, 10)
	assert.True(t, a.Viable)
	assert.True(t, a.GrossProfit.Equal(d("60")))
}
