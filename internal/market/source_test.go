package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterClosedBefore(t *testing.T) {
	candles := []Candle{
		{CloseTime: 100},
		{CloseTime: 200},
		{CloseTime: 300},
	}

	assert.Len(t, FilterClosedBefore(candles, 300), 3)
	assert.Len(t, FilterClosedBefore(candles, 250), 2)
	assert.Len(t, FilterClosedBefore(candles, 99), 0)
	assert.Empty(t, FilterClosedBefore(nil, 100))
}

func TestOppositeSide(t *testing.T) {
	assert.Equal(t, SideShort, OppositeSide(SideLong))
	assert.Equal(t, SideLong, OppositeSide(SideShort))
	assert.Equal(t, "weird", OppositeSide("weird"))
}
