package universe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "universe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validUniverse = `instruments:
  sber:
    name: Sberbank
    lot_size: 10
    price_step: "0.01"
  GAZP:
    name: Gazprom
    lot_size: 10
    price_step: "0.01"
  LKOH:
    name: Lukoil
    lot_size: 1
    price_step: "0.5"
    disabled: true
`

func TestRegistryLoadsAndOrders(t *testing.T) {
	r, err := NewRegistry(writeFile(t, validUniverse))
	require.NoError(t, err)

	snap := r.Snapshot()
	assert.Equal(t, int64(1), snap.Version)
	assert.Len(t, snap.Instruments, 3)

	// Ordered 按 symbol 升序且跳过停用标的
	ordered := snap.Ordered()
	require.Len(t, ordered, 2)
	assert.Equal(t, "GAZP", ordered[0].Symbol)
	assert.Equal(t, "SBER", ordered[1].Symbol)

	// symbol 大小写不敏感，小写 key 归一为大写
	inst, ok := r.Instrument("sber")
	require.True(t, ok)
	assert.Equal(t, "SBER", inst.Symbol)
	assert.True(t, inst.Step().Equal(decimal.RequireFromString("0.01")))

	_, ok = r.Instrument("UNKNOWN")
	assert.False(t, ok)
}

func TestRegistryRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"missing lot_size": `instruments:
  SBER:
    price_step: "0.01"
`,
		"zero lot_size": `instruments:
  SBER:
    lot_size: 0
    price_step: "0.01"
`,
		"empty instruments": `instruments: {}
`,
		"missing instruments": `other: 1
`,
	}
	for name, content := range cases {
		_, err := NewRegistry(writeFile(t, content))
		assert.Error(t, err, name)
	}
}

func TestRegistryRejectsBadPriceStep(t *testing.T) {
	_, err := NewRegistry(writeFile(t, `instruments:
  SBER:
    lot_size: 10
    price_step: "abc"
`))
	require.Error(t, err)

	_, err = NewRegistry(writeFile(t, `instruments:
  SBER:
    lot_size: 10
    price_step: "-0.01"
`))
	require.Error(t, err)
}

func TestNewInstrumentNormalizesSymbol(t *testing.T) {
	inst := NewInstrument(" ethusdt ", "Ethereum", 1, decimal.RequireFromString("0.01"))
	assert.Equal(t, "ETHUSDT", inst.Symbol)
	assert.Equal(t, "0.01", inst.PriceStep)
	assert.True(t, inst.Step().Equal(decimal.RequireFromString("0.01")))
}

func TestSnapshotIsACopy(t *testing.T) {
	r, err := NewRegistry(writeFile(t, validUniverse))
	require.NoError(t, err)

	snap := r.Snapshot()
	delete(snap.Instruments, "SBER")

	_, ok := r.Instrument("SBER")
	assert.True(t, ok, "mutating a snapshot must not affect the registry")
}
