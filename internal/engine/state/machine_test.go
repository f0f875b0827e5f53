package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnknownSymbolIsScanning(t *testing.T) {
	m := NewMachine(time.Hour)
	assert.Equal(t, Scanning, m.Phase("SBER"))
	assert.True(t, m.CanEnter("SBER"))
	assert.False(t, m.IsHeld("SBER"))
}

func TestHappyPathCycle(t *testing.T) {
	m := NewMachine(time.Hour)
	now := time.Unix(1_700_000_000, 0)
	m.SetNowFunc(func() time.Time { return now })

	require.NoError(t, m.Transition("SBER", EntryPending, "order-42"))
	assert.Equal(t, "order-42", m.Aux("SBER"))
	assert.False(t, m.CanEnter("SBER"))

	require.NoError(t, m.Transition("SBER", Active, ""))
	assert.True(t, m.IsHeld("SBER"))

	require.NoError(t, m.Transition("SBER", ExitPending, ""))
	assert.True(t, m.IsHeld("SBER"))

	require.NoError(t, m.Transition("SBER", Cooldown, CauseProfit))
	assert.Equal(t, Cooldown, m.Phase("SBER"))
	assert.Equal(t, CauseProfit, m.Aux("SBER"))
	assert.Equal(t, now.Add(time.Hour), m.CooldownUntil("SBER"))
}

func TestEntryPendingCanAbortToScanning(t *testing.T) {
	m := NewMachine(time.Hour)
	require.NoError(t, m.Transition("GAZP", EntryPending, "order-1"))
	require.NoError(t, m.Transition("GAZP", Scanning, ""))
	assert.Equal(t, Scanning, m.Phase("GAZP"))
	assert.Empty(t, m.Aux("GAZP"))
}

func TestInvalidTransitionsRejectedStateUnchanged(t *testing.T) {
	m := NewMachine(time.Hour)

	err := m.Transition("SBER", Active, "") // SCANNING -> ACTIVE 不允许
	var inv *ErrInvalidTransition
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, Scanning, inv.From)
	assert.Equal(t, Scanning, m.Phase("SBER"))

	require.NoError(t, m.Transition("SBER", EntryPending, ""))
	require.Error(t, m.Transition("SBER", Cooldown, CauseLoss))
	assert.Equal(t, EntryPending, m.Phase("SBER"))
}

func TestCooldownExpiresLazily(t *testing.T) {
	m := NewMachine(30 * time.Minute)
	now := time.Unix(1_700_000_000, 0)
	m.SetNowFunc(func() time.Time { return now })

	require.NoError(t, m.Transition("SBER", EntryPending, ""))
	require.NoError(t, m.Transition("SBER", Active, ""))
	require.NoError(t, m.Transition("SBER", ExitPending, ""))
	require.NoError(t, m.Transition("SBER", Cooldown, CauseLoss))

	now = now.Add(29 * time.Minute)
	assert.Equal(t, Cooldown, m.Phase("SBER"))
	assert.False(t, m.CanEnter("SBER"))

	// 到期后首次读取即转回 SCANNING，无需显式迁移
	now = now.Add(time.Minute)
	assert.Equal(t, Scanning, m.Phase("SBER"))
	assert.True(t, m.CooldownUntil("SBER").IsZero())
	assert.Empty(t, m.Aux("SBER"))

	// 到期后可直接重新进入
	require.NoError(t, m.Transition("SBER", EntryPending, ""))
}

func TestResetToScanningAlwaysLegal(t *testing.T) {
	m := NewMachine(time.Hour)
	require.NoError(t, m.Transition("SBER", EntryPending, ""))
	require.NoError(t, m.Transition("SBER", Active, ""))

	m.ResetToScanning("SBER")
	assert.Equal(t, Scanning, m.Phase("SBER"))

	m.ResetToScanning("NEVERSEEN")
	assert.Equal(t, Scanning, m.Phase("NEVERSEEN"))
}

func TestPhasesSnapshot(t *testing.T) {
	m := NewMachine(time.Hour)
	require.NoError(t, m.Transition("SBER", EntryPending, ""))
	require.NoError(t, m.Transition("GAZP", EntryPending, ""))
	require.NoError(t, m.Transition("GAZP", Active, ""))

	got := m.Phases()
	assert.Equal(t, EntryPending, got["SBER"])
	assert.Equal(t, Active, got["GAZP"])
}
