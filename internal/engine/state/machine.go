// Package state 实现每标的交易状态机。
// SCANNING -> ENTRY_PENDING -> ACTIVE -> EXIT_PENDING -> COOLDOWN -> SCANNING
// 冷却到期不靠定时器，读取状态时惰性判定。
package state

import (
	"fmt"
	"sync"
	"time"
)

// Phase 标的所处阶段。
type Phase string

const (
	Scanning     Phase = "SCANNING"
	EntryPending Phase = "ENTRY_PENDING"
	Active       Phase = "ACTIVE"
	ExitPending  Phase = "EXIT_PENDING"
	Cooldown     Phase = "COOLDOWN"
)

// ErrInvalidTransition 非法状态迁移。
type ErrInvalidTransition struct {
	Symbol string
	From   Phase
	To     Phase
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("%s: invalid transition %s -> %s", e.Symbol, e.From, e.To)
}

var allowed = map[Phase]map[Phase]bool{
	Scanning:     {EntryPending: true},
	EntryPending: {Active: true, Scanning: true},
	Active:       {ExitPending: true},
	ExitPending:  {Cooldown: true},
	Cooldown:     {Scanning: true},
}

// 冷却原因
const (
	CauseLoss   = "LOSS"
	CauseProfit = "PROFIT"
)

type entry struct {
	phase         Phase
	aux           string
	cooldownUntil time.Time
	updatedAt     time.Time
}

// Machine 管理全部标的的状态。未见过的 symbol 视为 SCANNING。
type Machine struct {
	mu      sync.Mutex
	states  map[string]*entry
	nowFn   func() time.Time
	timeout time.Duration
}

// NewMachine timeout 为冷却时长。
func NewMachine(cooldown time.Duration) *Machine {
	return &Machine{
		states:  make(map[string]*entry),
		nowFn:   time.Now,
		timeout: cooldown,
	}
}

// SetNowFunc 注入时钟，回测用。
func (m *Machine) SetNowFunc(fn func() time.Time) {
	m.mu.Lock()
	m.nowFn = fn
	m.mu.Unlock()
}

// Phase 返回当前阶段。COOLDOWN 到期的标的在此处转回 SCANNING。
func (m *Machine) Phase(symbol string) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phaseLocked(symbol)
}

func (m *Machine) phaseLocked(symbol string) Phase {
	e, ok := m.states[symbol]
	if !ok {
		return Scanning
	}
	if e.phase == Cooldown && !m.nowFn().Before(e.cooldownUntil) {
		e.phase = Scanning
		e.aux = ""
		e.cooldownUntil = time.Time{}
		e.updatedAt = m.nowFn()
	}
	return e.phase
}

// Transition 执行一次迁移；非法迁移返回错误且状态不变。
// 迁入 COOLDOWN 时登记到期时间。aux 携带挂单引用（ENTRY_PENDING）
// 或冷却原因（COOLDOWN，LOSS/PROFIT），其余迁移传空。
func (m *Machine) Transition(symbol string, to Phase, aux string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.phaseLocked(symbol)
	if !allowed[from][to] {
		return &ErrInvalidTransition{Symbol: symbol, From: from, To: to}
	}
	e, ok := m.states[symbol]
	if !ok {
		e = &entry{}
		m.states[symbol] = e
	}
	now := m.nowFn()
	e.phase = to
	e.aux = aux
	e.updatedAt = now
	if to == Cooldown {
		e.cooldownUntil = now.Add(m.timeout)
	} else {
		e.cooldownUntil = time.Time{}
	}
	return nil
}

// Aux 返回当前阶段的附加信息（挂单引用或冷却原因）。
func (m *Machine) Aux(symbol string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phaseLocked(symbol)
	if e, ok := m.states[symbol]; ok {
		return e.aux
	}
	return ""
}

// ResetToScanning 无条件复位。用于状态与持仓不一致时的自愈。
func (m *Machine) ResetToScanning(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.states[symbol]
	if !ok {
		e = &entry{}
		m.states[symbol] = e
	}
	e.phase = Scanning
	e.aux = ""
	e.cooldownUntil = time.Time{}
	e.updatedAt = m.nowFn()
}

// CanEnter 仅在 SCANNING 阶段允许发起新入场。
func (m *Machine) CanEnter(symbol string) bool {
	return m.Phase(symbol) == Scanning
}

// IsHeld 持仓中（ACTIVE 或 EXIT_PENDING）。
func (m *Machine) IsHeld(symbol string) bool {
	p := m.Phase(symbol)
	return p == Active || p == ExitPending
}

// CooldownUntil 冷却到期时间；非冷却状态返回零值。
func (m *Machine) CooldownUntil(symbol string) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.states[symbol]; ok && e.phase == Cooldown {
		return e.cooldownUntil
	}
	return time.Time{}
}

// Phases 返回所有已登记标的的当前阶段（惰性判定冷却到期后）。
func (m *Machine) Phases() map[string]Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Phase, len(m.states))
	for sym := range m.states {
		out[sym] = m.phaseLocked(sym)
	}
	return out
}
