package backtest

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (c *capturingNotifier) SendText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return nil
}

func (c *capturingNotifier) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func TestRunCompletionNotifies(t *testing.T) {
	runner := newTestRunner(t)
	sim := NewSimulator(runner, nil, 1)
	note := &capturingNotifier{}
	sim.SetNotifier(note)

	run, err := sim.StartRun(testRequest())
	require.NoError(t, err)

	deadline := time.Now().Add(15 * time.Second)
	for len(note.messages()) == 0 {
		got, ok := sim.Run(run.ID)
		require.True(t, ok)
		require.NotEqual(t, RunStatusFailed, got.Status, "run failed: %s", got.Message)
		require.True(t, time.Now().Before(deadline), "no notification before deadline")
		time.Sleep(20 * time.Millisecond)
	}

	msgs := note.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "回测完成")
	assert.Contains(t, msgs[0], run.ID)

	got, ok := sim.Run(run.ID)
	require.True(t, ok)
	assert.Equal(t, RunStatusDone, got.Status)
}
