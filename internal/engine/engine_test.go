package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quorum/internal/allocation"
	"github.com/aristath/quorum/internal/bus"
	"github.com/aristath/quorum/internal/coordination"
	"github.com/aristath/quorum/internal/domain"
	"github.com/aristath/quorum/internal/weights"
)

func newTestEngine(t *testing.T) (*Engine, *bus.Bus) {
	t.Helper()

	b := bus.New(bus.Config{
		MailboxCapacity: 32,
		Workers:         2,
	})
	b.Start()
	t.Cleanup(b.Stop)

	adjuster := weights.New(weights.DefaultConfig())
	coordinator := coordination.New(coordination.DefaultConfig(), adjuster)
	allocator := allocation.New(allocation.Config{Method: allocation.MethodTactical})

	e := New(Config{
		CycleInterval:     time.Hour, // Cycles driven manually in tests
		RebalanceInterval: time.Hour,
	}, b, coordinator, adjuster, allocator)
	require.NoError(t, e.Start())
	t.Cleanup(e.Stop)

	return e, b
}

func sendOpinion(t *testing.T, b *bus.Bus, agent, symbol, action string, confidence, size float64) {
	t.Helper()
	_, err := b.Send(agent, bus.TypeDecision, map[string]interface{}{
		"symbol":        symbol,
		"action":        action,
		"confidence":    confidence,
		"position_size": size,
	}, &bus.SendOptions{Recipient: AgentID})
	require.NoError(t, err)
}

func TestEngineCycleFusesAndBroadcasts(t *testing.T) {
	e, b := newTestEngine(t)

	require.NoError(t, b.Register("momentum", nil))
	require.NoError(t, b.Register("meanrev", nil))

	sendOpinion(t, b, "momentum", "AAPL", "buy", 0.8, 0.10)
	sendOpinion(t, b, "meanrev", "AAPL", "buy", 0.6, 0.06)
	require.Equal(t, 2, e.PendingMessages())

	result := e.RunCycle()
	require.Len(t, result.Decisions, 1)
	assert.Equal(t, "AAPL", result.Decisions[0].Symbol)
	assert.Equal(t, domain.ActionBuy, result.Decisions[0].Action)
	assert.Equal(t, 2, result.Opinions)

	require.NotNil(t, result.Allocation)
	assert.Positive(t, result.Allocation.Weights["AAPL"])

	// The allocation broadcast lands in every other agent's mailbox.
	require.NoError(t, b.Subscribe("momentum", bus.TypeAllocationUpdate, nil))
	sendOpinion(t, b, "momentum", "AAPL", "buy", 0.8, 0.10)
	sendOpinion(t, b, "meanrev", "AAPL", "buy", 0.6, 0.06)
	e.RunCycle()

	msg, err := b.Receive("momentum", time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, bus.TypeAllocationUpdate, msg.Type)
	assert.Equal(t, AgentID, msg.Sender)

	assert.Equal(t, 2, e.Cycles())
	assert.Equal(t, 0, e.PendingMessages())
	assert.NotNil(t, e.LastResult())
}

func TestEngineCycleDrainsMailbox(t *testing.T) {
	e, b := newTestEngine(t)

	require.NoError(t, b.Register("momentum", nil))
	require.NoError(t, b.Register("meanrev", nil))

	sendOpinion(t, b, "momentum", "MSFT", "buy", 0.9, 0.1)
	sendOpinion(t, b, "meanrev", "MSFT", "buy", 0.7, 0.1)

	first := e.RunCycle()
	require.Len(t, first.Decisions, 1)

	// Second cycle has nothing to fuse and produces no allocation.
	second := e.RunCycle()
	assert.Empty(t, second.Decisions)
	assert.Nil(t, second.Allocation)
}

func TestEngineDropsMalformedOpinion(t *testing.T) {
	e, b := newTestEngine(t)

	require.NoError(t, b.Register("momentum", nil))

	// No symbol, no action.
	_, err := b.Send("momentum", bus.TypeDecision, map[string]interface{}{
		"confidence": 0.9,
	}, &bus.SendOptions{Recipient: AgentID})
	require.NoError(t, err)

	result := e.RunCycle()
	assert.Empty(t, result.Decisions)
	assert.Zero(t, result.Opinions)
}

func TestEnginePerformanceUpdateFlowsToAdjuster(t *testing.T) {
	e, b := newTestEngine(t)

	require.NoError(t, b.Register("momentum", nil))

	_, err := b.Send("momentum", bus.TypePerformanceUpdate, map[string]interface{}{
		"return": 0.04,
	}, &bus.SendOptions{Recipient: AgentID})
	require.NoError(t, err)

	e.RunCycle()

	window := e.adjuster.Window("momentum")
	require.Len(t, window, 1)
	assert.InDelta(t, 0.04, window[0], 1e-12)

	history := e.coordinator.AgentPerformance("momentum")
	require.Len(t, history, 1)
	assert.InDelta(t, 0.04, history[0], 1e-12)
}

func TestEngineMarketDataFeedsAllocator(t *testing.T) {
	e, b := newTestEngine(t)

	require.NoError(t, b.Register("momentum", nil))
	require.NoError(t, b.Register("meanrev", nil))

	_, err := b.Send("momentum", bus.TypeMarketData, map[string]interface{}{
		"symbol":          "AAPL",
		"expected_return": 0.08,
		"volatility":      0.25,
	}, &bus.SendOptions{Recipient: AgentID})
	require.NoError(t, err)

	sendOpinion(t, b, "momentum", "AAPL", "buy", 0.8, 0.1)
	sendOpinion(t, b, "meanrev", "AAPL", "buy", 0.7, 0.1)

	result := e.RunCycle()
	require.NotNil(t, result.Allocation)
	assert.Positive(t, result.Allocation.Weights["AAPL"])
}

func TestEngineReceivesBroadcastOpinions(t *testing.T) {
	e, b := newTestEngine(t)

	require.NoError(t, b.Register("momentum", nil))
	require.NoError(t, b.Register("meanrev", nil))

	// Broadcasts of subscribed types reach the engine's mailbox.
	for _, agent := range []string{"momentum", "meanrev"} {
		_, err := b.Broadcast(agent, bus.TypeDecision, map[string]interface{}{
			"symbol":     "NVDA",
			"action":     "buy",
			"confidence": 0.9,
		}, nil)
		require.NoError(t, err)
	}

	result := e.RunCycle()
	require.Len(t, result.Decisions, 1)
	assert.Equal(t, "NVDA", result.Decisions[0].Symbol)
}

func TestEngineScheduledCycle(t *testing.T) {
	b := bus.New(bus.Config{MailboxCapacity: 8, Workers: 1})
	b.Start()
	t.Cleanup(b.Stop)

	adjuster := weights.New(weights.DefaultConfig())
	coordinator := coordination.New(coordination.DefaultConfig(), adjuster)
	allocator := allocation.New(allocation.Config{Method: allocation.MethodTactical})

	e := New(Config{
		CycleInterval:     50 * time.Millisecond,
		RebalanceInterval: time.Hour,
	}, b, coordinator, adjuster, allocator)
	require.NoError(t, e.Start())
	t.Cleanup(e.Stop)

	require.Eventually(t, func() bool {
		return e.Cycles() >= 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestEngineStartIdempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.Start())
	e.Stop()
	e.Stop()
}
