package adapterstate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bleflow/internal/device"
	"github.com/srg/bleflow/internal/testutils"
)

const waitTimeout = 2 * time.Second

func newStartedMonitor(t *testing.T, binding *testutils.FakeBinding) *Monitor {
	t.Helper()
	m := NewMonitor(binding, 10*time.Millisecond, nil)
	m.Start(context.Background())
	t.Cleanup(m.Stop)

	require.Eventually(t, func() bool {
		return m.Current() != device.StateUnknown
	}, waitTimeout, time.Millisecond, "monitor never observed the initial state")
	return m
}

func TestMonitorObservesInitialState(t *testing.T) {
	binding := testutils.NewBinding()
	m := newStartedMonitor(t, binding)

	assert.Equal(t, device.StatePoweredOn, m.Current())
	assert.True(t, m.Usable())
}

func TestMonitorTracksTransitions(t *testing.T) {
	binding := testutils.NewBinding()
	m := newStartedMonitor(t, binding)

	binding.SetState(device.StatePoweredOff)
	require.Eventually(t, func() bool {
		return m.Current() == device.StatePoweredOff
	}, waitTimeout, time.Millisecond)
	assert.False(t, m.Usable())

	binding.SetState(device.StatePoweredOn)
	require.Eventually(t, func() bool {
		return m.Current() == device.StatePoweredOn
	}, waitTimeout, time.Millisecond)
	assert.True(t, m.Usable())
}

func TestObserveEmitCurrent(t *testing.T) {
	binding := testutils.NewBinding()
	m := newStartedMonitor(t, binding)

	var (
		mu     sync.Mutex
		states []device.AdapterState
	)
	sub := m.Observe(func(s device.AdapterState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}, true)
	defer sub.Cancel()

	// The current state arrives synchronously, before any transition
	mu.Lock()
	require.Len(t, states, 1)
	assert.Equal(t, device.StatePoweredOn, states[0])
	mu.Unlock()
}

func TestObserversFireInRegistrationOrder(t *testing.T) {
	binding := testutils.NewBinding()
	m := newStartedMonitor(t, binding)

	var (
		mu    sync.Mutex
		order []int
	)
	record := func(id int) func(device.AdapterState) {
		return func(device.AdapterState) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
		}
	}

	first := m.Observe(record(1), false)
	defer first.Cancel()
	second := m.Observe(record(2), false)
	defer second.Cancel()

	binding.SetState(device.StatePoweredOff)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, waitTimeout, time.Millisecond)

	mu.Lock()
	assert.Equal(t, []int{1, 2}, order)
	mu.Unlock()
}

func TestSubscriptionCancelStopsDelivery(t *testing.T) {
	binding := testutils.NewBinding()
	m := newStartedMonitor(t, binding)

	var fired atomic.Bool
	sub := m.Observe(func(device.AdapterState) {
		fired.Store(true)
	}, false)

	sub.Cancel()
	sub.Cancel() // idempotent

	binding.SetState(device.StatePoweredOff)
	require.Eventually(t, func() bool {
		return m.Current() == device.StatePoweredOff
	}, waitTimeout, time.Millisecond)

	assert.False(t, fired.Load(), "cancelled observer must not fire")
}

func TestCancelOneObserverKeepsOthers(t *testing.T) {
	binding := testutils.NewBinding()
	m := newStartedMonitor(t, binding)

	var (
		mu           sync.Mutex
		firstFired   bool
		secondStates []device.AdapterState
	)
	first := m.Observe(func(device.AdapterState) {
		mu.Lock()
		firstFired = true
		mu.Unlock()
	}, false)
	second := m.Observe(func(s device.AdapterState) {
		mu.Lock()
		secondStates = append(secondStates, s)
		mu.Unlock()
	}, false)
	defer second.Cancel()

	first.Cancel()
	binding.SetState(device.StateResetting)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(secondStates) == 1
	}, waitTimeout, time.Millisecond)

	mu.Lock()
	assert.False(t, firstFired)
	assert.Equal(t, device.StateResetting, secondStates[0])
	mu.Unlock()
}

func TestMonitorStopAndRestart(t *testing.T) {
	binding := testutils.NewBinding()
	m := NewMonitor(binding, 10*time.Millisecond, nil)

	m.Start(context.Background())
	require.Eventually(t, func() bool {
		return m.Current() == device.StatePoweredOn
	}, waitTimeout, time.Millisecond)

	m.Stop()
	m.Stop() // no-op on a stopped monitor

	// A transition while stopped is not observed
	binding.SetState(device.StatePoweredOff)
	assert.Equal(t, device.StatePoweredOn, m.Current())

	m.Start(context.Background())
	defer m.Stop()
	require.Eventually(t, func() bool {
		return m.Current() == device.StatePoweredOff
	}, waitTimeout, time.Millisecond)
}

func TestAdapterStateString(t *testing.T) {
	assert.Equal(t, "powered_on", device.StatePoweredOn.String())
	assert.Equal(t, "powered_off", device.StatePoweredOff.String())
	assert.Equal(t, "unknown", device.StateUnknown.String())
}
