// Package adapterstate broadcasts Bluetooth radio power-state transitions
// to any number of independent observers.
package adapterstate

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/bleflow/internal/device"
)

// Subscription is a cancellation handle for one observer. Cancel is
// synchronous and safe to call multiple times.
type Subscription struct {
	cancel func()
	once   sync.Once
}

// Cancel detaches the observer. After Cancel returns the callback will not
// be invoked again.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

type observer struct {
	id int
	fn func(device.AdapterState)
}

// Monitor observes the binding's adapter state stream and fans transitions
// out to registered observers in registration order.
type Monitor struct {
	binding device.Binding
	logger  *logrus.Logger
	poll    time.Duration

	mu        sync.Mutex
	observers []observer
	nextID    int
	current   device.AdapterState
	started   bool
	stop      context.CancelFunc
	done      chan struct{}
}

// NewMonitor creates a monitor over the given binding. The stream is not
// consumed until Start.
func NewMonitor(binding device.Binding, poll time.Duration, logger *logrus.Logger) *Monitor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Monitor{
		binding: binding,
		logger:  logger,
		poll:    poll,
		current: device.StateUnknown,
	}
}

// Start begins consuming the binding's state stream. Restartable: a
// stopped monitor may be started again.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	streamCtx, cancel := context.WithCancel(ctx)
	m.stop = cancel
	m.done = make(chan struct{})

	states := m.binding.AdapterStates(streamCtx, m.poll)
	go m.run(states, m.done)
}

// Stop halts stream consumption. Registered observers survive a
// stop/start cycle.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	stop := m.stop
	done := m.done
	m.mu.Unlock()

	stop()
	<-done
}

func (m *Monitor) run(states <-chan device.AdapterState, done chan struct{}) {
	defer close(done)
	for state := range states {
		m.logger.WithField("state", state.String()).Debug("Adapter state transition")
		m.dispatch(state)
	}
}

func (m *Monitor) dispatch(state device.AdapterState) {
	m.mu.Lock()
	m.current = state
	obs := make([]observer, len(m.observers))
	copy(obs, m.observers)
	m.mu.Unlock()

	// Handlers run outside the lock so a callback can cancel its own
	// subscription without deadlocking.
	for _, o := range obs {
		o.fn(state)
	}
}

// Current returns the most recently observed state
func (m *Monitor) Current() device.AdapterState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Usable reports whether the most recently observed state allows BLE
// operations.
func (m *Monitor) Usable() bool {
	return m.Current().Usable()
}

// Observe registers a state callback. With emitCurrent set, the callback
// is invoked with the current state before Observe returns, so observers
// never miss the state that was in effect at registration time. Callbacks
// fire in registration order per transition.
func (m *Monitor) Observe(fn func(device.AdapterState), emitCurrent bool) *Subscription {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.observers = append(m.observers, observer{id: id, fn: fn})
	current := m.current
	m.mu.Unlock()

	if emitCurrent {
		fn(current)
	}

	return &Subscription{cancel: func() { m.remove(id) }}
}

func (m *Monitor) remove(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, o := range m.observers {
		if o.id == id {
			m.observers = append(m.observers[:i], m.observers[i+1:]...)
			return
		}
	}
}
