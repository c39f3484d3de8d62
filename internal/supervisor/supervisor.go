// Package supervisor owns the connect/discover/disconnect lifecycle of BLE
// peripherals. Each device runs an independent state machine; a shared
// supervisor only multiplexes bookkeeping, never serializes I/O across
// devices.
//
// State machine per device:
//
//	Disconnected -> Connecting -> Discovering -> Ready -> Disconnected
//
// with an error-triggered Disconnected transition reachable from any
// non-terminal state, and a terminal Released state entered only by an
// explicit Release call. Reconnection is never automatic: a dropped
// connection is reported to registered handlers, and the handler decides
// whether to connect again.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/bleflow/internal/adapterstate"
	"github.com/srg/bleflow/internal/device"
)

// State is the connection state of one supervised device
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateDiscovering
	StateReady
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateDiscovering:
		return "discovering"
	case StateReady:
		return "ready"
	case StateReleased:
		return "released"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DisconnectHandler is notified after an unexpected connection drop
type DisconnectHandler func(handle *device.Handle)

// HandlerRegistration cancels a disconnect handler. Cancel is synchronous
// and idempotent.
type HandlerRegistration struct {
	cancel func()
	once   sync.Once
}

func (r *HandlerRegistration) Cancel() {
	r.once.Do(r.cancel)
}

type disconnectHandler struct {
	id int
	fn DisconnectHandler
}

// Notification is one characteristic value update
type Notification struct {
	ServiceUUID string
	CharUUID    string
	Data        []byte
	Ts          time.Time
}

// NotificationStream delivers characteristic notifications through a
// bounded buffer; the oldest notification is dropped when the consumer
// falls behind.
type NotificationStream struct {
	ring *device.RingChannel[Notification]
	stop func()
	once sync.Once
}

// C returns the notification channel; closed when the stream stops
func (s *NotificationStream) C() <-chan Notification {
	return s.ring.C()
}

// Stop unsubscribes and closes the channel. Idempotent.
func (s *NotificationStream) Stop() {
	s.once.Do(s.stop)
}

const notificationBufferSize = 256

// conn is the supervised state of one device
type conn struct {
	handle *device.Handle

	mu       sync.Mutex
	state    State
	client   device.Client
	catalog  *ServiceCatalog
	attempt  uint64 // bumped per Connect; stale attempts fail re-validation
	explicit bool   // teardown initiated locally, suppress drop handlers
	opBusy   bool   // one read/write in flight

	handlers      []disconnectHandler
	nextHandlerID int

	streams []*NotificationStream
}

// Supervisor manages connection lifecycles for any number of devices
type Supervisor struct {
	binding device.Binding
	monitor *adapterstate.Monitor
	logger  *logrus.Logger

	mu    sync.Mutex
	conns map[string]*conn
}

// NewSupervisor creates a supervisor over the given binding. The monitor
// is optional; without it the binding is probed directly for adapter
// state.
func NewSupervisor(binding device.Binding, monitor *adapterstate.Monitor, logger *logrus.Logger) *Supervisor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Supervisor{
		binding: binding,
		monitor: monitor,
		logger:  logger,
		conns:   make(map[string]*conn),
	}
}

func (s *Supervisor) conn(handle *device.Handle) *conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conns[handle.ID]
	if !ok {
		c = &conn{handle: handle, state: StateDisconnected}
		s.conns[handle.ID] = c
	}
	return c
}

func (s *Supervisor) adapterState() device.AdapterState {
	if s.monitor != nil {
		return s.monitor.Current()
	}
	return s.binding.AdapterState()
}

// State returns the current connection state of a device
func (s *Supervisor) State(handle *device.Handle) State {
	c := s.conn(handle)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Catalog returns the service catalog of a Ready device, nil otherwise
func (s *Supervisor) Catalog(handle *device.Handle) *ServiceCatalog {
	c := s.conn(handle)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return nil
	}
	return c.catalog
}

// Connect dials the device, discovers its full service catalog and returns
// it. Callers never observe a connected-but-undiscovered device: by the
// time Connect returns nil error the state is Ready and the catalog is
// complete.
//
// Exactly one attempt per device may be in flight; a concurrent Connect on
// the same handle fails with ErrAlreadyConnecting, it is not queued. The
// adapter state is checked first: with the radio not powered on, Connect
// fails with ErrAdapterUnavailable without touching the binding. A ctx
// timeout reports ErrTimedOut and leaves the device Disconnected.
//
// An explicit Disconnect or Release issued while the attempt is in flight
// wins: the attempt aborts instead of resurrecting the torn-down session.
func (s *Supervisor) Connect(ctx context.Context, handle *device.Handle) (*ServiceCatalog, error) {
	c := s.conn(handle)

	if state := s.adapterState(); !state.Usable() {
		return nil, fmt.Errorf("%w: adapter state %s", device.ErrAdapterUnavailable, state)
	}

	c.mu.Lock()
	switch c.state {
	case StateReleased:
		c.mu.Unlock()
		return nil, device.ErrReleased
	case StateConnecting, StateDiscovering:
		c.mu.Unlock()
		return nil, device.ErrAlreadyConnecting
	case StateReady:
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: already connected", device.ErrAlreadyConnecting)
	}
	c.state = StateConnecting
	c.explicit = false
	c.attempt++
	attempt := c.attempt
	c.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"device":  handle.DisplayName(),
		"address": handle.Address,
	}).Info("Connecting to device")

	client, err := s.binding.Dial(ctx, handle.Address)
	if err != nil {
		s.toDisconnected(c, nil)
		return nil, connectError(err, ctx)
	}

	// Disconnect or Release may have run while the binding was dialing or
	// discovering; each blocking step re-validates attempt ownership under
	// the lock before advancing the state machine.
	c.mu.Lock()
	if c.state != StateConnecting || c.attempt != attempt {
		aborted := c.state
		c.mu.Unlock()
		_ = client.CancelConnection()
		return nil, abortedConnectError(aborted)
	}
	c.state = StateDiscovering
	c.client = client
	c.mu.Unlock()

	discovered, err := client.DiscoverProfile(ctx)
	if err != nil {
		_ = client.CancelConnection()
		s.toDisconnected(c, client)
		return nil, connectError(err, ctx)
	}

	catalog := newServiceCatalog(discovered)

	c.mu.Lock()
	if c.state != StateDiscovering || c.client != client || c.attempt != attempt {
		aborted := c.state
		c.mu.Unlock()
		_ = client.CancelConnection()
		return nil, abortedConnectError(aborted)
	}
	c.state = StateReady
	c.catalog = catalog
	c.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"device":          handle.DisplayName(),
		"services":        catalog.NumServices(),
		"characteristics": catalog.NumCharacteristics(),
	}).Info("Device ready")

	go s.watchDisconnect(c, client)

	return catalog, nil
}

// connectError maps a dial/discovery failure to the taxonomy. Caller
// cancellation is not a timeout and not a radio failure; it passes through
// as context.Canceled.
func connectError(err error, ctx context.Context) error {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return context.Canceled
	}
	if errors.Is(err, device.ErrTimedOut) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", device.ErrTimedOut, err)
	}
	if errors.Is(err, device.ErrAdapterUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", device.ErrConnectFailed, err)
}

// abortedConnectError reports a connect attempt overtaken by an explicit
// Disconnect or Release on the same handle.
func abortedConnectError(state State) error {
	if state == StateReleased {
		return device.ErrReleased
	}
	return fmt.Errorf("%w: attempt aborted by disconnect", device.ErrConnectFailed)
}

// watchDisconnect waits for the link to drop. Explicit teardown suppresses
// the handlers; anything else is an unexpected drop, reported exactly once
// per connection session in handler registration order.
func (s *Supervisor) watchDisconnect(c *conn, client device.Client) {
	<-client.Disconnected()

	c.mu.Lock()
	if c.client != client {
		// A teardown already ran for this session
		c.mu.Unlock()
		return
	}
	explicit := c.explicit
	c.mu.Unlock()

	handlers := s.toDisconnected(c, client)
	if explicit {
		return
	}

	s.logger.WithField("device", c.handle.DisplayName()).Warn("Unexpected disconnect")
	for _, h := range handlers {
		h.fn(c.handle)
	}
}

// toDisconnected tears the session state down: catalog discarded, streams
// closed, state Disconnected (unless Released). Returns the registered
// handlers for the caller to fire. client, when non-nil, guards against
// double teardown of the same session.
func (s *Supervisor) toDisconnected(c *conn, client device.Client) []disconnectHandler {
	c.mu.Lock()
	if client != nil && c.client != client {
		c.mu.Unlock()
		return nil
	}
	if c.state != StateReleased {
		c.state = StateDisconnected
	}
	c.client = nil
	c.catalog = nil
	streams := c.streams
	c.streams = nil
	handlers := make([]disconnectHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	for _, st := range streams {
		st.Stop()
	}
	return handlers
}

// Disconnect closes the connection deliberately; registered disconnect
// handlers do not fire. No-op on an already disconnected device.
func (s *Supervisor) Disconnect(handle *device.Handle) error {
	c := s.conn(handle)

	c.mu.Lock()
	if c.state == StateReleased {
		c.mu.Unlock()
		return device.ErrReleased
	}
	client := c.client
	c.explicit = true
	if c.state == StateConnecting {
		// Abort the in-flight dial; its result fails re-validation
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if client == nil {
		return nil
	}

	s.logger.WithField("device", handle.DisplayName()).Info("Disconnecting from device")
	err := client.CancelConnection()
	s.toDisconnected(c, client)
	return err
}

// Release disconnects and retires the handle permanently. Any further
// operation on it fails with ErrReleased.
func (s *Supervisor) Release(handle *device.Handle) error {
	err := s.Disconnect(handle)
	if errors.Is(err, device.ErrReleased) {
		return nil
	}

	c := s.conn(handle)
	c.mu.Lock()
	c.state = StateReleased
	c.handlers = nil
	c.mu.Unlock()
	return err
}

// OnUnexpectedDisconnect registers a handler fired when the connection
// drops outside an explicit Disconnect or Release. Handlers fire in
// registration order, exactly once per drop. The supervisor never
// reconnects on its own; if the handler wants the device back, it calls
// Connect.
func (s *Supervisor) OnUnexpectedDisconnect(handle *device.Handle, fn DisconnectHandler) *HandlerRegistration {
	c := s.conn(handle)

	c.mu.Lock()
	id := c.nextHandlerID
	c.nextHandlerID++
	c.handlers = append(c.handlers, disconnectHandler{id: id, fn: fn})
	c.mu.Unlock()

	return &HandlerRegistration{cancel: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, h := range c.handlers {
			if h.id == id {
				c.handlers = append(c.handlers[:i], c.handlers[i+1:]...)
				return
			}
		}
	}}
}

// acquireOp claims the device's single operation slot while it is Ready
func (c *conn) acquireOp() (device.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateReleased {
		return nil, device.ErrReleased
	}
	if c.state != StateReady {
		return nil, fmt.Errorf("%w: state %s", device.ErrNotReady, c.state)
	}
	if c.opBusy {
		return nil, fmt.Errorf("%w: operation already in flight", device.ErrBusy)
	}
	c.opBusy = true
	return c.client, nil
}

func (c *conn) releaseOp() {
	c.mu.Lock()
	c.opBusy = false
	c.mu.Unlock()
}

// Read reads a characteristic value. Valid only while Ready; overlapping
// operations on the same device are rejected, not queued. A timed-out read
// reports ErrTimedOut and disconnects the device.
func (s *Supervisor) Read(ctx context.Context, handle *device.Handle, serviceUUID, charUUID string) ([]byte, error) {
	c := s.conn(handle)
	client, err := c.acquireOp()
	if err != nil {
		return nil, err
	}
	defer c.releaseOp()

	data, err := client.ReadCharacteristic(ctx, serviceUUID, charUUID)
	if err != nil {
		return nil, s.opError(c, client, err)
	}
	return data, nil
}

// Write writes a characteristic value. Same contract as Read; write
// failures wrap ErrWriteFailed and the caller owns any retry.
func (s *Supervisor) Write(ctx context.Context, handle *device.Handle, serviceUUID, charUUID string, data []byte, withResponse bool) error {
	c := s.conn(handle)
	client, err := c.acquireOp()
	if err != nil {
		return err
	}
	defer c.releaseOp()

	if err := client.WriteCharacteristic(ctx, serviceUUID, charUUID, data, withResponse); err != nil {
		if werr := s.opError(c, client, err); errors.Is(werr, device.ErrTimedOut) || errors.Is(werr, context.Canceled) {
			return werr
		}
		return fmt.Errorf("%w: %v", device.ErrWriteFailed, err)
	}
	return nil
}

// opError normalizes a per-operation failure. Timeouts tear the connection
// down: the radio state after an abandoned GATT operation is not
// trustworthy.
func (s *Supervisor) opError(c *conn, client device.Client, err error) error {
	if errors.Is(err, device.ErrTimedOut) {
		c.mu.Lock()
		c.explicit = true
		c.mu.Unlock()
		_ = client.CancelConnection()
		s.toDisconnected(c, client)
		return err
	}
	return err
}

// Subscribe streams notifications from the given characteristics of one
// service. Valid only while Ready. The stream closes when Stop is called
// or the connection drops.
func (s *Supervisor) Subscribe(handle *device.Handle, serviceUUID string, charUUIDs []string) (*NotificationStream, error) {
	c := s.conn(handle)

	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: state %s", device.ErrNotReady, c.state)
	}
	client := c.client
	catalog := c.catalog
	c.mu.Unlock()

	if len(charUUIDs) == 0 {
		chars, ok := catalog.Characteristics(serviceUUID)
		if !ok {
			return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{serviceUUID}}
		}
		// Subscribe to everything that can notify
		for _, ch := range chars {
			props, _ := catalog.Properties(serviceUUID, ch)
			if props.Supports(device.PropNotify) || props.Supports(device.PropIndicate) {
				charUUIDs = append(charUUIDs, ch)
			}
		}
		if len(charUUIDs) == 0 {
			return nil, fmt.Errorf("service %q has no notifiable characteristics", serviceUUID)
		}
	} else {
		for _, ch := range charUUIDs {
			if !catalog.HasCharacteristic(serviceUUID, ch) {
				return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, ch}}
			}
		}
	}

	ring := device.NewRingChannel[Notification](notificationBufferSize)
	subscribed := make([]string, 0, len(charUUIDs))

	var stream *NotificationStream
	stream = &NotificationStream{
		ring: ring,
		stop: func() {
			for _, ch := range subscribed {
				if err := client.Unsubscribe(serviceUUID, ch); err != nil {
					s.logger.WithError(err).WithField("charUUID", ch).Debug("Unsubscribe failed during stream stop")
				}
			}
			ring.Close()
			c.mu.Lock()
			for i, st := range c.streams {
				if st == stream {
					c.streams = append(c.streams[:i], c.streams[i+1:]...)
					break
				}
			}
			c.mu.Unlock()
		},
	}

	for _, ch := range charUUIDs {
		charUUID := ch
		err := client.Subscribe(serviceUUID, charUUID, func(data []byte) {
			ring.ForceSend(Notification{
				ServiceUUID: serviceUUID,
				CharUUID:    charUUID,
				Data:        data,
				Ts:          time.Now(),
			})
		})
		if err != nil {
			// Roll back what was subscribed so far
			for _, done := range subscribed {
				_ = client.Unsubscribe(serviceUUID, done)
			}
			ring.Close()
			return nil, err
		}
		subscribed = append(subscribed, charUUID)
	}

	c.mu.Lock()
	if c.state != StateReady || c.client != client {
		// Connection dropped while subscribing
		c.mu.Unlock()
		stream.Stop()
		return nil, fmt.Errorf("%w: connection lost during subscribe", device.ErrNotReady)
	}
	c.streams = append(c.streams, stream)
	c.mu.Unlock()

	return stream, nil
}
