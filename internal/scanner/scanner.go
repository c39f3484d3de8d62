// Package scanner runs BLE device discovery with permission and
// adapter-state gating. The platform radio supports a limited number of
// concurrent scans app-wide, so the coordinator holds a process-wide scan
// slot: one session at a time, and first-match helpers stop discovery the
// moment a target is confirmed.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/bleflow/internal/adapterstate"
	"github.com/srg/bleflow/internal/device"
	"github.com/srg/bleflow/internal/permission"
)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

type DeviceEvent struct {
	Type   DeviceEventType
	Handle *device.Handle
}

// Filter selects which advertisements produce candidates
type Filter struct {
	Name         string   // exact advertised name match; empty matches any
	AllowList    []string // addresses to include; empty allows all
	BlockList    []string // addresses to exclude
	ServiceUUIDs []string // at least one advertised service must match
	MinRSSI      int      // 0 disables the threshold
}

// Matches reports whether the advertisement passes the filter
func (f *Filter) Matches(adv device.Advertisement) bool {
	if f == nil {
		return true
	}

	addr := adv.Addr()
	for _, blocked := range f.BlockList {
		if addr == blocked {
			return false
		}
	}

	if len(f.AllowList) > 0 {
		allowed := false
		for _, a := range f.AllowList {
			if addr == a {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if f.Name != "" && adv.LocalName() != f.Name {
		return false
	}

	if f.MinRSSI != 0 && adv.RSSI() < f.MinRSSI {
		return false
	}

	if len(f.ServiceUUIDs) > 0 {
		hasRequired := false
		for _, required := range f.ServiceUUIDs {
			norm := device.NormalizeUUID(required)
			for _, advUUID := range adv.Services() {
				if device.NormalizeUUID(advUUID) == norm {
					hasRequired = true
					break
				}
			}
			if hasRequired {
				break
			}
		}
		if !hasRequired {
			return false
		}
	}

	return true
}

// OnCandidate receives each matching device at most once per session
type OnCandidate func(*device.Handle)

// Session is one active or finished scan
type Session struct {
	devices *hashmap.Map[string, *device.Handle]
	events  *device.RingChannel[DeviceEvent]
	cancel  context.CancelFunc
	done    chan struct{}

	mu  sync.Mutex
	err error
}

// Stop ends discovery. Safe to call multiple times and after the session
// has already finished.
func (s *Session) Stop() {
	s.cancel()
}

// Done is closed when discovery has fully stopped
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until discovery stops and returns its terminal error, nil
// for a clean stop or timeout.
func (s *Session) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Events returns a bounded stream of discovery events; oldest events are
// dropped when the consumer falls behind.
func (s *Session) Events() <-chan DeviceEvent {
	return s.events.C()
}

// Devices returns a snapshot of everything discovered so far
func (s *Session) Devices() []*device.Handle {
	devs := make([]*device.Handle, 0, s.devices.Len())
	s.devices.Range(func(_ string, h *device.Handle) bool {
		devs = append(devs, h)
		return true
	})
	return devs
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

const eventBufferSize = 100

// Coordinator gates and runs scan sessions
type Coordinator struct {
	binding device.Binding
	gate    *permission.Gate
	monitor *adapterstate.Monitor
	logger  *logrus.Logger

	active atomic.Bool
}

// NewCoordinator creates a scan coordinator
func NewCoordinator(binding device.Binding, gate *permission.Gate, monitor *adapterstate.Monitor, logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Coordinator{
		binding: binding,
		gate:    gate,
		monitor: monitor,
		logger:  logger,
	}
}

// preconditions verifies permission and radio state before any binding call
func (c *Coordinator) preconditions(ctx context.Context) error {
	if c.gate != nil {
		if _, err := c.gate.EnsureAuthorized(ctx); err != nil {
			return err
		}
	}
	if c.monitor != nil {
		if state := c.monitor.Current(); !state.Usable() {
			return fmt.Errorf("%w: adapter state %s", device.ErrAdapterUnavailable, state)
		}
	}
	return nil
}

// Scan starts a discovery session. onCandidate fires at most once per
// device identifier per session; the caller decides when to stop. Fails
// with ErrScanAlreadyActive when a session is already running, and with
// ErrPermissionDenied / ErrAdapterUnavailable when the preconditions are
// not met. Adapter errors surface as ErrScanFailed; the coordinator never
// retries.
func (c *Coordinator) Scan(ctx context.Context, filter *Filter, onCandidate OnCandidate) (*Session, error) {
	if err := c.preconditions(ctx); err != nil {
		return nil, err
	}

	if !c.active.CompareAndSwap(false, true) {
		return nil, device.ErrScanAlreadyActive
	}

	scanCtx, cancel := context.WithCancel(ctx)
	session := &Session{
		devices: hashmap.New[string, *device.Handle](),
		events:  device.NewRingChannel[DeviceEvent](eventBufferSize),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	c.logger.WithField("filter", fmt.Sprintf("%+v", filter)).Info("Starting BLE scan")

	var handlerMu sync.Mutex
	handler := func(adv device.Advertisement) {
		deviceID := adv.Addr()

		handlerMu.Lock()
		defer handlerMu.Unlock()

		if existing, ok := session.devices.Get(deviceID); ok {
			existing.Update(adv)
			session.events.ForceSend(DeviceEvent{Type: EventUpdated, Handle: existing})
			return
		}

		if !filter.Matches(adv) {
			return
		}

		handle := device.NewHandle(adv)
		session.devices.Set(deviceID, handle)
		c.logger.WithFields(logrus.Fields{
			"device":  handle.DisplayName(),
			"address": handle.Address,
			"rssi":    handle.RSSI,
		}).Info("Discovered new device")
		session.events.ForceSend(DeviceEvent{Type: EventNew, Handle: handle})

		if onCandidate != nil {
			onCandidate(handle)
		}
	}

	go func() {
		defer close(session.done)
		defer c.active.Store(false)
		defer session.events.Close()

		err := c.binding.Scan(scanCtx, true, handler)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			session.setErr(fmt.Errorf("%w: %v", device.ErrScanFailed, err))
			c.logger.WithError(err).Error("BLE scan failed")
			return
		}
		c.logger.WithField("device_count", session.devices.Len()).Info("BLE scan completed")
	}()

	return session, nil
}

// ScanUntilDone runs a fixed-duration session and returns everything
// discovered.
func (c *Coordinator) ScanUntilDone(ctx context.Context, filter *Filter, duration time.Duration) ([]*device.Handle, error) {
	scanCtx := ctx
	if duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	session, err := c.Scan(scanCtx, filter, nil)
	if err != nil {
		return nil, err
	}
	if err := session.Wait(); err != nil {
		return nil, err
	}
	return session.Devices(), nil
}

// ScanForDevice discovers the first device matching the filter and stops
// discovery immediately on match. Returns NotFoundError when ctx expires
// without a match.
func (c *Coordinator) ScanForDevice(ctx context.Context, filter *Filter) (*device.Handle, error) {
	var (
		mu    sync.Mutex
		found *device.Handle
	)

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	session, err := c.Scan(scanCtx, filter, func(h *device.Handle) {
		mu.Lock()
		if found == nil {
			found = h
		}
		mu.Unlock()
		cancel()
	})
	if err != nil {
		return nil, err
	}

	if err := session.Wait(); err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	if found == nil {
		return nil, &device.NotFoundError{Resource: "device"}
	}
	return found, nil
}
