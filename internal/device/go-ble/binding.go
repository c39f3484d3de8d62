package goble

import (
	"context"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/bleflow/internal/device"
)

// DefaultStatePollInterval is the probe cadence used when the caller passes
// a non-positive poll interval to AdapterStates.
const DefaultStatePollInterval = time.Second

// BLEBinding adapts go-ble/ble to the device.Binding boundary. The
// underlying ble.Device is created lazily on first use so that a binding
// can be constructed while the radio is still powering up.
type BLEBinding struct {
	logger *logrus.Logger

	mu  sync.Mutex
	dev ble.Device
}

// NewBinding creates a binding backed by go-ble/ble
func NewBinding(logger *logrus.Logger) *BLEBinding {
	if logger == nil {
		logger = logrus.New()
	}
	return &BLEBinding{logger: logger}
}

// acquireDevice returns the shared ble.Device, creating it on first use
func (b *BLEBinding) acquireDevice() (ble.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.dev != nil {
		return b.dev, nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		return nil, err
	}
	ble.SetDefaultDevice(dev)
	b.dev = dev
	return dev, nil
}

// Scan runs discovery until ctx is cancelled
func (b *BLEBinding) Scan(ctx context.Context, allowDuplicates bool, handler func(device.Advertisement)) error {
	dev, err := b.acquireDevice()
	if err != nil {
		return err
	}

	bleHandler := func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	}
	if err := dev.Scan(ctx, allowDuplicates, bleHandler); err != nil {
		return NormalizeError(err)
	}
	return nil
}

// Dial connects to the peripheral at the given address
func (b *BLEBinding) Dial(ctx context.Context, address string) (device.Client, error) {
	if _, err := b.acquireDevice(); err != nil {
		return nil, err
	}

	b.logger.WithField("address", address).Debug("Dialing BLE device")
	cli, err := ble.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, NormalizeError(err)
	}
	return NewBLEClient(cli, b.logger), nil
}

// AdapterState probes the current radio state. A successful factory call
// means the radio answered, which CoreBluetooth only does when powered on;
// failures carry the actual state in the error message.
func (b *BLEBinding) AdapterState() device.AdapterState {
	b.mu.Lock()
	if b.dev != nil {
		b.mu.Unlock()
		return device.StatePoweredOn
	}
	b.mu.Unlock()

	dev, err := DeviceFactory()
	if err != nil {
		return StateFromError(err)
	}

	b.mu.Lock()
	if b.dev == nil {
		ble.SetDefaultDevice(dev)
		b.dev = dev
	}
	b.mu.Unlock()
	return device.StatePoweredOn
}

// AdapterStates emits the current state and every observed transition until
// ctx is cancelled.
func (b *BLEBinding) AdapterStates(ctx context.Context, poll time.Duration) <-chan device.AdapterState {
	if poll <= 0 {
		poll = DefaultStatePollInterval
	}

	out := make(chan device.AdapterState, 1)
	go func() {
		defer close(out)

		last := b.AdapterState()
		select {
		case out <- last:
		case <-ctx.Done():
			return
		}

		ticker := time.NewTicker(poll)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				state := b.AdapterState()
				if state == last {
					continue
				}
				last = state
				select {
				case out <- state:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
