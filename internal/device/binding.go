package device

import (
	"context"
	"time"
)

// Advertisement is the read-only view of a single BLE advertisement packet
// delivered by the binding during discovery.
type Advertisement interface {
	LocalName() string
	ManufacturerData() []byte
	ServiceData() []struct {
		UUID string
		Data []byte
	}

	Services() []string
	TxPowerLevel() int
	Connectable() bool

	RSSI() int
	Addr() string
}

// DiscoveredService describes one GATT service and its characteristics as
// reported by the binding's profile discovery. The supervisor converts this
// into a ServiceCatalog; the raw slice is never retained.
type DiscoveredService struct {
	UUID            string
	Characteristics []DiscoveredCharacteristic
}

// DiscoveredCharacteristic describes one characteristic within a discovered
// service.
type DiscoveredCharacteristic struct {
	UUID       string
	Properties CharProperties
}

// CharProperties is the characteristic property bitmask as defined by GATT.
type CharProperties uint8

const (
	PropBroadcast CharProperties = 1 << iota
	PropRead
	PropWriteWithoutResponse
	PropWrite
	PropNotify
	PropIndicate
)

// Supports reports whether all bits in p are present
func (c CharProperties) Supports(p CharProperties) bool {
	return c&p == p
}

// String renders the property bits as a comma-separated list, e.g.
// "read,write,notify".
func (c CharProperties) String() string {
	names := []struct {
		bit  CharProperties
		name string
	}{
		{PropBroadcast, "broadcast"},
		{PropRead, "read"},
		{PropWriteWithoutResponse, "write-without-response"},
		{PropWrite, "write"},
		{PropNotify, "notify"},
		{PropIndicate, "indicate"},
	}

	out := ""
	for _, n := range names {
		if !c.Supports(n.bit) {
			continue
		}
		if out != "" {
			out += ","
		}
		out += n.name
	}
	if out == "" {
		return "none"
	}
	return out
}

// Client is a live connection to one peripheral, as exposed by the binding.
// All methods are platform calls and may block until the radio responds.
type Client interface {
	// DiscoverProfile enumerates every service and characteristic the
	// peripheral exposes. Called once per connection, before the
	// application sees the connection at all.
	DiscoverProfile(ctx context.Context) ([]DiscoveredService, error)

	ReadCharacteristic(ctx context.Context, serviceUUID, charUUID string) ([]byte, error)
	WriteCharacteristic(ctx context.Context, serviceUUID, charUUID string, data []byte, withResponse bool) error

	// Subscribe enables notifications for a characteristic; fn is invoked
	// from the binding's callback goroutine for every value update.
	Subscribe(serviceUUID, charUUID string, fn func(data []byte)) error
	Unsubscribe(serviceUUID, charUUID string) error

	// Disconnected returns a channel that is closed when the link drops,
	// whether or not the drop was requested.
	Disconnected() <-chan struct{}

	CancelConnection() error
}

// Binding is the external BLE library surface the coordinator consumes.
// It is the only boundary to the platform radio stack; everything behind
// it (GATT, HCI, OS permission prompts) stays external.
type Binding interface {
	// Scan runs discovery until ctx is cancelled, invoking handler for
	// every received advertisement.
	Scan(ctx context.Context, allowDuplicates bool, handler func(Advertisement)) error

	// Dial connects to the peripheral at the given address.
	Dial(ctx context.Context, address string) (Client, error)

	// AdapterState probes the current radio state.
	AdapterState() AdapterState

	// AdapterStates emits the current state followed by every observed
	// transition until ctx is cancelled, probing at the poll interval.
	AdapterStates(ctx context.Context, poll time.Duration) <-chan AdapterState
}
