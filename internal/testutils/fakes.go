package testutils

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/srg/bleflow/internal/device"
)

// ctxDoneError mirrors the production binding: deadline expiry is a
// timeout, caller cancellation passes through untouched.
func ctxDoneError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %v", device.ErrTimedOut, ctx.Err())
}

// ----------------------------
// Advertisement
// ----------------------------

// FakeAdvertisement is a canned advertisement for scanner and handle tests
type FakeAdvertisement struct {
	name        string
	addr        string
	rssi        int
	services    []string
	manufData   []byte
	serviceData map[string][]byte
	txPower     int
	connectable bool
}

// NewAdvertisement starts a fluent advertisement builder. Defaults:
// RSSI -50, connectable, TX power unavailable (127).
func NewAdvertisement() *FakeAdvertisement {
	return &FakeAdvertisement{
		rssi:        -50,
		txPower:     127,
		connectable: true,
		serviceData: make(map[string][]byte),
	}
}

func (a *FakeAdvertisement) WithName(name string) *FakeAdvertisement {
	a.name = name
	return a
}

func (a *FakeAdvertisement) WithAddress(addr string) *FakeAdvertisement {
	a.addr = addr
	return a
}

func (a *FakeAdvertisement) WithRSSI(rssi int) *FakeAdvertisement {
	a.rssi = rssi
	return a
}

func (a *FakeAdvertisement) WithServices(uuids ...string) *FakeAdvertisement {
	a.services = append(a.services, uuids...)
	return a
}

func (a *FakeAdvertisement) WithManufacturerData(data []byte) *FakeAdvertisement {
	a.manufData = data
	return a
}

func (a *FakeAdvertisement) WithServiceData(uuid string, data []byte) *FakeAdvertisement {
	a.serviceData[uuid] = data
	return a
}

func (a *FakeAdvertisement) WithTxPower(power int) *FakeAdvertisement {
	a.txPower = power
	return a
}

func (a *FakeAdvertisement) WithConnectable(c bool) *FakeAdvertisement {
	a.connectable = c
	return a
}

func (a *FakeAdvertisement) LocalName() string        { return a.name }
func (a *FakeAdvertisement) ManufacturerData() []byte { return a.manufData }
func (a *FakeAdvertisement) Services() []string       { return a.services }
func (a *FakeAdvertisement) TxPowerLevel() int        { return a.txPower }
func (a *FakeAdvertisement) Connectable() bool        { return a.connectable }
func (a *FakeAdvertisement) RSSI() int                { return a.rssi }
func (a *FakeAdvertisement) Addr() string             { return a.addr }

func (a *FakeAdvertisement) ServiceData() []struct {
	UUID string
	Data []byte
} {
	result := make([]struct {
		UUID string
		Data []byte
	}, 0, len(a.serviceData))
	for uuid, data := range a.serviceData {
		result = append(result, struct {
			UUID string
			Data []byte
		}{UUID: uuid, Data: data})
	}
	return result
}

// ----------------------------
// Client
// ----------------------------

// FakeClient is an in-memory peripheral connection. Services are configured
// through the fluent builder; reads, writes and notifications run against
// plain maps.
type FakeClient struct {
	mu sync.Mutex

	services  []device.DiscoveredService
	readData  map[string][]byte
	writes    []WriteRecord
	handlers  map[string]func([]byte)
	subscribe []string

	DiscoverErr   error
	ReadErr       error
	WriteErr      error
	SubscribeErr  error
	OperationLag  time.Duration // applied to reads and writes, for timeout tests
	DiscoverLag   time.Duration
	CancelCalls   int
	DiscoverCalls int

	disconnected chan struct{}
	dropOnce     sync.Once
}

// WriteRecord captures one write for assertions
type WriteRecord struct {
	ServiceUUID  string
	CharUUID     string
	Data         []byte
	WithResponse bool
}

// NewClient starts a fluent fake-client builder
func NewClient() *FakeClient {
	return &FakeClient{
		readData:     make(map[string][]byte),
		handlers:     make(map[string]func([]byte)),
		disconnected: make(chan struct{}),
	}
}

// WithService adds a service with notify-capable read/write characteristics
func (c *FakeClient) WithService(serviceUUID string, charUUIDs ...string) *FakeClient {
	svc := device.DiscoveredService{UUID: device.NormalizeUUID(serviceUUID)}
	for _, ch := range charUUIDs {
		svc.Characteristics = append(svc.Characteristics, device.DiscoveredCharacteristic{
			UUID:       device.NormalizeUUID(ch),
			Properties: device.PropRead | device.PropWrite | device.PropNotify,
		})
	}
	c.services = append(c.services, svc)
	return c
}

// WithCharacteristic adds one characteristic with explicit properties to an
// existing service, creating the service when absent.
func (c *FakeClient) WithCharacteristic(serviceUUID, charUUID string, props device.CharProperties) *FakeClient {
	svcUUID := device.NormalizeUUID(serviceUUID)
	char := device.DiscoveredCharacteristic{UUID: device.NormalizeUUID(charUUID), Properties: props}
	for i := range c.services {
		if c.services[i].UUID == svcUUID {
			c.services[i].Characteristics = append(c.services[i].Characteristics, char)
			return c
		}
	}
	c.services = append(c.services, device.DiscoveredService{
		UUID:            svcUUID,
		Characteristics: []device.DiscoveredCharacteristic{char},
	})
	return c
}

// WithReadValue sets the value returned for a characteristic read
func (c *FakeClient) WithReadValue(serviceUUID, charUUID string, data []byte) *FakeClient {
	c.readData[charKey(serviceUUID, charUUID)] = data
	return c
}

func charKey(serviceUUID, charUUID string) string {
	return device.NormalizeUUID(serviceUUID) + "/" + device.NormalizeUUID(charUUID)
}

func (c *FakeClient) DiscoverProfile(ctx context.Context) ([]device.DiscoveredService, error) {
	c.mu.Lock()
	c.DiscoverCalls++
	err := c.DiscoverErr
	lag := c.DiscoverLag
	services := make([]device.DiscoveredService, len(c.services))
	copy(services, c.services)
	c.mu.Unlock()

	if lag > 0 {
		select {
		case <-time.After(lag):
		case <-ctx.Done():
			return nil, ctxDoneError(ctx)
		}
	}
	if err != nil {
		return nil, err
	}
	return services, nil
}

func (c *FakeClient) ReadCharacteristic(ctx context.Context, serviceUUID, charUUID string) ([]byte, error) {
	c.mu.Lock()
	err := c.ReadErr
	lag := c.OperationLag
	data, ok := c.readData[charKey(serviceUUID, charUUID)]
	c.mu.Unlock()

	if lag > 0 {
		select {
		case <-time.After(lag):
		case <-ctx.Done():
			return nil, ctxDoneError(ctx)
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, charUUID}}
	}
	return data, nil
}

func (c *FakeClient) WriteCharacteristic(ctx context.Context, serviceUUID, charUUID string, data []byte, withResponse bool) error {
	c.mu.Lock()
	err := c.WriteErr
	lag := c.OperationLag
	c.mu.Unlock()

	if lag > 0 {
		select {
		case <-time.After(lag):
		case <-ctx.Done():
			return ctxDoneError(ctx)
		}
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.writes = append(c.writes, WriteRecord{
		ServiceUUID:  device.NormalizeUUID(serviceUUID),
		CharUUID:     device.NormalizeUUID(charUUID),
		Data:         append([]byte(nil), data...),
		WithResponse: withResponse,
	})
	c.mu.Unlock()
	return nil
}

// Writes returns a snapshot of recorded writes
func (c *FakeClient) Writes() []WriteRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	writes := make([]WriteRecord, len(c.writes))
	copy(writes, c.writes)
	return writes
}

func (c *FakeClient) Subscribe(serviceUUID, charUUID string, fn func(data []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubscribeErr != nil {
		return c.SubscribeErr
	}
	key := charKey(serviceUUID, charUUID)
	c.handlers[key] = fn
	c.subscribe = append(c.subscribe, key)
	return nil
}

func (c *FakeClient) Unsubscribe(serviceUUID, charUUID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, charKey(serviceUUID, charUUID))
	return nil
}

// Subscribed reports whether the characteristic has an active subscription
func (c *FakeClient) Subscribed(serviceUUID, charUUID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[charKey(serviceUUID, charUUID)]
	return ok
}

// Notify pushes a value update to the registered subscription handler
func (c *FakeClient) Notify(serviceUUID, charUUID string, data []byte) {
	c.mu.Lock()
	fn := c.handlers[charKey(serviceUUID, charUUID)]
	c.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

func (c *FakeClient) Disconnected() <-chan struct{} {
	return c.disconnected
}

func (c *FakeClient) CancelConnection() error {
	c.mu.Lock()
	c.CancelCalls++
	c.mu.Unlock()
	c.dropOnce.Do(func() { close(c.disconnected) })
	return nil
}

// DropConnection simulates an unexpected link loss
func (c *FakeClient) DropConnection() {
	c.dropOnce.Do(func() { close(c.disconnected) })
}

// ----------------------------
// Binding
// ----------------------------

// FakeBinding replays canned advertisements and hands out configured
// clients. The adapter state is scripted through SetState; state streams
// observe transitions like the real poller would.
type FakeBinding struct {
	mu sync.Mutex

	advertisements []device.Advertisement
	clients        map[string]device.Client
	state          device.AdapterState
	watchers       []chan device.AdapterState

	ScanErr   error
	DialErr   error
	DialLag   time.Duration // holds Dial before it resolves, for abort tests
	ScanCalls int
	DialCalls int
}

// NewBinding creates a fake binding, powered on by default
func NewBinding() *FakeBinding {
	return &FakeBinding{
		clients: make(map[string]device.Client),
		state:   device.StatePoweredOn,
	}
}

// WithAdvertisements queues advertisements delivered on the next Scan
func (b *FakeBinding) WithAdvertisements(advs ...device.Advertisement) *FakeBinding {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advertisements = append(b.advertisements, advs...)
	return b
}

// WithClient registers the client returned by Dial for an address
func (b *FakeBinding) WithClient(address string, client device.Client) *FakeBinding {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[address] = client
	return b
}

// SetState changes the adapter state and notifies active state streams
func (b *FakeBinding) SetState(state device.AdapterState) {
	b.mu.Lock()
	b.state = state
	watchers := make([]chan device.AdapterState, len(b.watchers))
	copy(watchers, b.watchers)
	b.mu.Unlock()

	for _, w := range watchers {
		w <- state
	}
}

func (b *FakeBinding) AdapterState() device.AdapterState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *FakeBinding) AdapterStates(ctx context.Context, _ time.Duration) <-chan device.AdapterState {
	feed := make(chan device.AdapterState, 16)
	out := make(chan device.AdapterState, 16)

	b.mu.Lock()
	current := b.state
	b.watchers = append(b.watchers, feed)
	b.mu.Unlock()

	go func() {
		defer close(out)
		defer func() {
			b.mu.Lock()
			for i, w := range b.watchers {
				if w == feed {
					b.watchers = append(b.watchers[:i], b.watchers[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
		}()

		out <- current
		for {
			select {
			case <-ctx.Done():
				return
			case state := <-feed:
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

// Scan delivers the queued advertisements, then blocks until ctx is done,
// matching the run-until-cancelled contract of a real radio scan.
func (b *FakeBinding) Scan(ctx context.Context, _ bool, handler func(device.Advertisement)) error {
	b.mu.Lock()
	b.ScanCalls++
	err := b.ScanErr
	advs := make([]device.Advertisement, len(b.advertisements))
	copy(advs, b.advertisements)
	b.mu.Unlock()

	if err != nil {
		return err
	}

	for _, adv := range advs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		handler(adv)
	}

	<-ctx.Done()
	return ctx.Err()
}

func (b *FakeBinding) Dial(ctx context.Context, address string) (device.Client, error) {
	b.mu.Lock()
	b.DialCalls++
	err := b.DialErr
	lag := b.DialLag
	client, ok := b.clients[address]
	b.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if lag > 0 {
		select {
		case <-time.After(lag):
		case <-ctx.Done():
			return nil, ctxDoneError(ctx)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, ctxDoneError(ctx)
	}
	if !ok {
		return nil, fmt.Errorf("%w: no peripheral at %s", device.ErrConnectFailed, address)
	}
	return client, nil
}
