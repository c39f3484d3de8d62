package scanner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bleflow/internal/adapterstate"
	"github.com/srg/bleflow/internal/device"
	"github.com/srg/bleflow/internal/permission"
	"github.com/srg/bleflow/internal/testutils"
)

const waitTimeout = 2 * time.Second

// denyAllPlatform refuses every capability prompt
type denyAllPlatform struct{}

func (denyAllPlatform) APILevel() int          { return 0 }
func (denyAllPlatform) NeverForLocation() bool { return true }

func (denyAllPlatform) Request(_ context.Context, caps []permission.Capability) (map[permission.Capability]bool, error) {
	granted := make(map[permission.Capability]bool, len(caps))
	for _, c := range caps {
		granted[c] = false
	}
	return granted, nil
}

func newTestMonitor(t *testing.T, binding *testutils.FakeBinding) *adapterstate.Monitor {
	t.Helper()
	m := adapterstate.NewMonitor(binding, 10*time.Millisecond, nil)
	m.Start(context.Background())
	t.Cleanup(m.Stop)

	require.Eventually(t, func() bool {
		return m.Current() != device.StateUnknown
	}, waitTimeout, time.Millisecond)
	return m
}

func newTestCoordinator(t *testing.T, binding *testutils.FakeBinding) *Coordinator {
	t.Helper()
	gate := permission.NewGate(permission.DesktopPlatform{}, nil)
	return NewCoordinator(binding, gate, newTestMonitor(t, binding), nil)
}

func TestScanDeniedPermission(t *testing.T) {
	binding := testutils.NewBinding()
	gate := permission.NewGate(denyAllPlatform{}, nil)
	coord := NewCoordinator(binding, gate, newTestMonitor(t, binding), nil)

	_, err := coord.Scan(context.Background(), nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, device.ErrPermissionDenied))
	assert.Equal(t, 0, binding.ScanCalls, "the radio is never touched without a grant")
}

func TestScanAdapterUnavailable(t *testing.T) {
	binding := testutils.NewBinding()
	gate := permission.NewGate(permission.DesktopPlatform{}, nil)
	monitor := newTestMonitor(t, binding)
	coord := NewCoordinator(binding, gate, monitor, nil)

	binding.SetState(device.StatePoweredOff)
	require.Eventually(t, func() bool {
		return monitor.Current() == device.StatePoweredOff
	}, waitTimeout, time.Millisecond)

	_, err := coord.Scan(context.Background(), nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, device.ErrAdapterUnavailable))
	assert.Equal(t, 0, binding.ScanCalls)
}

func TestScanDeduplicatesDevices(t *testing.T) {
	binding := testutils.NewBinding().WithAdvertisements(
		testutils.NewAdvertisement().WithName("Sensor-42").WithAddress("AA:BB").WithRSSI(-70),
		testutils.NewAdvertisement().WithName("Sensor-42").WithAddress("AA:BB").WithRSSI(-55),
		testutils.NewAdvertisement().WithName("Other").WithAddress("CC:DD"),
	)
	coord := newTestCoordinator(t, binding)

	var candidates atomic.Int32
	session, err := coord.Scan(context.Background(), nil, func(*device.Handle) {
		candidates.Add(1)
	})
	require.NoError(t, err)

	// Both advertisements for AA:BB have been replayed by the time the
	// session observes two distinct devices.
	require.Eventually(t, func() bool {
		return len(session.Devices()) == 2
	}, waitTimeout, time.Millisecond)

	session.Stop()
	require.NoError(t, session.Wait())

	assert.Equal(t, int32(2), candidates.Load(), "one candidate per device, repeats update in place")

	var events []DeviceEvent
	for ev := range session.Events() {
		events = append(events, ev)
	}
	require.Len(t, events, 3)
	assert.Equal(t, EventNew, events[0].Type)
	assert.Equal(t, EventUpdated, events[1].Type)
	assert.Equal(t, "AA:BB", events[1].Handle.Address)
	assert.Equal(t, -55, events[1].Handle.RSSI)
	assert.Equal(t, EventNew, events[2].Type)
}

func TestScanSingleSlot(t *testing.T) {
	binding := testutils.NewBinding()
	coord := newTestCoordinator(t, binding)

	first, err := coord.Scan(context.Background(), nil, nil)
	require.NoError(t, err)

	_, err = coord.Scan(context.Background(), nil, nil)
	assert.True(t, errors.Is(err, device.ErrScanAlreadyActive))

	first.Stop()
	require.NoError(t, first.Wait())

	// The slot frees up once the previous session fully stops
	second, err := coord.Scan(context.Background(), nil, nil)
	require.NoError(t, err)
	second.Stop()
	require.NoError(t, second.Wait())
}

func TestScanAdapterErrorSurfacesAsScanFailed(t *testing.T) {
	binding := testutils.NewBinding()
	binding.ScanErr = errors.New("radio fault")
	coord := newTestCoordinator(t, binding)

	session, err := coord.Scan(context.Background(), nil, nil)
	require.NoError(t, err)

	err = session.Wait()
	require.Error(t, err)
	assert.True(t, errors.Is(err, device.ErrScanFailed))
	assert.Equal(t, 1, binding.ScanCalls, "no retry on adapter failure")
}

func TestScanUntilDone(t *testing.T) {
	binding := testutils.NewBinding().WithAdvertisements(
		testutils.NewAdvertisement().WithName("Sensor-42").WithAddress("AA:BB"),
	)
	coord := newTestCoordinator(t, binding)

	devices, err := coord.ScanUntilDone(context.Background(), nil, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "Sensor-42", devices[0].Name)
}

func TestScanForDeviceStopsOnMatch(t *testing.T) {
	binding := testutils.NewBinding().WithAdvertisements(
		testutils.NewAdvertisement().WithName("Other").WithAddress("CC:DD"),
		testutils.NewAdvertisement().WithName("Sensor-42").WithAddress("AA:BB"),
	)
	coord := newTestCoordinator(t, binding)

	start := time.Now()
	handle, err := coord.ScanForDevice(context.Background(), &Filter{Name: "Sensor-42"})
	require.NoError(t, err)
	assert.Equal(t, "AA:BB", handle.Address)
	assert.Less(t, time.Since(start), waitTimeout, "discovery stops on first match, not on timeout")
}

func TestScanForDeviceNotFound(t *testing.T) {
	binding := testutils.NewBinding()
	coord := newTestCoordinator(t, binding)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := coord.ScanForDevice(ctx, &Filter{Name: "Sensor-42"})
	require.Error(t, err)
	var nfe *device.NotFoundError
	assert.True(t, errors.As(err, &nfe))
}

func TestFilterMatches(t *testing.T) {
	adv := testutils.NewAdvertisement().
		WithName("Sensor-42").
		WithAddress("AA:BB").
		WithRSSI(-60).
		WithServices("0000180d-0000-1000-8000-00805f9b34fb")

	tests := []struct {
		name    string
		filter  *Filter
		matches bool
	}{
		{"nil filter matches all", nil, true},
		{"empty filter matches all", &Filter{}, true},
		{"name match", &Filter{Name: "Sensor-42"}, true},
		{"name mismatch", &Filter{Name: "Sensor-43"}, false},
		{"allow list hit", &Filter{AllowList: []string{"AA:BB"}}, true},
		{"allow list miss", &Filter{AllowList: []string{"CC:DD"}}, false},
		{"block list hit", &Filter{BlockList: []string{"AA:BB"}}, false},
		{"block beats allow", &Filter{AllowList: []string{"AA:BB"}, BlockList: []string{"AA:BB"}}, false},
		{"rssi above threshold", &Filter{MinRSSI: -70}, true},
		{"rssi below threshold", &Filter{MinRSSI: -50}, false},
		{"service UUID match in short form", &Filter{ServiceUUIDs: []string{"180d"}}, true},
		{"service UUID mismatch", &Filter{ServiceUUIDs: []string{"180f"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.matches, tt.filter.Matches(adv))
		})
	}
}
