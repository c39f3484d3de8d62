package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/bleflow/internal/device"
)

const (
	// DefaultBLEWriteChunkSize is the maximum number of bytes to write in a
	// single BLE operation. BLE 4.0/4.1 defines an ATT_MTU of 23 bytes
	// (20 bytes payload after ATT header overhead); 20-byte chunks work on
	// every BLE version.
	DefaultBLEWriteChunkSize = 20

	// DefaultBLEWriteDelay is the delay between consecutive write chunks,
	// keeping the peripheral's receive buffer from overflowing.
	DefaultBLEWriteDelay = 10 * time.Millisecond
)

// BLEClient wraps ble.Client to implement device.Client. Characteristic
// handles are cached during profile discovery and looked up by normalized
// service/characteristic UUID afterwards.
type BLEClient struct {
	client ble.Client
	logger *logrus.Logger

	mu    sync.RWMutex
	chars map[string]*ble.Characteristic // key: svcUUID + "/" + charUUID, normalized
}

// NewBLEClient wraps a connected ble.Client
func NewBLEClient(cli ble.Client, logger *logrus.Logger) *BLEClient {
	if logger == nil {
		logger = logrus.New()
	}
	return &BLEClient{
		client: cli,
		logger: logger,
		chars:  make(map[string]*ble.Characteristic),
	}
}

func charKey(serviceUUID, charUUID string) string {
	return device.NormalizeUUID(serviceUUID) + "/" + device.NormalizeUUID(charUUID)
}

// ctxDoneError classifies an abandoned operation: an expired deadline is a
// timeout, caller cancellation passes through untouched.
func ctxDoneError(ctx context.Context, op string) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %s: %v", device.ErrTimedOut, op, ctx.Err())
}

// DiscoverProfile enumerates services and characteristics, caching live
// characteristic handles for later read/write/subscribe lookups.
func (c *BLEClient) DiscoverProfile(ctx context.Context) ([]device.DiscoveredService, error) {
	type profileResult struct {
		profile *ble.Profile
		err     error
	}
	resCh := make(chan profileResult, 1)
	go func() {
		p, err := c.client.DiscoverProfile(true)
		resCh <- profileResult{profile: p, err: err}
	}()

	var profile *ble.Profile
	select {
	case <-ctx.Done():
		return nil, ctxDoneError(ctx, "profile discovery")
	case res := <-resCh:
		if res.err != nil {
			return nil, NormalizeError(res.err)
		}
		profile = res.profile
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]device.DiscoveredService, 0, len(profile.Services))
	for _, bleSvc := range profile.Services {
		svcUUID := device.NormalizeUUID(bleSvc.UUID.String())
		c.logger.WithField("service_uuid", svcUUID).Debug("Found service UUID")

		svc := device.DiscoveredService{UUID: svcUUID}
		for _, bleChar := range bleSvc.Characteristics {
			charUUID := device.NormalizeUUID(bleChar.UUID.String())
			c.logger.WithFields(logrus.Fields{
				"service_uuid": svcUUID,
				"char_uuid":    charUUID,
			}).Debug("Found characteristic UUID")

			c.chars[svcUUID+"/"+charUUID] = bleChar
			svc.Characteristics = append(svc.Characteristics, device.DiscoveredCharacteristic{
				UUID:       charUUID,
				Properties: device.CharProperties(bleChar.Property),
			})
		}
		result = append(result, svc)
	}
	return result, nil
}

// findChar resolves a cached characteristic handle
func (c *BLEClient) findChar(serviceUUID, charUUID string) (*ble.Characteristic, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	char, ok := c.chars[charKey(serviceUUID, charUUID)]
	if !ok {
		return nil, &device.NotFoundError{
			Resource: "characteristic",
			UUIDs:    []string{serviceUUID, charUUID},
		}
	}
	return char, nil
}

// ReadCharacteristic reads the current value of a characteristic
func (c *BLEClient) ReadCharacteristic(ctx context.Context, serviceUUID, charUUID string) ([]byte, error) {
	char, err := c.findChar(serviceUUID, charUUID)
	if err != nil {
		return nil, err
	}

	type readResult struct {
		data []byte
		err  error
	}
	resCh := make(chan readResult, 1)
	go func() {
		data, err := c.client.ReadCharacteristic(char)
		resCh <- readResult{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctxDoneError(ctx, "read "+charUUID)
	case res := <-resCh:
		if res.err != nil {
			return nil, NormalizeError(res.err)
		}
		return res.data, nil
	}
}

// WriteCharacteristic writes data to a characteristic. Writes without
// response are chunked to the lowest common ATT payload size.
func (c *BLEClient) WriteCharacteristic(ctx context.Context, serviceUUID, charUUID string, data []byte, withResponse bool) error {
	char, err := c.findChar(serviceUUID, charUUID)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if withResponse {
			errCh <- c.client.WriteCharacteristic(char, data, false)
			return
		}
		// Chunked write-without-response
		for len(data) > 0 {
			n := len(data)
			if n > DefaultBLEWriteChunkSize {
				n = DefaultBLEWriteChunkSize
			}
			if err := c.client.WriteCharacteristic(char, data[:n], true); err != nil {
				errCh <- err
				return
			}
			data = data[n:]
			time.Sleep(DefaultBLEWriteDelay)
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return ctxDoneError(ctx, "write "+charUUID)
	case err := <-errCh:
		if err != nil {
			return NormalizeError(err)
		}
		return nil
	}
}

// Subscribe enables notifications (or indications when the characteristic
// only supports those) for a characteristic.
func (c *BLEClient) Subscribe(serviceUUID, charUUID string, fn func(data []byte)) error {
	char, err := c.findChar(serviceUUID, charUUID)
	if err != nil {
		return err
	}

	useIndicate := false
	if char.Property&ble.CharNotify == 0 {
		if char.Property&ble.CharIndicate == 0 {
			return fmt.Errorf("characteristic %s supports neither notify nor indicate", charUUID)
		}
		useIndicate = true
	}

	if err := c.client.Subscribe(char, useIndicate, func(data []byte) {
		fn(data)
	}); err != nil {
		return NormalizeError(err)
	}

	c.logger.WithFields(logrus.Fields{
		"serviceUUID": serviceUUID,
		"charUUID":    charUUID,
		"indicate":    useIndicate,
	}).Debug("Subscribed to characteristic notifications")
	return nil
}

// Unsubscribe disables both notify and indicate modes. Returns an error
// only if both modes fail, mirroring the loose pairing some peripherals
// have between subscription mode and CCCD state.
func (c *BLEClient) Unsubscribe(serviceUUID, charUUID string) error {
	char, err := c.findChar(serviceUUID, charUUID)
	if err != nil {
		return err
	}

	err1 := c.client.Unsubscribe(char, false) // notify
	err2 := c.client.Unsubscribe(char, true)  // indicate

	if err1 != nil && err2 != nil {
		c.logger.WithFields(logrus.Fields{
			"serviceUUID": serviceUUID,
			"charUUID":    charUUID,
			"notifyErr":   err1,
			"indicateErr": err2,
		}).Error("Failed to unsubscribe from characteristic notifications")
		return fmt.Errorf("%s: notify=%v, indicate=%v", charUUID, err1, err2)
	}
	return nil
}

// Disconnected returns a channel closed when the link drops
func (c *BLEClient) Disconnected() <-chan struct{} {
	return c.client.Disconnected()
}

// CancelConnection tears the connection down
func (c *BLEClient) CancelConnection() error {
	if err := c.client.CancelConnection(); err != nil {
		return NormalizeError(err)
	}
	return nil
}
