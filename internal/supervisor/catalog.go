package supervisor

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/bleflow/internal/device"
)

// ServiceCatalog maps service UUIDs to their characteristics, in discovery
// order. Built once per connection session during profile discovery and
// never mutated afterwards; discarded when the connection drops.
type ServiceCatalog struct {
	services *orderedmap.OrderedMap[string, *orderedmap.OrderedMap[string, device.CharProperties]]
}

func newServiceCatalog(discovered []device.DiscoveredService) *ServiceCatalog {
	services := orderedmap.New[string, *orderedmap.OrderedMap[string, device.CharProperties]]()
	for _, svc := range discovered {
		chars := orderedmap.New[string, device.CharProperties]()
		for _, ch := range svc.Characteristics {
			chars.Set(device.NormalizeUUID(ch.UUID), ch.Properties)
		}
		services.Set(device.NormalizeUUID(svc.UUID), chars)
	}
	return &ServiceCatalog{services: services}
}

// Services returns service UUIDs in discovery order
func (c *ServiceCatalog) Services() []string {
	uuids := make([]string, 0, c.services.Len())
	for pair := c.services.Oldest(); pair != nil; pair = pair.Next() {
		uuids = append(uuids, pair.Key)
	}
	return uuids
}

// Characteristics returns the characteristic UUIDs of a service in
// discovery order; ok is false for unknown services.
func (c *ServiceCatalog) Characteristics(serviceUUID string) ([]string, bool) {
	chars, ok := c.services.Get(device.NormalizeUUID(serviceUUID))
	if !ok {
		return nil, false
	}
	uuids := make([]string, 0, chars.Len())
	for pair := chars.Oldest(); pair != nil; pair = pair.Next() {
		uuids = append(uuids, pair.Key)
	}
	return uuids, true
}

// Properties returns the GATT property bits of a characteristic
func (c *ServiceCatalog) Properties(serviceUUID, charUUID string) (device.CharProperties, bool) {
	chars, ok := c.services.Get(device.NormalizeUUID(serviceUUID))
	if !ok {
		return 0, false
	}
	return chars.Get(device.NormalizeUUID(charUUID))
}

// HasCharacteristic reports whether the service exposes the characteristic
func (c *ServiceCatalog) HasCharacteristic(serviceUUID, charUUID string) bool {
	_, ok := c.Properties(serviceUUID, charUUID)
	return ok
}

// NumServices returns the number of discovered services
func (c *ServiceCatalog) NumServices() int {
	return c.services.Len()
}

// NumCharacteristics returns the total characteristic count across all
// services.
func (c *ServiceCatalog) NumCharacteristics() int {
	n := 0
	for pair := c.services.Oldest(); pair != nil; pair = pair.Next() {
		n += pair.Value.Len()
	}
	return n
}
