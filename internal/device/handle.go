package device

import (
	"sort"
	"time"
)

// Handle identifies a peripheral discovered during a scan. It carries only
// advertisement-derived data; connection state lives in the supervisor that
// takes ownership of the handle after the scan hands it off.
type Handle struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name,omitempty"`
	Address            string    `json:"address"`
	RSSI               int       `json:"rssi"`
	TxPower            *int      `json:"txPower,omitempty"`
	Connectable        bool      `json:"connectable"`
	AdvertisedServices []string  `json:"advertisedServices"`
	LastSeen           time.Time `json:"lastSeen"`
}

// NewHandle builds a Handle from an advertisement
func NewHandle(adv Advertisement) *Handle {
	h := &Handle{
		ID:          adv.Addr(),
		Address:     adv.Addr(),
		Name:        adv.LocalName(),
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
		LastSeen:    time.Now(),
	}
	for _, svc := range adv.Services() {
		h.AdvertisedServices = append(h.AdvertisedServices, NormalizeUUID(svc))
	}
	sort.Strings(h.AdvertisedServices)

	// 127 means TX power not available
	if adv.TxPowerLevel() != 127 {
		tx := adv.TxPowerLevel()
		h.TxPower = &tx
	}
	return h
}

// Update refreshes advertisement-derived fields from a newer advertisement
// for the same peripheral.
func (h *Handle) Update(adv Advertisement) {
	h.RSSI = adv.RSSI()
	h.LastSeen = time.Now()

	if name := adv.LocalName(); name != "" {
		h.Name = name
	}

	needsSort := false
	for _, svc := range adv.Services() {
		normalized := NormalizeUUID(svc)
		if !h.hasService(normalized) {
			h.AdvertisedServices = append(h.AdvertisedServices, normalized)
			needsSort = true
		}
	}
	if needsSort {
		sort.Strings(h.AdvertisedServices)
	}

	if adv.TxPowerLevel() != 127 {
		tx := adv.TxPowerLevel()
		h.TxPower = &tx
	}
}

// DisplayName returns the name, falling back to the address for unnamed
// peripherals.
func (h *Handle) DisplayName() string {
	if h.Name == "" {
		return h.Address
	}
	return h.Name
}

func (h *Handle) hasService(uuid string) bool {
	for _, s := range h.AdvertisedServices {
		if s == uuid {
			return true
		}
	}
	return false
}
