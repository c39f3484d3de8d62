package device

// AdapterState represents the power/authorization state of the platform
// Bluetooth radio. Transitions are driven by the platform; this package
// only observes them.
type AdapterState int

const (
	StateUnknown AdapterState = iota
	StateResetting
	StateUnsupported
	StateUnauthorized
	StatePoweredOff
	StatePoweredOn
)

var adapterStateNames = map[AdapterState]string{
	StateUnknown:      "unknown",
	StateResetting:    "resetting",
	StateUnsupported:  "unsupported",
	StateUnauthorized: "unauthorized",
	StatePoweredOff:   "powered_off",
	StatePoweredOn:    "powered_on",
}

func (s AdapterState) String() string {
	if name, ok := adapterStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Usable reports whether BLE operations may be attempted in this state.
func (s AdapterState) Usable() bool {
	return s == StatePoweredOn
}
