// Package permission gates BLE operations behind platform runtime grants.
//
// The capability set a scan needs depends on the OS generation: older
// Android builds treat location access as a proxy for scan capability,
// newer ones have explicit scan/connect permissions and can skip location
// entirely when the app declares it never derives location from scans.
// Desktop platforms have no runtime prompt at all.
package permission

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/bleflow/internal/device"
)

// Capability is a single grantable BLE capability
type Capability string

const (
	CapabilityScan     Capability = "scan"
	CapabilityConnect  Capability = "connect"
	CapabilityLocation Capability = "location"
)

// explicitScanAPILevel is the first OS API level with dedicated
// scan/connect permissions (Android 12).
const explicitScanAPILevel = 31

// Result holds the per-capability outcome of a permission request
type Result struct {
	granted map[Capability]bool
}

// Granted reports whether the given capability was granted
func (r Result) Granted(cap Capability) bool {
	return r.granted[cap]
}

// AllGranted reports whether every requested capability was granted
func (r Result) AllGranted() bool {
	if len(r.granted) == 0 {
		return false
	}
	for _, ok := range r.granted {
		if !ok {
			return false
		}
	}
	return true
}

// Capabilities returns the capabilities covered by this result
func (r Result) Capabilities() []Capability {
	caps := make([]Capability, 0, len(r.granted))
	for c := range r.granted {
		caps = append(caps, c)
	}
	return caps
}

// Platform describes the OS surface the gate runs on
type Platform interface {
	// APILevel returns the platform API generation, or 0 when the
	// platform has no runtime permission model.
	APILevel() int

	// NeverForLocation reports whether the app declares that scan
	// results are never used to derive physical location.
	NeverForLocation() bool

	// Request prompts for the given capabilities and reports the
	// per-capability outcome. Blocks until the user responds or ctx
	// is cancelled.
	Request(ctx context.Context, caps []Capability) (map[Capability]bool, error)
}

// DesktopPlatform auto-grants everything; desktop OSes gate BLE access at
// the process level, not per capability.
type DesktopPlatform struct{}

func (DesktopPlatform) APILevel() int          { return 0 }
func (DesktopPlatform) NeverForLocation() bool { return true }

func (DesktopPlatform) Request(_ context.Context, caps []Capability) (map[Capability]bool, error) {
	granted := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		granted[c] = true
	}
	return granted, nil
}

// Gate decides whether BLE operations are authorized. All-granted results
// are cached; a denial is re-requested on the next call.
type Gate struct {
	platform Platform
	logger   *logrus.Logger

	mu     sync.Mutex
	cached *Result
}

// NewGate creates a gate over the given platform
func NewGate(platform Platform, logger *logrus.Logger) *Gate {
	if platform == nil {
		platform = DesktopPlatform{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Gate{platform: platform, logger: logger}
}

// RequiredCapabilities returns the capability set the current platform
// needs for scanning and connecting.
func (g *Gate) RequiredCapabilities() []Capability {
	level := g.platform.APILevel()
	if level == 0 {
		return []Capability{CapabilityScan, CapabilityConnect}
	}
	if level < explicitScanAPILevel {
		// Location doubles as the scan grant on older builds
		return []Capability{CapabilityLocation, CapabilityConnect}
	}
	caps := []Capability{CapabilityScan, CapabilityConnect}
	if !g.platform.NeverForLocation() {
		caps = append(caps, CapabilityLocation)
	}
	return caps
}

// EnsureAuthorized requests any missing capabilities and returns the
// resulting grant set. Success means every required capability is granted;
// partial grants fail with ErrPermissionDenied. Repeated calls after a
// full grant return the cached result without prompting.
func (g *Gate) EnsureAuthorized(ctx context.Context) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cached != nil {
		return *g.cached, nil
	}

	caps := g.RequiredCapabilities()
	g.logger.WithFields(logrus.Fields{
		"capabilities": caps,
		"api_level":    g.platform.APILevel(),
	}).Debug("Requesting BLE permissions")

	granted, err := g.platform.Request(ctx, caps)
	if err != nil {
		return Result{}, fmt.Errorf("permission request: %w", err)
	}

	result := Result{granted: make(map[Capability]bool, len(caps))}
	denied := make([]Capability, 0)
	for _, c := range caps {
		ok := granted[c]
		result.granted[c] = ok
		if !ok {
			denied = append(denied, c)
		}
	}

	if len(denied) > 0 {
		g.logger.WithField("denied", denied).Warn("BLE permissions denied")
		return result, fmt.Errorf("%w: %v", device.ErrPermissionDenied, denied)
	}

	g.cached = &result
	return result, nil
}

// Authorized reports whether a full grant has already been obtained
func (g *Gate) Authorized() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cached != nil
}

// Reset clears the cached grant, forcing the next EnsureAuthorized call to
// prompt again.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cached = nil
}
