package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/bleflow/internal/adapterstate"
	"github.com/srg/bleflow/internal/config"
	"github.com/srg/bleflow/internal/device"
	goble "github.com/srg/bleflow/internal/device/go-ble"
	"github.com/srg/bleflow/internal/diag"
	"github.com/srg/bleflow/internal/permission"
	"github.com/srg/bleflow/internal/scanner"
	"github.com/srg/bleflow/internal/supervisor"
)

// app wires the full coordinator stack for one command invocation
type app struct {
	cfg        *config.Config
	logger     *logrus.Logger
	sink       *diag.Sink
	binding    device.Binding
	gate       *permission.Gate
	monitor    *adapterstate.Monitor
	scanner    *scanner.Coordinator
	supervisor *supervisor.Supervisor
}

// newApp builds the stack from flags and the optional config file. The
// adapter-state monitor is started immediately so commands observe the
// current radio state.
func newApp(cmd *cobra.Command) (*app, error) {
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return nil, err
	}

	sink := diag.NewSink(logger)

	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
		if cmdLevel, _ := cmd.Flags().GetString("log-level"); cmdLevel == "" {
			// No flag override, the file's level applies
			level, err := diag.ParseLevel(cfg.LogLevel)
			if err != nil {
				return nil, fmt.Errorf("config log_level: %w", err)
			}
			sink.SetLevel(level)
		}
	}

	binding := goble.NewBinding(logger)
	gate := permission.NewGate(permission.DesktopPlatform{}, logger)
	monitor := adapterstate.NewMonitor(binding, cfg.Adapter.PollInterval, logger)
	monitor.Start(context.Background())

	return &app{
		cfg:        cfg,
		logger:     logger,
		sink:       sink,
		binding:    binding,
		gate:       gate,
		monitor:    monitor,
		scanner:    scanner.NewCoordinator(binding, gate, monitor, logger),
		supervisor: supervisor.NewSupervisor(binding, monitor, logger),
	}, nil
}

// Close stops background observation
func (a *app) Close() {
	a.monitor.Stop()
}

// connect runs the scan-to-connect handoff for an address: a targeted scan
// finds the device, then the supervisor takes ownership and connects.
func (a *app) connect(ctx context.Context, address string) (*device.Handle, *supervisor.ServiceCatalog, error) {
	scanCtx, cancel := context.WithTimeout(ctx, a.cfg.Scan.Duration)
	defer cancel()

	handle, err := a.scanner.ScanForDevice(scanCtx, &scanner.Filter{AllowList: []string{address}})
	if err != nil {
		a.sink.Report(diag.Event{
			Level:     diag.LevelError,
			Component: "scanner",
			Device:    address,
			Message:   "targeted scan failed",
			Err:       err,
		})
		return nil, nil, fmt.Errorf("device %s not found: %w", address, err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, a.cfg.Conn.ConnectTimeout)
	defer cancel()

	catalog, err := a.supervisor.Connect(connectCtx, handle)
	if err != nil {
		a.sink.Report(diag.Event{
			Level:     diag.LevelError,
			Component: "supervisor",
			Device:    handle.DisplayName(),
			Message:   "connect failed",
			Err:       err,
		})
		return nil, nil, err
	}
	return handle, catalog, nil
}
