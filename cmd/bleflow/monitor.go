package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/bleflow/internal/device"
	"github.com/srg/bleflow/internal/ptyio"
	"github.com/srg/bleflow/internal/supervisor"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor <device-address>",
	Short: "Stream characteristic notifications from a device",
	Long: `Connect to a BLE device, subscribe to characteristic notifications and
stream them until interrupted.

Without --char the command subscribes to every notifiable characteristic
of the service. With --pty the notification payloads are additionally
mirrored to a pseudo-terminal, so external tools can consume the stream
as a serial device; bytes written to the tty are forwarded to the
characteristic named by --write-char.`,
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

var (
	monitorService   string
	monitorChars     []string
	monitorPTY       bool
	monitorWriteChar string
	monitorHexDump   bool
)

func init() {
	monitorCmd.Flags().StringVarP(&monitorService, "service", "s", "", "Service UUID (required)")
	monitorCmd.Flags().StringSliceVarP(&monitorChars, "char", "c", nil, "Characteristic UUIDs (default: all notifiable)")
	monitorCmd.Flags().BoolVar(&monitorPTY, "pty", false, "Mirror the stream to a pseudo-terminal")
	monitorCmd.Flags().StringVar(&monitorWriteChar, "write-char", "", "Characteristic for tty input (requires --pty)")
	monitorCmd.Flags().BoolVar(&monitorHexDump, "hex", true, "Print payloads as hex (false: raw text)")
	_ = monitorCmd.MarkFlagRequired("service")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	address := args[0]

	uuids, err := device.ValidateUUID(monitorService)
	if err != nil {
		return err
	}
	serviceUUID := uuids[0]

	var charUUIDs []string
	if len(monitorChars) > 0 {
		charUUIDs, err = device.ValidateUUID(monitorChars...)
		if err != nil {
			return err
		}
	}

	var writeCharUUID string
	if monitorWriteChar != "" {
		if !monitorPTY {
			return fmt.Errorf("--write-char requires --pty")
		}
		wc, err := device.ValidateUUID(monitorWriteChar)
		if err != nil {
			return err
		}
		writeCharUUID = wc[0]
	}

	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, stopping monitor...")
		cancel()
	}()

	progress := NewProgressPrinter(fmt.Sprintf("Connecting to %s", address), "Scanning", "Ready")
	progress.Start()

	handle, catalog, err := app.connect(ctx, address)
	progress.Callback()("Ready")
	if err != nil {
		return err
	}
	defer func() { _ = app.supervisor.Release(handle) }()

	if writeCharUUID != "" && !catalog.HasCharacteristic(serviceUUID, writeCharUUID) {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, writeCharUUID}}
	}

	// A drop during monitoring ends the command; reconnection is the
	// user's call.
	lost := make(chan struct{})
	reg := app.supervisor.OnUnexpectedDisconnect(handle, func(*device.Handle) {
		close(lost)
	})
	defer reg.Cancel()

	stream, err := app.supervisor.Subscribe(handle, serviceUUID, charUUIDs)
	if err != nil {
		return err
	}
	defer stream.Stop()

	var tty ptyio.PTY
	if monitorPTY {
		tty, err = ptyio.NewPty(0, 0, app.logger)
		if err != nil {
			return err
		}
		defer tty.Close()

		fmt.Printf("PTY: %s\n", tty.TTYName())
		if writeCharUUID != "" {
			tty.SetReadCallback(func(data []byte) {
				buf := make([]byte, len(data))
				copy(buf, data)
				opCtx, opCancel := context.WithTimeout(ctx, app.cfg.Conn.OperationTimeout)
				defer opCancel()
				if werr := app.supervisor.Write(opCtx, handle, serviceUUID, writeCharUUID, buf, false); werr != nil {
					app.logger.WithError(werr).Warn("Failed to forward tty input")
				}
			})
		}
	}

	fmt.Printf("Monitoring %s, press Ctrl+C to stop\n", handle.DisplayName())

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-lost:
			return ErrConnectionLost
		case n, ok := <-stream.C():
			if !ok {
				select {
				case <-lost:
					return ErrConnectionLost
				default:
					return nil
				}
			}
			printNotification(n)
			if tty != nil {
				if _, werr := tty.Write(n.Data); werr != nil {
					app.logger.WithError(werr).Warn("Failed to mirror notification to tty")
				}
			}
		}
	}
}

func printNotification(n supervisor.Notification) {
	payload := string(n.Data)
	if monitorHexDump {
		payload = hex.EncodeToString(n.Data)
	}
	fmt.Printf("%s %s %s\n", n.Ts.Format(time.RFC3339Nano), device.ShortenUUID(n.CharUUID), payload)
}
