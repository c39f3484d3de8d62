package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/bleflow/internal/device"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read <device-address>",
	Short: "Read a characteristic value from a device",
	Long: `Connect to a BLE device and read a single characteristic value.

The value is printed as a hex string by default; --raw writes the raw
bytes to stdout instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runRead,
}

var (
	readService string
	readChar    string
	readRaw     bool
	readTimeout time.Duration
)

func init() {
	readCmd.Flags().StringVarP(&readService, "service", "s", "", "Service UUID (required)")
	readCmd.Flags().StringVarP(&readChar, "char", "c", "", "Characteristic UUID (required)")
	readCmd.Flags().BoolVar(&readRaw, "raw", false, "Write raw bytes instead of hex")
	readCmd.Flags().DurationVarP(&readTimeout, "timeout", "t", 0, "Operation timeout (default from config)")
	_ = readCmd.MarkFlagRequired("service")
	_ = readCmd.MarkFlagRequired("char")
}

func runRead(cmd *cobra.Command, args []string) error {
	address := args[0]

	uuids, err := device.ValidateUUID(readService, readChar)
	if err != nil {
		return err
	}
	serviceUUID, charUUID := uuids[0], uuids[1]

	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	progress := NewProgressPrinter(fmt.Sprintf("Reading from %s", address), "Connecting", "Done")
	progress.Start()
	defer progress.Stop()

	handle, catalog, err := app.connect(ctx, address)
	if err != nil {
		progress.Stop()
		return err
	}
	defer func() { _ = app.supervisor.Release(handle) }()

	if !catalog.HasCharacteristic(serviceUUID, charUUID) {
		progress.Stop()
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, charUUID}}
	}

	timeout := app.cfg.Conn.OperationTimeout
	if readTimeout > 0 {
		timeout = readTimeout
	}
	opCtx, opCancel := context.WithTimeout(ctx, timeout)
	defer opCancel()

	data, err := app.supervisor.Read(opCtx, handle, serviceUUID, charUUID)
	progress.Callback()("Done")
	if err != nil {
		return err
	}

	if readRaw {
		_, err = os.Stdout.Write(data)
		return err
	}
	fmt.Printf("%s\n", hex.EncodeToString(data))
	return nil
}
