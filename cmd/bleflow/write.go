package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/bleflow/internal/device"
)

// writeCmd represents the write command
var writeCmd = &cobra.Command{
	Use:   "write <device-address> <data>",
	Short: "Write a value to a characteristic of a device",
	Long: `Connect to a BLE device and write a value to a single characteristic.

Data is interpreted as a UTF-8 string unless --hex is given, in which
case it is decoded as a hex string. Writes without response are chunked
by the binding when the payload exceeds the transport limit.`,
	Args: cobra.ExactArgs(2),
	RunE: runWrite,
}

var (
	writeService    string
	writeChar       string
	writeHex        bool
	writeNoResponse bool
	writeTimeout    time.Duration
)

func init() {
	writeCmd.Flags().StringVarP(&writeService, "service", "s", "", "Service UUID (required)")
	writeCmd.Flags().StringVarP(&writeChar, "char", "c", "", "Characteristic UUID (required)")
	writeCmd.Flags().BoolVar(&writeHex, "hex", false, "Interpret data as a hex string")
	writeCmd.Flags().BoolVar(&writeNoResponse, "no-response", false, "Write without response")
	writeCmd.Flags().DurationVarP(&writeTimeout, "timeout", "t", 0, "Operation timeout (default from config)")
	_ = writeCmd.MarkFlagRequired("service")
	_ = writeCmd.MarkFlagRequired("char")
}

func runWrite(cmd *cobra.Command, args []string) error {
	address := args[0]

	uuids, err := device.ValidateUUID(writeService, writeChar)
	if err != nil {
		return err
	}
	serviceUUID, charUUID := uuids[0], uuids[1]

	data := []byte(args[1])
	if writeHex {
		data, err = hex.DecodeString(args[1])
		if err != nil {
			return fmt.Errorf("invalid hex data: %w", err)
		}
	}
	if len(data) == 0 {
		return fmt.Errorf("data cannot be empty")
	}

	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	progress := NewProgressPrinter(fmt.Sprintf("Writing to %s", address), "Connecting", "Done")
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

	props, _ := catalog.Properties(serviceUUID, charUUID)
	withResponse := !writeNoResponse
	if withResponse && !props.Supports(device.PropWrite) {
		progress.Stop()
		return fmt.Errorf("characteristic %s does not support write with response (properties: %s)",
			device.ShortenUUID(charUUID), props)
	}
	if !withResponse && !props.Supports(device.PropWriteWithoutResponse) {
		progress.Stop()
		return fmt.Errorf("characteristic %s does not support write without response (properties: %s)",
			device.ShortenUUID(charUUID), props)
	}

	timeout := app.cfg.Conn.OperationTimeout
	if writeTimeout > 0 {
		timeout = writeTimeout
	}
	opCtx, opCancel := context.WithTimeout(ctx, timeout)
	defer opCancel()

	err = app.supervisor.Write(opCtx, handle, serviceUUID, charUUID, data, withResponse)
	progress.Callback()("Done")
	if err != nil {
		return err
	}

	fmt.Printf("Wrote %d bytes to %s\n", len(data), device.ShortenUUID(charUUID))
	return nil
}
