package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/srg/bleflow/internal/device"
	"github.com/srg/bleflow/internal/supervisor"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect <device-address>",
	Short: "Connect to a device and list its services and characteristics",
	Long: `Connect to a BLE device, discover its full GATT profile and print every
service with its characteristics and property bits. The connection is
released before the command exits.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var inspectFormat string

func init() {
	inspectCmd.Flags().StringVarP(&inspectFormat, "format", "f", "table", "Output format (table, json)")
}

// catalogService is the JSON shape of one inspected service
type catalogService struct {
	UUID            string                  `json:"uuid"`
	Characteristics []catalogCharacteristic `json:"characteristics"`
}

type catalogCharacteristic struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	if inspectFormat != "table" && inspectFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be table or json", inspectFormat)
	}
	address := args[0]

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
		cancel()
	}()

	progress := NewProgressPrinter(fmt.Sprintf("Connecting to %s", address), "Scanning", "Ready")
	progress.Start()
	defer progress.Stop()

	handle, catalog, err := app.connect(ctx, address)
	progress.Callback()("Ready")
	if err != nil {
		return err
	}
	defer func() { _ = app.supervisor.Release(handle) }()

	fmt.Printf("Device: %s (%s)\n\n", handle.DisplayName(), handle.Address)
	return displayCatalog(os.Stdout, catalog, inspectFormat)
}

func displayCatalog(out io.Writer, catalog *supervisor.ServiceCatalog, format string) error {
	if format == "json" {
		services := make([]catalogService, 0, catalog.NumServices())
		for _, svc := range catalog.Services() {
			chars, _ := catalog.Characteristics(svc)
			entry := catalogService{UUID: svc}
			for _, ch := range chars {
				props, _ := catalog.Properties(svc, ch)
				entry.Characteristics = append(entry.Characteristics, catalogCharacteristic{
					UUID:       ch,
					Properties: props.String(),
				})
			}
			services = append(services, entry)
		}
		encoder := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(services)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tCHARACTERISTIC\tPROPERTIES")

	for _, svc := range catalog.Services() {
		chars, _ := catalog.Characteristics(svc)
		if len(chars) == 0 {
			fmt.Fprintf(w, "%s\t\t\n", svc)
			continue
		}
		for i, ch := range chars {
			props, _ := catalog.Properties(svc, ch)
			svcCol := ""
			if i == 0 {
				svcCol = svc
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", svcCol, device.ShortenUUID(ch), props)
		}
	}

	return w.Flush()
}
