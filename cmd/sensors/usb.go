package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/karalabe/hid"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/sensorhub/adapter"
	"github.com/mklimuk/sensorhub/cmd/sensors/console"
	"github.com/mklimuk/sensorhub/config"
)

// usbBridge is a USB to I2C bridge the sensors command can drive.
type usbBridge struct {
	name      string
	adapter   string
	vendorID  uint16
	productID uint16
}

var usbBridges = []usbBridge{
	{name: "MCP2221", adapter: config.AdapterMCP2221, vendorID: adapter.VendorID, productID: adapter.ProductID},
}

func findBridge(dev hid.DeviceInfo) (usbBridge, bool) {
	for _, b := range usbBridges {
		if b.vendorID == dev.VendorID && b.productID == dev.ProductID {
			return b, true
		}
	}
	return usbBridge{}, false
}

// writeHIDTable prints devices with the bridge each one was recognised as.
// With bridgesOnly set, unknown devices are skipped. It returns the number of
// bridges found.
func writeHIDTable(out io.Writer, devices []hid.DeviceInfo, bridgesOnly bool) int {
	w := tabwriter.NewWriter(out, 8, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "PATH\tVENDOR\tPRODUCT\tSERIAL\tDESCRIPTION\tADAPTER\n")
	found := 0
	for _, dev := range devices {
		b, ok := findBridge(dev)
		if ok {
			found++
		} else if bridgesOnly {
			continue
		}
		adapterName := "-"
		if ok {
			adapterName = b.adapter
		}
		_, _ = fmt.Fprintf(w, "%s\t%04x\t%04x\t%s\t%s %s\t%s\n",
			dev.Path, dev.VendorID, dev.ProductID, dev.Serial, dev.Manufacturer, dev.Product, adapterName)
	}
	_ = w.Flush()
	return found
}

var usbCmd = cli.Command{
	Name:  "usb",
	Usage: "list USB HID devices and detect I2C bridges",
	Subcommands: cli.Commands{
		&usbLsCmd,
		&usbDetectCmd,
	},
}

var usbLsCmd = cli.Command{
	Name:  "ls",
	Usage: "list every HID device, marking the ones usable as --adapter",
	Action: func(c *cli.Context) error {
		writeHIDTable(os.Stdout, hid.Enumerate(0, 0), false)
		return nil
	},
}

var usbDetectCmd = cli.Command{
	Name:  "detect",
	Usage: "list attached I2C bridges only",
	Action: func(c *cli.Context) error {
		if writeHIDTable(os.Stdout, hid.Enumerate(0, 0), true) == 0 {
			return console.Exit(console.ExitError, "no supported USB bridge attached")
		}
		return nil
	},
}
