package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/karalabe/hid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/sensorhub/adapter"
)

var hidDevices = []hid.DeviceInfo{
	{Path: "/dev/hidraw0", VendorID: 0x046d, ProductID: 0xc52b, Manufacturer: "Logitech", Product: "USB Receiver"},
	{Path: "/dev/hidraw3", VendorID: adapter.VendorID, ProductID: adapter.ProductID, Serial: "0001234567",
		Manufacturer: "Microchip Technology Inc.", Product: "MCP2221 USB-I2C/UART Combo"},
}

func TestWriteHIDTable_MarksBridges(t *testing.T) {
	var out bytes.Buffer
	found := writeHIDTable(&out, hidDevices, false)
	assert.Equal(t, 1, found)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "/dev/hidraw0"))
	assert.True(t, strings.HasSuffix(strings.TrimSpace(lines[1]), "-"))
	assert.Contains(t, lines[2], "04d8")
	assert.Contains(t, lines[2], "00dd")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(lines[2]), "mcp2221"))
}

func TestWriteHIDTable_BridgesOnly(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 1, writeHIDTable(&out, hidDevices, true))
	assert.NotContains(t, out.String(), "hidraw0")
	assert.Contains(t, out.String(), "hidraw3")

	out.Reset()
	assert.Equal(t, 0, writeHIDTable(&out, hidDevices[:1], true))
	assert.Equal(t, 1, strings.Count(out.String(), "\n"))
}
