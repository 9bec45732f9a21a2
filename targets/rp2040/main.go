//go:build rp2040 || rp2350

// Board entry point for Pico-class boards. machine.Serial, which TinyGo
// maps to USB CDC here, carries the host channel; UART0 is the
// controller link and UART1 the peripheral link. The encoder phases sit
// on GPIO14/GPIO15 with the interrupt on phase A, and an SPI SD card
// holds the session log.
package main

import (
	"machine"
	"time"

	"tinygo.org/x/drivers/sdcard"

	"rotomod/core"
	"rotomod/storage"
)

const (
	encoderPinA = machine.GPIO14
	encoderPinB = machine.GPIO15

	upstreamTX = machine.GPIO0
	upstreamRX = machine.GPIO1

	downstreamTX = machine.GPIO4
	downstreamRX = machine.GPIO5

	sdSCK = machine.GPIO10
	sdSDO = machine.GPIO11
	sdSDI = machine.GPIO8
	sdCS  = machine.GPIO9

	linkBaud = 115200
)

var mod *core.Module

func main() {
	// Clear any watchdog state a previous firmware left armed.
	machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})

	// Nothing to report setup errors to this early. A failed link just
	// stays silent, which the identity probe makes visible to the host.
	machine.Serial.Configure(machine.UARTConfig{})
	machine.UART0.Configure(machine.UARTConfig{
		BaudRate: linkBaud, TX: upstreamTX, RX: upstreamRX,
	})
	machine.UART1.Configure(machine.UARTConfig{
		BaudRate: linkBaud, TX: downstreamTX, RX: downstreamRX,
	})

	mod = core.NewModule(core.Options{
		Clock:      &hwClock{},
		Host:       newBoardChannel(machine.Serial),
		Upstream:   newBoardChannel(machine.UART0),
		Downstream: newBoardChannel(machine.UART1),
		LogDevice:  initLogDevice(),
	})

	encoderPinA.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	encoderPinB.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	encoderPinA.SetInterrupt(machine.PinToggle, func(machine.Pin) {
		mod.HandleEdge(encoderPinA.Get(), encoderPinB.Get())
	})

	for {
		if !mod.RunOnce() {
			time.Sleep(50 * time.Microsecond)
		}
	}
}

// initLogDevice brings up the SD card behind a sector cache; the card
// only accepts whole-sector writes. Returning nil selects the in-memory
// fallback log, so a missing card degrades to a short RAM session
// instead of a dead module.
func initLogDevice() storage.Device {
	sd := sdcard.New(machine.SPI1, sdSCK, sdSDO, sdSDI, sdCS)
	if err := sd.Configure(); err != nil {
		return nil
	}
	return storage.NewSectorBuffer(&sd)
}
