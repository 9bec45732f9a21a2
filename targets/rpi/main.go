//go:build linux

// Linux entry point for boards with character-device GPIO, a Pi or
// similar. The encoder phases come in as GPIO line events with the
// interrupt on phase A, a TCP listener carries the host channel and the
// controller and peripheral links ride optional serial devices. The
// session log lands in a plain file.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tarm/serial"
	"github.com/warthog618/go-gpiocdev"

	"rotomod/core"
	"rotomod/protocol"
	"rotomod/storage"
)

var mod *core.Module

func main() {
	var (
		chip     = flag.String("chip", "gpiochip0", "GPIO character device")
		pinA     = flag.Int("pin-a", 23, "encoder phase A line (edge source)")
		pinB     = flag.Int("pin-b", 24, "encoder phase B line")
		debounce = flag.Duration("debounce", time.Millisecond, "phase A debounce period")
		listen   = flag.String("listen", ":9370", "TCP listen address for the host channel")
		upDev    = flag.String("upstream-device", "", "serial device for the controller link (empty = unwired)")
		downDev  = flag.String("downstream-device", "", "serial device for the peripheral link (empty = unwired)")
		baud     = flag.Int("baud", 115200, "baud rate for the serial links")
		logFile  = flag.String("log-file", "/var/lib/rotomod/session.log", "backing file for the session log")
		logLevel = flag.String("log-level", "info", "log level: error, warn, info, debug")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	}))

	hostNear, hostFar := protocol.NewPipe()

	// A nil clock selects the monotonic wall clock, which is the right
	// timebase on a hosted kernel.
	mod = core.NewModule(core.Options{
		Host:       hostNear,
		Upstream:   serialChannel(*upDev, *baud, logger),
		Downstream: serialChannel(*downDev, *baud, logger),
		LogDevice:  openLogDevice(*logFile, logger),
	})

	bLine, err := gpiocdev.RequestLine(*chip, *pinB,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp)
	if err != nil {
		logger.Error("request phase B line", "chip", *chip, "pin", *pinB, "error", err)
		os.Exit(1)
	}
	defer bLine.Close()

	aLine, err := gpiocdev.RequestLine(*chip, *pinA,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithDebounce(*debounce),
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			b, err := bLine.Value()
			if err != nil {
				return
			}
			mod.HandleEdge(evt.Type == gpiocdev.LineEventRisingEdge, b != 0)
		}))
	if err != nil {
		logger.Error("request phase A line", "chip", *chip, "pin", *pinA, "error", err)
		os.Exit(1)
	}
	defer aLine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serveHost(ctx, *listen, hostFar, logger); err != nil {
		logger.Error("host listener", "addr", *listen, "error", err)
		os.Exit(1)
	}

	logger.Info("module running",
		"chip", *chip, "pin_a", *pinA, "pin_b", *pinB, "listen", *listen)
	mod.Run(ctx)
	logger.Info("module stopped")
}

// serialChannel opens a serial link for the module. A missing device is
// not fatal: the channel stays unwired and the module treats it as
// silent.
func serialChannel(device string, baud int, logger *slog.Logger) protocol.Channel {
	if device == "" {
		return nil
	}
	port, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud})
	if err != nil {
		logger.Warn("serial link unavailable", "device", device, "error", err)
		return nil
	}
	return protocol.NewStreamChannel(port)
}

// openLogDevice opens the session log backing file. On failure the
// module falls back to its in-memory log.
func openLogDevice(path string, logger *slog.Logger) storage.Device {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logger.Warn("session log falls back to memory", "path", path, "error", err)
		return nil
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		logger.Warn("session log falls back to memory", "path", path, "error", err)
		return nil
	}
	return f
}

func parseLevel(s string) slog.Level {
	switch s {
	case "error":
		return slog.LevelError
	case "warn":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
