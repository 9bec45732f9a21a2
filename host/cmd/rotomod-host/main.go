// Package main provides the rotomod-host CLI: configuration, live
// streaming, session capture and archive inspection for an encoder
// module connected over a serial port.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"rotomod/host/config"
	"rotomod/host/link"
	"rotomod/host/serial"
)

var (
	flagConfig   string
	flagDevice   string
	flagBaud     int
	flagLogLevel string

	flagWrapPoint int
	flagUnipolar  bool

	flagListen string
	flagDB     string

	flagCSV      bool
	flagDuration time.Duration
	flagDiscard  bool
	flagDelete   int64
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "rotomod-host",
		Short:         "Host tools for the rotary encoder module",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "path to a YAML config file")
	pf.StringVar(&flagDevice, "device", "", "serial device path (overrides config)")
	pf.IntVar(&flagBaud, "baud", 0, "baud rate (overrides config)")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: error, warn, info, debug")

	rootCmd.AddCommand(newPingCmd())
	rootCmd.AddCommand(newPositionCmd())
	rootCmd.AddCommand(newZeroCmd())
	rootCmd.AddCommand(newResetCmd())
	rootCmd.AddCommand(newSetCmd())
	rootCmd.AddCommand(newStreamCmd())
	rootCmd.AddCommand(newMonitorCmd())
	rootCmd.AddCommand(newRecordCmd())
	rootCmd.AddCommand(newPullCmd())
	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newExportCmd())

	return rootCmd
}

// addModuleFlags registers the module setup overrides shared by the
// commands that push configuration to the board.
func addModuleFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&flagWrapPoint, "wrap-point", 0, "wrap point in counts (overrides config)")
	cmd.Flags().BoolVar(&flagUnipolar, "unipolar", false, "unipolar wrap mode (overrides config)")
}

// setup resolves the effective config (defaults, file, flag overrides)
// and builds the logger.
func setup(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg := config.DefaultConfig()
	if flagConfig != "" {
		loaded, err := config.LoadConfigFile(flagConfig)
		if err != nil {
			return cfg, nil, err
		}
		cfg = loaded
	}

	var o config.FlagOverrides
	pf := cmd.Root().PersistentFlags()
	if pf.Changed("device") {
		o.Device = &flagDevice
	}
	if pf.Changed("baud") {
		o.Baud = &flagBaud
	}
	if pf.Changed("log-level") {
		o.LogLevel = &flagLogLevel
	}
	lf := cmd.Flags()
	if lf.Changed("wrap-point") {
		o.WrapPoint = &flagWrapPoint
	}
	if lf.Changed("unipolar") {
		o.Unipolar = &flagUnipolar
	}
	if lf.Changed("listen") {
		o.Listen = &flagListen
	}
	if lf.Changed("db") {
		o.ArchivePath = &flagDB
	}
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, nil, fmt.Errorf("invalid config: %w", err)
	}
	level, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, setupLogger(level), nil
}

// connect opens the serial port and quiesces the module: a board left
// streaming would interleave records with command replies, so the
// stream is stopped, in-flight bytes are dropped and the handshake
// verifies a clean channel.
func connect(cfg config.Config) (*link.Client, serial.Port, error) {
	port, err := serial.Open(&serial.Config{
		Device:      cfg.Serial.Device,
		Baud:        cfg.Serial.Baud,
		ReadTimeout: cfg.Serial.TimeoutMS,
	})
	if err != nil {
		return nil, nil, err
	}

	cl := link.NewClient(port)
	if err := cl.StopStream(); err != nil {
		port.Close()
		return nil, nil, err
	}
	time.Sleep(100 * time.Millisecond)
	if err := port.Flush(); err != nil {
		port.Close()
		return nil, nil, err
	}
	if err := cl.Handshake(); err != nil {
		port.Close()
		return nil, nil, fmt.Errorf("module on %s not responding: %w", cfg.Serial.Device, err)
	}
	return cl, port, nil
}

// configureModule pushes the module section of the config to the board.
func configureModule(cl *link.Client, mc config.ModuleConfig) error {
	if err := cl.SetWrapPoint(int16(mc.WrapPoint)); err != nil {
		return fmt.Errorf("set wrap point: %w", err)
	}
	if err := cl.SetUnipolar(mc.Unipolar); err != nil {
		return fmt.Errorf("set wrap mode: %w", err)
	}
	if vals := mc.ThresholdValues(); len(vals) > 0 {
		if err := cl.SetThresholds(vals); err != nil {
			return fmt.Errorf("set thresholds: %w", err)
		}
	}
	if err := cl.EnableEvents(mc.Events); err != nil {
		return fmt.Errorf("enable events: %w", err)
	}
	if mc.Prefix != 0 {
		if err := cl.SetPrefix(byte(mc.Prefix)); err != nil {
			return fmt.Errorf("set prefix: %w", err)
		}
	}
	if err := cl.SetPeripheralStream(mc.PeripheralStream); err != nil {
		return fmt.Errorf("set peripheral stream: %w", err)
	}
	return nil
}

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the module answers on the serial port",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			start := time.Now()
			cl, port, err := connect(cfg)
			if err != nil {
				return err
			}
			defer port.Close()
			logger.Debug("module handshake ok", "device", cfg.Serial.Device)
			pos, err := cl.Position()
			if err != nil {
				return err
			}
			fmt.Printf("module on %s alive (%.0f ms), position %d\n",
				cfg.Serial.Device, time.Since(start).Seconds()*1000, pos)
			return nil
		},
	}
}

func newPositionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "position",
		Short: "Query the current position",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			cl, port, err := connect(cfg)
			if err != nil {
				return err
			}
			defer port.Close()
			pos, err := cl.Position()
			if err != nil {
				return err
			}
			deg := link.Degrees(pos, int16(cfg.Module.WrapPoint))
			fmt.Printf("position %d (%.2f deg)\n", pos, deg)
			return nil
		},
	}
	addModuleFlags(cmd)
	return cmd
}

func newZeroCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "zero",
		Short: "Set the module position to zero",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			cl, port, err := connect(cfg)
			if err != nil {
				return err
			}
			defer port.Close()
			if err := cl.Zero(); err != nil {
				return err
			}
			pos, err := cl.Position()
			if err != nil {
				return err
			}
			if pos != 0 {
				return fmt.Errorf("zero not applied, module reports %d", pos)
			}
			fmt.Println("position zeroed")
			return nil
		},
	}
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Return the module to its power-on state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			cl, port, err := connect(cfg)
			if err != nil {
				return err
			}
			defer port.Close()
			if err := cl.Reset(); err != nil {
				return err
			}
			// The reset is silent; the handshake confirms it went through.
			if err := cl.Handshake(); err != nil {
				return err
			}
			fmt.Println("module reset")
			return nil
		},
	}
}

func newSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Push the module section of the config to the board",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			cl, port, err := connect(cfg)
			if err != nil {
				return err
			}
			defer port.Close()
			if err := configureModule(cl, cfg.Module); err != nil {
				return err
			}
			logger.Info("module configured",
				"wrap_point", cfg.Module.WrapPoint,
				"unipolar", cfg.Module.Unipolar,
				"thresholds", len(cfg.Module.Thresholds),
				"events", cfg.Module.Events)
			fmt.Println("module configured")
			return nil
		},
	}
	addModuleFlags(cmd)
	return cmd
}
