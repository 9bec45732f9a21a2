package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"rotomod/host/archive"
	"rotomod/host/config"
	"rotomod/host/link"
	"rotomod/protocol"
)

func newStreamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Print position samples and events as they arrive",
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

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := cl.StartStream(); err != nil {
				return err
			}
			defer cl.StopStream()

			wp := int16(cfg.Module.WrapPoint)
			if flagCSV {
				fmt.Println("time_us,position,degrees")
			}
			return readRecords(ctx, cl, logger, func(rec link.Record) {
				printRecord(rec, wp, flagCSV, logger)
			})
		},
	}
	addModuleFlags(cmd)
	cmd.Flags().BoolVar(&flagCSV, "csv", false, "write position samples as CSV (events go to the log)")
	return cmd
}

func newRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Capture a session into the module log, then archive it",
		Long: "Starts the on-module session log, waits for the given duration\n" +
			"(or an interrupt), then pulls the log and stores it in the archive.",
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

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if flagDuration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, flagDuration)
				defer cancel()
			}

			if err := cl.StartLog(); err != nil {
				return err
			}
			logger.Info("recording", "device", cfg.Serial.Device, "duration", flagDuration)
			<-ctx.Done()

			if err := cl.StopLog(); err != nil {
				return err
			}
			entries, err := cl.ReadLog()
			if err != nil {
				return err
			}
			return archiveEntries(cfg, logger, entries)
		},
	}
	addModuleFlags(cmd)
	cmd.Flags().StringVar(&flagDB, "db", "", "archive database path (overrides config)")
	cmd.Flags().DurationVar(&flagDuration, "duration", 0, "stop recording after this long (0 = until interrupted)")
	return cmd
}

func newPullCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Pull the module session log into the archive",
		Long: "Reads whatever the module has logged since the last pull and\n" +
			"stores it in the archive. The module clears its log on read.",
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

			if err := cl.StopLog(); err != nil {
				return err
			}
			entries, err := cl.ReadLog()
			if err != nil {
				return err
			}
			if flagDiscard {
				fmt.Printf("discarded %d records\n", len(entries))
				return nil
			}
			return archiveEntries(cfg, logger, entries)
		},
	}
	cmd.Flags().StringVar(&flagDB, "db", "", "archive database path (overrides config)")
	cmd.Flags().BoolVar(&flagDiscard, "discard", false, "drain the module log without archiving it")
	return cmd
}

// readRecords delivers stream records to fn until ctx is done. The
// serial read timeout surfaces as io.EOF on an idle line, which doubles
// as the cancellation poll point. Garbled records are logged and
// skipped so one corrupt byte does not kill a long capture.
func readRecords(ctx context.Context, cl *link.Client, logger *slog.Logger, fn func(link.Record)) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		rec, err := cl.ReadRecord()
		if err == io.EOF {
			continue
		}
		if errors.Is(err, link.ErrBadRecord) {
			logger.Warn("skipping garbled record", "error", err)
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fn(rec)
	}
}

func printRecord(rec link.Record, wrapPoint int16, csv bool, logger *slog.Logger) {
	switch rec.Kind {
	case protocol.TagPosition:
		deg := link.Degrees(rec.Pos, wrapPoint)
		if csv {
			fmt.Printf("%d,%d,%.3f\n", rec.Time, rec.Pos, deg)
		} else {
			fmt.Printf("%10d us  pos %6d  %8.2f deg\n", rec.Time, rec.Pos, deg)
		}
	case protocol.TagEvent:
		if csv {
			logger.Info("event", "source", rec.Source, "code", rec.Code, "time_us", rec.Time)
		} else {
			fmt.Printf("%10d us  event src %d code %d\n", rec.Time, rec.Source, rec.Code)
		}
	}
}

// archiveEntries stores a pulled log in the archive. Archiving uses a
// fresh context so an interrupt that ended the capture does not also
// abort the save.
func archiveEntries(cfg config.Config, logger *slog.Logger, entries []link.LogEntry) error {
	if len(entries) == 0 {
		fmt.Println("module log empty, nothing archived")
		return nil
	}
	ar, err := archive.Open(config.ExpandPath(cfg.Archive.Path))
	if err != nil {
		return err
	}
	defer ar.Close()
	id, err := ar.SaveSession(context.Background(), archive.Session{
		Device:    cfg.Serial.Device,
		WrapPoint: cfg.Module.WrapPoint,
		Unipolar:  cfg.Module.Unipolar,
	}, entries)
	if err != nil {
		return err
	}
	logger.Debug("session archived", "id", id, "records", len(entries))
	fmt.Printf("archived session %d with %d records\n", id, len(entries))
	return nil
}
