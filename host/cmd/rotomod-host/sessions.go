package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"rotomod/host/archive"
	"rotomod/host/config"
	"rotomod/host/link"
)

func openArchive(cfg config.Config) (*archive.Archive, error) {
	return archive.Open(config.ExpandPath(cfg.Archive.Path))
}

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List or delete archived sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			ar, err := openArchive(cfg)
			if err != nil {
				return err
			}
			defer ar.Close()

			ctx := context.Background()
			if flagDelete != 0 {
				if err := ar.DeleteSession(ctx, flagDelete); err != nil {
					return err
				}
				fmt.Printf("deleted session %d\n", flagDelete)
				return nil
			}

			sessions, err := ar.ListSessions(ctx)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("no archived sessions")
				return nil
			}
			fmt.Printf("%-5s %-20s %8s %6s %9s %s\n",
				"ID", "PULLED", "RECORDS", "WRAP", "MODE", "DEVICE")
			for _, s := range sessions {
				mode := "bipolar"
				if s.Unipolar {
					mode = "unipolar"
				}
				fmt.Printf("%-5d %-20s %8d %6d %9s %s\n",
					s.ID, s.PulledAt.Format("2006-01-02 15:04:05"),
					s.Records, s.WrapPoint, mode, s.Device)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flagDB, "db", "", "archive database path (overrides config)")
	cmd.Flags().Int64Var(&flagDelete, "delete", 0, "delete the session with this id instead of listing")
	return cmd
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Write an archived session as CSV to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid session id %q", args[0])
			}
			ar, err := openArchive(cfg)
			if err != nil {
				return err
			}
			defer ar.Close()

			ctx := context.Background()
			sessions, err := ar.ListSessions(ctx)
			if err != nil {
				return err
			}
			var ses *archive.Session
			for i := range sessions {
				if sessions[i].ID == id {
					ses = &sessions[i]
					break
				}
			}
			if ses == nil {
				return fmt.Errorf("no session with id %d", id)
			}

			entries, err := ar.Samples(ctx, id)
			if err != nil {
				return err
			}
			fmt.Println("seq,time_us,position,degrees")
			for i, e := range entries {
				// Logged positions come from a 16-bit counter, so the
				// narrowing cast cannot truncate.
				deg := link.Degrees(int16(e.Position), int16(ses.WrapPoint))
				fmt.Printf("%d,%d,%d,%.3f\n", i, e.Time, e.Position, deg)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flagDB, "db", "", "archive database path (overrides config)")
	return cmd
}
