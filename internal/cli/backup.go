package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/scrypster/recollect/internal/backup"
	"github.com/scrypster/recollect/internal/bootstrap"
)

func newBackupCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot and restore the sqlite database",
		Long: `Manages point-in-time snapshots of the sqlite database.

Snapshots are written to RECOLLECT_BACKUP_DIR (default: <data path>/backups)
and pruned by age: hourly for a day, daily for a week, weekly for a month
and monthly for a year. A worker started with RECOLLECT_BACKUP_INTERVAL_MINUTES
takes snapshots on that schedule.`,
	}
	cmd.AddCommand(newBackupCreateCmd(root), newBackupListCmd(root), newBackupRestoreCmd(root))
	return cmd
}

func (o *rootOptions) backupManager() (*backup.Manager, error) {
	return bootstrap.NewBackupManager(o.cfg, o.logger)
}

func newBackupCreateCmd(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Take a snapshot now",
		Long:  `Takes a verified snapshot. It is safe to run while a worker is processing.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := root.backupManager()
			if err != nil {
				return err
			}
			snap, err := m.Create(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, snap)
			}
			field(out, "snapshot", idStyle.Render(snap.Name))
			field(out, "size", humanize.Bytes(uint64(snap.Size)))
			field(out, "path", dimStyle.Render(snap.Path))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	return cmd
}

func newBackupListCmd(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := root.backupManager()
			if err != nil {
				return err
			}
			snaps, err := m.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				if snaps == nil {
					snaps = []backup.Snapshot{}
				}
				return writeJSON(out, snaps)
			}
			if len(snaps) == 0 {
				fmt.Fprintln(out, dimStyle.Render("no snapshots"))
				return nil
			}
			for _, s := range snaps {
				fmt.Fprintf(out, "%s  %s  %s\n",
					idStyle.Render(s.Name),
					scoreStyle.Render(fmt.Sprintf("%8s", humanize.Bytes(uint64(s.Size)))),
					dimStyle.Render(humanize.Time(s.Taken)))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print snapshots as JSON")
	return cmd
}

func newBackupRestoreCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <snapshot>",
		Short: "Replace the database with a snapshot",
		Long: `Replaces the sqlite database with the named snapshot. Stop every worker
first: the database must not be open while it is replaced.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := root.backupManager()
			if err != nil {
				return err
			}
			if err := m.Restore(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s restored %s\n", okStyle.Render("✓"), args[0])
			return nil
		},
	}
}

// scheduleBackups starts periodic snapshots when an interval is configured
// and the engine is sqlite.
func (o *rootOptions) scheduleBackups(ctx context.Context) {
	minutes := o.cfg.Backup.IntervalMinutes
	if minutes <= 0 {
		return
	}
	m, err := o.backupManager()
	if err != nil {
		o.logger.Warn("scheduled snapshots disabled", "err", err)
		return
	}
	go m.Run(ctx, time.Duration(minutes)*time.Minute)
}
