package cli

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vbonduro/critterkeep/internal/domain"
	"github.com/vbonduro/critterkeep/internal/store"
	"github.com/vbonduro/critterkeep/internal/syncer"
)

func newSyncCmd(st *state) *cobra.Command {
	var (
		force bool
		watch time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Refresh the cached family list from the catalog",
		Long: `Refresh the cached family list from the catalog.

The cache is only refreshed when it is older than SYNC_INTERVAL_DAYS unless
--force is given. With --watch the command keeps running and re-checks on
that period until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch > 0 {
				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				if err := st.app.syncer.Run(ctx, watch); err != nil && ctx.Err() == nil {
					return err
				}
				return nil
			}

			result, err := st.app.syncer.SyncFamilies(cmd.Context(), force)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch result.Status {
			case syncer.StatusSynced:
				ok(out, "synced %d families", result.Families)
			case syncer.StatusSkipped:
				ok(out, "family cache is fresh (synced %s); use --force to refresh", humanize.Time(result.SyncedAt))
			case syncer.StatusInProgress:
				warn(out, "a sync is already running")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Sync even if the cache is fresh")
	cmd.Flags().DurationVar(&watch, "watch", 0, "Keep running and re-check on this period")
	return cmd
}

func newStatusCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show collection counts, sync and backup state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a := st.app
			out := cmd.OutOrStdout()

			counts, err := a.collection.Counts(ctx)
			if err != nil {
				return err
			}
			header(out, "Collection")
			fmt.Fprintf(out, "  owned:     %d\n", counts[domain.StatusCollection])
			fmt.Fprintf(out, "  wishlist:  %d\n", counts[domain.StatusWishlist])

			families, err := a.families.List(ctx)
			if err != nil {
				return err
			}
			syncStatus, err := a.syncer.Status(ctx)
			if err != nil {
				return err
			}
			header(out, "Families")
			fmt.Fprintf(out, "  cached:    %d\n", len(families))
			fmt.Fprintf(out, "  last sync: %s\n", since(syncStatus.LastSyncAt))
			if syncStatus.Due {
				fmt.Fprintf(out, "  %s\n", color.YellowString("sync due"))
			}
			if syncStatus.LastError != "" {
				fmt.Fprintf(out, "  %s %s\n", color.RedString("last error:"), syncStatus.LastError)
			}

			lastBackup, err := a.settings.GetTime(ctx, store.SettingLastBackup)
			if err != nil {
				return err
			}
			backupErr, _, err := a.settings.Get(ctx, store.SettingLastBackupError)
			if err != nil {
				return err
			}
			header(out, "Backup")
			fmt.Fprintf(out, "  last backup: %s\n", since(lastBackup))
			if backupErr != "" {
				fmt.Fprintf(out, "  %s %s\n", color.RedString("last error:"), backupErr)
			}

			size, err := a.images.Size()
			if err != nil {
				return err
			}
			header(out, "Image cache")
			fmt.Fprintf(out, "  size: %s of %s\n", humanize.Bytes(uint64(size)), humanize.Bytes(uint64(a.cfg.ImageCacheMaxBytes)))
			return nil
		},
	}
}

func since(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return humanize.Time(*t)
}
