package cli

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newBackupCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export the collection to a zip archive or merge one back in",
	}
	cmd.AddCommand(
		newBackupExportCmd(st),
		newBackupImportCmd(st),
	)
	return cmd
}

func newBackupExportCmd(st *state) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a backup archive with every item and photo",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = st.app.cfg.BackupDir
			}
			path, m, err := st.app.backup.ExportFile(cmd.Context(), dir)
			if err != nil {
				return err
			}

			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			ok(cmd.OutOrStdout(), "exported %d items and %d photos to %s (%s)",
				len(m.OwnedVariants), len(m.Photos), path, humanize.Bytes(uint64(info.Size())))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Directory to write the archive to (default: BACKUP_DIR)")
	return cmd
}

func newBackupImportCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "import <archive>",
		Short: "Merge a backup archive into the collection",
		Long: `Merge a backup archive into the collection.

Nothing is deleted. Items already present take the archived status and
purchase details; photos already present are skipped. A bare manifest.json
from older exports is accepted too.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := st.app.backup.ImportFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			ok(out, "items: %d new, %d updated (of %d)", res.Imported, res.Updated, res.TotalInArchive)
			ok(out, "photos: %d new, %d already present (of %d)", res.PhotosImported, res.PhotosSkipped, res.TotalPhotosInArchive)
			if res.PhotosFailed > 0 {
				warn(out, "%d photos could not be restored; see the log for details", res.PhotosFailed)
			}
			return nil
		},
	}
}

func newResetCmd(st *state) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every item and photo",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete the collection without --yes")
			}
			if err := st.app.collection.Reset(cmd.Context()); err != nil {
				return err
			}
			ok(cmd.OutOrStdout(), "collection cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deleting everything")
	return cmd
}
