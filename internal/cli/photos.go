package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newPhotosCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "photos",
		Short: "Manage photos attached to items",
	}
	cmd.AddCommand(
		newPhotosAddCmd(st),
		newPhotosListCmd(st),
		newPhotosRemoveCmd(st),
		newPhotosExportCmd(st),
	)
	return cmd
}

func newPhotosAddCmd(st *state) *cobra.Command {
	var caption string

	cmd := &cobra.Command{
		Use:   "add <variant-id> <image-file>",
		Short: "Attach a photo to an item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[1], err)
			}
			photo, err := st.app.collection.AddPhoto(cmd.Context(), args[0], data, caption)
			if err != nil {
				return err
			}
			ok(cmd.OutOrStdout(), "photo %s added to %s", photo.ID, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&caption, "caption", "", "Photo caption")
	return cmd
}

func newPhotosListCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "list <variant-id>",
		Short: "List an item's photos in display order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			photos, err := st.app.collection.Photos(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(photos) == 0 {
				fmt.Fprintln(out, "No photos.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tPHOTO\tCAPTURED\tCAPTION")
			for _, p := range photos {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", p.SortOrder, p.ID, humanize.Time(p.CapturedAt), p.Caption)
			}
			return tw.Flush()
		},
	}
}

func newPhotosRemoveCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <photo-id>",
		Short: "Delete a photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := st.app.collection.RemovePhoto(cmd.Context(), args[0]); err != nil {
				return err
			}
			ok(cmd.OutOrStdout(), "photo %s removed", args[0])
			return nil
		},
	}
}

func newPhotosExportCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "save <photo-id> <file>",
		Short: "Write a photo's JPEG bytes to a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := st.app.collection.PhotoData(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], data, 0600); err != nil {
				return fmt.Errorf("writing %s: %w", args[1], err)
			}
			ok(cmd.OutOrStdout(), "wrote %s (%s)", args[1], humanize.Bytes(uint64(len(data))))
			return nil
		},
	}
}
