package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vbonduro/critterkeep/internal/domain"
	"github.com/vbonduro/critterkeep/internal/imagecache"
)

func newCacheCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the catalog image cache",
	}
	cmd.AddCommand(
		newCacheSizeCmd(st),
		newCacheClearCmd(st),
		newCacheFetchCmd(st),
	)
	return cmd
}

func newCacheSizeCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "size",
		Short: "Show how much disk the image cache uses",
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := st.app.images.Size()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", humanize.Bytes(uint64(size)), st.app.cfg.ImageCachePath)
			return nil
		},
	}
}

func newCacheClearCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached image",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := st.app.images.Clear(); err != nil {
				return err
			}
			ok(cmd.OutOrStdout(), "image cache cleared")
			return nil
		},
	}
}

func newCacheFetchCmd(st *state) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "fetch [url...]",
		Short: "Download images into the cache",
		Long: `Download images into the cache.

With no arguments every image referenced by an item is fetched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			urls := args
			if len(urls) == 0 {
				var err error
				if urls, err = itemImageURLs(ctx, st); err != nil {
					return err
				}
			}
			if len(urls) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to fetch.")
				return nil
			}

			err := st.app.images.Prefetch(ctx, urls, workers).Wait()
			out := cmd.OutOrStdout()
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				warn(out, "some images could not be fetched: %v", err)
			}
			size, serr := st.app.images.Size()
			if serr != nil {
				return serr
			}
			ok(out, "cache holds %s", humanize.Bytes(uint64(size)))
			return nil
		},
	}
	cmd.Flags().IntVar(&workers, "workers", imagecache.DefaultPrefetchWorkers, "Parallel downloads")
	return cmd
}

func itemImageURLs(ctx context.Context, st *state) ([]string, error) {
	var urls []string
	for _, s := range []domain.Status{domain.StatusCollection, domain.StatusWishlist} {
		items, err := st.app.collection.ListByStatus(ctx, s)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			if u := it.DisplayImageURL(); u != "" {
				urls = append(urls, u)
			}
		}
	}
	return urls, nil
}
