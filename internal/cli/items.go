package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vbonduro/critterkeep/internal/domain"
)

func newItemsCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "List and edit owned and wishlisted variants",
	}
	cmd.AddCommand(
		newItemsListCmd(st),
		newItemsAddCmd(st),
		newItemsMoveCmd(st),
		newItemsRemoveCmd(st),
	)
	return cmd
}

func newItemsListCmd(st *state) *cobra.Command {
	var (
		status string
		family string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items in the collection or wishlist",
		Example: `  critterkeep items list
  critterkeep items list --status wishlist
  critterkeep items list --family 7d3c...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc := st.app.collection

			var (
				items []*domain.OwnedItem
				err   error
			)
			if family != "" {
				items, err = svc.ListByFamily(ctx, family)
			} else {
				s, perr := domain.ParseStatus(status)
				if perr != nil {
					return perr
				}
				items, err = svc.ListByStatus(ctx, s)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "No items.")
				return nil
			}
			printItems(out, items)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", string(domain.StatusCollection), "collection or wishlist")
	cmd.Flags().StringVar(&family, "family", "", "Only list items of this family id (any status)")
	return cmd
}

func printItems(w io.Writer, items []*domain.OwnedItem) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VARIANT\tCRITTER\tFAMILY\tSTATUS\tQTY\tADDED")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			it.VariantID, it.CritterName, it.DisplayFamilyName(), it.Status, it.Quantity, humanize.Time(it.AddedAt))
	}
	_ = tw.Flush()
}

func newItemsAddCmd(st *state) *cobra.Command {
	var (
		status       string
		critterID    string
		critterName  string
		variantName  string
		familyID     string
		familyName   string
		price        float64
		purchaseDate string
		location     string
		condition    string
		notes        string
		quantity     int
	)

	cmd := &cobra.Command{
		Use:   "add <variant-id>",
		Short: "Add an item or update the details of an existing one",
		Long: `Add an item or update the details of an existing one.

Only the flags you pass are written; everything else is left as it was.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := domain.ParseStatus(status)
			if err != nil {
				return err
			}

			var fields domain.ItemFields
			flags := cmd.Flags()
			setIfChanged := func(name string, dst **string, v string) {
				if flags.Changed(name) {
					*dst = &v
				}
			}
			setIfChanged("critter-id", &fields.CritterID, critterID)
			setIfChanged("critter-name", &fields.CritterName, critterName)
			setIfChanged("variant-name", &fields.VariantName, variantName)
			setIfChanged("family-id", &fields.FamilyID, familyID)
			setIfChanged("family-name", &fields.FamilyName, familyName)
			setIfChanged("location", &fields.PurchaseLocation, location)
			setIfChanged("condition", &fields.Condition, condition)
			setIfChanged("notes", &fields.Notes, notes)
			if flags.Changed("price") {
				fields.PricePaid = &price
			}
			if flags.Changed("quantity") {
				fields.Quantity = &quantity
			}
			if flags.Changed("purchase-date") {
				d, err := time.Parse(time.DateOnly, purchaseDate)
				if err != nil {
					return fmt.Errorf("invalid --purchase-date %q: want YYYY-MM-DD", purchaseDate)
				}
				fields.PurchaseDate = &d
			}

			item, err := st.app.collection.Upsert(cmd.Context(), args[0], fields, s)
			if err != nil {
				return err
			}
			ok(cmd.OutOrStdout(), "%s saved to %s", item.VariantID, item.Status)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&status, "status", string(domain.StatusCollection), "collection or wishlist")
	f.StringVar(&critterID, "critter-id", "", "Catalog critter id")
	f.StringVar(&critterName, "critter-name", "", "Critter name")
	f.StringVar(&variantName, "variant-name", "", "Variant name")
	f.StringVar(&familyID, "family-id", "", "Catalog family id")
	f.StringVar(&familyName, "family-name", "", "Family name")
	f.Float64Var(&price, "price", 0, "Price paid")
	f.StringVar(&purchaseDate, "purchase-date", "", "Purchase date (YYYY-MM-DD)")
	f.StringVar(&location, "location", "", "Where it was bought")
	f.StringVar(&condition, "condition", "", "Condition")
	f.StringVar(&notes, "notes", "", "Free-form notes")
	f.IntVar(&quantity, "quantity", 1, "Number owned")
	return cmd
}

func newItemsMoveCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:     "move <variant-id> <collection|wishlist>",
		Short:   "Move an item between the collection and the wishlist",
		Args:    cobra.ExactArgs(2),
		Example: "  critterkeep items move 5b1e... collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := domain.ParseStatus(args[1])
			if err != nil {
				return err
			}
			existing, err := st.app.collection.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if existing == nil {
				return fmt.Errorf("item %s not found", args[0])
			}
			if _, err := st.app.collection.Upsert(ctx, args[0], domain.ItemFields{}, s); err != nil {
				return err
			}
			ok(cmd.OutOrStdout(), "%s moved to %s", args[0], s)
			return nil
		},
	}
}

func newItemsRemoveCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <variant-id>",
		Short: "Remove an item and its photos",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := st.app.collection.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			ok(cmd.OutOrStdout(), "%s removed", args[0])
			return nil
		},
	}
}

func newScanCmd(st *state) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "scan <barcode>",
		Short: "Look up a barcode in the catalog and add the variant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := domain.ParseStatus(status)
			if err != nil {
				return err
			}
			item, err := st.app.collection.ScanBarcode(cmd.Context(), args[0], s)
			if err != nil {
				return err
			}
			ok(cmd.OutOrStdout(), "%s (%s) saved to %s", item.CritterName, item.VariantID, item.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", string(domain.StatusCollection), "collection or wishlist")
	return cmd
}

func newSearchCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search catalog variants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			variants, err := st.app.searcher.Search(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(variants) == 0 {
				fmt.Fprintln(out, "No matches.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "VARIANT\tCRITTER\tNAME\tFAMILY")
			for _, v := range variants {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.ID, v.CritterName, v.Name, v.FamilyName)
			}
			return tw.Flush()
		},
	}
}
