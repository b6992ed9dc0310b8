package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/Momat2023/frigo-anti-gaspi/internal/ledger"
	"github.com/Momat2023/frigo-anti-gaspi/internal/store"
	"github.com/Momat2023/frigo-anti-gaspi/internal/ui"
)

var (
	addCategory string
	addLocation string
	addBarcode  string
	addDays     int
	addExpires  string

	listAll bool
)

var addCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add an opened item to the inventory",
	Long: `Add an item to the inventory, dated now.

The expiry can be given as a day count (--days) or a natural-language date
(--expires "in 5 days", --expires "next friday"). With neither, the
category's built-in shelf life applies.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		ctx := context.Background()
		st := openStore(ctx, cfg)
		defer st.Close()

		item := &store.Item{
			ID:         st.NewID(),
			Name:       args[0],
			Category:   store.Category(addCategory),
			Location:   store.Location(addLocation),
			Barcode:    addBarcode,
			TargetDays: addDays,
		}
		if addExpires != "" {
			w := when.New(nil)
			w.Add(en.All...)
			w.Add(common.All...)
			r, err := w.Parse(addExpires, time.Now())
			if err != nil || r == nil {
				fatalf("cannot parse expiry %q", addExpires)
			}
			item.ExpiresAt = r.Time.UnixMilli()
		}
		item.SetDefaults()

		if err := st.Put(ctx, item); err != nil {
			fatalf("adding item: %v", err)
		}
		fmt.Printf("%s Added %s (%s, %d day(s) left)\n",
			ui.RenderPass("✓"), ui.RenderAccent(item.Name), item.Category, item.TargetDays)
		fmt.Printf("   id: %s\n", item.ID)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List inventory items",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		ctx := context.Background()
		st := openStore(ctx, cfg)
		defer st.Close()

		var (
			items []*store.Item
			err   error
		)
		if listAll {
			items, err = st.ListAll(ctx)
		} else {
			items, err = st.ListActive(ctx)
		}
		if err != nil {
			fatalf("listing items: %v", err)
		}
		if len(items) == 0 {
			fmt.Println("No items.")
			return
		}

		now := time.Now().UnixMilli()
		for _, item := range items {
			fmt.Printf("%s  %-24s %-20s %s\n",
				ui.RenderMuted(item.ID), item.Name, item.Category, expiryLabel(item, now))
		}
	},
}

func expiryLabel(item *store.Item, now int64) string {
	if item.Status != store.StatusActive {
		return ui.RenderMuted(string(item.Status))
	}
	daysLeft := (item.ExpiresAt - now) / (24 * 60 * 60 * 1000)
	switch {
	case item.Expired(now):
		return ui.RenderFail("expired")
	case daysLeft <= 1:
		return ui.RenderWarn("expires today/tomorrow")
	default:
		return ui.RenderPass(fmt.Sprintf("%d day(s) left", daysLeft))
	}
}

var eatCmd = &cobra.Command{
	Use:   "eat <id>",
	Short: "Mark an item as eaten",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setItemStatus(args[0], store.StatusEaten, "Eaten")
	},
}

var throwCmd = &cobra.Command{
	Use:   "throw <id>",
	Short: "Mark an item as thrown away",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setItemStatus(args[0], store.StatusThrown, "Thrown away")
	},
}

func setItemStatus(id string, status store.Status, verb string) {
	cfg := loadConfig()
	ctx := context.Background()
	st := openStore(ctx, cfg)
	defer st.Close()

	item, err := st.Get(ctx, id)
	if err != nil {
		fatalf("looking up item: %v", err)
	}
	if item == nil {
		fmt.Fprintf(os.Stderr, "%s Item %s not found\n", ui.RenderWarn("⚠"), id)
		os.Exit(1)
	}
	if err := st.SetStatus(ctx, id, status); err != nil {
		fatalf("updating item: %v", err)
	}
	fmt.Printf("%s %s: %s\n", ui.RenderPass("✓"), verb, item.Name)
}

var scanHistoryFlag bool

var scanCmd = &cobra.Command{
	Use:   "scan [barcode]",
	Short: "Record a scanned barcode",
	Long: `Record a barcode in the scan history.

The history keeps the ten most recent distinct codes, most recent first.
Use --history to print it without recording anything.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		led := ledger.New(openKV(cfg))

		if len(args) == 1 && !scanHistoryFlag {
			if err := led.Push(args[0]); err != nil {
				fatalf("recording scan: %v", err)
			}
			fmt.Printf("%s Recorded %s\n", ui.RenderPass("✓"), args[0])
		}

		history, err := led.List()
		if err != nil {
			fatalf("reading scan history: %v", err)
		}
		if len(history) == 0 {
			fmt.Println("No scans yet.")
			return
		}
		fmt.Printf("\n%s Recent scans\n", ui.RenderAccent("▤"))
		for i, code := range history {
			fmt.Printf("  %2d. %s\n", i+1, code)
		}
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show consumption statistics",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		ctx := context.Background()
		st := openStore(ctx, cfg)
		defer st.Close()

		stats, err := st.ComputeStats(ctx)
		if err != nil {
			fatalf("computing stats: %v", err)
		}

		fmt.Printf("\n%s Inventory statistics\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Active:  %d\n", stats.Active)
		fmt.Printf("Eaten:   %d\n", stats.Consumed)
		fmt.Printf("Thrown:  %d\n", stats.Thrown)
		if stats.Consumed+stats.Thrown > 0 {
			label := fmt.Sprintf("%.0f%%", stats.SuccessRate*100)
			if stats.SuccessRate >= 0.5 {
				label = ui.RenderPass(label)
			} else {
				label = ui.RenderWarn(label)
			}
			fmt.Printf("Eaten rate: %s\n", label)
		}
		fmt.Println()
	},
}

func init() {
	addCmd.Flags().StringVar(&addCategory, "category", "", "food category")
	addCmd.Flags().StringVar(&addLocation, "location", "", "storage location")
	addCmd.Flags().StringVar(&addBarcode, "barcode", "", "product barcode")
	addCmd.Flags().IntVar(&addDays, "days", 0, "shelf life in days")
	addCmd.Flags().StringVar(&addExpires, "expires", "", "expiry as a natural-language date")

	listCmd.Flags().BoolVar(&listAll, "all", false, "include eaten and thrown items")

	scanCmd.Flags().BoolVar(&scanHistoryFlag, "history", false, "print the history without recording")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(eatCmd)
	rootCmd.AddCommand(throwCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(statsCmd)
}
