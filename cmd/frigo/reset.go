package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Momat2023/frigo-anti-gaspi/internal/lifecycle"
	"github.com/Momat2023/frigo-anti-gaspi/internal/ui"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Factory reset: delete all local data",
	Long: `Delete the record store, the key-value sidecar (including device id
and scan history) and every cache bucket. Consider 'frigo export' first; this
cannot be undone.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		ctx := context.Background()

		if !resetYes {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				fatalf("refusing to reset without confirmation; re-run with --yes")
			}
			confirmed := false
			err := huh.NewConfirm().
				Title("Delete all local data?").
				Description("Store, settings, scan history, device id and caches.").
				Value(&confirmed).
				Run()
			if err != nil {
				fatalf("confirmation: %v", err)
			}
			if !confirmed {
				fmt.Println("Aborted.")
				return
			}
		}

		st := openStore(ctx, cfg)
		if err := st.Destroy(); err != nil {
			fatalf("destroying store: %v", err)
		}

		if err := openKV(cfg).Clear(); err != nil {
			fatalf("clearing key-value data: %v", err)
		}

		names, err := lifecycle.BucketNames(cfg.CachePath())
		if err != nil {
			fatalf("listing cache buckets: %v", err)
		}
		for _, name := range names {
			if err := lifecycle.DeleteBucket(cfg.CachePath(), name); err != nil {
				fatalf("deleting bucket %s: %v", name, err)
			}
		}

		fmt.Printf("%s All local data deleted\n", ui.RenderPass("✓"))
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "skip the confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}
