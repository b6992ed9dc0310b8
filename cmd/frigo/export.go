package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Momat2023/frigo-anti-gaspi/internal/snapshot"
	"github.com/Momat2023/frigo-anti-gaspi/internal/ui"
)

var (
	exportOutput     string
	exportArchived   bool
	exportNoSettings bool
	exportNoHistory  bool
	exportPreview    bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the inventory as a JSON snapshot",
	Long: `Write a versioned JSON snapshot of the inventory to a file or stdout.

By default only active items are exported, together with the settings and
the scan history. The snapshot can be imported on another device with
'frigo import'.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		ctx := context.Background()
		st := openStore(ctx, cfg)
		defer st.Close()
		engine, _ := newEngine(st, openKV(cfg))

		opts := snapshot.Options{
			IncludeArchived:    exportArchived,
			IncludeSettings:    !exportNoSettings,
			IncludeScanHistory: !exportNoHistory,
		}

		if exportPreview {
			preview, err := engine.PreviewExport(ctx, opts)
			if err != nil {
				fatalf("export preview: %v", err)
			}
			fmt.Printf("\n%s Export preview\n\n", ui.RenderAccent("⇪"))
			fmt.Printf("Items:        %d of %d", preview.IncludedItems, preview.TotalItems)
			if !opts.IncludeArchived && preview.ArchivedItems > 0 {
				fmt.Printf(" (%d archived excluded)", preview.ArchivedItems)
			}
			fmt.Println()
			fmt.Printf("Settings:     %v\n", preview.IncludesSettings)
			fmt.Printf("Scan history: %d entries\n\n", preview.ScanHistoryCount)
			return
		}

		snap, err := engine.Export(ctx, opts)
		if err != nil {
			fatalf("export: %v", err)
		}
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			fatalf("encoding snapshot: %v", err)
		}
		data = append(data, '\n')

		if exportOutput == "" || exportOutput == "-" {
			os.Stdout.Write(data)
			return
		}
		if err := os.WriteFile(exportOutput, data, 0644); err != nil {
			fatalf("writing %s: %v", exportOutput, err)
		}
		fmt.Printf("%s Exported %d item(s) to %s\n",
			ui.RenderPass("✓"), len(snap.Items), exportOutput)
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default stdout)")
	exportCmd.Flags().BoolVar(&exportArchived, "archived", false, "include eaten and thrown items")
	exportCmd.Flags().BoolVar(&exportNoSettings, "no-settings", false, "leave settings out")
	exportCmd.Flags().BoolVar(&exportNoHistory, "no-history", false, "leave scan history out")
	exportCmd.Flags().BoolVar(&exportPreview, "preview", false, "show what would be exported")
	rootCmd.AddCommand(exportCmd)
}
