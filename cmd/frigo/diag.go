package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Momat2023/frigo-anti-gaspi/internal/diag"
	"github.com/Momat2023/frigo-anti-gaspi/internal/kv"
	"github.com/Momat2023/frigo-anti-gaspi/internal/ledger"
	"github.com/Momat2023/frigo-anti-gaspi/internal/store"
)

var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Collect a diagnostics report",
	Long: `Print a JSON diagnostics report covering the record store, cache
buckets, key-value entries and scan history. Broken subsystems produce notes
instead of failing the report; that is what makes it usable for support.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		ctx := context.Background()

		sources := diag.Sources{CacheRoot: cfg.CachePath()}

		// Each source is optional: collect what can be opened.
		if st, err := store.Open(ctx, cfg.DBPath()); err == nil {
			defer st.Close()
			sources.Store = st
		} else {
			fmt.Fprintf(os.Stderr, "note: store unavailable: %v\n", err)
		}
		local := openKV(cfg)
		sources.KV = local
		sources.Ledger = ledger.New(local)
		if id, err := kv.DeviceID(local); err == nil {
			sources.DeviceID = id
		}

		report := diag.Collect(ctx, sources)
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fatalf("encoding report: %v", err)
		}
		fmt.Println(string(out))
	},
}

func init() {
	rootCmd.AddCommand(diagCmd)
}
