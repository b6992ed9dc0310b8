package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Momat2023/frigo-anti-gaspi/internal/config"
	"github.com/Momat2023/frigo-anti-gaspi/internal/kv"
	"github.com/Momat2023/frigo-anti-gaspi/internal/ledger"
	"github.com/Momat2023/frigo-anti-gaspi/internal/snapshot"
	"github.com/Momat2023/frigo-anti-gaspi/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "frigo",
	Short: "Offline-first household food inventory",
	Long: `Track opened food items, their expiry, and what you actually ate.

All state lives in a local SQLite database plus a small key-value sidecar.
Exports are versioned JSON snapshots that can be merged or replace-imported
on another device; 'frigo serve' runs the offline-capable shell server with
generation-based cache handover.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default frigo.yaml)")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fatalf("%v", err)
	}
	return cfg
}

func openStore(ctx context.Context, cfg *config.Config) *store.Store {
	st, err := store.Open(ctx, cfg.DBPath())
	if err != nil {
		fatalf("opening store: %v", err)
	}
	return st
}

func openKV(cfg *config.Config) *kv.Store {
	return kv.Open(cfg.KVPath())
}

func newEngine(st *store.Store, local *kv.Store) (*snapshot.Engine, *ledger.Ledger) {
	led := ledger.New(local)
	deviceID, err := kv.DeviceID(local)
	if err != nil {
		fatalf("resolving device id: %v", err)
	}
	return snapshot.New(st, led, deviceID, nil), led
}
