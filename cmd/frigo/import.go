package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Momat2023/frigo-anti-gaspi/internal/snapshot"
	"github.com/Momat2023/frigo-anti-gaspi/internal/ui"
)

var (
	importMode string
	importYes  bool
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a JSON snapshot",
	Long: `Validate and import a snapshot produced by 'frigo export'.

Merge mode (the default) upserts the file's items over the existing ones and
keeps everything the file does not mention. Replace mode makes the store's
contents exactly the file's items; a full backup is written automatically
before a replace.

The import is previewed first. Interactively you are asked to confirm;
non-interactive runs need --yes.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		mode := snapshot.Mode(importMode)
		if !mode.Valid() {
			fatalf("unknown mode %q (want merge or replace)", importMode)
		}

		text, err := os.ReadFile(args[0])
		if err != nil {
			fatalf("reading %s: %v", args[0], err)
		}

		cfg := loadConfig()
		ctx := context.Background()
		st := openStore(ctx, cfg)
		defer st.Close()
		engine, _ := newEngine(st, openKV(cfg))

		preview, err := engine.PreviewImport(text)
		if err != nil {
			var parseErr *snapshot.ParseError
			if errors.As(err, &parseErr) {
				fatalf("%v", parseErr)
			}
			fatalf("preview: %v", err)
		}

		fmt.Printf("\n%s Import preview (%s mode)\n\n", ui.RenderAccent("⇩"), mode)
		fmt.Printf("Items in file:   %d\n", preview.TotalItems)
		if preview.DuplicatesInFile > 0 {
			fmt.Printf("Duplicates:      %s\n", ui.RenderWarn(fmt.Sprintf("%d (last occurrence wins)", preview.DuplicatesInFile)))
		}
		if preview.MissingKeyCount > 0 {
			fmt.Printf("Missing key:     %s\n", ui.RenderWarn(fmt.Sprintf("%d (will be skipped)", preview.MissingKeyCount)))
		}
		fmt.Printf("Settings:        %v\n", preview.SettingsPresent)
		fmt.Printf("Scan history:    %d entries\n\n", preview.ScanHistoryCount)

		if !importYes {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				fatalf("refusing to import without confirmation; re-run with --yes")
			}
			confirmed := false
			prompt := huh.NewConfirm().
				Title(fmt.Sprintf("Apply %s import?", mode)).
				Value(&confirmed)
			if mode == snapshot.ModeReplace {
				prompt = prompt.Description("Replace mode deletes every item not in the file.")
			}
			if err := prompt.Run(); err != nil {
				fatalf("confirmation: %v", err)
			}
			if !confirmed {
				fmt.Println("Aborted.")
				return
			}
		}

		if mode == snapshot.ModeReplace {
			path, err := engine.Backup(ctx, cfg.BackupPath())
			if err != nil {
				fatalf("pre-replace backup: %v", err)
			}
			fmt.Printf("%s Backup written to %s\n", ui.RenderPass("✓"), path)
		}

		result, err := engine.Apply(ctx, text, mode)
		if err != nil {
			if result != nil && result.WriteErrors > 0 {
				fmt.Fprintf(os.Stderr, "%s Wrote %d item(s), %d failed\n",
					ui.RenderWarn("⚠"), result.ItemsWritten, result.WriteErrors)
			} else if result != nil && result.ItemsWritten > 0 {
				fmt.Fprintf(os.Stderr, "%s Import failed after writing %d item(s)\n",
					ui.RenderWarn("⚠"), result.ItemsWritten)
			}
			fatalf("import: %v", err)
		}

		fmt.Printf("%s Import complete\n", ui.RenderPass("✓"))
		fmt.Printf("   Written:    %d\n", result.ItemsWritten)
		if result.DuplicatesDropped > 0 {
			fmt.Printf("   Duplicates: %d\n", result.DuplicatesDropped)
		}
		if result.MissingKeySkipped > 0 {
			fmt.Printf("   Skipped:    %d (missing key)\n", result.MissingKeySkipped)
		}
		if result.SettingsImported {
			fmt.Printf("   Settings:   replaced\n")
		}
		if result.HistoryImported {
			fmt.Printf("   History:    replaced\n")
		}
	},
}

func init() {
	importCmd.Flags().StringVar(&importMode, "mode", "merge", "merge or replace")
	importCmd.Flags().BoolVarP(&importYes, "yes", "y", false, "skip the confirmation prompt")
	rootCmd.AddCommand(importCmd)
}
