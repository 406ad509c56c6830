package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/notedock/tasklink/internal/engine"
	"github.com/notedock/tasklink/internal/journal"
	"github.com/notedock/tasklink/internal/remote"
	"github.com/notedock/tasklink/internal/taskid"
	"github.com/notedock/tasklink/internal/ui"
	"github.com/notedock/tasklink/internal/vault"
)

var (
	syncTaskID string
	syncFile   string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle and exit",
	Long: `Run a single sync cycle in the foreground.

Without flags this is a full cycle: discovery, change detection, operation
execution, retry of due failed operations, and path reconciliation. Use
--task or --file to scope the sync to one task or one document.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		logger := log.New(os.Stderr, "[tasklink] ", log.LstdFlags)

		docs, err := vault.NewDir(cfg.Vault.Dir, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening vault: %v\n", err)
			os.Exit(1)
		}

		store, err := journal.Open(cfg.Vault.JournalPath, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening journal: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		if err := store.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading journal: %v\n", err)
			os.Exit(1)
		}

		client, err := remote.NewClient(remote.ClientConfig{
			BaseURL: cfg.Remote.BaseURL,
			Token:   cfg.Remote.Token,
			Logger:  logger,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating remote client: %v\n", err)
			os.Exit(1)
		}

		eng := engine.New(engineConfig(cfg, logger), store, docs, client, taskid.New(client, logger))

		start := time.Now()
		switch {
		case syncTaskID != "":
			fmt.Printf("%s Syncing task %s...\n", ui.RenderAccent("🔄"), syncTaskID)
			err = eng.SyncSingleTask(cmd.Context(), syncTaskID)
		case syncFile != "":
			fmt.Printf("%s Syncing %s...\n", ui.RenderAccent("🔄"), syncFile)
			err = eng.SyncTaskedDocument(cmd.Context(), syncFile)
		default:
			fmt.Printf("%s Syncing vault %s...\n", ui.RenderAccent("🔄"), cfg.Vault.Dir)
			err = eng.PerformSync(cmd.Context())
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
			os.Exit(1)
		}

		stats := eng.Stats()
		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		fmt.Printf("   %s\n", ui.Field("Tasks processed", stats.ItemsProcessed))
		fmt.Printf("   %s\n", ui.Field("API calls", stats.APICalls))
		if stats.Errors > 0 {
			fmt.Printf("   %s %s\n", ui.RenderWarn("⚠"), ui.Field("Errors", stats.Errors))
		}
		if pending := len(store.PendingOperations()); pending > 0 {
			fmt.Printf("   %s\n", ui.Field("Operations awaiting retry", pending))
		}
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncTaskID, "task", "", "sync only the task with this remote id")
	syncCmd.Flags().StringVar(&syncFile, "file", "", "sync only this document (vault-relative path)")
	syncCmd.MarkFlagsMutuallyExclusive("task", "file")
	rootCmd.AddCommand(syncCmd)
}
