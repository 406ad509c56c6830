package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/notedock/tasklink/internal/journal"
	"github.com/notedock/tasklink/internal/remote"
	"github.com/notedock/tasklink/internal/ui"
)

var statusRemote bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync journal status",
	Long: `Display the current state of the sync journal.

Shows tracked entry counts, queued operations, and the last cycle's
statistics. With --remote, also queries the remote service for its active
task count.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		logger := log.New(os.Stderr, "[tasklink] ", log.LstdFlags)

		if _, err := os.Stat(cfg.Vault.JournalPath); os.IsNotExist(err) {
			fmt.Printf("\n%s No sync journal yet\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'tasklink sync' to create one\n\n")
			return
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

		var orphaned, completed int
		for _, entry := range store.All() {
			if entry.Orphaned {
				orphaned++
			} else if entry.LocalCompleted && entry.RemoteCompleted {
				completed++
			}
		}

		var failed int
		ops := store.PendingOperations()
		for _, op := range ops {
			if op.Status == journal.OpFailed {
				failed++
			}
		}

		fmt.Printf("\n%s Sync Journal Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("%s\n", ui.Field("Journal", cfg.Vault.JournalPath))
		fmt.Printf("%s\n", ui.Field("Tracked tasks", store.EntryCount()))
		fmt.Printf("%s\n", ui.Field("Converged", completed))
		fmt.Printf("%s\n", ui.Field("Orphaned", orphaned))
		fmt.Printf("%s\n", ui.Field("Queued operations", len(ops)))
		if failed > 0 {
			fmt.Printf("%s %s\n", ui.RenderWarn("⚠"), ui.Field("Awaiting retry", failed))
		}

		stats := store.Stats()
		if !stats.LastRunAt.IsZero() {
			fmt.Printf("\n%s Last cycle\n", ui.RenderAccent("🕐"))
			fmt.Printf("%s\n", ui.Field("At", stats.LastRunAt.Format("2006-01-02 15:04:05")))
			fmt.Printf("%s\n", ui.Field("Duration", stats.LastRunDuration))
			fmt.Printf("%s\n", ui.Field("Tasks processed", stats.ItemsProcessed))
			fmt.Printf("%s\n", ui.Field("API calls", stats.APICalls))
			fmt.Printf("%s\n", ui.Field("Errors", stats.Errors))
		}

		if statusRemote {
			client, err := remote.NewClient(remote.ClientConfig{
				BaseURL: cfg.Remote.BaseURL,
				Token:   cfg.Remote.Token,
				Logger:  logger,
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error creating remote client: %v\n", err)
				os.Exit(1)
			}
			tasks, err := client.GetTasks(cmd.Context())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error listing remote tasks: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("\n%s Remote service\n", ui.RenderAccent("🌐"))
			fmt.Printf("%s\n", ui.Field("Active tasks", len(tasks)))
			fmt.Printf("%s %s\n", ui.RenderMuted("note:"), ui.RenderMuted("completed tasks are omitted from bulk listings"))
		}

		fmt.Println()
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusRemote, "remote", false, "also query the remote service")
	rootCmd.AddCommand(statusCmd)
}
