package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/notedock/tasklink/internal/engine"
	"github.com/notedock/tasklink/internal/journal"
	"github.com/notedock/tasklink/internal/remote"
	"github.com/notedock/tasklink/internal/taskid"
	"github.com/notedock/tasklink/internal/ui"
	"github.com/notedock/tasklink/internal/vault"
)

var (
	linkFile    string
	linkLine    int
	linkContent string
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Create a remote task linked to a vault task line",
	Long: `Create a task in the remote service and link it to an existing task
line in the vault.

The line number is 1-based. A [remote:: <id>] marker is inserted as a
sub-item under the task line, and the pair is tracked in the sync journal
from then on. When --content is omitted, the task line's own text is used.`,
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

		task, err := eng.CreateLinkedTask(cmd.Context(), linkFile, linkLine-1, remote.NewTaskFields{
			Content: linkContent,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error linking task: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Linked %s:%d to remote task %s\n", ui.RenderPass("✓"), linkFile, linkLine, task.ID)
	},
}

func init() {
	linkCmd.Flags().StringVar(&linkFile, "file", "", "document (vault-relative path)")
	linkCmd.Flags().IntVar(&linkLine, "line", 0, "1-based line number of the task line")
	linkCmd.Flags().StringVar(&linkContent, "content", "", "remote task content (default: the task line text)")
	linkCmd.MarkFlagRequired("file")
	linkCmd.MarkFlagRequired("line")
	rootCmd.AddCommand(linkCmd)
}
