// Command tasklink keeps task completion state in sync between a markdown
// vault and a remote task service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/notedock/tasklink/internal/config"
)

var (
	version = "0.3.0"

	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "tasklink",
	Short: "Sync task completion between a markdown vault and a remote task service",
	Long: `tasklink reconciles checkbox task lines in a markdown vault with their
linked counterparts in a remote task service.

Tasks are linked by a [remote:: <id>] marker on a sub-item. The sync journal
(.tasklink/journal.db inside the vault) is the single source of last-known
state; completion only ever converges to "completed" on both sides.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./tasklink.yaml)")
}

// loadConfig loads the effective configuration for a command.
func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
