package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/notedock/tasklink/internal/config"
	"github.com/notedock/tasklink/internal/ui"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [vault-dir]",
	Short: "Write a starter tasklink.yaml",
	Long: `Write a tasklink.yaml in the current directory with the default
configuration. Pass the vault directory as an argument, or edit the file
afterwards; remote.base_url and remote.token must be filled in before the
daemon can run.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		const path = "tasklink.yaml"

		if _, err := os.Stat(path); err == nil && !initForce {
			fmt.Fprintf(os.Stderr, "Error: %s already exists (use --force to overwrite)\n", path)
			os.Exit(1)
		}

		cfg := config.DefaultConfig()
		if len(args) == 1 {
			cfg.Vault.Dir = args[0]
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding config: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", path, err)
			os.Exit(1)
		}

		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		if cfg.Vault.Dir == "" {
			fmt.Printf("%s\n", ui.RenderMuted("Set vault.dir, remote.base_url, and remote.token before running the daemon."))
		} else {
			fmt.Printf("%s\n", ui.RenderMuted("Set remote.base_url and remote.token before running the daemon."))
		}
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing tasklink.yaml")
	rootCmd.AddCommand(initCmd)
}
