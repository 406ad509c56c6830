package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/notedock/tasklink/internal/config"
	"github.com/notedock/tasklink/internal/dashboard"
	"github.com/notedock/tasklink/internal/engine"
	"github.com/notedock/tasklink/internal/journal"
	"github.com/notedock/tasklink/internal/remote"
	"github.com/notedock/tasklink/internal/taskid"
	"github.com/notedock/tasklink/internal/ui"
	"github.com/notedock/tasklink/internal/vault"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon (foreground)",
	Long: `Run the sync daemon in the foreground.

The daemon:
  1. Loads the sync journal and arms the cycle timer
  2. Watches the vault for saves and syncs changed documents
  3. Runs a full sync cycle on the configured interval
  4. Serves the WebSocket dashboard when enabled

Press Ctrl+C to stop; the journal is flushed on shutdown.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		logger := daemonLogger(cfg)

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

		var dash *dashboard.Server
		if cfg.Dashboard.Enabled {
			dash = dashboard.NewServer(&dashboard.Config{Port: cfg.Dashboard.Port, Logger: logger})
			if err := dash.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error starting dashboard: %v\n", err)
				os.Exit(1)
			}
			defer dash.Stop()

			handler := dashboard.NewHandler(dash, store, logger)
			eng.OnCycleComplete = handler.OnCycleComplete
			handler.OnEngineStatus("started")
			defer handler.OnEngineStatus("stopped")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := eng.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting engine: %v\n", err)
			os.Exit(1)
		}

		var watcher *engine.VaultWatcher
		if cfg.Sync.WatchVault {
			watcher, err = engine.NewVaultWatcher(cfg.Vault.Dir, eng, logger)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error creating vault watcher: %v\n", err)
				os.Exit(1)
			}
			if err := watcher.Start(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Error starting vault watcher: %v\n", err)
				os.Exit(1)
			}
		}

		fmt.Printf("%s tasklink daemon running\n", ui.RenderAccent("🔄"))
		fmt.Printf("   Vault: %s\n", cfg.Vault.Dir)
		fmt.Printf("   Journal: %s\n", cfg.Vault.JournalPath)
		fmt.Printf("   Interval: %s\n", cfg.Sync.Interval)
		if dash != nil {
			fmt.Printf("   Dashboard: http://localhost:%d\n", cfg.Dashboard.Port)
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		<-ctx.Done()

		fmt.Printf("\n%s Shutting down...\n", ui.RenderWarn("⏹"))
		if watcher != nil {
			if err := watcher.Stop(); err != nil {
				logger.Printf("Warning: watcher stop: %v", err)
			}
		}
		if err := eng.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping engine: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Journal flushed\n", ui.RenderPass("✓"))
	},
}

// daemonLogger writes to stderr and, when configured, a rotating log file.
func daemonLogger(cfg *config.Config) *log.Logger {
	var out io.Writer = os.Stderr
	if cfg.Log.File != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		})
	}
	return log.New(out, "[tasklink] ", log.LstdFlags)
}

// engineConfig maps file configuration onto the engine's config.
func engineConfig(cfg *config.Config, logger *log.Logger) *engine.Config {
	ec := engine.DefaultConfig()
	ec.SyncInterval = cfg.Sync.Interval
	ec.AppendCompletionDate = cfg.Sync.AppendCompletionDate
	ec.TrackCompleted = cfg.Sync.TrackCompleted
	ec.OrphanGracePeriod = cfg.Sync.OrphanGracePeriod
	ec.Logger = logger

	if cfg.Sync.CompletionTimestamp == "sync_time" {
		ec.CompletionTimestamp = engine.TimestampSyncTime
	}
	if cfg.Sync.TimestampTiebreak == "remote" {
		ec.TimestampTiebreak = engine.TiebreakRemote
	}
	return ec
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
