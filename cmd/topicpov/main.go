package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/allenlavoie/topic-pov/internal/config"
	"github.com/allenlavoie/topic-pov/internal/database"
	"github.com/allenlavoie/topic-pov/internal/logging"
	"github.com/allenlavoie/topic-pov/internal/pipeline"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	noLedger   bool
	cfg        *config.Config
	logger     *logging.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "topicpov",
	Short:        "Topic and point-of-view inference over revision histories",
	Long:         "topicpov labels every revision of a page history with a topic and a point of view by Gibbs sampling, and reports which users and POVs are antagonistic.",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init-config and version
		if cmd.Name() == "init-config" || cmd.Name() == "version" {
			logger = logging.Nop()
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Logging.Format)
		if err != nil {
			return err
		}
		if path != "" {
			logger.Debug("loaded config", "path", path)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&noLedger, "no-ledger", false, "Do not record runs in the ledger")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initConfigCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("topicpov", version)
	},
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write the default configuration to ~/.config/topicpov/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to set the number of topics, POVs and priors.")
		return nil
	},
}

// signalContext is canceled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openLedger opens the run ledger for a model directory, or returns nil
// when --no-ledger is set.
func openLedger(dir string) (*database.DB, error) {
	if noLedger {
		return nil, nil
	}
	return database.Open(cfg.LedgerPath(dir), logger)
}

func closeLedger(db *database.DB) {
	if db != nil {
		db.Close()
	}
}

// openInput opens path for reading; "-" is standard input.
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	return f, nil
}

func printSteps(res *pipeline.Result) error {
	for i, step := range res.Steps {
		fmt.Printf("Step %d/%d: %s\n", i+1, len(res.Steps), step.Name)
		if step.Err != nil {
			fmt.Printf("  Error: %v\n", step.Err)
		} else {
			fmt.Printf("  %s\n", step.Summary)
		}
	}
	if res.RunID != "" {
		fmt.Printf("Run: %s\n", res.RunID)
	}
	err := res.Err()
	if errors.Is(err, context.Canceled) {
		fmt.Println("Interrupted.")
	}
	return err
}
