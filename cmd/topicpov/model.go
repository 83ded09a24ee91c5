package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/allenlavoie/topic-pov/internal/ingest"
	"github.com/allenlavoie/topic-pov/internal/metrics"
	"github.com/allenlavoie/topic-pov/internal/pipeline"
	"github.com/allenlavoie/topic-pov/internal/store"
)

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(initializeCmd)
	rootCmd.AddCommand(setAssignmentsCmd)
	rootCmd.AddCommand(inferCmd)
	rootCmd.AddCommand(readoutCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(infoCmd)
}

// --- ingest and verify ---

var skipMalformed bool

var ingestCmd = &cobra.Command{
	Use:   "ingest DIR TSV",
	Short: "Build the revision, page and user regions of a model from a TSV stream",
	Long:  "Reads lines of page, timestamp, user, revision, parent and t|f separated by tabs. Use - for standard input.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := openInput(args[1])
		if err != nil {
			return err
		}
		defer in.Close()

		stats, err := ingest.Ingest(args[0], in, ingest.Options{
			SkipMalformed: skipMalformed || cfg.Ingest.SkipMalformed,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		fmt.Println("Ingest complete:")
		fmt.Printf("  Revisions: %d\n", stats.Revisions)
		fmt.Printf("  Pages: %d\n", stats.Pages)
		fmt.Printf("  Users: %d\n", stats.Users)
		if stats.Skipped > 0 {
			fmt.Printf("  Malformed lines skipped: %d\n", stats.Skipped)
		}
		fmt.Println("Parent links dropped:")
		fmt.Printf("  On another page: %d\n", stats.CrossPage)
		fmt.Printf("  Second child: %d\n", stats.SecondChild)
		fmt.Printf("  Missing parent: %d\n", stats.MissingParent)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify DIR TSV",
	Short: "Check a model's revision regions against the TSV they were built from",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := openInput(args[1])
		if err != nil {
			return err
		}
		defer in.Close()

		problems, err := ingest.Verify(args[0], in)
		if err != nil {
			return err
		}
		if len(problems) == 0 {
			fmt.Println("Regions match the input.")
			return nil
		}
		for _, p := range problems {
			fmt.Println(p)
		}
		return fmt.Errorf("%d mismatches", len(problems))
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&skipMalformed, "skip-malformed", false, "Log and skip lines that do not parse")
}

// --- initialize and set-assignments ---

var initializeCmd = &cobra.Command{
	Use:   "initialize DIR",
	Short: "Create the inference regions and label every revision at random",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openLedger(args[0])
		if err != nil {
			return err
		}
		defer closeLedger(db)

		ctx, stop := signalContext()
		defer stop()
		return printSteps(pipeline.New(cfg, db, nil, logger).Initialize(ctx, args[0]))
	},
}

var setAssignmentsCmd = &cobra.Command{
	Use:   "set-assignments DIR FILE",
	Short: "Create the inference regions and load labels from revision/topic/pov lines",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := openInput(args[1])
		if err != nil {
			return err
		}
		defer in.Close()

		db, err := openLedger(args[0])
		if err != nil {
			return err
		}
		defer closeLedger(db)

		ctx, stop := signalContext()
		defer stop()
		return printSteps(pipeline.New(cfg, db, nil, logger).SetAssignments(ctx, args[0], in))
	},
}

// --- infer ---

var (
	inferIterations int
	metricsAddr     string
)

var inferCmd = &cobra.Command{
	Use:   "infer DIR",
	Short: "Run Gibbs sampling sweeps, saving snapshots and likelihoods",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openLedger(args[0])
		if err != nil {
			return err
		}
		defer closeLedger(db)

		m := metrics.New()
		addr := metricsAddr
		if addr == "" {
			addr = cfg.Metrics.Addr
		}
		if addr != "" {
			srv := &http.Server{Addr: addr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Warn("metrics server stopped", "error", err)
				}
			}()
			defer srv.Close()
			logger.Info("serving metrics", "addr", addr)
		}

		iterations := inferIterations
		if iterations <= 0 {
			iterations = cfg.Inference.Iterations
		}

		ctx, stop := signalContext()
		defer stop()
		return printSteps(pipeline.New(cfg, db, m, logger).Infer(ctx, args[0], iterations))
	},
}

func init() {
	inferCmd.Flags().IntVarP(&inferIterations, "iterations", "n", 0, "Sweeps to run (default inference.iterations)")
	inferCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while sampling")
}

// --- readout, check and info ---

var (
	readoutMaximize int
	readoutOutput   string
)

var readoutCmd = &cobra.Command{
	Use:   "readout DIR",
	Short: "Print revision/topic/pov lines for every labelled revision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := os.Stdout
		if readoutOutput != "" && readoutOutput != "-" {
			f, err := os.Create(readoutOutput)
			if err != nil {
				return fmt.Errorf("creating output: %w", err)
			}
			defer f.Close()
			out = f
		}

		ctx, stop := signalContext()
		defer stop()
		res := pipeline.New(cfg, nil, nil, logger).Readout(ctx, args[0], readoutMaximize, out)
		if err := res.Err(); err != nil {
			return err
		}
		for _, s := range res.Steps {
			logger.Info(s.Summary, "step", s.Name)
		}
		return nil
	},
}

func init() {
	readoutCmd.Flags().IntVar(&readoutMaximize, "maximize", 0, "Maximize sweeps to run first (not saved)")
	readoutCmd.Flags().StringVarP(&readoutOutput, "output", "o", "", "Write to a file instead of standard output")
}

var checkCmd = &cobra.Command{
	Use:   "check DIR",
	Short: "Resample and zero a read-only copy of the model and check every statistic clears",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()
		res, problems := pipeline.New(cfg, nil, nil, logger).Check(ctx, args[0])
		for _, p := range problems {
			fmt.Println(p)
		}
		return printSteps(res)
	},
}

var infoCmd = &cobra.Command{
	Use:   "info DIR",
	Short: "Show a model's size, iteration count and hyperparameters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(args[0], store.ReadOnly)
		if err != nil {
			return err
		}
		defer st.Close()
		info := st.Info()
		hp := info.Hyper

		fmt.Printf("Model: %s\n\n", args[0])
		fmt.Printf("  Iterations: %d\n", info.Iterations)
		fmt.Printf("  Revisions: %d (%d labelled)\n", info.Revisions, info.Assigned)
		fmt.Printf("  Pages: %d\n", info.Pages)
		fmt.Printf("  Users: %d (%d with edits)\n", info.Users, info.ActiveUsers)
		fmt.Println("\nHyperparameters:")
		fmt.Printf("  Topics: %d\n", hp.Topics)
		fmt.Printf("  POVs per topic: %d\n", hp.Povs)
		fmt.Printf("  psi: %g / %g\n", hp.PsiAlpha, hp.PsiBeta)
		fmt.Printf("  gamma: %g / %g\n", hp.GammaAlpha, hp.GammaBeta)
		fmt.Printf("  beta: %g\n", hp.Beta)
		fmt.Printf("  alpha: %g\n", hp.Alpha)

		db, err := openLedger(args[0])
		if err != nil || db == nil {
			return err
		}
		defer db.Close()
		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting ledger stats: %w", err)
		}
		fmt.Println("\nLedger:")
		fmt.Printf("  Runs: %d (%d completed, %d failed)\n", stats.Runs, stats.CompletedRuns, stats.FailedRuns)
		fmt.Printf("  Iterations recorded: %d\n", stats.Iterations)
		fmt.Printf("  Snapshots: %d\n", stats.Snapshots)
		fmt.Printf("  Estimate trials: %d\n", stats.Estimates)
		return nil
	},
}
