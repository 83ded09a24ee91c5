package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/allenlavoie/topic-pov/internal/cluster"
	"github.com/allenlavoie/topic-pov/internal/compare"
	"github.com/allenlavoie/topic-pov/internal/compose"
	"github.com/allenlavoie/topic-pov/internal/metrics"
	"github.com/allenlavoie/topic-pov/internal/pipeline"
	"github.com/allenlavoie/topic-pov/internal/server"
	"github.com/allenlavoie/topic-pov/internal/store"
)

func init() {
	rootCmd.AddCommand(antagonismCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(estimateCmd)
	rootCmd.AddCommand(compareClusteringsCmd)
	rootCmd.AddCommand(factionsCmd)
	rootCmd.AddCommand(serveCmd)
}

func readPairsFile(path string) ([]compare.Pair, error) {
	in, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	return compare.ReadPairs(in)
}

func readLabelsFile(path string) (cluster.Labels, error) {
	in, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	labels, err := cluster.ReadLabels(in)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return labels, nil
}

var antagonismCmd = &cobra.Command{
	Use:   "antagonism DIR USER USER",
	Short: "Print the expected POV-revert rate between two users",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("user %q: %w", args[1], err)
		}
		b, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("user %q: %w", args[2], err)
		}
		st, err := store.Open(args[0], store.ReadOnly)
		if err != nil {
			return err
		}
		defer st.Close()
		for _, u := range []int64{a, b} {
			if u < 0 || u >= st.NumUsers() {
				return fmt.Errorf("user %d out of range (model has %d users)", u, st.NumUsers())
			}
		}
		fmt.Printf("%f\n", compare.UserAntagonism(st, a, b))
		return nil
	},
}

var reportOutputDir string

var reportCmd = &cobra.Command{
	Use:   "report DIR PAIRS SNAPSHOT...",
	Short: "Average user, page and user-pair statistics over saved snapshots",
	Long:  "Restores each snapshot in turn and writes users_stats.txt, pages_stats.txt and user_comparisons.txt. A first snapshot of _ uses the model's current labels.",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		pairs, err := readPairsFile(args[1])
		if err != nil {
			return err
		}
		outDir := reportOutputDir
		if outDir == "" {
			outDir = cfg.Report.OutputDir
		}
		db, err := openLedger(args[0])
		if err != nil {
			return err
		}
		defer closeLedger(db)

		ctx, stop := signalContext()
		defer stop()
		return printSteps(pipeline.New(cfg, db, nil, logger).Report(ctx, args[0], pairs, args[2:], outDir))
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportOutputDir, "output-dir", "o", "", "Directory for the report files (default report.output_dir)")
}

var estimateCmd = &cobra.Command{
	Use:   "estimate DIR",
	Short: "Estimate the log marginal likelihood of a model's hyperparameters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openLedger(args[0])
		if err != nil {
			return err
		}
		defer closeLedger(db)

		ctx, stop := signalContext()
		defer stop()
		res, est := pipeline.New(cfg, db, nil, logger).Estimate(ctx, args[0])
		if err := printSteps(res); err != nil {
			return err
		}
		for i, v := range est.Trials {
			fmt.Printf("  Trial %d: %.4f\n", i+1, v)
		}
		fmt.Printf("Log marginal likelihood: %.4f\n", est.Mean())
		return nil
	},
}

var (
	comparePovs int
	compareSeed uint64
)

var compareClusteringsCmd = &cobra.Command{
	Use:   "compare-clusterings ESTIMATE TRUTH",
	Short: "Score estimated labels against true labels with the adjusted Rand index",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		estimate, err := readLabelsFile(args[0])
		if err != nil {
			return err
		}
		truth, err := readLabelsFile(args[1])
		if err != nil {
			return err
		}
		povs := comparePovs
		if povs <= 0 {
			povs = int(cfg.Model.PovsPerTopic)
		}
		seed := compareSeed
		if seed == 0 {
			seed = cfg.Sampler.Seed
		}
		c, err := cluster.Compare(truth, estimate, int32(povs), seed)
		if err != nil {
			return err
		}
		fmt.Printf("Revisions compared: %d\n", c.Items)
		fmt.Printf("Full: %f\n", c.Full)
		fmt.Printf("Topic only: %f\n", c.TopicOnly)
		fmt.Printf("Random POV: %f\n", c.RandomPov)
		return nil
	},
}

func init() {
	compareClusteringsCmd.Flags().IntVar(&comparePovs, "povs", 0, "POVs per topic in both files (default model.povs_per_topic)")
	compareClusteringsCmd.Flags().Uint64Var(&compareSeed, "seed", 0, "Seed for the random-POV baseline (default sampler.seed)")
}

var factionsCmd = &cobra.Command{
	Use:   "factions DIR",
	Short: "Group active users by the similarity of their label distributions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(args[0], store.ReadOnly)
		if err != nil {
			return err
		}
		defer st.Close()

		fc := cfg.Factions
		factions := cluster.Factions(st, cluster.FactionOptions{
			Threshold: fc.DistanceThreshold,
			MinEdits:  fc.MinEdits,
			MaxUsers:  fc.MaxUsers,
		})
		if len(factions) == 0 {
			fmt.Println("No users with enough labelled edits.")
			return nil
		}
		for i, f := range factions {
			fmt.Printf("Faction %d: %d users, topic %d POV %d (%.0f%%)\n",
				i+1, len(f.Users), f.Topic, f.Pov, f.Share*100)
			fmt.Printf("  %v\n", f.Users)
		}
		return nil
	},
}

var (
	servePort  int
	servePairs string
)

var serveCmd = &cobra.Command{
	Use:   "serve DIR",
	Short: "Serve the model report and run ledger over HTTP",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(args[0], store.ReadOnly)
		if err != nil {
			return err
		}
		defer st.Close()
		if !st.HasInference() {
			return store.ErrNoInference
		}

		db, err := openLedger(args[0])
		if err != nil {
			return err
		}
		defer closeLedger(db)

		var opts compose.Options
		if servePairs != "" {
			if opts.Pairs, err = readPairsFile(servePairs); err != nil {
				return err
			}
		}

		m := metrics.New()
		m.SetIterations(st.Iterations())

		srv, err := server.New(st, db, m, opts, logger)
		if err != nil {
			return err
		}
		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		fmt.Printf("Serving %s on http://127.0.0.1:%d\n", args[0], port)
		return server.Serve(srv, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default server.port)")
	serveCmd.Flags().StringVar(&servePairs, "pairs", "", "User pairs file for the antagonism table")
}

