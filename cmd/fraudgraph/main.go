package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rohankatakam/fraudgraph/internal/app"
	"github.com/rohankatakam/fraudgraph/internal/config"
	"github.com/rohankatakam/fraudgraph/internal/errors"
	"github.com/rohankatakam/fraudgraph/internal/logging"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	verbose bool
	logger  *logrus.Logger
	cfg     *config.Config
)

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	var typed *errors.Error
	if verbose && stderrors.As(err, &typed) {
		fmt.Fprint(os.Stderr, typed.DetailedString())
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	if errors.IsFatal(err) {
		os.Exit(2)
	}
	os.Exit(1)
}

var rootCmd = &cobra.Command{
	Use:   "fraudgraph",
	Short: "FraudGraph - transaction relationship graph with explainable fraud risk",
	Long: `FraudGraph keeps a graph of transactions and the users, IPs, emails and
devices behind them, extracts the neighbourhood of any transaction and
annotates it with a fraud-risk explanation.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Logs go to stderr; stdout carries JSON results
		logger = logrus.New()
		logger.SetOutput(os.Stderr)
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.InfoLevel)
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			logger.WithError(err).Warn("Failed to load config, using defaults")
			cfg = config.Default()
		}

		if cfg.Log.JSON {
			logger.SetFormatter(&logrus.JSONFormatter{})
		}
		if lvl, err := logrus.ParseLevel(cfg.Log.Level); err == nil && !verbose {
			logger.SetLevel(lvl)
		}

		if err := logging.Initialize(logging.FromConfig(cfg.Log, verbose)); err != nil {
			logger.WithError(err).Warn("Failed to initialise component logging")
		}

		result := cfg.Validate()
		for _, w := range result.Warnings {
			logger.Debug(w)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .fraudgraph/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.SetVersionTemplate(`FraudGraph {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(subgraphCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(constraintsCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(dlqCmd)
	rootCmd.AddCommand(passwordCmd)
}

// withApp builds the application for one command, cancelled on SIGINT/SIGTERM,
// and closes it afterwards
func withApp(cmd *cobra.Command, run func(ctx context.Context, a *app.App) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.WithError(err).Warn("Shutdown was not clean")
		}
	}()

	return run(ctx, a)
}

// printJSON writes v to stdout, indented when stdout is a terminal
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	if term.IsTerminal(int(os.Stdout.Fd())) {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
