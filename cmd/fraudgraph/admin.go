package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rohankatakam/fraudgraph/internal/app"
	"github.com/rohankatakam/fraudgraph/internal/config"
)

var constraintsCmd = &cobra.Command{
	Use:   "constraints",
	Short: "Create the per-kind uniqueness constraints (idempotent)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.EnsureConstraints(ctx); err != nil {
				return err
			}
			logger.Info("Constraints in place")
			return nil
		})
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report the state of every component",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return printJSON(a.Health(ctx))
		})
	},
}

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and replay the dead-letter queue",
}

var dlqReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-ingest dead-lettered transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			summary, err := a.ReplayDeadLetters(ctx)
			if err != nil {
				return err
			}
			return printJSON(summary)
		})
	},
}

var dlqStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count dead-lettered transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			stats, err := a.DeadLetterStats(ctx)
			if err != nil {
				return err
			}
			return printJSON(stats)
		})
	},
}

var (
	dlqLimit     int
	dlqOlderThan time.Duration
)

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the most recently dead-lettered transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			entries, err := a.DeadLetters(ctx, dlqLimit)
			if err != nil {
				return err
			}
			return printJSON(entries)
		})
	},
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete dead letters older than --older-than",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			n, err := a.PurgeDeadLetters(ctx, dlqOlderThan)
			if err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{"purged": n, "older_than": dlqOlderThan}).Info("Dead letters purged")
			return nil
		})
	},
}

var (
	deletePassword bool
	redisPassword  bool
)

var passwordCmd = &cobra.Command{
	Use:   "set-password",
	Short: "Store the Neo4j (or Redis) password in the OS keychain",
	Long: `Reads the password without echo (or from stdin when piped) and saves it
in the OS keychain. NEO4J_PASSWORD / REDIS_PASSWORD and the config file
still take precedence.`,
	RunE: runSetPassword,
}

func init() {
	dlqCmd.AddCommand(dlqReplayCmd)
	dlqCmd.AddCommand(dlqStatsCmd)
	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqPurgeCmd)

	dlqListCmd.Flags().IntVar(&dlqLimit, "limit", 20, "entries to show")
	dlqPurgeCmd.Flags().DurationVar(&dlqOlderThan, "older-than", 7*24*time.Hour, "age cutoff")

	passwordCmd.Flags().BoolVar(&deletePassword, "delete", false, "remove the stored password instead")
	passwordCmd.Flags().BoolVar(&redisPassword, "redis", false, "manage the Redis password instead of Neo4j")
}

func runSetPassword(cmd *cobra.Command, args []string) error {
	secret, label := config.SecretGraphPassword, "Neo4j"
	if redisPassword {
		secret, label = config.SecretRedisPassword, "Redis"
	}

	kc := config.NewKeychain()
	if !kc.Available() {
		return fmt.Errorf("OS keychain is not available; use environment variables instead")
	}

	if deletePassword {
		return kc.Remove(secret)
	}

	fmt.Fprintf(os.Stderr, "%s password: ", label)
	password, err := readSecret()
	if err != nil {
		return err
	}
	if password == "" {
		return fmt.Errorf("empty password")
	}

	if err := kc.Store(secret, password); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"secret":   string(secret),
		"password": config.MaskSecret(password),
	}).Info("Password saved to keychain")
	return nil
}

// readSecret reads without echo from a terminal, else one line from stdin
func readSecret() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		bytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(bytes)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
