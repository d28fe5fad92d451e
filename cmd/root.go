package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/police-sync/internal/config"
	"github.com/sells-group/police-sync/internal/store"
)

var cfg *config.Config

// usageError marks a command-line parse failure (exit status 2).
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

var rootCmd = &cobra.Command{
	Use:   "police-sync",
	Short: "Incremental loader for police.uk crime data",
	Long: "Pulls street crimes, outcomes and stop-and-search records for a region from the " +
		"police.uk API into the datamap PostgreSQL schema, one month at a time from the " +
		"stored watermark up to the latest upstream month.",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          noArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c
		applyStoreFlags(cmd, &cfg.Store)

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("host", "", "database host")
	pf.Int("port", 0, "database port")
	pf.String("user", "", "database user")
	pf.String("password", "", "database password")
	pf.String("database", "", "database name")
	pf.String("database-url", "", "full PostgreSQL connection URL (overrides the individual settings)")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})
}

// noArgs rejects positional arguments as a usage error.
func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return usageError{err}
	}
	return nil
}

// applyStoreFlags copies explicitly set connection flags over sc.
func applyStoreFlags(cmd *cobra.Command, sc *config.StoreConfig) {
	fs := cmd.Flags()
	if fs.Changed("host") {
		sc.Host, _ = fs.GetString("host")
	}
	if fs.Changed("port") {
		sc.Port, _ = fs.GetInt("port")
	}
	if fs.Changed("user") {
		sc.User, _ = fs.GetString("user")
	}
	if fs.Changed("password") {
		sc.Password, _ = fs.GetString("password")
	}
	if fs.Changed("database") {
		sc.Database, _ = fs.GetString("database")
	}
	if fs.Changed("database-url") {
		sc.DatabaseURL, _ = fs.GetString("database-url")
	}
}

// openStore validates the configuration for mode and connects to PostgreSQL.
func openStore(ctx context.Context, mode string) (*store.PostgresStore, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	st, err := store.NewPostgres(ctx, cfg.Store.DSN(), &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "connect to database")
	}
	return st, nil
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ue usageError
	if errors.As(err, &ue) {
		return 2
	}
	return 1
}

// execute runs the root command and reports a failure as one line on stderr.
func execute(args []string, stderr io.Writer) int {
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "police-sync: %v\n", err)
	}
	return exitCode(err)
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stderr))
}
