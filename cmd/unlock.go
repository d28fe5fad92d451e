package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/police-sync/internal/crimesync"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Clear a run lock left by a failed or interrupted sync",
	Long: "Deletes the police-data-load variable. Only run this once the sync that set " +
		"it is known to be dead; the lock never expires on its own.",
	Args: noArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, "unlock")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		state := crimesync.NewState(st)
		status, held, err := state.Lock(ctx)
		if err != nil {
			return eris.Wrap(err, "unlock")
		}
		if !held {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no lock held")
			return nil
		}
		if err := state.Release(ctx); err != nil {
			return eris.Wrap(err, "unlock")
		}

		zap.L().Info("run lock cleared", zap.String("status", status))
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cleared lock %q\n", status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(unlockCmd)
}
