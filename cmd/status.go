package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/police-sync/internal/crimesync"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored watermark, run lock and last sanity result",
	Args:  noArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if statusOutput != "table" && statusOutput != "yaml" {
			return usageError{eris.Errorf("unknown output format %q (want table or yaml)", statusOutput)}
		}

		ctx := cmd.Context()
		st, err := openStore(ctx, "status")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := crimesync.NewState(st).Snapshot(ctx)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		if statusOutput == "yaml" {
			return formatSnapshotYAML(cmd.OutOrStdout(), snap)
		}
		formatSnapshot(cmd.OutOrStdout(), snap)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "output format: table or yaml")
	rootCmd.AddCommand(statusCmd)
}

// formatSnapshot writes a key/value table of snap to out.
func formatSnapshot(out io.Writer, snap crimesync.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tVALUE")
	_, _ = fmt.Fprintln(w, "---\t-----")
	_, _ = fmt.Fprintf(w, "%s\t%s\n", crimesync.VarWatermark, orDash(snap.Watermark))

	lock := "-"
	if snap.Locked {
		lock = snap.Lock
	}
	_, _ = fmt.Fprintf(w, "%s\t%s\n", crimesync.VarLock, lock)
	_, _ = fmt.Fprintf(w, "%s\t%s\n", crimesync.VarSanity, orDash(snap.Sanity))
	_ = w.Flush()
}

func formatSnapshotYAML(out io.Writer, snap crimesync.Snapshot) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(snap); err != nil {
		return eris.Wrap(err, "encode status")
	}
	return enc.Close()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
