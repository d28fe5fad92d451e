package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/police-sync/internal/crimesync"
	"github.com/sells-group/police-sync/internal/loader"
	"github.com/sells-group/police-sync/internal/metrics"
	"github.com/sells-group/police-sync/internal/monitoring"
	"github.com/sells-group/police-sync/internal/policeapi"
	"github.com/sells-group/police-sync/internal/resilience"
	"github.com/sells-group/police-sync/internal/store"
)

// reportTimeout bounds the metrics push and alert delivery after a run,
// which use their own context so an interrupted run still reports.
const reportTimeout = 30 * time.Second

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Load new months of crime data for a region",
	Long: "Compares the stored watermark with the latest upstream month and, when behind, " +
		"loads forces, neighbourhoods, categories, crimes, outcomes and stops month by month. " +
		"Phases can be skipped with --options (no-force-load, no-category-load, no-crime-load, " +
		"no-outcome-load, no-stop-load).",
	Args: noArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		applySyncFlags(cmd)
		if err := cfg.Validate("sync"); err != nil {
			return err
		}
		phases, err := crimesync.ParseOptions(cfg.Sync.Options)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, "sync")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		api, err := newAPIClient()
		if err != nil {
			return err
		}

		start := time.Now()
		res, runErr := newController(api, st, phases).Run(ctx)
		elapsed := time.Since(start)

		if runErr == nil {
			formatResult(cmd.OutOrStdout(), cfg.Sync.Region, res)
		}
		report(res, runErr, api.Stats(), elapsed)
		return runErr
	},
}

func init() {
	f := syncCmd.Flags()
	f.String("region", "", "place name of the region to load")
	f.String("options", "", "phase switches, e.g. \"no-stop-load,no-outcome-load\"")
	rootCmd.AddCommand(syncCmd)
}

// applySyncFlags copies explicitly set run flags over the loaded config.
func applySyncFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	if fs.Changed("region") {
		cfg.Sync.Region, _ = fs.GetString("region")
	}
	if fs.Changed("options") {
		cfg.Sync.Options, _ = fs.GetString("options")
	}
}

func newAPIClient() (*policeapi.Client, error) {
	retry := resilience.FromRetryConfig(cfg.Police.MaxAttempts, cfg.Police.RetryWaitSecs)
	if cfg.Police.Backoff == "exponential" {
		retry = resilience.Exponential(retry)
	}
	return policeapi.New(policeapi.Options{
		BaseURL:   cfg.Police.BaseURL,
		UserAgent: cfg.Police.UserAgent,
		Timeout:   time.Duration(cfg.Police.TimeoutSecs) * time.Second,
		RateLimit: cfg.Police.RateLimit,
		Burst:     cfg.Police.RateBurst,
		Retry:     retry,
	})
}

func newController(api *policeapi.Client, st *store.PostgresStore, phases crimesync.Phases) *crimesync.Controller {
	return crimesync.NewController(
		api,
		st,
		loader.NewForceLoader(api, st),
		loader.NewPeriodLoader(api, st, nil),
		crimesync.Config{
			Region:       cfg.Sync.Region,
			Phases:       phases,
			ReplayMonths: cfg.Sync.ReplayMonths,
			MaxMonths:    cfg.Sync.MaxMonths,
		},
	)
}

// report pushes run metrics and sends alerts. Failures here are logged and
// never change the run's exit status.
func report(res *crimesync.Result, runErr error, stats policeapi.Stats, elapsed time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()

	rec := metrics.New()
	rec.Observe(res, runErr, stats, elapsed, time.Now())
	if err := rec.Push(ctx, cfg.Metrics, cfg.Sync.Region, nil); err != nil {
		zap.L().Warn("metrics push failed", zap.Error(err))
	}

	alerter := monitoring.NewAlerter(cfg.Monitoring, cfg.Sync.Region)
	alerter.SendAlerts(ctx, alerter.Evaluate(res, runErr, stats))
}

// formatResult writes a summary of a successful run to out.
func formatResult(out io.Writer, region string, res *crimesync.Result) {
	if res.UpToDate {
		_, _ = fmt.Fprintf(out, "%s is up to date at %s (upstream %s)\n", region, res.Local, res.Upstream)
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "RUN\t%s\n", res.RunID)
	_, _ = fmt.Fprintf(w, "REGION\t%s\n", region)
	_, _ = fmt.Fprintf(w, "UPSTREAM\t%s\n", res.Upstream)
	_, _ = fmt.Fprintf(w, "WATERMARK\t%s -> %s\n", res.Local, res.Watermark)

	months := fmt.Sprintf("%d", res.Months)
	if res.Capped {
		months += " (capped)"
	}
	_, _ = fmt.Fprintf(w, "MONTHS\t%s\n", months)

	if f := res.Forces; f != nil {
		_, _ = fmt.Fprintf(w, "FORCES\t%d (%d new, %d failed)\n", f.Forces, f.ForcesCreated, f.ForcesFailed)
		_, _ = fmt.Fprintf(w, "NEIGHBOURHOODS\t%d new, %d existing, %d failed\n",
			f.NeighbourhoodsCreated, f.NeighbourhoodsSkipped, f.NeighbourhoodsFailed)
	}
	for _, p := range crimesync.MonthPhases {
		if n, ok := res.Records[p]; ok {
			_, _ = fmt.Fprintf(w, "%s\t%d\n", strings.ToUpper(string(p)), n)
		}
	}
	if res.Sanity != "" {
		_, _ = fmt.Fprintf(w, "SANITY\t%s\n", res.Sanity)
	}
	_, _ = fmt.Fprintf(w, "ELAPSED\t%s\n", res.Elapsed.Round(time.Second))
	_ = w.Flush()
}
