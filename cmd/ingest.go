package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/crec-cli/internal/fetcher"
	"github.com/sells-group/crec-cli/internal/govinfo"
	"github.com/sells-group/crec-cli/internal/ingest"
)

var (
	ingestStartYear int
	ingestEndYear   int
	ingestStart     string
	ingestEnd       string
	ingestPackages  []string
	ingestWorkers   int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest floor speeches from the document API",
	Long: "Lists daily packages by year or date range (or takes explicit package ids), fetches every floor " +
		"speech granule and writes it to the store. Packages already in the ledger are skipped, so an " +
		"interrupted run can simply be restarted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			// The current page still finishes; a second signal kills the process.
			stop()
		}()

		opts, err := ingestRange()
		if err != nil {
			return err
		}
		if ingestWorkers > 0 {
			cfg.Ingest.Workers = ingestWorkers
		}
		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		failures, err := ingest.OpenFailureLog(cfg.Ingest.FailureLog)
		if err != nil {
			return err
		}
		defer failures.Close() //nolint:errcheck

		client := govinfo.New(fetcher.New(fetcher.OptionsFromConfig(cfg.GovInfo)), cfg.GovInfo)
		orch := ingest.NewOrchestrator(client, st, ingest.NewLedger(st), failures, ingest.Options{
			Workers:    cfg.Ingest.Workers,
			PageSize:   client.PageSize(),
			MinTextLen: cfg.Ingest.MinTextLen,
		})

		sum, err := orch.Run(ctx, opts)
		if sum != nil {
			printRunSummary(sum)
		}
		return err
	},
}

// ingestRange turns the flags into range options.
func ingestRange() (ingest.RangeOpts, error) {
	opts := ingest.RangeOpts{
		PackageIDs: ingestPackages,
		Start:      ingestStart,
		End:        ingestEnd,
		StartYear:  ingestStartYear,
		EndYear:    ingestEndYear,
	}
	if len(opts.PackageIDs) > 0 {
		return opts, nil
	}
	if opts.StartYear > 0 && opts.EndYear == 0 {
		opts.EndYear = opts.StartYear
	}
	if _, err := opts.Ranges(); err != nil {
		return opts, eris.Wrap(err, "ingest: need --package, --start/--end or --start-year")
	}
	return opts, nil
}

func printRunSummary(s *ingest.RunSummary) {
	fmt.Fprintf(os.Stdout, "run %s: %d packages processed, %d resumed, %d failed | %d saved, %d skipped, %d errors\n",
		s.RunID, s.Processed, s.Resumed, s.Failed, s.Saved, s.Skipped, s.Errors)
}

func init() {
	ingestCmd.Flags().IntVar(&ingestStartYear, "start-year", 0, "first calendar year to ingest")
	ingestCmd.Flags().IntVar(&ingestEndYear, "end-year", 0, "last calendar year to ingest (default start-year)")
	ingestCmd.Flags().StringVar(&ingestStart, "start", "", "start date YYYY-MM-DD")
	ingestCmd.Flags().StringVar(&ingestEnd, "end", "", "end date YYYY-MM-DD")
	ingestCmd.Flags().StringSliceVar(&ingestPackages, "package", nil, "package id to ingest (repeatable)")
	ingestCmd.Flags().IntVar(&ingestWorkers, "workers", 0, "granule workers per page (default from config)")
	rootCmd.AddCommand(ingestCmd)
}
