package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/crec-cli/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ingestion and classification progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("status"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, err := st.CountProgress(ctx)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		formatProgress(os.Stdout, p)
		return nil
	},
}

// formatProgress writes progress counts as an aligned table.
func formatProgress(out io.Writer, p *model.Progress) {
	pct := func(n int64) string {
		if p.Total == 0 {
			return "-"
		}
		return fmt.Sprintf("%.1f%%", float64(n)/float64(p.Total)*100)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "METRIC\tCOUNT\tSHARE")
	_, _ = fmt.Fprintf(w, "speeches\t%d\t\n", p.Total)
	_, _ = fmt.Fprintf(w, "classified\t%d\t%s\n", p.Classified, pct(p.Classified))
	_, _ = fmt.Fprintf(w, "procedural\t%d\t%s\n", p.Procedural, pct(p.Procedural))
	_, _ = fmt.Fprintf(w, "remaining\t%d\t%s\n", p.Remaining, pct(p.Remaining))
	_, _ = fmt.Fprintf(w, "mapped speakers\t%d\t%s\n", p.Mapped, pct(p.Mapped))
	_, _ = fmt.Fprintf(w, "processed packages\t%d\t\n", p.ProcessedPackages)
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
