package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/crec-cli/internal/legacy"
)

var (
	legacyDir  string
	legacyFrom int
	legacyTo   int
)

var legacyCmd = &cobra.Command{
	Use:   "legacy",
	Short: "Legacy session file commands",
}

var legacyImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import historical session files",
	Long: "Reads speeches_NNN.txt, descr_NNN.txt and NNN_SpeakerMap.txt for each session in range, " +
		"joins them on speech_id and upserts the result. Sessions that fail to parse are skipped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if legacyDir != "" {
			cfg.Legacy.DataDir = legacyDir
		}
		if legacyFrom > 0 {
			cfg.Legacy.FirstSess = legacyFrom
		}
		if legacyTo > 0 {
			cfg.Legacy.LastSess = legacyTo
		}
		if err := cfg.Validate("legacy"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		im := legacy.NewImporter(st, cfg.Legacy.DataDir, cfg.Legacy.ChunkSize)
		sum, err := im.Import(ctx, cfg.Legacy.FirstSess, cfg.Legacy.LastSess)
		if sum != nil {
			fmt.Fprintf(os.Stdout, "%d sessions imported (%d rows), %d missing, %d failed, %d malformed lines skipped\n",
				sum.Imported, sum.Rows, sum.Missing, sum.Failed, sum.Skipped)
		}
		return err
	},
}

func init() {
	legacyImportCmd.Flags().StringVar(&legacyDir, "dir", "", "directory holding the session files (default from config)")
	legacyImportCmd.Flags().IntVar(&legacyFrom, "from", 0, fmt.Sprintf("first session (default %d)", legacy.FirstSession))
	legacyImportCmd.Flags().IntVar(&legacyTo, "to", 0, fmt.Sprintf("last session (default %d)", legacy.LastSession))
	legacyCmd.AddCommand(legacyImportCmd)
	rootCmd.AddCommand(legacyCmd)
}
