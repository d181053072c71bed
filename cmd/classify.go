package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/crec-cli/internal/classify"
	"github.com/sells-group/crec-cli/internal/config"
)

var (
	classifyStage    string
	classifyProvider string
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Label unclassified speeches as procedural or substantive",
	Long: "Stage a purges short speeches containing procedural keywords. Stage b runs the remaining " +
		"unclassified speeches through a zero-shot classifier. Labels are never overwritten.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			// The current chunk still finishes; a second signal kills the process.
			stop()
		}()

		stage, err := classify.ParseStage(classifyStage)
		if err != nil {
			return err
		}
		if classifyProvider != "" {
			cfg.Classify.Provider = classifyProvider
		}
		if err := cfg.Validate("classify"); err != nil {
			return err
		}

		var clf classify.ZeroShotClassifier
		if stage != classify.StagePurge {
			if clf, err = classify.NewClassifier(cfg.Classify); err != nil {
				return err
			}
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p := classify.NewPipeline(st, clf, classify.Options{
			ChunkSize:   cfg.Classify.ChunkSize,
			BatchSize:   cfg.Classify.BatchSize,
			Threshold:   cfg.Classify.Threshold,
			PurgeMaxLen: cfg.Classify.PurgeMaxLen,
			Keywords:    purgeKeywords(cfg),
		})
		sum, err := p.Run(ctx, stage)
		if sum != nil {
			fmt.Fprintf(os.Stdout, "purged %d, classified %d\n", sum.Purged, sum.Classified)
		}
		return err
	},
}

// purgeKeywords prefers configured keywords, then the lexicon's
// procedural_keywords list, then the built-in set.
func purgeKeywords(c *config.Config) []string {
	if len(c.Classify.Keywords) > 0 {
		return c.Classify.Keywords
	}
	if lex := optionalLexicon(c); lex != nil {
		return lex.ProceduralKeywords()
	}
	return nil
}

func init() {
	classifyCmd.Flags().StringVar(&classifyStage, "stage", "all", "stage to run: a (keyword purge), b (zero-shot) or all")
	classifyCmd.Flags().StringVar(&classifyProvider, "provider", "", "zero-shot backend: zeroshot, anthropic or openai (default from config)")
	rootCmd.AddCommand(classifyCmd)
}
