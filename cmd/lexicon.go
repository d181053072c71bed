package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crec-cli/internal/config"
	"github.com/sells-group/crec-cli/internal/lexicon"
)

var lexiconText string

var lexiconCmd = &cobra.Command{
	Use:   "lexicon",
	Short: "Filter lexicon commands",
}

var lexiconCheckCmd = &cobra.Command{
	Use:   "check [path]",
	Short: "Validate a lexicon file and print its sections",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Lexicon.Path
		if len(args) == 1 {
			path = args[0]
		}
		lex, err := lexicon.Load(path)
		if err != nil {
			return err
		}
		formatLexicon(os.Stdout, path, lex, lexiconText)
		return nil
	},
}

// optionalLexicon loads the configured lexicon when the file exists. A
// missing or unreadable file yields nil so callers fall back to defaults.
func optionalLexicon(c *config.Config) *lexicon.Lexicon {
	if c.Lexicon.Path == "" {
		return nil
	}
	if _, err := os.Stat(c.Lexicon.Path); err != nil {
		return nil
	}
	lex, err := lexicon.Load(c.Lexicon.Path)
	if err != nil {
		zap.L().Warn("lexicon unreadable", zap.String("path", c.Lexicon.Path), zap.Error(err))
		return nil
	}
	return lex
}

// formatLexicon prints one line per section and, when text is given, its
// substantive verdict.
func formatLexicon(out io.Writer, path string, lex *lexicon.Lexicon, text string) {
	_, _ = fmt.Fprintf(out, "%s: OK\n", path)
	for _, s := range lex.Summary() {
		_, _ = fmt.Fprintln(out, "  "+s.String())
	}
	if text != "" {
		_, _ = fmt.Fprintf(out, "substantive: %t\n", lex.IsSubstantive(text))
	}
}

func init() {
	lexiconCheckCmd.Flags().StringVar(&lexiconText, "text", "", "also report whether this text is substantive")
	lexiconCmd.AddCommand(lexiconCheckCmd)
	rootCmd.AddCommand(lexiconCmd)
}
