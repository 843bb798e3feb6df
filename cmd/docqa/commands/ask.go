package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docqa/docqa-go/internal/logging"
)

// NewAskCmd constructs the `docqa ask` command, which answers a single
// question against the indexed documents and prints the cited sources.
func NewAskCmd() *cobra.Command {
	var showSources bool

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question about the ingested documents",
		Long: `Ask a natural language question about the documents in a namespace.

The answer is grounded on the most similar chunks retrieved from the vector
index; pass --sources to see which pages were used.

Examples:
  docqa ask "what is the termination clause?"
  docqa ask --namespace contracts --sources "who are the parties to the NDA?"
  docqa ask "what documents do you have?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.NewWith(cfg.Logging.Level, cfg.Logging.Format)
			ctx := logging.WithLogger(cmd.Context(), log)

			svcs, err := buildServices(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer svcs.close()

			question := strings.Join(args, " ")

			answer, err := svcs.pipeline.Ask(ctx, question, namespaceFlag, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			fmt.Println(answer.Text)

			if showSources && len(answer.Matches) > 0 {
				fmt.Println("\nSources:")
				for _, m := range answer.Matches {
					fmt.Printf("  %s p.%d (%.0f%%)\n", m.Source, m.Page, m.Score*100)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showSources, "sources", false, "Print the retrieved sources after the answer")

	return cmd
}
