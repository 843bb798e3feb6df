package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/docqa/docqa-go/internal/logging"
	"github.com/docqa/docqa-go/internal/pdfext"
)

// NewIngestCmd constructs the `docqa ingest` command, which extracts, chunks,
// embeds, and indexes one or more PDF files.
func NewIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <file.pdf> [file.pdf...]",
		Short: "Ingest PDF documents into the vector index",
		Long: `Extract text from one or more PDF files and index them for retrieval.

Each file becomes one document in the target namespace: its text is split
into overlapping chunks, embedded, upserted into Qdrant, and recorded in the
document registry.

Examples:
  docqa ingest report.pdf
  docqa ingest --namespace contracts nda.pdf msa.pdf`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.NewWith(cfg.Logging.Level, cfg.Logging.Format)
			ctx := logging.WithLogger(cmd.Context(), log)

			svcs, err := buildServices(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer svcs.close()

			for _, path := range args {
				pages, err := pdfext.ExtractFile(path)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}

				res, err := svcs.pipeline.Ingest(ctx, pages, path, namespaceFlag)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}

				log.Info("ingested",
					slog.String("file", path),
					slog.String("document_id", res.DocumentID),
					slog.Int("chunks", res.ChunkCount),
					slog.Int("pages", res.Pages),
				)
				fmt.Printf("%s  %s  (%d pages, %d chunks)\n", res.DocumentID, path, res.Pages, res.ChunkCount)
			}
			return nil
		},
	}

	return cmd
}
