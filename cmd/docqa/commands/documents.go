package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/docqa/docqa-go/internal/logging"
)

// NewDocumentsCmd constructs the `docqa documents` command group for
// inspecting and managing the document catalog.
func NewDocumentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "Inspect and manage the document catalog",
	}

	cmd.AddCommand(
		newDocumentsListCmd(),
		newDocumentsDeleteCmd(),
		newDocumentsClearCmd(),
		newDocumentsStatsCmd(),
		newDocumentsResyncCmd(),
	)

	return cmd
}

// newDocumentsListCmd lists the namespace's documents, newest first.
func newDocumentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List documents in the namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.NewWith(cfg.Logging.Level, cfg.Logging.Format)
			ctx := logging.WithLogger(cmd.Context(), log)

			svcs, err := buildServices(ctx, log)
			if err != nil {
				return fmt.Errorf("documents list: %w", err)
			}
			defer svcs.close()

			records, err := svcs.pipeline.ListDocuments(ctx, namespaceFlag)
			if err != nil {
				return fmt.Errorf("documents list: %w", err)
			}
			if len(records) == 0 {
				fmt.Printf("no documents in namespace %q\n", namespaceFlag)
				return nil
			}

			for _, rec := range records {
				fmt.Printf("%s  %-10s  %s  (%d pages, %d chunks, %s)\n",
					rec.DocumentID, rec.Status, rec.FileName,
					rec.Pages, rec.TotalChunks,
					rec.UploadedAt.Format(time.RFC3339),
				)
			}
			return nil
		},
	}
}

// newDocumentsDeleteCmd deletes one document by ID.
func newDocumentsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Delete one document and its vectors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.NewWith(cfg.Logging.Level, cfg.Logging.Format)
			ctx := logging.WithLogger(cmd.Context(), log)

			svcs, err := buildServices(ctx, log)
			if err != nil {
				return fmt.Errorf("documents delete: %w", err)
			}
			defer svcs.close()

			res, err := svcs.pipeline.DeleteDocument(ctx, namespaceFlag, args[0])
			if err != nil {
				return fmt.Errorf("documents delete: %w", err)
			}
			if !res.VectorsDeleted {
				fmt.Println("document removed from catalog; vector cleanup deferred to next resync")
				return nil
			}
			fmt.Println("document deleted")
			return nil
		},
	}
}

// newDocumentsClearCmd removes every document in the namespace.
func newDocumentsClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all documents in the namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("documents clear: refusing to delete namespace %q without --yes", namespaceFlag)
			}

			log := logging.NewWith(cfg.Logging.Level, cfg.Logging.Format)
			ctx := logging.WithLogger(cmd.Context(), log)

			svcs, err := buildServices(ctx, log)
			if err != nil {
				return fmt.Errorf("documents clear: %w", err)
			}
			defer svcs.close()

			res, err := svcs.pipeline.DeleteAllDocuments(ctx, namespaceFlag)
			if err != nil {
				return fmt.Errorf("documents clear: %w", err)
			}
			if !res.VectorsDeleted {
				fmt.Println("catalog cleared; vector cleanup deferred to next resync")
				return nil
			}
			fmt.Println("namespace cleared")
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion of every document in the namespace")

	return cmd
}

// newDocumentsStatsCmd prints aggregate catalog statistics.
func newDocumentsStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate document statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.NewWith(cfg.Logging.Level, cfg.Logging.Format)
			ctx := logging.WithLogger(cmd.Context(), log)

			svcs, err := buildServices(ctx, log)
			if err != nil {
				return fmt.Errorf("documents stats: %w", err)
			}
			defer svcs.close()

			stats, err := svcs.pipeline.Stats(ctx, namespaceFlag)
			if err != nil {
				return fmt.Errorf("documents stats: %w", err)
			}

			fmt.Printf("namespace:  %s\n", namespaceFlag)
			fmt.Printf("documents:  %d\n", stats.TotalDocuments)
			fmt.Printf("chunks:     %d\n", stats.TotalChunks)
			fmt.Printf("pages:      %d\n", stats.TotalPages)
			fmt.Printf("avg chunks: %.1f\n", stats.AverageChunksPerDocument)
			return nil
		},
	}
}

// newDocumentsResyncCmd forces a registry/index reconciliation.
func newDocumentsResyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resync",
		Short: "Reconcile the catalog against the vector index",
		Long: `Force a reconciliation between the document registry and the vector index.

Registry records whose vectors have disappeared are removed, drifted chunk
counts are corrected, and vectors whose document is no longer registered are
purged. The same reconciliation runs automatically (staleness-gated) before
each question.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.NewWith(cfg.Logging.Level, cfg.Logging.Format)
			ctx := logging.WithLogger(cmd.Context(), log)

			svcs, err := buildServices(ctx, log)
			if err != nil {
				return fmt.Errorf("documents resync: %w", err)
			}
			defer svcs.close()

			if err := svcs.pipeline.Resync(ctx, namespaceFlag, true); err != nil {
				return fmt.Errorf("documents resync: %w", err)
			}
			fmt.Println("resync complete")
			return nil
		},
	}
}
