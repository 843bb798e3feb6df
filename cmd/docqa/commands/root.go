// Package commands defines all Cobra CLI commands for the docqa binary.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/docqa/docqa-go/internal/config"
	"github.com/docqa/docqa-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// namespaceFlag holds the --namespace flag value shared by all subcommands.
var namespaceFlag string

// cfg is the resolved configuration, populated by PersistentPreRunE before
// any subcommand runs.
var cfg *config.Config

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docqa",
		Short: "docqa — question answering over your PDF documents",
		Long: `docqa ingests PDF documents into a vector index and answers natural
language questions about them, citing the pages the answer came from.

Documents are grouped into namespaces so independent collections can share
one deployment. Configuration comes from a YAML file (~/.docqa/config.yaml)
with env var overrides; see 'docqa --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// .env is a development convenience; absence is not an error.
			_ = godotenv.Load()

			log := logging.New()

			c, _, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			cfg = c
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.docqa/config.yaml)")
	root.PersistentFlags().StringVarP(&namespaceFlag, "namespace", "n", "default", "Document namespace to operate on")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewAskCmd(),
		NewDocumentsCmd(),
		NewVersionCmd(),
	)

	return root
}
