// Command docqa is the entry point for the document question-answering
// service. It provides a CLI (via Cobra) for ingesting PDFs, asking
// questions, and managing the document catalog, plus an HTTP server mode.
package main

import (
	"fmt"
	"os"

	"github.com/docqa/docqa-go/cmd/docqa/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
