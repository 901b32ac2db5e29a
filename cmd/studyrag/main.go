// Command studyrag is the entry point for the studyrag document QA service.
// It provides a CLI interface (via Cobra) and an HTTP server exposing
// document ingestion, retrieval-backed question answering, and syllabus
// parsing.
package main

import (
	"fmt"
	"os"

	"github.com/studyrag/studyrag-go/cmd/studyrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
