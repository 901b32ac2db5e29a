// Package commands defines all Cobra CLI commands for the studyrag binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/studyrag/studyrag-go/internal/audit"
	"github.com/studyrag/studyrag-go/internal/config"
	"github.com/studyrag/studyrag-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "studyrag",
		Short: "studyrag — study-material QA over your own documents",
		Long: `studyrag answers questions strictly from the study material you upload.

Upload lecture notes and textbooks (PDF/DOCX), optionally a course syllabus,
then ask questions: answers are generated from retrieved excerpts of your
documents with page and source citations, never from the model's own memory.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.studyrag/config.yaml).
See 'studyrag --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.studyrag/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewAskCmd(),
		NewIngestCmd(),
		NewSyllabusCmd(),
		NewVersionCmd(),
	)

	return root
}
