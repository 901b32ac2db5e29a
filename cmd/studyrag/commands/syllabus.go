package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/studyrag/studyrag-go/internal/extract"
	"github.com/studyrag/studyrag-go/internal/syllabus"
)

// NewSyllabusCmd constructs the `studyrag syllabus` command, which parses a
// syllabus document and prints the structured result as JSON.
func NewSyllabusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "syllabus [file]",
		Short: "Parse a syllabus document into structured units and topics",
		Long: `Parse a course syllabus (PDF/DOCX) and print the detected subject,
units, and topics as JSON.

Useful for checking what the server would extract before uploading via
POST /api/syllabus/upload.

Examples:
  studyrag syllabus cs301-syllabus.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if !extract.SupportedExt(filepath.Ext(path)) {
				return fmt.Errorf("syllabus: %s: only .pdf and .docx files are supported", path)
			}

			doc, err := extract.NewExtractor().Extract(cmd.Context(), path)
			if err != nil {
				return fmt.Errorf("syllabus: extract: %w", err)
			}

			parsed, err := syllabus.NewParser().Parse(doc)
			if err != nil {
				return fmt.Errorf("syllabus: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(parsed); err != nil {
				return fmt.Errorf("syllabus: encode: %w", err)
			}
			return nil
		},
	}

	return cmd
}
