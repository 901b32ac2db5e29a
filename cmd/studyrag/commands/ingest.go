package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/studyrag/studyrag-go/internal/extract"
	"github.com/studyrag/studyrag-go/internal/logging"
)

// NewIngestCmd constructs the `studyrag ingest` command, which indexes
// local PDF/DOCX files synchronously.
func NewIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Index local study documents into the vector store",
		Long: `Extract, chunk, embed, and index local PDF or DOCX documents.

Files are copied into the upload directory (UPLOAD_DIR, default
~/.studyrag/uploads) so the index can be rebuilt from them later, then
indexed synchronously. Re-ingesting a file replaces its chunks.

Examples:
  studyrag ingest notes/os-unit1.pdf notes/os-unit2.pdf
  INDEX_BACKEND=qdrant studyrag ingest textbook.docx`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			for _, path := range args {
				ext := filepath.Ext(path)
				if !extract.SupportedExt(ext) {
					return fmt.Errorf("ingest: %s: only .pdf and .docx files are supported", path)
				}
				if _, err := os.Stat(path); err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
			}

			emb, err := buildValidatedEmbedder(log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			idx, closeIndex, err := buildIndex(ctx, emb, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer closeIndex()

			uploadDir, err := resolveUploadDir()
			if err != nil {
				return fmt.Errorf("ingest: resolve upload dir: %w", err)
			}

			extractor := extract.NewExtractor()
			chk := buildChunker()

			for _, path := range args {
				name := filepath.Base(path)

				// Retain a copy so the server's rebuilder can re-index it.
				stored := filepath.Join(uploadDir, name)
				if err := copyFile(path, stored); err != nil {
					return fmt.Errorf("ingest: retain %s: %w", name, err)
				}

				doc, err := extractor.Extract(ctx, stored)
				if err != nil {
					return fmt.Errorf("ingest: extract %s: %w", name, err)
				}
				chunks := chk.Chunk(doc, name)
				if len(chunks) == 0 {
					return fmt.Errorf("ingest: %s produced no text", name)
				}
				if err := idx.AddOrMerge(ctx, chunks); err != nil {
					return fmt.Errorf("ingest: index %s: %w", name, err)
				}
				fmt.Printf("indexed %s (%d chunks)\n", name, len(chunks))
			}

			return nil
		},
	}

	return cmd
}

// copyFile copies src to dst, truncating dst if it exists.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
