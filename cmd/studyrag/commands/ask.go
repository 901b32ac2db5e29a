package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/studyrag/studyrag-go/internal/answer"
	"github.com/studyrag/studyrag-go/internal/embedder"
	"github.com/studyrag/studyrag-go/internal/logging"
	"github.com/studyrag/studyrag-go/internal/provider"
	"github.com/studyrag/studyrag-go/internal/rag"
	"github.com/studyrag/studyrag-go/internal/retrieval"
)

// NewAskCmd constructs the `studyrag ask` command, which answers a single
// question from the indexed documents and prints the result to stdout.
func NewAskCmd() *cobra.Command {
	var topic string
	var marks int

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question against the indexed study material",
		Long: `Answer a question strictly from the documents indexed with 'studyrag ingest'.

The answer cites the source documents and pages it was drawn from. Use
--marks to calibrate answer depth to an exam question's weight and --topic
to pin the syllabus topic the question belongs to.

Examples:
  studyrag ask "what is the difference between paging and segmentation?"
  studyrag ask --marks 10 "explain process scheduling algorithms"
  studyrag ask --topic "Memory Management" "what is thrashing?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			question := strings.Join(args, " ")

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}
			emb, err := buildValidatedEmbedder(log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			idx, closeIndex, err := buildIndex(ctx, emb, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer closeIndex()

			engine := buildEngine(idx, log)
			result, err := engine.Retrieve(ctx, question, topic)
			if err != nil {
				if errors.Is(err, retrieval.ErrNotFound) {
					return fmt.Errorf("ask: nothing relevant found — ingest documents first with 'studyrag ingest'")
				}
				return fmt.Errorf("ask: %w", err)
			}

			generator := &answer.Generator{Model: chatModel, Log: log}
			text, err := generator.Answer(ctx, &answer.Request{
				Question:      question,
				Context:       result.Context,
				SyllabusTopic: topic,
				Marks:         marks,
			})
			if err != nil && !errors.Is(err, answer.ErrTruncatedResponse) {
				return fmt.Errorf("ask: %w", err)
			}

			fmt.Println(text)
			if errors.Is(err, answer.ErrTruncatedResponse) {
				fmt.Println("\n[answer truncated at the model's output limit]")
			}
			if len(result.Sources) > 0 {
				fmt.Printf("\nSources: %s", strings.Join(result.Sources, ", "))
				if len(result.Pages) > 0 {
					fmt.Printf(" (pages %s)", joinInts(result.Pages))
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&topic, "topic", "t", "", "Syllabus topic the question belongs to")
	cmd.Flags().IntVarP(&marks, "marks", "m", 0, "Exam marks the question carries (calibrates answer depth)")

	return cmd
}

// joinInts formats page numbers as a comma-separated list.
func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, ", ")
}

// buildValidatedEmbedder runs the embedding pre-flight check and constructs
// the embedder.
func buildValidatedEmbedder(log *slog.Logger) (rag.Embedder, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	return embedder.NewFromEnv()
}
