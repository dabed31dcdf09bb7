package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"studybuddy/internal/embedding"
	"studybuddy/internal/store"
)

var (
	ingestFile  string
	ingestBatch int
)

// ingestLine is one chunk in the JSONL ingest format.
type ingestLine struct {
	Corpus       string   `json:"corpus"`
	Content      string   `json:"content"`
	Name         string   `json:"name"`
	DocumentID   string   `json:"document_id"`
	SlideNumber  *int     `json:"slide_number"`
	LectureID    string   `json:"lecture_id"`
	StartSeconds *float64 `json:"start_seconds"`
	EndSeconds   *float64 `json:"end_seconds"`
	CourseID     string   `json:"course_id"`
	OwnerID      string   `json:"owner_id"`
}

// ingestCmd loads chunks from a JSONL file, embeds them, and stores them.
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest course-material chunks from a JSONL file",
	Long: `Reads one JSON chunk per line, generates embeddings in batches, and
stores the chunks for retrieval. Each line needs at least "corpus"
("slide" or "lecture") and "content"; metadata fields drive citations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if ingestFile == "" {
			return fmt.Errorf("--file is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		st, err := store.NewLocalStore(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()

		engine, err := embedding.NewEngine(embedding.Config{
			Provider:       cfg.Embedding.Provider,
			OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
			OllamaModel:    cfg.Embedding.OllamaModel,
			GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
			GenAIModel:     cfg.Embedding.GenAIModel,
			TaskType:       "RETRIEVAL_DOCUMENT",
		})
		if err != nil {
			return fmt.Errorf("failed to create embedding engine: %w", err)
		}

		f, err := os.Open(ingestFile)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", ingestFile, err)
		}
		defer f.Close()

		ctx := cmd.Context()
		var batch []store.Chunk
		stored, skipped := 0, 0

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
		lineNo := 0

		for scanner.Scan() {
			lineNo++
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var in ingestLine
			if err := json.Unmarshal(line, &in); err != nil {
				logger.Warn("skipping malformed line", zap.Int("line", lineNo), zap.Error(err))
				skipped++
				continue
			}
			if in.Content == "" {
				skipped++
				continue
			}

			batch = append(batch, store.Chunk{
				Corpus:       in.Corpus,
				Content:      in.Content,
				Name:         in.Name,
				DocumentID:   in.DocumentID,
				SlideNumber:  in.SlideNumber,
				LectureID:    in.LectureID,
				StartSeconds: in.StartSeconds,
				EndSeconds:   in.EndSeconds,
				CourseID:     in.CourseID,
				OwnerID:      in.OwnerID,
			})

			if len(batch) >= ingestBatch {
				n, err := flushBatch(ctx, st, engine, batch)
				if err != nil {
					return err
				}
				stored += n
				batch = batch[:0]
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read %s: %w", ingestFile, err)
		}

		if len(batch) > 0 {
			n, err := flushBatch(ctx, st, engine, batch)
			if err != nil {
				return err
			}
			stored += n
		}

		fmt.Printf("Ingested %d chunks (%d skipped)\n", stored, skipped)
		return nil
	},
}

func flushBatch(ctx context.Context, st *store.LocalStore, engine embedding.EmbeddingEngine, batch []store.Chunk) (int, error) {
	texts := make([]string, len(batch))
	for i, chunk := range batch {
		texts[i] = chunk.Content
	}

	embeddings, err := engine.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding batch failed: %w", err)
	}
	if len(embeddings) != len(batch) {
		return 0, fmt.Errorf("engine returned %d embeddings for %d chunks", len(embeddings), len(batch))
	}

	stored := 0
	for i, chunk := range batch {
		if _, err := st.StoreChunk(chunk, embeddings[i]); err != nil {
			return stored, fmt.Errorf("failed to store chunk: %w", err)
		}
		stored++
	}
	return stored, nil
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "JSONL file of chunks to ingest")
	ingestCmd.Flags().IntVar(&ingestBatch, "batch", 32, "embedding batch size")
}
