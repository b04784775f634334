package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mediloop/mediloop/internal/ehr"
	"github.com/mediloop/mediloop/internal/extraction"
	"github.com/mediloop/mediloop/internal/progress"
	"github.com/mediloop/mediloop/internal/store"
)

var extractSessionID string

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Re-run artifact extraction for completed sessions",
	Long: `Re-runs the extraction pipeline over completed sessions, replacing
their stored artifacts. Useful after a prompt or model upgrade. With
--session, only that session is re-extracted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		provider, err := createProvider(cfg, cfg.ExtractionModel)
		if err != nil {
			return fmt.Errorf("creating provider: %w", err)
		}

		db, err := store.Open(filepath.Join(cfg.DataDir, "mediloop.db"))
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()

		sessions := store.NewSessionStore(db)
		patients := store.NewPatientStore(db)
		artifacts := store.NewArtifactStore(db)

		embedder, err := createEmbedder(cfg)
		if err != nil {
			return fmt.Errorf("creating embedder: %w", err)
		}
		pipeline := extraction.NewPipeline(provider, cfg.ExtractionModel,
			sessions, patients, artifacts, ehr.NewHydrator(patients, artifacts, embedder))

		ctx := cmd.Context()

		var ids []string
		if extractSessionID != "" {
			ids = []string{extractSessionID}
		} else {
			ids, err = sessions.ListCompleted(ctx)
			if err != nil {
				return fmt.Errorf("listing sessions: %w", err)
			}
		}
		if len(ids) == 0 {
			fmt.Println("No completed sessions to extract.")
			return nil
		}

		reporter := progress.NewReporter()
		reporter.Start(len(ids))

		failed := 0
		for i, id := range ids {
			reporter.Update(i+1, "session "+id)
			if err := extractOne(ctx, pipeline, id); err != nil {
				failed++
				fmt.Printf("session %s: %v\n", id, err)
			}
		}
		reporter.Finish()

		fmt.Printf("Extracted %d session(s), %d failed.\n", len(ids)-failed, failed)
		if failed > 0 {
			return fmt.Errorf("%d session(s) failed", failed)
		}
		return nil
	},
}

func extractOne(ctx context.Context, pipeline *extraction.Pipeline, id string) error {
	result, err := pipeline.Run(ctx, id)
	if err != nil {
		return err
	}
	if result.Failed() {
		return fmt.Errorf("stages failed: %v", result.Errors)
	}
	return nil
}

func init() {
	extractCmd.Flags().StringVar(&extractSessionID, "session", "", "extract a single session by ID")
	rootCmd.AddCommand(extractCmd)
}
