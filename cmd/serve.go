package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mediloop/mediloop/internal/alerts"
	"github.com/mediloop/mediloop/internal/audit"
	"github.com/mediloop/mediloop/internal/conversation"
	"github.com/mediloop/mediloop/internal/ehr"
	"github.com/mediloop/mediloop/internal/emergency"
	"github.com/mediloop/mediloop/internal/extraction"
	"github.com/mediloop/mediloop/internal/render"
	"github.com/mediloop/mediloop/internal/server"
	"github.com/mediloop/mediloop/internal/store"
)

var serveAllowAll bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the consultation HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		provider, err := createProvider(cfg, cfg.Model)
		if err != nil {
			return fmt.Errorf("creating provider: %w", err)
		}
		scannerProvider, err := createProvider(cfg, cfg.ScannerModel)
		if err != nil {
			return fmt.Errorf("creating scanner provider: %w", err)
		}
		extractionProvider, err := createProvider(cfg, cfg.ExtractionModel)
		if err != nil {
			return fmt.Errorf("creating extraction provider: %w", err)
		}
		embedder, err := createEmbedder(cfg)
		if err != nil {
			return fmt.Errorf("creating embedder: %w", err)
		}

		db, err := store.Open(filepath.Join(cfg.DataDir, "mediloop.db"))
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()

		patients := store.NewPatientStore(db)
		sessions := store.NewSessionStore(db)
		artifacts := store.NewArtifactStore(db)
		alertStore := alerts.NewStore(db)

		registry := conversation.NewRegistry(
			time.Duration(cfg.SessionTTLMinutes)*time.Minute,
			time.Duration(cfg.SweepIntervalMin)*time.Minute,
		)

		hydrator := ehr.NewHydrator(patients, artifacts, embedder)

		srv := server.New(server.Config{Port: cfg.Port, AllowAll: serveAllowAll}, server.Deps{
			DB:         db,
			Patients:   patients,
			Sessions:   sessions,
			Artifacts:  artifacts,
			Audit:      audit.NewStore(db),
			Alerts:     alerts.NewDispatcher(alertStore),
			AlertStore: alertStore,
			Registry:   registry,
			Provider:   provider,
			Model:      cfg.Model,
			Scanner:    emergency.NewScanner(scannerProvider, cfg.ScannerModel),
			Hydrator:   hydrator,
			Pipeline:   extraction.NewPipeline(extractionProvider, cfg.ExtractionModel, sessions, patients, artifacts, hydrator),
			Renderer:   render.New(),
		})

		errCh := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-stop:
			log.Printf("received %s, shutting down", sig)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveAllowAll, "allow-all-origins", false, "allow all CORS origins (dev mode)")
	rootCmd.AddCommand(serveCmd)
}
