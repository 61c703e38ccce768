package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bryanwahyu/defect-inspector/internal/application"
	appinspection "github.com/bryanwahyu/defect-inspector/internal/application/inspection"
	domain "github.com/bryanwahyu/defect-inspector/internal/domain/inspection"
	"github.com/bryanwahyu/defect-inspector/internal/infra/export"
	"github.com/bryanwahyu/defect-inspector/internal/infra/report"
	"github.com/bryanwahyu/defect-inspector/internal/middleware"
)

var (
	analyzeComments string
	analyzePDF      string
)

func init() {
	analyzeCmd.Flags().StringVar(&analyzeComments, "comments", "", "free-text comments sent with the photos")
	analyzeCmd.Flags().StringVar(&analyzePDF, "pdf", "", "also write the report as PDF to this file")
	rootCmd.AddCommand(analyzeCmd)
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze IMAGE...",
	Short: "Analyzes photos once and prints the result as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		analyzer, err := newAnalyzer(cfg)
		if err != nil {
			return err
		}

		images := make([]domain.Image, 0, len(args))
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			img, err := middleware.ValidateImage(path, data)
			if err != nil {
				return err
			}
			images = append(images, img)
		}

		clock := application.SystemClock{}
		session, err := appinspection.NewSession("cli", appinspection.Deps{
			Analyzer: analyzer,
			Clock:    clock,
			Logger:   log.WithField("service", "inspector"),
		})
		if err != nil {
			return err
		}
		if err := session.AddImages(images...); err != nil {
			return err
		}
		if err := session.SetComments(middleware.SanitizeString(analyzeComments)); err != nil {
			return err
		}
		if !session.Run() {
			return domain.ErrNoImagesStaged
		}
		session.Wait()

		result, ok := session.Result()
		if !ok {
			return errors.New(session.Snapshot().Error)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}

		if analyzePDF != "" {
			f, err := os.Create(analyzePDF)
			if err != nil {
				return err
			}
			defer f.Close()
			exporter := export.NewExporter(cfg.Export.FontPath, cfg.Export.BoldFontPath)
			if err := exporter.Export(f, report.Build(result), clock.Now()); err != nil {
				return fmt.Errorf("write %s: %w", analyzePDF, err)
			}
			log.WithField("file", analyzePDF).Info("report exported")
		}
		return nil
	},
}
