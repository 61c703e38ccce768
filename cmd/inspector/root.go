package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bryanwahyu/defect-inspector/internal/config"
	"github.com/bryanwahyu/defect-inspector/internal/infra/ai/openai"
	"github.com/bryanwahyu/defect-inspector/internal/infra/ai/prompt"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "inspector",
	Short: "Structural defect inspection from photos",
	Long:  `Upload photos of building defects and get a technical inspection report per СН 1.04.01-2020 and СП 1.04.02-2022.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.WithError(err).Warn("Error loading .env file")
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("config load error: %w", err)
		}
		loaded.ConfigureLogging()
		cfg = loaded
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("No subcommand given")
		cmd.Usage()
	},
}

func init() {
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", path, "path to config.yaml")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Exit with a nonzero exit code if the command fails with an error
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newAnalyzer(cfg *config.Config) (*openai.Client, error) {
	variant, err := prompt.ParseVariant(cfg.Analysis.SchemaVariant)
	if err != nil {
		return nil, err
	}
	if cfg.Analysis.APIKey == "" {
		log.Warn("no analysis API key configured; every analysis will fail")
	}
	return openai.NewClient(openai.Options{
		APIKey:      cfg.Analysis.APIKey,
		BaseURL:     cfg.Analysis.BaseURL,
		Model:       cfg.Analysis.Model,
		Temperature: cfg.Analysis.Temperature,
		MaxTokens:   cfg.Analysis.MaxTokens,
		Variant:     variant,
	}, log.WithField("service", "inspector"))
}
