package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"legal-rag/internal/config"
	"legal-rag/internal/helper"
	"legal-rag/internal/index"
	"legal-rag/internal/orchestrator"
	"legal-rag/internal/telemetry"
)

var (
	configPath string
	logLevel   string

	cfg      *config.Config
	pipeline *orchestrator.Orchestrator
	shutdown []func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:   "legalrag",
	Short: "Index legal documents and draft grounded responses",
	Long: `legalrag ingests legal documents, extracts their type, parties and issues,
indexes them for similarity search and drafts response suggestions that cite
similar documents already in the index.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath, "path to a YAML or JSON config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level, overrides log.level")
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogger(cfg.Log)

	if cfg.Telemetry.Enabled {
		stop, err := telemetry.InitTracer(cmd.Context(), cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("failed to init tracer: %w", err)
		}
		shutdown = append(shutdown, stop)
	}
	return nil
}

func setupLogger(lc config.LogConfig) {
	level := lc.Level
	if logLevel != "" {
		level = logLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if strings.EqualFold(lc.Format, "json") {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Caller().Logger()
		return
	}
	// stdout carries command output
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()
}

// getPipeline builds the orchestrator on first use
func getPipeline(ctx context.Context) (*orchestrator.Orchestrator, error) {
	if pipeline != nil {
		return pipeline, nil
	}
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}

	if strings.EqualFold(cfg.Index.Backend, index.BackendChromem) && !cfg.Index.InMemory {
		if err := helper.CreateFolder(cfg.Index.Path); err != nil {
			return nil, err
		}
	}

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	o, err := orchestrator.Build(ctx, cfg, metrics)
	if err != nil {
		return nil, err
	}
	pipeline = o
	return pipeline, nil
}

func teardown(ctx context.Context) error {
	var errs []error
	if pipeline != nil {
		errs = append(errs, pipeline.Close())
		pipeline = nil
	}
	for _, stop := range shutdown {
		errs = append(errs, stop(ctx))
	}
	shutdown = nil
	return errors.Join(errs...)
}

func printJSON(cmd *cobra.Command, v any) error {
	return helper.WritePretty(cmd.OutOrStdout(), v)
}
