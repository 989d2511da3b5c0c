package main

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/iwvelando/indirect-rates/internal/config"
	"github.com/iwvelando/indirect-rates/internal/forecast"
	"github.com/iwvelando/indirect-rates/internal/ingest"
	"github.com/iwvelando/indirect-rates/internal/report"
	"github.com/iwvelando/indirect-rates/pkg/constants"
	"github.com/iwvelando/indirect-rates/pkg/validation"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagInputDir       string
	flagOutputDir      string
	flagOutputFormat   string
	flagScenario       string
	flagEntity         string
	flagForecastMonths int
	flagRunRateMonths  int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Compute actual and projected rates for every scenario",
	RunE:  runForecast,
}

func init() {
	addRunFlags(runCmd)
	runCmd.Flags().StringVar(&flagOutputDir, "output-dir", "", "write the report pack to this directory")
	runCmd.Flags().StringVar(&flagOutputFormat, "output-format", "", "type of output override: pretty, csv, json")
	rootCmd.AddCommand(runCmd)
}

// addRunFlags registers the run parameter overrides shared by run and validate.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagInputDir, "input-dir", "", "directory holding the input CSV files")
	cmd.Flags().StringVar(&flagScenario, "scenario", "", "run only this scenario")
	cmd.Flags().StringVar(&flagEntity, "entity", "", "restrict GL actuals to this entity")
	cmd.Flags().IntVar(&flagForecastMonths, "forecast-months", 0, "months to project past the last actual")
	cmd.Flags().IntVar(&flagRunRateMonths, "run-rate-months", 0, "trailing months averaged for the run rate")
}

// applyRunFlags overrides configuration values with the flags that were set.
func applyRunFlags(cmd *cobra.Command, conf *config.Configuration) {
	flags := cmd.Flags()
	if flags.Changed("input-dir") {
		conf.Run.InputDir = flagInputDir
	}
	if flags.Changed("output-dir") {
		conf.Run.OutputDir = flagOutputDir
	}
	if flags.Changed("scenario") {
		conf.Run.Scenario = flagScenario
	}
	if flags.Changed("entity") {
		conf.Run.Entity = flagEntity
	}
	if flags.Changed("forecast-months") {
		conf.Run.ForecastMonths = flagForecastMonths
	}
	if flags.Changed("run-rate-months") {
		conf.Run.RunRateMonths = flagRunRateMonths
	}
}

// loadRequest validates the configuration and reads the inputs of a run.
func loadRequest(cmd *cobra.Command) (*config.Configuration, *zap.Logger, forecast.Request, error) {
	conf, logger, err := setup(cmd)
	if err != nil {
		return nil, nil, forecast.Request{}, err
	}
	applyRunFlags(cmd, conf)

	for _, warning := range conf.ValidateConfiguration() {
		logger.Warn("Configuration warning: "+warning,
			zap.String("op", "main"),
		)
	}

	if conf.Run.InputDir == "" {
		return nil, nil, forecast.Request{}, fmt.Errorf("no input directory; set run.inputDir or --input-dir")
	}
	inputs, warnings, err := ingest.ReadDir(conf.Run.InputDir)
	if err != nil {
		return nil, nil, forecast.Request{}, fmt.Errorf("failed to read inputs: %w", err)
	}
	return conf, logger, forecast.Request{Inputs: inputs, Warnings: warnings, RunID: uuid.NewString()}, nil
}

func runForecast(cmd *cobra.Command, _ []string) error {
	conf, logger, req, err := loadRequest(cmd)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	// Determine output format (CLI override takes precedence over config)
	outputFormat := conf.Output.Format
	if flagOutputFormat != "" {
		outputFormat = flagOutputFormat
	}
	if outputFormat == "" {
		outputFormat = constants.OutputFormatPretty
	}
	if err := validation.ValidateOutputFormat(outputFormat); err != nil {
		return err
	}

	outputs, err := forecast.GetForecast(cmd.Context(), logger, *conf, req)
	if err != nil {
		return fmt.Errorf("failed to compute forecast: %w", err)
	}

	if err := writeOutputs(cmd.OutOrStdout(), outputFormat, outputs); err != nil {
		return err
	}

	if conf.Run.OutputDir != "" {
		written, err := report.WritePack(conf.Run.OutputDir, outputs)
		if err != nil {
			return fmt.Errorf("failed to write report pack: %w", err)
		}
		logger.Info(fmt.Sprintf("wrote %d report file(s) to %s", len(written), conf.Run.OutputDir),
			zap.String("op", "main"),
			zap.String("runId", req.RunID),
		)
	}
	return nil
}

func writeOutputs(w io.Writer, format string, outputs []report.Output) error {
	switch format {
	case constants.OutputFormatCSV:
		return report.WriteCSV(w, outputs)
	case constants.OutputFormatJSON:
		return report.WriteJSON(w, outputs)
	default:
		return report.WritePretty(w, outputs)
	}
}
