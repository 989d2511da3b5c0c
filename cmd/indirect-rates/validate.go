package main

import (
	"fmt"
	"strings"

	"github.com/iwvelando/indirect-rates/internal/forecast"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and inputs without computing rates",
	RunE:  runValidate,
}

func init() {
	addRunFlags(validateCmd)
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, _ []string) error {
	conf, logger, req, err := loadRequest(cmd)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	plan, err := forecast.NewPlan(logger, *conf, req)
	if err != nil {
		return err
	}
	for _, warning := range plan.Warnings {
		logger.Warn(warning,
			zap.String("op", "main"),
		)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "configuration is valid\n")
	fmt.Fprintf(out, "  rates:     %d\n", len(plan.Rates.Rates))
	fmt.Fprintf(out, "  scenarios: %s\n", strings.Join(plan.Scenarios, ", "))
	fmt.Fprintf(out, "  warnings:  %d\n", len(plan.Warnings))
	return nil
}
