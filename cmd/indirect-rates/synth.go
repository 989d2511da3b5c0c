package main

import (
	"fmt"

	"github.com/iwvelando/indirect-rates/internal/synth"
	"github.com/iwvelando/indirect-rates/pkg/period"
	"github.com/spf13/cobra"
)

var (
	flagSynthOut      string
	flagSynthStart    string
	flagSynthMonths   int
	flagSynthProjects int
	flagSynthSeed     uint64
)

var synthCmd = &cobra.Command{
	Use:   "synth",
	Short: "Generate a synthetic input dataset",
	RunE:  runSynth,
}

func init() {
	synthCmd.Flags().StringVar(&flagSynthOut, "out", "data", "directory to write the CSV files to")
	synthCmd.Flags().StringVar(&flagSynthStart, "start", "2024-10", "first period, YYYY-MM")
	synthCmd.Flags().IntVar(&flagSynthMonths, "months", 18, "number of actual months")
	synthCmd.Flags().IntVar(&flagSynthProjects, "projects", 6, "number of projects")
	synthCmd.Flags().Uint64Var(&flagSynthSeed, "seed", 42, "random seed")
	rootCmd.AddCommand(synthCmd)
}

func runSynth(cmd *cobra.Command, _ []string) error {
	start, err := period.Parse(flagSynthStart)
	if err != nil {
		return err
	}
	inputs, err := synth.Generate(synth.Options{
		Start:    start,
		Months:   flagSynthMonths,
		Projects: flagSynthProjects,
		Seed:     flagSynthSeed,
	})
	if err != nil {
		return err
	}
	written, err := synth.Write(flagSynthOut, inputs)
	if err != nil {
		return err
	}
	for _, path := range written {
		fmt.Fprintln(cmd.OutOrStdout(), path)
	}
	return nil
}
