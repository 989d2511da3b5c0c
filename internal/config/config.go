// Package config defines the data structures related to configuration and
// includes functions for loading and validating the run configuration.
package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/iwvelando/indirect-rates/internal/rates"
	"github.com/iwvelando/indirect-rates/pkg/constants"
	"github.com/iwvelando/indirect-rates/pkg/validation"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment variables that override configuration keys,
// e.g. INDIRECT_RATES_RUN_FORECASTMONTHS.
const EnvPrefix = "INDIRECT_RATES"

// Configuration holds all configuration for indirect-rates.
type Configuration struct {
	Run              RunConfig          `yaml:"run"`
	Rates            []rates.Definition `yaml:"rates"`
	UnallowablePools []string           `yaml:"unallowablePools,omitempty"`
	Logging          LoggingConfig      `yaml:"logging,omitempty"`
	Output           OutputConfig       `yaml:"output,omitempty"`
}

// RunConfig holds the run parameters.
type RunConfig struct {
	ForecastMonths       int    `yaml:"forecastMonths"`
	RunRateMonths        int    `yaml:"runRateMonths"`
	FiscalYearStartMonth int    `yaml:"fiscalYearStartMonth"`
	Entity               string `yaml:"entity,omitempty"`
	Scenario             string `yaml:"scenario,omitempty"` // empty runs every scenario
	InputDir             string `yaml:"inputDir,omitempty"`
	OutputDir            string `yaml:"outputDir,omitempty"`
}

// LoggingConfig holds logging configuration options
type LoggingConfig struct {
	Level      string `yaml:"level,omitempty"`      // debug, info, warn, error
	Format     string `yaml:"format,omitempty"`     // json, console
	OutputFile string `yaml:"outputFile,omitempty"` // optional file output
}

// OutputConfig holds output format configuration options
type OutputConfig struct {
	Format string `yaml:"format,omitempty"` // pretty, csv, json
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("run.forecastMonths", constants.DefaultForecastMonths)
	v.SetDefault("run.runRateMonths", constants.DefaultRunRateMonths)
	v.SetDefault("run.fiscalYearStartMonth", constants.DefaultFiscalYearStartMonth)
	return v
}

func decode(v *viper.Viper) (*Configuration, error) {
	var configuration Configuration
	if err := v.Unmarshal(&configuration); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %w", err)
	}
	if len(configuration.Rates) == 0 {
		configuration.Rates = DefaultRates()
	}
	return &configuration, nil
}

// LoadConfiguration takes a file path as input and loads the YAML-formatted
// configuration there.
func LoadConfiguration(configPath string) (*Configuration, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	v.SetConfigType("yml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file, %w", err)
	}
	return decode(v)
}

// LoadConfigurationFromReader loads a YAML-formatted configuration from r.
func LoadConfigurationFromReader(r io.Reader) (*Configuration, error) {
	v := newViper()
	v.SetConfigType("yml")

	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("error reading config, %w", err)
	}
	return decode(v)
}

// Default returns the configuration used when no file is given.
func Default() *Configuration {
	return &Configuration{
		Run: RunConfig{
			ForecastMonths:       constants.DefaultForecastMonths,
			RunRateMonths:        constants.DefaultRunRateMonths,
			FiscalYearStartMonth: constants.DefaultFiscalYearStartMonth,
		},
		Rates: DefaultRates(),
	}
}

// DefaultRates is the conventional three-tier structure: Fringe on total
// labor, Overhead on direct labor, and G&A on total cost input.
func DefaultRates() []rates.Definition {
	return []rates.Definition{
		{Name: "Fringe", Pools: []string{"Fringe"}, Base: constants.BaseTL, CascadeOrder: 0},
		{Name: "Overhead", Pools: []string{"Overhead"}, Base: constants.BaseDL, CascadeOrder: 1},
		{Name: "G&A", Pools: []string{"G&A"}, Base: constants.BaseTCI, CascadeOrder: 2},
	}
}

// RateConfig returns the rate definitions of the run.
func (c *Configuration) RateConfig() rates.Config {
	return rates.Config{Rates: c.Rates, UnallowablePools: c.UnallowablePools}
}

// FiscalYearStart returns the first month of the fiscal year.
func (c *Configuration) FiscalYearStart() time.Month {
	return time.Month(c.Run.FiscalYearStartMonth)
}

// Validate returns an error for run parameters no run can proceed with.
func (c *Configuration) Validate() error {
	return validation.ValidateRunParameters(c.Run.ForecastMonths, c.Run.RunRateMonths, c.Run.FiscalYearStartMonth)
}

// ValidateConfiguration performs general validation of the configuration and returns warnings
func (c *Configuration) ValidateConfiguration() []string {
	warnings := validation.RunParameterWarnings(c.Run.ForecastMonths, c.Run.RunRateMonths)

	names := make([]string, 0, len(c.Rates))
	for _, d := range c.Rates {
		names = append(names, d.Name)
	}
	warnings = append(warnings, validation.ValidateRateNames(names, c.UnallowablePools)...)

	if c.Output.Format != "" {
		if err := validation.ValidateOutputFormat(c.Output.Format); err != nil {
			warnings = append(warnings, err.Error())
		}
	}
	return warnings
}
