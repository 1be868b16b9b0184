// Package config loads the engine's configuration surface: the civil
// time zone all date arithmetic runs in, and the two policy switches the
// spec calls out explicitly (vacation carry-over cap, conflict policy on
// absence approval).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hmb-research/overtime-engine/internal/apierror"
)

// CarryoverVacationPolicy controls how much unused vacation carries into
// the next year's VacationBalance.
type CarryoverVacationPolicy string

const (
	CarryoverCapped5   CarryoverVacationPolicy = "capped5"
	CarryoverUnlimited CarryoverVacationPolicy = "unlimited"
)

// ConflictPolicy controls what happens to time entries already logged in
// a date range when an absence covering that range is approved.
type ConflictPolicy string

const (
	ConflictDeleteTimeEntries ConflictPolicy = "deleteTimeEntries"
	ConflictRejectApproval    ConflictPolicy = "rejectApproval"
)

// Config is the engine's full configuration surface.
type Config struct {
	TimeZone                 string                  `yaml:"time_zone"`
	CarryoverVacationPolicy  CarryoverVacationPolicy `yaml:"carryover_vacation_policy"`
	ConflictPolicyOnApproval ConflictPolicy          `yaml:"conflict_policy_on_approval"`
	DatabaseURL              string                  `yaml:"database_url"`
	RolloverCron             string                  `yaml:"rollover_cron"`
	HolidayCountryCode       string                  `yaml:"holiday_country_code"`

	// location is the parsed form of TimeZone, resolved by Validate.
	location *time.Location
}

// Default returns the engine's documented defaults.
func Default() Config {
	return Config{
		TimeZone:                 "UTC",
		CarryoverVacationPolicy:  CarryoverCapped5,
		ConflictPolicyOnApproval: ConflictDeleteTimeEntries,
		RolloverCron:             "5 0 1 1 *",
		HolidayCountryCode:       "DE",
	}
}

// Load reads and validates a YAML config file, falling back to Default()
// for any field left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML config bytes and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field the engine must refuse to start without,
// and resolves TimeZone into a *time.Location. Invalid policy values are
// a fatal config error — the engine never silently substitutes a default
// for a value the operator explicitly got wrong.
func (c *Config) Validate() error {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return apierror.Validation("invalid time_zone %q: %v", c.TimeZone, err)
	}
	c.location = loc

	switch c.CarryoverVacationPolicy {
	case CarryoverCapped5, CarryoverUnlimited:
	default:
		return apierror.Validation("invalid carryover_vacation_policy %q", c.CarryoverVacationPolicy)
	}

	switch c.ConflictPolicyOnApproval {
	case ConflictDeleteTimeEntries, ConflictRejectApproval:
	default:
		return apierror.Validation("invalid conflict_policy_on_approval %q", c.ConflictPolicyOnApproval)
	}

	if c.RolloverCron == "" {
		return apierror.Validation("rollover_cron must not be empty")
	}

	return nil
}

// Location returns the resolved civil time zone. Validate must have been
// called (Load and Parse both call it).
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}
