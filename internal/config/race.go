package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// AidStation is one configured aid station along the route. Start and
// finish stations are derived from the route itself and must not be listed.
type AidStation struct {
	Name     string  `yaml:"name" validate:"required"`
	MileMark float64 `yaml:"mile_mark" validate:"gte=0"`
	Comments string  `yaml:"comments"`
}

// StartLocation is where the runner marker sits before the first fix.
type StartLocation struct {
	Latitude  float64 `yaml:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `yaml:"longitude" validate:"gte=-180,lte=180"`
}

// RaceConfig describes one race: which CalTopo map holds the route and
// markers, when the race starts, and how the route should be resampled.
type RaceConfig struct {
	Name             string        `yaml:"name" validate:"required"`
	MapID            string        `yaml:"map_id" validate:"required"`
	RouteName        string        `yaml:"route_name" validate:"required"`
	StartTime        string        `yaml:"start_time" validate:"required"`
	Timezone         string        `yaml:"timezone" validate:"required"`
	RunnerMarkerName string        `yaml:"runner_marker_name"`
	StartLocation    StartLocation `yaml:"start_location"`
	AidStations      []AidStation  `yaml:"aid_stations"`
	MinPointSpacing  float64       `yaml:"min_point_spacing_ft" validate:"gte=0"`
	MaxPointSpacing  float64       `yaml:"max_point_spacing_ft" validate:"gte=0"`
	PaceFloor        float64       `yaml:"pace_floor_min_per_mile" validate:"gte=0"`
}

// LoadRaceConfig reads and validates the race YAML file. Spacing and pace
// floor defaults are applied here so callers never see zeros.
func LoadRaceConfig(path string) (RaceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RaceConfig{}, err
	}

	var cfg RaceConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RaceConfig{}, err
	}

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return RaceConfig{}, err
	}
	for _, as := range cfg.AidStations {
		if err := v.Struct(as); err != nil {
			return RaceConfig{}, err
		}
	}

	if _, err := time.Parse(time.RFC3339, cfg.StartTime); err != nil {
		return RaceConfig{}, fmt.Errorf("invalid start_time %q: %w", cfg.StartTime, err)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return RaceConfig{}, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}

	if cfg.MinPointSpacing == 0 {
		cfg.MinPointSpacing = 5
	}
	if cfg.MaxPointSpacing == 0 {
		cfg.MaxPointSpacing = 75
	}
	if cfg.PaceFloor == 0 {
		cfg.PaceFloor = 4.0
	}
	if cfg.RunnerMarkerName == "" {
		cfg.RunnerMarkerName = "Runner"
	}
	return cfg, nil
}

// Start returns the race start time localized to the course timezone.
func (rc RaceConfig) Start() time.Time {
	loc, err := time.LoadLocation(rc.Timezone)
	if err != nil {
		loc = time.UTC
	}
	t, _ := time.Parse(time.RFC3339, rc.StartTime)
	return t.In(loc)
}

// Location returns the course timezone, falling back to UTC.
func (rc RaceConfig) Location() *time.Location {
	loc, err := time.LoadLocation(rc.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
