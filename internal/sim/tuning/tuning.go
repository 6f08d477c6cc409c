package tuning

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	Seed           int64 `yaml:"seed"`
	StepRateHz     int   `yaml:"step_rate_hz"`
	StepTimeoutMs  int   `yaml:"step_timeout_ms"`
	PollIntervalMs int   `yaml:"poll_interval_ms"`

	// BarrierMode is "blocking" (wait on the barrier channel) or "poll"
	// (tick the barrier, then sleep poll_interval_ms).
	BarrierMode string `yaml:"barrier_mode"`

	MaxSteps   int `yaml:"max_steps"`
	MaxWorkers int `yaml:"max_workers"`

	Map MapConfig `yaml:"map"`
}

const (
	BarrierBlocking = "blocking"
	BarrierPoll     = "poll"
)

type MapConfig struct {
	Title  string   `yaml:"title"`
	Layout []string `yaml:"layout"`
	// Spawns are [row, col] pairs handed out to joining workers in order.
	// Workers beyond the list get the first free path cell.
	Spawns [][2]int `yaml:"spawns"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		Seed:            1337,
		StepRateHz:      2,
		StepTimeoutMs:   5000,
		PollIntervalMs:  1000,
		BarrierMode:     BarrierBlocking,
		MaxSteps:        100,
		MaxWorkers:      16,
		Map: MapConfig{
			Title: "Default game settings",
			Layout: []string{
				"PPPPPPPP",
				"PBBPBBFP",
				"PPPPPPPP",
				"PBFPBB#P",
				"PPPPPPPP",
			},
		},
	}
}

// Load reads a tuning file over the defaults: keys missing from the file keep their default.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	if t.StepRateHz <= 0 {
		errs = append(errs, fmt.Errorf("step_rate_hz must be > 0"))
	}
	if t.StepTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("step_timeout_ms must be > 0"))
	}
	if t.PollIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval_ms must be > 0"))
	}
	if t.BarrierMode != BarrierBlocking && t.BarrierMode != BarrierPoll {
		errs = append(errs, fmt.Errorf("barrier_mode must be %q or %q, got %q", BarrierBlocking, BarrierPoll, t.BarrierMode))
	}
	if t.MaxSteps < 0 {
		errs = append(errs, fmt.Errorf("max_steps must be >= 0"))
	}
	if t.MaxWorkers <= 0 {
		errs = append(errs, fmt.Errorf("max_workers must be > 0"))
	}
	if len(t.Map.Layout) == 0 {
		errs = append(errs, fmt.Errorf("map.layout is empty"))
	}
	return errors.Join(errs...)
}

func (t Tuning) StepTimeout() time.Duration {
	return time.Duration(t.StepTimeoutMs) * time.Millisecond
}

func (t Tuning) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalMs) * time.Millisecond
}
