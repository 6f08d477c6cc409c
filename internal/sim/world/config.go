package world

import (
	"time"

	"gridworld.ai/internal/sim/grid"
)

type WorldConfig struct {
	ID         string
	StepRateHz int

	// StepTimeout bounds each negotiation phase (proposal aggregation and
	// apply confirmation). The barrier waits StepTimeout plus BarrierGrace.
	StepTimeout  time.Duration
	BarrierGrace time.Duration
	// PollBarrier selects the cooperative barrier: Tick then sleep
	// PollInterval, instead of a blocking receive.
	PollBarrier  bool
	PollInterval time.Duration

	// MaxSteps stops Run after that many steps; 0 runs until cancelled.
	MaxSteps   int
	MaxWorkers int

	// Spawns are handed out to joining workers in order while free.
	Spawns []grid.Pos
}

func (c WorldConfig) withDefaults() WorldConfig {
	if c.ID == "" {
		c.ID = "world_1"
	}
	if c.StepRateHz <= 0 {
		c.StepRateHz = 2
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = 5 * time.Second
	}
	if c.BarrierGrace <= 0 {
		c.BarrierGrace = 250 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 16
	}
	return c
}
