package main

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"gridworld.ai/internal/sim/grid"
	"gridworld.ai/internal/sim/tuning"
	"gridworld.ai/internal/sim/world"
)

func TestMetricsHandler(t *testing.T) {
	tune := tuning.Defaults()
	g, err := grid.ParseLayout(tune.Map.Layout)
	if err != nil {
		t.Fatalf("ParseLayout: %v", err)
	}
	w, err := world.New(worldConfigFromTuning("world_t", tune), g, zerolog.Nop())
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	w.StepOnce(context.Background(), nil, nil)

	rec := httptest.NewRecorder()
	metricsHandler("world_t", w, nil)(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`gridworld_step{world="world_t"} 1`,
		`gridworld_workers{world="world_t"} 0`,
		`gridworld_movements_total{world="world_t",status="accepted"} 0`,
		`gridworld_queue_depth{world="world_t",queue="join"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestWorldConfigFromTuning(t *testing.T) {
	tune := tuning.Defaults()
	tune.BarrierMode = tuning.BarrierPoll
	tune.Map.Spawns = [][2]int{{2, 3}}
	cfg := worldConfigFromTuning("w", tune)
	if !cfg.PollBarrier || cfg.StepTimeout != tune.StepTimeout() || cfg.PollInterval != tune.PollInterval() {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.Spawns) != 1 || cfg.Spawns[0] != (grid.Pos{Row: 2, Col: 3}) {
		t.Fatalf("spawns = %v", cfg.Spawns)
	}
}
