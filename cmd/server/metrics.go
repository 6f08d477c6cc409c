package main

import (
	"fmt"
	"net/http"

	"gridworld.ai/internal/persistence/indexdb"
	"gridworld.ai/internal/sim/world"
)

// metricsHandler writes the minimal Prometheus exposition format.
func metricsHandler(worldID string, w *world.World, idx *indexdb.SQLiteIndex) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		m := w.Metrics()
		step := w.CurrentStep()
		if m.Step != 0 {
			step = m.Step
		}

		fmt.Fprintf(rw, "# HELP gridworld_step Current step number.\n")
		fmt.Fprintf(rw, "# TYPE gridworld_step gauge\n")
		fmt.Fprintf(rw, "gridworld_step{world=%q} %d\n", worldID, step)

		fmt.Fprintf(rw, "# HELP gridworld_workers Registered workers.\n")
		fmt.Fprintf(rw, "# TYPE gridworld_workers gauge\n")
		fmt.Fprintf(rw, "gridworld_workers{world=%q} %d\n", worldID, m.Workers)

		fmt.Fprintf(rw, "# HELP gridworld_step_ms Last step duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE gridworld_step_ms gauge\n")
		fmt.Fprintf(rw, "gridworld_step_ms{world=%q} %.3f\n", worldID, m.StepMS)

		fmt.Fprintf(rw, "# HELP gridworld_movements_total Finalized movements by status.\n")
		fmt.Fprintf(rw, "# TYPE gridworld_movements_total counter\n")
		fmt.Fprintf(rw, "gridworld_movements_total{world=%q,status=%q} %d\n", worldID, "accepted", m.AcceptedTotal)
		fmt.Fprintf(rw, "gridworld_movements_total{world=%q,status=%q} %d\n", worldID, "rejected", m.RejectedTotal)

		fmt.Fprintf(rw, "# HELP gridworld_stalled_steps_total Steps whose barrier timed out.\n")
		fmt.Fprintf(rw, "# TYPE gridworld_stalled_steps_total counter\n")
		fmt.Fprintf(rw, "gridworld_stalled_steps_total{world=%q} %d\n", worldID, m.StalledTotal)

		fmt.Fprintf(rw, "# HELP gridworld_missing_total Workers without a proposal, summed over steps.\n")
		fmt.Fprintf(rw, "# TYPE gridworld_missing_total counter\n")
		fmt.Fprintf(rw, "gridworld_missing_total{world=%q} %d\n", worldID, m.MissingTotal)

		fmt.Fprintf(rw, "# HELP gridworld_unconfirmed_total Apply conversations without a matching confirmation.\n")
		fmt.Fprintf(rw, "# TYPE gridworld_unconfirmed_total counter\n")
		fmt.Fprintf(rw, "gridworld_unconfirmed_total{world=%q} %d\n", worldID, m.UnconfirmedTotal)

		fmt.Fprintf(rw, "# HELP gridworld_dropped_messages_total Inbound CONV messages with no open conversation.\n")
		fmt.Fprintf(rw, "# TYPE gridworld_dropped_messages_total counter\n")
		fmt.Fprintf(rw, "gridworld_dropped_messages_total{world=%q} %d\n", worldID, m.DroppedMessages)

		fmt.Fprintf(rw, "# HELP gridworld_queue_depth Channel backlog depth.\n")
		fmt.Fprintf(rw, "# TYPE gridworld_queue_depth gauge\n")
		fmt.Fprintf(rw, "gridworld_queue_depth{world=%q,queue=%q} %d\n", worldID, "join", m.QueueDepths.Join)
		fmt.Fprintf(rw, "gridworld_queue_depth{world=%q,queue=%q} %d\n", worldID, "leave", m.QueueDepths.Leave)

		if idx != nil {
			st := idx.Stats()
			fmt.Fprintf(rw, "gridworld_queue_depth{world=%q,queue=%q} %d\n", worldID, "index", st.QueueDepth)
			fmt.Fprintf(rw, "# HELP gridworld_index_dropped_total Step entries the index dropped because its queue was full.\n")
			fmt.Fprintf(rw, "# TYPE gridworld_index_dropped_total counter\n")
			fmt.Fprintf(rw, "gridworld_index_dropped_total{world=%q} %d\n", worldID, st.DropStepTotal)
		}
	}
}
