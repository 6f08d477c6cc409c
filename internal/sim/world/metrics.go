package world

import "gridworld.ai/internal/sim/movement"

// WorldMetrics is a thread-safe read-only view of key world runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type WorldMetrics struct {
	Step    uint64 `json:"step"`
	Workers int    `json:"workers"`

	StepMS float64 `json:"step_ms"`

	StalledTotal     uint64 `json:"stalled_total"`
	AcceptedTotal    uint64 `json:"accepted_total"`
	RejectedTotal    uint64 `json:"rejected_total"`
	MissingTotal     uint64 `json:"missing_total"`
	UnconfirmedTotal uint64 `json:"unconfirmed_total"`
	DroppedMessages  uint64 `json:"dropped_messages"`

	QueueDepths QueueDepths `json:"queue_depths"`
}

type QueueDepths struct {
	Join  int `json:"join"`
	Leave int `json:"leave"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	m.DroppedMessages = w.convs.droppedTotal()
	m.QueueDepths = QueueDepths{Join: len(w.join), Leave: len(w.leave)}
	return m
}

func (w *World) recordMetrics(res StepResult) {
	prev := w.Metrics()
	m := WorldMetrics{
		Step:             res.Step + 1,
		Workers:          w.workerCount(),
		StepMS:           float64(res.Duration.Microseconds()) / 1000.0,
		StalledTotal:     prev.StalledTotal,
		AcceptedTotal:    prev.AcceptedTotal,
		RejectedTotal:    prev.RejectedTotal,
		MissingTotal:     prev.MissingTotal + uint64(len(res.Missing)),
		UnconfirmedTotal: prev.UnconfirmedTotal + uint64(len(res.Unconfirmed)),
	}
	if res.Stalled {
		m.StalledTotal++
	}
	for _, r := range res.Movements {
		switch r.Status {
		case movement.Accepted:
			m.AcceptedTotal++
		case movement.Rejected:
			m.RejectedTotal++
		}
	}
	w.metrics.Store(m)
}
