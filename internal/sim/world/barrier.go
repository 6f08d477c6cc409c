package world

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"gridworld.ai/internal/sim/movement"
)

var ErrBarrierTimeout = errors.New("world: step barrier timed out")

// Template selects the aggregate a barrier is waiting for.
type Template struct {
	Step uint64
}

// Match reports whether a carries proposals for the template's step.
// An empty aggregate never matches.
func (t Template) Match(a Aggregate) bool {
	return a.Step == t.Step && len(a.Movements) > 0
}

// StepBarrier blocks the orchestrator until the aggregated proposals for the
// current step arrive. Done flips from false to true at most once per Reset.
type StepBarrier struct {
	ch           chan Aggregate
	pollInterval time.Duration
	ticks        atomic.Uint64

	mu        sync.Mutex
	tmpl      Template
	done      bool
	movements []movement.Record
	missing   []string
}

func NewStepBarrier(step uint64, pollInterval time.Duration) *StepBarrier {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &StepBarrier{
		ch:           make(chan Aggregate, 4),
		pollInterval: pollInterval,
		tmpl:         Template{Step: step},
	}
}

// Deliver never blocks. When the mailbox is full the oldest aggregate is dropped.
func (b *StepBarrier) Deliver(a Aggregate) bool {
	select {
	case b.ch <- a:
		return true
	default:
	}
	select {
	case <-b.ch:
	default:
	}
	select {
	case b.ch <- a:
		return true
	default:
		return false
	}
}

// Tick performs one non-blocking receive. Once the barrier is satisfied it
// consumes nothing further.
func (b *StepBarrier) Tick() bool {
	b.ticks.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return true
	}
	select {
	case a := <-b.ch:
		b.consumeLocked(a)
	default:
	}
	return b.done
}

// Wait blocks until a matching aggregate arrives, the timeout elapses or ctx ends.
func (b *StepBarrier) Wait(ctx context.Context, timeout time.Duration) error {
	if b.Done() {
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return ErrBarrierTimeout
		case a := <-b.ch:
			b.mu.Lock()
			b.consumeLocked(a)
			done := b.done
			b.mu.Unlock()
			if done {
				return nil
			}
		}
	}
}

// Poll ticks the barrier and sleeps the poll interval between ticks,
// yielding the goroutine while nothing has arrived.
func (b *StepBarrier) Poll(ctx context.Context) error {
	t := time.NewTicker(b.pollInterval)
	defer t.Stop()
	for {
		if b.Tick() {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrBarrierTimeout
			}
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (b *StepBarrier) consumeLocked(a Aggregate) {
	if b.done || !b.tmpl.Match(a) {
		return
	}
	b.done = true
	b.movements = append([]movement.Record(nil), a.Movements...)
	b.missing = append([]string(nil), a.Missing...)
}

func (b *StepBarrier) Done() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

func (b *StepBarrier) Movements() []movement.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]movement.Record(nil), b.movements...)
}

func (b *StepBarrier) Missing() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.missing...)
}

func (b *StepBarrier) Ticks() uint64 { return b.ticks.Load() }

// Reset re-arms the barrier for step and discards anything still queued.
func (b *StepBarrier) Reset(step uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tmpl = Template{Step: step}
	b.done = false
	b.movements = nil
	b.missing = nil
	for {
		select {
		case <-b.ch:
		default:
			return
		}
	}
}
