// Package agentclient drives a single agent on the client side: it plays back
// delivered decisions frame by frame and decides when to ask for the next one.
package agentclient

import (
	"time"

	"farmhands/internal/decision"
	"farmhands/internal/geo"
)

// Frame is what one tick asks the agent to do.
type Frame struct {
	// Move is a unit (or zero) direction vector; callers scale it by speed.
	Move geo.Vec
	// Trigger names an animation to start this frame. It is set once per
	// animation step.
	Trigger decision.Animation
	// Index is the step now playing, -1 when nothing is loaded.
	Index int
	// Finished is true on the tick the last step completes.
	Finished bool
}

// Executor plays back one decision sequence. It is not safe for concurrent
// use; the owner ticks it from a single loop.
type Executor struct {
	seq       []decision.ActionStep
	index     int
	stepStart time.Time
	triggered bool

	// OnStepDone, when set, is called for every step that runs to completion.
	// Preempted steps are not reported.
	OnStepDone func(index int, step decision.ActionStep)
}

func NewExecutor() *Executor {
	return &Executor{}
}

// Load replaces whatever is playing with d's sequence, starting at now.
func (e *Executor) Load(d decision.Decision, now time.Time) {
	e.seq = append([]decision.ActionStep(nil), d.Sequence...)
	e.index = 0
	e.stepStart = now
	e.triggered = false
}

// Preempt discards the current sequence. It reports whether anything was
// playing.
func (e *Executor) Preempt() bool {
	active := e.Active()
	e.seq = nil
	e.index = 0
	e.triggered = false
	return active
}

// Active reports whether a step is still pending.
func (e *Executor) Active() bool {
	return e.index < len(e.seq)
}

// Index returns the step now playing, or -1.
func (e *Executor) Index() int {
	if !e.Active() {
		return -1
	}
	return e.index
}

// Tick advances playback to now. Completed steps hand their leftover time to
// the next one, so the sum of consumed durations tracks wall-clock time.
func (e *Executor) Tick(now time.Time) Frame {
	if !e.Active() {
		return Frame{Index: -1}
	}
	for e.index < len(e.seq) {
		step := e.seq[e.index]
		dur := seconds(step.Duration)
		elapsed := now.Sub(e.stepStart)
		if elapsed < dur {
			return e.play(step, elapsed, dur)
		}
		if e.OnStepDone != nil {
			e.OnStepDone(e.index, step)
		}
		e.stepStart = e.stepStart.Add(dur)
		e.index++
		e.triggered = false
	}
	return Frame{Index: -1, Finished: true}
}

func (e *Executor) play(step decision.ActionStep, elapsed, dur time.Duration) Frame {
	f := Frame{Index: e.index}
	if step.Kind == decision.KindMove {
		if len(step.Directions) == 0 {
			return f
		}
		bucket := int(elapsed * time.Duration(len(step.Directions)) / dur)
		if bucket >= len(step.Directions) {
			bucket = len(step.Directions) - 1
		}
		f.Move = geo.MovementFromDirection(step.Directions[bucket])
		return f
	}
	if !e.triggered {
		e.triggered = true
		f.Trigger = step.Animation
	}
	return f
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
