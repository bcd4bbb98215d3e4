package parol6

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/rdk/logging"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Phase names one timed section of a control cycle.
type Phase string

// Control cycle phases, in execution order.
const (
	PhaseNetwork    Phase = "network"
	PhaseProcessing Phase = "processing"
	PhaseExecution  Phase = "execution"
	PhaseSerial     Phase = "serial"
)

const (
	defaultPerfWindow = 1000
	slowCycleWarn     = 15 * time.Millisecond
	slowCycleError    = 20 * time.Millisecond
	slowCycleLogEvery = 5 * time.Second
)

// PerfSample is the timing of one cycle in milliseconds.
type PerfSample struct {
	Cycle      float64 `json:"cycle"`
	Network    float64 `json:"network"`
	Processing float64 `json:"processing"`
	Execution  float64 `json:"execution"`
	Serial     float64 `json:"serial"`
}

// CycleStats summarizes the cycle durations in the window, in milliseconds.
type CycleStats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"avg_ms"`
	Std   float64 `json:"std_ms"`
	Min   float64 `json:"min_ms"`
	Max   float64 `json:"max_ms"`
}

// PerfMonitor tracks control loop timing over a rolling window.
type PerfMonitor struct {
	logger logging.Logger
	clk    clock.Clock
	window int

	cycleStart time.Time
	current    PerfSample
	starts     []time.Time
	cycles     []float64

	lastSlowLog time.Time
	slowCycles  int

	collect bool
	samples []PerfSample
}

// NewPerfMonitor returns a monitor keeping the last window cycles.
func NewPerfMonitor(window int, clk clock.Clock, logger logging.Logger) *PerfMonitor {
	if window <= 0 {
		window = defaultPerfWindow
	}
	return &PerfMonitor{logger: logger, clk: clk, window: window}
}

// StartCycle marks the beginning of a control cycle.
func (p *PerfMonitor) StartCycle() {
	p.cycleStart = p.clk.Now()
	p.current = PerfSample{}
	p.starts = appendWindow(p.starts, p.cycleStart, p.window)
}

// RecordPhase adds d to the current cycle's time for phase.
func (p *PerfMonitor) RecordPhase(phase Phase, d time.Duration) {
	ms := durationMs(d)
	switch phase {
	case PhaseNetwork:
		p.current.Network += ms
	case PhaseProcessing:
		p.current.Processing += ms
	case PhaseExecution:
		p.current.Execution += ms
	case PhaseSerial:
		p.current.Serial += ms
	}
}

// EndCycle closes the current cycle and logs overruns.
func (p *PerfMonitor) EndCycle() PerfSample {
	d := p.clk.Since(p.cycleStart)
	p.current.Cycle = durationMs(d)
	p.cycles = appendWindow(p.cycles, p.current.Cycle, p.window)
	if p.collect {
		p.samples = append(p.samples, p.current)
	}

	if d > slowCycleWarn {
		p.slowCycles++
		now := p.clk.Now()
		if now.Sub(p.lastSlowLog) >= slowCycleLogEvery {
			p.lastSlowLog = now
			if d > slowCycleError {
				p.logger.Errorf("Control cycle took %.2fms (%d slow cycles), phases: network %.2fms processing %.2fms execution %.2fms serial %.2fms",
					p.current.Cycle, p.slowCycles, p.current.Network, p.current.Processing, p.current.Execution, p.current.Serial)
			} else {
				p.logger.Warnf("Control cycle took %.2fms (%d slow cycles)", p.current.Cycle, p.slowCycles)
			}
		}
	}
	return p.current
}

// Hz is the loop frequency derived from the mean period between cycle starts.
func (p *PerfMonitor) Hz() float64 {
	if len(p.starts) < 2 {
		return 0
	}
	span := p.starts[len(p.starts)-1].Sub(p.starts[0])
	if span <= 0 {
		return 0
	}
	mean := span.Seconds() / float64(len(p.starts)-1)
	return 1 / mean
}

// Stats summarizes the cycle durations in the window.
func (p *PerfMonitor) Stats() CycleStats {
	return summarize(p.cycles)
}

// SetCollecting turns per-cycle sample collection on or off. Turning it off
// discards collected samples.
func (p *PerfMonitor) SetCollecting(on bool) {
	p.collect = on
	if !on {
		p.samples = nil
	}
}

// Collecting reports whether per-cycle samples are being kept.
func (p *PerfMonitor) Collecting() bool { return p.collect }

// TakeSamples returns and resets the collected samples.
func (p *PerfMonitor) TakeSamples() []PerfSample {
	s := p.samples
	p.samples = nil
	return s
}

func summarize(ms []float64) CycleStats {
	if len(ms) == 0 {
		return CycleStats{}
	}
	mean, std := stat.MeanStdDev(ms, nil)
	if len(ms) == 1 {
		std = 0
	}
	return CycleStats{
		Count: len(ms),
		Mean:  mean,
		Std:   std,
		Min:   floats.Min(ms),
		Max:   floats.Max(ms),
	}
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func appendWindow[T any](s []T, v T, window int) []T {
	s = append(s, v)
	if len(s) > window {
		copy(s, s[len(s)-window:])
		s = s[:window]
	}
	return s
}
