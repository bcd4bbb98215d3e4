package parol6

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.viam.com/rdk/logging"

	"parol6/kinematics"
)

const (
	maxMotionSampleRateHz = 50
	maxMotionSamples      = 30000
)

// MotionSample pairs the commanded and measured joint angles at one instant.
type MotionSample struct {
	TimestampMs float64            `json:"timestamp_ms"`
	PositionOut [NumJoints]float64 `json:"position_out"`
	PositionIn  [NumJoints]float64 `json:"position_in"`
}

// RecordingMetadata describes a finished motion recording.
type RecordingMetadata struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Timestamp    time.Time `json:"timestamp"`
	SampleRateHz int       `json:"sample_rate_hz"`
	DurationS    float64   `json:"duration_s"`
	NumSamples   int       `json:"num_samples"`
}

// Recording is the payload returned by STOP_MOTION_RECORDING.
type Recording struct {
	Metadata       RecordingMetadata `json:"metadata"`
	CommanderState []MotionSample    `json:"commander_state"`
}

// MotionRecorder samples commanded versus measured joint angles at a fixed
// rate while a recording is active. It is driven by the control loop and is
// not safe for concurrent use.
type MotionRecorder struct {
	logger       logging.Logger
	clk          clock.Clock
	sampleRateHz int
	interval     time.Duration

	recording bool
	name      string
	started   time.Time
	lastMs    float64
	samples   []MotionSample
}

// NewMotionRecorder returns an idle recorder sampling at rateHz, capped at 50Hz.
func NewMotionRecorder(rateHz int, clk clock.Clock, logger logging.Logger) *MotionRecorder {
	if rateHz <= 0 {
		rateHz = DefaultMotionSampleRateHz
	}
	if rateHz > maxMotionSampleRateHz {
		rateHz = maxMotionSampleRateHz
	}
	return &MotionRecorder{
		logger:       logger,
		clk:          clk,
		sampleRateHz: rateHz,
		interval:     time.Second / time.Duration(rateHz),
	}
}

// Start begins a recording. An empty name is generated from the current time.
// It returns false if a recording is already running.
func (r *MotionRecorder) Start(name string) bool {
	if r.recording {
		r.logger.Warn("Already recording, stop first")
		return false
	}
	now := r.clk.Now()
	if name == "" {
		name = "motion_" + now.Format("20060102_150405")
	}
	r.name = name
	r.started = now
	r.lastMs = 0
	r.samples = nil
	r.recording = true
	r.logger.Infof("Started recording %s @ %dHz", name, r.sampleRateHz)
	return true
}

// Stop ends the recording and returns its data, or false if none was active.
func (r *MotionRecorder) Stop() (*Recording, bool) {
	if !r.recording {
		return nil, false
	}
	r.recording = false
	now := r.clk.Now()
	duration := now.Sub(r.started).Seconds()
	rec := &Recording{
		Metadata: RecordingMetadata{
			ID:           uuid.NewString(),
			Name:         r.name,
			Timestamp:    now,
			SampleRateHz: r.sampleRateHz,
			DurationS:    float64(int64(duration*1000+0.5)) / 1000,
			NumSamples:   len(r.samples),
		},
		CommanderState: r.samples,
	}
	if rec.CommanderState == nil {
		rec.CommanderState = []MotionSample{}
	}
	r.logger.Infof("Stopped recording %s: %d samples, %.2fs", r.name, len(r.samples), duration)
	r.samples = nil
	r.name = ""
	return rec, true
}

// MaybeCapture records a sample if the sample interval has elapsed since the
// previous one. Positions are in motor steps. A recording that reaches the
// sample cap stops itself and its data is discarded.
func (r *MotionRecorder) MaybeCapture(posOut, posIn [NumJoints]int32) bool {
	if !r.recording {
		return false
	}
	if len(r.samples) >= maxMotionSamples {
		r.logger.Warn("Max samples reached, auto-stopping")
		r.Stop()
		return false
	}
	elapsedMs := float64(r.clk.Since(r.started)) / float64(time.Millisecond)
	if elapsedMs-r.lastMs < float64(r.interval)/float64(time.Millisecond) {
		return false
	}
	r.samples = append(r.samples, MotionSample{
		TimestampMs: float64(int64(elapsedMs*100+0.5)) / 100,
		PositionOut: kinematics.StepsToDegrees(posOut),
		PositionIn:  kinematics.StepsToDegrees(posIn),
	})
	r.lastMs = elapsedMs
	return true
}

// Active reports whether a recording is running.
func (r *MotionRecorder) Active() bool { return r.recording }

// Name is the active recording's name.
func (r *MotionRecorder) Name() string { return r.name }

// SampleCount is the number of samples in the active recording.
func (r *MotionRecorder) SampleCount() int { return len(r.samples) }
