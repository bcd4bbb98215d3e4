package parol6

import (
	"fmt"
	"math"
	"time"

	"parol6/kinematics"
)

// ControlInterval is the nominal cycle period in seconds; trajectories are
// sampled at this rate.
const ControlInterval = 0.01

const defaultAccelPercent = 50.0

type moveJointParams struct {
	target       [NumJoints]float64 // degrees
	duration     float64            // seconds, 0 when speed-driven
	speedPercent float64            // 0 when duration-driven
	accelPercent float64
}

// NewMoveJoint returns a joint-space move to target degrees. Exactly one of
// duration (seconds) or speedPercent must be non-nil.
func NewMoveJoint(target [NumJoints]float64, duration, speedPercent *float64) *Command {
	c := newCommand(KindMoveJoint)
	c.move = &moveJointParams{target: target, accelPercent: defaultAccelPercent}

	switch {
	case duration == nil && speedPercent == nil:
		return c.invalidate("either duration or speed percentage is required")
	case duration != nil && speedPercent != nil:
		return c.invalidate("duration and speed percentage are mutually exclusive")
	case duration != nil:
		if !(*duration > 0) {
			return c.invalidate("duration must be positive, got %v", *duration)
		}
		c.move.duration = *duration
	default:
		if !(*speedPercent > 0 && *speedPercent <= 100) {
			return c.invalidate("speed percentage must be in (0, 100], got %v", *speedPercent)
		}
		c.move.speedPercent = *speedPercent
	}
	if err := kinematics.CheckLimits(target[:]); err != nil {
		return c.invalidate("%v", err)
	}
	return c
}

// WithAccelPercent overrides the acceleration used by speed-driven moves.
func (c *Command) WithAccelPercent(pct float64) *Command {
	if c.move != nil && pct > 0 && pct <= 100 {
		c.move.accelPercent = pct
	}
	return c
}

func (c *Command) prepareMoveJoint(st *ControlState) {
	m := c.move
	var targetSteps [NumJoints]float64
	for j, deg := range m.target {
		targetSteps[j] = math.Trunc(kinematics.DegToSteps(deg, j))
	}

	if m.duration > 0 {
		var q0, qf [NumJoints]float64
		for j := 0; j < NumJoints; j++ {
			q0[j] = kinematics.StepsToRad(float64(st.PositionIn[j]), j)
			qf[j] = m.target[j] * math.Pi / 180
		}
		n := int(m.duration/ControlInterval + 1e-9)
		for _, q := range jtraj(q0, qf, n) {
			var sp [NumJoints]int32
			for j, rad := range q {
				sp[j] = int32(kinematics.RadToSteps(rad, j))
			}
			c.trajectory = append(c.trajectory, sp)
		}
	} else {
		total := 0.0
		aMax := kinematics.Interp(m.accelPercent, kinematics.MinAcceleration, kinematics.MaxAcceleration)
		for j := 0; j < NumJoints; j++ {
			path := math.Abs(targetSteps[j] - float64(st.PositionIn[j]))
			vMax := kinematics.Interp(m.speedPercent, kinematics.MinSpeed[j], kinematics.MaxSpeed[j])
			if vMax <= 0 || aMax <= 0 {
				c.invalidate("invalid speed/acceleration for joint %d", j+1)
				return
			}
			total = math.Max(total, trapezoidDuration(path, vMax, aMax))
		}
		if total <= 0 {
			// already there
			c.finished = true
			st.PositionOut = st.PositionIn
			return
		}
		total = math.Max(total, 2*ControlInterval)

		times := sampleTimes(total, ControlInterval)
		var joints [NumJoints][]float64
		for j := 0; j < NumJoints; j++ {
			joints[j] = trapezoidal(float64(st.PositionIn[j]), targetSteps[j], times)
		}
		c.trajectory = make([][NumJoints]int32, len(times))
		for i := range times {
			for j := 0; j < NumJoints; j++ {
				c.trajectory[i][j] = int32(joints[j][i])
			}
		}
	}

	if len(c.trajectory) == 0 {
		c.invalidate("trajectory calculation resulted in no steps")
	}
}

type trajectoryParams struct {
	waypoints [][NumJoints]float64 // degrees
	duration  float64
}

// waypointTolerance is how far the waypoint count may drift from
// duration/interval before a warning is recorded.
const waypointTolerance = 5

// NewExecuteTrajectory returns a playback of precomputed joint waypoints in
// degrees, one per cycle. duration may be nil.
func NewExecuteTrajectory(waypoints [][]float64, duration *float64) *Command {
	c := newCommand(KindExecuteTrajectory)
	c.traj = &trajectoryParams{}

	if len(waypoints) == 0 {
		return c.invalidate("empty trajectory")
	}
	c.traj.waypoints = make([][NumJoints]float64, len(waypoints))
	for i, wp := range waypoints {
		if len(wp) != NumJoints {
			return c.invalidate("waypoint %d has %d joints (expected %d)", i, len(wp), NumJoints)
		}
		if err := kinematics.CheckLimits(wp); err != nil {
			return c.invalidate("waypoint %d: %v", i, err)
		}
		copy(c.traj.waypoints[i][:], wp)
	}
	if duration != nil {
		c.traj.duration = *duration
		expected := int(*duration/ControlInterval + 1e-9)
		if diff := expected - len(waypoints); diff > waypointTolerance || diff < -waypointTolerance {
			c.warning = fmt.Sprintf("duration mismatch: expected %d waypoints for %.2fs, got %d",
				expected, *duration, len(waypoints))
		}
	}
	return c
}

func (c *Command) prepareTrajectory() {
	c.trajectory = make([][NumJoints]int32, len(c.traj.waypoints))
	for i, wp := range c.traj.waypoints {
		for j, deg := range wp {
			c.trajectory[i][j] = int32(kinematics.DegToSteps(deg, j))
		}
	}
}

type delayParams struct {
	duration time.Duration
	deadline time.Time
}

// maxDelaySeconds is the longest delay a time.Duration can hold.
const maxDelaySeconds = float64(math.MaxInt64) / float64(time.Second)

// NewDelay returns a command that holds the robot idle for seconds.
func NewDelay(seconds float64) *Command {
	c := newCommand(KindDelay)
	c.delay = &delayParams{}
	if !(seconds > 0) || math.IsInf(seconds, 0) {
		return c.invalidate("delay duration must be positive, got %v", seconds)
	}
	if seconds > maxDelaySeconds {
		return c.invalidate("delay duration %v s exceeds the maximum of %.0f s", seconds, maxDelaySeconds)
	}
	c.delay.duration = time.Duration(seconds * float64(time.Second))
	return c
}

func (c *Command) stepDelay(st *ControlState, now time.Time) bool {
	st.CommandOut = CommandIdle
	st.ZeroSpeeds()
	if !now.Before(c.delay.deadline) {
		c.finished = true
	}
	return c.finished
}
