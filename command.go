package parol6

import (
	"time"

	"github.com/pkg/errors"
)

// Kind selects which operation a Command performs.
type Kind int

// The command kinds.
const (
	KindHome Kind = iota
	KindMoveJoint
	KindExecuteTrajectory
	KindSetIO
	KindGripper
	KindDelay
)

func (k Kind) String() string {
	switch k {
	case KindHome:
		return "Home"
	case KindMoveJoint:
		return "MoveJoint"
	case KindExecuteTrajectory:
		return "ExecuteTrajectory"
	case KindSetIO:
		return "SetIO"
	case KindGripper:
		return "Gripper"
	case KindDelay:
		return "Delay"
	default:
		return "Unknown"
	}
}

// TrajectoryHeavy reports whether commands of this kind carry a
// client-supplied waypoint array and count against the trajectory cap.
func (k Kind) TrajectoryHeavy() bool {
	return k == KindExecuteTrajectory
}

// Command is one queued robot operation. Exactly one of the per-kind
// parameter blocks is populated, matching Kind.
//
// Lifecycle: construct (static validation) -> Prepare against live feedback
// -> Step once per cycle until it reports finished.
type Command struct {
	Kind Kind
	// Handle identifies the command for ACK tracking; assigned at enqueue.
	Handle uint64

	home    *homeParams
	move    *moveJointParams
	traj    *trajectoryParams
	io      *setIOParams
	gripper *gripperParams
	delay   *delayParams

	valid    bool
	prepared bool
	finished bool
	err      error
	warning  string

	// setpoints in motor steps, one per cycle
	trajectory [][NumJoints]int32
	cursor     int
}

func newCommand(kind Kind) *Command {
	return &Command{Kind: kind, valid: true}
}

// Valid reports whether the command passed validation and preparation.
func (c *Command) Valid() bool { return c.valid }

// Finished reports whether the command has reached a terminal state.
func (c *Command) Finished() bool { return c.finished }

// Prepared reports whether Prepare has run.
func (c *Command) Prepared() bool { return c.prepared }

// Err is the validation, preparation or execution failure, if any.
func (c *Command) Err() error { return c.err }

// Failed reports a command that finished with an error.
func (c *Command) Failed() bool { return c.finished && c.err != nil }

// Warning is a non-fatal validation note.
func (c *Command) Warning() string { return c.warning }

// TrajectoryLen is the number of prepared setpoints.
func (c *Command) TrajectoryLen() int { return len(c.trajectory) }

func (c *Command) invalidate(format string, args ...interface{}) *Command {
	c.valid = false
	c.err = errors.Errorf(format, args...)
	return c
}

func (c *Command) fail(format string, args ...interface{}) bool {
	c.finished = true
	c.err = errors.Errorf(format, args...)
	return true
}

// Prepare generates the command's setpoints from the live feedback in st. It
// runs once, immediately before the command becomes active.
func (c *Command) Prepare(st *ControlState, now time.Time) {
	if !c.valid || c.prepared {
		return
	}
	c.prepared = true
	switch c.Kind {
	case KindMoveJoint:
		c.prepareMoveJoint(st)
	case KindExecuteTrajectory:
		c.prepareTrajectory()
	case KindDelay:
		c.delay.deadline = now.Add(c.delay.duration)
	case KindHome, KindSetIO, KindGripper:
	}
}

// Step runs one control cycle and reports whether the command is finished.
// A command that is invalid or unprepared finishes without touching st.
func (c *Command) Step(st *ControlState, now time.Time) bool {
	if c.finished {
		return true
	}
	if !c.valid {
		c.finished = true
		return true
	}
	if !c.prepared {
		return c.fail("%s stepped before prepare", c.Kind)
	}
	switch c.Kind {
	case KindHome:
		return c.stepHome(st)
	case KindMoveJoint, KindExecuteTrajectory:
		return c.stepTrajectory(st)
	case KindSetIO:
		return c.stepSetIO(st)
	case KindGripper:
		return c.stepGripper(st)
	case KindDelay:
		return c.stepDelay(st, now)
	default:
		return c.fail("unknown command kind %d", int(c.Kind))
	}
}

// stepTrajectory plays back one prepared setpoint in position mode.
func (c *Command) stepTrajectory(st *ControlState) bool {
	st.ZeroSpeeds()
	st.CommandOut = CommandPosition
	if c.cursor >= len(c.trajectory) {
		st.PositionOut = st.PositionIn
		c.finished = true
		return true
	}
	st.PositionOut = c.trajectory[c.cursor]
	c.cursor++
	return false
}
