package parol6

import (
	"strings"
)

// GripperAction is what an electric gripper command does.
type GripperAction string

// Supported gripper actions.
const (
	GripperMove      GripperAction = "move"
	GripperCalibrate GripperAction = "calibrate"
)

// Gripper limits and timing.
const (
	GripperPositionMax   = 255
	GripperSpeedMax      = 255
	GripperCurrentMin    = 100
	GripperCurrentMax    = 1000
	gripperTolerance     = 5
	gripperTimeoutCycles = 1000
	gripperCalibrateWait = 200
)

type gripperState int

const (
	gripperStart gripperState = iota
	gripperSendCalibrate
	gripperWaitingCalibration
	gripperWaitForPosition
)

func (s gripperState) String() string {
	switch s {
	case gripperStart:
		return "start"
	case gripperSendCalibrate:
		return "send_calibrate"
	case gripperWaitingCalibration:
		return "waiting_calibration"
	case gripperWaitForPosition:
		return "wait_for_position"
	default:
		return "unknown"
	}
}

type gripperParams struct {
	action   GripperAction
	position int
	speed    int
	current  int

	state         gripperState
	timeoutCycles int
	waitCycles    int
}

// NewGripper returns an electric gripper command. An empty action means move.
// Position, speed and current are only used by move.
func NewGripper(action GripperAction, position, speed, current int) *Command {
	c := newCommand(KindGripper)
	if action == "" {
		action = GripperMove
	}
	action = GripperAction(strings.ToLower(string(action)))
	c.gripper = &gripperParams{
		action:        action,
		position:      position,
		speed:         speed,
		current:       current,
		state:         gripperStart,
		timeoutCycles: gripperTimeoutCycles,
		waitCycles:    gripperCalibrateWait,
	}

	switch action {
	case GripperMove:
		if position < 0 || position > GripperPositionMax ||
			speed < 0 || speed > GripperSpeedMax ||
			current < GripperCurrentMin || current > GripperCurrentMax {
			return c.invalidate("gripper move out of range: position %d, speed %d, current %d", position, speed, current)
		}
	case GripperCalibrate:
	default:
		return c.invalidate("invalid gripper action %q", string(action))
	}
	return c
}

// gripperCommandByte builds the gripper command bitfield: activate, action
// (1 = move), estop-inverted, enable.
func gripperCommandByte(moving bool, st *ControlState) byte {
	var act uint8
	if moving {
		act = 1
	}
	return Bits{1, act, 1 - (st.InOutIn[estopInput] & 1), 1, 0, 0, 0, 0}.Byte()
}

func (c *Command) stepGripper(st *ControlState) bool {
	g := c.gripper
	g.timeoutCycles--
	if g.timeoutCycles <= 0 {
		return c.fail("Gripper command timed out in state %s", g.state)
	}

	if g.state == gripperStart {
		if g.action == GripperCalibrate {
			g.state = gripperSendCalibrate
		} else {
			g.state = gripperWaitForPosition
		}
	}

	switch g.state {
	case gripperSendCalibrate:
		// one-shot: the frame packer resets the mode after sending it
		st.GripperOut.Mode = GripperModeCalibrate
		g.state = gripperWaitingCalibration
		return false

	case gripperWaitingCalibration:
		g.waitCycles--
		if g.waitCycles <= 0 {
			st.GripperOut.Mode = GripperModeOperation
			c.finished = true
			return true
		}
		return false

	case gripperWaitForPosition:
		st.GripperOut.Position = g.position
		st.GripperOut.Speed = g.speed
		st.GripperOut.Current = g.current
		st.GripperOut.Mode = GripperModeOperation
		st.GripperOut.Command = gripperCommandByte(true, st)

		diff := st.GripperIn.Position - g.position
		if diff <= gripperTolerance && diff >= -gripperTolerance {
			st.GripperOut.Command = gripperCommandByte(false, st)
			c.finished = true
			return true
		}
		return false
	}
	return c.finished
}
