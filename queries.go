package parol6

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"parol6/kinematics"
)

type query struct {
	// ackDetail is the COMPLETED detail sent to an ID-carrying query.
	ackDetail string
	respond   func(c *Controller) (string, error)
}

var queries = map[string]query{
	"GET_POSE":         {"Pose data sent", (*Controller).poseResponse},
	"GET_ANGLES":       {"Angles data sent", (*Controller).anglesResponse},
	"GET_IO":           {"IO data sent", (*Controller).ioResponse},
	"GET_GRIPPER":      {"Gripper data sent", (*Controller).gripperResponse},
	"GET_SPEEDS":       {"Speed data sent", (*Controller).speedsResponse},
	"GET_HOMED":        {"Homed status sent", (*Controller).homedResponse},
	"GET_HZ":           {"Hz data sent", (*Controller).hzResponse},
	"GET_ESTOP_STATUS": {"E-stop status sent", (*Controller).estopResponse},
}

// handleImmediate answers commands that bypass the queue. It reports false
// for anything that must be buffered instead.
func (c *Controller) handleImmediate(rc ReceivedCommand) bool {
	name, arg, _ := strings.Cut(rc.Body, "|")
	name = strings.ToUpper(strings.TrimSpace(name))

	switch name {
	case "STOP":
		c.stop(rc)
	case "CLEAR_ESTOP":
		c.clearEStop(rc)
	case "START_MOTION_RECORDING":
		if !c.recorder.Start(strings.TrimSpace(arg)) {
			c.network.SendAck(rc.ID, AckFailed, "Already recording", rc.Addr)
			break
		}
		c.network.SendAck(rc.ID, AckCompleted, "Recording started: "+c.recorder.Name(), rc.Addr)
	case "STOP_MOTION_RECORDING":
		rec, ok := c.recorder.Stop()
		if !ok {
			c.network.SendAck(rc.ID, AckFailed, "No active recording", rc.Addr)
			break
		}
		data, err := json.Marshal(rec)
		if err != nil {
			c.logger.Errorf("Failed to encode recording: %v", err)
			c.network.SendAck(rc.ID, AckFailed, "Failed to encode recording", rc.Addr)
			break
		}
		c.network.SendAck(rc.ID, AckCompleted, string(data), rc.Addr)
	case "GET_MOTION_RECORDING_STATUS":
		status := fmt.Sprintf("%d|%d", boolInt(c.recorder.Active()), c.recorder.SampleCount())
		c.network.SendResponse("MOTION_RECORDING|"+status, rc.Addr)
		c.network.SendAck(rc.ID, AckCompleted, status, rc.Addr)
	default:
		q, ok := queries[name]
		if !ok {
			return false
		}
		resp, err := q.respond(c)
		if err != nil {
			c.logger.Errorf("%s failed: %v", name, err)
			c.network.SendAck(rc.ID, AckFailed, err.Error(), rc.Addr)
			break
		}
		c.network.SendResponse(resp, rc.Addr)
		c.network.SendAck(rc.ID, AckCompleted, q.ackDetail, rc.Addr)
	}
	return true
}

func (c *Controller) poseResponse() (string, error) {
	pose, err := c.arm.PoseSteps(c.state.PositionIn)
	if err != nil {
		return "", err
	}
	tcp := kinematics.TCPPosition(pose)
	c.logger.Debugf("TCP at x=%.1f y=%.1f z=%.1f mm", tcp.X, tcp.Y, tcp.Z)
	return "POSE|" + joinFloats(kinematics.Flatten(pose)), nil
}

func (c *Controller) anglesResponse() (string, error) {
	angles := c.state.AnglesDeg()
	return "ANGLES|" + joinFloats(angles[:]), nil
}

func (c *Controller) ioResponse() (string, error) {
	return "IO|" + joinBits(c.state.InOutIn[:5]), nil
}

func (c *Controller) gripperResponse() (string, error) {
	g := c.state.GripperIn
	return "GRIPPER|" + joinInts(g.ID, g.Position, g.Speed, g.Current, g.Status, g.ObjectDetected), nil
}

func (c *Controller) speedsResponse() (string, error) {
	speeds := make([]int, NumJoints)
	for i, s := range c.state.SpeedIn {
		speeds[i] = int(s)
	}
	return "SPEEDS|" + joinInts(speeds...), nil
}

func (c *Controller) homedResponse() (string, error) {
	return "HOMED|" + joinBits(c.state.HomedIn[:NumJoints]), nil
}

func (c *Controller) hzResponse() (string, error) {
	return fmt.Sprintf("HZ|%.1f", c.perf.Hz()), nil
}

// estopResponse reports the software latch, not the physical button.
func (c *Controller) estopResponse() (string, error) {
	return fmt.Sprintf("ESTOP_STATUS|%d", boolInt(c.state.EStopLatched)), nil
}

func joinFloats(vals []float64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

func joinInts(vals ...int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func joinBits(bits []uint8) string {
	vals := make([]int, len(bits))
	for i, b := range bits {
		vals[i] = int(b)
	}
	return joinInts(vals...)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
