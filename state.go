package parol6

import "parol6/kinematics"

// NumJoints is the number of actuated joints.
const NumJoints = kinematics.NumJoints

// Firmware command bytes.
const (
	CommandHome     byte = 100
	CommandEnable   byte = 101
	CommandDisable  byte = 102
	CommandJog      byte = 123
	CommandPosition byte = 156
	CommandIdle     byte = 255
)

// Gripper modes carried in GripperOut.Mode.
const (
	GripperModeOperation  byte = 0
	GripperModeCalibrate  byte = 1
	GripperModeClearError byte = 2
)

// estopInput is the InOutIn index wired to the physical e-stop (0 = pressed).
const estopInput = 4

// Bits is an 8-element bitfield, element 0 being the most significant bit.
type Bits [8]uint8

// Byte fuses the bitfield into one byte, MSB first.
func (b Bits) Byte() byte {
	var out byte
	for _, bit := range b {
		out = out<<1 | (bit & 1)
	}
	return out
}

// SplitBits is the inverse of Bits.Byte.
func SplitBits(v byte) Bits {
	var b Bits
	for i := range b {
		b[i] = (v >> (7 - i)) & 1
	}
	return b
}

// GripperOutput is the gripper command block sent to the firmware.
type GripperOutput struct {
	Position int
	Speed    int
	Current  int
	Command  byte
	Mode     byte
	ID       byte
}

// GripperInput is gripper telemetry from the firmware.
type GripperInput struct {
	ID             int
	Position       int
	Speed          int
	Current        int
	Status         int
	ObjectDetected int
}

// ControlState is every commanded and feedback value exchanged with the
// firmware. It is owned by the control loop and mutated once per cycle.
type ControlState struct {
	PositionOut      [NumJoints]int32
	SpeedOut         [NumJoints]int32
	CommandOut       byte
	AffectedJointOut Bits
	InOutOut         Bits
	TimeoutOut       byte
	GripperOut       GripperOutput

	PositionIn         [NumJoints]int32
	SpeedIn            [NumJoints]int32
	HomedIn            Bits
	InOutIn            Bits
	TemperatureErrorIn Bits
	PositionErrorIn    Bits
	TimingIn           int32
	TimeoutErrorIn     byte
	XTRIn              byte
	GripperIn          GripperInput

	// EStopLatched stays set after the physical button is released until
	// CLEAR_ESTOP.
	EStopLatched bool
}

// NewControlState returns the startup state: idle, all joints affected, e-stop
// input reading released until the first frame arrives.
func NewControlState() *ControlState {
	st := &ControlState{
		CommandOut:       CommandIdle,
		AffectedJointOut: Bits{1, 1, 1, 1, 1, 1, 1, 1},
		GripperOut:       GripperOutput{Position: 1, Speed: 1, Current: 1, Command: 1},
	}
	st.InOutIn[estopInput] = 1
	return st
}

// EStopPressed reports the physical e-stop input.
func (st *ControlState) EStopPressed() bool {
	return st.InOutIn[estopInput] == 0
}

// Idle commands the robot to hold where it is.
func (st *ControlState) Idle() {
	st.CommandOut = CommandIdle
	st.ZeroSpeeds()
	st.PositionOut = st.PositionIn
}

// ZeroSpeeds clears every commanded joint speed.
func (st *ControlState) ZeroSpeeds() {
	st.SpeedOut = [NumJoints]int32{}
}

// AnglesDeg returns feedback positions in degrees.
func (st *ControlState) AnglesDeg() [NumJoints]float64 {
	return kinematics.StepsToDegrees(st.PositionIn)
}
