package parol6

import (
	"github.com/pkg/errors"
)

// Frame constants shared by both directions.
const (
	frameStart  = 0xFF
	frameEnd1   = 0x01
	frameEnd2   = 0x02
	frameCRC    = 228
	outDataLen  = 52
	inDataLen   = 56
	outFrameLen = 4 + outDataLen
)

// PackFrame serializes the commanded half of st into one outbound frame. A
// calibrate or clear-error gripper mode is sent once and then reset.
func PackFrame(st *ControlState) []byte {
	buf := make([]byte, 0, outFrameLen)
	buf = append(buf, frameStart, frameStart, frameStart, outDataLen)
	for _, p := range st.PositionOut {
		buf = appendInt24(buf, p)
	}
	for _, s := range st.SpeedOut {
		buf = appendInt24(buf, s)
	}
	buf = append(buf,
		st.CommandOut,
		st.AffectedJointOut.Byte(),
		st.InOutOut.Byte(),
		st.TimeoutOut,
	)
	g := &st.GripperOut
	buf = appendInt16(buf, g.Position)
	buf = appendInt16(buf, g.Speed)
	buf = appendInt16(buf, g.Current)
	buf = append(buf, g.Command, g.Mode, g.ID, frameCRC, frameEnd1, frameEnd2)

	if g.Mode == GripperModeCalibrate || g.Mode == GripperModeClearError {
		g.Mode = GripperModeOperation
	}
	return buf
}

func appendInt24(buf []byte, v int32) []byte {
	u := uint32(v) & 0xFFFFFF
	return append(buf, byte(u>>16), byte(u>>8), byte(u))
}

func appendInt16(buf []byte, v int) []byte {
	u := uint16(v)
	return append(buf, byte(u>>8), byte(u))
}

func int24(b []byte) int32 {
	v := int32(b[0])<<16 | int32(b[1])<<8 | int32(b[2])
	if v >= 1<<23 {
		v -= 1 << 24
	}
	return v
}

func int16be(b []byte) int {
	return int(int16(uint16(b[0])<<8 | uint16(b[1])))
}

// UnpackPayload decodes an inbound payload (the bytes following the length
// byte) into the feedback half of st.
func UnpackPayload(payload []byte, st *ControlState) error {
	if len(payload) < inDataLen {
		return errors.Errorf("short payload: %d bytes, want %d", len(payload), inDataLen)
	}
	for i := 0; i < NumJoints; i++ {
		st.PositionIn[i] = int24(payload[i*3:])
		st.SpeedIn[i] = int24(payload[18+i*3:])
	}
	st.HomedIn = SplitBits(payload[36])
	st.InOutIn = SplitBits(payload[37])
	st.TemperatureErrorIn = SplitBits(payload[38])
	st.PositionErrorIn = SplitBits(payload[39])
	st.TimingIn = int32(uint16(payload[40])<<8 | uint16(payload[41]))
	st.TimeoutErrorIn = payload[42]
	st.XTRIn = payload[43]

	status := SplitBits(payload[51])
	st.GripperIn = GripperInput{
		ID:       int(payload[44]),
		Position: int16be(payload[45:]),
		Speed:    int16be(payload[47:]),
		Current:  int16be(payload[49:]),
		Status:   int(payload[51]),
		// payload[52] is the firmware's own object-detect byte; it is not
		// reliable, the status bits are.
		ObjectDetected: int(status[2])<<1 | int(status[3]),
	}
	return nil
}

// FrameReceiver reassembles inbound frames from the serial byte stream.
type FrameReceiver struct {
	starts  int
	length  int
	data    []byte
	dropped uint64
}

// Feed consumes one byte. It returns a complete, end-checked payload when b
// finishes a frame.
func (r *FrameReceiver) Feed(b byte) ([]byte, bool) {
	if r.starts < 3 {
		if b == frameStart {
			r.starts++
			return nil, false
		}
		r.reset()
		return nil, false
	}
	if r.length == 0 {
		if b < 2 {
			r.drop()
			return nil, false
		}
		r.length = int(b)
		r.data = make([]byte, 0, r.length)
		return nil, false
	}

	r.data = append(r.data, b)
	if len(r.data) < r.length {
		return nil, false
	}
	payload := r.data
	if payload[len(payload)-2] != frameEnd1 || payload[len(payload)-1] != frameEnd2 {
		r.drop()
		return nil, false
	}
	r.reset()
	return payload, true
}

// Dropped is the number of frames discarded for a bad length or end marker.
func (r *FrameReceiver) Dropped() uint64 {
	return r.dropped
}

func (r *FrameReceiver) drop() {
	r.dropped++
	r.reset()
}

func (r *FrameReceiver) reset() {
	r.starts = 0
	r.length = 0
	r.data = nil
}
