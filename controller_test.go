package parol6

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"

	"parol6/kinematics"
)

// fakeFirmware is an in-memory serial port that answers every outbound frame
// with one feedback frame. Position commands are tracked perfectly and homing
// completes a fixed number of frames after the home command stops.
type fakeFirmware struct {
	mu       sync.Mutex
	pos      [NumJoints]int32
	homed    Bits
	io       Bits
	gripper  GripperInput
	homingIn int
	pending  []byte
	commands []byte
	frames   [][]byte
	writeErr error
	closed   bool
}

func newFakeFirmware() *fakeFirmware {
	f := &fakeFirmware{homed: Bits{1, 1, 1, 1, 1, 1}}
	f.io[estopInput] = 1
	return f
}

func (f *fakeFirmware) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	if len(p) != outFrameLen {
		return len(p), nil
	}
	f.frames = append(f.frames, append([]byte(nil), p...))
	cmd := p[40]
	f.commands = append(f.commands, cmd)
	switch cmd {
	case CommandPosition:
		for j := 0; j < NumJoints; j++ {
			f.pos[j] = int24(p[4+3*j:])
		}
	case CommandHome:
		f.homed = Bits{}
		f.homingIn = 20
	default:
		if f.homingIn > 0 {
			f.homingIn--
			if f.homingIn == 0 {
				f.homed = Bits{1, 1, 1, 1, 1, 1}
			}
		}
	}
	f.pending = append(f.pending, buildInboundFrame(f.pos, [NumJoints]int32{}, f.homed, f.io, f.gripper, 0)...)
	return len(p), nil
}

func (f *fakeFirmware) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

func (f *fakeFirmware) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeFirmware) lastCommand() byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.commands) == 0 {
		return 0
	}
	return f.commands[len(f.commands)-1]
}

func (f *fakeFirmware) lastFrame() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return nil
	}
	return f.frames[len(f.frames)-1]
}

func (f *fakeFirmware) set(fn func(f *fakeFirmware)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	c      *Controller
	clk    *clock.Mock
	fw     *fakeFirmware
	client *net.UDPConn
	acks   *net.UDPConn

	mu      sync.Mutex
	opens   int
	openErr error
}

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()
	h := &harness{t: t, ctx: context.Background(), clk: clock.NewMock(), fw: newFakeFirmware()}

	orig := openSerialPort
	openSerialPort = func(path string, baudrate int) (io.ReadWriteCloser, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.opens++
		if h.openErr != nil {
			return nil, h.openErr
		}
		return h.fw, nil
	}
	t.Cleanup(func() { openSerialPort = orig })

	h.acks = listenUDP(t)
	h.client = listenUDP(t)

	cfg := DefaultConfig()
	cfg.Port = "/dev/ttyFAKE0"
	cfg.ListenIP = "127.0.0.1"
	cfg.CommandPort = 0
	cfg.AckPort = h.acks.LocalAddr().(*net.UDPAddr).Port
	cfg.RecordingsDir = t.TempDir()
	for _, opt := range opts {
		opt(cfg)
	}

	c, err := NewController(cfg, h.clk, logging.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	h.c = c
	return h
}

// send delivers msgs and waits until the controller's reader has them all.
func (h *harness) send(msgs ...string) {
	h.t.Helper()
	want := len(h.c.network.incoming) + len(msgs)
	for _, msg := range msgs {
		_, err := h.client.WriteToUDP([]byte(msg), h.c.CommandAddr())
		require.NoError(h.t, err)
	}
	require.Eventually(h.t, func() bool {
		return len(h.c.network.incoming) >= want
	}, 2*time.Second, time.Millisecond)
}

// cycle runs n control cycles, advancing the clock by step after each.
func (h *harness) cycle(n int, step time.Duration) {
	for i := 0; i < n; i++ {
		h.c.Cycle(h.ctx)
		h.clk.Add(step)
	}
}

// cycleUntil runs 10ms cycles until cond holds, returning the count.
func (h *harness) cycleUntil(max int, cond func() bool) int {
	h.t.Helper()
	for i := 1; i <= max; i++ {
		h.c.Cycle(h.ctx)
		h.clk.Add(10 * time.Millisecond)
		if cond() {
			return i
		}
	}
	h.t.Fatalf("condition not met after %d cycles", max)
	return 0
}

type ack struct {
	id, status, details string
}

func (h *harness) readAck(timeout time.Duration) (ack, bool) {
	h.t.Helper()
	msg, ok := readDatagram(h.t, h.acks, timeout)
	if !ok {
		return ack{}, false
	}
	parts := strings.SplitN(msg, "|", 4)
	require.Len(h.t, parts, 4, msg)
	require.Equal(h.t, "ACK", parts[0])
	return ack{id: parts[1], status: parts[2], details: parts[3]}, true
}

func (h *harness) expectAck(id string, status AckStatus, details string) {
	h.t.Helper()
	got, ok := h.readAck(2 * time.Second)
	require.True(h.t, ok, "expected ACK %s %s", id, status)
	assert.Equal(h.t, ack{id: id, status: string(status), details: details}, got)
}

// drainAcks returns every ACK that arrives before a short quiet period.
func (h *harness) drainAcks() []ack {
	h.t.Helper()
	var out []ack
	for {
		a, ok := h.readAck(100 * time.Millisecond)
		if !ok {
			return out
		}
		out = append(out, a)
	}
}

func (h *harness) expectNoAck() {
	h.t.Helper()
	a, ok := h.readAck(50 * time.Millisecond)
	assert.False(h.t, ok, "unexpected ACK %+v", a)
}

func TestControllerHomeWithoutID(t *testing.T) {
	h := newHarness(t)
	h.send("HOME")

	h.cycle(1, 10*time.Millisecond)
	require.NotNil(t, h.c.Active())
	assert.Equal(t, KindHome, h.c.Active().Kind)
	assert.Equal(t, CommandHome, h.fw.lastCommand())

	h.cycleUntil(200, func() bool { return h.c.Active() == nil })
	assert.Equal(t, Bits{1, 1, 1, 1, 1, 1}, h.c.State().HomedIn)
	assert.Equal(t, CommandIdle, h.fw.lastCommand())
	h.expectNoAck()
}

func TestControllerAutoHome(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.AutoHome = true })
	assert.Equal(t, 1, h.c.QueueLen())
	h.cycle(1, 10*time.Millisecond)
	require.NotNil(t, h.c.Active())
	assert.Equal(t, KindHome, h.c.Active().Kind)
}

func TestControllerMoveJointAcks(t *testing.T) {
	h := newHarness(t)
	h.fw.set(func(f *fakeFirmware) { f.pos[0] = 3000 })
	h.cycle(1, 10*time.Millisecond)

	h.send("[ab12cd34]MOVEJOINT|0,0,0,0,0,0|2.0|NONE")
	h.cycle(1, 10*time.Millisecond)
	h.expectAck("ab12cd34", AckQueued, "Position 1 in queue")
	h.expectAck("ab12cd34", AckExecuting, "Starting MoveJoint")
	assert.Equal(t, CommandPosition, h.fw.lastCommand())

	n := h.cycleUntil(400, func() bool { return h.c.Active() == nil })
	assert.InDelta(t, 200, n+1, 5)
	h.expectAck("ab12cd34", AckCompleted, "MoveJoint finished successfully")

	assert.Equal(t, [NumJoints]int32{}, h.c.State().PositionIn)
	assert.Equal(t, 0, h.c.tracker.len())
}

func TestControllerSetIO(t *testing.T) {
	h := newHarness(t)
	h.send("SET_IO|1|1")
	h.cycle(2, 10*time.Millisecond)
	assert.Equal(t, uint8(1), h.c.State().InOutOut[2])
	assert.Equal(t, Bits{0, 0, 1}.Byte(), h.fw.lastFrame()[42])
}

func TestControllerRejectsEleventhTrajectory(t *testing.T) {
	h := newHarness(t)
	h.send("[busy]DELAY|100")
	h.cycle(1, 100*time.Millisecond)
	require.NotNil(t, h.c.Active())

	msgs := make([]string, 11)
	for i := range msgs {
		msgs[i] = "[t" + string(rune('a'+i)) + "]EXECUTETRAJECTORY|[[0,0,0,0,0,0]]|NONE"
	}
	h.send(msgs...)
	h.cycle(11, 100*time.Millisecond)
	assert.Equal(t, 10, h.c.QueueLen())

	statuses := map[string]ack{}
	for _, a := range h.drainAcks() {
		statuses[a.id] = a
	}
	for i := 0; i < 10; i++ {
		id := "t" + string(rune('a'+i))
		assert.Equal(t, string(AckQueued), statuses[id].status, id)
	}
	last := statuses["tk"]
	assert.Equal(t, string(AckRejected), last.status)
	assert.Equal(t, "Too many trajectory commands queued (10/10)", last.details)
}

func TestControllerCooldown(t *testing.T) {
	h := newHarness(t)
	h.send("[busy]DELAY|100", "[q1]HOME", "[q2]HOME")

	// 10ms cycles: one command per 100ms
	h.cycle(5, 10*time.Millisecond)
	assert.Equal(t, 0, h.c.QueueLen())
	h.cycle(6, 10*time.Millisecond)
	assert.Equal(t, 1, h.c.QueueLen())
	assert.Equal(t, 1, h.c.network.BufferLen())
}

func TestControllerInvalidCommands(t *testing.T) {
	h := newHarness(t)

	h.send("[p1]FOO|1")
	h.cycle(1, 100*time.Millisecond)
	h.expectAck("p1", AckInvalid, "Unknown command: FOO")

	h.send("[p2]MOVEJOINT|0,0,0,0,0,0|2|50")
	h.cycle(1, 100*time.Millisecond)
	h.expectAck("p2", AckInvalid, "Command failed validation: duration and speed percentage are mutually exclusive")

	h.send("[p3]DELAY")
	h.cycle(1, 100*time.Millisecond)
	h.expectAck("p3", AckInvalid, "DELAY expects 2 parts, got 1")

	h.send("[p4]DELAY|1e12")
	h.cycle(1, 100*time.Millisecond)
	a, ok := h.readAck(2 * time.Second)
	require.True(t, ok)
	assert.Equal(t, "p4", a.id)
	assert.Equal(t, string(AckInvalid), a.status)
	assert.Contains(t, a.details, "exceeds the maximum")

	assert.Equal(t, 0, h.c.QueueLen())
	assert.Nil(t, h.c.Active())
}

func TestControllerEStop(t *testing.T) {
	h := newHarness(t)
	h.send("[d1]DELAY|100", "[q1]DELAY|1", "[q2]HOME")
	h.cycle(3, 100*time.Millisecond)
	require.Equal(t, 2, h.c.QueueLen())
	require.NotNil(t, h.c.Active())
	h.send("[b1]HOME")
	h.drainAcks()

	h.fw.set(func(f *fakeFirmware) { f.io[estopInput] = 0 })
	h.cycle(2, 10*time.Millisecond)

	cancelled := map[string]string{}
	for _, a := range h.drainAcks() {
		if a.status == string(AckCancelled) {
			cancelled[a.id] = a.details
		}
	}
	assert.Equal(t, map[string]string{
		"d1": "E-Stop activated",
		"q1": "E-Stop activated",
		"q2": "E-Stop activated",
		"b1": "E-Stop activated",
	}, cancelled)
	assert.Equal(t, 0, h.c.QueueLen())
	assert.Equal(t, 0, h.c.network.BufferLen())
	assert.Nil(t, h.c.Active())
	assert.True(t, h.c.State().EStopLatched)
	assert.Equal(t, CommandDisable, h.fw.lastCommand())
	assert.Equal(t, byte(0), h.fw.lastFrame()[50])

	// released but still latched: idle, and nothing leaves the buffer
	h.fw.set(func(f *fakeFirmware) { f.io[estopInput] = 1 })
	h.cycle(1, 10*time.Millisecond)
	h.send("[x1]HOME")
	h.cycle(3, 100*time.Millisecond)
	assert.Equal(t, CommandIdle, h.fw.lastCommand())
	assert.Equal(t, 0, h.c.QueueLen())
	assert.Equal(t, 1, h.c.network.BufferLen())

	h.send("[e1]GET_ESTOP_STATUS")
	h.cycle(1, 10*time.Millisecond)
	msg, ok := readDatagram(t, h.client, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, "ESTOP_STATUS|1", msg)
	h.expectAck("e1", AckCompleted, "E-stop status sent")

	// the buffered command is queued in the same cycle as the clear but
	// only starts after the enable frame went out
	h.send("[c1]CLEAR_ESTOP")
	h.cycle(1, 100*time.Millisecond)
	h.expectAck("c1", AckCompleted, "E-Stop cleared")
	h.expectAck("x1", AckQueued, "Position 1 in queue")
	assert.False(t, h.c.State().EStopLatched)
	assert.Equal(t, CommandEnable, h.fw.lastCommand())
	assert.Nil(t, h.c.Active())

	h.cycle(1, 10*time.Millisecond)
	h.expectAck("x1", AckExecuting, "Starting Home")
	assert.Equal(t, CommandHome, h.fw.lastCommand())
}

func TestControllerCancelsCommandsSentWhileEStopHeld(t *testing.T) {
	h := newHarness(t)
	h.fw.set(func(f *fakeFirmware) { f.io[estopInput] = 0 })
	h.cycle(2, 10*time.Millisecond)
	require.True(t, h.c.State().EStopLatched)

	h.send("[z1]HOME", "DELAY|1")
	h.cycle(3, 10*time.Millisecond)
	h.expectAck("z1", AckCancelled, "E-Stop activated")
	h.expectNoAck()
	assert.Equal(t, 0, h.c.network.BufferLen())
	assert.Equal(t, 0, h.c.QueueLen())
	assert.Equal(t, CommandDisable, h.fw.lastCommand())
}

func TestControllerClearEStopEnables(t *testing.T) {
	h := newHarness(t)
	h.fw.set(func(f *fakeFirmware) { f.io[estopInput] = 0 })
	h.cycle(2, 10*time.Millisecond)
	require.True(t, h.c.State().EStopLatched)
	h.fw.set(func(f *fakeFirmware) { f.io[estopInput] = 1 })
	h.cycle(2, 10*time.Millisecond)
	assert.Equal(t, CommandIdle, h.fw.lastCommand())

	h.send("CLEAR_ESTOP")
	h.cycle(1, 10*time.Millisecond)
	assert.Equal(t, CommandEnable, h.fw.lastCommand())
	h.cycle(1, 10*time.Millisecond)
	assert.Equal(t, CommandIdle, h.fw.lastCommand())
}

func TestControllerClearEStopEnablesBeforeQueuedCommand(t *testing.T) {
	h := newHarness(t)
	h.fw.set(func(f *fakeFirmware) { f.io[estopInput] = 0 })
	h.cycle(2, 10*time.Millisecond)
	h.fw.set(func(f *fakeFirmware) { f.io[estopInput] = 1 })
	h.cycle(2, 10*time.Millisecond)
	require.True(t, h.c.State().EStopLatched)

	h.send("DELAY|5", "CLEAR_ESTOP")
	h.cycle(1, 10*time.Millisecond)
	assert.Equal(t, CommandEnable, h.fw.lastCommand())
	assert.Equal(t, 1, h.c.QueueLen())
	assert.Nil(t, h.c.Active())

	h.cycle(1, 10*time.Millisecond)
	require.NotNil(t, h.c.Active())
	assert.Equal(t, KindDelay, h.c.Active().Kind)
	assert.Equal(t, CommandIdle, h.fw.lastCommand())

	h.fw.set(func(f *fakeFirmware) {
		n := len(f.commands)
		assert.Equal(t, []byte{CommandEnable, CommandIdle}, f.commands[n-2:])
	})
}

func TestControllerStop(t *testing.T) {
	h := newHarness(t)
	h.send("[d1]DELAY|100", "[q1]DELAY|1", "[q2]DELAY|1")
	h.cycle(3, 100*time.Millisecond)
	require.Equal(t, 2, h.c.QueueLen())
	h.drainAcks()

	h.send("[s1]STOP")
	h.cycle(1, 10*time.Millisecond)

	h.expectAck("d1", AckCancelled, "Stopped by user")
	h.expectAck("q1", AckCancelled, "Queue cleared by STOP")
	h.expectAck("q2", AckCancelled, "Queue cleared by STOP")
	h.expectAck("s1", AckCompleted, "Robot stopped")
	assert.Nil(t, h.c.Active())
	assert.Equal(t, 0, h.c.QueueLen())
	assert.Equal(t, CommandIdle, h.fw.lastCommand())
}

func TestControllerQueries(t *testing.T) {
	h := newHarness(t)
	h.fw.set(func(f *fakeFirmware) {
		f.gripper = GripperInput{ID: 1, Position: 120, Speed: 30, Current: 400}
	})
	h.cycle(3, 10*time.Millisecond)

	tests := []struct {
		query, prefix, detail string
	}{
		{"GET_ANGLES", "ANGLES|0,0,0,0,0,0", "Angles data sent"},
		{"GET_IO", "IO|0,0,0,0,1", "IO data sent"},
		{"GET_GRIPPER", "GRIPPER|1,120,30,400,0,0", "Gripper data sent"},
		{"GET_SPEEDS", "SPEEDS|0,0,0,0,0,0", "Speed data sent"},
		{"GET_HOMED", "HOMED|1,1,1,1,1,1", "Homed status sent"},
		{"GET_HZ", "HZ|100.0", "Hz data sent"},
		{"GET_ESTOP_STATUS", "ESTOP_STATUS|0", "E-stop status sent"},
		{"GET_POSE", "POSE|", "Pose data sent"},
	}
	for i, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			h.send("[q" + strconv.Itoa(i) + "]" + tt.query)
			h.cycle(1, 10*time.Millisecond)
			msg, ok := readDatagram(t, h.client, 2*time.Second)
			require.True(t, ok)
			assert.True(t, strings.HasPrefix(msg, tt.prefix), msg)
			got, ok := h.readAck(2 * time.Second)
			require.True(t, ok)
			assert.Equal(t, string(AckCompleted), got.status)
			assert.Equal(t, tt.detail, got.details)
		})
	}

	t.Run("pose has sixteen values", func(t *testing.T) {
		h.send("GET_POSE")
		h.cycle(1, 10*time.Millisecond)
		msg, ok := readDatagram(t, h.client, 2*time.Second)
		require.True(t, ok)
		fields := strings.Split(strings.TrimPrefix(msg, "POSE|"), ",")
		require.Len(t, fields, 16)
		got := make([]float64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			require.NoError(t, err)
			got[i] = v
		}

		arm, err := kinematics.NewArm()
		require.NoError(t, err)
		pose, err := arm.PoseSteps(h.c.State().PositionIn)
		require.NoError(t, err)
		assert.InDeltaSlice(t, kinematics.Flatten(pose), got, 1e-9)
		assert.Equal(t, []float64{0, 0, 0, 1}, got[12:])
		h.expectNoAck()
	})
}

func TestControllerMotionRecording(t *testing.T) {
	h := newHarness(t)
	h.send("[m1]START_MOTION_RECORDING|bench")
	h.cycle(1, 10*time.Millisecond)
	h.expectAck("m1", AckCompleted, "Recording started: bench")

	h.send("[m2]START_MOTION_RECORDING")
	h.cycle(1, 10*time.Millisecond)
	h.expectAck("m2", AckFailed, "Already recording")

	h.cycle(50, 10*time.Millisecond)

	h.send("[m3]GET_MOTION_RECORDING_STATUS")
	h.cycle(1, 10*time.Millisecond)
	msg, ok := readDatagram(t, h.client, 2*time.Second)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(msg, "MOTION_RECORDING|1|"), msg)
	got, ok := h.readAck(2 * time.Second)
	require.True(t, ok)
	assert.Equal(t, strings.TrimPrefix(msg, "MOTION_RECORDING|"), got.details)

	h.send("[m4]STOP_MOTION_RECORDING")
	h.cycle(1, 10*time.Millisecond)
	got, ok = h.readAck(2 * time.Second)
	require.True(t, ok)
	assert.Equal(t, string(AckCompleted), got.status)
	var rec Recording
	require.NoError(t, json.Unmarshal([]byte(got.details), &rec))
	assert.Equal(t, "bench", rec.Metadata.Name)
	assert.Greater(t, rec.Metadata.NumSamples, 0)

	h.send("[m5]STOP_MOTION_RECORDING")
	h.cycle(1, 10*time.Millisecond)
	h.expectAck("m5", AckFailed, "No active recording")
}

func TestControllerSetRecordingDumpsCommandTiming(t *testing.T) {
	h := newHarness(t)
	h.send("[r1]SET_RECORDING|1")
	h.cycle(1, 100*time.Millisecond)
	h.expectAck("r1", AckCompleted, "Auto-recording enabled")

	h.send("DELAY|0.05")
	pattern := filepath.Join(h.c.cfg.RecordingsDir, "*_Delay.json")
	h.cycleUntil(50, func() bool {
		matches, err := filepath.Glob(pattern)
		require.NoError(t, err)
		return len(matches) == 1
	})
	assert.Nil(t, h.c.Active())

	h.clk.Add(100 * time.Millisecond)
	h.send("[r2]SET_RECORDING|0")
	h.cycle(1, 100*time.Millisecond)
	h.expectAck("r2", AckCompleted, "Auto-recording disabled")
	assert.False(t, h.c.perf.Collecting())
}

func TestControllerSerialFailure(t *testing.T) {
	h := newHarness(t)
	h.send("[d1]DELAY|100")
	h.cycle(1, 10*time.Millisecond)
	require.NotNil(t, h.c.Active())
	h.drainAcks()

	h.fw.set(func(f *fakeFirmware) { f.writeErr = errors.New("device unplugged") })
	h.cycle(1, 10*time.Millisecond)
	h.expectAck("d1", AckFailed, "Serial communication lost")
	assert.Nil(t, h.c.Active())
	assert.Nil(t, h.c.link)
	assert.True(t, h.fw.closed)

	h.fw.set(func(f *fakeFirmware) { f.writeErr = nil })
	h.cycle(1, 10*time.Millisecond)
	assert.NotNil(t, h.c.link)
	assert.Equal(t, 2, h.opens)
}

func TestControllerReconnectBackoff(t *testing.T) {
	h := newHarness(t)
	h.openErr = errors.New("no such device")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.ctx = ctx

	start := time.Now()
	h.cycle(3, 10*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 3, h.opens)
	assert.Nil(t, h.c.link)
	assert.Zero(t, h.c.cycles)
}

func TestControllerRecoversFromCommandPanic(t *testing.T) {
	h := newHarness(t)
	h.send("[d1]DELAY|100")
	h.cycle(1, 10*time.Millisecond)
	require.NotNil(t, h.c.Active())
	h.drainAcks()

	// corrupt the active command so its step panics
	h.c.Active().delay = nil
	h.cycle(1, 10*time.Millisecond)
	got, ok := h.readAck(2 * time.Second)
	require.True(t, ok)
	assert.Equal(t, string(AckFailed), got.status)
	assert.True(t, strings.HasPrefix(got.details, "Execution error: "), got.details)
	assert.Nil(t, h.c.Active())

	// the loop keeps going
	h.clk.Add(100 * time.Millisecond)
	h.send("[d2]DELAY|0.01")
	h.cycle(1, 100*time.Millisecond)
	h.expectAck("d2", AckQueued, "Position 1 in queue")
}

func TestControllerRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.c.Run(ctx) }()

	for i := 0; i < 5; i++ {
		h.clk.Add(10 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
