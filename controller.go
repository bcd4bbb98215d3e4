package parol6

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"parol6/kinematics"
)

const reconnectBackoff = time.Second

// Controller runs the control loop: it owns the robot state, the command
// queue, the serial link and the UDP handler. Everything except the UDP
// reader runs on the goroutine calling Cycle or Run.
type Controller struct {
	cfg    *Config
	logger logging.Logger
	clk    clock.Clock

	state    *ControlState
	queue    *CommandQueue
	network  *NetworkHandler
	link     *serialLink
	tracker  *commandTracker
	perf     *PerfMonitor
	recorder *MotionRecorder
	arm      *kinematics.Arm

	active        *Command
	activeStarted time.Time

	// per-command timing dumps, toggled by SET_RECORDING
	recordCommands bool
	enablePending  bool

	cycles    uint64
	closeOnce sync.Once
}

// NewController binds the command socket and prepares an idle controller.
// cfg must already be validated. The serial port is opened lazily by the
// first cycle.
func NewController(cfg *Config, clk clock.Clock, logger logging.Logger) (*Controller, error) {
	arm, err := kinematics.NewArm()
	if err != nil {
		return nil, err
	}
	network, err := NewNetworkHandler(NetworkConfig{
		ListenIP:    cfg.ListenIP,
		CommandPort: cfg.CommandPort,
		AckPort:     cfg.AckPort,
		BufferSize:  DefaultIntakeBufferSize,
		Cooldown:    cfg.CommandCooldown,
	}, clk, logger.Sublogger("network"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to start network handler")
	}

	c := &Controller{
		cfg:      cfg,
		logger:   logger,
		clk:      clk,
		state:    NewControlState(),
		queue:    NewCommandQueue(cfg.MaxQueueSize, cfg.MaxTrajectoryCommands),
		network:  network,
		tracker:  newCommandTracker(),
		perf:     NewPerfMonitor(defaultPerfWindow, clk, logger.Sublogger("perf")),
		recorder: NewMotionRecorder(cfg.MotionSampleRateHz, clk, logger.Sublogger("recorder")),
		arm:      arm,
	}

	if cfg.AutoHome {
		logger.Info("Auto-home on startup enabled, queueing home")
		if err := c.enqueue(NewHome(), "", nil); err != nil {
			return nil, multierr.Combine(err, network.Close())
		}
	}
	return c, nil
}

// CommandAddr is the bound UDP command address.
func (c *Controller) CommandAddr() *net.UDPAddr { return c.network.LocalAddr() }

// State exposes the control state. Only safe to use from the loop goroutine
// or while the loop is stopped.
func (c *Controller) State() *ControlState { return c.state }

// QueueLen is the number of queued commands.
func (c *Controller) QueueLen() int { return c.queue.Len() }

// Active returns the executing command, if any.
func (c *Controller) Active() *Command { return c.active }

// Run cycles at the configured interval until ctx is done, then closes the
// controller.
func (c *Controller) Run(ctx context.Context) error {
	ticker := c.clk.Ticker(c.cfg.Interval)
	defer ticker.Stop()

	c.logger.Infof("Control loop running at %v", c.cfg.Interval)
	for {
		c.Cycle(ctx)
		select {
		case <-ctx.Done():
			c.logger.Info("Control loop stopping")
			return c.Close()
		case <-ticker.C:
		}
	}
}

// Cycle runs one control loop iteration.
func (c *Controller) Cycle(ctx context.Context) {
	if !c.ensureConnected(ctx) {
		return
	}
	c.perf.StartCycle()
	c.runPhase(PhaseNetwork, c.handleNetwork)
	c.runPhase(PhaseProcessing, c.processBuffered)
	c.runPhase(PhaseExecution, c.execute)
	c.runPhase(PhaseSerial, c.exchangeSerial)
	c.recorder.MaybeCapture(c.state.PositionOut, c.state.PositionIn)
	c.perf.EndCycle()
	c.cycles++
}

// ensureConnected opens the serial port when there is none, backing off for
// a second on failure.
func (c *Controller) ensureConnected(ctx context.Context) bool {
	if c.link != nil {
		return true
	}
	if err := c.connect(); err != nil {
		c.logger.Warnf("Serial port not open, retrying: %v", err)
		utils.SelectContextOrWait(ctx, reconnectBackoff)
		return false
	}
	return true
}

func (c *Controller) connect() error {
	path, err := ResolvePort(c.cfg.Port, c.logger)
	if err != nil {
		return err
	}
	port, err := openSerialPort(path, c.cfg.Baudrate)
	if err != nil {
		return err
	}
	c.link = newSerialLink(port, c.logger.Sublogger("serial"))
	c.logger.Infof("Connected to %s at %d baud", path, c.cfg.Baudrate)
	return nil
}

// runPhase times fn and contains any error or panic it raises so the rest of
// the cycle still runs.
func (c *Controller) runPhase(phase Phase, fn func() error) {
	start := c.clk.Now()
	if err := guard(fn); err != nil {
		c.logger.Errorf("%s phase failed: %v", phase, err)
	}
	c.perf.RecordPhase(phase, c.clk.Since(start))
}

func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("%v", r)
		}
	}()
	return fn()
}

func (c *Controller) handleNetwork() error {
	for _, rc := range c.network.Receive() {
		if c.handleImmediate(rc) {
			continue
		}
		c.network.Buffer(rc)
	}
	return nil
}

// processBuffered admits at most one buffered command into the queue.
func (c *Controller) processBuffered() error {
	if c.state.EStopLatched {
		return nil
	}
	rc, ok := c.network.NextBuffered(c.clk.Now())
	if !ok {
		return nil
	}
	if rc.ID != "" {
		c.logger.Debugf("Processing command (ID: %s): %s", rc.ID, truncate(rc.Body, 50))
	} else {
		c.logger.Debugf("Processing command: %s", truncate(rc.Body, 50))
	}

	name, arg, _ := strings.Cut(rc.Body, "|")
	if strings.EqualFold(strings.TrimSpace(name), "SET_RECORDING") {
		c.setRecording(rc, arg)
		return nil
	}

	cmd, err := Parse(rc.Body)
	if err != nil {
		c.logger.Warnf("Invalid command %q: %v", truncate(rc.Body, 50), err)
		c.network.SendAck(rc.ID, AckInvalid, err.Error(), rc.Addr)
		return nil
	}
	if !cmd.Valid() {
		c.logger.Warnf("%s failed validation: %v", cmd.Kind, cmd.Err())
		c.network.SendAck(rc.ID, AckInvalid, "Command failed validation: "+cmd.Err().Error(), rc.Addr)
		return nil
	}
	if w := cmd.Warning(); w != "" {
		c.logger.Warnf("%s: %s", cmd.Kind, w)
	}
	if ok, reason := c.queue.CanAdd(cmd); !ok {
		c.logger.Warnf("Command rejected: %s", reason)
		c.network.SendAck(rc.ID, AckRejected, reason, rc.Addr)
		return nil
	}
	if err := c.enqueue(cmd, rc.ID, rc.Addr); err != nil {
		return err
	}
	c.logger.Debugf("%s queued, queue size %d", cmd.Kind, c.queue.Len())
	c.network.SendAck(rc.ID, AckQueued, fmt.Sprintf("Position %d in queue", c.queue.Len()), rc.Addr)
	return nil
}

func (c *Controller) enqueue(cmd *Command, id string, addr *net.UDPAddr) error {
	c.tracker.assign(cmd)
	if err := c.queue.Add(cmd); err != nil {
		return err
	}
	c.tracker.track(cmd, id, addr)
	return nil
}

func (c *Controller) setRecording(rc ReceivedCommand, arg string) {
	arg = strings.TrimSpace(arg)
	on := arg == "1" || strings.EqualFold(arg, "true")
	c.recordCommands = on
	c.perf.SetCollecting(on)

	status := "disabled"
	if on {
		status = "enabled"
	}
	c.logger.Infof("Auto-recording %s", status)
	c.network.SendAck(rc.ID, AckCompleted, "Auto-recording "+status, rc.Addr)
}

// execute handles the e-stop and advances the active command by one step.
func (c *Controller) execute() error {
	if c.handleEStop() {
		return nil
	}
	if c.enablePending {
		// the enable byte gets a frame of its own before anything runs
		c.state.Idle()
		c.state.CommandOut = CommandEnable
		c.enablePending = false
		return nil
	}
	now := c.clk.Now()
	if c.active == nil {
		c.activateNext(now)
	}
	if c.active == nil {
		c.state.Idle()
		return nil
	}
	c.stepActive(now)
	return nil
}

func (c *Controller) activateNext(now time.Time) {
	cmd, ok := c.queue.Pop()
	if !ok {
		return
	}
	if !cmd.Valid() {
		c.finish(cmd, AckInvalid, "Initial validation failed")
		return
	}
	if err := guard(func() error { cmd.Prepare(c.state, now); return nil }); err != nil {
		c.logger.Errorf("%s preparation panicked: %v", cmd.Kind, err)
		c.finish(cmd, AckFailed, "Execution error: "+err.Error())
		return
	}
	if !cmd.Valid() {
		c.logger.Errorf("%s rejected after preparation: %v", cmd.Kind, cmd.Err())
		c.finish(cmd, AckFailed, "Preparation failed: "+cmd.Err().Error())
		return
	}

	c.active = cmd
	c.activeStarted = now
	if c.recordCommands {
		c.perf.TakeSamples()
	}
	c.logger.Infof("Starting %s", cmd.Kind)
	c.ack(cmd, AckExecuting, "Starting "+cmd.Kind.String())
}

func (c *Controller) stepActive(now time.Time) {
	cmd := c.active
	var done bool
	if err := guard(func() error { done = cmd.Step(c.state, now); return nil }); err != nil {
		c.logger.Errorf("Command execution error: %v", err)
		c.active = nil
		c.finish(cmd, AckFailed, "Execution error: "+err.Error())
		return
	}
	if !done {
		return
	}

	c.active = nil
	if c.recordCommands {
		c.dumpCommandPerf(cmd, now)
	}
	if cmd.Failed() {
		c.logger.Warnf("%s failed: %v", cmd.Kind, cmd.Err())
		c.finish(cmd, AckFailed, cmd.Err().Error())
		return
	}
	c.logger.Infof("%s finished", cmd.Kind)
	c.finish(cmd, AckCompleted, cmd.Kind.String()+" finished successfully")
}

func (c *Controller) dumpCommandPerf(cmd *Command, now time.Time) {
	samples := c.perf.TakeSamples()
	var id string
	if tc, ok := c.tracker.lookup(cmd.Handle); ok {
		id = tc.id
	}
	path, err := writeCommandDump(c.cfg.RecordingsDir, c.cfg, cmd.Kind, id, c.activeStarted, now, samples)
	if err != nil {
		c.logger.Errorf("Failed to save %s timing: %v", cmd.Kind, err)
		return
	}
	c.logger.Infof("Saved %s timing to %s (%d cycles)", cmd.Kind, path, len(samples))
}

// ack sends a non-terminal status for a tracked command.
func (c *Controller) ack(cmd *Command, status AckStatus, details string) {
	if tc, ok := c.tracker.lookup(cmd.Handle); ok {
		c.network.SendAck(tc.id, status, details, tc.addr)
	}
}

// finish sends the terminal status for a tracked command and forgets it.
func (c *Controller) finish(cmd *Command, status AckStatus, details string) {
	if tc, ok := c.tracker.release(cmd.Handle); ok {
		c.network.SendAck(tc.id, status, details, tc.addr)
	}
}

func (c *Controller) exchangeSerial() error {
	if c.link == nil {
		return nil
	}
	if err := c.link.exchange(c.state); err != nil {
		if c.active != nil {
			c.finish(c.active, AckFailed, "Serial communication lost")
			c.active = nil
		}
		c.closeLink()
		return err
	}
	return nil
}

func (c *Controller) closeLink() {
	if c.link == nil {
		return
	}
	if err := c.link.Close(); err != nil {
		c.logger.Debugf("Error closing serial port: %v", err)
	}
	c.link = nil
}

// Close stops the network handler and releases the serial port.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.network.Close()
		if c.link != nil {
			err = multierr.Combine(err, c.link.Close())
			c.link = nil
		}
		stats := c.perf.Stats()
		c.logger.Infof("Controller closed after %d cycles (avg %.2fms, max %.2fms)", c.cycles, stats.Mean, stats.Max)
	})
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
