package parol6

// HomeState is the homing sequence progress.
type HomeState int

const (
	HomeStart HomeState = iota
	HomeWaitingForUnhomed
	HomeWaitingForHomed
	HomeDone
)

func (s HomeState) String() string {
	switch s {
	case HomeStart:
		return "start"
	case HomeWaitingForUnhomed:
		return "waiting_for_unhomed"
	case HomeWaitingForHomed:
		return "waiting_for_homed"
	case HomeDone:
		return "done"
	default:
		return "unknown"
	}
}

const (
	homeSignalCycles  = 10
	homeTimeoutCycles = 2000
)

type homeParams struct {
	state         HomeState
	signalCycles  int
	timeoutCycles int
}

// NewHome returns a command that runs the firmware homing sequence and waits
// for every joint to report homed.
func NewHome() *Command {
	c := newCommand(KindHome)
	c.home = &homeParams{
		state:         HomeStart,
		signalCycles:  homeSignalCycles,
		timeoutCycles: homeTimeoutCycles,
	}
	return c
}

// HomeState returns the homing progress; only meaningful for KindHome.
func (c *Command) HomeState() HomeState {
	if c.home == nil {
		return HomeDone
	}
	return c.home.state
}

func (c *Command) stepHome(st *ControlState) bool {
	h := c.home
	switch h.state {
	case HomeStart:
		st.CommandOut = CommandHome
		h.signalCycles--
		if h.signalCycles <= 0 {
			h.state = HomeWaitingForUnhomed
		}
		return false

	case HomeWaitingForUnhomed:
		// the firmware clears the homed flags once it starts homing
		st.CommandOut = CommandIdle
		for _, homed := range st.HomedIn[:NumJoints] {
			if homed == 0 {
				h.state = HomeWaitingForHomed
				break
			}
		}
		h.timeoutCycles--
		if h.timeoutCycles <= 0 && h.state == HomeWaitingForUnhomed {
			h.state = HomeDone
			return c.fail("Timeout waiting for robot to start homing")
		}
		return false

	case HomeWaitingForHomed:
		st.CommandOut = CommandIdle
		for _, homed := range st.HomedIn[:NumJoints] {
			if homed != 1 {
				return false
			}
		}
		st.ZeroSpeeds()
		h.state = HomeDone
		c.finished = true
		return true
	}
	c.finished = true
	return true
}
