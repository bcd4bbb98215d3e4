package parol6

type setIOParams struct {
	output int
	state  bool
	index  int
}

// NewSetIO returns a single-cycle command driving digital output 1 or 2.
func NewSetIO(output int, state bool) *Command {
	c := newCommand(KindSetIO)
	c.io = &setIOParams{output: output, state: state}
	switch output {
	case 1:
		c.io.index = 2
	case 2:
		c.io.index = 3
	default:
		return c.invalidate("invalid digital output %d", output)
	}
	return c
}

func (c *Command) stepSetIO(st *ControlState) bool {
	var v uint8
	if c.io.state {
		v = 1
	}
	st.InOutOut[c.io.index] = v
	c.finished = true
	return true
}
