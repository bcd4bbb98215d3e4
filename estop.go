package parol6

// handleEStop applies the physical e-stop and the software latch it sets. It
// reports whether normal execution must be skipped this cycle.
func (c *Controller) handleEStop() bool {
	st := c.state
	if st.EStopPressed() {
		if !st.EStopLatched {
			c.triggerEStop()
		}
		st.CommandOut = CommandDisable
		st.ZeroSpeeds()
		st.GripperOut.Command = 0
		c.active = nil
		c.tracker.clear()
		c.cancelBuffered("E-Stop activated")
		return true
	}
	if st.EStopLatched {
		// released, waiting for CLEAR_ESTOP
		st.Idle()
		return true
	}
	return false
}

func (c *Controller) triggerEStop() {
	cancelled := "None"
	if c.active != nil {
		cancelled = c.active.Kind.String()
		c.finish(c.active, AckCancelled, "E-Stop activated")
	}
	c.queue.Clear(func(cmd *Command) {
		c.finish(cmd, AckCancelled, "E-Stop activated")
	})
	c.cancelBuffered("E-Stop activated")
	c.state.EStopLatched = true
	c.enablePending = false
	c.logger.Errorf("E-STOP TRIGGERED! Active command %s cancelled", cancelled)
	c.logger.Info("Release the e-stop and send CLEAR_ESTOP to re-enable")
}

// cancelBuffered drops every buffered command, cancelling the tracked ones.
func (c *Controller) cancelBuffered(reason string) {
	for _, rc := range c.network.ClearBuffer() {
		c.network.SendAck(rc.ID, AckCancelled, reason, rc.Addr)
	}
}

// clearEStop re-enables the robot after an e-stop. The enable byte is held
// for the next outgoing frame even if the loop is idle.
func (c *Controller) clearEStop(rc ReceivedCommand) {
	c.logger.Info("Clearing e-stop")
	c.state.CommandOut = CommandEnable
	c.state.EStopLatched = false
	c.enablePending = true
	c.network.SendAck(rc.ID, AckCompleted, "E-Stop cleared", rc.Addr)
}

// stop cancels the active command and everything queued.
func (c *Controller) stop(rc ReceivedCommand) {
	c.logger.Warn("Received STOP, halting motion and clearing queue")
	if c.active != nil {
		c.finish(c.active, AckCancelled, "Stopped by user")
		c.active = nil
	}
	c.queue.Clear(func(cmd *Command) {
		c.finish(cmd, AckCancelled, "Queue cleared by STOP")
	})
	c.tracker.clear()
	c.state.CommandOut = CommandIdle
	c.state.ZeroSpeeds()
	c.network.SendAck(rc.ID, AckCompleted, "Robot stopped", rc.Addr)
}
