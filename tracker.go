package parol6

import "net"

type trackedCommand struct {
	id   string
	addr *net.UDPAddr
}

// commandTracker maps command handles to the client ID and address that
// should receive their ACKs. Commands without an ID are never tracked.
type commandTracker struct {
	next    uint64
	entries map[uint64]trackedCommand
}

func newCommandTracker() *commandTracker {
	return &commandTracker{entries: make(map[uint64]trackedCommand)}
}

// assign gives cmd a fresh handle.
func (t *commandTracker) assign(cmd *Command) {
	t.next++
	cmd.Handle = t.next
}

func (t *commandTracker) track(cmd *Command, id string, addr *net.UDPAddr) {
	if id == "" {
		return
	}
	t.entries[cmd.Handle] = trackedCommand{id: id, addr: addr}
}

func (t *commandTracker) lookup(handle uint64) (trackedCommand, bool) {
	tc, ok := t.entries[handle]
	return tc, ok
}

// release looks up and forgets handle.
func (t *commandTracker) release(handle uint64) (trackedCommand, bool) {
	tc, ok := t.entries[handle]
	if ok {
		delete(t.entries, handle)
	}
	return tc, ok
}

func (t *commandTracker) clear() {
	clear(t.entries)
}

func (t *commandTracker) len() int { return len(t.entries) }
