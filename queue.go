package parol6

import (
	"fmt"

	"github.com/pkg/errors"
)

// CommandQueue is a bounded FIFO of pending commands with a second, smaller
// cap on trajectory-heavy commands.
type CommandQueue struct {
	maxSize       int
	maxTrajectory int
	items         []*Command
	heavy         int
}

// NewCommandQueue returns an empty queue with the given limits.
func NewCommandQueue(maxSize, maxTrajectory int) *CommandQueue {
	return &CommandQueue{maxSize: maxSize, maxTrajectory: maxTrajectory}
}

// CanAdd reports whether cmd would be admitted and, if not, why. It never
// mutates the queue.
func (q *CommandQueue) CanAdd(cmd *Command) (bool, string) {
	if len(q.items) >= q.maxSize {
		return false, fmt.Sprintf("Queue full (%d/%d)", len(q.items), q.maxSize)
	}
	if cmd.Kind.TrajectoryHeavy() && q.heavy >= q.maxTrajectory {
		return false, fmt.Sprintf("Too many trajectory commands queued (%d/%d)", q.heavy, q.maxTrajectory)
	}
	return true, ""
}

// Add appends cmd. It fails, leaving the queue unchanged, whenever CanAdd
// would refuse cmd.
func (q *CommandQueue) Add(cmd *Command) error {
	if ok, reason := q.CanAdd(cmd); !ok {
		return errors.New(reason)
	}
	q.items = append(q.items, cmd)
	if cmd.Kind.TrajectoryHeavy() {
		q.heavy++
	}
	return nil
}

// Pop removes and returns the head of the queue.
func (q *CommandQueue) Pop() (*Command, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	cmd := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if cmd.Kind.TrajectoryHeavy() {
		q.heavy--
	}
	return cmd, true
}

// Clear empties the queue, calling onCancel for each removed command in
// queue order. onCancel may be nil.
func (q *CommandQueue) Clear(onCancel func(*Command)) {
	items := q.items
	q.items = nil
	q.heavy = 0
	if onCancel == nil {
		return
	}
	for _, cmd := range items {
		onCancel(cmd)
	}
}

// Len is the number of queued commands.
func (q *CommandQueue) Len() int { return len(q.items) }

// TrajectoryCount is the number of queued trajectory-heavy commands.
func (q *CommandQueue) TrajectoryCount() int { return q.heavy }
