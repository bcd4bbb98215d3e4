// Package client talks to a running commander over UDP: it sends
// ID-tagged commands, collects their ACKs and issues immediate queries.
package client

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"parol6"
)

// DefaultTimeout bounds queries and waits when the caller's context has no
// deadline.
const DefaultTimeout = 2 * time.Second

// Ack is one status update received for a command.
type Ack struct {
	ID       string
	Status   parol6.AckStatus
	Details  string
	Received time.Time
}

// Terminal reports whether no further ACKs will follow this one.
func (a Ack) Terminal() bool {
	return IsTerminal(a.Status)
}

// IsTerminal reports whether status ends a command's lifecycle.
func IsTerminal(status parol6.AckStatus) bool {
	switch status {
	case parol6.AckCompleted, parol6.AckFailed, parol6.AckCancelled, parol6.AckInvalid, parol6.AckRejected:
		return true
	default:
		return false
	}
}

// ParseAck decodes an "ACK|id|status|details" datagram.
func ParseAck(msg string) (Ack, error) {
	parts := strings.SplitN(strings.TrimSpace(msg), "|", 4)
	if len(parts) < 3 || parts[0] != "ACK" {
		return Ack{}, errors.Errorf("not an ACK: %q", msg)
	}
	a := Ack{ID: parts[1], Status: parol6.AckStatus(parts[2])}
	if len(parts) == 4 {
		a.Details = parts[3]
	}
	return a, nil
}

// NewCommandID returns a fresh 8 character command ID.
func NewCommandID() string {
	return uuid.NewString()[:8]
}

// Config locates the commander.
type Config struct {
	// ServerAddr is the commander's command address, host:port.
	ServerAddr string
	// AckPort is the local port ACKs are delivered to. Zero picks a free
	// port, which only works when the commander is configured to match.
	AckPort int
}

// Client sends commands and tracks their ACK history. It is safe for
// concurrent use.
type Client struct {
	conn    *net.UDPConn
	ackConn *net.UDPConn
	server  *net.UDPAddr
	logger  logging.Logger

	mu      sync.Mutex
	history map[string][]Ack
	changed chan struct{}

	// one query at a time owns the response socket
	queryMu sync.Mutex

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New binds the ACK listener and starts collecting ACKs.
func New(cfg Config, logger logging.Logger) (*Client, error) {
	server, err := net.ResolveUDPAddr("udp4", cfg.ServerAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid server address %q", cfg.ServerAddr)
	}
	ackConn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: cfg.AckPort})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen for ACKs on port %d", cfg.AckPort)
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "failed to open command socket"), ackConn.Close())
	}

	c := &Client{
		conn:    conn,
		ackConn: ackConn,
		server:  server,
		logger:  logger,
		history: make(map[string][]Ack),
		changed: make(chan struct{}),
	}
	c.wg.Add(1)
	utils.PanicCapturingGo(func() {
		defer c.wg.Done()
		c.listen()
	})
	return c, nil
}

// AckAddr is the bound ACK listener address.
func (c *Client) AckAddr() *net.UDPAddr {
	return c.ackConn.LocalAddr().(*net.UDPAddr)
}

func (c *Client) listen() {
	buf := make([]byte, 65535)
	for {
		n, _, err := c.ackConn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			c.logger.Debugf("ACK read error: %v", err)
			continue
		}
		a, err := ParseAck(string(buf[:n]))
		if err != nil {
			c.logger.Debug(err)
			continue
		}
		a.Received = time.Now()
		c.record(a)
	}
}

func (c *Client) record(a Ack) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history[a.ID] = append(c.history[a.ID], a)
	close(c.changed)
	c.changed = make(chan struct{})
}

// History returns every ACK received for id, oldest first.
func (c *Client) History(id string) []Ack {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Ack(nil), c.history[id]...)
}

// Forget drops the ACK history for id.
func (c *Client) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.history, id)
}

// Send tags body with a new command ID, sends it and returns the ID.
func (c *Client) Send(body string) (string, error) {
	id := NewCommandID()
	if err := c.SendRaw("[" + id + "]" + body); err != nil {
		return "", err
	}
	return id, nil
}

// SendRaw sends msg exactly as given.
func (c *Client) SendRaw(msg string) error {
	if _, err := c.conn.WriteToUDP([]byte(msg), c.server); err != nil {
		return errors.Wrap(err, "failed to send command")
	}
	return nil
}

// WaitFor blocks until an ACK for id with one of statuses arrives. With no
// statuses any terminal ACK matches.
func (c *Client) WaitFor(ctx context.Context, id string, statuses ...parol6.AckStatus) (Ack, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	match := func(a Ack) bool {
		if len(statuses) == 0 {
			return a.Terminal()
		}
		for _, s := range statuses {
			if a.Status == s {
				return true
			}
		}
		return false
	}
	for {
		c.mu.Lock()
		for _, a := range c.history[id] {
			if match(a) {
				c.mu.Unlock()
				return a, nil
			}
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return Ack{}, errors.Wrapf(ctx.Err(), "no matching ACK for command %s", id)
		case <-changed:
		}
	}
}

// Follow calls fn with each ACK for id, in arrival order, until a terminal
// one is delivered and returned.
func (c *Client) Follow(ctx context.Context, id string, fn func(Ack)) (Ack, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	seen := 0
	for {
		c.mu.Lock()
		acks := c.history[id][seen:]
		changed := c.changed
		c.mu.Unlock()

		for _, a := range acks {
			seen++
			if fn != nil {
				fn(a)
			}
			if a.Terminal() {
				return a, nil
			}
		}

		select {
		case <-ctx.Done():
			return Ack{}, errors.Wrapf(ctx.Err(), "command %s did not finish", id)
		case <-changed:
		}
	}
}

// Do sends body and waits for its terminal ACK. A FAILED, CANCELLED,
// INVALID or REJECTED outcome is returned as an error alongside the ACK.
func (c *Client) Do(ctx context.Context, body string) (Ack, error) {
	id, err := c.Send(body)
	if err != nil {
		return Ack{}, err
	}
	a, err := c.WaitFor(ctx, id)
	if err != nil {
		return Ack{}, err
	}
	if a.Status != parol6.AckCompleted {
		return a, errors.Errorf("command %s %s: %s", id, a.Status, a.Details)
	}
	return a, nil
}

// Query sends an immediate query such as GET_ANGLES and returns the
// response payload after the "NAME|" prefix. Responses left over from
// earlier queries that timed out are discarded.
func (c *Client) Query(ctx context.Context, query string) (string, error) {
	c.queryMu.Lock()
	defer c.queryMu.Unlock()

	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	buf := make([]byte, 65535)
	if err := c.drainResponses(buf); err != nil {
		return "", err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return "", errors.Wrap(err, "failed to set read deadline")
		}
	}
	if err := c.SendRaw(query); err != nil {
		return "", err
	}

	want := responseName(query)
	for {
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			return "", errors.Wrapf(err, "no response to %s", query)
		}
		resp := string(buf[:n])
		name, payload, ok := strings.Cut(resp, "|")
		if !ok {
			return "", errors.Errorf("malformed response %q", resp)
		}
		if name != want {
			c.logger.Debugf("Discarding %s response while waiting for %s", name, want)
			continue
		}
		return payload, nil
	}
}

// drainResponses throws away any datagrams already waiting on the command
// socket.
func (c *Client) drainResponses(buf []byte) error {
	if err := c.conn.SetReadDeadline(time.Now()); err != nil {
		return errors.Wrap(err, "failed to set read deadline")
	}
	for {
		if _, _, err := c.conn.ReadFromUDP(buf); err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil
			}
			return errors.Wrap(err, "failed to drain stale responses")
		}
	}
}

// responseName is the prefix the commander puts on the answer to query.
func responseName(query string) string {
	_, body := parol6.ParseCommandID(query)
	name, _, _ := strings.Cut(body, "|")
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "GET_MOTION_RECORDING_STATUS" {
		return "MOTION_RECORDING"
	}
	return strings.TrimPrefix(name, "GET_")
}

// Angles queries the joint angles in degrees.
func (c *Client) Angles(ctx context.Context) ([]float64, error) {
	payload, err := c.Query(ctx, "GET_ANGLES")
	if err != nil {
		return nil, err
	}
	return parseFloats(payload)
}

// Pose queries the flattened row-major 4x4 TCP transform.
func (c *Client) Pose(ctx context.Context) ([]float64, error) {
	payload, err := c.Query(ctx, "GET_POSE")
	if err != nil {
		return nil, err
	}
	return parseFloats(payload)
}

func parseFloats(payload string) ([]float64, error) {
	fields := strings.Split(payload, ",")
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "bad value %q", f)
		}
		out[i] = v
	}
	return out, nil
}

// Close stops the ACK listener and closes both sockets.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = multierr.Combine(c.ackConn.Close(), c.conn.Close())
		c.wg.Wait()
	})
	return err
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, DefaultTimeout)
}
