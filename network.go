package parol6

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// AckStatus is the status field of an ACK datagram.
type AckStatus string

// ACK statuses.
const (
	AckQueued    AckStatus = "QUEUED"
	AckExecuting AckStatus = "EXECUTING"
	AckCompleted AckStatus = "COMPLETED"
	AckFailed    AckStatus = "FAILED"
	AckCancelled AckStatus = "CANCELLED"
	AckInvalid   AckStatus = "INVALID"
	AckRejected  AckStatus = "REJECTED"
)

const (
	// DefaultIntakeBufferSize caps commands waiting for the cooldown.
	DefaultIntakeBufferSize = 100
	maxDatagramSize         = 65535
	incomingChannelSize     = 256
)

// ReceivedCommand is one datagram from a client, split into its optional ID
// and command body.
type ReceivedCommand struct {
	Raw      string
	ID       string
	Body     string
	Addr     *net.UDPAddr
	Received time.Time
}

// NetworkStats are the handler's running counters.
type NetworkStats struct {
	Received  int64
	Processed int64
	AcksSent  int64
	Errors    int64
	Dropped   int64
	Buffered  int
}

// NetworkConfig configures a NetworkHandler.
type NetworkConfig struct {
	ListenIP    string
	CommandPort int
	AckPort     int
	BufferSize  int
	Cooldown    time.Duration
}

// NetworkHandler owns the UDP command and ACK sockets. A reader goroutine
// pushes datagrams into a channel; everything else runs on the control loop.
type NetworkHandler struct {
	logger   logging.Logger
	clk      clock.Clock
	conn     *net.UDPConn
	ackConn  *net.UDPConn
	ackPort  int
	incoming chan ReceivedCommand

	bufferSize  int
	cooldown    time.Duration
	buffer      []ReceivedCommand
	lastRelease time.Time

	received  atomic.Int64
	dropped   atomic.Int64
	errCount  atomic.Int64
	processed int64
	acksSent  int64

	closeOnce sync.Once
	readerWG  sync.WaitGroup
}

// NewNetworkHandler binds the command socket and starts the reader.
func NewNetworkHandler(cfg NetworkConfig, clk clock.Clock, logger logging.Logger) (*NetworkHandler, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultIntakeBufferSize
	}
	laddr := &net.UDPAddr{IP: net.ParseIP(cfg.ListenIP), Port: cfg.CommandPort}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", laddr)
	}
	ackConn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "failed to open ack socket"), conn.Close())
	}

	h := &NetworkHandler{
		logger:     logger,
		clk:        clk,
		conn:       conn,
		ackConn:    ackConn,
		ackPort:    cfg.AckPort,
		incoming:   make(chan ReceivedCommand, incomingChannelSize),
		bufferSize: cfg.BufferSize,
		cooldown:   cfg.Cooldown,
	}
	h.readerWG.Add(1)
	utils.PanicCapturingGo(h.readLoop)

	logger.Infof("Listening for commands on %s, sending ACKs to port %d", conn.LocalAddr(), cfg.AckPort)
	return h, nil
}

// LocalAddr is the bound command socket address.
func (h *NetworkHandler) LocalAddr() *net.UDPAddr {
	return h.conn.LocalAddr().(*net.UDPAddr)
}

func (h *NetworkHandler) readLoop() {
	defer h.readerWG.Done()
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := h.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			h.errCount.Add(1)
			h.logger.Errorf("Receive error: %v", err)
			continue
		}
		raw := strings.TrimSpace(strings.ToValidUTF8(string(buf[:n]), ""))
		if raw == "" {
			continue
		}
		id, body := ParseCommandID(raw)
		rc := ReceivedCommand{Raw: raw, ID: id, Body: body, Addr: addr, Received: h.clk.Now()}
		select {
		case h.incoming <- rc:
			h.received.Add(1)
		default:
			h.dropped.Add(1)
			h.logger.Warnf("Intake channel full, dropping %q from %s", raw, addr)
		}
	}
}

// Receive returns every datagram that has arrived since the last call. It
// never blocks.
func (h *NetworkHandler) Receive() []ReceivedCommand {
	var out []ReceivedCommand
	for {
		select {
		case rc := <-h.incoming:
			out = append(out, rc)
		default:
			return out
		}
	}
}

// Buffer queues rc for rate-limited processing. When the buffer is full the
// command is dropped and REJECTED.
func (h *NetworkHandler) Buffer(rc ReceivedCommand) bool {
	if len(h.buffer) >= h.bufferSize {
		h.dropped.Add(1)
		h.logger.Warnf("Buffer full (%d), dropping command %q", h.bufferSize, rc.Raw)
		h.SendAck(rc.ID, AckRejected, fmt.Sprintf("Buffer full (%d/%d)", len(h.buffer), h.bufferSize), rc.Addr)
		return false
	}
	h.buffer = append(h.buffer, rc)
	return true
}

// NextBuffered releases the oldest buffered command once the cooldown since
// the previous release has elapsed.
func (h *NetworkHandler) NextBuffered(now time.Time) (ReceivedCommand, bool) {
	if len(h.buffer) == 0 {
		return ReceivedCommand{}, false
	}
	if !h.lastRelease.IsZero() && now.Sub(h.lastRelease) < h.cooldown {
		return ReceivedCommand{}, false
	}
	rc := h.buffer[0]
	h.buffer[0] = ReceivedCommand{}
	h.buffer = h.buffer[1:]
	h.lastRelease = now
	h.processed++
	return rc, true
}

// BufferLen is the number of commands waiting for the cooldown.
func (h *NetworkHandler) BufferLen() int { return len(h.buffer) }

// ClearBuffer drops every buffered command and returns them.
func (h *NetworkHandler) ClearBuffer() []ReceivedCommand {
	cleared := h.buffer
	h.buffer = nil
	if len(cleared) > 0 {
		h.logger.Infof("Cleared %d buffered commands", len(cleared))
	}
	return cleared
}

// SendAck reports a status change for command id. It sends to the sender's
// host on the ACK port and also to localhost for local listeners, unless the
// sender is already local. An empty id sends nothing.
func (h *NetworkHandler) SendAck(id string, status AckStatus, details string, addr *net.UDPAddr) {
	if id == "" {
		return
	}
	msg := []byte(FormatAck(id, status, details))

	if addr != nil {
		dst := &net.UDPAddr{IP: addr.IP, Port: h.ackPort}
		if _, err := h.ackConn.WriteToUDP(msg, dst); err != nil {
			h.errCount.Add(1)
			h.logger.Errorf("Failed to send ACK to %s: %v", dst, err)
		} else {
			h.acksSent++
		}
		if addr.IP.IsLoopback() {
			return
		}
	}
	// best effort
	_, _ = h.ackConn.WriteToUDP(msg, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: h.ackPort})
}

// SendResponse replies to a query directly on the command socket.
func (h *NetworkHandler) SendResponse(msg string, addr *net.UDPAddr) {
	if addr == nil {
		return
	}
	if _, err := h.conn.WriteToUDP([]byte(msg), addr); err != nil {
		h.errCount.Add(1)
		h.logger.Errorf("Failed to send response to %s: %v", addr, err)
	}
}

// Stats snapshots the counters.
func (h *NetworkHandler) Stats() NetworkStats {
	return NetworkStats{
		Received:  h.received.Load(),
		Processed: h.processed,
		AcksSent:  h.acksSent,
		Errors:    h.errCount.Load(),
		Dropped:   h.dropped.Load(),
		Buffered:  len(h.buffer),
	}
}

// Close shuts both sockets and waits for the reader to exit.
func (h *NetworkHandler) Close() error {
	var err error
	h.closeOnce.Do(func() {
		err = multierr.Combine(h.conn.Close(), h.ackConn.Close())
		h.readerWG.Wait()
		h.logger.Info("Sockets closed")
	})
	return err
}

// FormatAck renders an ACK datagram.
func FormatAck(id string, status AckStatus, details string) string {
	return fmt.Sprintf("ACK|%s|%s|%s", id, status, details)
}

// ParseCommandID splits an optional command ID from a message. Two forms are
// accepted: "[id]BODY", and "id|BODY" where id is eight alphanumeric
// characters (hyphens allowed) that are not all upper case.
func ParseCommandID(msg string) (id, body string) {
	if strings.HasPrefix(msg, "[") {
		if end := strings.Index(msg, "]"); end > 0 {
			return msg[1:end], msg[end+1:]
		}
	}
	head, rest, found := strings.Cut(msg, "|")
	if found && looksLikeCommandID(head) {
		return head, rest
	}
	return "", msg
}

func looksLikeCommandID(s string) bool {
	if len(s) != 8 {
		return false
	}
	stripped := strings.ReplaceAll(s, "-", "")
	if stripped == "" {
		return false
	}
	cased, allUpper := false, true
	for _, r := range stripped {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
		if unicode.IsLetter(r) {
			cased = true
			if !unicode.IsUpper(r) {
				allUpper = false
			}
		}
	}
	return !(cased && allUpper)
}
