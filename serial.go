package parol6

import (
	"io"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.viam.com/rdk/logging"
)

// openSerialPort opens the firmware link in non-blocking read mode. It's a
// variable so tests can substitute an in-memory port.
var openSerialPort = func(path string, baudrate int) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: baudrate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial port %s", path)
	}
	// zero timeout: Read returns whatever is buffered, possibly nothing
	if err := port.SetReadTimeout(0); err != nil {
		return nil, errors.Wrap(err, "failed to set serial read timeout")
	}
	return port, nil
}

// serialLink frames ControlState over a byte stream.
type serialLink struct {
	port     io.ReadWriteCloser
	receiver FrameReceiver
	readBuf  []byte
	logger   logging.Logger

	framesIn  uint64
	framesOut uint64
}

func newSerialLink(port io.ReadWriteCloser, logger logging.Logger) *serialLink {
	return &serialLink{port: port, readBuf: make([]byte, 512), logger: logger}
}

// exchange sends the commanded state and applies every complete inbound frame
// currently buffered.
func (l *serialLink) exchange(st *ControlState) error {
	frame := PackFrame(st)
	if _, err := l.port.Write(frame); err != nil {
		return errors.Wrap(err, "failed to write to serial port")
	}
	l.framesOut++

	for {
		n, err := l.port.Read(l.readBuf)
		for _, b := range l.readBuf[:n] {
			payload, ok := l.receiver.Feed(b)
			if !ok {
				continue
			}
			if err := UnpackPayload(payload, st); err != nil {
				l.logger.Debugf("dropping inbound frame: %v", err)
				continue
			}
			l.framesIn++
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, "failed to read from serial port")
		}
		if n == 0 {
			return nil
		}
	}
}

func (l *serialLink) Close() error {
	return l.port.Close()
}
