// discovery.go
package parol6

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.bug.st/serial/enumerator"
	"go.viam.com/rdk/logging"
)

// enumerateSerialPorts is a variable so tests can supply a fixed port list.
var enumerateSerialPorts = func() []string {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return []string{}
	}

	var portPaths []string
	for _, port := range ports {
		portPaths = append(portPaths, port.Name)
	}
	return portPaths
}

// ResolvePort returns configured unless it is AutoPort, in which case the
// best candidate serial port on the system is chosen.
func ResolvePort(configured string, logger logging.Logger) (string, error) {
	if configured != AutoPort {
		return configured, nil
	}

	allPorts := enumerateSerialPorts()
	logger.Debugf("Found %d total serial ports", len(allPorts))

	candidates := filterCandidatePorts(allPorts)
	if len(candidates) == 0 {
		return "", errors.New("no candidate serial ports found")
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return portRank(candidates[i]) < portRank(candidates[j])
	})
	logger.Infof("Auto-selected serial port %s (%s) from %d candidates",
		candidates[0], extractPortSuffix(candidates[0]), len(candidates))
	return candidates[0], nil
}

// filterCandidatePorts filters serial ports by platform-specific naming patterns
func filterCandidatePorts(ports []string) []string {
	candidates := []string{}
	for _, port := range ports {
		if isCandidatePort(port) {
			candidates = append(candidates, port)
		}
	}
	return candidates
}

// isCandidatePort checks if a port looks like a USB CDC or USB serial adapter
func isCandidatePort(port string) bool {
	// Linux: /dev/ttyUSB*, /dev/ttyACM*
	if strings.HasPrefix(port, "/dev/ttyUSB") || strings.HasPrefix(port, "/dev/ttyACM") {
		return true
	}
	// macOS: /dev/tty.usbmodem*, /dev/tty.usbserial*, /dev/cu.usbmodem*, /dev/cu.usbserial*
	if strings.HasPrefix(port, "/dev/tty.usbmodem") || strings.HasPrefix(port, "/dev/tty.usbserial") ||
		strings.HasPrefix(port, "/dev/cu.usbmodem") || strings.HasPrefix(port, "/dev/cu.usbserial") {
		return true
	}
	// Windows: COM*
	return strings.HasPrefix(port, "COM")
}

// portRank orders candidates: the controller board enumerates as a CDC ACM
// device, so those come first.
func portRank(port string) int {
	base := extractPortSuffix(port)
	switch {
	case strings.HasPrefix(base, "ttyACM"), strings.HasPrefix(base, "usbmodem"):
		return 0
	case strings.HasPrefix(base, "COM"):
		return 1
	default:
		return 2
	}
}

// extractPortSuffix extracts a friendly suffix from port path for naming
// /dev/ttyUSB0 -> "ttyUSB0"
// COM3 -> "COM3"
// /dev/tty.usbmodem123 -> "usbmodem123"
func extractPortSuffix(portPath string) string {
	base := filepath.Base(portPath)

	if strings.HasPrefix(base, "tty.usb") {
		return strings.TrimPrefix(base, "tty.")
	}
	if strings.HasPrefix(base, "cu.usb") {
		return strings.TrimPrefix(base, "cu.")
	}
	return base
}
