package parol6

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

type commandDumpMetadata struct {
	Name        string    `json:"name"`
	Timestamp   time.Time `json:"timestamp"`
	RobotConfig struct {
		Port     string `json:"com_port"`
		Baudrate int    `json:"baud_rate"`
	} `json:"robot_config"`
}

type phaseStats struct {
	Network    float64 `json:"network_ms"`
	Processing float64 `json:"processing_ms"`
	Execution  float64 `json:"execution_ms"`
	Serial     float64 `json:"serial_ms"`
}

type commandDumpEntry struct {
	CommandID   string       `json:"command_id"`
	CommandType string       `json:"command_type"`
	Timestamp   time.Time    `json:"timestamp"`
	DurationS   float64      `json:"duration_s"`
	NumCycles   int          `json:"num_cycles"`
	CycleStats  CycleStats   `json:"cycle_stats"`
	PhaseStats  phaseStats   `json:"phase_stats"`
	Samples     []PerfSample `json:"samples"`
}

type commandDump struct {
	Metadata commandDumpMetadata `json:"metadata"`
	Commands []commandDumpEntry  `json:"commands"`
}

// writeCommandDump saves the per-cycle timing of one finished command to
// dir/<timestamp>_<kind>.json and returns the file path.
func writeCommandDump(
	dir string,
	cfg *Config,
	kind Kind,
	id string,
	started, finished time.Time,
	samples []PerfSample,
) (string, error) {
	if len(samples) == 0 {
		return "", errors.New("no samples collected")
	}
	if id == "" {
		id = "N/A"
	}
	stamp := finished.Format("20060102_150405.000")
	name := kind.String() + "_" + stamp

	cycles := make([]float64, len(samples))
	var phases phaseStats
	for i, s := range samples {
		cycles[i] = s.Cycle
		phases.Network += s.Network
		phases.Processing += s.Processing
		phases.Execution += s.Execution
		phases.Serial += s.Serial
	}
	n := float64(len(samples))
	phases.Network /= n
	phases.Processing /= n
	phases.Execution /= n
	phases.Serial /= n

	dump := commandDump{Metadata: commandDumpMetadata{Name: name, Timestamp: finished}}
	dump.Metadata.RobotConfig.Port = cfg.Port
	dump.Metadata.RobotConfig.Baudrate = cfg.Baudrate
	dump.Commands = []commandDumpEntry{{
		CommandID:   id,
		CommandType: kind.String(),
		Timestamp:   finished,
		DurationS:   finished.Sub(started).Seconds(),
		NumCycles:   len(samples),
		CycleStats:  summarize(cycles),
		PhaseStats:  phases,
		Samples:     samples,
	}}

	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to encode command dump")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create %s", dir)
	}
	path := filepath.Join(dir, stamp+"_"+kind.String()+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "failed to write %s", path)
	}
	return path, nil
}
