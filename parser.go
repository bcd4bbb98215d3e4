package parol6

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// noneValue marks an absent optional parameter on the wire.
const noneValue = "NONE"

type parseFunc func(parts []string) (*Command, error)

var parsers = map[string]parseFunc{
	"HOME":              parseHome,
	"MOVEJOINT":         parseMoveJoint,
	"EXECUTETRAJECTORY": parseExecuteTrajectory,
	"SET_IO":            parseSetIO,
	"ELECTRICGRIPPER":   parseElectricGripper,
	"DELAY":             parseDelay,
}

// Parse decodes one pipe-delimited command body, without its ID prefix, into
// a queueable Command. The returned error text is sent to the client as-is.
// A Command that parsed but failed validation is returned with a nil error;
// check Valid.
func Parse(body string) (*Command, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, errors.New("Empty command")
	}
	parts := strings.Split(body, "|")
	name := strings.ToUpper(strings.TrimSpace(parts[0]))
	parse, ok := parsers[name]
	if !ok {
		return nil, errors.Errorf("Unknown command: %s", name)
	}
	return parse(parts)
}

func expectParts(name string, parts []string, n int) error {
	if len(parts) != n {
		return errors.Errorf("%s expects %d parts, got %d", name, n, len(parts))
	}
	return nil
}

func paramError(name string, err error) error {
	return errors.Errorf("%s parameter error: %v", name, err)
}

func isNone(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), noneValue)
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

// parseOptionalFloat returns nil for NONE.
func parseOptionalFloat(s string) (*float64, error) {
	if isNone(s) {
		return nil, nil
	}
	v, err := parseFloat(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseHome(parts []string) (*Command, error) {
	return NewHome(), nil
}

// parseMoveJoint accepts MOVEJOINT|j1|..|j6|duration|speed and the compact
// MOVEJOINT|j1,..,j6|duration|speed.
func parseMoveJoint(parts []string) (*Command, error) {
	const name = "MOVEJOINT"
	var angleFields []string
	switch len(parts) {
	case 9:
		angleFields = parts[1:7]
	case 4:
		angleFields = strings.Split(parts[1], ",")
		if len(angleFields) != NumJoints {
			return nil, paramError(name, errors.Errorf("expected %d joint angles, got %d", NumJoints, len(angleFields)))
		}
	default:
		return nil, expectParts(name, parts, 9)
	}

	var target [NumJoints]float64
	for i, f := range angleFields {
		v, err := parseFloat(f)
		if err != nil {
			return nil, paramError(name, err)
		}
		target[i] = v
	}
	rest := parts[len(parts)-2:]
	duration, err := parseOptionalFloat(rest[0])
	if err != nil {
		return nil, paramError(name, err)
	}
	speed, err := parseOptionalFloat(rest[1])
	if err != nil {
		return nil, paramError(name, err)
	}
	return NewMoveJoint(target, duration, speed), nil
}

func parseExecuteTrajectory(parts []string) (*Command, error) {
	const name = "EXECUTETRAJECTORY"
	if err := expectParts(name, parts, 3); err != nil {
		return nil, err
	}
	var waypoints [][]float64
	if err := json.Unmarshal([]byte(parts[1]), &waypoints); err != nil {
		return nil, errors.Errorf("%s invalid JSON: %v", name, err)
	}
	if len(waypoints) == 0 {
		return nil, errors.Errorf("%s trajectory must be non-empty list", name)
	}
	for i, wp := range waypoints {
		if len(wp) != NumJoints {
			return nil, errors.Errorf("%s waypoint %d must have %d joints", name, i, NumJoints)
		}
	}
	duration, err := parseOptionalFloat(parts[2])
	if err != nil {
		return nil, paramError(name, err)
	}
	return NewExecuteTrajectory(waypoints, duration), nil
}

func parseSetIO(parts []string) (*Command, error) {
	const name = "SET_IO"
	if err := expectParts(name, parts, 3); err != nil {
		return nil, err
	}
	output, err := parseInt(parts[1])
	if err != nil {
		return nil, paramError(name, err)
	}
	state, err := parseInt(parts[2])
	if err != nil {
		return nil, paramError(name, err)
	}
	return NewSetIO(output, state != 0), nil
}

func parseElectricGripper(parts []string) (*Command, error) {
	const name = "ELECTRICGRIPPER"
	if err := expectParts(name, parts, 5); err != nil {
		return nil, err
	}
	action := GripperAction(strings.ToLower(strings.TrimSpace(parts[1])))
	if isNone(parts[1]) {
		action = GripperMove
	}
	var vals [3]int
	for i, f := range parts[2:5] {
		v, err := parseInt(f)
		if err != nil {
			return nil, paramError(name, err)
		}
		vals[i] = v
	}
	return NewGripper(action, vals[0], vals[1], vals[2]), nil
}

func parseDelay(parts []string) (*Command, error) {
	const name = "DELAY"
	if err := expectParts(name, parts, 2); err != nil {
		return nil, err
	}
	seconds, err := parseFloat(parts[1])
	if err != nil {
		return nil, paramError(name, err)
	}
	return NewDelay(seconds), nil
}
