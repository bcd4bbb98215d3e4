// Package kinematics holds the PAROL6 joint model: limits, gearing, unit
// conversions between degrees and motor steps, and forward kinematics.
package kinematics

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/interp"
)

// NumJoints is the number of actuated joints.
const NumJoints = 6

const (
	microstep          = 32
	stepsPerRevolution = 200
)

// DegreePerStep is the output angle of one motor step before gearing.
const DegreePerStep = 360.0 / (stepsPerRevolution * microstep)

// JointLimitsDeg holds the static [min, max] range of every joint in degrees,
// measured from the zero pose.
var JointLimitsDeg = [NumJoints][2]float64{
	{-123.046875, 123.046875},
	{-145.0088, 108.0},
	{-107.866, 287.8675},
	{-105.46975, 105.46975},
	{-90, 90},
	{0, 360},
}

// ReductionRatio is the gear reduction of each joint.
var ReductionRatio = [NumJoints]float64{6.4, 20, 20 * (38.0 / 42.0), 4, 4, 10}

// MaxSpeed and MinSpeed bound joint velocity in steps/s.
var (
	MaxSpeed = [NumJoints]float64{6500, 18000, 20000, 20000, 22000, 22000}
	MinSpeed = [NumJoints]float64{100, 100, 100, 100, 100, 100}
)

// Joint acceleration bounds in steps/s^2.
const (
	MinAcceleration = 100.0
	MaxAcceleration = 32000.0
)

// DegToSteps converts a joint angle to motor steps.
func DegToSteps(deg float64, joint int) float64 {
	return deg / DegreePerStep * ReductionRatio[joint]
}

// StepsToDeg converts motor steps to a joint angle.
func StepsToDeg(steps float64, joint int) float64 {
	return steps * DegreePerStep / ReductionRatio[joint]
}

// RadToSteps converts radians to motor steps.
func RadToSteps(rad float64, joint int) float64 {
	return DegToSteps(rad*180/math.Pi, joint)
}

// StepsToRad converts motor steps to radians.
func StepsToRad(steps float64, joint int) float64 {
	return StepsToDeg(steps, joint) * math.Pi / 180
}

// StepsToDegrees converts a full step vector to degrees.
func StepsToDegrees(steps [NumJoints]int32) [NumJoints]float64 {
	var out [NumJoints]float64
	for i, s := range steps {
		out[i] = StepsToDeg(float64(s), i)
	}
	return out
}

// Interp linearly maps pct in [0,100] onto [lo, hi], clamping outside the range.
func Interp(pct, lo, hi float64) float64 {
	var pl interp.PiecewiseLinear
	if err := pl.Fit([]float64{0, 100}, []float64{lo, hi}); err != nil {
		return lo
	}
	return pl.Predict(math.Max(0, math.Min(100, pct)))
}

// CheckLimits returns an error naming the first joint outside its limits.
func CheckLimits(deg []float64) error {
	if len(deg) != NumJoints {
		return errors.Errorf("expected %d joint angles, got %d", NumJoints, len(deg))
	}
	for i, d := range deg {
		if math.IsNaN(d) || d < JointLimitsDeg[i][0] || d > JointLimitsDeg[i][1] {
			return errors.Errorf("joint %d target %.3f deg is out of range [%.3f, %.3f]",
				i+1, d, JointLimitsDeg[i][0], JointLimitsDeg[i][1])
		}
	}
	return nil
}
