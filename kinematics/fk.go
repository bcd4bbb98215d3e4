package kinematics

import (
	_ "embed"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/spatialmath"
)

//go:embed parol6.json
var parol6ModelJSON []byte

// ModelName is the name of the embedded kinematic model.
const ModelName = "parol6"

// thetaOffset is added to each joint angle before it reaches the DH chain;
// the firmware's zero pose is not the DH zero for joints 2 and 3.
var thetaOffset = [NumJoints]float64{0, -math.Pi / 2, math.Pi, 0, 0, 0}

// Arm computes poses from the embedded PAROL6 DH model. Lengths are
// millimeters.
type Arm struct {
	model referenceframe.Model
}

// NewArm parses the embedded kinematic model.
func NewArm() (*Arm, error) {
	model, err := referenceframe.UnmarshalModelJSON(parol6ModelJSON, ModelName)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load parol6 kinematic model")
	}
	if dof := len(model.DoF()); dof != NumJoints {
		return nil, errors.Errorf("parol6 kinematic model has %d joints, want %d", dof, NumJoints)
	}
	return &Arm{model: model}, nil
}

// Model is the underlying kinematic model.
func (a *Arm) Model() referenceframe.Model { return a.model }

// Pose returns the base-to-flange pose for joint angles in radians.
func (a *Arm) Pose(q [NumJoints]float64) (spatialmath.Pose, error) {
	vals := make([]float64, NumJoints)
	for i := range q {
		vals[i] = q[i] + thetaOffset[i]
	}
	pose, err := referenceframe.ComputeOOBPosition(a.model, vals)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute end position")
	}
	return pose, nil
}

// PoseSteps is Pose for a motor step vector.
func (a *Arm) PoseSteps(steps [NumJoints]int32) (spatialmath.Pose, error) {
	var q [NumJoints]float64
	for i, s := range steps {
		q[i] = StepsToRad(float64(s), i)
	}
	return a.Pose(q)
}

// TCPPosition is the translation of pose in millimeters.
func TCPPosition(pose spatialmath.Pose) r3.Vector {
	return pose.Point()
}

// Flatten returns the row-major elements of pose as a homogeneous 4x4
// transform.
func Flatten(pose spatialmath.Pose) []float64 {
	rot := pose.Orientation().RotationMatrix()
	pt := pose.Point()
	trans := [3]float64{pt.X, pt.Y, pt.Z}
	out := make([]float64, 0, 16)
	for r := 0; r < 3; r++ {
		out = append(out, rot.At(r, 0), rot.At(r, 1), rot.At(r, 2), trans[r])
	}
	return append(out, 0, 0, 0, 1)
}
