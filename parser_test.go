package parol6

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		kind    Kind
		valid   bool
		wantErr string
	}{
		{name: "home", body: "HOME", kind: KindHome, valid: true},
		{name: "home lowercase", body: "home", kind: KindHome, valid: true},
		{name: "movejoint nine parts", body: "MOVEJOINT|0|0|0|0|0|0|2.0|NONE", kind: KindMoveJoint, valid: true},
		{name: "movejoint compact", body: "MOVEJOINT|0,0,0,0,0,0|2.0|NONE", kind: KindMoveJoint, valid: true},
		{name: "movejoint speed", body: "MOVEJOINT|10,-20,30,0,15,90|none|50", kind: KindMoveJoint, valid: true},
		{name: "movejoint both", body: "MOVEJOINT|0,0,0,0,0,0|2.0|50", kind: KindMoveJoint, valid: false},
		{name: "movejoint part count", body: "MOVEJOINT|0|0", wantErr: "MOVEJOINT expects 9 parts, got 3"},
		{name: "movejoint compact count", body: "MOVEJOINT|0,0,0|2|NONE", wantErr: "MOVEJOINT parameter error"},
		{name: "movejoint bad float", body: "MOVEJOINT|0|x|0|0|0|0|2|NONE", wantErr: "MOVEJOINT parameter error"},
		{name: "trajectory", body: "EXECUTETRAJECTORY|[[0,0,0,0,0,0],[1,1,1,1,1,1]]|NONE", kind: KindExecuteTrajectory, valid: true},
		{name: "trajectory bad json", body: "EXECUTETRAJECTORY|[[0,0|NONE", wantErr: "EXECUTETRAJECTORY invalid JSON"},
		{name: "trajectory empty", body: "EXECUTETRAJECTORY|[]|NONE", wantErr: "non-empty"},
		{name: "trajectory short waypoint", body: "EXECUTETRAJECTORY|[[0,0]]|NONE", wantErr: "waypoint 0 must have 6 joints"},
		{name: "trajectory parts", body: "EXECUTETRAJECTORY|[[0,0,0,0,0,0]]", wantErr: "EXECUTETRAJECTORY expects 3 parts, got 2"},
		{name: "set io", body: "SET_IO|1|1", kind: KindSetIO, valid: true},
		{name: "set io bad output", body: "SET_IO|3|1", kind: KindSetIO, valid: false},
		{name: "set io bad state", body: "SET_IO|1|on", wantErr: "SET_IO parameter error"},
		{name: "gripper none action", body: "ELECTRICGRIPPER|NONE|100|100|500", kind: KindGripper, valid: true},
		{name: "gripper move", body: "ELECTRICGRIPPER|move|100|100|500", kind: KindGripper, valid: true},
		{name: "gripper calibrate", body: "ELECTRICGRIPPER|CALIBRATE|0|0|100", kind: KindGripper, valid: true},
		{name: "gripper parts", body: "ELECTRICGRIPPER|MOVE|100", wantErr: "ELECTRICGRIPPER expects 5 parts, got 3"},
		{name: "delay", body: "DELAY|0.5", kind: KindDelay, valid: true},
		{name: "delay negative", body: "DELAY|-1", kind: KindDelay, valid: false},
		{name: "delay bad", body: "DELAY|soon", wantErr: "DELAY parameter error"},
		{name: "unknown", body: "JUMP|1", wantErr: "Unknown command: JUMP"},
		{name: "empty", body: "  ", wantErr: "Empty command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := Parse(tt.body)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, cmd)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, cmd.Kind)
			assert.Equal(t, tt.valid, cmd.Valid())
		})
	}
}

func TestParseMoveJointFormsAgree(t *testing.T) {
	long, err := Parse("MOVEJOINT|1|2|3|4|5|6|NONE|40")
	require.NoError(t, err)
	compact, err := Parse("MOVEJOINT|1,2,3,4,5,6|NONE|40")
	require.NoError(t, err)
	assert.Equal(t, long.move, compact.move)
	assert.Equal(t, [NumJoints]float64{1, 2, 3, 4, 5, 6}, compact.move.target)
	assert.Equal(t, 40.0, compact.move.speedPercent)
}
