package parol6

import (
	"math"
)

// quinticScaling maps progress s in [0,1] onto a rest-to-rest profile with
// zero velocity and acceleration at both ends.
func quinticScaling(s float64) float64 {
	return s * s * s * (10 + s*(-15+6*s))
}

// jtraj interpolates n joint vectors from q0 to qf with a quintic time law.
func jtraj(q0, qf [NumJoints]float64, n int) [][NumJoints]float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return [][NumJoints]float64{qf}
	}
	out := make([][NumJoints]float64, n)
	for i := range out {
		s := quinticScaling(float64(i) / float64(n-1))
		for j := 0; j < NumJoints; j++ {
			out[i][j] = q0[j] + (qf[j]-q0[j])*s
		}
	}
	return out
}

// sampleTimes returns 0, dt, 2dt, ... strictly below total.
func sampleTimes(total, dt float64) []float64 {
	n := int(math.Ceil(total/dt - 1e-9))
	if n <= 0 {
		return nil
	}
	t := make([]float64, n)
	for i := range t {
		t[i] = float64(i) * dt
	}
	return t
}

// trapezoidal samples a linear-segment-with-parabolic-blend move from q0 to
// qf at times t; the move ends at the last sample time with a cruise speed of
// 1.5x the average.
func trapezoidal(q0, qf float64, t []float64) []float64 {
	q := make([]float64, len(t))
	if len(t) == 0 {
		return q
	}
	tf := t[len(t)-1]
	if tf <= 0 || q0 == qf {
		for i := range q {
			q[i] = q0
		}
		q[len(q)-1] = qf
		return q
	}

	v := (qf - q0) / tf * 1.5
	tb := (q0 - qf + v*tf) / v
	a := v / tb
	for i, tt := range t {
		switch {
		case tt <= tb:
			q[i] = q0 + a/2*tt*tt
		case tt <= tf-tb:
			q[i] = (qf+q0-v*tf)/2 + v*tt
		default:
			q[i] = qf - a/2*tf*tf + a*tf*tt - a/2*tt*tt
		}
	}
	return q
}

// trapezoidDuration is the time one joint needs to travel path steps with
// the given cruise speed and acceleration, falling back to a triangular
// profile when it never reaches cruise.
func trapezoidDuration(path, vmax, amax float64) float64 {
	if path == 0 {
		return 0
	}
	tAcc := vmax / amax
	if path < vmax*tAcc {
		return 2 * math.Sqrt(path/amax)
	}
	return path/vmax + tAcc
}
