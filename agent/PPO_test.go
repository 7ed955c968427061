package agent

import (
	"math"
	"testing"
)

func TestClippedSurrogate(t *testing.T) {
	const clip = 0.2
	tests := []struct {
		ratio, advantage, want float64
	}{
		{1, 1, 1},
		{1.5, 1, 1.2},   // Positive advantage clipped above
		{0.5, 1, 0.5},   // Unclipped ratio is smaller
		{0.5, -1, -0.8}, // Negative advantage clipped below
		{1.5, -1, -1.5}, // Unclipped ratio is more pessimistic
		{3, 0, 0},
	}

	for _, test := range tests {
		have := ClippedSurrogate(test.ratio, test.advantage, clip)
		if math.Abs(have-test.want) > 1e-12 {
			t.Errorf("ratio %v advantage %v: want(%v) have(%v)", test.ratio,
				test.advantage, test.want, have)
		}
	}
}

func TestReturnStdDev(t *testing.T) {
	if std := returnStdDev([]float64{3}); std != 0 {
		t.Errorf("single return: want(0) have(%v)", std)
	}
	if std := returnStdDev([]float64{1, 3}); math.Abs(std-math.Sqrt2) > 1e-12 {
		t.Errorf("std: want(%v) have(%v)", math.Sqrt2, std)
	}
}
