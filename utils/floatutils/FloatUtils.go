// Package floatutils provides utilities for working with floats
package floatutils

import (
	"math"

	"gonum.org/v1/gonum/spatial/r1"
)

// Clip clips a floating point to within a minimum and maximum value.
// If the floating point exceeds max, then the function returns the max
// If min exceeds the floating point, then the function returns the min
func Clip(value, min, max float64) float64 {
	clipped := math.Min(value, max)
	return math.Max(clipped, min)
}

// ClipInterval is a wrapper to use Clip with an r1.Interval instead of
// a separate max and min value
func ClipInterval(value float64, interval r1.Interval) float64 {
	return Clip(value, interval.Min, interval.Max)
}

// ClipSlice clips each element of values in place
func ClipSlice(values []float64, min, max float64) {
	for i := range values {
		values[i] = Clip(values[i], min, max)
	}
}

// MaxSlice gets the maximum value and indices of all occurrences of
// the maximum value in a slice of float64.
func MaxSlice(values []float64) (max float64, indices []int) {
	max, indices = values[0], []int{0}

	for i := 1; i < len(values); i++ {
		if values[i] > max {
			max = values[i]
			indices = []int{i}
		} else if values[i] == max {
			indices = append(indices, i)
		}
	}
	return
}

// Argmax returns the first index of the maximum value in values
func Argmax(values []float64) int {
	_, indices := MaxSlice(values)
	return indices[0]
}

// Tanh applies tanh to each element of values in place
func Tanh(values []float64) {
	for i := range values {
		values[i] = math.Tanh(values[i])
	}
}
