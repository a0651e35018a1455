//
// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package stattestutils provides statistical helpers for tests that check the
// distribution of noisy releases.
//
// This package is not optimized for performance and is only intended to be
// used in tests.
package stattestutils

import (
	"math"

	"github.com/grd/stat"
)

// FalseRejectionQuantile is the 99.9995% quantile of the standard normal
// distribution. Tolerances derived from it make a statistical assertion fail
// spuriously with a probability of about 10⁻⁵.
const FalseRejectionQuantile = 4.41717

// SampleMean returns the average over the values in the slice, or 0 for an
// empty slice.
func SampleMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(stat.Float64Slice(values))
}

// SampleVariance returns the population variance of the values, i.e. the sum
// of squared distances to the mean divided by the number of values.
func SampleVariance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := SampleMean(values)
	var sumOfSquares float64
	for _, v := range values {
		sumOfSquares += (v - mean) * (v - mean)
	}
	return sumOfSquares / float64(len(values))
}

// MeanTolerance returns how far the mean of n independent samples of a
// distribution with the given variance may stray from its expectation before
// a test should reject.
func MeanTolerance(variance float64, n int) float64 {
	return FalseRejectionQuantile * math.Sqrt(variance/float64(n))
}

// NearEqual reports whether a and b differ by less than maxError.
func NearEqual(a, b, maxError float64) bool {
	return math.Abs(a-b) < maxError
}
