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

package noise

import (
	"fmt"
	"math"
)

// ceilPowerOfTwo returns the smallest power of 2 larger or equal to x. The
// value of x must be a finite positive number not greater than 2^1023,
// otherwise NaN is returned. The result is an exact power of 2.
func ceilPowerOfTwo(x float64) float64 {
	if x <= 0.0 || math.IsInf(x, 0) || math.IsNaN(x) {
		return math.NaN()
	}
	// x = frac * 2^exp with frac in [0.5, 1). x is a power of two iff frac is 0.5.
	frac, exp := math.Frexp(x)
	if frac == 0.5 {
		return x
	}
	if exp > 1023 {
		return math.NaN()
	}
	return math.Ldexp(1, exp)
}

// roundToMultipleOfPowerOfTwo returns a multiple of granularity that is
// closest to x. The value of granularity needs to be an exact power of 2,
// otherwise the result might not be exact.
func roundToMultipleOfPowerOfTwo(x, granularity float64) float64 {
	// Every float64 of magnitude at least 2⁵³·granularity is already a
	// multiple of granularity. Dividing such an x may overflow.
	if math.Abs(x/granularity) >= 1<<53 {
		return x
	}
	return math.Round(x/granularity) * granularity
}

// checkGranularity returns an error unless the noise scale and the sampling
// granularity derived from it are finite and positive.
func checkGranularity(scale, granularity float64) error {
	if math.IsInf(scale, 0) || math.IsNaN(scale) || scale <= 0 {
		return fmt.Errorf("noise scale is %g, sensitivity and epsilon must give a finite positive scale", scale)
	}
	if math.IsInf(granularity, 0) || math.IsNaN(granularity) || granularity <= 0 {
		return fmt.Errorf("noise granularity for scale %g is %g, must be finite and positive", scale, granularity)
	}
	return nil
}

// checkReleased returns an error if adding noise to a finite value
// overflowed.
func checkReleased(noised float64) (float64, error) {
	if math.IsInf(noised, 0) || math.IsNaN(noised) {
		return 0, fmt.Errorf("noised value is %v, the statistic is too close to the float64 range", noised)
	}
	return noised, nil
}
