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

// Package aggregate computes the raw (non-private) statistics that the engine
// later privatizes, together with the sensitivity bound used to calibrate the
// noise.
//
// All functions in this package are pure and safe for concurrent use.
package aggregate

import (
	"fmt"
	"math"

	"github.com/google/differential-privacy/dpengine/checks"
	"gonum.org/v1/gonum/floats"
)

// Bounds is an optional input domain [Lower, Upper]. When set, values are
// clamped into it before aggregation and the sensitivity is derived from it.
type Bounds struct {
	Lower, Upper float64
}

func (b *Bounds) String() string {
	if b == nil {
		return "unbounded"
	}
	return fmt.Sprintf("[%v, %v]", b.Lower, b.Upper)
}

// Check returns an error unless the bounds are finite with Lower < Upper.
func (b *Bounds) Check() error {
	if err := checks.CheckBoundsFloat64(b.Lower, b.Upper); err != nil {
		return err
	}
	return checks.CheckBoundsNotEqual(b.Lower, b.Upper)
}

// ClampFloat64 clamps e within lower and upper, such that lower is returned
// if e < lower, and upper is returned if e > upper. Otherwise, e is returned.
func ClampFloat64(e, lower, upper float64) (float64, error) {
	if lower > upper {
		return 0, fmt.Errorf("lower must be less than or equal to upper, got lower = %v, upper = %v", lower, upper)
	}
	if e > upper {
		return upper, nil
	}
	if e < lower {
		return lower, nil
	}
	return e, nil
}

// Compute returns the statistic of the given kind over values.
//
// NaN entries are skipped and not counted, because a single NaN would turn
// the whole statistic into NaN regardless of the other entries. Infinite
// entries are rejected: no finite sensitivity bounds them.
//
// The mean of an empty sequence is 0, as are its sum and count.
func Compute(values []float64, kind Kind) (float64, error) {
	return compute(values, kind, nil)
}

// ComputeBounded is like Compute, but first clamps every entry into bounds.
// Infinite entries are clamped like any other value.
func ComputeBounded(values []float64, kind Kind, bounds *Bounds) (float64, error) {
	if bounds == nil {
		return Compute(values, kind)
	}
	if err := bounds.Check(); err != nil {
		return 0, err
	}
	return compute(values, kind, bounds)
}

func compute(values []float64, kind Kind, bounds *Bounds) (float64, error) {
	if err := checkKind(kind); err != nil {
		return 0, err
	}
	kept := make([]float64, 0, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if bounds != nil {
			clamped, err := ClampFloat64(v, bounds.Lower, bounds.Upper)
			if err != nil {
				return 0, err
			}
			v = clamped
		} else if math.IsInf(v, 0) {
			return 0, fmt.Errorf("value at index %d is %v, values must be finite", i, v)
		}
		kept = append(kept, v)
	}

	switch kind {
	case Count:
		return float64(len(kept)), nil
	case Sum:
		sum := floats.Sum(kept)
		if math.IsInf(sum, 0) {
			return 0, fmt.Errorf("sum of %d values overflows float64", len(kept))
		}
		return sum, nil
	default:
		return mean(kept), nil
	}
}

// mean returns the average of finite values, 0 for none. The sum is only
// rescaled when it overflows, so that ordinary inputs keep full precision.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	n := float64(len(values))
	if sum := floats.Sum(values); !math.IsInf(sum, 0) {
		return sum / n
	}
	// Dividing by a power of two at least as large as every magnitude keeps
	// each scaled value in [-1, 1], so the scaled sum is at most n.
	_, exp := math.Frexp(math.Max(math.Abs(floats.Max(values)), math.Abs(floats.Min(values))))
	scaled := make([]float64, len(values))
	for i, v := range values {
		scaled[i] = math.Ldexp(v, -exp)
	}
	return math.Ldexp(floats.Sum(scaled)/n, exp)
}

// CountFinite returns how many entries Compute would aggregate, i.e. the
// number of non-NaN values.
func CountFinite(values []float64) int {
	n := 0
	for _, v := range values {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}
