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
	"math"
	"testing"
)

func TestCeilPowerOfTwoInputIsNotInDomain(t *testing.T) {
	for _, x := range []float64{
		0.0,
		-1.0,
		math.Inf(-1),
		math.Inf(1),
		math.NaN(),
		math.MaxFloat64,
		math.Pow(2.001, 1023.0),
	} {
		if got := ceilPowerOfTwo(x); !math.IsNaN(got) {
			t.Errorf("ceilPowerOfTwo(%f) = %f, want NaN", x, got)
		}
	}
}

func TestCeilPowerOfTwoInputIsPowerOfTwo(t *testing.T) {
	// Exhaustive over all normal float64 exponents.
	for exponent := -1022.0; exponent <= 1023; exponent++ {
		x := math.Pow(2.0, exponent)
		if got := ceilPowerOfTwo(x); got != x {
			t.Errorf("ceilPowerOfTwo(%e) = %e, want %e", x, got, x)
		}
	}
}

func TestCeilPowerOfTwoInputIsNotPowerOfTwo(t *testing.T) {
	for exponent := -1022.0; exponent <= -1.0; exponent++ {
		x := math.Pow(2.001, exponent)
		got := ceilPowerOfTwo(x)
		want := math.Pow(2.0, exponent)
		if got != want {
			t.Errorf("ceilPowerOfTwo(%e) = %e, want %e", x, got, want)
		}
	}
	if got := ceilPowerOfTwo(0.99); got != 1.0 {
		t.Errorf("ceilPowerOfTwo(0.99) = %f, want 1", got)
	}
	for exponent := 1.0; exponent <= 1022.0; exponent++ {
		x := math.Pow(2.001, exponent)
		got := ceilPowerOfTwo(x)
		want := math.Pow(2.0, exponent+1)
		if got != want {
			t.Errorf("ceilPowerOfTwo(%e) = %e, want %e", x, got, want)
		}
	}
}

func TestRoundToMultipleOfPowerOfTwo(t *testing.T) {
	for _, tc := range []struct {
		x, granularity, want float64
	}{
		{x: 0, granularity: 0.5, want: 0},
		{x: 0.2, granularity: 0.5, want: 0},
		{x: 0.3, granularity: 0.5, want: 0.5},
		{x: -0.3, granularity: 0.5, want: -0.5},
		{x: 117.833, granularity: 1, want: 118},
		{x: 117.833, granularity: 0.125, want: 117.875},
		{x: 648391, granularity: 1, want: 648391},
		{x: 5, granularity: 4, want: 4},
		{x: 6, granularity: 4, want: 8},
		{x: 1e308, granularity: math.Exp2(-40), want: 1e308},
		{x: -math.MaxFloat64, granularity: math.Exp2(-1074), want: -math.MaxFloat64},
		{x: math.Exp2(60) + 4096, granularity: 64, want: math.Exp2(60) + 4096},
	} {
		if got := roundToMultipleOfPowerOfTwo(tc.x, tc.granularity); got != tc.want {
			t.Errorf("roundToMultipleOfPowerOfTwo(%f, %f) = %f, want %f", tc.x, tc.granularity, got, tc.want)
		}
	}
}

func TestCheckGranularity(t *testing.T) {
	for _, tc := range []struct {
		desc               string
		scale, granularity float64
		wantErr            bool
	}{
		{"finite scale and granularity", 1, math.Exp2(-40), false},
		{"infinite scale", math.Inf(1), math.NaN(), true},
		{"NaN scale", math.NaN(), 1, true},
		{"zero scale", 0, 1, true},
		{"NaN granularity", 1, math.NaN(), true},
		{"infinite granularity", 1, math.Inf(1), true},
		{"zero granularity", 1, 0, true},
	} {
		if err := checkGranularity(tc.scale, tc.granularity); (err != nil) != tc.wantErr {
			t.Errorf("checkGranularity: when %s got err %v, want err %t", tc.desc, err, tc.wantErr)
		}
	}
}

func TestCheckReleased(t *testing.T) {
	for _, tc := range []struct {
		noised  float64
		wantErr bool
	}{
		{0, false},
		{-math.MaxFloat64, false},
		{math.Inf(1), true},
		{math.Inf(-1), true},
		{math.NaN(), true},
	} {
		if _, err := checkReleased(tc.noised); (err != nil) != tc.wantErr {
			t.Errorf("checkReleased(%v): got err %v, want err %t", tc.noised, err, tc.wantErr)
		}
	}
}
