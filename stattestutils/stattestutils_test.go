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

package stattestutils

import (
	"math"
	"testing"
)

func TestSampleMean(t *testing.T) {
	for _, tc := range []struct {
		input    []float64
		wantMean float64
	}{
		{input: []float64{}, wantMean: 0},
		{input: []float64{100.123}, wantMean: 100.123},
		{input: []float64{120.5, 135.0, 98.0}, wantMean: 117.83333333333333},
		{input: []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, wantMean: 5},
	} {
		if got := SampleMean(tc.input); math.Abs(got-tc.wantMean) > 1e-9 {
			t.Errorf("SampleMean(%v): got %f, want %f", tc.input, got, tc.wantMean)
		}
	}
}

func TestSampleVariance(t *testing.T) {
	for _, tc := range []struct {
		input        []float64
		wantVariance float64
	}{
		{input: []float64{}, wantVariance: 0},
		{input: []float64{100.123}, wantVariance: 0},
		{input: []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, wantVariance: 10},
	} {
		if got := SampleVariance(tc.input); math.Abs(got-tc.wantVariance) > 1e-9 {
			t.Errorf("SampleVariance(%v): got %f, want %f", tc.input, got, tc.wantVariance)
		}
	}
}

func TestMeanTolerance(t *testing.T) {
	for _, tc := range []struct {
		variance float64
		n        int
		want     float64
	}{
		{variance: 1, n: 1, want: FalseRejectionQuantile},
		{variance: 2, n: 200, want: FalseRejectionQuantile * 0.1},
		{variance: 0, n: 10, want: 0},
	} {
		if got := MeanTolerance(tc.variance, tc.n); math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("MeanTolerance(%f, %d): got %f, want %f", tc.variance, tc.n, got, tc.want)
		}
	}
}

func TestNearEqual(t *testing.T) {
	if !NearEqual(1.0, 1.05, 0.1) {
		t.Errorf("NearEqual(1.0, 1.05, 0.1): got false, want true")
	}
	if NearEqual(1.0, 1.2, 0.1) {
		t.Errorf("NearEqual(1.0, 1.2, 0.1): got true, want false")
	}
}
