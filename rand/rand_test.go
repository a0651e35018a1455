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

package rand

import (
	"bytes"
	"errors"
	"testing"

	"github.com/grd/stat"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy pool unavailable")
}

func TestBooleanBufIsShifting(t *testing.T) {
	restore := SetSourceForTesting(bytes.NewReader([]byte{
		0b00100100,
		0b10010000,
	}))
	defer restore()
	for pos, want := range []bool{
		// first byte
		false,
		false,
		true,
		false,
		false,
		true,
		false,
		false,
		// second byte
		false,
		false,
		false,
		false,
		true,
		false,
		false,
		true,
	} {
		got, err := Boolean()
		if err != nil {
			t.Fatalf("Boolean: got err %v in %v-th iteration", err, pos)
		}
		if got != want {
			t.Errorf("Boolean: got %v, want %v in %v-th iteration", got, want, pos)
		}
	}
}

func TestFailingSourceReturnsError(t *testing.T) {
	restore := SetSourceForTesting(failingReader{})
	defer restore()

	if _, err := U64(); !errors.Is(err, ErrRandomnessSource) {
		t.Errorf("U64: with failing source got err %v, want ErrRandomnessSource", err)
	}
	if _, err := Boolean(); !errors.Is(err, ErrRandomnessSource) {
		t.Errorf("Boolean: with failing source got err %v, want ErrRandomnessSource", err)
	}
	if _, err := Uniform(); !errors.Is(err, ErrRandomnessSource) {
		t.Errorf("Uniform: with failing source got err %v, want ErrRandomnessSource", err)
	}
	if _, err := Geometric(); !errors.Is(err, ErrRandomnessSource) {
		t.Errorf("Geometric: with failing source got err %v, want ErrRandomnessSource", err)
	}
	if _, err := I63n(10); !errors.Is(err, ErrRandomnessSource) {
		t.Errorf("I63n: with failing source got err %v, want ErrRandomnessSource", err)
	}
}

func TestShortSourceReturnsError(t *testing.T) {
	restore := SetSourceForTesting(bytes.NewReader([]byte{1, 2, 3}))
	defer restore()
	if _, err := U64(); !errors.Is(err, ErrRandomnessSource) {
		t.Errorf("U64: with a 3 byte source got err %v, want ErrRandomnessSource", err)
	}
}

func TestRestoreReinstatesCryptoSource(t *testing.T) {
	restore := SetSourceForTesting(failingReader{})
	restore()
	if _, err := U64(); err != nil {
		t.Errorf("U64: after restore got err %v, want nil", err)
	}
}

func TestI63nRejectsNonPositive(t *testing.T) {
	if _, err := I63n(0); err == nil {
		t.Errorf("I63n(0): got nil err, want error")
	}
}

func TestUniformStatistics(t *testing.T) {
	const numberOfSamples = 100000
	samples := make(stat.Float64Slice, numberOfSamples)
	for i := range samples {
		u, err := Uniform()
		if err != nil {
			t.Fatalf("Uniform: got err %v", err)
		}
		if u <= 0 || u > 1 {
			t.Fatalf("Uniform: got %f, want a value in (0, 1]", u)
		}
		samples[i] = u
	}
	// The mean of U(0,1] is 1/2 with variance 1/12. The tolerance is the
	// 99.9995% quantile of the sample mean's distribution.
	tolerance := 4.41717 * 0.288675 / 316.227766
	if got := stat.Mean(samples); got < 0.5-tolerance || got > 0.5+tolerance {
		t.Errorf("Uniform: got sample mean %f, want 0.5 ± %f", got, tolerance)
	}
}

func TestI63nIsInRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		got, err := I63n(7)
		if err != nil {
			t.Fatalf("I63n: got err %v", err)
		}
		if got < 0 || got >= 7 {
			t.Errorf("I63n(7): got %d, want a value in [0, 7)", got)
		}
	}
}
