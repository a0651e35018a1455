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

package aggregate

import (
	"fmt"
	"math"

	"github.com/google/differential-privacy/dpengine/checks"
)

// DefaultSensitivity is the fixed sensitivity used when nothing else is
// configured.
const DefaultSensitivity = 1.0

// SensitivityFor returns the sensitivity bound for a statistic of the given
// kind.
//
// Without bounds the fixed constant is returned for every kind, independent
// of the data. This is a simplification: for a mean over a range [lo, hi] the
// tight value would be (hi - lo) / n. Callers that need the tight value must
// pass explicit bounds.
//
// With bounds, Count has sensitivity 1, Sum has max(|Lower|, |Upper|) and Mean
// has Upper - Lower, which is the bound for a single record. See
// SensitivityForN for a mean over a known number of records.
func SensitivityFor(kind Kind, bounds *Bounds, fixed float64) (float64, error) {
	return SensitivityForN(kind, bounds, fixed, 1)
}

// SensitivityForN is like SensitivityFor, but for bounded means it divides the
// width of the bounds by max(n, 1).
func SensitivityForN(kind Kind, bounds *Bounds, fixed float64, n int) (float64, error) {
	if err := checkKind(kind); err != nil {
		return 0, err
	}
	if bounds == nil {
		if err := checks.CheckSensitivity(fixed); err != nil {
			return 0, err
		}
		return fixed, nil
	}
	if err := bounds.Check(); err != nil {
		return 0, err
	}

	var s float64
	switch kind {
	case Count:
		s = 1
	case Sum:
		s = math.Max(math.Abs(bounds.Lower), math.Abs(bounds.Upper))
	default:
		s = (bounds.Upper - bounds.Lower) / math.Max(1, float64(n))
	}
	if err := checks.CheckSensitivity(s); err != nil {
		return 0, fmt.Errorf("bounds %v give an unusable sensitivity for %v: %w", bounds, kind, err)
	}
	return s, nil
}
