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
	"strings"
)

// Kind is the statistic computed over a sequence of values.
type Kind int

const (
	// Mean is the arithmetic mean. It is the default kind.
	Mean Kind = iota
	// Sum is the sum of the values.
	Sum
	// Count is the number of (non-NaN) values.
	Count
)

var kindName = map[Kind]string{
	Mean:  "mean",
	Sum:   "sum",
	Count: "count",
}

func (k Kind) String() string {
	if name, ok := kindName[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a case-insensitive name such as "mean" to its Kind. "average"
// and "avg" are accepted as aliases of Mean. An empty name yields Mean.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "mean", "average", "avg":
		return Mean, nil
	case "sum":
		return Sum, nil
	case "count":
		return Count, nil
	}
	return 0, fmt.Errorf("unknown statistic kind %q, want one of mean, sum, count", name)
}

func checkKind(k Kind) error {
	if _, ok := kindName[k]; !ok {
		return fmt.Errorf("unknown statistic kind %v", k)
	}
	return nil
}
