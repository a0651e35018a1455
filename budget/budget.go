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

// Package budget tracks the cumulative privacy loss spent on each dataset and
// rejects queries that would exceed a configured total budget.
//
// A ledger entry for a handle is created lazily by its first charge and is
// never removed. Its spend only grows. Charges against one handle are applied
// in a strict total order: a charge is checked against the current spend and
// committed in one atomic step, so concurrent queries can never jointly
// overspend.
//
// A charge without a maximum budget is accepted unconditionally and only
// recorded for audit purposes. This permissive mode has to be selected
// explicitly by passing a nil maximum.
package budget

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/differential-privacy/dpengine/checks"
)

// ErrBudgetExceeded is returned when a charge would push the spend of a
// handle past its maximum budget. The ledger is left unchanged.
var ErrBudgetExceeded = errors.New("privacy budget exceeded")

// Tolerance absorbs floating point error when comparing spend to the
// maximum, so that N charges of max/N add up to exactly max.
const Tolerance = 1e-12

// Handle identifies a logical dataset sharing one privacy budget.
type Handle string

// State is the lifecycle state of a ledger entry.
type State int

const (
	// Fresh entries have not been charged yet.
	Fresh State = iota
	// Active entries have spent part of their budget.
	Active
	// Exhausted entries have spent their whole budget and reject any
	// further charge.
	Exhausted
)

var stateName = map[State]string{
	Fresh:     "Fresh",
	Active:    "Active",
	Exhausted: "Exhausted",
}

func (s State) String() string {
	if name, ok := stateName[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText encodes the state by name, e.g. in JSON responses.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Entry is a read-only view of the spend recorded for a handle.
type Entry struct {
	Handle Handle `json:"handle"`
	// Spent is the sum of the epsilons of all accepted charges.
	Spent float64 `json:"spent"`
	// MaxBudget is the maximum that applied to the latest accepted charge,
	// nil if that charge was made in permissive mode.
	MaxBudget *float64 `json:"max_budget,omitempty"`
	Charges   int64    `json:"charges"`
	State     State    `json:"state"`
}

// Remaining returns the budget left before the entry is exhausted, or +Inf
// in permissive mode.
func (e Entry) Remaining() float64 {
	if e.MaxBudget == nil {
		return math.Inf(1)
	}
	return math.Max(0, *e.MaxBudget-e.Spent)
}

// Ledger records privacy spend per handle. Implementations must be safe for
// concurrent use and apply charges against one handle atomically.
type Ledger interface {
	// Charge adds epsilon to the spend of handle. If maxBudget is non-nil and
	// the new spend would exceed it, Charge returns an error wrapping
	// ErrBudgetExceeded and leaves the entry untouched. The returned entry
	// reflects the state after the call.
	Charge(ctx context.Context, handle Handle, epsilon float64, maxBudget *float64) (Entry, error)
	// Entry returns the current entry for handle. Unknown handles yield a
	// Fresh entry with zero spend.
	Entry(ctx context.Context, handle Handle) (Entry, error)
	// Handles lists all handles that have been charged at least once.
	Handles(ctx context.Context) ([]Handle, error)
}

// Float64 returns a pointer to v, for passing maximum budgets.
func Float64(v float64) *float64 {
	return &v
}

func checkCharge(handle Handle, epsilon float64, maxBudget *float64) error {
	if handle == "" {
		return fmt.Errorf("dataset handle must not be empty")
	}
	if err := checks.CheckEpsilonStrict(epsilon); err != nil {
		return err
	}
	return checks.CheckMaxBudget(maxBudget)
}

// fits reports whether spending epsilon on top of spent stays within
// maxBudget. An exhausted entry accepts nothing, so spend exceeds maxBudget
// by at most Tolerance, and only through the charge that exhausted it.
func fits(spent, epsilon float64, maxBudget *float64) bool {
	if maxBudget == nil {
		return true
	}
	if spent >= *maxBudget-Tolerance {
		return false
	}
	return spent+epsilon <= *maxBudget+Tolerance
}

func stateFor(spent float64, charges int64, maxBudget *float64) State {
	switch {
	case charges == 0 && spent == 0:
		return Fresh
	case maxBudget != nil && spent >= *maxBudget-Tolerance:
		return Exhausted
	default:
		return Active
	}
}

func exceeded(handle Handle, spent, epsilon float64, maxBudget *float64) error {
	return fmt.Errorf("%w: dataset %q has spent ε=%g of %g, cannot charge ε=%g", ErrBudgetExceeded, handle, spent, *maxBudget, epsilon)
}
