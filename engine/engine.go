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

// Package engine releases differentially private statistics over numeric
// records while keeping track of the privacy budget spent on each dataset.
//
// A query is processed in four steps: the parameters are validated, the raw
// statistic is computed, the privacy budget of the dataset is charged, and
// only then is noise drawn and the result released. A rejected charge
// releases nothing and draws no noise.
//
// For general details and key definitions, see
// https://github.com/google/differential-privacy/blob/main/differential_privacy.md#key-definitions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/golang/glog"
	"github.com/google/differential-privacy/dpengine/aggregate"
	"github.com/google/differential-privacy/dpengine/budget"
	"github.com/google/differential-privacy/dpengine/checks"
	"github.com/google/differential-privacy/dpengine/noise"
	"github.com/google/differential-privacy/dpengine/rand"
	"github.com/google/uuid"
)

var (
	// ErrInvalidParameter is returned when a query has a non-positive or
	// non-finite epsilon or sensitivity, an invalid delta, bounds or kind,
	// or infinite input values. It is returned before any computation.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrBudgetExceeded is returned when the dataset's ledger rejects the
	// charge. The caller may retry with a smaller epsilon.
	ErrBudgetExceeded = budget.ErrBudgetExceeded
	// ErrRandomnessSource is returned when the cryptographic random source
	// fails. No value is released in that case.
	ErrRandomnessSource = rand.ErrRandomnessSource
)

// Options configures an Engine. The zero value is a Laplace engine with
// sensitivity 1, an in-memory ledger and no budget limit.
type Options struct {
	// Sensitivity used when a request does not set one. Defaults to
	// aggregate.DefaultSensitivity.
	Sensitivity float64
	// MaxBudget applied when a request does not set one. nil means that the
	// ledger only records spend and never rejects.
	MaxBudget *float64
	// Noise distribution. Defaults to Laplace noise.
	Noise noise.Kind
	// Delta used when a request does not set one. Must be 0 with Laplace
	// noise and in (0, 1) with Gaussian noise.
	Delta float64
	// Bounds, if set, switch every query without own bounds to the bounded
	// sensitivity policy.
	Bounds *aggregate.Bounds
	// Ledger stores the spend per dataset. Defaults to a new
	// budget.MemoryLedger.
	Ledger budget.Ledger
	// Observer is notified of every query outcome. Optional.
	Observer Observer
	// Clock stamps results. Defaults to time.Now.
	Clock func() time.Time
}

// Observer receives the outcome of every query. Implementations must be safe
// for concurrent use.
type Observer interface {
	// ObserveQuery is called once per query with its final error, nil on
	// success.
	ObserveQuery(handle budget.Handle, kind aggregate.Kind, epsilon float64, err error)
	// ObserveSpend is called after every accepted charge.
	ObserveSpend(entry budget.Entry)
}

// Request describes a single query.
type Request struct {
	Handle budget.Handle
	Values []float64
	Kind   aggregate.Kind
	// Epsilon is the privacy loss charged for this query. Required.
	Epsilon float64
	// Delta overrides Options.Delta when non-zero.
	Delta float64
	// Sensitivity overrides Options.Sensitivity when non-zero.
	Sensitivity float64
	// MaxBudget overrides Options.MaxBudget when non-nil.
	MaxBudget *float64
	// Bounds overrides Options.Bounds when non-nil.
	Bounds *aggregate.Bounds
}

// NoisyResult is a released statistic. It is immutable once returned.
type NoisyResult struct {
	ID          uuid.UUID      `json:"id"`
	Handle      budget.Handle  `json:"dataset"`
	Kind        aggregate.Kind `json:"-"`
	Value       float64        `json:"value"`
	Epsilon     float64        `json:"epsilon"`
	Delta       float64        `json:"delta,omitempty"`
	Noise       noise.Kind     `json:"-"`
	Sensitivity float64        `json:"sensitivity"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ConfidenceInterval returns an interval that contains the raw statistic
// with probability 1 - alpha. It is computed from released values only and
// costs no budget.
func (r *NoisyResult) ConfidenceInterval(alpha float64) (noise.ConfidenceInterval, error) {
	n := noise.ToNoise(r.Noise)
	if n == nil {
		return noise.ConfidenceInterval{}, fmt.Errorf("%w: unknown noise %v", ErrInvalidParameter, r.Noise)
	}
	ci, err := n.ComputeConfidenceInterval(r.Value, r.Sensitivity, r.Epsilon, r.Delta, alpha)
	if err != nil {
		return noise.ConfidenceInterval{}, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	return ci, nil
}

// Engine answers queries. It is safe for concurrent use.
type Engine struct {
	opts  Options
	noise noise.Noise
}

// New returns an Engine configured by opt. A nil opt yields the defaults.
func New(opt *Options) (*Engine, error) {
	if opt == nil {
		opt = &Options{}
	}
	opts := *opt
	if opts.Sensitivity == 0 {
		opts.Sensitivity = aggregate.DefaultSensitivity
	}
	if err := checks.CheckSensitivity(opts.Sensitivity); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	if err := checks.CheckMaxBudget(opts.MaxBudget); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	if opts.Bounds != nil {
		if err := opts.Bounds.Check(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
		}
	}
	n := noise.ToNoise(opts.Noise)
	if n == nil {
		return nil, fmt.Errorf("%w: unsupported noise %v", ErrInvalidParameter, opts.Noise)
	}
	if opts.Noise == noise.GaussianNoise {
		if err := checks.CheckDeltaStrict(opts.Delta); err != nil {
			return nil, fmt.Errorf("%w: gaussian noise: %v", ErrInvalidParameter, err)
		}
	} else if err := checks.CheckNoDelta(opts.Delta); err != nil {
		return nil, fmt.Errorf("%w: laplace noise: %v", ErrInvalidParameter, err)
	}
	if opts.Ledger == nil {
		opts.Ledger = budget.NewMemoryLedger()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.MaxBudget == nil {
		log.Infof("No maximum privacy budget configured: spend is recorded but queries are never rejected")
	}
	return &Engine{opts: opts, noise: n}, nil
}

// query holds a request after defaults have been applied.
type query struct {
	Request
	sensitivity float64
	delta       float64
	maxBudget   *float64
	bounds      *aggregate.Bounds
}

func (e *Engine) resolve(req Request) (*query, error) {
	q := &query{
		Request:     req,
		sensitivity: req.Sensitivity,
		delta:       req.Delta,
		maxBudget:   req.MaxBudget,
		bounds:      req.Bounds,
	}
	if req.Handle == "" {
		return nil, errors.New("dataset handle must not be empty")
	}
	if err := checks.CheckEpsilonStrict(req.Epsilon); err != nil {
		return nil, err
	}
	if q.sensitivity == 0 {
		q.sensitivity = e.opts.Sensitivity
	}
	if q.delta == 0 {
		q.delta = e.opts.Delta
	}
	if q.maxBudget == nil {
		q.maxBudget = e.opts.MaxBudget
	}
	if q.bounds == nil {
		q.bounds = e.opts.Bounds
	}
	if err := checks.CheckMaxBudget(q.maxBudget); err != nil {
		return nil, err
	}
	// A caller supplied value must itself be valid, even though it is
	// refined below when bounds are set.
	if err := checks.CheckSensitivity(q.sensitivity); err != nil {
		return nil, err
	}
	s, err := aggregate.SensitivityForN(req.Kind, q.bounds, q.sensitivity, aggregate.CountFinite(req.Values))
	if err != nil {
		return nil, err
	}
	q.sensitivity = s
	// Scale runs the mechanism's own argument checks, e.g. the minimum
	// epsilon of the secure Laplace sampler and the delta range.
	if _, err := e.noise.Scale(q.sensitivity, req.Epsilon, q.delta); err != nil {
		return nil, err
	}
	return q, nil
}

// Query computes the statistic req.Kind over req.Values, charges req.Epsilon
// to the budget of req.Handle and returns the statistic with noise added.
//
// Empty input is valid: its statistic is 0 before noise. Errors wrap
// ErrInvalidParameter, ErrBudgetExceeded or ErrRandomnessSource, or come
// from the ledger's storage.
func (e *Engine) Query(ctx context.Context, req Request) (res *NoisyResult, err error) {
	if e.opts.Observer != nil {
		defer func() { e.opts.Observer.ObserveQuery(req.Handle, req.Kind, req.Epsilon, err) }()
	}

	q, err := e.resolve(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	raw, err := aggregate.ComputeBounded(req.Values, req.Kind, q.bounds)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}

	entry, err := e.opts.Ledger.Charge(ctx, req.Handle, req.Epsilon, q.maxBudget)
	if err != nil {
		if errors.Is(err, ErrBudgetExceeded) {
			log.Warningf("Query on dataset %q rejected: %v", req.Handle, err)
		}
		return nil, err
	}
	if e.opts.Observer != nil {
		e.opts.Observer.ObserveSpend(entry)
	}

	// The charge stands even if noise cannot be drawn: the raw statistic
	// has been computed and the ledger must stay conservative.
	noised, err := e.noise.AddNoise(raw, q.sensitivity, req.Epsilon, q.delta)
	if err != nil {
		log.Errorf("Couldn't add noise to %v of dataset %q, nothing released: %v", req.Kind, req.Handle, err)
		if errors.Is(err, ErrRandomnessSource) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}

	id, err := uuid.NewRandom()
	if err != nil {
		log.Errorf("Couldn't draw a result ID for dataset %q, nothing released: %v", req.Handle, err)
		return nil, fmt.Errorf("%w: result id: %v", ErrRandomnessSource, err)
	}
	res = &NoisyResult{
		ID:          id,
		Handle:      req.Handle,
		Kind:        req.Kind,
		Value:       noised,
		Epsilon:     req.Epsilon,
		Delta:       q.delta,
		Noise:       e.opts.Noise,
		Sensitivity: q.sensitivity,
		CreatedAt:   e.opts.Clock(),
	}
	log.V(1).Infof("Released %v of dataset %q (query %s): ε=%g, spent %g after %d charges",
		req.Kind, req.Handle, res.ID, req.Epsilon, entry.Spent, entry.Charges)
	return res, nil
}

// Budget returns the ledger entry of handle without charging anything.
func (e *Engine) Budget(ctx context.Context, handle budget.Handle) (budget.Entry, error) {
	return e.opts.Ledger.Entry(ctx, handle)
}

// Datasets lists the handles that have been charged at least once.
func (e *Engine) Datasets(ctx context.Context) ([]budget.Handle, error) {
	return e.opts.Ledger.Handles(ctx)
}

// NoiseKind returns the noise distribution used by the engine.
func (e *Engine) NoiseKind() noise.Kind {
	return e.opts.Noise
}
