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

// Package noise contains methods to generate and add noise to data.
//
// Every mechanism draws its randomness from package rand, which reads
// crypto/rand. A mechanism never returns a value when the random source
// fails; the error wraps rand.ErrRandomnessSource instead.
package noise

import (
	"fmt"
	"strings"

	log "github.com/golang/glog"
)

// Kind is an enum type. Its values are the supported noise distributions types
// for differential privacy operations.
type Kind int

// Noise distributions used to achieve Differential Privacy.
const (
	LaplaceNoise Kind = iota
	GaussianNoise
	Unrecognised
)

func (k Kind) String() string {
	switch k {
	case LaplaceNoise:
		return "laplace"
	case GaussianNoise:
		return "gaussian"
	default:
		return "unrecognised"
	}
}

// ParseKind converts the name of a noise distribution, as used by the
// noise_distribution option, into a Kind.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "laplace":
		return LaplaceNoise, nil
	case "gaussian":
		return GaussianNoise, nil
	}
	return Unrecognised, fmt.Errorf("unknown noise distribution %q, must be one of laplace, gaussian", name)
}

// ToNoise converts a Kind into a Noise instance.
func ToNoise(k Kind) Noise {
	switch k {
	case GaussianNoise:
		return Gaussian()
	case LaplaceNoise:
		return Laplace()
	case Unrecognised:
		log.Warningf("ToNoise: Unrecognised noise specified, returning nil")
	default:
		log.Warningf("ToNoise: unknown kind (%v) specified, returning nil", k)
	}
	return nil
}

// ToKind converts a Noise instance into a Kind.
func ToKind(n Noise) Kind {
	switch n {
	case Gaussian():
		return GaussianNoise
	case Laplace():
		return LaplaceNoise
	case nil:
		log.Warningf("ToKind: nil noise specified, returning Unrecognised")
	default:
		log.Warningf("ToKind: unknown Noise (%v) specified, returning Unrecognised", n)
	}
	return Unrecognised
}

// ConfidenceInterval holds lower and upper bounds as float64 for the confidence interval.
type ConfidenceInterval struct {
	LowerBound, UpperBound float64
}

// Noise is an interface for primitives that add noise to a single numeric
// statistic to make it differentially private.
//
// sensitivity is the maximum amount a single record can change the
// statistic. For a scalar statistic its L1 and L2 sensitivities coincide.
type Noise interface {
	// AddNoise adds noise to x so that the output is (ε,δ)-differentially
	// private given the sensitivity of the statistic.
	AddNoise(x, sensitivity, epsilon, delta float64) (float64, error)

	// Scale returns the scale parameter of the noise distribution used for
	// the given parameters: b = sensitivity/ε for Laplace, σ for Gaussian.
	Scale(sensitivity, epsilon, delta float64) (float64, error)

	// ComputeConfidenceInterval computes a confidence interval that contains
	// the raw value x from which noisedX is computed with a probability equal
	// to 1 - alpha.
	ComputeConfidenceInterval(noisedX, sensitivity, epsilon, delta, alpha float64) (ConfidenceInterval, error)
}

// Privatize releases trueValue with Laplace noise of scale
// b = sensitivity/epsilon. The result is not clamped or rounded beyond the
// sampler's granularity.
func Privatize(trueValue, epsilon, sensitivity float64) (float64, error) {
	return Laplace().AddNoise(trueValue, sensitivity, epsilon, 0)
}
