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

	"github.com/google/differential-privacy/dpengine/checks"
	"github.com/google/differential-privacy/dpengine/rand"
)

// granularityParam determines the resolution of the numerical noise that is
// being generated relative to the sensitivity and privacy parameter epsilon.
// Larger values result in more fine grained noise, but increase the chance of
// sampling inaccuracies due to overflows. The probability of an overflow is less
// than 2⁻¹⁰⁰⁰, if the granularity parameter is set to a value of 2⁴⁰ or less and
// epsilon is at least 2⁻⁵⁰.
//
// This parameter should be a power of 2.
var granularityParam = math.Exp2(40)

type laplace struct{}

// Laplace returns a Noise instance that adds zero-centred Laplace noise of
// scale b = sensitivity/ε to its input. Its methods fail if called with a
// non-zero delta.
//
// The noise is sampled as a two-sided geometric variable on a power-of-two
// grid, which is robust against unintentional privacy leaks due to artifacts
// of floating point arithmetic.
func Laplace() Noise {
	return laplace{}
}

// AddNoise adds Laplace noise to x so that the output is ε-differentially
// private given the sensitivity of x.
func (laplace) AddNoise(x, sensitivity, epsilon, delta float64) (float64, error) {
	if err := checkArgsLaplace(sensitivity, epsilon, delta); err != nil {
		return 0, err
	}
	return addLaplace(x, epsilon, sensitivity)
}

// Scale returns b = sensitivity/ε.
func (laplace) Scale(sensitivity, epsilon, delta float64) (float64, error) {
	if err := checkArgsLaplace(sensitivity, epsilon, delta); err != nil {
		return 0, err
	}
	return laplaceLambda(sensitivity, epsilon), nil
}

// ComputeConfidenceInterval computes a confidence interval that contains the
// raw value x from which noisedX is computed with a probability equal to
// 1 - alpha.
func (laplace) ComputeConfidenceInterval(noisedX, sensitivity, epsilon, delta, alpha float64) (ConfidenceInterval, error) {
	if err := checks.CheckAlpha(alpha); err != nil {
		return ConfidenceInterval{}, err
	}
	if err := checkArgsLaplace(sensitivity, epsilon, delta); err != nil {
		return ConfidenceInterval{}, err
	}
	return computeConfidenceIntervalLaplace(noisedX, laplaceLambda(sensitivity, epsilon), alpha), nil
}

func (laplace) String() string {
	return "Laplace Noise"
}

func checkArgsLaplace(sensitivity, epsilon, delta float64) error {
	if err := checks.CheckSensitivity(sensitivity); err != nil {
		return err
	}
	if err := checks.CheckEpsilonVeryStrict(epsilon); err != nil {
		return err
	}
	if err := checks.CheckNoDelta(delta); err != nil {
		return err
	}
	lambda := laplaceLambda(sensitivity, epsilon)
	return checkGranularity(lambda, laplaceGranularity(lambda))
}

// laplaceGranularity returns the power-of-two grid on which noise of scale
// lambda is sampled.
func laplaceGranularity(lambda float64) float64 {
	return ceilPowerOfTwo(lambda / granularityParam)
}

// addLaplace adds Laplace noise scaled to the given epsilon and sensitivity
// to x.
func addLaplace(x, epsilon, sensitivity float64) (float64, error) {
	granularity := laplaceGranularity(laplaceLambda(sensitivity, epsilon))
	sample, err := twoSidedGeometric(granularity * epsilon / (sensitivity + granularity))
	if err != nil {
		return 0, err
	}
	return checkReleased(roundToMultipleOfPowerOfTwo(x, granularity) + float64(sample)*granularity)
}

// laplaceLambda computes the scale parameter λ of the Laplace distribution
// required for ε-differential privacy.
func laplaceLambda(sensitivity, epsilon float64) float64 {
	return sensitivity / epsilon
}

func computeConfidenceIntervalLaplace(noisedX float64, lambda, alpha float64) ConfidenceInterval {
	z := inverseCDFLaplace(lambda, alpha/2)
	// By symmetry -z is the (1 - alpha/2)-quantile. alpha/2 is represented
	// more accurately than 1 - alpha/2 for small alpha.
	return ConfidenceInterval{LowerBound: noisedX + z, UpperBound: noisedX - z}
}

// inverseCDFLaplace computes the quantile z satisfying Pr[Y <= z] = p for a random variable Y
// that is Laplace distributed with the specified lambda where mean is zero.
func inverseCDFLaplace(lambda, p float64) float64 {
	if p < 0.5 {
		return lambda * math.Log(2*p)
	}
	return -lambda * math.Log(2*(1-p))
}

// geometric draws a sample drawn from a geometric distribution with parameter
//
//	p = 1 - e^-λ.
//
// More precisely, it returns the number of Bernoulli trials until the first success
// where the success probability is p = 1 - e^-λ. The returned sample is truncated
// to the max int64 value.
//
// Note that to ensure that a truncation happens with probability less than 10⁻⁶,
// λ must be greater than 2⁻⁵⁹.
func geometric(lambda float64) (int64, error) {
	u, err := rand.Uniform()
	if err != nil {
		return 0, err
	}
	if u > -1.0*math.Expm1(-1.0*lambda*math.MaxInt64) {
		return math.MaxInt64, nil
	}

	// Binary search over (left, right]. Each iteration keeps the left or the
	// right half according to the probability mass it holds.
	var left int64 = 0
	var right int64 = math.MaxInt64

	for left+1 < right {
		// The midpoint splits the probability mass of the interval roughly in
		// half, which is at or below the arithmetic mean of the interval.
		mid := left - int64(math.Floor((math.Log(0.5)+math.Log1p(math.Exp(lambda*float64(left-right))))/lambda))
		if mid <= left {
			mid = left + 1
		} else if mid >= right {
			mid = right - 1
		}

		// q = Pr[X ≤ mid | left < X ≤ right], approximately one half.
		q := math.Expm1(lambda*float64(left-mid)) / math.Expm1(lambda*float64(left-right))
		u, err := rand.Uniform()
		if err != nil {
			return 0, err
		}
		if u <= q {
			right = mid
		} else {
			left = mid
		}
	}
	return right, nil
}

// twoSidedGeometric draws a sample from a geometric distribution that is
// mirrored at 0. The non-negative part of the distribution's PDF matches
// the PDF of a geometric distribution of parameter p = 1 - e^-λ that is
// shifted to the left by 1 and scaled accordingly.
func twoSidedGeometric(lambda float64) (int64, error) {
	var sample int64 = 0
	var sign int64 = -1
	// A zero is only kept with a positive sign, otherwise 0 would be twice
	// as likely as it should be.
	for sample == 0 && sign == -1 {
		g, err := geometric(lambda)
		if err != nil {
			return 0, err
		}
		s, err := rand.Sign()
		if err != nil {
			return 0, err
		}
		sample = g - 1
		sign = int64(s)
	}
	return sample * sign, nil
}
