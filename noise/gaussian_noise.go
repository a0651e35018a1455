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
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	// The square root of the maximum number n of Bernoulli trials from which a binomial
	// sample is drawn. Larger values result in more fine-grained noise, but increase the
	// chance of sampling inaccuracies due to overflows. The probability of such an event
	// will be roughly 2⁻⁴⁵ or less, if the square root is set to 2⁵⁷.
	binomialBound float64 = math.Exp2(57.0)
	// The absolute bound of the two-sided geometric samples k that are used for creating
	// a binomial sample is m + n / 2. m is obtained via rejection sampling, which sets
	//   m = (k + l) * (sqrt(2 * n) + 1),
	// where l is a uniform random sample between 0 and 1. Bounding k prevents m from
	// overflowing.
	geometricBound int64 = (math.MaxInt64 / int64(math.Round(math.Sqrt2*binomialBound+1.0))) - 1
	// gaussianSigmaAccuracy is the relative accuracy up to which the smallest sigma
	// satisfying the given DP parameters is approximated.
	gaussianSigmaAccuracy = 1e-3
)

type gaussian struct{}

// Gaussian returns a Noise instance that adds Gaussian noise to its input.
// It requires a delta in (0, 1).
//
// The Gaussian noise is based on a binomial sampling mechanism that is robust against
// unintentional privacy leaks due to artifacts of floating-point arithmetic.
func Gaussian() Noise {
	return gaussian{}
}

// AddNoise adds Gaussian noise to x, so that its output is
// (ε,δ)-differentially private.
func (gaussian) AddNoise(x, sensitivity, epsilon, delta float64) (float64, error) {
	sigma, err := gaussianSigma(sensitivity, epsilon, delta)
	if err != nil {
		return 0, err
	}
	return addGaussian(x, sigma)
}

// Scale returns the standard deviation σ of the added noise.
func (gaussian) Scale(sensitivity, epsilon, delta float64) (float64, error) {
	return gaussianSigma(sensitivity, epsilon, delta)
}

// ComputeConfidenceInterval computes a confidence interval that contains the
// raw value x from which noisedX is computed with a probability equal to
// 1 - alpha.
func (gaussian) ComputeConfidenceInterval(noisedX, sensitivity, epsilon, delta, alpha float64) (ConfidenceInterval, error) {
	if err := checks.CheckAlpha(alpha); err != nil {
		return ConfidenceInterval{}, err
	}
	sigma, err := gaussianSigma(sensitivity, epsilon, delta)
	if err != nil {
		return ConfidenceInterval{}, err
	}
	// Quantile of alpha/2 rather than 1 - alpha/2, see computeConfidenceIntervalLaplace.
	z := distuv.Normal{Mu: 0, Sigma: sigma}.Quantile(alpha / 2)
	return ConfidenceInterval{LowerBound: noisedX + z, UpperBound: noisedX - z}, nil
}

func (gaussian) String() string {
	return "Gaussian Noise"
}

func checkArgsGaussian(sensitivity, epsilon, delta float64) error {
	if err := checks.CheckSensitivity(sensitivity); err != nil {
		return err
	}
	if err := checks.CheckEpsilonStrict(epsilon); err != nil {
		return err
	}
	return checks.CheckDeltaStrict(delta)
}

// gaussianSigma checks the arguments and returns σ, failing if σ or its
// sampling granularity is not representable.
func gaussianSigma(sensitivity, epsilon, delta float64) (float64, error) {
	if err := checkArgsGaussian(sensitivity, epsilon, delta); err != nil {
		return 0, err
	}
	sigma := sigmaForGaussian(sensitivity, epsilon, delta)
	if err := checkGranularity(sigma, gaussianGranularity(sigma)); err != nil {
		return 0, err
	}
	return sigma, nil
}

func gaussianGranularity(sigma float64) float64 {
	return ceilPowerOfTwo(2.0 * sigma / binomialBound)
}

// addGaussian adds Gaussian noise of scale σ to the specified float64.
func addGaussian(x, sigma float64) (float64, error) {
	granularity := gaussianGranularity(sigma)

	// sqrtN lies between binomialBound / 2 and binomialBound, so the binomial
	// distribution consists of enough Bernoulli samples to closely
	// approximate a Gaussian.
	sqrtN := 2.0 * sigma / granularity
	sample, err := symmetricBinomial(sqrtN)
	if err != nil {
		return 0, err
	}
	return checkReleased(roundToMultipleOfPowerOfTwo(x, granularity) + float64(sample)*granularity)
}

// symmetricBinomial returns a random sample m where the term m + n / 2 is drawn from
// a binomial distribution of n Bernoulli trials that have a success probability of
// 0.5 each. The sampling technique is based on Bringmann et al.'s rejection sampling
// approach proposed in "Internal DLA: Efficient Simulation of a Physical Growth Model"
// (https://people.mpi-inf.mpg.de/~kbringma/paper/2014ICALP.pdf).
func symmetricBinomial(sqrtN float64) (int64, error) {
	stepSize := int64(math.Round(math.Sqrt2*sqrtN + 1.0))
	for {
		g, err := rand.Geometric()
		if err != nil {
			return 0, err
		}
		// The geometric sample counts trials; 1 is subtracted to count fails.
		boundedGeometricSample := int64(math.Min(g-1.0, float64(geometricBound)))
		twoSidedGeometricSample := boundedGeometricSample
		flip, err := rand.Boolean()
		if err != nil {
			return 0, err
		}
		if flip {
			twoSidedGeometricSample = -twoSidedGeometricSample - 1
		}

		offset, err := rand.I63n(stepSize)
		if err != nil {
			return 0, err
		}
		result := stepSize*twoSidedGeometricSample + offset
		resultProbability := binomialProbability(sqrtN, result)
		rejectProbability, err := rand.Uniform()
		if err != nil {
			return 0, err
		}
		if resultProbability > 0.0 &&
			rejectProbability < resultProbability*float64(stepSize)*math.Pow(2.0, float64(boundedGeometricSample))/4.0 {
			return result, nil
		}
	}
}

// binomialProbability approximates the probability of a random sample m + n / 2
// drawn from a binomial distribution of n Bernoulli trials that have a success
// probability of 1 / 2 each.
func binomialProbability(sqrtN float64, m int64) float64 {
	if math.Abs(float64(m)) > sqrtN*math.Sqrt(math.Log(sqrtN)/2.0) {
		return 0.0
	}
	return (math.Sqrt(2.0/math.Pi) / sqrtN) *
		math.Exp((-2.0*float64(m)*float64(m))/(sqrtN*sqrtN)) *
		(1 - 0.4*math.Pow(2.0, 1.5)*math.Pow(math.Log(sqrtN), 1.5)/sqrtN)
}

// deltaForGaussian computes the smallest δ such that the Gaussian mechanism
// with fixed standard deviation σ is (ε,δ)-differentially private, following
// Theorem 8 of Balle and Wang, "Improving the Gaussian Mechanism for
// Differential Privacy" (https://arxiv.org/abs/1805.06530v2):
//
//	δ(σ,s,ε) = Φ(s/(2σ) - εσ/s) - exp(ε)Φ(-s/(2σ) - εσ/s)
func deltaForGaussian(sigma, sensitivity, epsilon float64) float64 {
	a := sensitivity / (2 * sigma)
	b := epsilon * sigma / sensitivity
	c := math.Exp(epsilon)

	if math.IsInf(c, +1) || math.IsInf(b, +1) {
		return 0
	}
	return distuv.UnitNormal.CDF(a-b) - c*distuv.UnitNormal.CDF(-a-b)
}

// sigmaForGaussian calculates the standard deviation σ of Gaussian noise
// needed to achieve (ε,δ)-approximate differential privacy, by binary search.
// The result deviates from the tight value by at most gaussianSigmaAccuracy*σ.
func sigmaForGaussian(sensitivity, epsilon, delta float64) float64 {
	// deltaForGaussian is decreasing in σ. Start from the sensitivity and
	// double until the bound holds.
	upperBound := sensitivity
	var lowerBound float64
	for deltaForGaussian(upperBound, sensitivity, epsilon) > delta {
		lowerBound = upperBound
		upperBound = upperBound * 2
		if math.IsInf(upperBound, 1) {
			return upperBound
		}
	}

	for upperBound-lowerBound > gaussianSigmaAccuracy*lowerBound {
		middle := lowerBound*0.5 + upperBound*0.5
		// Adjacent subnormal bounds leave no float64 in between.
		if middle <= lowerBound || middle >= upperBound {
			break
		}
		if deltaForGaussian(middle, sensitivity, epsilon) > delta {
			lowerBound = middle
		} else {
			upperBound = middle
		}
	}
	return upperBound
}
