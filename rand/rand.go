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

// Package rand provides methods for generating random numbers from
// distributions useful for the differential privacy engine.
//
// All randomness is read from crypto/rand. There is no fallback to a
// general-purpose pseudo-random generator: if the cryptographic source
// fails, every function returns an error wrapping ErrRandomnessSource.
package rand

import (
	"bufio"
	cryptorand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/bits"
	"sync"

	log "github.com/golang/glog"
)

// ErrRandomnessSource is returned when the cryptographic random source
// cannot supply bytes.
var ErrRandomnessSource = errors.New("cryptographic randomness source failure")

const bufSize = 65536

var (
	randBufLock sync.Mutex
	randBuf     io.Reader = bufio.NewReaderSize(cryptorand.Reader, bufSize)

	randBitLock sync.Mutex
	randBitBuf  uint8
	randBitPos  int8 = math.MaxInt8
)

// SetSourceForTesting replaces the underlying random source with r and
// returns a function restoring the crypto/rand source. It must only be used
// in tests, e.g. to simulate an unavailable source.
func SetSourceForTesting(r io.Reader) (restore func()) {
	randBufLock.Lock()
	prev := randBuf
	randBuf = r
	randBufLock.Unlock()
	resetBits()
	return func() {
		randBufLock.Lock()
		randBuf = prev
		randBufLock.Unlock()
		resetBits()
	}
}

func resetBits() {
	randBitLock.Lock()
	randBitBuf = 0
	randBitPos = math.MaxInt8
	randBitLock.Unlock()
}

func readRandBuf(b []byte) error {
	randBufLock.Lock()
	defer randBufLock.Unlock()
	if _, err := io.ReadFull(randBuf, b); err != nil {
		log.Errorf("reading from the random source failed: %v", err)
		return fmt.Errorf("%w: %v", ErrRandomnessSource, err)
	}
	return nil
}

// U64 returns a uniformly random uint64.
func U64() (uint64, error) {
	var r [8]uint8
	if err := readRandBuf(r[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(r[:]), nil
}

// U8 returns a uniformly random uint8.
func U8() (uint8, error) {
	var r [1]uint8
	if err := readRandBuf(r[:]); err != nil {
		return 0, err
	}
	return r[0], nil
}

// Sign returns +1.0 or -1.0 with equal probabilities.
func Sign() (float64, error) {
	b, err := Boolean()
	if err != nil {
		return 0, err
	}
	if b {
		return 1.0, nil
	}
	return -1.0, nil
}

// Boolean returns true or false with equal probability.
func Boolean() (bool, error) {
	randBitLock.Lock()
	defer randBitLock.Unlock()
	if randBitPos > 7 { // Out of random bits.
		b, err := U8()
		if err != nil {
			return false, err
		}
		randBitBuf = b
		randBitPos = 0
	}
	res := randBitBuf&(1<<randBitPos) > 0
	randBitPos++
	return res, nil
}

// I63n returns an integer from the set {0,...,n-1} uniformly at random.
// The value of n must be positive.
func I63n(n int64) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("I63n: n is %d, must be positive", n)
	}
	largestMultipleOfN := (math.MaxInt64 / n) * n
	for {
		u, err := U64()
		if err != nil {
			return 0, err
		}
		// Set sign bit to 0.
		positiveRandomInteger := int64(u) & 0x7fffffffffffffff
		if positiveRandomInteger < largestMultipleOfN {
			return positiveRandomInteger % n, nil
		}
	}
}

// Uniform returns a float64 from the interval (0,1] such that each float
// in the interval is returned with positive probability and the resulting
// distribution simulates a continuous uniform distribution on (0, 1].
func Uniform() (float64, error) {
	u, err := U64()
	if err != nil {
		return 0, err
	}
	g, err := Geometric()
	if err != nil {
		return 0, err
	}
	i := u % (1 << 53)
	r := (1 + float64(i)/(1<<53)) / math.Pow(2, g)
	// Callers take the log of the output, so 0 is never returned.
	if r == 0 {
		return 1, nil
	}
	return r, nil
}

// Geometric returns a float64 that counts the number of Bernoulli trials until
// the first success for a success probability of 0.5.
func Geometric() (float64, error) {
	// 1 plus the number of leading zeros from an infinite stream of random bits
	// follows the desired geometric distribution.
	b := 1
	var r uint8
	for r == 0 {
		var err error
		if r, err = U8(); err != nil {
			return 0, err
		}
		b += bits.LeadingZeros8(r)
	}
	return float64(b), nil
}
