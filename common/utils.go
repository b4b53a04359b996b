/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package common

import (
	"math"
	"math/bits"
	"strconv"
)

// InvPow2 returns 2^(-e).
func InvPow2(e int) float64 {
	if (e | (1024 - e - 1)) < 0 {
		panic("e cannot be negative or greater than 1023: " + strconv.Itoa(e))
	}
	return math.Float64frombits((1023 - uint64(e)) << 52)
}

// CeilPowerOf2 returns the smallest power of 2 greater than or equal to n.
func CeilPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	topIntPwrOf2 := 1 << 30
	if n >= topIntPwrOf2 {
		return topIntPwrOf2
	}
	return int(math.Pow(2, math.Ceil(math.Log2(float64(n)))))
}

// CeilingPowerOf2 is an alias of CeilPowerOf2 kept for call sites that spell
// it out in full.
func CeilingPowerOf2(n int) int {
	return CeilPowerOf2(n)
}

// InverseGoldenU64 is the 64-bit fixed-point inverse golden ratio
// (floor(0.6180339887498949 * 2^64)). Adding it repeatedly to a counter
// produces a low-discrepancy pseudo-random stream of uint64 test keys, the
// same role Knuth's multiplicative hash constant plays in splitmix-style
// generators.
const InverseGoldenU64 = uint64(0x9E3779B97F4A7C15)

// PowerSeriesNextDouble returns the next point after curPoint in a
// power-series sequence with ppo (points-per-octave) points per factor of
// logBase, rounding each candidate to the nearest integer before comparing
// it to curPoint so that consecutive calls never repeat a value.
func PowerSeriesNextDouble(ppo int, curPoint float64, roundToLong bool, logBase float64) float64 {
	cur := curPoint
	if cur < 1.0 {
		cur = 1.0
	}
	gi := math.Round(math.Log(cur) / math.Log(logBase) * float64(ppo))
	var next float64
	for {
		gi++
		next = math.Pow(logBase, gi/float64(ppo))
		if math.Round(next) > math.Round(cur) {
			break
		}
	}
	if roundToLong {
		return math.Round(next)
	}
	return next
}

func ExactLog2OfLong(powerOf2 uint64) int {
	if !isLongPowerOf2(powerOf2) {
		panic("Argument 'powerOf2' must be a positive power of 2.")
	}
	return bits.TrailingZeros64(powerOf2)
}

// isLongPowerOf2 returns true if the given number is a power of 2.
func isLongPowerOf2(powerOf2 uint64) bool {
	return powerOf2 > 0 && (powerOf2&(powerOf2-1)) == 0
}

func BoolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
