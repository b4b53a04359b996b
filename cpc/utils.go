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

package cpc

import "fmt"

type CpcFormat int
type CpcFlavor int

const (
	CpcFormatEmptyMerged             CpcFormat = 0
	CpcFormatEmptyHip                CpcFormat = 1
	CpcFormatSparseHybridMerged      CpcFormat = 2
	CpcFormatSparseHybridHip         CpcFormat = 3
	CpcFormatPinnedSlidingMergedNosv CpcFormat = 4
	CpcFormatPinnedSlidingHipNosv    CpcFormat = 5
	CpcFormatPinnedSlidingMerged     CpcFormat = 6
	CpcFormatPinnedSlidingHip        CpcFormat = 7
)

const (
	CpcFlavorEmpty   CpcFlavor = 0 //    0  == C <    1
	CpcFlavorSparse  CpcFlavor = 1 //    1  <= C <   3K/32
	CpcFlavorHybrid  CpcFlavor = 2 // 3K/32 <= C <   K/2
	CpcFlavorPinned  CpcFlavor = 3 //   K/2 <= C < 27K/8  [NB: 27/8 = 3 + 3/8]
	CpcFlavorSliding CpcFlavor = 4 // 27K/8 <= C
)

const (
	CpcDefaultUpdateSeed = 9001
)

func (f CpcFormat) String() string {
	switch f {
	case CpcFormatEmptyMerged:
		return "EMPTY_MERGED"
	case CpcFormatEmptyHip:
		return "EMPTY_HIP"
	case CpcFormatSparseHybridMerged:
		return "SPARSE_HYBRID_MERGED"
	case CpcFormatSparseHybridHip:
		return "SPARSE_HYBRID_HIP"
	case CpcFormatPinnedSlidingMergedNosv:
		return "PINNED_SLIDING_MERGED_NOSV"
	case CpcFormatPinnedSlidingHipNosv:
		return "PINNED_SLIDING_HIP_NOSV"
	case CpcFormatPinnedSlidingMerged:
		return "PINNED_SLIDING_MERGED"
	case CpcFormatPinnedSlidingHip:
		return "PINNED_SLIDING_HIP"
	default:
		return fmt.Sprintf("UNKNOWN_FORMAT(%d)", int(f))
	}
}

func (f CpcFlavor) String() string {
	switch f {
	case CpcFlavorEmpty:
		return "EMPTY"
	case CpcFlavorSparse:
		return "SPARSE"
	case CpcFlavorHybrid:
		return "HYBRID"
	case CpcFlavorPinned:
		return "PINNED"
	case CpcFlavorSliding:
		return "SLIDING"
	default:
		return fmt.Sprintf("UNKNOWN_FLAVOR(%d)", int(f))
	}
}

func checkLgK(lgK int) error {
	if lgK < minLgK || lgK > maxLgK {
		return fmt.Errorf("LgK must be >= %d and <= %d: %d", minLgK, maxLgK, lgK)
	}
	return nil
}

func checkLgSizeInts(lgSizeInts int) error {
	if lgSizeInts < 2 || lgSizeInts > 26 {
		return fmt.Errorf("Illegal LgSizeInts: %d", lgSizeInts)
	}
	return nil
}

// defaultLgK is the recommended lgK for callers with no specific precision
// or memory target in mind.
const defaultLgK = 11

// maxPreambleBytes is the widest defined wire preamble (PINNED_SLIDING_HIP,
// preIntsDefs[7] == 10 words).
const maxPreambleBytes = 4 * 10

// minMaxWindowBytes floors getMaxSerializedBytes' window-size term so that
// very small sketches (whose sparse table dominates the real worst case)
// aren't under-budgeted by the 0.6*K approximation.
const minMaxWindowBytes = 24

// getMaxSerializedBytes bounds how large a compressed image of a sketch
// with this lgK can ever be: the sliding window can occupy at most ~60% of
// K bytes in the worst case (an empirical bound on the PINNED/SLIDING
// regime, grounded on fm85Util.cpp's getMaxSerializedBytes), plus the
// widest possible preamble.
func getMaxSerializedBytes(lgK int) (int, error) {
	if err := checkLgK(lgK); err != nil {
		return 0, err
	}
	k := 1 << uint(lgK)
	windowBytes := int(0.6 * float64(k))
	if windowBytes < minMaxWindowBytes {
		windowBytes = minMaxWindowBytes
	}
	return windowBytes + maxPreambleBytes, nil
}

// determineCorrectOffset computes the windowOffset a sketch with the given
// lgK and coupon count must be at, grounded on fm85.cpp's
// determine_correct_offset: the window slides once every K coupons past
// the 19K/8 mark (spec.md 4.2's PINNED/SLIDING window-tracking rule).
func determineCorrectOffset(lgK int, numCoupons uint64) int {
	k := int64(1) << uint(lgK)
	tmp := int64(numCoupons)<<3 - 19*k
	if tmp < 0 {
		return 0
	}
	return int(tmp >> uint(lgK+3))
}

func determineFlavor(lgK int, numCoupons uint64) CpcFlavor {
	c := numCoupons
	k := uint64(1) << lgK
	c2 := c << 1
	c8 := c << 3
	c32 := c << 5
	if c == 0 {
		return CpcFlavorEmpty //    0  == C <    1
	}
	if c32 < (3 * k) {
		return CpcFlavorSparse //    1  <= C <   3K/32
	}
	if c2 < k {
		return CpcFlavorHybrid // 3K/32 <= C <   K/2
	}
	if c8 < (27 * k) {
		return CpcFlavorPinned //   K/2 <= C < 27K/8
	}
	return CpcFlavorSliding // 27K/8 <= C
}
