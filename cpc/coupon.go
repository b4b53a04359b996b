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

import (
	"math/bits"

	"github.com/twmb/murmur3"
)

// rowColFromTwoHashes packs a 128-bit hash pair into a 32-bit (row, col)
// coupon for a sketch of the given lgK. Grounded on fm85.cpp's
// rowColFromTwoHashes: row = hash0 mod K, col = min(63, leadingZeros(hash1)+1).
// The reference's pair table reserves the 32-bit all-ones word 0xFFFFFFFF
// to mean "empty slot", so a coupon equal to it (reachable only at lgK 26,
// row K-1, col 63) has its row's bit nearest the column field flipped --
// this exact disambiguation must be reproduced for wire compatibility
// (spec.md Design Notes, "Coupon sentinel collision").
func rowColFromTwoHashes(hash0, hash1 uint64, lgK int) int {
	k := uint64(1) << uint(lgK)
	row := int(hash0 % k)
	col := bits.LeadingZeros64(hash1) + 1
	if col > 63 {
		col = 63
	}
	rowCol := (row << 6) | col
	if rowCol == 0xFFFFFFFF {
		row ^= 1 // flip the row bit nearest the column field
		rowCol = (row << 6) | col
	}
	return rowCol
}

// hashOf runs the module's single supported hash function (a 128-bit
// murmur3 variant) over arbitrary bytes, the same wrapper idiom used by
// hll.hllSketchState.hash.
func hashOf(seed uint64, b []byte) (hash0, hash1 uint64) {
	return murmur3.SeedSum128(seed, seed, b)
}
