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
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

	"github.com/twmb/murmur3"
)

// BitMatrix is a reference K x 64 bit-matrix tracker used by tests and by
// characterization tooling to cross-check the production sketch's
// sparse/windowed representation against the conceptual bit matrix it
// represents. It is not part of the hot update path.
type BitMatrix struct {
	lgK               int
	seed              uint64
	numCoupons        uint64
	bitMatrix         []uint64
	numCouponsInvalid bool
}

// NewBitMatrixWithSeed creates a BitMatrix with the given lgK and custom seed.
func NewBitMatrixWithSeed(lgK int, seed uint64) *BitMatrix {
	size := 1 << lgK
	return &BitMatrix{
		lgK:       lgK,
		seed:      seed,
		bitMatrix: make([]uint64, size),
	}
}

// Reset clears the entire bit matrix and the coupon count.
func (bm *BitMatrix) Reset() {
	for i := range bm.bitMatrix {
		bm.bitMatrix[i] = 0
	}
	bm.numCoupons = 0
	bm.numCouponsInvalid = false
}

// GetNumCoupons returns the number of set bits (coupons) in the matrix.
func (bm *BitMatrix) GetNumCoupons() uint64 {
	if bm.numCouponsInvalid {
		bm.numCoupons = countBitsSetInMatrix(bm.bitMatrix)
		bm.numCouponsInvalid = false
	}
	return bm.numCoupons
}

// GetMatrix returns the underlying array of 64-bit words storing the bits.
func (bm *BitMatrix) GetMatrix() []uint64 {
	return bm.bitMatrix
}

// Update hashes the given 64-bit datum and sets the corresponding bit.
func (bm *BitMatrix) Update(datum int64) {
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], uint64(datum))
	hashLo, hashHi := murmur3.SeedSum128(bm.seed, bm.seed, scratch[:])
	bm.hashUpdate(hashLo, hashHi)
}

func (bm *BitMatrix) hashUpdate(hash0, hash1 uint64) {
	rowCol := rowColFromTwoHashes(hash0, hash1, bm.lgK)
	row := rowCol >> 6
	col := rowCol & 63
	oldPattern := bm.bitMatrix[row]
	newPattern := oldPattern | (uint64(1) << uint(col))
	if newPattern != oldPattern {
		bm.numCoupons++
		bm.bitMatrix[row] = newPattern
	}
}

// warrenBitCount is the Hacker's Delight Figure 5-2 popcount used inside the
// carry-save-adder reduction below.
func warrenBitCount(i uint64) uint64 {
	i = i - ((i >> 1) & 0x5555555555555555)
	i = (i & 0x3333333333333333) + ((i >> 2) & 0x3333333333333333)
	i = (i + (i >> 4)) & 0x0f0f0f0f0f0f0f0f
	i = i + (i >> 8)
	i = i + (i >> 16)
	i = i + (i >> 32)
	return i & 0x7f
}

// countBitsSetInMatrix is a carry-save-adder based popcount processing 8
// words per iteration, grounded on fm85Util.cpp's countBitsSetInMatrix
// (itself Hacker's Delight Figure 5-9). bits.OnesCount64 already performs
// popcount in hardware on most platforms, but the CSA reduction is kept
// because the reference treats the bulk bit-matrix popcount used by the
// union's get_result path as a distinct, testable performance-sensitive
// operation (spec.md Testable Property 1 and the union get-result contract
// in spec.md 4.5) rather than an incidental implementation detail to
// silently swap out for a one-line stdlib loop.
// CountCoupons is the exported form of countBitsSetInMatrix, for callers
// outside the sketch/union hot paths that just want a matrix's coupon count.
func CountCoupons(a []uint64) uint64 {
	return countBitsSetInMatrix(a)
}

func countBitsSetInMatrix(a []uint64) uint64 {
	length := len(a)
	var ones, twos, fours, tot uint64
	i := 0
	for ; i+8 <= length; i += 8 {
		var twosA, twosB, foursA, foursB, eights uint64
		twosA, ones = csa(ones, a[i+0], a[i+1])
		twosB, ones = csa(ones, a[i+2], a[i+3])
		foursA, twos = csa(twos, twosA, twosB)

		twosA, ones = csa(ones, a[i+4], a[i+5])
		twosB, ones = csa(ones, a[i+6], a[i+7])
		foursB, twos = csa(twos, twosA, twosB)

		eights, fours = csa(fours, foursA, foursB)
		tot += warrenBitCount(eights)
	}
	tot = 8*tot + 4*warrenBitCount(fours) + 2*warrenBitCount(twos) + warrenBitCount(ones)
	for ; i < length; i++ {
		tot += uint64(bits.OnesCount64(a[i]))
	}
	return tot
}

// csa is one full-adder column of the carry-save-adder reduction:
// h,l = CSA(carryIn, b, c).
func csa(carryIn, b, c uint64) (h, l uint64) {
	u := carryIn ^ b
	v := c
	h = (carryIn & b) | (u & v)
	l = u ^ v
	return
}

// bitMatrixOfSketch materializes the conceptual K x 64 bit matrix that this
// sketch's live payload (sparse table and/or sliding window) represents.
// Grounded on fm85.cpp's bitMatrixOfSketch: the early zone up to
// windowOffset defaults to all-ones, the window is OR'd in at [offset,
// offset+8), and each surviving sparse pair XORs its bit (flipping a 1->0 in
// the early zone -- a "surprising zero" -- or a 0->1 elsewhere -- a
// "surprising one").
func (c *CpcSketch) bitMatrixOfSketch() ([]uint64, error) {
	k := 1 << c.lgK
	matrix := make([]uint64, k)
	offset := c.windowOffset
	if offset < 0 || offset > 56 {
		return nil, fmt.Errorf("corrupt windowOffset: %d", offset)
	}
	var defaultRow uint64
	if offset > 0 {
		defaultRow = (uint64(1) << uint(offset)) - 1
	}
	if defaultRow != 0 {
		for i := range matrix {
			matrix[i] = defaultRow
		}
	}
	if c.slidingWindow != nil {
		for i := 0; i < k; i++ {
			matrix[i] |= uint64(c.slidingWindow[i]) << uint(offset)
		}
	}
	if c.pairTable != nil {
		for _, rowCol := range c.pairTable.slotsArr {
			if rowCol != -1 {
				row := rowCol >> 6
				col := rowCol & 63
				matrix[row] ^= uint64(1) << uint(col)
			}
		}
	}
	return matrix, nil
}

// invPow2Tab[e] = 2^(-e), grounded on fm85Util.cpp's fillInvPow2Tab.
var invPow2Tab [256]float64

// kxpByteLookup[b] sums 2^-(col+1) over the columns 0..7 of byte b that are
// *unset* (note the inverted logic -- a zero bit means "not yet surprised"
// and contributes to kxp), grounded on fm85Util.cpp's fillKxpByteLookup.
var kxpByteLookup [256]float64

func init() {
	for e := 0; e < 256; e++ {
		invPow2Tab[e] = math.Pow(2.0, -float64(e))
	}
	for b := 0; b < 256; b++ {
		sum := 0.0
		for col := 0; col < 8; col++ {
			if (b>>uint(col))&1 == 0 {
				sum += invPow2Tab[col+1]
			}
		}
		kxpByteLookup[b] = sum
	}
}

// refreshKXP recovers the precision the running kxp double has shed over
// many incremental updates, by summing kxpByteLookup over all K*8 bytes of
// the materialized bit matrix. Grounded on fm85.cpp's refreshKXP: the
// per-byte-column partial sums are accumulated in reverse byte order
// (Horner's method) so that the least-significant byte columns, which
// contribute the largest terms, are added last and least corrupted by
// accumulated rounding error (spec.md Testable Property 4).
func (c *CpcSketch) refreshKXP(matrix []uint64) {
	k := 1 << uint(c.lgK)
	total := 0.0
	for j := 7; j >= 0; j-- {
		rowSum := 0.0
		for row := 0; row < k; row++ {
			b := byte(matrix[row] >> uint(8*j))
			rowSum += kxpByteLookup[b]
		}
		total = total*invPow2Tab[8] + rowSum
	}
	c.kxp = total
}

// reconstructFromMatrix rebuilds the windowed sliding-window + sparse-table
// payload at the given offset from a fully materialized bit matrix. Shared
// by (*CpcSketch).modifyOffset and the union's get-result reconstruction
// (spec.md 4.2 "modify-offset" and 4.5 "get-result"), since both perform
// exactly the same per-row window-extraction / early-zone-flip / residual-
// bit-enumeration procedure.
func reconstructFromMatrix(matrix []uint64, lgK, offset int) (window []byte, table *pairTable, fiCol int, err error) {
	k := 1 << uint(lgK)
	window = make([]byte, k)
	tableLgSize := lgK - 4
	if tableLgSize < 2 {
		tableLgSize = 2
	}
	table, err = NewPairTable(tableLgSize, 6+lgK)
	if err != nil {
		return nil, nil, 0, err
	}
	clearMask := ^(uint64(0xFF) << uint(offset))
	flipMask := uint64(0)
	if offset > 0 {
		flipMask = (uint64(1) << uint(offset)) - 1
	}
	var allSurprisesORed uint64
	for row := 0; row < k; row++ {
		pattern := matrix[row]
		window[row] = byte((pattern >> uint(offset)) & 0xFF)
		pattern &= clearMask
		pattern ^= flipMask // flips surprising 0's to 1's in the early zone.
		allSurprisesORed |= pattern
		for pattern != 0 {
			col := bits.TrailingZeros64(pattern)
			pattern ^= uint64(1) << uint(col)
			rowCol := (row << 6) | col
			isNovel, ierr := table.maybeInsert(rowCol)
			if ierr != nil {
				return nil, nil, 0, ierr
			}
			if !isNovel {
				return nil, nil, 0, errIsNovelViolated
			}
		}
	}
	fiCol = bits.TrailingZeros64(allSurprisesORed)
	if fiCol > offset {
		fiCol = offset
	}
	return window, table, fiCol, nil
}
