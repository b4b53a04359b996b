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

// Package cpc is dedicated to the Compressed Probabilistic Counting sketch,
// a compact streaming distinct-count estimator that supports mergeable
// multi-source aggregation and a bit-exact compressed serialized form.
package cpc

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/apache/datasketches-go/internal"
)

const (
	minLgK          = 4
	maxLgK          = 26
	minLgSparseSize = 2
)

// CpcSketch is a Compressed Probabilistic Counting sketch: a streaming
// distinct-count estimator that keeps one "coupon" (row, column) pair per
// distinct item hashed into it, using far less memory than a full bit
// matrix by exploiting the predictable shape the coupon set takes on as it
// fills (spec.md 1, 3).
type CpcSketch struct {
	seed uint64

	//common variables
	lgK        int
	numCoupons uint64 // The number of coupons collected so far.
	mergeFlag  bool   // true once this sketch is the product of a merge (HIP tracking stops).
	fiCol      int    // First Interesting Column. This is part of a speed optimization.

	windowOffset  int
	slidingWindow []byte     //either nil or size K bytes
	pairTable     *pairTable //for sparse and surprising values, either nil or variable size

	//The following variables are only valid in HIP variants
	kxp         float64 //used with HIP
	hipEstAccum float64 //used with HIP
}

// NewCpcSketch constructs an empty sketch with 2^lgK rows and the given
// update seed; two sketches can only be unioned if their seeds match.
func NewCpcSketch(lgK int, seed uint64) (*CpcSketch, error) {
	if err := checkLgK(lgK); err != nil {
		return nil, err
	}

	return &CpcSketch{
		lgK:  lgK,
		seed: seed,
		kxp:  float64(int64(1) << uint(lgK)),
	}, nil
}

// NewCpcSketchWithDefault constructs an empty sketch using the library's
// default update seed.
func NewCpcSketchWithDefault(lgK int) (*CpcSketch, error) {
	return NewCpcSketch(lgK, internal.DEFAULT_UPDATE_SEED)
}

// getFormat derives which of the eight wire formats this live sketch's
// state corresponds to, mirroring CpcCompressedState.getFormat: for the
// sparse/hybrid flavors only the HIP bit varies (there is never a separate
// window stream), while for pinned/sliding it also depends on whether a
// window and/or a residual pair table are present.
func (c *CpcSketch) getFormat() CpcFormat {
	ordinal := 0
	f := c.getFlavor()
	if f == CpcFlavorHybrid || f == CpcFlavorSparse {
		ordinal = 2
		if !c.mergeFlag {
			ordinal |= 1
		}
	} else {
		ordinal = 0
		if c.slidingWindow != nil {
			ordinal |= 4
		}
		if c.pairTable != nil && c.pairTable.numPairs > 0 {
			ordinal |= 2
		}
		if !c.mergeFlag {
			ordinal |= 1
		}
	}
	return CpcFormat(ordinal)
}

// getFamily reports the sketch-family identifier this type serializes
// under, matching the value union/set-operation wire formats check the
// family byte against.
func (c *CpcSketch) getFamily() int {
	return internal.FamilyEnum.CPC.Id
}

// getFlavor reports which of the five representational regimes (spec.md 3)
// this sketch is currently in, purely as a function of lgK and numCoupons.
func (c *CpcSketch) getFlavor() CpcFlavor {
	return determineFlavor(c.lgK, c.numCoupons)
}

// GetLgK returns log2(K), the number of rows in the conceptual bit matrix.
func (c *CpcSketch) GetLgK() int {
	return c.lgK
}

// GetSeed returns the update seed this sketch hashes with.
func (c *CpcSketch) GetSeed() uint64 {
	return c.seed
}

// IsEmpty reports whether the sketch has never been updated.
func (c *CpcSketch) IsEmpty() bool {
	return c.numCoupons == 0
}

// Copy returns an independent deep copy of this sketch: mutating the copy
// (or continuing to update the original) never affects the other.
func (c *CpcSketch) Copy() (*CpcSketch, error) {
	cp := *c
	if c.slidingWindow != nil {
		cp.slidingWindow = append([]byte(nil), c.slidingWindow...)
	}
	if c.pairTable != nil {
		t := *c.pairTable
		t.slotsArr = append([]int(nil), c.pairTable.slotsArr...)
		cp.pairTable = &t
	}
	return &cp, nil
}

func (c *CpcSketch) reset() {
	c.numCoupons = 0
	c.mergeFlag = false
	c.fiCol = 0
	c.windowOffset = 0
	c.slidingWindow = nil
	c.pairTable = nil
	c.kxp = float64(int64(1) << uint(c.lgK))
	c.hipEstAccum = 0
}

func (c *CpcSketch) hash(b []byte) (uint64, uint64) {
	return hashOf(c.seed, b)
}

// UpdateUint64 hashes a uint64 datum and folds it into the sketch.
func (c *CpcSketch) UpdateUint64(datum uint64) error {
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], datum)
	return c.updateBytes(scratch[:])
}

// UpdateInt64 hashes an int64 datum and folds it into the sketch. -1
// stored as an int8, int16, int32, or int64 all hash identically, since
// they all sign-extend to the same 8-byte little-endian image.
func (c *CpcSketch) UpdateInt64(datum int64) error {
	return c.UpdateUint64(uint64(datum))
}

// UpdateFloat64 hashes a float64 datum and folds it into the sketch. Plus
// and minus zero are canonicalized to the same bit pattern first so that
// they are always counted as the same distinct value.
func (c *CpcSketch) UpdateFloat64(datum float64) error {
	if datum == 0 {
		datum = 0
	}
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], math.Float64bits(datum))
	return c.updateBytes(scratch[:])
}

// UpdateByteSlice hashes an arbitrary byte slice and folds it into the
// sketch. An empty or nil slice is a no-op.
func (c *CpcSketch) UpdateByteSlice(datum []byte) error {
	if len(datum) == 0 {
		return nil
	}
	return c.updateBytes(datum)
}

// UpdateString hashes a string datum and folds it into the sketch. An empty
// string is a no-op.
func (c *CpcSketch) UpdateString(datum string) error {
	if len(datum) == 0 {
		return nil
	}
	return c.updateBytes([]byte(datum))
}

// UpdateInt32Slice hashes a []int32 as a single datum (its little-endian
// byte image), not as one update per element, and folds it into the
// sketch. An empty or nil slice is a no-op.
func (c *CpcSketch) UpdateInt32Slice(datum []int32) error {
	if len(datum) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(datum))
	for i, v := range datum {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(v))
	}
	return c.updateBytes(buf)
}

// UpdateInt64Slice hashes a []int64 as a single datum (its little-endian
// byte image), not as one update per element, and folds it into the
// sketch. An empty or nil slice is a no-op.
func (c *CpcSketch) UpdateInt64Slice(datum []int64) error {
	if len(datum) == 0 {
		return nil
	}
	buf := make([]byte, 8*len(datum))
	for i, v := range datum {
		binary.LittleEndian.PutUint64(buf[8*i:], uint64(v))
	}
	return c.updateBytes(buf)
}

func (c *CpcSketch) updateBytes(b []byte) error {
	hash0, hash1 := c.hash(b)
	return c.hashUpdate(hash0, hash1)
}

// hashUpdate folds a pre-hashed 128-bit value directly into the sketch,
// bypassing the datum-to-hash step. Exposed for callers (and tests) that
// already have a hash pair in hand, e.g. when replaying a union's bit
// matrix back through a single sketch.
func (c *CpcSketch) hashUpdate(hash0, hash1 uint64) error {
	rowCol := rowColFromTwoHashes(hash0, hash1, c.lgK)
	return c.rowColUpdate(rowCol)
}

// rowColUpdate folds a single (row,col) coupon into the sketch, dispatching
// to the sparse or windowed representation per spec.md 4.2. This is also
// the entry point the union's table-walking merge path uses to replay a
// source sketch's coupons into a destination sketch one at a time.
func (c *CpcSketch) rowColUpdate(rowCol int) error {
	col := rowCol & 63
	if col < c.fiCol {
		return nil // fast, common path: definitely already known.
	}
	k := uint64(1) << uint(c.lgK)
	c32 := c.numCoupons << 5
	if c32 < 3*k {
		return c.updateSparse(rowCol)
	}
	return c.updateWindowed(rowCol)
}

func (c *CpcSketch) updateSparse(rowCol int) error {
	k := uint64(1) << uint(c.lgK)
	c32pre := c.numCoupons << 5
	if c32pre >= 3*k {
		return fmt.Errorf("internal error: updateSparse called beyond the sparse regime")
	}
	if c.pairTable == nil {
		table, err := NewPairTable(minLgSparseSize, 6+c.lgK)
		if err != nil {
			return err
		}
		c.pairTable = table
	}
	isNovel, err := c.pairTable.maybeInsert(rowCol)
	if err != nil {
		return err
	}
	if !isNovel {
		return nil
	}
	c.numCoupons++
	if err := c.updateHIP(rowCol); err != nil {
		return err
	}
	c32post := c.numCoupons << 5
	if c32post >= 3*k {
		return c.promoteSparseToWindowed()
	}
	return nil
}

func (c *CpcSketch) updateWindowed(rowCol int) error {
	if c.windowOffset < 0 || c.windowOffset > 56 {
		return fmt.Errorf("corrupt windowOffset: %d", c.windowOffset)
	}
	col := rowCol & 63
	row := rowCol >> 6
	var isNovel bool
	if col < c.windowOffset {
		// to the left of the window: normally already folded into the
		// default-one early zone, but a residual "surprising zero" can still
		// be sitting in the pair table if the window slid past it. Deleting
		// it here is what re-admits the coupon as novel.
		if c.pairTable != nil {
			deleted, err := c.pairTable.maybeDelete(rowCol)
			if err != nil {
				return err
			}
			isNovel = deleted
		}
	} else if col < c.windowOffset+8 {
		// falls inside the 8-bit sliding window itself.
		oldBits := c.slidingWindow[row]
		newBits := oldBits | (byte(1) << uint(col-c.windowOffset))
		isNovel = newBits != oldBits
		c.slidingWindow[row] = newBits
	} else {
		// falls to the right of the window: it is a "surprising" value, kept
		// in the pair table.
		if c.pairTable == nil {
			table, err := NewPairTable(2, 6+c.lgK)
			if err != nil {
				return err
			}
			c.pairTable = table
		}
		var err error
		isNovel, err = c.pairTable.maybeInsert(rowCol)
		if err != nil {
			return err
		}
	}
	if !isNovel {
		return nil
	}
	c.numCoupons++
	if err := c.updateHIP(rowCol); err != nil {
		return err
	}
	return c.maybeSlideWindow()
}

// maybeSlideWindow advances windowOffset one column at a time until it
// matches the offset the current coupon count calls for, per spec.md 4.2's
// PINNED/SLIDING window-tracking rule.
func (c *CpcSketch) maybeSlideWindow() error {
	for {
		desired := determineCorrectOffset(c.lgK, c.numCoupons)
		if desired <= c.windowOffset {
			return nil
		}
		if err := c.modifyOffset(c.windowOffset + 1); err != nil {
			return err
		}
	}
}

// updateHIP advances the Historic Inverse Probability estimator by one
// step, grounded on fm85.cpp's hipAndByteHistogramUpdate: 1/p is K divided
// by the current kxp (the running sum of 2^-col over never-yet-surprised
// columns), and kxp itself shrinks by the weight of the column this update
// just turned from "never surprised" to "surprised".
func (c *CpcSketch) updateHIP(rowCol int) error {
	if c.mergeFlag {
		return nil
	}
	col := rowCol & 63
	k := float64(int64(1) << uint(c.lgK))
	if c.kxp <= 0 {
		return nil
	}
	oneOverP := k / c.kxp
	c.hipEstAccum += oneOverP
	c.kxp -= invPow2Tab[col+1]
	return nil
}

// promoteSparseToWindowed converts a sparse-table sketch that has crossed
// the sparse/hybrid boundary into the windowed representation: a fresh
// zeroed sliding window at offset 0, plus a fresh pair table holding only
// the pairs whose column is at or past column 8 (spec.md 4.2).
func (c *CpcSketch) promoteSparseToWindowed() error {
	k := 1 << uint(c.lgK)
	oldTable := c.pairTable

	newWindow := make([]byte, k)
	newTableLgSize := max(c.lgK-4, 2)
	newTable, err := NewPairTable(newTableLgSize, 6+c.lgK)
	if err != nil {
		return err
	}

	for _, rowCol := range oldTable.slotsArr {
		if rowCol == -1 {
			continue
		}
		col := rowCol & 63
		if col < 8 {
			row := rowCol >> 6
			newWindow[row] |= byte(1) << uint(col)
		} else {
			newTable.mustInsert(rowCol)
			newTable.numPairs++
		}
	}
	c.slidingWindow = newWindow
	c.pairTable = newTable
	c.windowOffset = 0
	return nil
}

// modifyOffset rebuilds the sketch's windowed representation at a new
// windowOffset, grounded on fm85.cpp's modifyOffset: materialize the full
// bit matrix the current representation stands for, refresh kxp from it
// every 8-column slide for precision (spec.md Testable Property 4), then
// reconstruct the window + pair table pair at the new offset.
func (c *CpcSketch) modifyOffset(newOffset int) error {
	if newOffset < 0 || newOffset > 56 {
		return fmt.Errorf("illegal offset: %d", newOffset)
	}
	if newOffset != c.windowOffset+1 {
		return fmt.Errorf("modifyOffset must advance by exactly one column")
	}
	matrix, err := c.bitMatrixOfSketch()
	if err != nil {
		return err
	}
	if newOffset%8 == 0 {
		c.refreshKXP(matrix)
	}
	window, table, fiCol, err := reconstructFromMatrix(matrix, c.lgK, newOffset)
	if err != nil {
		return err
	}
	c.slidingWindow = window
	c.pairTable = table
	c.windowOffset = newOffset
	c.fiCol = fiCol
	return nil
}

// GetEstimate returns the best available cardinality estimate: the HIP
// accumulator while the sketch is still accumulating updates, or the
// post-hoc ICON estimator once it has been merged (spec.md 4.6).
func (c *CpcSketch) GetEstimate() float64 {
	if c.numCoupons == 0 {
		return 0.0
	}
	if !c.mergeFlag {
		return c.hipEstAccum
	}
	return iconEstimate(c.lgK, c.numCoupons)
}

// clampKappa restricts a confidence-bound multiplier to the 1..3 standard
// deviation range the ICON/HIP tables are defined over.
func clampKappa(kappa int) int {
	if kappa < 1 {
		return 1
	}
	if kappa > 3 {
		return 3
	}
	return kappa
}

// GetLowerBound returns the lower confidence bound at kappa standard
// deviations (1, 2, or 3).
func (c *CpcSketch) GetLowerBound(kappa int) float64 {
	kappa = clampKappa(kappa)
	if !c.mergeFlag {
		return hipConfidenceLB(c.lgK, c.numCoupons, c.hipEstAccum, kappa)
	}
	return iconConfidenceLB(c.lgK, c.numCoupons, kappa)
}

// GetUpperBound returns the upper confidence bound at kappa standard
// deviations (1, 2, or 3).
func (c *CpcSketch) GetUpperBound(kappa int) float64 {
	kappa = clampKappa(kappa)
	if !c.mergeFlag {
		return hipConfidenceUB(c.lgK, c.numCoupons, c.hipEstAccum, kappa)
	}
	return iconConfidenceUB(c.lgK, c.numCoupons, kappa)
}

// validate performs an expensive, debug-only self-check that the bit matrix
// materialized from this sketch's live representation has exactly
// numCoupons bits set. It is not called on any hot path.
func (c *CpcSketch) validate() error {
	matrix, err := c.bitMatrixOfSketch()
	if err != nil {
		return err
	}
	counted := countBitsSetInMatrix(matrix)
	if counted != c.numCoupons {
		return fmt.Errorf("validate: matrix has %d bits set, sketch claims %d coupons", counted, c.numCoupons)
	}
	return nil
}

// DebugString renders a short, human-oriented (not wire-compatible) summary
// of this sketch's internal state.
func (c *CpcSketch) DebugString() string {
	return fmt.Sprintf("CpcSketch{lgK=%d, flavor=%s, numCoupons=%d, windowOffset=%d, fiCol=%d, mergeFlag=%v}",
		c.lgK, c.getFlavor().String(), c.numCoupons, c.windowOffset, c.fiCol, c.mergeFlag)
}

// flatCoupons collects every (row,col) coupon this sketch currently holds,
// across both the sliding window and the pair table, as a single slice --
// the shared input the Golomb-Rice codec needs, since it codes a flat
// coupon list rather than the dual window/table representation.
func (c *CpcSketch) flatCoupons() []int {
	out := make([]int, 0, c.numCoupons)
	if c.slidingWindow != nil {
		k := 1 << uint(c.lgK)
		for row := 0; row < k; row++ {
			b := c.slidingWindow[row]
			for col := 0; col < 8; col++ {
				if b&(1<<uint(col)) != 0 {
					out = append(out, (row<<6)|(col+c.windowOffset))
				}
			}
		}
	}
	if c.pairTable != nil {
		for _, rowCol := range c.pairTable.slotsArr {
			if rowCol != -1 {
				out = append(out, rowCol)
			}
		}
	}
	return out
}

// residualCoupons collects only the (row,col) pairs held in a pair table,
// used when serializing the PINNED/SLIDING formats' separate residual CSV
// stream (the window itself is serialized separately as the CW stream).
func residualCoupons(t *pairTable) []int {
	if t == nil {
		return nil
	}
	out := make([]int, 0, t.numPairs)
	for _, rowCol := range t.slotsArr {
		if rowCol != -1 {
			out = append(out, rowCol)
		}
	}
	return out
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
