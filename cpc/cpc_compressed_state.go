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
	"fmt"

	"github.com/apache/datasketches-go/internal"
)

type CpcCompressedState struct {
	CsvIsValid    bool
	WindowIsValid bool
	LgK           int
	SeedHash      int16
	FiCol         int
	MergeFlag     bool // compliment of HIP Flag
	NumCoupons    uint64

	Kxp         float64
	HipEstAccum float64

	NumCsv        uint64
	CsvStream     []int // may be longer than required
	CsvLengthInts int
	CwStream      []int // may be longer than required
	CwLengthInts  int
}

var (
	// This defines the preamble space required by each of the formats in units of 4-byte integers.
	preIntsDefs = []byte{2, 2, 4, 8, 4, 8, 6, 10}
)

func NewCpcCompressedState(lgK int, seedHash int16) *CpcCompressedState {
	return &CpcCompressedState{
		LgK:      lgK,
		SeedHash: seedHash,
		Kxp:      float64(int(1) << lgK),
	}
}

func (c *CpcCompressedState) getRequiredSerializedBytes() int {
	preInts := getDefinedPreInts(c.getFormat())
	return 4 * (preInts + c.CsvLengthInts + c.CwLengthInts)
}

func (c *CpcCompressedState) getWindowOffset() int {
	return determineCorrectOffset(c.LgK, c.NumCoupons)
}

func (c *CpcCompressedState) getFormat() CpcFormat {
	ordinal := 0
	if c.CwLengthInts > 0 {
		ordinal |= 4
	}
	if c.NumCsv > 0 {
		ordinal |= 2
	}
	if !c.MergeFlag {
		ordinal |= 1
	}
	return CpcFormat(ordinal)
}

// NewCpcCompressedStateFromSketch derives a compressed-state view of a live
// sketch's payload, ready for exportToMemory. The sparse/hybrid flavors
// always flatten their entire coupon set into the CSV stream (there is
// never a separate window stream for them); pinned/sliding flavors always
// serialize the window as the CW stream, plus any residual pair-table
// entries as a second CSV stream.
func NewCpcCompressedStateFromSketch(sk *CpcSketch) (*CpcCompressedState, error) {
	seedHash, err := internal.ComputeSeedHash(int64(sk.seed))
	if err != nil {
		return nil, err
	}
	state := NewCpcCompressedState(sk.lgK, seedHash)
	state.MergeFlag = sk.mergeFlag
	state.FiCol = sk.fiCol
	state.NumCoupons = sk.numCoupons
	state.Kxp = sk.kxp
	state.HipEstAccum = sk.hipEstAccum

	flavor := sk.getFlavor()
	if flavor == CpcFlavorEmpty {
		return state, nil
	}

	if flavor == CpcFlavorSparse || flavor == CpcFlavorHybrid {
		coupons := sk.flatCoupons()
		words := riceEncodePairs(coupons, sk.lgK)
		ints := wordsToInts(words)
		state.CsvIsValid = true
		state.NumCsv = uint64(len(coupons))
		state.CsvStream = ints
		state.CsvLengthInts = len(ints)
		return state, nil
	}

	// PINNED or SLIDING: always has a window.
	cwInts := packWindowToInts(sk.slidingWindow)
	state.WindowIsValid = true
	state.CwStream = cwInts
	state.CwLengthInts = len(cwInts)

	if sk.pairTable != nil && sk.pairTable.numPairs > 0 {
		residual := residualCoupons(sk.pairTable)
		words := riceEncodePairs(residual, sk.lgK)
		ints := wordsToInts(words)
		state.CsvIsValid = true
		state.NumCsv = uint64(len(residual))
		state.CsvStream = ints
		state.CsvLengthInts = len(ints)
	}
	return state, nil
}

// exportToMemory serializes this compressed state into its wire image, one
// of the eight formats enumerated by CpcFormat.
func (c *CpcCompressedState) exportToMemory() ([]byte, error) {
	format := c.getFormat()
	mem := make([]byte, c.getRequiredSerializedBytes())
	var err error
	switch format {
	case CpcFormatEmptyMerged:
		err = putEmptyMerged(mem, c.LgK, c.SeedHash)
	case CpcFormatEmptyHip:
		err = putEmptyHip(mem, c.LgK, c.SeedHash)
	case CpcFormatSparseHybridMerged:
		err = putSparseHybridMerged(mem, c.LgK, int(c.NumCoupons), c.CsvLengthInts, c.SeedHash, c.CsvStream)
	case CpcFormatSparseHybridHip:
		err = putSparseHybridHip(mem, c.LgK, int(c.NumCoupons), c.CsvLengthInts, c.Kxp, c.HipEstAccum, c.SeedHash, c.CsvStream)
	case CpcFormatPinnedSlidingMergedNosv:
		err = putPinnedSlidingMergedNoSv(mem, c.LgK, c.FiCol, int(c.NumCoupons), c.CwLengthInts, c.SeedHash, c.CwStream)
	case CpcFormatPinnedSlidingHipNosv:
		err = putPinnedSlidingHipNoSv(mem, c.LgK, c.FiCol, int(c.NumCoupons), c.CwLengthInts, c.Kxp, c.HipEstAccum, c.SeedHash, c.CwStream)
	case CpcFormatPinnedSlidingMerged:
		err = putPinnedSlidingMerged(mem, c.LgK, c.FiCol, int(c.NumCoupons), int(c.NumCsv), c.CsvLengthInts, c.CwLengthInts, c.SeedHash, c.CsvStream, c.CwStream)
	case CpcFormatPinnedSlidingHip:
		err = putPinnedSlidingHip(mem, c.LgK, c.FiCol, int(c.NumCoupons), int(c.NumCsv), c.Kxp, c.HipEstAccum, c.CsvLengthInts, c.CwLengthInts, c.SeedHash, c.CsvStream, c.CwStream)
	default:
		return nil, fmt.Errorf("unexpected format: %s", format.String())
	}
	if err != nil {
		return nil, err
	}
	return mem, nil
}

// uncompressSketch is the free-function form of (*CpcCompressedState).uncompress,
// used by callers that only hold the state and a seed.
func uncompressSketch(state *CpcCompressedState, seed uint64) (*CpcSketch, error) {
	return state.uncompress(seed)
}

// uncompress inflates this compressed state back into a live sketch.
// Grounded on fm85.cpp's uncompress: the format-defined streams are decoded
// back into a flat coupon list and/or a window, then replayed through the
// same reconstructFromMatrix helper modifyOffset and the union's get-result
// path use, so every path that turns a bit matrix back into a window +
// pair table shares one implementation.
func (c *CpcCompressedState) uncompress(seed uint64) (*CpcSketch, error) {
	seedHash, err := internal.ComputeSeedHash(int64(seed))
	if err != nil {
		return nil, err
	}
	if seedHash != c.SeedHash {
		return nil, fmt.Errorf("seed hash mismatch: sketch was serialized with a different seed")
	}

	sketch, err := NewCpcSketch(c.LgK, seed)
	if err != nil {
		return nil, err
	}
	sketch.numCoupons = c.NumCoupons
	sketch.fiCol = c.FiCol
	sketch.mergeFlag = c.MergeFlag
	sketch.kxp = c.Kxp
	sketch.hipEstAccum = c.HipEstAccum
	sketch.slidingWindow = nil
	sketch.pairTable = nil

	flavor := determineFlavor(c.LgK, c.NumCoupons)
	if flavor == CpcFlavorEmpty {
		return sketch, nil
	}

	if flavor == CpcFlavorSparse || flavor == CpcFlavorHybrid {
		table, err := NewPairTable(minLgSparseSize, 6+c.LgK)
		if err != nil {
			return nil, err
		}
		if c.CsvIsValid {
			coupons := riceDecodePairs(intsToWords(c.CsvStream), int(c.NumCsv), c.LgK)
			for _, rowCol := range coupons {
				if _, err := table.maybeInsert(rowCol); err != nil {
					return nil, err
				}
			}
		}
		sketch.pairTable = table
		if flavor == CpcFlavorHybrid {
			matrix, err := sketch.bitMatrixOfSketch()
			if err != nil {
				return nil, err
			}
			sketch.slidingWindow, sketch.pairTable, _, err = reconstructFromMatrix(matrix, c.LgK, 0)
			if err != nil {
				return nil, err
			}
		}
		return sketch, nil
	}

	// PINNED or SLIDING: reconstruct window + residual table from the
	// decoded streams by replaying them through a temporary bit matrix.
	sketch.windowOffset = c.getWindowOffset()
	k := 1 << uint(c.LgK)
	matrix := make([]uint64, k)
	offset := sketch.windowOffset
	if c.WindowIsValid {
		window := unpackWindowFromInts(c.CwStream, k)
		for row := 0; row < k; row++ {
			matrix[row] |= uint64(window[row]) << uint(offset)
		}
	}
	if offset > 0 {
		defaultBits := (uint64(1) << uint(offset)) - 1
		for row := range matrix {
			matrix[row] |= defaultBits
		}
	}
	if c.CsvIsValid {
		residual := riceDecodePairs(intsToWords(c.CsvStream), int(c.NumCsv), c.LgK)
		for _, rowCol := range residual {
			row := rowCol >> 6
			col := rowCol & 63
			matrix[row] ^= uint64(1) << uint(col)
		}
	}
	window, table, fiCol, err := reconstructFromMatrix(matrix, c.LgK, offset)
	if err != nil {
		return nil, err
	}
	sketch.slidingWindow = window
	sketch.pairTable = table
	sketch.fiCol = fiCol
	return sketch, nil
}

func importFromMemory(bytes []byte) (*CpcCompressedState, error) {
	if err := checkLoPreamble(bytes); err != nil {
		return nil, err
	}
	if !isCompressed(bytes) {
		return nil, fmt.Errorf("not compressed")
	}
	lgK := getLgK(bytes)
	seedHash := getSeedHash(bytes)
	state := NewCpcCompressedState(lgK, seedHash)
	fmtOrd := getFormatOrdinal(bytes)
	format := CpcFormat(fmtOrd)
	state.MergeFlag = (fmtOrd & 1) == 0
	state.CsvIsValid = (fmtOrd & 2) > 0
	state.WindowIsValid = (fmtOrd & 4) > 0

	switch format {
	case CpcFormatEmptyMerged, CpcFormatEmptyHip:
		if err := checkCapacity(len(bytes), 8); err != nil {
			return nil, err
		}
	case CpcFormatSparseHybridMerged:
		state.NumCoupons = getNumCoupons(bytes)
		state.NumCsv = state.NumCoupons
		state.CsvLengthInts = getSvLengthInts(bytes)
		if err := checkCapacity(len(bytes), state.getRequiredSerializedBytes()); err != nil {
			return nil, err
		}
		state.CsvStream = getSvStream(bytes)
	case CpcFormatSparseHybridHip:
		state.NumCoupons = getNumCoupons(bytes)
		state.NumCsv = state.NumCoupons
		state.CsvLengthInts = getSvLengthInts(bytes)
		state.Kxp = getKxP(bytes)
		state.HipEstAccum = getHipAccum(bytes)
		if err := checkCapacity(len(bytes), state.getRequiredSerializedBytes()); err != nil {
			return nil, err
		}
		state.CsvStream = getSvStream(bytes)
	case CpcFormatPinnedSlidingMergedNosv:
		state.FiCol = getFiCol(bytes)
		state.NumCoupons = getNumCoupons(bytes)
		state.CwLengthInts = getWLengthInts(bytes)
		if err := checkCapacity(len(bytes), state.getRequiredSerializedBytes()); err != nil {
			return nil, err
		}
		state.CwStream = getWStream(bytes)
	case CpcFormatPinnedSlidingHipNosv:
		state.FiCol = getFiCol(bytes)
		state.NumCoupons = getNumCoupons(bytes)
		state.CwLengthInts = getWLengthInts(bytes)
		state.Kxp = getKxP(bytes)
		state.HipEstAccum = getHipAccum(bytes)
		if err := checkCapacity(len(bytes), state.getRequiredSerializedBytes()); err != nil {
			return nil, err
		}
		state.CwStream = getWStream(bytes)
	case CpcFormatPinnedSlidingMerged:
		state.FiCol = getFiCol(bytes)
		state.NumCoupons = getNumCoupons(bytes)
		state.NumCsv = getNumSV(bytes)
		state.CsvLengthInts = getSvLengthInts(bytes)
		state.CwLengthInts = getWLengthInts(bytes)
		if err := checkCapacity(len(bytes), state.getRequiredSerializedBytes()); err != nil {
			return nil, err
		}
		state.CwStream = getWStream(bytes)
		state.CsvStream = getSvStream(bytes)
	case CpcFormatPinnedSlidingHip:
		state.FiCol = getFiCol(bytes)
		state.NumCoupons = getNumCoupons(bytes)
		state.NumCsv = getNumSV(bytes)
		state.CsvLengthInts = getSvLengthInts(bytes)
		state.CwLengthInts = getWLengthInts(bytes)
		state.Kxp = getKxP(bytes)
		state.HipEstAccum = getHipAccum(bytes)
		if err := checkCapacity(len(bytes), state.getRequiredSerializedBytes()); err != nil {
			return nil, err
		}
		state.CwStream = getWStream(bytes)
		state.CsvStream = getSvStream(bytes)
	default:
		panic("not implemented")
	}
	return state, nil
}

func getDefinedPreInts(format CpcFormat) int {
	return int(preIntsDefs[format])
}
