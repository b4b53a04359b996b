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

// CpcUnion accumulates coupons from many sketches into one, graduating from
// a live accumulator sketch to a raw bit matrix once the merged state has
// grown past SPARSE (spec.md 4.5).
type CpcUnion struct {
	seed uint64
	lgK  int

	// Note: at most one of bitMatrix and accumulator will be non-nil at any
	// given moment. accumulator is a sketch object that is employed until it
	// graduates out of Sparse mode. At that point, it is converted into a
	// full-sized bitMatrix, which is mathematically a sketch, but doesn't
	// maintain any of the "extra" fields of our sketch objects, so some
	// additional work is required when GetResult is called at the end.
	bitMatrix   []uint64
	accumulator *CpcSketch
}

func NewCpcUnionSketch(lgK int, seed uint64) (CpcUnion, error) {
	acc, err := NewCpcSketch(lgK, internal.DEFAULT_UPDATE_SEED)
	if err != nil {
		return CpcUnion{}, err
	}
	return CpcUnion{
		seed: seed,
		lgK:  lgK,
		// We begin with the accumulator holding an EMPTY_MERGED sketch object.
		// As an optimization the accumulator could start as nil, but that
		// would require changes elsewhere.
		accumulator: acc,
	}, nil
}

func NewCpcUnionSketchWithDefault(lgK int) (CpcUnion, error) {
	return NewCpcUnionSketch(lgK, internal.DEFAULT_UPDATE_SEED)
}

func (u *CpcUnion) GetFamilyId() int {
	return internal.FamilyEnum.CPC.Id
}

// Update folds one source sketch's coupons into the union.
func (u *CpcUnion) Update(source *CpcSketch) error {
	if err := checkSeeds(u.seed, source.seed); err != nil {
		return err
	}

	sourceFlavorOrd := source.getFlavor()
	if sourceFlavorOrd == CpcFlavorEmpty {
		return nil
	}

	// Accumulator and bitMatrix must be mutually exclusive,
	// so bitMatrix != nil => accumulator == nil and vice versa.
	if err := u.checkUnionState(); err != nil {
		return err
	}

	if source.lgK < u.lgK {
		if err := u.reduceUnionK(source.lgK); err != nil {
			return err
		}
	}

	// if source is past SPARSE mode, make sure that union is a bitMatrix.
	if sourceFlavorOrd > CpcFlavorSparse && u.accumulator != nil {
		matrix, err := u.accumulator.bitMatrixOfSketch()
		if err != nil {
			return err
		}
		u.bitMatrix = matrix
		u.accumulator = nil
	}

	state := (sourceFlavorOrd - 1) << 1
	if u.bitMatrix != nil {
		state |= 1
	}

	switch state {
	case 0: //A: Sparse, bitMatrix == nil, accumulator valid
		if u.accumulator == nil {
			return fmt.Errorf("union accumulator cannot be nil")
		}
		if u.accumulator.getFlavor() == CpcFlavorEmpty && u.lgK == source.lgK {
			cp, err := source.Copy()
			if err != nil {
				return err
			}
			u.accumulator = cp
			break
		}
		if err := walkTableUpdatingSketch(u.accumulator, source.pairTable, u.lgK); err != nil {
			return err
		}
		// if the accumulator has graduated beyond sparse, switch union to a bitMatrix
		if u.accumulator.getFlavor() > CpcFlavorSparse {
			matrix, err := u.accumulator.bitMatrixOfSketch()
			if err != nil {
				return err
			}
			u.bitMatrix = matrix
			u.accumulator = nil
		}
	case 1: //B: Sparse, bitMatrix valid, accumulator == nil
		u.orTableIntoMatrix(source.pairTable)
	case 3, 5:
		//C: Hybrid, bitMatrix valid, accumulator == nil
		//C: Pinned, bitMatrix valid, accumulator == nil
		u.orWindowIntoMatrix(source.slidingWindow, source.windowOffset, source.lgK)
		u.orTableIntoMatrix(source.pairTable)
	case 7: //D: Sliding, bitMatrix valid, accumulator == nil
		// SLIDING mode involves inverted logic, so we can't just walk the source sketch.
		// Instead, we convert it to a bitMatrix that can be OR'ed into the destination.
		sourceMatrix, err := source.bitMatrixOfSketch()
		if err != nil {
			return err
		}
		u.orMatrixIntoMatrix(sourceMatrix, source.lgK)
	default:
		return fmt.Errorf("illegal Union state: %d", state)
	}
	return nil
}

// GetResult materializes the union's current best estimate of the merged
// coupon set as a standalone sketch. The returned sketch always has
// mergeFlag set (HIP tracking never resumes once a sketch has passed
// through a union), matching spec.md 4.6's merged-estimator rule.
func (u *CpcUnion) GetResult() (*CpcSketch, error) {
	if err := u.checkUnionState(); err != nil {
		return nil, err
	}

	if u.accumulator != nil { // start of case where union contains a sketch
		if u.accumulator.numCoupons == 0 {
			result, err := NewCpcSketch(u.lgK, u.accumulator.seed)
			if err != nil {
				return nil, err
			}
			result.mergeFlag = true
			return result, nil
		}
		if u.accumulator.getFlavor() != CpcFlavorSparse {
			return nil, fmt.Errorf("accumulator must be SPARSE")
		}
		result, err := u.accumulator.Copy()
		if err != nil {
			return nil, err
		}
		result.mergeFlag = true
		return result, nil
	} // end of case where union contains a sketch

	// start of case where union contains a bitMatrix
	matrix := u.bitMatrix
	lgK := u.lgK
	result, err := NewCpcSketch(u.lgK, u.seed)
	if err != nil {
		return nil, err
	}

	numCoupons := countBitsSetInMatrix(matrix)
	result.numCoupons = numCoupons

	flavor := determineFlavor(lgK, numCoupons)
	if flavor <= CpcFlavorSparse {
		return nil, fmt.Errorf("flavor must be greater than SPARSE")
	}

	offset := determineCorrectOffset(lgK, numCoupons)
	result.windowOffset = offset

	// Using a sufficiently large hash table avoids the snowplow effect.
	window, table, fiCol, err := reconstructFromMatrix(matrix, lgK, offset)
	if err != nil {
		return nil, err
	}
	result.slidingWindow = window
	result.pairTable = table
	result.fiCol = fiCol

	// NB: the HIP-related fields will contain bogus values, but that is okay
	// since mergeFlag below disables HIP estimation for this sketch.
	result.mergeFlag = true
	return result, nil
	// end of case where union contains a bitMatrix
}

func (u *CpcUnion) checkUnionState() error {
	if u == nil {
		return fmt.Errorf("union cannot be nil")
	}

	if u.accumulator != nil && u.bitMatrix != nil {
		return fmt.Errorf("accumulator and bitMatrix cannot be both valid or both nil")
	}
	if u.accumulator == nil && u.bitMatrix == nil {
		return fmt.Errorf("accumulator and bitMatrix cannot be both valid or both nil")
	}
	if u.accumulator != nil {
		if u.accumulator.numCoupons > 0 {
			if u.accumulator.slidingWindow != nil || u.accumulator.pairTable == nil {
				return fmt.Errorf("non-empty union accumulator must be SPARSE")
			}
		}
		if u.lgK != u.accumulator.lgK {
			return fmt.Errorf("union LgK must equal accumulator LgK")
		}
	}
	return nil
}

func (u *CpcUnion) reduceUnionK(newLgK int) error {
	if newLgK < u.lgK {
		if u.bitMatrix != nil {
			// downsample the union's bit matrix
			newK := 1 << uint(newLgK)
			newMatrix := make([]uint64, newK)
			orMatrixIntoMatrix(newMatrix, newLgK, u.bitMatrix, u.lgK)
			u.bitMatrix = newMatrix
			u.lgK = newLgK
		} else {
			// downsample the union's accumulator
			oldSketch := u.accumulator
			if oldSketch.numCoupons == 0 {
				acc, err := NewCpcSketch(newLgK, oldSketch.seed)
				if err != nil {
					return err
				}
				u.accumulator = acc
				u.lgK = newLgK
				return nil
			}
			newSketch, err := NewCpcSketch(newLgK, oldSketch.seed)
			if err != nil {
				return err
			}
			if err := walkTableUpdatingSketch(newSketch, oldSketch.pairTable, newLgK); err != nil {
				return err
			}
			finalNewFlavor := newSketch.getFlavor()
			if finalNewFlavor == CpcFlavorSparse {
				u.accumulator = newSketch
				u.lgK = newLgK
				return nil
			}
			// the new sketch has graduated beyond sparse, so convert to bitMatrix
			matrix, err := newSketch.bitMatrixOfSketch()
			if err != nil {
				return err
			}
			u.accumulator = nil
			u.bitMatrix = matrix
			u.lgK = newLgK
		}
	}
	return nil
}

// walkTableUpdatingSketch replays every valid pair of a source pair table
// into a destination sketch of possibly smaller newLgK, visiting slots in a
// golden-ratio stride order rather than linearly. Grounded on fm85.cpp's
// walk_table_updating_sketch: visiting a crowded source table in its natural
// slot order tends to funnel many novel inserts into the same few
// destination pair-table probe chains in a row (the "snowplow effect");
// striding by the nearest odd multiple of the inverse golden ratio
// decorrelates visit order from slot adjacency. Each source row is reduced
// modulo the destination's row count before replay, the same downsampling
// every other lgK-reduction path (orMatrixIntoMatrix, orTableIntoMatrix)
// applies.
func walkTableUpdatingSketch(dest *CpcSketch, table *pairTable, newLgK int) error {
	if table == nil {
		return nil
	}
	numSlots := 1 << uint(table.lgSizeInts)
	slots := table.slotsArr
	stride := int(internal.InverseGolden * float64(numSlots))
	stride |= 1 // force odd so every slot is eventually visited
	mask := numSlots - 1
	destRowMask := (1 << uint(newLgK)) - 1
	for i, j := 0, 0; i < numSlots; i, j = i+1, (j+stride)&mask {
		rowCol := slots[j]
		if rowCol != -1 {
			col := rowCol & 63
			row := (rowCol >> 6) & destRowMask
			if err := dest.rowColUpdate((row << 6) | col); err != nil {
				return err
			}
		}
	}
	return nil
}

func (u *CpcUnion) orWindowIntoMatrix(srcWindow []byte, srcOffset int, srcLgK int) {
	if u.lgK > srcLgK {
		panic("destLgK <= srcLgK")
	}
	destMask := (1 << uint(u.lgK)) - 1 // downsamples when destLgK < srcLgK
	srcK := 1 << uint(srcLgK)
	for srcRow := 0; srcRow < srcK; srcRow++ {
		u.bitMatrix[srcRow&destMask] |= uint64(srcWindow[srcRow]) << uint(srcOffset)
	}
}

func (u *CpcUnion) orTableIntoMatrix(srcTable *pairTable) {
	if srcTable == nil {
		return
	}
	slots := srcTable.slotsArr
	numSlots := 1 << uint(srcTable.lgSizeInts)
	destMask := (1 << uint(u.lgK)) - 1 // downsamples when destLgK < srcLgK
	for i := 0; i < numSlots; i++ {
		rowCol := slots[i]
		if rowCol != -1 {
			col := rowCol & 63
			row := rowCol >> 6
			u.bitMatrix[row&destMask] |= uint64(1) << uint(col) // Set the bit.
		}
	}
}

func (u *CpcUnion) orMatrixIntoMatrix(srcMatrix []uint64, srcLgK int) {
	orMatrixIntoMatrix(u.bitMatrix, u.lgK, srcMatrix, srcLgK)
}

// orMatrixIntoMatrix ORs a source bit matrix into a (possibly
// lower-resolution) destination bit matrix, downsampling by row-index
// modulo the destination's row count when destLgK < srcLgK.
func orMatrixIntoMatrix(dest []uint64, destLgK int, src []uint64, srcLgK int) {
	if destLgK > srcLgK {
		panic("destLgK <= srcLgK")
	}
	destMask := (1 << uint(destLgK)) - 1
	srcK := 1 << uint(srcLgK)
	for srcRow := 0; srcRow < srcK; srcRow++ {
		dest[srcRow&destMask] |= src[srcRow]
	}
}

// GetBitMatrix returns the union's current state as a full bit matrix,
// converting a still-SPARSE accumulator sketch on the fly.
func (u *CpcUnion) GetBitMatrix() ([]uint64, error) {
	if err := u.checkUnionState(); err != nil {
		return nil, err
	}
	if u.bitMatrix != nil {
		return u.bitMatrix, nil
	}
	return u.accumulator.bitMatrixOfSketch()
}

func (u *CpcUnion) getNumCoupons() uint64 {
	if u.bitMatrix != nil {
		return countBitsSetInMatrix(u.bitMatrix)
	}
	return u.accumulator.numCoupons
}
