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

const (
	upsizeNumer   = 3
	upsizeDenom   = 4
	downsizeNumer = 1
	downsizeDenom = 4
)

type pairTable struct {
	lgSizeInts int
	validBits  int
	numPairs   int
	slotsArr   []int
}

func NewPairTable(lgSizeInts, numValidBits int) (*pairTable, error) {
	if err := checkLgSizeInts(lgSizeInts); err != nil {
		return nil, err
	}
	numSlots := 1 << lgSizeInts
	validBits := numValidBits
	numPairs := 0
	slotsArr := make([]int, numSlots)
	for i := range slotsArr {
		slotsArr[i] = -1
	}
	return &pairTable{lgSizeInts, validBits, numPairs, slotsArr}, nil
}

func (p *pairTable) clear() {
	for i := range p.slotsArr {
		p.slotsArr[i] = -1
	}
	p.numPairs = 0
}

func (p *pairTable) maybeInsert(item int) (bool, error) {
	//SHARED CODE (implemented as a macro in C and expanded here)
	lgSizeInts := p.lgSizeInts
	sizeInts := 1 << lgSizeInts
	mask := sizeInts - 1
	shift := p.validBits - lgSizeInts
	//rtAssert(shift > 0)
	probe := item >> shift
	//rtAssert((probe >= 0) && (probe <= mask))
	fetched := p.slotsArr[probe]
	for fetched != item && fetched != -1 {
		probe = (probe + 1) & mask
		fetched = p.slotsArr[probe]
	}
	//END SHARED CODE
	if fetched == item {
		return false, nil
	} else {
		//assert (fetched == -1)
		p.slotsArr[probe] = item
		p.numPairs++
		for (upsizeDenom * p.numPairs) > (upsizeNumer * (1 << p.lgSizeInts)) {
			if err := p.rebuild(p.lgSizeInts + 1); err != nil {
				return false, err
			}

		}
		return true, nil
	}
}

func (p *pairTable) maybeDelete(item int) (bool, error) {
	lgSizeInts := p.lgSizeInts
	sizeInts := 1 << lgSizeInts
	mask := sizeInts - 1
	shift := p.validBits - lgSizeInts
	//rtAssert(shift > 0)
	probe := item >> shift
	//rtAssert((probe >= 0) && (probe <= mask))
	arr := p.slotsArr
	fetched := arr[probe]
	for fetched != item && fetched != -1 {
		probe = (probe + 1) & mask
		fetched = arr[probe]
	}
	//END SHARED CODE
	if fetched == -1 {
		return false, nil
	} else {
		//assert (fetched == item)
		// delete the item
		arr[probe] = -1
		p.numPairs--
		// re-insert all items between the freed slot and the next empty slot
		probe = (probe + 1) & mask
		fetched = arr[probe]
		for fetched != -1 {
			arr[probe] = -1
			if _, err := p.maybeInsert(fetched); err != nil {
				return false, err
			}
			probe = (probe + 1) & mask
			fetched = arr[probe]
		}
		// shrink if necessary
		for (downsizeDenom*p.numPairs) < (downsizeNumer*(1<<p.lgSizeInts)) && p.lgSizeInts > 2 {
			if err := p.rebuild(p.lgSizeInts - 1); err != nil {
				return false, err
			}
		}
		return true, nil
	}

}

func (p *pairTable) mustInsert(item int) {
	//SHARED CODE (implemented as a macro in C and expanded here)
	lgSizeInts := p.lgSizeInts
	sizeInts := 1 << lgSizeInts
	mask := sizeInts - 1
	shift := p.validBits - lgSizeInts
	//rtAssert(shift > 0)
	probe := item >> shift
	//rtAssert((probe >= 0) && (probe <= mask))
	arr := p.slotsArr
	fetched := arr[probe]
	for fetched != item && fetched != -1 {
		probe = (probe + 1) & mask
		fetched = arr[probe]
	}
	//END SHARED CODE
	if fetched == item {
		panic("PairTable mustInsert() failed")
	} else {
		//assert (fetched == -1)
		arr[probe] = item
		// counts and resizing must be handled by the caller.
	}
}

func (p *pairTable) rebuild(newLgSizeInts int) error {
	if err := checkLgSizeInts(newLgSizeInts); err != nil {
		return err
	}
	newSize := 1 << newLgSizeInts
	oldSize := 1 << p.lgSizeInts
	if newSize <= p.numPairs {
		return fmt.Errorf("newSize <= numPairs")
	}
	oldSlotsArr := p.slotsArr
	p.slotsArr = make([]int, newSize)
	for i := range p.slotsArr {
		p.slotsArr[i] = -1
	}
	p.lgSizeInts = newLgSizeInts
	for i := 0; i < oldSize; i++ {
		item := oldSlotsArr[i]
		if item != -1 {
			p.mustInsert(item)
		}
	}
	return nil
}

// introspectiveInsertionSort sorts arr[lo..hi] (inclusive) ascending in
// place. Grounded on u32Table.cpp's introspective_insertion_sort: pair-table
// dumps are short and already close to sorted (unwrappingExtract only
// reorders the wrapped tail), so a guarded insertion sort -- linear on
// nearly-sorted input -- stands in for the reference's full introspective
// sort.
func introspectiveInsertionSort(arr []int, lo, hi int) {
	for i := lo + 1; i <= hi; i++ {
		v := arr[i]
		j := i - 1
		for j >= lo && arr[j] > v {
			arr[j+1] = arr[j]
			j--
		}
		arr[j+1] = v
	}
}

// mergePairs merges two ascending runs, arrA[startA:startA+lenA] and
// arrB[startB:startB+lenB], into arrC starting at startC. Grounded on
// u32Table.cpp's merge step for combining the sorted segments
// unwrappingExtract + introspectiveInsertionSort produce.
func mergePairs(arrA []int, startA, lenA int, arrB []int, startB, lenB int, arrC []int, startC int) {
	i, j, k := 0, 0, startC
	for i < lenA && j < lenB {
		if arrA[startA+i] <= arrB[startB+j] {
			arrC[k] = arrA[startA+i]
			i++
		} else {
			arrC[k] = arrB[startB+j]
			j++
		}
		k++
	}
	for i < lenA {
		arrC[k] = arrA[startA+i]
		i++
		k++
	}
	for j < lenB {
		arrC[k] = arrB[startB+j]
		j++
		k++
	}
}

// unwrappingExtract produces a contiguous compact array of all present
// items, undoing probe-wraparound so the result is nearly sorted for light
// hash loads. Grounded on u32Table.cpp's u32TableUnwrappingGetItems: the
// region of the table before the first empty slot contains items that may
// have wrapped around during open-addressed probing; those whose primary
// probe address is greater than the slot they occupy (meaning they "belong"
// near the end of the table) are placed at the end of the result, the rest at the front,
// and the remaining region (after the first empty slot, before we wrap back
// to slot 0) is copied in order at the front.
func (p *pairTable) unwrappingExtract() []int {
	numSlots := 1 << p.lgSizeInts
	result := make([]int, p.numPairs)
	if p.numPairs == 0 {
		return result
	}
	l, r := 0, p.numPairs-1
	i := 0
	for ; i < numSlots; i++ {
		if p.slotsArr[i] == -1 {
			break
		}
	}
	firstEmpty := i
	// Region before the first empty slot: items here may have wrapped.
	for j := 0; j < firstEmpty; j++ {
		item := p.slotsArr[j]
		probe := item >> uint(p.validBits-p.lgSizeInts)
		if probe > j {
			// this item's natural slot is after j: it wrapped around the end.
			result[r] = item
			r--
		} else {
			result[l] = item
			l++
		}
	}
	// Region from the first empty slot to the end: items here did not wrap.
	for j := firstEmpty + 1; j < numSlots; j++ {
		item := p.slotsArr[j]
		if item != -1 {
			result[l] = item
			l++
		}
	}
	return result
}
