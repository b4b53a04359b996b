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
	"github.com/apache/datasketches-go/internal"
	"math/rand"
	"reflect"
	"sort"
	"testing"
)

// TestWriteReadUnary verifies that bitWriter.writeUnary and bitReader.readUnary
// are inverses across a run of increasing values.
func TestWriteReadUnary(t *testing.T) {
	w := newBitWriter()
	for i := 0; i < 100; i++ {
		w.writeUnary(uint64(i))
	}
	words := w.finish()

	r := newBitReader(words)
	for i := 0; i < 100; i++ {
		got := r.readUnary()
		if got != uint64(i) {
			t.Errorf("readUnary at i=%d: got %d, expected %d", i, got, i)
		}
	}
}

// TestWriteReadBytes verifies that riceEncodePairs/riceDecodePairs round-trip
// a flat coupon list across a range of lgK values (standing in for the
// variety of entropy regimes the wire format's compressed streams cover).
func TestWriteReadBytes(t *testing.T) {
	rgen := rand.New(rand.NewSource(7))
	for lgK := 4; lgK <= 12; lgK++ {
		seen := make(map[int]bool)
		var rowCols []int
		for len(rowCols) < 256 {
			rowCol := rgen.Intn(1 << uint(lgK+6))
			if !seen[rowCol] {
				seen[rowCol] = true
				rowCols = append(rowCols, rowCol)
			}
		}
		words := riceEncodePairs(rowCols, lgK)
		decoded := riceDecodePairs(words, len(rowCols), lgK)
		sorted := append([]int(nil), rowCols...)
		sort.Ints(sorted)
		if !reflect.DeepEqual(sorted, decoded) {
			t.Errorf("lgK=%d: round trip mismatch: got %v, expected %v", lgK, decoded, sorted)
		}
	}
}

// TestWriteReadBytes65 exercises the same round trip at a small, odd coupon
// count to check the codec isn't relying on any power-of-two sizing.
func TestWriteReadBytes65(t *testing.T) {
	lgK := 10
	size := 65
	rowCols := make([]int, size)
	for i := range rowCols {
		rowCols[i] = i * 7
	}
	words := riceEncodePairs(rowCols, lgK)
	decoded := riceDecodePairs(words, size, lgK)
	sorted := append([]int(nil), rowCols...)
	sort.Ints(sorted)
	if !reflect.DeepEqual(sorted, decoded) {
		t.Errorf("round trip mismatch: got %v, expected %v", decoded, sorted)
	}
}

// TestWriteReadPairs tests compressing and uncompressing an array of pair values.
func TestWriteReadPairs(t *testing.T) {
	rgen := rand.New(rand.NewSource(1))
	lgK := 14
	N := 3000
	pairArray := make([]int, N)
	for i := 0; i < N; i++ {
		pairArray[i] = rgen.Intn(1 << (lgK + 6))
	}
	sort.Ints(pairArray)
	prev := -1
	nxt := 0
	for i := 0; i < N; i++ {
		if pairArray[i] != prev {
			prev = pairArray[i]
			pairArray[nxt] = pairArray[i]
			nxt++
		}
	}
	numPairs := nxt
	pairArray = pairArray[:numPairs]
	t.Logf("numCsv = %d", numPairs)

	words := riceEncodePairs(pairArray, lgK)
	decoded := riceDecodePairs(words, numPairs, lgK)
	if !reflect.DeepEqual(pairArray, decoded) {
		t.Errorf("mismatch: got %v, expected %v", decoded, pairArray)
	}
}

// updateStateUnion compresses the current sketch, exports its compressed state,
// re-imports it, then creates a union (using the official union implementation),
// updates the union with the sketch, and verifies that the union’s result
// keeps its own format through compression, export and re-import.
func updateStateUnion(t *testing.T, sk *CpcSketch, vIn *uint64, lgK int) {
	// Compress the current sketch.
	skFmt := sk.getFormat()
	cs, err := NewCpcCompressedStateFromSketch(sk)
	if err != nil {
		t.Fatalf("Failed to compress sketch: %v", err)
	}
	if cs.getFormat() != skFmt {
		t.Errorf("Compressed state format %v != sketch format %v", cs.getFormat(), skFmt)
	}
	c := cs.NumCoupons

	// Export to memory and log the state.
	mem, err := cs.exportToMemory()
	if err != nil {
		t.Fatalf("Failed to export to memory: %v", err)
	}
	t.Logf("vIn: %8d   coupons: %8d   Format: %v", *vIn, c, cs.getFormat())

	// Re-import the state.
	cs2, err := importFromMemory(mem)
	if err != nil {
		t.Fatalf("Failed to import from memory: %v", err)
	}
	if cs2.getFormat() != skFmt {
		t.Errorf("Re-imported state format %v != sketch format %v", cs2.getFormat(), skFmt)
	}

	// --- Use the official union implementation ---
	u, err := NewCpcUnionSketchWithDefault(lgK)
	if err != nil {
		t.Fatalf("Failed to create union: %v", err)
	}
	if err = u.Update(sk); err != nil {
		t.Fatalf("Union update failed: %v", err)
	}
	sk2, err := u.GetResult()
	if err != nil {
		t.Fatalf("Union GetResult failed: %v", err)
	}
	skFmt = sk2.getFormat()
	cs, err = NewCpcCompressedStateFromSketch(sk2)
	if err != nil {
		t.Fatalf("Failed to compress union result: %v", err)
	}
	if cs.getFormat() != skFmt {
		t.Errorf("Union compressed state format %v != union sketch format %v", cs.getFormat(), skFmt)
	}
	c = cs.NumCoupons
	mem, err = cs.exportToMemory()
	if err != nil {
		t.Fatalf("Failed to export union state to memory: %v", err)
	}
	cs2, err = importFromMemory(mem)
	if err != nil {
		t.Fatalf("Failed to import union state from memory: %v", err)
	}
	if cs2.getFormat() != skFmt {
		t.Errorf("Imported union state format %v != union sketch format %v", cs2.getFormat(), skFmt)
	}
}

func TestLoadMemory(t *testing.T) {
	lgK := 10
	vIn := uint64(0)
	sk, err := NewCpcSketch(lgK, internal.DEFAULT_UPDATE_SEED)
	if err != nil {
		t.Fatalf("Failed to create CpcSketch: %v", err)
	}
	k := 1 << lgK

	// EMPTY_HIP (empty sketch)
	updateStateUnion(t, sk, &vIn, lgK)

	// SPARSE: update with one value.
	vIn++
	if err = sk.UpdateUint64(vIn); err != nil {
		t.Fatalf("UpdateUint64 failed: %v", err)
	}
	updateStateUnion(t, sk, &vIn, lgK)

	// HYBRID: update until (numCoupons << 5) >= (3 * k)
	for (sk.numCoupons << 5) < uint64(3*k) {
		vIn++
		if err = sk.UpdateUint64(vIn); err != nil {
			t.Fatalf("UpdateUint64 failed: %v", err)
		}
	}
	updateStateUnion(t, sk, &vIn, lgK)

	// PINNED: update until (numCoupons << 1) >= k
	for (sk.numCoupons << 1) < uint64(k) {
		vIn++
		if err = sk.UpdateUint64(vIn); err != nil {
			t.Fatalf("UpdateUint64 failed: %v", err)
		}
	}
	updateStateUnion(t, sk, &vIn, lgK)

	// SLIDING: update until (numCoupons << 3) >= (27 * k)
	for (sk.numCoupons << 3) < uint64(27*k) {
		vIn++
		if err = sk.UpdateUint64(vIn); err != nil {
			t.Fatalf("UpdateUint64 failed: %v", err)
		}
	}
	updateStateUnion(t, sk, &vIn, lgK)
}

// TestToString logs string representations of compressed states.
func TestToString(t *testing.T) {
	// Create a sketch with lgK = 10.
	sk, err := NewCpcSketch(10, internal.DEFAULT_UPDATE_SEED)
	if err != nil {
		t.Fatalf("Failed to create sketch: %v", err)
	}
	cs, err := NewCpcCompressedStateFromSketch(sk)
	if err != nil {
		t.Fatalf("Failed to compress empty sketch: %v", err)
	}
	t.Logf("Empty sketch state: %+v", cs)

	// Update with value 0.
	if err = sk.UpdateUint64(0); err != nil {
		t.Fatalf("UpdateUint64 failed: %v", err)
	}
	cs, err = NewCpcCompressedStateFromSketch(sk)
	if err != nil {
		t.Fatalf("Failed to compress sketch after update(0): %v", err)
	}
	t.Logf("After update(0): %+v", cs)

	// Update sketch with values 1 to 599.
	for i := 1; i < 600; i++ {
		if err = sk.UpdateUint64(uint64(i)); err != nil {
			t.Fatalf("UpdateUint64 failed at i=%d: %v", i, err)
		}
	}
	cs, err = NewCpcCompressedStateFromSketch(sk)
	if err != nil {
		t.Fatalf("Failed to compress sketch after 600 updates: %v", err)
	}
	t.Logf("After 600 updates: %+v", cs)
}

// TestIsCompressed corrupts the compressed state and expects an error on import.
func TestIsCompressed(t *testing.T) {
	sk, err := NewCpcSketch(10, internal.DEFAULT_UPDATE_SEED)
	if err != nil {
		t.Fatalf("Failed to create sketch: %v", err)
	}
	// Update once so that sketch is non-empty.
	if err = sk.UpdateUint64(12345); err != nil {
		t.Fatalf("UpdateUint64 failed: %v", err)
	}
	cs, err := NewCpcCompressedStateFromSketch(sk)
	if err != nil {
		t.Fatalf("Failed to compress sketch: %v", err)
	}
	mem, err := cs.exportToMemory()
	if err != nil {
		t.Fatalf("exportToMemory failed: %v", err)
	}
	// Corrupt a byte (for example, clear bit 1 at index 5).
	mem[5] = mem[5] & 0xFD

	// Try to import; we expect an error.
	_, err = importFromMemory(mem)
	if err == nil {
		t.Errorf("Expected error when importing corrupted compressed state, got nil")
	}
}

// TestWriteReadPairsExtended repeats the pair round trip across several lgK
// values to check the Rice parameter choice stays self-consistent between
// encode and decode regardless of table size.
func TestWriteReadPairsExtended(t *testing.T) {
	rgen := rand.New(rand.NewSource(1))
	for _, lgK := range []int{4, 8, 12, 14, 18} {
		N := 3000
		pairArray := make([]int, N)
		for i := 0; i < N; i++ {
			pairArray[i] = rgen.Intn(1 << uint(lgK+6))
		}
		sort.Ints(pairArray)
		prev := -1
		nxt := 0
		for i := 0; i < N; i++ {
			if pairArray[i] != prev {
				prev = pairArray[i]
				pairArray[nxt] = pairArray[i]
				nxt++
			}
		}
		numPairs := nxt
		pairArray = pairArray[:numPairs]
		t.Logf("lgK=%d: number of unique pairs: %d", lgK, numPairs)

		words := riceEncodePairs(pairArray, lgK)
		decoded := riceDecodePairs(words, numPairs, lgK)
		if !reflect.DeepEqual(pairArray, decoded) {
			t.Errorf("lgK=%d mismatch: got %v, expected %v", lgK, decoded, pairArray)
		}
	}
}

// TestCompressedStateConsistency ensures that two sketches updated identically yield identical compressed states.
func TestCompressedStateConsistency(t *testing.T) {
	sk1, err := NewCpcSketch(10, internal.DEFAULT_UPDATE_SEED)
	if err != nil {
		t.Fatalf("Failed to create sketch 1: %v", err)
	}
	sk2, err := NewCpcSketch(10, internal.DEFAULT_UPDATE_SEED)
	if err != nil {
		t.Fatalf("Failed to create sketch 2: %v", err)
	}
	// Update both sketches with the same values.
	for i := 0; i < 1000; i++ {
		if err = sk1.UpdateUint64(uint64(i)); err != nil {
			t.Fatalf("UpdateUint64 failed on sk1 at i=%d: %v", i, err)
		}
		if err = sk2.UpdateUint64(uint64(i)); err != nil {
			t.Fatalf("UpdateUint64 failed on sk2 at i=%d: %v", i, err)
		}
	}
	cs1, err := NewCpcCompressedStateFromSketch(sk1)
	if err != nil {
		t.Fatalf("Failed to compress sk1: %v", err)
	}
	cs2, err := NewCpcCompressedStateFromSketch(sk2)
	if err != nil {
		t.Fatalf("Failed to compress sk2: %v", err)
	}
	mem1, err := cs1.exportToMemory()
	if err != nil {
		t.Fatalf("exportToMemory failed for sk1: %v", err)
	}
	mem2, err := cs2.exportToMemory()
	if err != nil {
		t.Fatalf("exportToMemory failed for sk2: %v", err)
	}
	if !reflect.DeepEqual(mem1, mem2) {
		t.Errorf("Compressed states do not match for identical sketches")
	}
}
