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

	"github.com/apache/datasketches-go/internal"
)

// Wire layout (spec.md 4.7). The first 8 bytes ("lo preamble") are fixed for
// every format:
//
//	byte 0: preInts     (count of 4-byte preamble words, format-defined)
//	byte 1: serVer
//	byte 2: familyID
//	byte 3: lgK
//	byte 4: firstInterestingColumn
//	byte 5: flags -- bit0 reserved (never set, see SPEC_FULL.md open question
//	        on endianness), bit1 = compressed, bits 2-4 = format ordinal
//	bytes 6-7: seedHash (int16, little-endian)
//
// Past the lo preamble, a format-specific, fixed-order run of "hi fields"
// follows (numCoupons, numSv, svLengthInts, wLengthInts, kxp, hipEstAccum --
// only the subset the format's getDefinedPreInts width actually allows),
// then the compressed-value stream words and the compressed-window stream
// words, in that order.
const (
	loFieldPreInts  = 0
	loFieldSerVer   = 1
	loFieldFamily   = 2
	loFieldLgK      = 3
	loFieldFiCol    = 4
	loFieldFlags    = 5
	loFieldSeedHash = 6
	loPreambleBytes = 8

	serVer              = 1
	bigEndianFlagMask   = 1
	compressedFlagMask  = 2
	formatFlagShift     = 2
	hiFieldNumCoupons   = 0
	hiFieldNumSv        = 1
	hiFieldSvLengthInts = 2
	hiFieldWLengthInts  = 3
	hiFieldKxP          = 4
	hiFieldHipAccum     = 5
)

type hiFieldSpec struct {
	id    int
	width int
}

// hiFieldLayout lists, per format ordinal, the hi fields present and their
// fixed order; widths sum (plus loPreambleBytes) to exactly
// 4*getDefinedPreInts(format).
var hiFieldLayout = [8][]hiFieldSpec{
	{}, // CpcFormatEmptyMerged
	{}, // CpcFormatEmptyHip
	{{hiFieldNumCoupons, 4}, {hiFieldSvLengthInts, 4}},                                                                                 // SPARSE_HYBRID_MERGED
	{{hiFieldNumCoupons, 4}, {hiFieldSvLengthInts, 4}, {hiFieldKxP, 8}, {hiFieldHipAccum, 8}},                                          // SPARSE_HYBRID_HIP
	{{hiFieldNumCoupons, 4}, {hiFieldWLengthInts, 4}},                                                                                  // PINNED_SLIDING_MERGED_NOSV
	{{hiFieldNumCoupons, 4}, {hiFieldWLengthInts, 4}, {hiFieldKxP, 8}, {hiFieldHipAccum, 8}},                                           // PINNED_SLIDING_HIP_NOSV
	{{hiFieldNumCoupons, 4}, {hiFieldNumSv, 4}, {hiFieldSvLengthInts, 4}, {hiFieldWLengthInts, 4}},                                     // PINNED_SLIDING_MERGED
	{{hiFieldNumCoupons, 4}, {hiFieldNumSv, 4}, {hiFieldSvLengthInts, 4}, {hiFieldWLengthInts, 4}, {hiFieldKxP, 8}, {hiFieldHipAccum, 8}}, // PINNED_SLIDING_HIP
}

func getHiFieldOffset(format CpcFormat, field int) (int, error) {
	if format < 0 || int(format) >= len(hiFieldLayout) {
		return 0, fmt.Errorf("illegal format: %d", format)
	}
	offset := loPreambleBytes
	for _, spec := range hiFieldLayout[format] {
		if spec.id == field {
			return offset, nil
		}
		offset += spec.width
	}
	return 0, fmt.Errorf("field %d is not defined for format %s", field, format.String())
}

func getFormat(mem []byte) CpcFormat {
	return CpcFormat((mem[loFieldFlags] >> formatFlagShift) & 7)
}

// getFormatOrdinal is the raw integer form of getFormat, used by callers
// that index tables (e.g. preIntsDefs) directly by ordinal.
func getFormatOrdinal(mem []byte) int {
	return int(getFormat(mem))
}

func getPreInts(mem []byte) int    { return int(mem[loFieldPreInts]) }
func getSerVer(mem []byte) int     { return int(mem[loFieldSerVer]) }
func getFamilyId(mem []byte) int   { return int(mem[loFieldFamily]) }
func getLgK(mem []byte) int        { return int(mem[loFieldLgK]) }
func getFiCol(mem []byte) int      { return int(mem[loFieldFiCol]) }
func getFlags(mem []byte) int      { return int(mem[loFieldFlags]) }
func isCompressed(mem []byte) bool { return mem[loFieldFlags]&compressedFlagMask != 0 }

// hasHip reports whether the sketch this image was serialized from was in
// HIP-tracking (unmerged) mode, encoded as bit 0 of the format ordinal.
func hasHip(mem []byte) bool { return int(getFormat(mem))&1 == 1 }

func getSeedHash(mem []byte) int16 {
	return int16(binary.LittleEndian.Uint16(mem[loFieldSeedHash:]))
}

func checkLoPreamble(mem []byte) error {
	if err := checkCapacity(len(mem), loPreambleBytes); err != nil {
		return err
	}
	if getFamilyId(mem) != internal.FamilyEnum.CPC.Id {
		return fmt.Errorf("invalid family id: %d", getFamilyId(mem))
	}
	if getSerVer(mem) != serVer {
		return fmt.Errorf("invalid serVer: %d", getSerVer(mem))
	}
	return nil
}

func checkCapacity(available, required int) error {
	if available < required {
		return fmt.Errorf("insufficient capacity: have %d bytes, need %d", available, required)
	}
	return nil
}

func getNumCoupons(mem []byte) uint64 {
	off, err := getHiFieldOffset(getFormat(mem), hiFieldNumCoupons)
	if err != nil {
		return 0
	}
	return uint64(binary.LittleEndian.Uint32(mem[off:]))
}

func getNumSV(mem []byte) uint64 {
	format := getFormat(mem)
	off, err := getHiFieldOffset(format, hiFieldNumSv)
	if err != nil {
		// Sparse/hybrid formats don't carry a separate numSv field: every
		// coupon is a surprising value, so numSv == numCoupons.
		if format == CpcFormatSparseHybridMerged || format == CpcFormatSparseHybridHip {
			return getNumCoupons(mem)
		}
		return 0
	}
	return uint64(binary.LittleEndian.Uint32(mem[off:]))
}

func getSvLengthInts(mem []byte) int {
	off, err := getHiFieldOffset(getFormat(mem), hiFieldSvLengthInts)
	if err != nil {
		return 0
	}
	return int(int32(binary.LittleEndian.Uint32(mem[off:])))
}

func getWLengthInts(mem []byte) int {
	off, err := getHiFieldOffset(getFormat(mem), hiFieldWLengthInts)
	if err != nil {
		return 0
	}
	return int(int32(binary.LittleEndian.Uint32(mem[off:])))
}

func getKxP(mem []byte) float64 {
	off, err := getHiFieldOffset(getFormat(mem), hiFieldKxP)
	if err != nil {
		return float64(int64(1) << uint(getLgK(mem)))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(mem[off:]))
}

func getHipAccum(mem []byte) float64 {
	off, err := getHiFieldOffset(getFormat(mem), hiFieldHipAccum)
	if err != nil {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(mem[off:]))
}

// preambleBytes is the fixed, format-defined size in bytes of the lo
// preamble plus its hi fields, i.e. the byte offset where the first stream
// (csv, if present, else cw) begins.
func preambleBytes(format CpcFormat) int {
	return 4 * getDefinedPreInts(format)
}

func formatHasSv(format CpcFormat) bool {
	switch format {
	case CpcFormatSparseHybridMerged, CpcFormatSparseHybridHip, CpcFormatPinnedSlidingMerged, CpcFormatPinnedSlidingHip:
		return true
	default:
		return false
	}
}

func formatHasW(format CpcFormat) bool {
	switch format {
	case CpcFormatPinnedSlidingMergedNosv, CpcFormatPinnedSlidingHipNosv, CpcFormatPinnedSlidingMerged, CpcFormatPinnedSlidingHip:
		return true
	default:
		return false
	}
}

// getSvStreamOffset locates the compressed-value stream. Besides requiring
// the format to carry an SV stream at all, it requires the image's recorded
// preInts to match the format's defined width -- a cheap, load-bearing
// sanity check that catches a flags byte that was corrupted or overwritten
// independently of the rest of the preamble.
func getSvStreamOffset(mem []byte) (int, error) {
	format := getFormat(mem)
	if !formatHasSv(format) {
		return 0, fmt.Errorf("format %s has no compressed-value stream", format.String())
	}
	if getPreInts(mem) != getDefinedPreInts(format) {
		return 0, fmt.Errorf("preamble is inconsistent with format %s: preInts=%d, expected %d", format.String(), getPreInts(mem), getDefinedPreInts(format))
	}
	return preambleBytes(format), nil
}

// getWStreamOffset locates the compressed-window stream, which follows the
// compressed-value stream (if present) immediately after the preamble.
func getWStreamOffset(mem []byte) (int, error) {
	format := getFormat(mem)
	if !formatHasW(format) {
		return 0, fmt.Errorf("format %s has no compressed-window stream", format.String())
	}
	if getPreInts(mem) != getDefinedPreInts(format) {
		return 0, fmt.Errorf("preamble is inconsistent with format %s: preInts=%d, expected %d", format.String(), getPreInts(mem), getDefinedPreInts(format))
	}
	offset := preambleBytes(format)
	if formatHasSv(format) {
		offset += 4 * getSvLengthInts(mem)
	}
	return offset, nil
}

func getSvStream(mem []byte) []int {
	off, err := getSvStreamOffset(mem)
	if err != nil {
		return nil
	}
	n := getSvLengthInts(mem)
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = int(int32(binary.LittleEndian.Uint32(mem[off+4*i:])))
	}
	return out
}

func getWStream(mem []byte) []int {
	off, err := getWStreamOffset(mem)
	if err != nil {
		return nil
	}
	n := getWLengthInts(mem)
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = int(int32(binary.LittleEndian.Uint32(mem[off+4*i:])))
	}
	return out
}

// -----------------------------------------------------------------------
// Writers
// -----------------------------------------------------------------------

func putLoPreamble(mem []byte, format CpcFormat, lgK, fiCol int, seedHash int16) error {
	preInts := getDefinedPreInts(format)
	if err := checkCapacity(len(mem), 4*preInts); err != nil {
		return err
	}
	mem[loFieldPreInts] = byte(preInts)
	mem[loFieldSerVer] = byte(serVer)
	mem[loFieldFamily] = byte(internal.FamilyEnum.CPC.Id)
	mem[loFieldLgK] = byte(lgK)
	mem[loFieldFiCol] = byte(fiCol)
	mem[loFieldFlags] = byte(int(format)<<formatFlagShift) | compressedFlagMask
	binary.LittleEndian.PutUint16(mem[loFieldSeedHash:], uint16(seedHash))
	return nil
}

func putHiField(mem []byte, format CpcFormat, field int, v uint64, width int) error {
	off, err := getHiFieldOffset(format, field)
	if err != nil {
		return err
	}
	if width == 4 {
		binary.LittleEndian.PutUint32(mem[off:], uint32(v))
	} else {
		binary.LittleEndian.PutUint64(mem[off:], v)
	}
	return nil
}

func putIntStream(mem []byte, offset int, stream []int) error {
	if err := checkCapacity(len(mem), offset+4*len(stream)); err != nil {
		return err
	}
	for i, v := range stream {
		binary.LittleEndian.PutUint32(mem[offset+4*i:], uint32(int32(v)))
	}
	return nil
}

func putEmptyMerged(mem []byte, lgK int, seedHash int16) error {
	return putLoPreamble(mem, CpcFormatEmptyMerged, lgK, 0, seedHash)
}

func putEmptyHip(mem []byte, lgK int, seedHash int16) error {
	return putLoPreamble(mem, CpcFormatEmptyHip, lgK, 0, seedHash)
}

func putSparseHybridMerged(mem []byte, lgK, numCoupons, csvLength int, seedHash int16, csvStream []int) error {
	format := CpcFormatSparseHybridMerged
	if err := putLoPreamble(mem, format, lgK, 0, seedHash); err != nil {
		return err
	}
	if len(csvStream) != csvLength {
		return fmt.Errorf("csvStream length %d does not match csvLength %d", len(csvStream), csvLength)
	}
	if err := putHiField(mem, format, hiFieldNumCoupons, uint64(numCoupons), 4); err != nil {
		return err
	}
	if err := putHiField(mem, format, hiFieldSvLengthInts, uint64(csvLength), 4); err != nil {
		return err
	}
	return putIntStream(mem, preambleBytes(format), csvStream)
}

func putSparseHybridHip(mem []byte, lgK, numCoupons, csvLength int, kxp, hipAccum float64, seedHash int16, csvStream []int) error {
	format := CpcFormatSparseHybridHip
	if err := putLoPreamble(mem, format, lgK, 0, seedHash); err != nil {
		return err
	}
	if len(csvStream) != csvLength {
		return fmt.Errorf("csvStream length %d does not match csvLength %d", len(csvStream), csvLength)
	}
	if err := putHiField(mem, format, hiFieldNumCoupons, uint64(numCoupons), 4); err != nil {
		return err
	}
	if err := putHiField(mem, format, hiFieldSvLengthInts, uint64(csvLength), 4); err != nil {
		return err
	}
	if err := putHiField(mem, format, hiFieldKxP, math.Float64bits(kxp), 8); err != nil {
		return err
	}
	if err := putHiField(mem, format, hiFieldHipAccum, math.Float64bits(hipAccum), 8); err != nil {
		return err
	}
	return putIntStream(mem, preambleBytes(format), csvStream)
}

func putPinnedSlidingMergedNoSv(mem []byte, lgK, fiCol, numCoupons, cwLength int, seedHash int16, cwStream []int) error {
	format := CpcFormatPinnedSlidingMergedNosv
	if err := putLoPreamble(mem, format, lgK, fiCol, seedHash); err != nil {
		return err
	}
	if len(cwStream) != cwLength {
		return fmt.Errorf("cwStream length %d does not match cwLength %d", len(cwStream), cwLength)
	}
	if err := putHiField(mem, format, hiFieldNumCoupons, uint64(numCoupons), 4); err != nil {
		return err
	}
	if err := putHiField(mem, format, hiFieldWLengthInts, uint64(cwLength), 4); err != nil {
		return err
	}
	return putIntStream(mem, preambleBytes(format), cwStream)
}

func putPinnedSlidingHipNoSv(mem []byte, lgK, fiCol, numCoupons, cwLength int, kxp, hipAccum float64, seedHash int16, cwStream []int) error {
	format := CpcFormatPinnedSlidingHipNosv
	if err := putLoPreamble(mem, format, lgK, fiCol, seedHash); err != nil {
		return err
	}
	if len(cwStream) != cwLength {
		return fmt.Errorf("cwStream length %d does not match cwLength %d", len(cwStream), cwLength)
	}
	if err := putHiField(mem, format, hiFieldNumCoupons, uint64(numCoupons), 4); err != nil {
		return err
	}
	if err := putHiField(mem, format, hiFieldWLengthInts, uint64(cwLength), 4); err != nil {
		return err
	}
	if err := putHiField(mem, format, hiFieldKxP, math.Float64bits(kxp), 8); err != nil {
		return err
	}
	if err := putHiField(mem, format, hiFieldHipAccum, math.Float64bits(hipAccum), 8); err != nil {
		return err
	}
	return putIntStream(mem, preambleBytes(format), cwStream)
}

func putPinnedSlidingMerged(mem []byte, lgK, fiCol, numCoupons, numSv, csvLength, cwLength int, seedHash int16, csvStream, cwStream []int) error {
	format := CpcFormatPinnedSlidingMerged
	if err := putLoPreamble(mem, format, lgK, fiCol, seedHash); err != nil {
		return err
	}
	if err := putHiField(mem, format, hiFieldNumCoupons, uint64(numCoupons), 4); err != nil {
		return err
	}
	if err := putHiField(mem, format, hiFieldNumSv, uint64(numSv), 4); err != nil {
		return err
	}
	if err := putHiField(mem, format, hiFieldSvLengthInts, uint64(csvLength), 4); err != nil {
		return err
	}
	if err := putHiField(mem, format, hiFieldWLengthInts, uint64(cwLength), 4); err != nil {
		return err
	}
	if len(csvStream) != csvLength || len(cwStream) != cwLength {
		return fmt.Errorf("stream lengths do not match declared lengths")
	}
	svOff, _ := getSvStreamOffset(mem)
	if err := putIntStream(mem, svOff, csvStream); err != nil {
		return err
	}
	wOff, _ := getWStreamOffset(mem)
	return putIntStream(mem, wOff, cwStream)
}

func putPinnedSlidingHip(mem []byte, lgK, fiCol, numCoupons, numSv int, kxp, hipAccum float64, csvLength, cwLength int, seedHash int16, csvStream, cwStream []int) error {
	format := CpcFormatPinnedSlidingHip
	if err := putLoPreamble(mem, format, lgK, fiCol, seedHash); err != nil {
		return err
	}
	if err := putHiField(mem, format, hiFieldNumCoupons, uint64(numCoupons), 4); err != nil {
		return err
	}
	if err := putHiField(mem, format, hiFieldNumSv, uint64(numSv), 4); err != nil {
		return err
	}
	if err := putHiField(mem, format, hiFieldSvLengthInts, uint64(csvLength), 4); err != nil {
		return err
	}
	if err := putHiField(mem, format, hiFieldWLengthInts, uint64(cwLength), 4); err != nil {
		return err
	}
	if err := putHiField(mem, format, hiFieldKxP, math.Float64bits(kxp), 8); err != nil {
		return err
	}
	if err := putHiField(mem, format, hiFieldHipAccum, math.Float64bits(hipAccum), 8); err != nil {
		return err
	}
	if len(csvStream) != csvLength || len(cwStream) != cwLength {
		return fmt.Errorf("stream lengths do not match declared lengths")
	}
	svOff, _ := getSvStreamOffset(mem)
	if err := putIntStream(mem, svOff, csvStream); err != nil {
		return err
	}
	wOff, _ := getWStreamOffset(mem)
	return putIntStream(mem, wOff, cwStream)
}

// CpcSketchToString renders a serialized CPC image as a human-readable
// debug dump. Its exact formatting is not a compatibility surface (see
// SPEC_FULL.md's open-question policy decisions) -- only the field values
// it reports are meaningful.
func CpcSketchToString(mem []byte, verbose bool) (string, error) {
	if err := checkLoPreamble(mem); err != nil {
		return "", err
	}
	format := getFormat(mem)
	s := fmt.Sprintf("CPC Format: %s, LgK: %d, FiCol: %d, Compressed: %v, HasHip: %v",
		format.String(), getLgK(mem), getFiCol(mem), isCompressed(mem), hasHip(mem))
	if !verbose {
		return s, nil
	}
	s += fmt.Sprintf("\n  NumCoupons: %d\n  NumSV: %d\n  SvLengthInts: %d\n  WLengthInts: %d\n  Kxp: %f\n  HipAccum: %f\n  SeedHash: %d",
		getNumCoupons(mem), getNumSV(mem), getSvLengthInts(mem), getWLengthInts(mem), getKxP(mem), getHipAccum(mem), getSeedHash(mem))
	return s, nil
}
