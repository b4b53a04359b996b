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

import "github.com/apache/datasketches-go/internal"

// ToCompactSlice serializes this sketch into its compact wire image
// (spec.md 4.7): the lo preamble, the format-defined hi fields, and
// whichever of the compressed-value and compressed-window streams the
// sketch's current flavor calls for.
func (c *CpcSketch) ToCompactSlice() ([]byte, error) {
	state, err := NewCpcCompressedStateFromSketch(c)
	if err != nil {
		return nil, err
	}
	return state.exportToMemory()
}

// NewCpcSketchFromSlice deserializes a compact wire image produced by
// ToCompactSlice back into a live, independently updatable sketch.
func NewCpcSketchFromSlice(bytes []byte, seed uint64) (*CpcSketch, error) {
	state, err := importFromMemory(bytes)
	if err != nil {
		return nil, err
	}
	return state.uncompress(seed)
}

// NewCpcSketchFromSliceWithDefault deserializes a compact wire image using
// the library's default update seed.
func NewCpcSketchFromSliceWithDefault(bytes []byte) (*CpcSketch, error) {
	return NewCpcSketchFromSlice(bytes, internal.DEFAULT_UPDATE_SEED)
}
