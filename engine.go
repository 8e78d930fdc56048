// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package plp

// Engine is the boundary to an external pileup engine, modeled on htslib's
// bam_plp API. The engine owns the memory backing every Pile it hands out
// and may reuse or invalidate that memory on the next Advance call.
//
// An Engine handle is exclusively owned by one Iter at a time. It is never
// accessed concurrently.
type Engine interface {
	// Advance produces the next pileup column. On success it fills the three
	// output slots and returns a pointer to the first of *depth contiguous
	// Pile entries, valid only until the next Advance. A nil return is
	// terminal: *depth == -1 is the engine's sole error signal, any other
	// depth means normal end of data.
	Advance(refID, pos, depth *int32) *Pile

	// SetMaxDepth caps the number of piles the engine accumulates per column.
	SetMaxDepth(n int32)

	// Reset discards the engine's buffered reads. Must precede Destroy.
	Reset()

	// Destroy releases the iteration handle. No Engine method may be called
	// afterwards.
	Destroy()
}

// Pile is one engine-produced entry: a single read overlapping the current
// pileup position. The layout follows htslib's bam_pileup1_t.
type Pile struct {
	// RawRec is the BAM-serialized record body for the read (no block-size
	// prefix), as laid out in the engine's buffer. Engine-owned.
	RawRec []byte
	// QPos is the 0-based offset of the current position within the read.
	QPos int32
	// Indel is the signed indel length reported by the engine: negative for
	// a deletion of -Indel bases, positive for an insertion of Indel bases,
	// zero for neither.
	Indel int32
}
