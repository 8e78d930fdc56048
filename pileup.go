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

import (
	"strconv"
	"unsafe"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/plp/bamrec"
)

// IndelType distinguishes the three indel cases at a pileup position.
type IndelType int

const (
	// IndelNone means the read has no indel at this position.
	IndelNone IndelType = iota
	// IndelIns means the read has an insertion after this position.
	IndelIns
	// IndelDel means the read has a deletion after this position.
	IndelDel
)

// Indel describes the indel, if any, between the current reference position
// and the next, as seen by one read.
type Indel struct {
	Type IndelType
	// Len is the indel length in bases. Zero iff Type == IndelNone.
	Len uint32
}

// decodeIndel maps the engine's signed indel length to an Indel. Total: every
// int32 decodes to exactly one of the three cases.
func decodeIndel(raw int32) Indel {
	switch {
	case raw < 0:
		return Indel{Type: IndelDel, Len: uint32(-raw)}
	case raw > 0:
		return Indel{Type: IndelIns, Len: uint32(raw)}
	}
	return Indel{Type: IndelNone}
}

// String renders the indel in samtools pileup notation: "+<len>" for an
// insertion, "-<len>" for a deletion, "." for none.
func (i Indel) String() string {
	switch i.Type {
	case IndelIns:
		return "+" + strconv.FormatUint(uint64(i.Len), 10)
	case IndelDel:
		return "-" + strconv.FormatUint(uint64(i.Len), 10)
	}
	return "."
}

// Pileup is a read-only view over all reads overlapping one reference
// position. It borrows engine-owned memory: a Pileup, and anything derived
// from it, is valid only until the Iter that produced it advances or is
// closed. Alignments() on a stale Pileup panics.
type Pileup struct {
	it    *Iter
	gen   uint64
	first *Pile
	refID uint32
	pos   uint32
	depth uint32
}

// RefID returns the ID of the reference sequence the column is on.
func (p Pileup) RefID() uint32 { return p.refID }

// Pos returns the 0-based reference position of the column.
func (p Pileup) Pos() uint32 { return p.pos }

// Depth returns the number of reads overlapping the column. Alignments()
// yields exactly this many entries.
func (p Pileup) Depth() uint32 { return p.depth }

// Alignments returns a forward-only, non-restartable view of exactly Depth()
// alignments, in engine order. The view shares the engine's pile array
// rather than copying it, so it is subject to the same valid-until-next-Scan
// rule as the Pileup itself.
func (p Pileup) Alignments() Alignments {
	return Alignments{it: p.it, gen: p.gen, hdr: p.it.header, piles: p.piles()}
}

// piles reconstructs the engine's pile array from the exact pointer/length
// pair the engine handed out; no other bounds are assumed.
func (p Pileup) piles() []Pile {
	if p.gen != p.it.gen {
		panic("plp: Pileup used after the iterator advanced")
	}
	if p.depth == 0 {
		return nil
	}
	return unsafe.Slice(p.first, int(p.depth))
}

// Alignments iterates over the alignments of one Pileup. Usage mirrors
// bamprovider.Iterator:
//
//	aligns := col.Alignments()
//	for aligns.Scan() {
//		a := aligns.Alignment()
//		...
//	}
type Alignments struct {
	it    *Iter
	gen   uint64
	hdr   *sam.Header
	piles []Pile
	cur   *Pile
}

// Scan advances to the next alignment, returning false once all Depth()
// entries have been yielded.
func (a *Alignments) Scan() bool {
	if len(a.piles) == 0 {
		a.cur = nil
		return false
	}
	if a.gen != a.it.gen {
		panic("plp: Alignments used after the iterator advanced")
	}
	a.cur = &a.piles[0]
	a.piles = a.piles[1:]
	return true
}

// Alignment returns the current alignment. This must be called only after a
// call to Scan() returns true.
func (a *Alignments) Alignment() Alignment {
	return Alignment{it: a.it, gen: a.gen, pile: a.cur, hdr: a.hdr}
}

// Alignment is a borrowed view of one read overlapping a pileup position. It
// reads engine memory on every accessor and is subject to the same
// valid-until-next-Scan rule as the Pileup it came from; a stale Alignment
// panics.
type Alignment struct {
	it   *Iter
	gen  uint64
	pile *Pile
	hdr  *sam.Header
}

func (a Alignment) check() {
	if a.gen != a.it.gen {
		panic("plp: Alignment used after the iterator advanced")
	}
}

// QPos returns the 0-based position within the read that overlaps the
// column. It is not checked against the read's length; the engine guarantees
// validity for well-formed input, and callers that care about malformed
// input must validate against Record().Seq.Length themselves.
func (a Alignment) QPos() uint32 {
	a.check()
	return uint32(a.pile.QPos)
}

// Indel reports the indel seen by this read at the column's position.
func (a Alignment) Indel() Indel {
	a.check()
	return decodeIndel(a.pile.Indel)
}

// Record reconstructs the full alignment record as an independently owned
// *sam.Record; the result may be retained after the iterator advances.
// Malformed engine memory surfaces as a bamrec unmarshaling error; no
// validation happens in this layer.
func (a Alignment) Record() (*sam.Record, error) {
	a.check()
	return bamrec.Unmarshal(a.pile.RawRec, a.hdr)
}
