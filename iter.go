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
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
)

// ErrGenerate is the sole error Iter reports: the engine signaled its
// reserved failure sentinel. The engine exposes no further detail, so
// neither does this layer.
var ErrGenerate = errors.E("pileup generation error")

type iterState int

const (
	iterActive iterState = iota
	iterExhausted
	iterFailed
)

// Iter iterates over the pileup columns produced by an Engine, in the
// engine's traversal order: non-decreasing (reference id, position). It
// performs no buffering or reordering of its own; each Scan makes exactly
// one blocking call into the engine. Thread compatible.
//
//	it := plp.NewIter(engine, header)
//	defer it.Close()
//	for it.Scan() {
//		col := it.Pileup()
//		...
//	}
//	if err := it.Err(); err != nil {
//		...
//	}
//
// Each Scan or Close invalidates the Pileup handed out by the previous Scan,
// since the engine may reuse or overwrite the backing memory.
type Iter struct {
	engine Engine
	header *sam.Header
	state  iterState
	err    error
	cur    Pileup
	// gen counts Scan/Close calls; borrowed views carry the gen they were
	// created under and refuse to touch engine memory once it moves on.
	gen  uint64
	torn bool
}

// NewIter wraps engine in a pileup iterator. The iterator takes exclusive
// ownership of the engine handle. header is the SAM header used to
// reconstruct alignment records; it must describe the references the engine
// piles up against. Close must be called even if iteration is abandoned
// early.
func NewIter(engine Engine, header *sam.Header) *Iter {
	return &Iter{engine: engine, header: header}
}

// Scan advances to the next pileup column. It returns false at end of data
// or on engine error; the two are distinguished by Err. After a false
// return the engine handle has been released, and further Scan calls return
// false without touching the engine.
func (i *Iter) Scan() bool {
	if i.state != iterActive {
		return false
	}
	i.gen++
	var refID, pos, depth int32
	first := i.engine.Advance(&refID, &pos, &depth)
	if first == nil {
		// The depth slot disambiguates the engine's shared nil sentinel,
		// decided once here and never re-derived downstream.
		if depth == -1 {
			i.state = iterFailed
			i.err = ErrGenerate
		} else {
			i.state = iterExhausted
		}
		i.teardown()
		return false
	}
	if depth < 0 {
		// The engine contract gives no meaning to a non-nil column with a
		// negative depth. Flag it and stop rather than guess.
		log.Error.Printf("plp: engine returned a column with depth %d; treating as end of data", depth)
		i.state = iterExhausted
		i.teardown()
		return false
	}
	i.cur = Pileup{
		it:    i,
		gen:   i.gen,
		first: first,
		refID: uint32(refID),
		pos:   uint32(pos),
		depth: uint32(depth),
	}
	return true
}

// Pileup returns the current column. This must be called only after a call
// to Scan() returns true; the result is valid only until the next Scan or
// Close.
func (i *Iter) Pileup() Pileup { return i.cur }

// Err returns ErrGenerate if the engine failed, nil otherwise. End of data
// is not an error.
func (i *Iter) Err() error { return i.err }

// SetMaxDepth forwards the per-column depth cap to the engine, verbatim. It
// has no effect on iteration state. Once the engine handle has been released
// the call is a no-op.
func (i *Iter) SetMaxDepth(n int32) {
	if i.torn {
		return
	}
	i.engine.SetMaxDepth(n)
}

// Close releases the engine handle if iteration did not already reach a
// terminal state, and returns Err(). It is safe to call more than once and
// after Scan has returned false; teardown runs exactly once either way.
func (i *Iter) Close() error {
	if i.state == iterActive {
		i.state = iterExhausted
	}
	i.teardown()
	return i.err
}

// teardown resets the engine's read buffer and then destroys the handle, in
// that order, exactly once per Iter.
func (i *Iter) teardown() {
	if i.torn {
		return
	}
	i.torn = true
	i.gen++ // invalidates any outstanding Pileup
	i.engine.Reset()
	i.engine.Destroy()
}
