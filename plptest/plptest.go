// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package plptest provides a scripted plp.Engine for unittests.
package plptest

import (
	"bytes"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/plp"
	"github.com/grailbio/plp/bamrec"
)

// Column is one scripted pileup column.
type Column struct {
	RefID int32
	Pos   int32
	Piles []plp.Pile
}

// Engine is a fake plp.Engine that replays a fixed column script. After the
// script is exhausted it reports end of data, or the engine error sentinel
// if FailAfterScript is set. It logs SetMaxDepth, Reset, and Destroy calls
// so tests can verify forwarding and the reset-before-destroy teardown
// ordering, and it reuses one backing pile array across Advance calls the
// way a real engine reuses its buffers.
type Engine struct {
	Columns         []Column
	FailAfterScript bool

	// Call log.
	Advances  int
	MaxDepths []int32
	Resets    int
	Destroys  int
	Calls     []string // "reset"/"destroy", in invocation order

	next int
	buf  []plp.Pile
}

// zeroPile backs depth-zero columns. It is shared across Engine instances:
// Advance reports depth 0 alongside it, so it must never be read through.
var zeroPile plp.Pile

// Advance implements plp.Engine.
func (e *Engine) Advance(refID, pos, depth *int32) *plp.Pile {
	if e.Destroys > 0 {
		panic("plptest: Advance after Destroy")
	}
	e.Advances++
	if e.next >= len(e.Columns) {
		if e.FailAfterScript {
			*depth = -1
		} else {
			*depth = 0
		}
		return nil
	}
	col := e.Columns[e.next]
	e.next++
	e.buf = append(e.buf[:0], col.Piles...)
	*refID = col.RefID
	*pos = col.Pos
	*depth = int32(len(col.Piles))
	if len(e.buf) == 0 {
		// Depth-zero column: non-nil pointer, nothing behind it. Consumers
		// see *depth == 0 and must not dereference.
		return &zeroPile
	}
	return &e.buf[0]
}

// SetMaxDepth implements plp.Engine.
func (e *Engine) SetMaxDepth(n int32) {
	if e.Destroys > 0 {
		panic("plptest: SetMaxDepth after Destroy")
	}
	e.MaxDepths = append(e.MaxDepths, n)
}

// Reset implements plp.Engine.
func (e *Engine) Reset() {
	if e.Destroys > 0 {
		panic("plptest: Reset after Destroy")
	}
	e.Resets++
	e.Calls = append(e.Calls, "reset")
}

// Destroy implements plp.Engine.
func (e *Engine) Destroy() {
	if e.Destroys > 0 {
		panic("plptest: Destroy called twice")
	}
	e.Destroys++
	e.Calls = append(e.Calls, "destroy")
}

// NewPile serializes rec with bamrec.Marshal and wraps it in a Pile with the
// given query position and raw signed indel length.
func NewPile(t *testing.T, rec *sam.Record, qpos, indel int32) plp.Pile {
	var buf bytes.Buffer
	if err := bamrec.Marshal(rec, &buf); err != nil {
		t.Fatalf("plptest: marshaling %s: %v", rec.Name, err)
	}
	return plp.Pile{RawRec: buf.Bytes(), QPos: qpos, Indel: indel}
}
