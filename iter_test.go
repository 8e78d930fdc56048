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
package plp_test

import (
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/plp"
	"github.com/grailbio/plp/plptest"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func testHeader(t *testing.T) *sam.Header {
	chr1, err := sam.NewReference("chr1", "", "", 248956422, nil, nil)
	assert.NoError(t, err)
	chr2, err := sam.NewReference("chr2", "", "", 242193529, nil, nil)
	assert.NoError(t, err)
	header, err := sam.NewHeader(nil, []*sam.Reference{chr1, chr2})
	assert.NoError(t, err)
	return header
}

func newRead(t *testing.T, name string, ref *sam.Reference, pos int, seq string) *sam.Record {
	qual := make([]byte, len(seq))
	for i := range qual {
		qual[i] = 43
	}
	return &sam.Record{
		Name:  name,
		Ref:   ref,
		Pos:   pos,
		MapQ:  60,
		Cigar: []sam.CigarOp{sam.NewCigarOp(sam.CigarMatch, len(seq))},
		Seq:   sam.NewSeq([]byte(seq)),
		Qual:  qual,
	}
}

// threeColumns scripts columns on two references, in engine traversal order.
func threeColumns(t *testing.T, header *sam.Header) []plptest.Column {
	refs := header.Refs()
	r1 := newRead(t, "read1", refs[0], 100, "ACGT")
	r2 := newRead(t, "read2", refs[0], 102, "TTAA")
	r3 := newRead(t, "read3", refs[1], 7, "GG")
	return []plptest.Column{
		{RefID: 0, Pos: 102, Piles: []plp.Pile{
			plptest.NewPile(t, r1, 2, 0),
			plptest.NewPile(t, r2, 0, 0),
		}},
		{RefID: 0, Pos: 103, Piles: []plp.Pile{
			plptest.NewPile(t, r1, 3, 0),
			plptest.NewPile(t, r2, 1, -2),
		}},
		{RefID: 1, Pos: 7, Piles: []plp.Pile{
			plptest.NewPile(t, r3, 0, 0),
		}},
	}
}

func mustPanic(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	f()
}

func TestIterColumns(t *testing.T) {
	header := testHeader(t)
	engine := &plptest.Engine{Columns: threeColumns(t, header)}
	it := plp.NewIter(engine, header)

	type colKey struct {
		refID, pos, depth uint32
	}
	var got []colKey
	prev := colKey{}
	for it.Scan() {
		col := it.Pileup()
		key := colKey{col.RefID(), col.Pos(), col.Depth()}
		// Traversal order is non-decreasing by (reference id, position).
		expect.True(t, key.refID > prev.refID || (key.refID == prev.refID && key.pos >= prev.pos),
			"out of order: %+v after %+v", key, prev)
		prev = key
		got = append(got, key)
	}
	assert.NoError(t, it.Err())
	expect.EQ(t, got, []colKey{
		{0, 102, 2},
		{0, 103, 2},
		{1, 7, 1},
	})

	// N columns take exactly N+1 engine calls, and the handle is released as
	// soon as the engine reports end of data.
	expect.EQ(t, engine.Advances, 4)
	expect.EQ(t, engine.Calls, []string{"reset", "destroy"})

	// Further pulls report termination without re-invoking the engine.
	expect.False(t, it.Scan())
	expect.EQ(t, engine.Advances, 4)

	assert.NoError(t, it.Close())
	expect.EQ(t, engine.Resets, 1)
	expect.EQ(t, engine.Destroys, 1)
}

func TestIterError(t *testing.T) {
	header := testHeader(t)
	engine := &plptest.Engine{
		Columns:         threeColumns(t, header)[:2],
		FailAfterScript: true,
	}
	it := plp.NewIter(engine, header)

	expect.True(t, it.Scan())
	expect.True(t, it.Scan())
	expect.False(t, it.Scan())
	expect.True(t, it.Err() == plp.ErrGenerate, "got %v", it.Err())

	// The failure is terminal: no retry, no reactivation.
	expect.False(t, it.Scan())
	expect.EQ(t, engine.Advances, 3)
	expect.EQ(t, engine.Calls, []string{"reset", "destroy"})

	expect.True(t, it.Close() == plp.ErrGenerate)
	expect.EQ(t, engine.Resets, 1)
	expect.EQ(t, engine.Destroys, 1)
}

func TestIterEarlyClose(t *testing.T) {
	header := testHeader(t)
	engine := &plptest.Engine{Columns: threeColumns(t, header)}
	it := plp.NewIter(engine, header)

	expect.True(t, it.Scan())
	assert.NoError(t, it.Close())
	expect.EQ(t, engine.Calls, []string{"reset", "destroy"})

	// Closing again must not repeat the teardown.
	assert.NoError(t, it.Close())
	expect.EQ(t, engine.Resets, 1)
	expect.EQ(t, engine.Destroys, 1)
	expect.False(t, it.Scan())
}

func TestIterCloseWithoutScan(t *testing.T) {
	header := testHeader(t)
	engine := &plptest.Engine{Columns: threeColumns(t, header)}
	it := plp.NewIter(engine, header)
	assert.NoError(t, it.Close())
	expect.EQ(t, engine.Calls, []string{"reset", "destroy"})
}

func TestSetMaxDepthForwarding(t *testing.T) {
	header := testHeader(t)
	engine := &plptest.Engine{Columns: threeColumns(t, header)}
	it := plp.NewIter(engine, header)

	it.SetMaxDepth(100)
	expect.True(t, it.Scan())
	it.SetMaxDepth(250)
	assert.NoError(t, it.Close())
	expect.EQ(t, engine.MaxDepths, []int32{100, 250})

	// The handle is gone; the cap can no longer be forwarded.
	it.SetMaxDepth(300)
	expect.EQ(t, engine.MaxDepths, []int32{100, 250})
}

func TestStaleViewPanics(t *testing.T) {
	header := testHeader(t)
	engine := &plptest.Engine{Columns: threeColumns(t, header)}
	it := plp.NewIter(engine, header)

	expect.True(t, it.Scan())
	col := it.Pileup()
	aligns := col.Alignments()
	expect.True(t, aligns.Scan())
	align := aligns.Alignment()
	expect.EQ(t, align.QPos(), uint32(2))

	expect.True(t, it.Scan())
	mustPanic(t, func() { col.Alignments() })
	mustPanic(t, func() { aligns.Scan() })
	// The engine reuses its pile buffer; a retained Alignment must refuse to
	// read it rather than report the next column's values.
	mustPanic(t, func() { align.QPos() })
	mustPanic(t, func() { align.Indel() })
	mustPanic(t, func() { align.Record() }) // nolint: errcheck

	// Plain accessors stay harmless; they copy no engine memory.
	expect.EQ(t, col.Pos(), uint32(102))

	col = it.Pileup()
	assert.NoError(t, it.Close())
	mustPanic(t, func() { col.Alignments() })
}

// negDepthEngine answers every Advance with a non-nil column pointer and a
// negative depth, a combination the engine contract leaves undefined.
type negDepthEngine struct {
	plptest.Engine
}

func (e *negDepthEngine) Advance(refID, pos, depth *int32) *plp.Pile {
	e.Advances++
	*refID, *pos, *depth = 0, 10, -3
	return &plp.Pile{}
}

func TestNegativeDepthColumn(t *testing.T) {
	engine := &negDepthEngine{}
	it := plp.NewIter(engine, testHeader(t))

	// The undefined combination ends iteration without inventing a column,
	// and without being mistaken for the engine's error sentinel.
	expect.False(t, it.Scan())
	assert.NoError(t, it.Err())
	expect.EQ(t, engine.Calls, []string{"reset", "destroy"})

	expect.False(t, it.Scan())
	expect.EQ(t, engine.Advances, 1)

	assert.NoError(t, it.Close())
	expect.EQ(t, engine.Resets, 1)
	expect.EQ(t, engine.Destroys, 1)
}
