// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package bamrec converts between sam.Record and the raw BAM-format record
// bodies a pileup engine keeps in its buffers. Unmarshal builds an
// independently owned record from one such body; Marshal is the exact
// inverse and is used to lay records into engine buffers.
//
// A record body is the BAM alignment encoding without the leading
// block-size prefix: the engine already knows each record's extent.
package bamrec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/grailbio/hts/sam"
)

// fixedBytes is the size of the fixed-length region of a BAM record body.
const fixedBytes = 32

var (
	errRecordTooShort      = errors.New("bamrec: record too short")
	errCorruptAuxField     = errors.New("bamrec: corrupt aux field")
	errNameAbsentOrTooLong = errors.New("bamrec: name absent or too long")
	errSeqQualMismatch     = errors.New("bamrec: sequence/quality length mismatch")
)

// jumps gives the encoded value size for each aux type byte; -1 marks the
// variable-size types.
var jumps = [256]int{
	'A': 1,
	'c': 1, 'C': 1,
	's': 2, 'S': 2,
	'i': 4, 'I': 4,
	'f': 4,
	'Z': -1,
	'H': -1,
	'B': -1,
}

// parseAux splits one record's OPT region into sam.Aux values backed by aux
// itself. The caller must pass a buffer owned by the record under
// construction.
func parseAux(aux []byte) ([]sam.Aux, error) {
	var aa []sam.Aux
	for i := 0; i+2 < len(aux); {
		t := aux[i+2]
		switch j := jumps[t]; {
		case j > 0:
			j += 3
			if i+j > len(aux) {
				return nil, errCorruptAuxField
			}
			aa = append(aa, sam.Aux(aux[i:i+j:i+j]))
			i += j
		case j < 0:
			switch t {
			case 'Z', 'H':
				var (
					j int
					v byte
				)
				for j, v = range aux[i:] {
					if v == 0 { // C string termination
						break // Truncate terminal zero.
					}
				}
				aa = append(aa, sam.Aux(aux[i:i+j:i+j]))
				i += j + 1
			case 'B':
				if len(aux) < i+8 {
					return nil, errCorruptAuxField
				}
				length := int(binary.LittleEndian.Uint32(aux[i+4 : i+8]))
				j := length*jumps[aux[i+3]] + 8
				if j < 8 || i+j > len(aux) {
					return nil, errCorruptAuxField
				}
				aa = append(aa, sam.Aux(aux[i:i+j:i+j]))
				i += j
			}
		default:
			return nil, errCorruptAuxField
		}
	}
	return aa, nil
}

// Unmarshal builds a sam.Record from one BAM-format record body. Nothing in
// the result aliases b: the record is independently owned and may outlive
// the buffer. Records are drawn from the sam freepool; callers done with a
// record may return it with sam.PutInFreePool.
func Unmarshal(b []byte, header *sam.Header) (*sam.Record, error) {
	if len(b) < fixedBytes {
		return nil, errRecordTooShort
	}
	// int(int32(uint32)) ensures 2's complement extension of -1.
	refID := int(int32(binary.LittleEndian.Uint32(b)))
	pos := int(int32(binary.LittleEndian.Uint32(b[4:])))
	nameLen := int(b[8])
	mapq := b[9]
	nCigar := int(binary.LittleEndian.Uint16(b[12:]))
	flags := sam.Flags(binary.LittleEndian.Uint16(b[14:]))
	seqLen := int(binary.LittleEndian.Uint32(b[16:]))
	mateRefID := int(int32(binary.LittleEndian.Uint32(b[20:])))
	matePos := int(int32(binary.LittleEndian.Uint32(b[24:])))
	tempLen := int(int32(binary.LittleEndian.Uint32(b[28:])))

	nDoubletBytes := (seqLen + 1) >> 1
	auxOffset := fixedBytes + nameLen + nCigar*4 + nDoubletBytes + seqLen
	if nameLen < 1 || len(b) < auxOffset {
		return nil, fmt.Errorf("bamrec: corrupt record body: len=%d, aux offset=%d", len(b), auxOffset)
	}

	rec := sam.GetFromFreePool()
	rec.Name = string(b[fixedBytes : fixedBytes+nameLen-1]) // drop trailing '\0'
	rec.Pos = pos
	rec.MapQ = mapq
	rec.Flags = flags
	rec.MatePos = matePos
	rec.TempLen = tempLen

	off := fixedBytes + nameLen
	rec.Cigar = nil
	if nCigar > 0 {
		cigar := make(sam.Cigar, nCigar)
		for i := range cigar {
			cigar[i] = sam.CigarOp(binary.LittleEndian.Uint32(b[off+i*4:]))
		}
		rec.Cigar = cigar
	}
	off += nCigar * 4

	seq := make([]sam.Doublet, nDoubletBytes)
	for i := range seq {
		seq[i] = sam.Doublet(b[off+i])
	}
	rec.Seq = sam.Seq{Length: seqLen, Seq: seq}
	off += nDoubletBytes

	rec.Qual = append([]byte(nil), b[off:off+seqLen]...)
	off += seqLen

	aux, err := parseAux(append([]byte(nil), b[off:]...))
	if err != nil {
		return nil, err
	}
	rec.AuxFields = aux

	refs := len(header.Refs())
	rec.Ref = nil
	rec.MateRef = nil
	if refID != -1 {
		if refID < -1 || refID >= refs {
			return nil, fmt.Errorf("bamrec: reference id %v out of range", refID)
		}
		rec.Ref = header.Refs()[refID]
	}
	if mateRefID != -1 {
		if mateRefID == refID {
			rec.MateRef = rec.Ref
			return rec, nil
		}
		if mateRefID < -1 || mateRefID >= refs {
			return nil, fmt.Errorf("bamrec: mate reference id %v out of range", mateRefID)
		}
		rec.MateRef = header.Refs()[mateRefID]
	}
	return rec, nil
}

// Marshal appends the BAM-format body of r to buf.
func Marshal(r *sam.Record, buf *bytes.Buffer) error {
	if len(r.Name) == 0 || len(r.Name) > 254 {
		return errNameAbsentOrTooLong
	}
	if r.Qual != nil && len(r.Qual) != r.Seq.Length {
		return errSeqQualMismatch
	}
	var aux []byte
	for _, a := range r.AuxFields {
		aux = append(aux, []byte(a)...)
		switch a.Type() {
		case 'Z', 'H':
			aux = append(aux, 0)
		}
	}

	var w [4]byte
	put32 := func(v int32) {
		binary.LittleEndian.PutUint32(w[:], uint32(v))
		buf.Write(w[:])
	}
	put16 := func(v uint16) {
		binary.LittleEndian.PutUint16(w[:2], v)
		buf.Write(w[:2])
	}

	put32(int32(r.Ref.ID()))
	put32(int32(r.Pos))
	buf.WriteByte(byte(len(r.Name) + 1)) // including '\0'
	buf.WriteByte(r.MapQ)
	put16(uint16(r.Bin()))
	put16(uint16(len(r.Cigar)))
	put16(uint16(r.Flags))
	put32(int32(r.Seq.Length))
	put32(int32(r.MateRef.ID()))
	put32(int32(r.MatePos))
	put32(int32(r.TempLen))

	buf.WriteString(r.Name)
	buf.WriteByte(0)
	for _, o := range r.Cigar {
		put32(int32(o))
	}
	for _, d := range r.Seq.Seq {
		buf.WriteByte(byte(d))
	}
	if r.Qual != nil {
		buf.Write(r.Qual)
	} else {
		for i := 0; i < r.Seq.Length; i++ {
			buf.WriteByte(0xff)
		}
	}
	buf.Write(aux)
	return nil
}
