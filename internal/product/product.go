// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package product implements the encode-then-copy boundary between a
// caller's Product value and the bytes stored in a data-area region: a
// simple fixed-width binary record, not real XDR (out of scope, per the
// Non-goals) but standing in for it as an opaque, fixed-shape record.
// The header is fixed-width (Origin and Ident occupy their full 255-byte
// field regardless of actual length) precisely so that a region's
// required extent is a pure function of the payload size alone — the
// property [Queue.Reserve] needs, since it must allocate before the
// caller's Metadata (and therefore the true Origin/Ident lengths) exists.
package product

import (
	"encoding/binary"
	"errors"
)

// ErrTruncated indicates buf is too short to contain a valid record.
var ErrTruncated = errors.New("product: truncated record")

// maxFieldLen bounds Origin and Ident, matching the 255-byte limit in
// the data model.
const maxFieldLen = 255

// HeaderLen is the fixed size of the encoded header that precedes the
// payload in every record: a 1-byte length plus a 255-byte field for
// Origin, the same for Ident, then Feedtype, Seqno, ArrivalUS, Size,
// and Signature.
const HeaderLen = (1 + maxFieldLen) + (1 + maxFieldLen) + 4 + 4 + 8 + 4 + 16

// Metadata mirrors the public pq.Metadata shape without importing the
// root package (which imports this one), avoiding an import cycle.
type Metadata struct {
	Origin    string
	Ident     string
	Feedtype  uint32
	Seqno     uint32
	ArrivalUS int64
	Size      uint32
	Signature [16]byte
}

func clip(s string) string {
	if len(s) > maxFieldLen {
		return s[:maxFieldLen]
	}
	return s
}

// EncodedLen returns the number of bytes Encode will produce for a
// payload of dataLen bytes — independent of Origin/Ident content,
// by construction.
func EncodedLen(dataLen int) int { return HeaderLen + dataLen }

// Encode writes m and data into a single contiguous, fixed-width-header
// record.
func Encode(m Metadata, data []byte) []byte {
	origin := clip(m.Origin)
	ident := clip(m.Ident)
	buf := make([]byte, EncodedLen(len(data)))
	o := 0
	buf[o] = byte(len(origin))
	o++
	copy(buf[o:o+maxFieldLen], origin)
	o += maxFieldLen
	buf[o] = byte(len(ident))
	o++
	copy(buf[o:o+maxFieldLen], ident)
	o += maxFieldLen

	le := binary.LittleEndian
	le.PutUint32(buf[o:], m.Feedtype)
	o += 4
	le.PutUint32(buf[o:], m.Seqno)
	o += 4
	le.PutUint64(buf[o:], uint64(m.ArrivalUS))
	o += 8
	le.PutUint32(buf[o:], m.Size)
	o += 4
	copy(buf[o:o+16], m.Signature[:])
	o += 16

	copy(buf[o:], data)
	return buf
}

// Decode parses a record produced by Encode. The returned data slice
// aliases buf; callers that need an independent copy must clone it.
func Decode(buf []byte) (Metadata, []byte, error) {
	var m Metadata
	if len(buf) < HeaderLen {
		return m, nil, ErrTruncated
	}
	o := 0
	originLen := int(buf[o])
	o++
	if originLen > maxFieldLen {
		return m, nil, ErrTruncated
	}
	m.Origin = string(buf[o : o+originLen])
	o += maxFieldLen
	identLen := int(buf[o])
	o++
	if identLen > maxFieldLen {
		return m, nil, ErrTruncated
	}
	m.Ident = string(buf[o : o+identLen])
	o += maxFieldLen

	le := binary.LittleEndian
	m.Feedtype = le.Uint32(buf[o:])
	o += 4
	m.Seqno = le.Uint32(buf[o:])
	o += 4
	m.ArrivalUS = int64(le.Uint64(buf[o:]))
	o += 8
	m.Size = le.Uint32(buf[o:])
	o += 4
	copy(m.Signature[:], buf[o:o+16])
	o += 16

	if uint32(len(buf)-o) < m.Size {
		return m, nil, ErrTruncated
	}
	return m, buf[o : o+int(m.Size)], nil
}
