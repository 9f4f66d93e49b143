// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hybscloud/pq/internal/wire"
)

func TestControlBlockRoundTrip(t *testing.T) {
	cb := &wire.ControlBlock{
		Magic:           wire.Magic,
		Version:         wire.Version,
		WriteCountMagic: wire.Magic,
		Align:           8,
		PageSize:        4096,
		DataOffset:      4096,
		DataSize:        1 << 20,
		IndexOffset:     1 << 21,
		IndexSize:       1 << 16,
		Capacity:        1000,
		WriteCount:      3,
		HighWaterBytes:  2048,
		MaxProducts:     12,
		MostRecentUS:    -1,
		MVRTSet:         true,
		MVRTus:          500,
		MVRTUsageBytes:  1024,
		MVRTUsageSlots:  4,
		FullQueue:       false,
		Nelems:          7,
		UsedBytes:       4096,
		Path:            "/tmp/queue.pq",
	}
	buf := cb.Encode()
	assert.Len(t, buf, wire.ControlBlockSize)

	got := &wire.ControlBlock{}
	got.Decode(buf)
	assert.Equal(t, cb, got)
}

func TestRegionSlotRoundTrip(t *testing.T) {
	s := &wire.RegionSlot{
		State:       wire.SlotInUse,
		Offset:      12345,
		Extent:      678,
		OffsetArena: 9,
		OffsetLevel: 2,
		ExtentArena: 11,
		ExtentLevel: 3,
		NextEmpty:   77,
		TimeKey:     -42,
		Signature:   [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		ArrivalUS:   999888,
	}
	buf := make([]byte, wire.RegionSlotSize)
	s.Encode(buf)

	got := &wire.RegionSlot{}
	got.Decode(buf)
	assert.Equal(t, s, got)
}

func TestTimeNodeRoundTrip(t *testing.T) {
	n := &wire.TimeNode{
		KeyUS:      -7,
		RegionSlot: 42,
		Arena:      17,
		Level:      3,
		NextFree:   wire.NilIndex,
	}
	buf := make([]byte, wire.TimeNodeSize)
	n.Encode(buf)

	got := &wire.TimeNode{}
	got.Decode(buf)
	assert.Equal(t, n, got)
}

func TestSigEntryRoundTrip(t *testing.T) {
	e := &wire.SigEntry{
		Signature:  [16]byte{9, 9, 9},
		RegionSlot: 55,
		ChainNext:  wire.NilIndex,
	}
	buf := make([]byte, wire.SigEntrySize)
	e.Encode(buf)

	got := &wire.SigEntry{}
	got.Decode(buf)
	assert.Equal(t, e, got)
}

func TestBucketAndArenaPtrRoundTrip(t *testing.T) {
	buf := make([]byte, wire.BucketSize)
	wire.EncodeBucket(buf, 123456)
	assert.Equal(t, uint32(123456), wire.DecodeBucket(buf))

	buf2 := make([]byte, wire.ArenaSlotSize)
	wire.EncodeArenaPtr(buf2, wire.NilIndex)
	assert.Equal(t, wire.NilIndex, wire.DecodeArenaPtr(buf2))
}
