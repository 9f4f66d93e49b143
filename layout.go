// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pq

import (
	"github.com/hybscloud/pq/internal/arena"
	"github.com/hybscloud/pq/internal/region"
	"github.com/hybscloud/pq/internal/sigindex"
	"github.com/hybscloud/pq/internal/timeindex"
)

// geometry is the computed on-disk layout for a given (pageSize,
// dataSize, capacity) tuple (§6.1). It is entirely a pure function of
// those three inputs, so Open recomputes it from the control block
// rather than storing it redundantly.
type geometry struct {
	dataOffset  uint64
	dataSize    uint64
	arenaOffset int64
	regionOffset int64
	timeOffset  int64
	sigOffset   int64
	indexOffset uint64
	indexSize   uint64
	totalSize   int64
	capTable    []uint32
}

func alignUp(v, unit uint64) uint64 {
	if unit == 0 {
		return v
	}
	if r := v % unit; r != 0 {
		v += unit - r
	}
	return v
}

// computeGeometry lays out the index area in FB -> RL -> TQ -> SX order
// (the arena must precede both skip-list structures that draw from it;
// the region table and time index may follow in either order, so the
// on-disk physical order departs slightly from the diagram in §6.1,
// which lists "region list, time index, ... arena, ... signature index"
// — the arena is physically first here since Region/TimeIndex.New both
// require an already-constructed *arena.Arena).
func computeGeometry(pageSize uint32, dataSize, capacity uint64) geometry {
	capTable := arena.Sizing(capacity)

	dataOffset := uint64(pageSize)
	indexOffset := dataOffset + dataSize

	arenaOff := int64(indexOffset)
	arenaSize := arena.Size(capTable)

	regionOff := arenaOff + arenaSize
	regionSize := region.Size(capacity)

	timeOff := regionOff + regionSize
	timeSize := timeindex.Size(capacity)

	sigOff := timeOff + timeSize
	sigSize := sigindex.Size(capacity)

	indexSize := uint64(arenaSize + regionSize + timeSize + sigSize)

	return geometry{
		dataOffset:   dataOffset,
		dataSize:     dataSize,
		arenaOffset:  arenaOff,
		regionOffset: regionOff,
		timeOffset:   timeOff,
		sigOffset:    sigOff,
		indexOffset:  indexOffset,
		indexSize:    indexSize,
		totalSize:    int64(indexOffset + indexSize),
		capTable:     capTable,
	}
}
