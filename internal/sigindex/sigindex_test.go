// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sigindex_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybscloud/pq/internal/sigindex"
	"github.com/hybscloud/pq/internal/wiretest"
)

func sig(b byte) [16]byte {
	var s [16]byte
	s[0] = b
	return s
}

func newTestSigIndex(t *testing.T, nalloc uint64) *sigindex.SigIndex {
	t.Helper()
	mem := wiretest.NewMem(sigindex.Size(nalloc))
	s := sigindex.New(mem, 0, nalloc)
	require.NoError(t, s.Init())
	return s
}

func TestAddFindRoundTrip(t *testing.T) {
	s := newTestSigIndex(t, 16)
	_, err := s.Add(sig(1), 5)
	require.NoError(t, err)

	_, slot, err := s.Find(sig(1))
	require.NoError(t, err)
	assert.Equal(t, uint32(5), slot)
}

func TestFindMissingReturnsNotFound(t *testing.T) {
	s := newTestSigIndex(t, 16)
	_, _, err := s.Find(sig(99))
	assert.ErrorIs(t, err, sigindex.ErrNotFound)
}

func TestFindDeleteRemovesEntry(t *testing.T) {
	s := newTestSigIndex(t, 16)
	_, err := s.Add(sig(2), 7)
	require.NoError(t, err)

	found, err := s.FindDelete(sig(2))
	require.NoError(t, err)
	assert.True(t, found)

	_, _, err = s.Find(sig(2))
	assert.ErrorIs(t, err, sigindex.ErrNotFound)

	found, err = s.FindDelete(sig(2))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestChainingSurvivesBucketCollisions(t *testing.T) {
	s := newTestSigIndex(t, 16)
	sigs := make([][16]byte, 10)
	for i := range sigs {
		sigs[i] = sig(byte(i + 1))
		_, err := s.Add(sigs[i], uint32(i))
		require.NoError(t, err)
	}
	for i, want := range sigs {
		_, slot, err := s.Find(want)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), slot)
	}
}

func TestAddFullWhenEntryPoolExhausted(t *testing.T) {
	s := newTestSigIndex(t, 2)
	_, err := s.Add(sig(1), 0)
	require.NoError(t, err)
	_, err = s.Add(sig(2), 1)
	require.NoError(t, err)
	_, err = s.Add(sig(3), 2)
	assert.ErrorIs(t, err, sigindex.ErrFull)
}

func TestFreedEntryIsReused(t *testing.T) {
	s := newTestSigIndex(t, 1)
	idx, err := s.Add(sig(1), 0)
	require.NoError(t, err)
	found, err := s.FindDelete(sig(1))
	require.NoError(t, err)
	require.True(t, found)

	idx2, err := s.Add(sig(2), 1)
	require.NoError(t, err)
	assert.Equal(t, idx, idx2)
}
