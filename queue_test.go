// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pq_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybscloud/pq"
)

func TestCreateThenOpenRoundTrip(t *testing.T) {
	path := testPath(t)
	q := mustCreate(t, testOptions(path))
	require.NoError(t, q.Close())

	reopened, err := pq.Open(pq.New(path).Seed(1))
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(64), reopened.GetSlotCount())
	assert.Equal(t, uint64(1<<16), reopened.GetDataSize())
}

func TestCreateNilOptionsFails(t *testing.T) {
	_, err := pq.Create(nil)
	assert.ErrorIs(t, err, pq.ErrInvalid)
}

func TestCreateZeroCapacityFails(t *testing.T) {
	_, err := pq.Create(pq.New(testPath(t)).DataSize(1 << 16))
	assert.ErrorIs(t, err, pq.ErrInvalid)
}

func TestCreateZeroDataSizeFails(t *testing.T) {
	_, err := pq.Create(pq.New(testPath(t)).Capacity(8))
	assert.ErrorIs(t, err, pq.ErrInvalid)
}

func TestCreateNoClobberFailsOnExistingFile(t *testing.T) {
	path := testPath(t)
	mustCreate(t, testOptions(path))

	_, err := pq.Create(pq.New(path).Capacity(64).DataSize(1 << 16).NoClobber())
	assert.Error(t, err)
}

func TestOpenRejectsCorruptMagic(t *testing.T) {
	path := testPath(t)
	q := mustCreate(t, testOptions(path))
	require.NoError(t, q.Close())

	corruptFirstBytes(t, path)

	_, err := pq.Open(pq.New(path))
	assert.ErrorIs(t, err, pq.ErrCorrupt)
}

func TestOpenReadOnlyDoesNotIncrementWriteCount(t *testing.T) {
	path := testPath(t)
	q := mustCreate(t, testOptions(path))
	require.NoError(t, q.Close())

	opened, err := pq.Open(pq.New(path).ReadOnly())
	require.NoError(t, err)
	defer opened.Close()

	wc, err := opened.GetWriteCount()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), wc)
}

func TestOpenWritableIncrementsAndCloseDecrementsWriteCount(t *testing.T) {
	path := testPath(t)
	q := mustCreate(t, testOptions(path))
	require.NoError(t, q.Close())

	opened, err := pq.Open(pq.New(path))
	require.NoError(t, err)
	wc, err := opened.GetWriteCount()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), wc)
	require.NoError(t, opened.Close())

	reopened, err := pq.Open(pq.New(path).ReadOnly())
	require.NoError(t, err)
	defer reopened.Close()
	wc, err = reopened.GetWriteCount()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), wc)
}

func TestCloseIsIdempotent(t *testing.T) {
	q := mustCreate(t, testOptions(testPath(t)))
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
}

func TestInsertAfterCloseFailsInvalid(t *testing.T) {
	q := mustCreate(t, testOptions(testPath(t)))
	require.NoError(t, q.Close())
	err := q.Insert(pq.Product{Metadata: pq.Metadata{Signature: sig(1)}})
	assert.ErrorIs(t, err, pq.ErrInvalid)
}
