// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pq_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybscloud/pq"
	"github.com/hybscloud/pq/internal/product"
)

func TestInsertThenSequenceRoundTrip(t *testing.T) {
	o := testOptions(testPath(t)).Clock(fixedClock(1000))
	q := mustCreate(t, o)

	p := testProduct(1, "KKCI", "TAFKORD", "hello")
	require.NoError(t, q.Insert(p))

	var got pq.Metadata
	var gotData []byte
	err := q.Sequence(pq.GT, pq.ClassFilter{}, func(m pq.Metadata, data []byte) error {
		got = m
		gotData = append([]byte(nil), data...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "KKCI", got.Origin)
	assert.Equal(t, "TAFKORD", got.Ident)
	assert.Equal(t, []byte("hello"), gotData)
}

func TestInsertDuplicateSignatureFails(t *testing.T) {
	q := mustCreate(t, testOptions(testPath(t)).Clock(fixedClock(1)))
	p := testProduct(2, "A", "B", "x")
	require.NoError(t, q.Insert(p))
	err := q.Insert(p)
	assert.ErrorIs(t, err, pq.ErrDup)
}

func TestInsertTooBigFails(t *testing.T) {
	q := mustCreate(t, pq.New(testPath(t)).Capacity(4).DataSize(64).Seed(1))
	p := testProduct(3, "A", "B", string(make([]byte, 1024)))
	err := q.Insert(p)
	assert.ErrorIs(t, err, pq.ErrBig)
}

func TestReserveCommitRoundTrip(t *testing.T) {
	q := mustCreate(t, testOptions(testPath(t)).Clock(fixedClock(5)))
	r, err := q.Reserve(5, sig(4))
	require.NoError(t, err)
	copy(r.Bytes(), []byte("abcde"))

	require.NoError(t, q.Commit(r, pq.Metadata{Origin: "O", Ident: "I", Signature: sig(4)}))

	var gotData []byte
	err = q.Sequence(pq.GT, pq.ClassFilter{}, func(m pq.Metadata, data []byte) error {
		gotData = append([]byte(nil), data...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("abcde"), gotData)
}

func TestReserveDiscardFreesRegion(t *testing.T) {
	q := mustCreate(t, testOptions(testPath(t)).Clock(fixedClock(1)))
	r, err := q.Reserve(5, sig(5))
	require.NoError(t, err)
	require.NoError(t, q.Discard(r))

	// The signature is free again since the reservation was discarded.
	r2, err := q.Reserve(5, sig(5))
	require.NoError(t, err)
	require.NoError(t, q.Discard(r2))
}

func TestCommitAfterDoneFails(t *testing.T) {
	q := mustCreate(t, testOptions(testPath(t)).Clock(fixedClock(1)))
	r, err := q.Reserve(5, sig(6))
	require.NoError(t, err)
	require.NoError(t, q.Discard(r))

	err = q.Commit(r, pq.Metadata{Signature: sig(6)})
	assert.ErrorIs(t, err, pq.ErrInvalid)
}

func TestDeleteBySignatureRemovesProduct(t *testing.T) {
	q := mustCreate(t, testOptions(testPath(t)).Clock(fixedClock(1)))
	require.NoError(t, q.Insert(testProduct(7, "A", "B", "x")))
	require.NoError(t, q.DeleteBySignature(sig(7)))

	err := q.Sequence(pq.GT, pq.ClassFilter{}, func(m pq.Metadata, data []byte) error {
		t.Fatal("unexpected product after delete")
		return nil
	})
	assert.ErrorIs(t, err, pq.ErrEnd)
}

func TestDeleteBySignatureMissingFails(t *testing.T) {
	q := mustCreate(t, testOptions(testPath(t)))
	err := q.DeleteBySignature(sig(99))
	assert.ErrorIs(t, err, pq.ErrNotFound)
}

func TestDeleteBySignatureOfUncommittedReservation(t *testing.T) {
	q := mustCreate(t, testOptions(testPath(t)))
	_, err := q.Reserve(5, sig(8))
	require.NoError(t, err)

	require.NoError(t, q.DeleteBySignature(sig(8)))

	_, err = q.Reserve(5, sig(8))
	require.NoError(t, err, "signature should be free again after delete of uncommitted reservation")
}

func TestEvictionReclaimsOldestWhenFull(t *testing.T) {
	// A data area sized to hold exactly one product's record; a second
	// insert must evict the first rather than failing with ErrAccess.
	oneRecord := uint64(product.EncodedLen(1))
	aligned := (oneRecord + 7) / 8 * 8
	o := pq.New(testPath(t)).Capacity(8).DataSize(aligned).Seed(1).Clock(fixedClock(100))
	q := mustCreate(t, o)

	require.NoError(t, q.Insert(testProduct(1, "A", "B", "x")))
	require.NoError(t, q.Insert(testProduct(2, "A", "B", "y")))

	stats, err := q.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Nelems, "only the surviving product should remain")

	// The evicted signature is gone.
	err = q.DeleteBySignature(sig(1))
	assert.ErrorIs(t, err, pq.ErrNotFound)

	// The newest product survived.
	require.NoError(t, q.DeleteBySignature(sig(2)))
}
