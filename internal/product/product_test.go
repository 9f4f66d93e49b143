// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package product_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybscloud/pq/internal/product"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := product.Metadata{
		Origin:    "KKCI",
		Ident:     "TAFKORD",
		Feedtype:  7,
		Seqno:     42,
		ArrivalUS: 1234567890,
		Size:      5,
		Signature: [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
	}
	data := []byte("hello")
	buf := product.Encode(m, data)
	assert.Len(t, buf, product.EncodedLen(len(data)))

	gotMeta, gotData, err := product.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, m, gotMeta)
	assert.Equal(t, data, gotData)
}

func TestEncodedLenIndependentOfFieldContent(t *testing.T) {
	short := product.Metadata{Origin: "A", Ident: "B"}
	long := product.Metadata{Origin: strings.Repeat("x", 200), Ident: strings.Repeat("y", 255)}
	data := []byte("payload")
	assert.Equal(t, len(product.Encode(short, data)), len(product.Encode(long, data)))
	assert.Equal(t, product.EncodedLen(len(data)), len(product.Encode(short, data)))
}

func TestEncodeClipsOversizedFields(t *testing.T) {
	m := product.Metadata{Origin: strings.Repeat("a", 300), Ident: strings.Repeat("b", 300)}
	buf := product.Encode(m, nil)
	gotMeta, _, err := product.Decode(buf)
	require.NoError(t, err)
	assert.Len(t, gotMeta.Origin, 255)
	assert.Len(t, gotMeta.Ident, 255)
}

func TestDecodeTruncatedHeaderFails(t *testing.T) {
	_, _, err := product.Decode(make([]byte, product.HeaderLen-1))
	assert.ErrorIs(t, err, product.ErrTruncated)
}

func TestDecodeTruncatedPayloadFails(t *testing.T) {
	m := product.Metadata{Size: 100}
	buf := product.Encode(m, nil) // claims Size=100 but carries no payload bytes
	_, _, err := product.Decode(buf)
	assert.ErrorIs(t, err, product.ErrTruncated)
}

func TestEncodedLenEmptyPayload(t *testing.T) {
	buf := product.Encode(product.Metadata{}, nil)
	assert.Len(t, buf, product.HeaderLen)
}
