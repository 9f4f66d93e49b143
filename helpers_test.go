// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pq_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hybscloud/pq"
)

func testPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "queue.pq")
}

// testOptions returns small, deterministic options suitable for most
// tests: fixed arena seed, 64 product slots, a 64KiB data area.
func testOptions(path string) *pq.Options {
	return pq.New(path).Capacity(64).DataSize(1 << 16).Seed(1)
}

func mustCreate(t *testing.T, o *pq.Options) *pq.Queue {
	t.Helper()
	q, err := pq.Create(o)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func corruptFirstBytes(t *testing.T, path string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteAt([]byte{0, 0, 0, 0, 0, 0, 0, 0}, 0)
	require.NoError(t, err)
}

func sig(b byte) [16]byte {
	var s [16]byte
	s[0] = b
	return s
}

func testProduct(sigByte byte, origin, ident string, data string) pq.Product {
	return pq.Product{
		Metadata: pq.Metadata{
			Origin:    origin,
			Ident:     ident,
			Feedtype:  1,
			Seqno:     1,
			ArrivalUS: 0,
			Signature: sig(sigByte),
		},
		Data: []byte(data),
	}
}

// fixedClock returns a Clock (per [pq.Options.Clock]) that starts at
// startUS and advances by one microsecond on every call, giving
// deterministic, collision-free insertion timestamps.
func fixedClock(startUS int64) func() int64 {
	us := startUS
	return func() int64 {
		v := us
		us++
		return v
	}
}
