package nodeid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceSymmetric(t *testing.T) {
	t.Parallel()

	a := New([]byte{0x12, 0x34})
	b := New([]byte{0xAB, 0xCD})

	assert.True(t, Distance(a, b).Equal(Distance(b, a)))
}

func TestDistanceSelfIsZero(t *testing.T) {
	t.Parallel()

	a := New([]byte{0x12, 0x34, 0x56})
	assert.True(t, Distance(a, a).IsZero())
}

func TestDistanceTriangleInequality(t *testing.T) {
	t.Parallel()

	a := New([]byte{0x01, 0x02, 0x03})
	b := New([]byte{0xFF, 0x00, 0x10})
	c := New([]byte{0x0A, 0x0B, 0x0C})

	// Under XOR, a^c == (a^b)^(b^c) exactly (not merely an inequality).
	ac := Distance(a, c)
	abbc := Distance(Distance(a, b), Distance(b, c))
	assert.True(t, ac.Equal(abbc))
}

func TestBucketIndexZeroDistanceRejected(t *testing.T) {
	t.Parallel()

	_, ok := BucketIndex(New([]byte{0, 0, 0}))
	assert.False(t, ok)
}

func TestBucketIndexMSBFirst(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		d        []byte
		expected int
	}{
		{"top bit of first byte", []byte{0x80, 0x00}, 0},
		{"second bit of first byte", []byte{0x40, 0x00}, 1},
		{"bottom bit of first byte", []byte{0x01, 0x00}, 7},
		{"top bit of second byte", []byte{0x00, 0x80}, 8},
		{"bottom bit of second byte", []byte{0x00, 0x01}, 15},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			idx, ok := BucketIndex(New(tc.d))
			require.True(t, ok)
			assert.Equal(t, tc.expected, idx)
		})
	}
}

func TestCompareOrdering(t *testing.T) {
	t.Parallel()

	small := New([]byte{0x00, 0x01})
	big := New([]byte{0x00, 0x02})

	assert.True(t, Less(small, big))
	assert.False(t, Less(big, small))
	assert.Equal(t, 0, Compare(small, small))
}

func TestFromFileIsSHA256(t *testing.T) {
	t.Parallel()

	id := FromFile([]byte("hello world\n"))
	assert.Len(t, id, Size)
}

func TestFromHexRoundTripsWithString(t *testing.T) {
	t.Parallel()

	id := FromFile([]byte("round trip me"))
	decoded, err := FromHex(id.String())
	require.NoError(t, err)
	assert.True(t, id.Equal(decoded))
}

func TestFromHexRejectsMalformedInput(t *testing.T) {
	t.Parallel()

	_, err := FromHex("not-hex!!")
	assert.Error(t, err)
}
