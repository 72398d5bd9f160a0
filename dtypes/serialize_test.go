package dtypes

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBucket(t *testing.T, numBlocks int) Bucket {
	t.Helper()
	b := NewBucket()
	for i := 0; i < numBlocks; i++ {
		blk, err := NewRandomBlock()
		require.NoError(t, err)
		b.Push(blk)
	}
	return b
}

func TestBucketSerializationRoundTrip(t *testing.T) {
	for _, numBlocks := range []int{0, 1, 7} {
		b := testBucket(t, numBlocks)
		data, err := MarshalBucket(b)
		require.NoError(t, err)
		got, err := UnmarshalBucket(data)
		require.NoError(t, err)
		assert.Equal(t, b, got)
	}
}

func TestShuffleKeepsBucketAndMetadataAligned(t *testing.T) {
	const n = 16
	bucket := NewBucket()
	meta := NewMetadata()
	for i := 0; i < n; i++ {
		blk, err := NewRandomBlock()
		require.NoError(t, err)
		// Tag each block so the pairing is checkable after shuffle.
		blk[0] = byte(i)
		bucket.Push(blk)

		k, err := RandomKey()
		require.NoError(t, err)
		p, err := RandomPath(8)
		require.NoError(t, err)
		meta.Push(p, k, Timestamp(i))
	}

	const seed = 12345
	bucket.Shuffle(rand.New(rand.NewSource(seed)))
	meta.Shuffle(rand.New(rand.NewSource(seed)))

	for i := 0; i < n; i++ {
		blk, ok := bucket.Get(i)
		require.True(t, ok)
		entry, ok := meta.Get(i)
		require.True(t, ok)
		assert.Equal(t, Timestamp(blk[0]), entry.Expiry, "pair %d broken by shuffle", i)
	}
}

func TestBucketClone(t *testing.T) {
	b := testBucket(t, 3)
	c := b.Clone()
	c.Blocks[0][0] ^= 0xff
	assert.NotEqual(t, b.Blocks[0][0], c.Blocks[0][0], "clone must not share block storage")
}
