package server2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpcpool/myco/dtypes"
)

func testParams() dtypes.Params {
	return dtypes.Params{D: 3, Z: 4, Delta: 3, Nu: 1}
}

func fullBucket(t *testing.T, z int) dtypes.Bucket {
	t.Helper()
	b := dtypes.NewBucket()
	for i := 0; i < z; i++ {
		blk, err := dtypes.NewRandomBlock()
		require.NoError(t, err)
		b.Push(blk)
	}
	return b
}

func TestNewRejectsBadParams(t *testing.T) {
	_, err := New(dtypes.Params{D: 0, Z: 1, Delta: 1, Nu: 1})
	assert.Error(t, err)
	_, err = New(dtypes.Params{D: 3, Z: 0, Delta: 1, Nu: 1})
	assert.Error(t, err)
	_, err = New(dtypes.Params{D: 3, Z: 4, Delta: 100, Nu: 1})
	assert.Error(t, err, "Delta larger than the database")
}

func TestReadAndStoreThenWrite(t *testing.T) {
	params := testParams()
	s, err := New(params)
	require.NoError(t, err)

	indices := []int{1, 2, 4, 8}
	buckets, err := s.ReadAndStorePathIndices(indices)
	require.NoError(t, err)
	require.Len(t, buckets, 4)
	for _, b := range buckets {
		assert.Zero(t, b.Len(), "fresh tree serves empty buckets")
	}

	written := make([]dtypes.Bucket, len(indices))
	for i := range written {
		written[i] = fullBucket(t, params.Z)
	}
	prfKey, err := dtypes.RandomKey()
	require.NoError(t, err)
	require.NoError(t, s.Write(written, prfKey))

	assert.Equal(t, uint64(1), s.Epoch())
	keys := s.GetPrfKeys()
	require.Len(t, keys, 1)
	assert.Equal(t, prfKey, keys[0])

	got, err := s.ReadPathsClient(indices)
	require.NoError(t, err)
	for i := range got {
		assert.Equal(t, written[i], got[i])
	}
}

func TestWriteRejectsCountMismatch(t *testing.T) {
	s, err := New(testParams())
	require.NoError(t, err)
	_, err = s.ReadAndStorePathIndices([]int{1, 2})
	require.NoError(t, err)

	k, err := dtypes.RandomKey()
	require.NoError(t, err)
	err = s.Write([]dtypes.Bucket{dtypes.NewBucket()}, k)
	assert.ErrorIs(t, err, ErrBucketCountMismatch)
}

func TestPrfKeyRingEviction(t *testing.T) {
	params := testParams() // Delta = 3
	s, err := New(params)
	require.NoError(t, err)

	var lastKey dtypes.Key
	for epoch := 0; epoch < 5; epoch++ {
		_, err := s.ReadAndStorePathIndices([]int{1})
		require.NoError(t, err)
		lastKey, err = dtypes.RandomKey()
		require.NoError(t, err)
		require.NoError(t, s.Write([]dtypes.Bucket{dtypes.NewBucket()}, lastKey))

		wantLen := epoch + 1
		if wantLen > params.Delta {
			wantLen = params.Delta
		}
		keys := s.GetPrfKeys()
		assert.Len(t, keys, wantLen, "epoch %d", epoch)
		assert.Equal(t, lastKey, keys[len(keys)-1], "newest key is last")
	}
	assert.Equal(t, uint64(5), s.Epoch())
}

func TestChunkedReadAndWrite(t *testing.T) {
	params := testParams()
	s, err := New(params)
	require.NoError(t, err)

	indices := []int{1, 3, 7, 15}
	s.StorePathIndices(indices)

	// The whole path set fits into chunk 0 under the 10 MiB cap.
	buckets, err := s.ReadPathsetChunk(0)
	require.NoError(t, err)
	assert.Len(t, buckets, len(indices))

	_, err = s.ReadPathsetChunk(1)
	assert.ErrorIs(t, err, ErrChunkOutOfRange)
	_, err = s.ReadPathsetChunk(-1)
	assert.ErrorIs(t, err, ErrChunkOutOfRange)

	written := make([]dtypes.Bucket, len(indices))
	for i := range written {
		written[i] = fullBucket(t, params.Z)
	}
	require.NoError(t, s.ChunkWrite(written, 0))
	prfKey, err := dtypes.RandomKey()
	require.NoError(t, err)
	s.FinalizeEpoch(prfKey)

	assert.Equal(t, uint64(1), s.Epoch())
	got, err := s.ReadPathsClientChunk(0, indices)
	require.NoError(t, err)
	require.Len(t, got, len(indices))
	for i := range got {
		assert.Equal(t, written[i], got[i])
	}
}

func TestReadRejectsOutOfRangeIndex(t *testing.T) {
	s, err := New(testParams())
	require.NoError(t, err)
	_, err = s.ReadPathsClient([]int{16})
	assert.Error(t, err)
	_, err = s.ReadPathsClient([]int{0})
	assert.Error(t, err)
}

func TestRandomFill(t *testing.T) {
	params := testParams()
	s, err := New(params, WithRandomBuckets())
	require.NoError(t, err)
	buckets, err := s.ReadPathsClient([]int{1, 15})
	require.NoError(t, err)
	for _, b := range buckets {
		assert.Equal(t, params.Z, b.Len())
	}
}
