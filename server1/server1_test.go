//go:build !noenc

package server1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpcpool/myco/dtypes"
	"github.com/rpcpool/myco/mycocrypto"
	"github.com/rpcpool/myco/server2"
)

func testParams() dtypes.Params {
	return dtypes.Params{D: 3, Z: 4, Delta: 4, Nu: 1}
}

// storageAdapter wires a real in-process Server2 behind the coordinator's
// access interface.
type storageAdapter struct {
	s2 *server2.Server2
}

func (a *storageAdapter) ReadPaths(indices []int) ([]dtypes.Bucket, error) {
	return a.s2.ReadAndStorePathIndices(indices)
}

func (a *storageAdapter) Write(buckets []dtypes.Bucket, prfKey dtypes.Key) error {
	return a.s2.Write(buckets, prfKey)
}

func newTestPair(t *testing.T, params dtypes.Params) (*Server1, *server2.Server2) {
	t.Helper()
	s2, err := server2.New(params)
	require.NoError(t, err)
	s1, err := New(params, &storageAdapter{s2: s2})
	require.NoError(t, err)
	return s1, s2
}

func queueOneWrite(t *testing.T, s1 *Server1) {
	t.Helper()
	ct := make([]byte, dtypes.InnerBlockSize)
	f := make([]byte, 32)
	kOblvT, err := dtypes.RandomKey()
	require.NoError(t, err)
	require.NoError(t, s1.QueueWrite(ct, f, kOblvT, []byte("writer")))
}

func TestQueueWriteBeforeInit(t *testing.T) {
	s1, _ := newTestPair(t, testParams())
	k, err := dtypes.RandomKey()
	require.NoError(t, err)
	err = s1.QueueWrite(nil, nil, k, nil)
	assert.ErrorIs(t, err, ErrNoBatchInFlight)
	assert.ErrorIs(t, s1.BatchWrite(), ErrNoBatchInFlight)
}

func TestEmptyEpochAdvances(t *testing.T) {
	s1, s2 := newTestPair(t, testParams())

	require.NoError(t, s1.BatchInit(0))
	require.NoError(t, s1.BatchWrite())

	assert.Equal(t, uint64(1), s1.Epoch())
	assert.Equal(t, uint64(1), s2.Epoch())
	assert.Len(t, s2.GetPrfKeys(), 1, "the epoch key is published even for an empty epoch")
}

func TestBatchWriteCapsAndAlignsBuckets(t *testing.T) {
	params := testParams()
	s1, s2 := newTestPair(t, params)

	require.NoError(t, s1.BatchInit(3))
	for i := 0; i < 3; i++ {
		queueOneWrite(t, s1)
	}
	require.NoError(t, s1.BatchWrite())

	storage := s2.Tree()
	metadata := s1.MetadataTree()
	touched := 0
	for idx := 1; idx <= storage.NumNodes(); idx++ {
		bucket, ok := storage.GetIndex(idx)
		require.True(t, ok)
		require.LessOrEqual(t, bucket.Len(), params.Z, "bucket %d", idx)

		meta, ok := metadata.GetIndex(idx)
		require.True(t, ok)
		if bucket.Len() > 0 {
			touched++
			assert.Equal(t, params.Z, bucket.Len(), "touched buckets are padded to Z")
			assert.Equal(t, bucket.Len(), meta.Len(), "metadata shadows its bucket")
		}
	}
	assert.Greater(t, touched, 0)
}

func TestRepeatedEpochsStayBounded(t *testing.T) {
	// Z of 8 covers the worst case of every live message (2 writes over a
	// 4-epoch lifetime) colliding in one bucket.
	params := dtypes.Params{D: 3, Z: 8, Delta: 4, Nu: 1}
	s1, s2 := newTestPair(t, params)

	for epoch := 0; epoch < 6; epoch++ {
		require.NoError(t, s1.BatchInit(2))
		queueOneWrite(t, s1)
		queueOneWrite(t, s1)
		require.NoError(t, s1.BatchWrite())

		storage := s2.Tree()
		for idx := 1; idx <= storage.NumNodes(); idx++ {
			bucket, ok := storage.GetIndex(idx)
			require.True(t, ok)
			require.LessOrEqual(t, bucket.Len(), params.Z, "epoch %d bucket %d", epoch, idx)
		}
	}
	assert.Equal(t, uint64(6), s1.Epoch())
	assert.Len(t, s2.GetPrfKeys(), params.Delta)
}

func TestBucketOverflowIsReportedNotPanicked(t *testing.T) {
	params := testParams() // Z = 4
	s1, _ := newTestPair(t, params)

	require.NoError(t, s1.BatchInit(32))

	// Identical (f, cs) pairs collide on one bucket by construction.
	ct := make([]byte, dtypes.InnerBlockSize)
	f := make([]byte, 32)
	for i := 0; i < 32; i++ {
		kOblvT, err := dtypes.RandomKey()
		require.NoError(t, err)
		require.NoError(t, s1.QueueWrite(ct, f, kOblvT, []byte("collider")))
	}

	err := s1.BatchWrite()
	assert.ErrorIs(t, err, ErrBucketOverflow)

	// The aborted epoch regenerates cleanly.
	require.NoError(t, s1.BatchInit(1))
	queueOneWrite(t, s1)
	require.NoError(t, s1.BatchWrite())
}

func TestQueuedMessageSurvivesRoundTrip(t *testing.T) {
	params := testParams()
	s1, s2 := newTestPair(t, params)

	// Hand-rolled client side: encrypt a message under the message key,
	// queue it so Server1 adds the outer layer, and find it again in the
	// stored tree.
	conversation, err := dtypes.RandomKey()
	require.NoError(t, err)
	kMsg, err := mycocrypto.Kdf(conversation.Bytes(), "MSG")
	require.NoError(t, err)
	kOblvTBytes, err := mycocrypto.Kdf(conversation.Bytes(), "ORAM")
	require.NoError(t, err)
	kOblvT, err := dtypes.KeyFromBytes(kOblvTBytes)
	require.NoError(t, err)

	msg := []byte("meet me at the usual place")
	ct, err := mycocrypto.Encrypt(kMsg, msg, mycocrypto.Single)
	require.NoError(t, err)
	f := make([]byte, 32)

	require.NoError(t, s1.BatchInit(1))
	require.NoError(t, s1.QueueWrite(ct, f, kOblvT, []byte("alice")))
	require.NoError(t, s1.BatchWrite())

	// Walk the whole tree and decrypt with the oblivious key.
	storage := s2.Tree()
	var got []byte
	for idx := 1; idx <= storage.NumNodes(); idx++ {
		bucket, _ := storage.GetIndex(idx)
		for _, block := range bucket.Blocks {
			inner, err := mycocrypto.Decrypt(kOblvT.Bytes(), block)
			if err != nil {
				continue
			}
			outer, err := mycocrypto.Decrypt(kMsg, inner)
			if err != nil {
				continue
			}
			got = mycocrypto.TrimZeros(outer)
		}
	}
	assert.Equal(t, msg, got)
}
