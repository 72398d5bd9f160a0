// Package server2 implements the Myco storage server: a dense tree of
// buckets written once per epoch by Server1, a FIFO ring of at most Delta
// epoch PRF keys, and chunked path reads for clients. Server2 never looks
// inside a bucket; everything it stores is ciphertext or uniform random
// padding.
package server2

import (
	"errors"
	"fmt"
	"sync"

	"k8s.io/klog/v2"

	"github.com/rpcpool/myco/dtypes"
	"github.com/rpcpool/myco/tree"
)

var (
	// ErrBucketCountMismatch is returned when a batch write does not cover
	// the stored path set exactly.
	ErrBucketCountMismatch = errors.New("bucket count does not match stored path set")

	// ErrChunkOutOfRange is returned for chunk indices past the end of the
	// stored path set.
	ErrChunkOutOfRange = errors.New("chunk index out of range")
)

// Option configures a Server2 at construction time.
type Option func(*Server2)

// WithRandomBuckets pre-fills the tree with full random buckets instead of
// empty ones, so benchmarks exercise realistic path sizes from the first
// epoch.
func WithRandomBuckets() Option {
	return func(s *Server2) { s.randomFill = true }
}

// Server2 holds the bucket tree across epochs. A single-writer /
// many-readers lock guards the tree, the key ring, and the path-set
// scratch: reads from one epoch's path set must not overlap a concurrent
// chunk write.
type Server2 struct {
	mu sync.RWMutex

	params      dtypes.Params
	tree        *tree.Dense[dtypes.Bucket]
	prfKeys     []dtypes.Key
	epoch       uint64
	pathIndices []int

	randomFill bool
}

// New allocates the storage tree, fully populated with empty buckets, or
// with full random buckets when WithRandomBuckets is given.
func New(params dtypes.Params, opts ...Option) (*Server2, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	s := &Server2{
		params: params,
		tree:   tree.NewDense[dtypes.Bucket](params.D),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.randomFill {
		for idx := 1; idx <= s.tree.NumNodes(); idx++ {
			b := dtypes.NewBucket()
			for j := 0; j < params.Z; j++ {
				blk, err := dtypes.NewRandomBlock()
				if err != nil {
					return nil, err
				}
				b.Push(blk)
			}
			if err := s.tree.SetIndex(idx, b); err != nil {
				return nil, err
			}
		}
		klog.V(1).Infof("server2: pre-filled %d buckets with random blocks", s.tree.NumNodes())
	} else {
		s.tree.Fill(dtypes.NewBucket())
	}
	return s, nil
}

// Epoch returns the current epoch counter.
func (s *Server2) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Params returns the deployment parameters.
func (s *Server2) Params() dtypes.Params {
	return s.params
}

// ReadAndStorePathIndices records the epoch's path set and returns the
// buckets at those indices, in the given order. Slots that were never
// written read as the default empty bucket.
func (s *Server2) ReadAndStorePathIndices(indices []int) ([]dtypes.Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pathIndices = append([]int(nil), indices...)
	return s.readIndices(indices)
}

// StorePathIndices records the path set without returning buckets. Used by
// the chunked read protocol before the per-chunk fetches.
func (s *Server2) StorePathIndices(indices []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pathIndices = append([]int(nil), indices...)
}

// ReadPathsetChunk returns the chunkIdx-th contiguous slice of the stored
// path set's buckets. Chunks hold at most NumBucketsPerReadPathsChunk
// buckets; the final chunk is short.
func (s *Server2) ReadPathsetChunk(chunkIdx int) ([]dtypes.Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunkSize := s.params.NumBucketsPerReadPathsChunk()
	start := chunkIdx * chunkSize
	if chunkIdx < 0 || start >= len(s.pathIndices) {
		return nil, fmt.Errorf("%w: %d", ErrChunkOutOfRange, chunkIdx)
	}
	end := start + chunkSize
	if end > len(s.pathIndices) {
		end = len(s.pathIndices)
	}
	return s.readIndices(s.pathIndices[start:end])
}

// ReadPathsClient returns the buckets at the given indices without
// touching the stored path set.
func (s *Server2) ReadPathsClient(indices []int) ([]dtypes.Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readIndices(indices)
}

// ReadPathsClientChunk is the chunked variant of ReadPathsClient for reads
// larger than the request size cap.
func (s *Server2) ReadPathsClientChunk(chunkIdx int, indices []int) ([]dtypes.Bucket, error) {
	chunkSize := s.params.NumBucketsPerReadPathsChunk()
	start := chunkIdx * chunkSize
	if chunkIdx < 0 || start >= len(indices) {
		return nil, fmt.Errorf("%w: %d", ErrChunkOutOfRange, chunkIdx)
	}
	end := start + chunkSize
	if end > len(indices) {
		end = len(indices)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readIndices(indices[start:end])
}

// ChunkWrite overwrites the chunkIdx-th slice of the stored path set with
// buckets. The caller finishes the epoch with FinalizeEpoch once every
// chunk has landed.
func (s *Server2) ChunkWrite(buckets []dtypes.Bucket, chunkIdx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chunkSize := s.params.NumBucketsPerBatchWriteChunk()
	start := chunkIdx * chunkSize
	if chunkIdx < 0 || start >= len(s.pathIndices) {
		return fmt.Errorf("%w: %d", ErrChunkOutOfRange, chunkIdx)
	}
	if start+len(buckets) > len(s.pathIndices) {
		return fmt.Errorf("%w: chunk %d with %d buckets overruns path set of %d", ErrBucketCountMismatch, chunkIdx, len(buckets), len(s.pathIndices))
	}
	for i, b := range buckets {
		if err := s.tree.SetIndex(s.pathIndices[start+i], b.Clone()); err != nil {
			return err
		}
	}
	return nil
}

// Write overwrites the whole stored path set with buckets, appends the
// epoch PRF key to the ring, and advances the epoch.
func (s *Server2) Write(buckets []dtypes.Bucket, prfKey dtypes.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(buckets) != len(s.pathIndices) {
		return fmt.Errorf("%w: got %d buckets for %d indices", ErrBucketCountMismatch, len(buckets), len(s.pathIndices))
	}
	for i, b := range buckets {
		if err := s.tree.SetIndex(s.pathIndices[i], b.Clone()); err != nil {
			return err
		}
	}
	s.addPrfKey(prfKey)
	s.epoch++
	klog.V(2).Infof("server2: epoch %d committed, %d buckets overwritten", s.epoch, len(buckets))
	return nil
}

// FinalizeEpoch closes an epoch whose bucket data arrived via ChunkWrite:
// it advances the epoch and publishes the PRF key.
func (s *Server2) FinalizeEpoch(prfKey dtypes.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.addPrfKey(prfKey)
	klog.V(2).Infof("server2: epoch %d finalized", s.epoch)
}

// addPrfKey appends k and evicts the oldest key once the ring would exceed
// Delta. Callers hold the write lock.
func (s *Server2) addPrfKey(k dtypes.Key) {
	s.prfKeys = append(s.prfKeys, k)
	if len(s.prfKeys) > s.params.Delta {
		s.prfKeys = s.prfKeys[1:]
	}
}

// GetPrfKeys returns a copy of the key ring, oldest first.
func (s *Server2) GetPrfKeys() []dtypes.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]dtypes.Key(nil), s.prfKeys...)
}

// Tree exposes the storage tree for state snapshots and usage statistics.
// The caller must not mutate it.
func (s *Server2) Tree() *tree.Dense[dtypes.Bucket] {
	return s.tree
}

func (s *Server2) readIndices(indices []int) ([]dtypes.Bucket, error) {
	out := make([]dtypes.Bucket, 0, len(indices))
	for _, idx := range indices {
		b, ok := s.tree.GetIndex(idx)
		if !ok {
			if idx < 1 || idx > s.tree.NumNodes() {
				return nil, fmt.Errorf("read index %d: %w", idx, tree.ErrIndexOutOfRange)
			}
			b = dtypes.NewBucket()
		}
		out = append(out, b.Clone())
	}
	return out, nil
}
