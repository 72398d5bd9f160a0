// Package server1 implements the Myco write coordinator. Each epoch it
// samples a path set, pulls the matching buckets from Server2, absorbs the
// clients' queued writes plus every still-live message from the previous
// occupancy, pads and shuffles each touched bucket to exactly Z blocks, and
// ships the result back to Server2 together with the epoch PRF key.
package server1

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	mrand "math/rand"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/rpcpool/myco/dtypes"
	"github.com/rpcpool/myco/mycocrypto"
	"github.com/rpcpool/myco/tree"
)

var (
	// ErrLcaNotFound is returned when a write's path has no ancestor in the
	// epoch's path set. Structurally impossible while the root is part of
	// every path set, but kept explicit.
	ErrLcaNotFound = errors.New("lca not found in path set")

	// ErrBucketOverflow means a bucket exceeded Z during batch write. The
	// epoch is aborted; if this fires, Z is too small for the workload.
	ErrBucketOverflow = errors.New("bucket overflow: Z is too small for this workload")

	// ErrNoBatchInFlight is returned when QueueWrite or BatchWrite is
	// called before BatchInit.
	ErrNoBatchInFlight = errors.New("no batch in flight: call BatchInit first")
)

// Server2Access is the narrow view of the storage server that the write
// coordinator needs. The netapi package provides in-process and remote
// implementations.
type Server2Access interface {
	// ReadPaths fetches the buckets at the given indices and records the
	// index list as the epoch's path set on Server2.
	ReadPaths(indices []int) ([]dtypes.Bucket, error)
	// Write overwrites the recorded path set with buckets and publishes
	// the epoch PRF key.
	Write(buckets []dtypes.Bucket, prfKey dtypes.Key) error
}

type queueEntry struct {
	ct     []byte
	kOblvT dtypes.Key
	expiry dtypes.Timestamp
	path   dtypes.Path
}

// writeQueue collects the entries destined for one path-set bucket. Appends
// are per-entry atomic so concurrent QueueWrite calls only contend when
// they target the same bucket.
type writeQueue struct {
	mu      sync.Mutex
	entries []queueEntry
}

func (q *writeQueue) append(e queueEntry) {
	q.mu.Lock()
	q.entries = append(q.entries, e)
	q.mu.Unlock()
}

// Server1 is the write coordinator. BatchInit and BatchWrite own the trees
// exclusively; QueueWrite runs concurrently under a read lock plus the
// per-bucket queue locks.
type Server1 struct {
	mu sync.RWMutex

	params     dtypes.Params
	epoch      uint64
	kS1T       dtypes.Key
	numClients int
	s2         Server2Access

	p    *tree.Sparse[dtypes.Bucket]
	pNew *tree.Sparse[dtypes.Bucket]
	mNew *tree.Sparse[dtypes.Metadata]

	// metadata is the persistent shadow of Server2's tree: for every block
	// Server1 ever placed, the intended path, the per-epoch oblivious key,
	// and the expiry epoch.
	metadata *tree.Dense[dtypes.Metadata]

	pathIndices []int
	queues      map[int]*writeQueue
}

// New creates a write coordinator talking to s2.
func New(params dtypes.Params, s2 Server2Access) (*Server1, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	m := tree.NewDense[dtypes.Metadata](params.D)
	m.Fill(dtypes.NewMetadata())
	return &Server1{
		params:   params,
		s2:       s2,
		metadata: m,
	}, nil
}

// Epoch returns the number of completed batch writes.
func (s *Server1) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// MetadataTree exposes the persistent metadata shadow tree for state
// snapshots and usage statistics. The caller must not mutate it.
func (s *Server1) MetadataTree() *tree.Dense[dtypes.Metadata] {
	return s.metadata
}

// BatchInit starts an epoch for n writers: it samples Nu*n uniform paths,
// fetches their union from Server2 as the working tree P, allocates the
// empty shadow trees P' and M', and draws a fresh epoch PRF key.
func (s *Server1) BatchInit(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	numPaths := s.params.Nu * n
	paths := make([]dtypes.Path, 0, numPaths)
	for i := 0; i < numPaths; i++ {
		p, err := dtypes.RandomPath(s.params.D)
		if err != nil {
			return err
		}
		paths = append(paths, p)
	}
	indices := tree.PathIndices(paths)

	buckets, err := s.s2.ReadPaths(indices)
	if err != nil {
		return fmt.Errorf("failed to read path set from server2: %w", err)
	}
	p, err := tree.NewSparse(buckets, indices, s.params.D)
	if err != nil {
		return err
	}

	emptyBuckets := make([]dtypes.Bucket, len(indices))
	pNew, err := tree.NewSparse(emptyBuckets, indices, s.params.D)
	if err != nil {
		return err
	}
	emptyMetadata := make([]dtypes.Metadata, len(indices))
	mNew, err := tree.NewSparse(emptyMetadata, indices, s.params.D)
	if err != nil {
		return err
	}

	kS1T, err := dtypes.RandomKey()
	if err != nil {
		return err
	}

	queues := make(map[int]*writeQueue, len(indices))
	for _, idx := range indices {
		queues[idx] = &writeQueue{}
	}

	s.p, s.pNew, s.mNew = p, pNew, mNew
	s.pathIndices = indices
	s.queues = queues
	s.numClients = n
	s.kS1T = kS1T

	klog.V(2).Infof("server1: epoch %d batch init, %d writers, path set of %d nodes", s.epoch, n, len(indices))
	return nil
}

// QueueWrite accepts one client write for the current epoch. The message's
// path is l = PRF(k_S1_t, f || cs); the entry is queued at the deepest
// path-set bucket along that path with expiry epoch + Delta.
func (s *Server1) QueueWrite(ct, f []byte, kOblvT dtypes.Key, cs []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pNew == nil {
		return ErrNoBatchInFlight
	}

	l, err := mycocrypto.Prf(s.kS1T.Bytes(), append(append([]byte(nil), f...), cs...))
	if err != nil {
		return err
	}
	path := dtypes.PathFromBytes(l, s.params.D)

	_, denseIdx, err := s.pNew.LCAIndex(path)
	if err != nil {
		return fmt.Errorf("%w: path %s", ErrLcaNotFound, path)
	}
	q, ok := s.queues[denseIdx]
	if !ok {
		return fmt.Errorf("%w: no queue at index %d", ErrLcaNotFound, denseIdx)
	}
	q.append(queueEntry{
		ct:     append([]byte(nil), ct...),
		kOblvT: kOblvT,
		expiry: s.epoch + uint64(s.params.Delta),
		path:   path,
	})
	return nil
}

// BatchWrite runs the three-phase oblivious eviction: re-enqueue every
// still-live message out of P, install all queued entries into P'/M' with
// padding and paired shuffles, then publish P' and the epoch key to
// Server2.
func (s *Server1) BatchWrite() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pNew == nil {
		return ErrNoBatchInFlight
	}

	if err := s.evictLiveMessages(); err != nil {
		s.abortEpoch()
		return err
	}
	if err := s.installQueues(); err != nil {
		s.abortEpoch()
		return err
	}

	// Publish: metadata shadow first, then the bucket data to Server2.
	if err := s.metadata.OverwriteFromSparse(s.mNew); err != nil {
		s.abortEpoch()
		return err
	}
	s.queues = nil
	if err := s.s2.Write(s.pNew.Values(), s.kS1T); err != nil {
		s.abortEpoch()
		return fmt.Errorf("failed to publish batch to server2: %w", err)
	}
	s.epoch++
	s.p, s.pNew, s.mNew = nil, nil, nil
	klog.V(2).Infof("server1: epoch %d committed", s.epoch)
	return nil
}

// abortEpoch drops the in-flight trees; state regenerates on the next
// BatchInit.
func (s *Server1) abortEpoch() {
	s.p, s.pNew, s.mNew = nil, nil, nil
	s.queues = nil
}

// evictLiveMessages is phase A: walk P with the metadata shadow M, strip
// the outer layer of every unexpired block, and re-enqueue it at its
// path's LCA in the new tree. Every processed bucket performs exactly Z
// AEAD operations, dummy decryptions included, so the number of live
// messages never shows up as a timing difference.
func (s *Server1) evictLiveMessages() error {
	zeroKey := make([]byte, dtypes.KeySize)
	zeroBlock := make([]byte, dtypes.BlockSize)

	pairs := tree.ZipWithDense(s.p, s.metadata)
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i := range pairs {
		pair := &pairs[i]
		g.Go(func() error {
			bucket := pair.Left
			var meta dtypes.Metadata
			if pair.Right != nil {
				meta = *pair.Right
			}
			realOps := 0
			for b := 0; b < bucket.Len() && b < meta.Len(); b++ {
				entry := meta.Entries[b]
				if s.epoch >= entry.Expiry {
					continue
				}
				block, _ := bucket.Get(b)
				realOps++
				ct, err := mycocrypto.Decrypt(entry.Key.Bytes(), block)
				if err != nil {
					// Padding entry or foreign residue; it consumed one
					// real AEAD operation and contributes nothing.
					continue
				}
				_, denseIdx, err := s.pNew.LCAIndex(entry.Path)
				if err != nil {
					return fmt.Errorf("%w: evicted path %s", ErrLcaNotFound, entry.Path)
				}
				s.queues[denseIdx].append(queueEntry{
					ct:     ct,
					kOblvT: entry.Key,
					expiry: entry.Expiry,
					path:   entry.Path,
				})
			}
			if !mycocrypto.Disabled {
				for d := realOps; d < s.params.Z; d++ {
					_, _ = mycocrypto.Decrypt(zeroKey, zeroBlock)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// installQueues is phase B: move every queued entry into its bucket in P'
// and its shadow in M', dummy-encrypt up to Z operations, pad both to
// exactly Z, and shuffle them with identically seeded RNGs so positional
// pairing survives.
func (s *Server1) installQueues() error {
	zeroKey := make([]byte, dtypes.KeySize)
	zeroMsg := make([]byte, dtypes.MessageSize)

	var seedBytes [8]byte
	if _, err := rand.Read(seedBytes[:]); err != nil {
		return fmt.Errorf("failed to seed shuffle rng: %w", err)
	}
	baseSeed := int64(binary.LittleEndian.Uint64(seedBytes[:]))

	pairs, err := tree.ZipMut(s.pNew, s.mNew)
	if err != nil {
		return err
	}
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i := range pairs {
		i := i
		pair := &pairs[i]
		g.Go(func() error {
			orig := s.pathIndices[i]
			bucket, meta := pair.Left, pair.Right

			entries := s.queues[orig].entries
			if len(entries) > s.params.Z {
				return fmt.Errorf("%w: %d entries for bucket %d", ErrBucketOverflow, len(entries), orig)
			}
			for _, e := range entries {
				cMsg, err := mycocrypto.Encrypt(e.kOblvT.Bytes(), e.ct, mycocrypto.Double)
				if err != nil {
					return err
				}
				bucket.Push(dtypes.Block(cMsg))
				meta.Push(e.path, e.kOblvT, e.expiry)
			}

			if mycocrypto.Disabled {
				return nil
			}
			for d := len(entries); d < s.params.Z; d++ {
				if _, err := mycocrypto.Encrypt(zeroKey, zeroMsg, mycocrypto.Double); err != nil {
					return err
				}
			}
			for bucket.Len() < s.params.Z {
				blk, err := dtypes.NewRandomBlock()
				if err != nil {
					return err
				}
				bucket.Push(blk)
				meta.Push(pair.Path, dtypes.Key{}, 0)
			}
			if bucket.Len() > s.params.Z || meta.Len() > s.params.Z {
				return fmt.Errorf("%w: bucket %d holds %d blocks", ErrBucketOverflow, orig, bucket.Len())
			}

			seed := baseSeed ^ int64(orig)
			bucket.Shuffle(mrand.New(mrand.NewSource(seed)))
			meta.Shuffle(mrand.New(mrand.NewSource(seed)))
			return nil
		})
	}
	return g.Wait()
}
