package dtypes

import "fmt"

// Sizes that are fixed for every deployment, independent of tree shape.
const (
	// Lambda is the security parameter in bits.
	Lambda = 128

	// KeySize is the size of every symmetric key in bytes.
	KeySize = Lambda / 8

	// NonceSize is the AES-GCM nonce size in bytes.
	NonceSize = 12

	// TagSize is the AES-GCM authentication tag size in bytes.
	TagSize = 16

	// MessageSize is the plaintext payload size in bytes.
	MessageSize = 228

	// InnerBlockSize is the size of a once-encrypted message.
	InnerBlockSize = MessageSize + NonceSize + TagSize

	// BlockSize is the size of a twice-encrypted message, i.e. one block
	// as stored in a bucket.
	BlockSize = InnerBlockSize + NonceSize + TagSize

	// MaxRequestSizeReadPaths caps a single read-paths response.
	MaxRequestSizeReadPaths = 10 * 1024 * 1024

	// MaxRequestSizeBatchWrite caps a single batch-write chunk.
	MaxRequestSizeBatchWrite = 10 * 1024 * 1024
)

// Benchmark knobs carried over from the reference deployment.
const (
	LatencyBenchCount    = 30
	ThroughputIterations = 10
)

// FixedSeedTputRNG seeds the throughput benchmark RNG so runs are
// reproducible.
var FixedSeedTputRNG = [32]byte{
	1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1,
	1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1,
}

// Params holds the tree-shape parameters of a deployment. They are fixed
// for the lifetime of the deployment; clients and both servers must agree
// on them.
type Params struct {
	// D is the depth of the binary tree.
	D int
	// Z is the bucket capacity in blocks.
	Z int
	// Delta is the message lifetime in epochs.
	Delta int
	// Nu is the number of paths sampled per client per epoch.
	Nu int
}

// DefaultParams returns the reference deployment parameters.
func DefaultParams() Params {
	return Params{
		D:     18,
		Z:     50,
		Delta: 1000,
		Nu:    1,
	}
}

// DBSize returns the number of leaves of the tree.
func (p Params) DBSize() int {
	return 1 << p.D
}

// NumClients returns the number of active clients the deployment supports,
// following Talek's database-size / message-lifetime sizing.
func (p Params) NumClients() int {
	return p.DBSize() / p.Delta
}

// NumNodes returns the total number of nodes of the complete tree.
func (p Params) NumNodes() int {
	return (1 << (p.D + 1)) - 1
}

// BucketSizeBytes returns the on-wire size of a full bucket.
func (p Params) BucketSizeBytes() int {
	return p.Z * BlockSize
}

// NumBucketsPerBatchWriteChunk returns how many buckets fit into one
// batch-write chunk under the request size cap.
func (p Params) NumBucketsPerBatchWriteChunk() int {
	return MaxRequestSizeBatchWrite / p.BucketSizeBytes()
}

// NumBucketsPerReadPathsChunk returns how many buckets fit into one
// read-paths chunk under the request size cap.
func (p Params) NumBucketsPerReadPathsChunk() int {
	return MaxRequestSizeReadPaths / p.BucketSizeBytes()
}

// PathBytes returns the packed byte length of a leaf path.
func (p Params) PathBytes() int {
	return (p.D + 7) / 8
}

// Validate rejects parameter combinations that cannot work. It is meant to
// be called once at startup; a failure here is fatal.
func (p Params) Validate() error {
	if p.D < 1 || p.D > 30 {
		return fmt.Errorf("tree depth D must be in [1, 30], got %d", p.D)
	}
	if p.Z < 1 {
		return fmt.Errorf("bucket capacity Z must be positive, got %d", p.Z)
	}
	if p.Delta < 1 {
		return fmt.Errorf("message lifetime Delta must be positive, got %d", p.Delta)
	}
	if p.Nu < 1 {
		return fmt.Errorf("paths per client Nu must be positive, got %d", p.Nu)
	}
	if p.Delta > p.DBSize() {
		return fmt.Errorf("Delta (%d) must not exceed the database size (%d)", p.Delta, p.DBSize())
	}
	if p.NumBucketsPerBatchWriteChunk() < 1 || p.NumBucketsPerReadPathsChunk() < 1 {
		return fmt.Errorf("bucket size %d bytes exceeds the request size cap", p.BucketSizeBytes())
	}
	return nil
}
