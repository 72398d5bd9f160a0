package dtypes

import "math/rand"

// Bucket is an ordered list of at most Z blocks. Insertion is append-only;
// the whole bucket is permuted at once before it leaves Server1.
type Bucket struct {
	Blocks []Block
}

// NewBucket returns an empty bucket.
func NewBucket() Bucket {
	return Bucket{}
}

func (b *Bucket) Len() int {
	return len(b.Blocks)
}

func (b *Bucket) Push(blk Block) {
	b.Blocks = append(b.Blocks, blk)
}

// Get returns the block at index i, or false if out of range.
func (b *Bucket) Get(i int) (Block, bool) {
	if i < 0 || i >= len(b.Blocks) {
		return nil, false
	}
	return b.Blocks[i], true
}

// Shuffle permutes the blocks with the given RNG. Callers that shuffle a
// bucket and its metadata shadow must use identically seeded RNGs so the
// positional pairing survives.
func (b *Bucket) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(b.Blocks), func(i, j int) {
		b.Blocks[i], b.Blocks[j] = b.Blocks[j], b.Blocks[i]
	})
}

// Clone returns a deep copy of the bucket.
func (b Bucket) Clone() Bucket {
	if b.Blocks == nil {
		return Bucket{}
	}
	out := Bucket{Blocks: make([]Block, len(b.Blocks))}
	for i, blk := range b.Blocks {
		out.Blocks[i] = blk.Clone()
	}
	return out
}
