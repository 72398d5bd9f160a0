package dtypes

import (
	"crypto/rand"
	"fmt"
)

// Block is exactly BlockSize bytes: either a twice-encrypted message or
// uniform random padding. The two are indistinguishable without the keys.
type Block []byte

// NewBlock wraps ciphertext bytes as a block.
func NewBlock(data []byte) (Block, error) {
	if len(data) != BlockSize {
		return nil, fmt.Errorf("invalid block length: expected %d bytes, got %d", BlockSize, len(data))
	}
	return Block(data), nil
}

// NewRandomBlock returns a uniformly random padding block.
func NewRandomBlock() (Block, error) {
	b := make(Block, BlockSize)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to sample random block: %w", err)
	}
	return b, nil
}

// Clone returns an independent copy of the block.
func (b Block) Clone() Block {
	out := make(Block, len(b))
	copy(out, b)
	return out
}
