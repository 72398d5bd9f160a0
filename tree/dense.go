// Package tree implements the dense and sparse binary trees the Myco
// protocol shuffles buckets through, plus the path-set algebra shared by
// both servers and the client.
package tree

import (
	"errors"

	"github.com/rpcpool/myco/dtypes"
)

var (
	// ErrLCANotFound is returned when a path has no ancestor in a sparse
	// tree. With a well-formed path set this cannot happen: the root is
	// always included.
	ErrLCANotFound = errors.New("lca not found")

	// ErrIndexOutOfRange is returned for node indices outside the tree.
	ErrIndexOutOfRange = errors.New("node index out of range")

	// ErrLengthMismatch is returned when packed values and indices differ
	// in length.
	ErrLengthMismatch = errors.New("values and indices length mismatch")
)

// Value constrains tree node types to ones that can be deep-copied.
type Value[T any] interface {
	Clone() T
}

// Dense is a complete binary tree of optional nodes backed by a flat array.
// Nodes are 1-indexed with the root at position 1; node i has children 2i
// and 2i+1. Index 0 is unused.
type Dense[T Value[T]] struct {
	depth int
	nodes []*T
}

// NewDense allocates a dense tree of the given depth with every slot
// absent.
func NewDense[T Value[T]](depth int) *Dense[T] {
	numNodes := (1 << (depth + 1)) - 1
	return &Dense[T]{
		depth: depth,
		nodes: make([]*T, numNodes+1),
	}
}

func (t *Dense[T]) Depth() int {
	return t.depth
}

// NumNodes returns the number of slots of the tree.
func (t *Dense[T]) NumNodes() int {
	return len(t.nodes) - 1
}

// Fill sets every slot to an independent clone of v.
func (t *Dense[T]) Fill(v T) {
	for i := 1; i < len(t.nodes); i++ {
		c := v.Clone()
		t.nodes[i] = &c
	}
}

// GetIndex returns the node at the given 1-based index, or false if the
// slot is absent or out of range.
func (t *Dense[T]) GetIndex(idx int) (T, bool) {
	var zero T
	if idx < 1 || idx >= len(t.nodes) || t.nodes[idx] == nil {
		return zero, false
	}
	return *t.nodes[idx], true
}

// SetIndex stores v at the given 1-based index.
func (t *Dense[T]) SetIndex(idx int, v T) error {
	if idx < 1 || idx >= len(t.nodes) {
		return ErrIndexOutOfRange
	}
	t.nodes[idx] = &v
	return nil
}

// Get returns the node reached by following path from the root.
func (t *Dense[T]) Get(path dtypes.Path) (T, bool) {
	return t.GetIndex(path.Index())
}

// GetAllNodesAlongPath returns the nodes from the root to the end of path
// in root-to-leaf order. Absent nodes are silently omitted.
func (t *Dense[T]) GetAllNodesAlongPath(path dtypes.Path) []T {
	out := make([]T, 0, len(path)+1)
	idx := 1
	if v, ok := t.GetIndex(idx); ok {
		out = append(out, v)
	}
	for _, d := range path {
		idx = 2*idx + int(d)
		if v, ok := t.GetIndex(idx); ok {
			out = append(out, v)
		}
	}
	return out
}

// OverwriteFromSparse copies every node of the sparse tree into this tree
// at the sparse tree's dense indices.
func (t *Dense[T]) OverwriteFromSparse(s *Sparse[T]) error {
	for i, idx := range s.indices {
		if err := t.SetIndex(idx, s.values[i].Clone()); err != nil {
			return err
		}
	}
	return nil
}

// Zipped is one aligned pair of nodes from two trees of equal depth.
type Zipped[A, B any] struct {
	Path  dtypes.Path
	Left  *A
	Right *B
}

// ZipDense yields, for every index of two equal-depth dense trees, the pair
// of optional nodes and the path from the root to that index.
func ZipDense[A Value[A], B Value[B]](a *Dense[A], b *Dense[B]) []Zipped[A, B] {
	out := make([]Zipped[A, B], 0, a.NumNodes())
	for idx := 1; idx <= a.NumNodes(); idx++ {
		path, _ := dtypes.PathFromIndex(idx)
		z := Zipped[A, B]{Path: path}
		z.Left = a.nodes[idx]
		if idx < len(b.nodes) {
			z.Right = b.nodes[idx]
		}
		out = append(out, z)
	}
	return out
}
