package tree

import (
	"fmt"
	"sort"

	"github.com/rpcpool/myco/dtypes"
)

// Sparse is the subtree of a dense tree induced by a path set. Nodes are
// stored packed: values[i] lives at dense index indices[i], and lookup maps
// a dense index back to its packed position.
type Sparse[T Value[T]] struct {
	depth   int
	values  []T
	indices []int
	lookup  map[int]int
}

// NewSparse builds a sparse tree from packed values and the parallel list
// of dense indices. Both servers must hand buckets and indices over in the
// same order for the packed positions to agree.
func NewSparse[T Value[T]](values []T, indices []int, depth int) (*Sparse[T], error) {
	if len(values) != len(indices) {
		return nil, fmt.Errorf("%w: %d values, %d indices", ErrLengthMismatch, len(values), len(indices))
	}
	numNodes := (1 << (depth + 1)) - 1
	lookup := make(map[int]int, len(indices))
	for pos, idx := range indices {
		if idx < 1 || idx > numNodes {
			return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, idx)
		}
		lookup[idx] = pos
	}
	return &Sparse[T]{
		depth:   depth,
		values:  values,
		indices: indices,
		lookup:  lookup,
	}, nil
}

func (s *Sparse[T]) Depth() int {
	return s.depth
}

func (s *Sparse[T]) Len() int {
	return len(s.values)
}

// Values returns the packed node slice. The caller must not grow it.
func (s *Sparse[T]) Values() []T {
	return s.values
}

// Indices returns the parallel dense index slice.
func (s *Sparse[T]) Indices() []int {
	return s.indices
}

// At returns a pointer to the node at packed position i.
func (s *Sparse[T]) At(i int) *T {
	return &s.values[i]
}

// IndexAt returns the dense index of packed position i.
func (s *Sparse[T]) IndexAt(i int) int {
	return s.indices[i]
}

// LCA walks path from the root and returns the deepest present node along
// it, together with the prefix sub-path that reaches that node. O(len(path)).
func (s *Sparse[T]) LCA(path dtypes.Path) (T, dtypes.Path, error) {
	var zero T
	pos, _, prefixLen, err := s.lca(path)
	if err != nil {
		return zero, nil, err
	}
	return s.values[pos], path[:prefixLen].Clone(), nil
}

// LCAIndex returns the packed position and dense index of the LCA of path.
func (s *Sparse[T]) LCAIndex(path dtypes.Path) (int, int, error) {
	pos, idx, _, err := s.lca(path)
	return pos, idx, err
}

func (s *Sparse[T]) lca(path dtypes.Path) (pos, idx, prefixLen int, err error) {
	pos, idx, prefixLen = -1, 0, 0
	walk := 1
	if p, ok := s.lookup[walk]; ok {
		pos, idx = p, walk
	}
	for i, d := range path {
		walk = 2*walk + int(d)
		if p, ok := s.lookup[walk]; ok {
			pos, idx, prefixLen = p, walk, i+1
		}
	}
	if pos < 0 {
		return 0, 0, 0, ErrLCANotFound
	}
	return pos, idx, prefixLen, nil
}

// NodesAlongPath returns the present nodes from the root to the end of path
// in root-to-leaf order.
func (s *Sparse[T]) NodesAlongPath(path dtypes.Path) []T {
	out := make([]T, 0, len(path)+1)
	idx := 1
	if pos, ok := s.lookup[idx]; ok {
		out = append(out, s.values[pos])
	}
	for _, d := range path {
		idx = 2*idx + int(d)
		if pos, ok := s.lookup[idx]; ok {
			out = append(out, s.values[pos])
		}
	}
	return out
}

// ZipWithDense yields, for every packed position of the sparse tree, the
// sparse node, the dense tree's node at the same index (nil if absent), and
// the path from the root to that node.
func ZipWithDense[A Value[A], B Value[B]](s *Sparse[A], d *Dense[B]) []Zipped[A, B] {
	out := make([]Zipped[A, B], 0, s.Len())
	for pos := range s.values {
		idx := s.indices[pos]
		path, _ := dtypes.PathFromIndex(idx)
		z := Zipped[A, B]{Path: path, Left: &s.values[pos]}
		if v, ok := d.GetIndex(idx); ok {
			z.Right = &v
		}
		out = append(out, z)
	}
	return out
}

// ZipMut pairs each packed node of a with its sibling in b at the same
// packed position, plus the path to it. Both trees must have been built
// from the same index list. The returned pointers alias the trees; each
// position may be processed independently and in parallel.
func ZipMut[A Value[A], B Value[B]](a *Sparse[A], b *Sparse[B]) ([]Zipped[A, B], error) {
	if a.Len() != b.Len() {
		return nil, fmt.Errorf("%w: %d vs %d packed nodes", ErrLengthMismatch, a.Len(), b.Len())
	}
	out := make([]Zipped[A, B], a.Len())
	for pos := range a.values {
		path, _ := dtypes.PathFromIndex(a.indices[pos])
		out[pos] = Zipped[A, B]{
			Path:  path,
			Left:  &a.values[pos],
			Right: &b.values[pos],
		}
	}
	return out, nil
}

// PathIndices computes the union of the dense indices of every node from
// the root to each leaf, root (index 1) always included. The result is
// sorted breadth-first-by-depth so that independently computed path sets
// agree on an order.
func PathIndices(paths []dtypes.Path) []int {
	set := map[int]struct{}{1: {}}
	for _, p := range paths {
		idx := 1
		for _, d := range p {
			idx = 2*idx + int(d)
			set[idx] = struct{}{}
		}
	}
	out := make([]int, 0, len(set))
	for idx := range set {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}
