package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpcpool/myco/dtypes"
)

// intBox is a minimal tree value for structural tests.
type intBox struct{ V int }

func (b intBox) Clone() intBox { return b }

func TestDenseFillAndGet(t *testing.T) {
	d := NewDense[intBox](2)
	assert.Equal(t, 7, d.NumNodes())

	_, ok := d.GetIndex(1)
	assert.False(t, ok, "fresh tree is all-absent")

	d.Fill(intBox{V: 9})
	for idx := 1; idx <= 7; idx++ {
		v, ok := d.GetIndex(idx)
		require.True(t, ok)
		assert.Equal(t, 9, v.V)
	}

	require.NoError(t, d.SetIndex(5, intBox{V: 42}))
	v, ok := d.Get(dtypes.Path{dtypes.Left, dtypes.Right})
	require.True(t, ok)
	assert.Equal(t, 42, v.V)

	assert.ErrorIs(t, d.SetIndex(8, intBox{}), ErrIndexOutOfRange)
	assert.ErrorIs(t, d.SetIndex(0, intBox{}), ErrIndexOutOfRange)
}

func TestDenseGetAllNodesAlongPath(t *testing.T) {
	d := NewDense[intBox](3)
	require.NoError(t, d.SetIndex(1, intBox{V: 1}))
	require.NoError(t, d.SetIndex(2, intBox{V: 2}))
	// index 4 left absent
	require.NoError(t, d.SetIndex(8, intBox{V: 8}))

	nodes := d.GetAllNodesAlongPath(dtypes.Path{dtypes.Left, dtypes.Left, dtypes.Left})
	require.Len(t, nodes, 3, "absent node is silently omitted")
	assert.Equal(t, []intBox{{V: 1}, {V: 2}, {V: 8}}, nodes)
}

func TestPathIndices(t *testing.T) {
	assert.Equal(t, []int{1}, PathIndices(nil), "empty input still contains the root")

	idxs := PathIndices([]dtypes.Path{{dtypes.Left, dtypes.Left}})
	assert.Equal(t, []int{1, 2, 4}, idxs)

	idxs = PathIndices([]dtypes.Path{
		{dtypes.Left, dtypes.Left},
		{dtypes.Left, dtypes.Right},
		{dtypes.Right, dtypes.Right},
	})
	assert.Equal(t, []int{1, 2, 3, 4, 5, 7}, idxs)
}

func newSparseFixture(t *testing.T) *Sparse[intBox] {
	t.Helper()
	// Path set {root, left, left-right} in a depth-2 tree.
	indices := []int{1, 2, 5}
	values := []intBox{{V: 1}, {V: 2}, {V: 5}}
	s, err := NewSparse(values, indices, 2)
	require.NoError(t, err)
	return s
}

func TestSparseLCA(t *testing.T) {
	s := newSparseFixture(t)

	v, sub, err := s.LCA(dtypes.Path{dtypes.Left, dtypes.Right})
	require.NoError(t, err)
	assert.Equal(t, 5, v.V)
	assert.Equal(t, dtypes.Path{dtypes.Left, dtypes.Right}, sub)

	v, sub, err = s.LCA(dtypes.Path{dtypes.Left, dtypes.Left})
	require.NoError(t, err)
	assert.Equal(t, 2, v.V, "deepest present ancestor")
	assert.Equal(t, dtypes.Path{dtypes.Left}, sub)

	v, sub, err = s.LCA(dtypes.Path{dtypes.Right, dtypes.Right})
	require.NoError(t, err)
	assert.Equal(t, 1, v.V, "falls back to the root")
	assert.Empty(t, sub)

	pos, dense, err := s.LCAIndex(dtypes.Path{dtypes.Left, dtypes.Right})
	require.NoError(t, err)
	assert.Equal(t, 2, pos)
	assert.Equal(t, 5, dense)
}

func TestSparseLCANotFound(t *testing.T) {
	s, err := NewSparse([]intBox{{V: 7}}, []int{4}, 2)
	require.NoError(t, err)
	_, _, err = s.LCA(dtypes.Path{dtypes.Right, dtypes.Right})
	assert.ErrorIs(t, err, ErrLCANotFound)
}

func TestSparseNodesAlongPath(t *testing.T) {
	s := newSparseFixture(t)
	nodes := s.NodesAlongPath(dtypes.Path{dtypes.Left, dtypes.Right})
	require.Len(t, nodes, 3)
	assert.Equal(t, []intBox{{V: 1}, {V: 2}, {V: 5}}, nodes)

	nodes = s.NodesAlongPath(dtypes.Path{dtypes.Right, dtypes.Left})
	require.Len(t, nodes, 1, "only the root is present off the path set")
}

func TestSparseLengthMismatch(t *testing.T) {
	_, err := NewSparse([]intBox{{V: 1}}, []int{1, 2}, 2)
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestOverwriteFromSparse(t *testing.T) {
	d := NewDense[intBox](2)
	d.Fill(intBox{V: 0})
	s := newSparseFixture(t)

	require.NoError(t, d.OverwriteFromSparse(s))
	for _, tc := range []struct{ idx, want int }{
		{1, 1}, {2, 2}, {5, 5}, {3, 0}, {4, 0}, {6, 0}, {7, 0},
	} {
		v, ok := d.GetIndex(tc.idx)
		require.True(t, ok)
		assert.Equal(t, tc.want, v.V, "index %d", tc.idx)
	}
}

func TestZipMutAlignsAndMutates(t *testing.T) {
	indices := []int{1, 3}
	a, err := NewSparse([]intBox{{V: 1}, {V: 3}}, indices, 2)
	require.NoError(t, err)
	b, err := NewSparse([]intBox{{V: 10}, {V: 30}}, indices, 2)
	require.NoError(t, err)

	pairs, err := ZipMut(a, b)
	require.NoError(t, err)
	require.Len(t, pairs, 2)

	assert.Empty(t, pairs[0].Path)
	assert.Equal(t, dtypes.Path{dtypes.Right}, pairs[1].Path)

	pairs[1].Left.V = 99
	pairs[1].Right.V = 990
	assert.Equal(t, 99, a.At(1).V, "zip exposes the underlying nodes")
	assert.Equal(t, 990, b.At(1).V)
}

func TestZipWithDense(t *testing.T) {
	s := newSparseFixture(t)
	d := NewDense[intBox](2)
	require.NoError(t, d.SetIndex(2, intBox{V: 20}))

	pairs := ZipWithDense(s, d)
	require.Len(t, pairs, 3)
	assert.Nil(t, pairs[0].Right, "dense root absent")
	require.NotNil(t, pairs[1].Right)
	assert.Equal(t, 20, pairs[1].Right.V)
	assert.Equal(t, dtypes.Path{dtypes.Left}, pairs[1].Path)
}

func TestSerializeTreesRoundTrip(t *testing.T) {
	const depth = 3
	buckets := NewDense[dtypes.Bucket](depth)
	metadata := NewDense[dtypes.Metadata](depth)
	buckets.Fill(dtypes.NewBucket())
	metadata.Fill(dtypes.NewMetadata())

	blk, err := dtypes.NewRandomBlock()
	require.NoError(t, err)
	b := dtypes.NewBucket()
	b.Push(blk)
	require.NoError(t, buckets.SetIndex(5, b))

	k, err := dtypes.RandomKey()
	require.NoError(t, err)
	p, err := dtypes.RandomPath(depth)
	require.NoError(t, err)
	m := dtypes.NewMetadata()
	m.Push(p, k, 77)
	require.NoError(t, metadata.SetIndex(5, m))

	data, err := SerializeTrees(buckets, metadata)
	require.NoError(t, err)

	gotBuckets, gotMetadata, err := DeserializeTrees(data)
	require.NoError(t, err)
	require.Equal(t, buckets.NumNodes(), gotBuckets.NumNodes())

	for idx := 1; idx <= buckets.NumNodes(); idx++ {
		wantB, wantOK := buckets.GetIndex(idx)
		gotB, gotOK := gotBuckets.GetIndex(idx)
		require.Equal(t, wantOK, gotOK, "bucket presence at %d", idx)
		assert.Equal(t, wantB, gotB, "bucket at %d", idx)

		wantM, wantOK := metadata.GetIndex(idx)
		gotM, gotOK := gotMetadata.GetIndex(idx)
		require.Equal(t, wantOK, gotOK, "metadata presence at %d", idx)
		assert.Equal(t, wantM, gotM, "metadata at %d", idx)
	}

	_, _, err = DeserializeTrees([]byte("not a snapshot"))
	assert.Error(t, err)
}
