package dtypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathBytesSingleDirections(t *testing.T) {
	assert.Equal(t, []byte{0b00000000}, Path{Left}.Bytes())
	assert.Equal(t, []byte{0b00000001}, Path{Right}.Bytes())
	assert.Empty(t, Path{}.Bytes())
}

func TestPathBytesSpillover(t *testing.T) {
	p := Path{Left, Right, Left, Left, Right, Right, Left, Right, Left}
	assert.Equal(t, []byte{0b10110010, 0b00000000}, p.Bytes())
}

func TestPathBytesExactByte(t *testing.T) {
	p := Path{Left, Right, Left, Right, Left, Right, Left, Right}
	assert.Equal(t, []byte{0b10101010}, p.Bytes())
}

func TestPathFromBytesTakesDepth(t *testing.T) {
	p := PathFromBytes([]byte{0b00000001, 0xff}, 3)
	assert.Equal(t, Path{Right, Left, Left}, p)
}

func TestPathRoundTrip(t *testing.T) {
	for depth := 1; depth <= 18; depth++ {
		p, err := RandomPath(depth)
		require.NoError(t, err)
		require.Len(t, p, depth)
		assert.Equal(t, p, PathFromBytes(p.Bytes(), depth), "depth %d", depth)
	}
}

func TestPathIndexRoundTrip(t *testing.T) {
	for idx := 1; idx < 1<<10; idx++ {
		p, err := PathFromIndex(idx)
		require.NoError(t, err)
		assert.Equal(t, idx, p.Index(), "index %d", idx)
	}
}

func TestPathFromIndexKnownValues(t *testing.T) {
	root, err := PathFromIndex(1)
	require.NoError(t, err)
	assert.Empty(t, root)

	left, err := PathFromIndex(2)
	require.NoError(t, err)
	assert.Equal(t, Path{Left}, left)

	right, err := PathFromIndex(3)
	require.NoError(t, err)
	assert.Equal(t, Path{Right}, right)

	six, err := PathFromIndex(6)
	require.NoError(t, err)
	assert.Equal(t, Path{Right, Left}, six)

	_, err = PathFromIndex(0)
	assert.Error(t, err)
}

func TestKeyFromBytes(t *testing.T) {
	k, err := KeyFromBytes(make([]byte, KeySize))
	require.NoError(t, err)
	assert.True(t, k.IsZero())

	_, err = KeyFromBytes(make([]byte, KeySize-1))
	assert.Error(t, err)
	_, err = KeyFromBytes(make([]byte, KeySize+1))
	assert.Error(t, err)

	r, err := RandomKey()
	require.NoError(t, err)
	assert.False(t, r.IsZero())
}
