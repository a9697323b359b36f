package quadtree

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	for _, s := range []string{"142", "1/4/2", "/1/4/2/"} {
		p, err := ParsePath(s)
		require.NoError(t, err, s)
		assert.Equal(t, MustPath(UpperLeft, LowerLeft, UpperRight), p, s)
	}

	root, err := ParsePath("")
	require.NoError(t, err)
	assert.True(t, root.IsRoot())

	_, err = ParsePath("1/5")
	assert.Error(t, err)
}

func TestNewPathRejectsInvalidQuadrant(t *testing.T) {
	_, err := NewPath(UpperLeft, 0)
	assert.Error(t, err)
}

func TestPathNavigation(t *testing.T) {
	p := Root.Child(LowerRight).Child(UpperLeft).Child(LowerLeft)

	assert.Equal(t, 3, p.Depth())
	assert.Equal(t, LowerLeft, p.Last())
	assert.Equal(t, "3/1/4", p.String())
	assert.Equal(t, MustPath(LowerRight, UpperLeft), p.Parent())
	assert.Equal(t, MustPath(LowerRight), p.Ancestor(1))
	assert.Equal(t, Root, p.Ancestor(0))
	assert.Equal(t, p, p.Ancestor(7))
	assert.Equal(t, Root, Root.Parent())
	assert.Equal(t, []Quadrant{LowerRight, UpperLeft, LowerLeft}, p.Quadrants())
}

func TestPathDir(t *testing.T) {
	p := MustPath(UpperRight, LowerRight)
	assert.Equal(t, filepath.Join("tiles", "2", "3"), p.Dir("tiles"))
	assert.Equal(t, "tiles", Root.Dir("tiles"))
}

func TestPathUsableAsMapKey(t *testing.T) {
	seen := map[Path]int{}
	seen[MustPath(UpperLeft, UpperLeft).Parent()]++
	seen[MustPath(UpperLeft, LowerLeft).Parent()]++

	assert.Len(t, seen, 1)
	assert.Equal(t, 2, seen[MustPath(UpperLeft)])
}

func TestPathLess(t *testing.T) {
	assert.True(t, MustPath(LowerLeft).Less(MustPath(UpperLeft, UpperLeft)))
	assert.True(t, MustPath(UpperLeft, LowerRight).Less(MustPath(UpperRight, UpperLeft)))
	assert.False(t, MustPath(UpperRight).Less(MustPath(UpperRight)))
}

func TestQuadrantHalves(t *testing.T) {
	assert.True(t, UpperLeft.North())
	assert.False(t, UpperLeft.East())
	assert.True(t, LowerRight.East())
	assert.False(t, LowerLeft.North())
}
