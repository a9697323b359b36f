// Package quadtree provides the addressing primitives of a four-way
// subdivided square: quadrant labels and paths from the root to a node.
package quadtree

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Quadrant labels one of the four children of a node.
//
//	1 | 2
//	--+--
//	4 | 3
type Quadrant uint8

// Quadrants in label order
const (
	UpperLeft  Quadrant = 1
	UpperRight Quadrant = 2
	LowerRight Quadrant = 3
	LowerLeft  Quadrant = 4
)

// Quadrants lists every quadrant in label order
var Quadrants = [4]Quadrant{UpperLeft, UpperRight, LowerRight, LowerLeft}

// Valid reports whether q is one of the four labels
func (q Quadrant) Valid() bool {
	return q >= UpperLeft && q <= LowerLeft
}

// East reports whether q lies in the right half of its parent
func (q Quadrant) East() bool {
	return q == UpperRight || q == LowerRight
}

// North reports whether q lies in the upper half of its parent
func (q Quadrant) North() bool {
	return q == UpperLeft || q == UpperRight
}

// Path is the sequence of quadrants from the root to a node. The zero
// value is the root. Paths are comparable and usable as map keys.
type Path struct {
	digits string
}

// Root is the empty path
var Root = Path{}

// NewPath builds a path from quadrant labels
func NewPath(qs ...Quadrant) (Path, error) {
	var b strings.Builder
	b.Grow(len(qs))
	for i, q := range qs {
		if !q.Valid() {
			return Path{}, fmt.Errorf("quadtree: invalid quadrant %d at depth %d", q, i+1)
		}
		b.WriteByte('0' + byte(q))
	}
	return Path{digits: b.String()}, nil
}

// MustPath is NewPath for literals; it panics on invalid labels
func MustPath(qs ...Quadrant) Path {
	p, err := NewPath(qs...)
	if err != nil {
		panic(err)
	}
	return p
}

// ParsePath reads a path written as digits, optionally separated by
// slashes: "142", "1/4/2" and "/1/4/2/" are equal.
func ParsePath(s string) (Path, error) {
	var qs []Quadrant
	for _, r := range s {
		if r == '/' {
			continue
		}
		if r < '1' || r > '4' {
			return Path{}, fmt.Errorf("quadtree: invalid path %q", s)
		}
		qs = append(qs, Quadrant(r-'0'))
	}
	return NewPath(qs...)
}

// Depth is the number of quadrants in the path
func (p Path) Depth() int {
	return len(p.digits)
}

// IsRoot reports whether p is the empty path
func (p Path) IsRoot() bool {
	return p.digits == ""
}

// At returns the quadrant at depth i+1
func (p Path) At(i int) Quadrant {
	return Quadrant(p.digits[i] - '0')
}

// Quadrants returns the labels of p in root-to-node order
func (p Path) Quadrants() []Quadrant {
	qs := make([]Quadrant, len(p.digits))
	for i := range qs {
		qs[i] = p.At(i)
	}
	return qs
}

// Last returns the final quadrant, or 0 for the root
func (p Path) Last() Quadrant {
	if p.IsRoot() {
		return 0
	}
	return p.At(p.Depth() - 1)
}

// Child returns the path extended by q
func (p Path) Child(q Quadrant) Path {
	if !q.Valid() {
		panic(fmt.Sprintf("quadtree: invalid quadrant %d", q))
	}
	return Path{digits: p.digits + string(rune('0'+q))}
}

// Parent returns the path with its last quadrant removed. The parent of
// the root is the root.
func (p Path) Parent() Path {
	if p.IsRoot() {
		return p
	}
	return Path{digits: p.digits[:len(p.digits)-1]}
}

// Ancestor returns the prefix of p with the given depth
func (p Path) Ancestor(depth int) Path {
	if depth >= p.Depth() {
		return p
	}
	if depth <= 0 {
		return Root
	}
	return Path{digits: p.digits[:depth]}
}

// String formats the path as slash separated digits, "" for the root
func (p Path) String() string {
	if p.IsRoot() {
		return ""
	}
	return strings.Join(strings.Split(p.digits, ""), "/")
}

// Dir returns the directory of the node below root, using the OS separator
func (p Path) Dir(root string) string {
	parts := make([]string, 0, p.Depth()+1)
	parts = append(parts, root)
	for i := 0; i < p.Depth(); i++ {
		parts = append(parts, p.digits[i:i+1])
	}
	return filepath.Join(parts...)
}

// Less orders paths by depth, then lexically
func (p Path) Less(o Path) bool {
	if len(p.digits) != len(o.digits) {
		return len(p.digits) < len(o.digits)
	}
	return p.digits < o.digits
}
