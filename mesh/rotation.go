package mesh

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Rotation labels one of the 24 proper rotations of 3-space that map each
// coordinate axis onto a signed coordinate axis. The zero value is the
// identity.
type Rotation uint8

// RotationCount is the size of the proper rotation group of the cube
const RotationCount = 24

// IdentityRotation leaves every point unchanged
const IdentityRotation Rotation = 0

// rotationTable is built once at init and only read afterwards
type rotationTable struct {
	matrices [RotationCount][3][3]int
	inverse  [RotationCount]Rotation
	compose  [RotationCount][RotationCount]Rotation
}

var catalog = buildCatalog()

// Canonical enumeration order: permutations lexicographic, then sign
// patterns with the z sign varying fastest.
var (
	axisPermutations = [6][3]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	axisSigns        = [8][3]int{
		{1, 1, 1}, {1, 1, -1}, {1, -1, 1}, {1, -1, -1},
		{-1, 1, 1}, {-1, 1, -1}, {-1, -1, 1}, {-1, -1, -1},
	}
)

func buildCatalog() *rotationTable {
	t := &rotationTable{}

	// Keep the 24 signed permutation matrices with determinant +1; the other
	// 24 are mirror images.
	n := 0
	for _, perm := range axisPermutations {
		for _, sign := range axisSigns {
			var m [3][3]int
			for row := 0; row < 3; row++ {
				m[row][perm[row]] = sign[row]
			}
			if determinant(m) != 1 {
				continue
			}
			t.matrices[n] = m
			n++
		}
	}
	if n != RotationCount {
		panic(fmt.Sprintf("rotation catalog: found %d proper rotations, want %d", n, RotationCount))
	}

	index := make(map[[3][3]int]Rotation, RotationCount)
	for i, m := range t.matrices {
		index[m] = Rotation(i)
	}

	for a := range t.matrices {
		inv, ok := index[transpose3(t.matrices[a])]
		if !ok {
			panic(fmt.Sprintf("rotation catalog: inverse of %d not closed", a))
		}
		t.inverse[a] = inv

		for b := range t.matrices {
			c, ok := index[multiply3(t.matrices[a], t.matrices[b])]
			if !ok {
				panic(fmt.Sprintf("rotation catalog: %d∘%d not closed", a, b))
			}
			t.compose[a][b] = c
		}
	}

	return t
}

func determinant(m [3][3]int) int {
	d := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			d.Set(i, j, float64(m[i][j]))
		}
	}
	return int(math.Round(mat.Det(d)))
}

func multiply3(a, b [3][3]int) [3][3]int {
	var out [3][3]int
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += a[i][k] * b[k][j]
			}
		}
	}
	return out
}

func transpose3(m [3][3]int) [3][3]int {
	var out [3][3]int
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[j][i] = m[i][j]
		}
	}
	return out
}

// Rotations returns all 24 rotations in canonical order. The identity is first.
func Rotations() []Rotation {
	out := make([]Rotation, RotationCount)
	for i := range out {
		out[i] = Rotation(i)
	}
	return out
}

// Valid reports whether r is a catalog label
func (r Rotation) Valid() bool {
	return r < RotationCount
}

// Matrix returns the rotation as a signed permutation matrix
func (r Rotation) Matrix() [3][3]int {
	return catalog.matrices[r]
}

// Apply rotates p
func (r Rotation) Apply(p Point3) Point3 {
	m := &catalog.matrices[r]
	return Point3{
		X: m[0][0]*p.X + m[0][1]*p.Y + m[0][2]*p.Z,
		Y: m[1][0]*p.X + m[1][1]*p.Y + m[1][2]*p.Z,
		Z: m[2][0]*p.X + m[2][1]*p.Y + m[2][2]*p.Z,
	}
}

// Inverse returns the rotation that undoes r
func (r Rotation) Inverse() Rotation {
	return catalog.inverse[r]
}

// Compose returns the rotation equivalent to applying b, then a
func Compose(a, b Rotation) Rotation {
	return catalog.compose[a][b]
}

// String renders r as the signed source axis of each output coordinate,
// e.g. "(+x,-z,+y)".
func (r Rotation) String() string {
	if !r.Valid() {
		return fmt.Sprintf("Rotation(%d)", uint8(r))
	}
	axes := [3]string{"x", "y", "z"}
	m := catalog.matrices[r]
	parts := make([]string, 3)
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			switch m[row][col] {
			case 1:
				parts[row] = "+" + axes[col]
			case -1:
				parts[row] = "-" + axes[col]
			}
		}
	}
	return "(" + strings.Join(parts, ",") + ")"
}
