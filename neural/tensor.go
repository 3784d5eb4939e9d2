// Package neural implements a probabilistic output layer for feed-forward
// networks: a dense linear transform followed by column-wise softmax, with
// backpropagation through pluggable cost functions and optimizer strategies.
package neural

import (
	"fmt"

	"github.com/chewxy/math32"
)

// Epsilon is the shared additive guard used wherever a denominator or log
// argument could otherwise reach zero.
const Epsilon = 1e-9

// Mat32 is a dense row-major float32 matrix.
type Mat32 struct {
	V    []float32
	Rows int
	Cols int
}

func MakeMat32(rows, cols int) *Mat32 {
	if rows <= 0 || cols <= 0 {
		panic(fmt.Sprintf("invalid shape: (%d, %d)", rows, cols))
	}
	return &Mat32{
		V:    make([]float32, rows*cols),
		Rows: rows,
		Cols: cols,
	}
}

func (m *Mat32) At(i, j int) float32 {
	return m.V[i*m.Cols+j]
}

func (m *Mat32) Set(i, j int, v float32) {
	m.V[i*m.Cols+j] = v
}

// Row returns the i-th row as a slice sharing storage with m.
func (m *Mat32) Row(i int) []float32 {
	return m.V[i*m.Cols : i*m.Cols+m.Cols]
}

// Copy returns a deep copy of m.
func (m *Mat32) Copy() *Mat32 {
	out := MakeMat32(m.Rows, m.Cols)
	copy(out.V, m.V)
	return out
}

// Transpose returns a new matrix holding the transpose of m.
func (m *Mat32) Transpose() *Mat32 {
	out := MakeMat32(m.Cols, m.Rows)
	for i := 0; i < m.Rows; i++ {
		for j := 0; j < m.Cols; j++ {
			out.Set(j, i, m.At(i, j))
		}
	}
	return out
}

// AddInPlace accumulates o into m elementwise.
func (m *Mat32) AddInPlace(o *Mat32) {
	if m.Rows != o.Rows || m.Cols != o.Cols {
		panic("dimension mismatch")
	}
	for i := range m.V {
		m.V[i] += o.V[i]
	}
}

// RowSum returns the sum of row i.
func (m *Mat32) RowSum(i int) float32 {
	var sum float32
	for _, v := range m.Row(i) {
		sum += v
	}
	return sum
}

// Norm returns the Frobenius norm of m.
func (m *Mat32) Norm() float32 {
	var sum float32
	for _, v := range m.V {
		sum += v * v
	}
	return math32.Sqrt(sum)
}

// matMul computes a · b into a new matrix.
func matMul(a, b *Mat32) *Mat32 {
	if a.Cols != b.Rows {
		panic("dimension mismatch")
	}
	bT := b.Transpose()
	out := MakeMat32(a.Rows, b.Cols)
	for i := 0; i < a.Rows; i++ {
		for j := 0; j < b.Cols; j++ {
			out.Set(i, j, dot(a.Row(i), bT.Row(j)))
		}
	}
	return out
}

func dot(x, y []float32) float32 {
	if len(x) != len(y) {
		panic("mismatched length")
	}
	var sum float32
	for i := range x {
		sum += x[i] * y[i]
	}
	return sum
}
