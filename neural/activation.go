package neural

import "github.com/chewxy/math32"

// ActivationFunction computes a nonlinearity and its derivative over
// (width, batch) matrices.
type ActivationFunction interface {
	// Compute writes the activation of z into a.
	Compute(z, a *Mat32)

	// Differentiate returns the elementwise derivative of the activation
	// given the pre-activation z and the activation a.
	Differentiate(z, a *Mat32) *Mat32
}

// Softmax normalizes each sample column of the pre-activation into a
// probability distribution.
type Softmax struct{}

var _ ActivationFunction = Softmax{}

func (Softmax) Compute(z, a *Mat32) {
	softmaxColumns(z, a)
}

// Differentiate returns the diagonal of the softmax Jacobian, a*(1-a),
// evaluated elementwise.
func (Softmax) Differentiate(z, a *Mat32) *Mat32 {
	out := MakeMat32(a.Rows, a.Cols)
	for i := range a.V {
		out.V[i] = a.V[i] * (1 - a.V[i])
	}
	return out
}

// softmaxColumns applies softmax to each column of z independently,
// writing the result into a.
//
// The exponentials are not shifted by the column maximum, so large
// pre-activations can overflow exp; the epsilon keeps the denominator
// nonzero when every exponential underflows.
func softmaxColumns(z, a *Mat32) {
	if z.Rows != a.Rows || z.Cols != a.Cols {
		panic("dimension mismatch")
	}
	for j := 0; j < z.Cols; j++ {
		var denom float32 = Epsilon
		for i := 0; i < z.Rows; i++ {
			denom += math32.Exp(z.At(i, j))
		}
		for i := 0; i < z.Rows; i++ {
			a.Set(i, j, math32.Exp(z.At(i, j))/denom)
		}
	}
}
