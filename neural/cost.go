package neural

import "github.com/chewxy/math32"

// CostFunction scores a single output unit against its expected value.
// Differentiate follows the error-direction convention: it returns the
// direction the activation should move, matching the deltas produced by
// Optimizer.Step.
type CostFunction interface {
	Compute(expected, actual float32) float32
	Differentiate(expected, actual, cost float32) float32
}

// CrossEntropy is the binary cross-entropy cost. Its derivative divides
// out the a*(1-a) softmax diagonal so the combined error reduces to
// (expected - actual) after the Jacobian product.
type CrossEntropy struct{}

var _ CostFunction = CrossEntropy{}

func (CrossEntropy) Compute(expected, actual float32) float32 {
	return -expected*math32.Log(actual+Epsilon) - (1-expected)*math32.Log(1-actual+Epsilon)
}

func (CrossEntropy) Differentiate(expected, actual, cost float32) float32 {
	return (expected - actual) / (actual*(1-actual) + Epsilon)
}

// SquaredError is the half squared error cost.
type SquaredError struct{}

var _ CostFunction = SquaredError{}

func (SquaredError) Compute(expected, actual float32) float32 {
	diff := expected - actual
	return diff * diff / 2
}

func (SquaredError) Differentiate(expected, actual, cost float32) float32 {
	return expected - actual
}
