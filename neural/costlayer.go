package neural

import (
	"fmt"
	"math/rand"
)

// CostLayer is the generalized output-layer strategy: column-wise softmax
// over a biased linear transform, scored by a pluggable cost function.
// Unlike SoftmaxLayer, Back applies the parameter updates immediately.
type CostLayer struct {
	table *classTable
	alpha float32
	cost  CostFunction
	rng   *rand.Rand

	softmax Softmax

	weights *Mat32 // (width, fanIn)
	biases  *Mat32 // (width, 1)

	phase         phase
	input         *Mat32 // (fanIn, batch)
	preActivation *Mat32 // (width, batch)
	activation    *Mat32 // (width, batch)
}

var _ OutputLayer = (*CostLayer)(nil)

func NewCostLayer(classes []string, alpha float32, cost CostFunction, rng *rand.Rand) (*CostLayer, error) {
	table, err := makeClassTable(classes)
	if err != nil {
		return nil, err
	}
	if alpha < 0 {
		return nil, fmt.Errorf("negative regularization coefficient %v", alpha)
	}
	if cost == nil {
		return nil, fmt.Errorf("nil cost function")
	}
	return &CostLayer{
		table: table,
		alpha: alpha,
		cost:  cost,
		rng:   rng,
	}, nil
}

func (l *CostLayer) Width() int {
	return len(l.table.classes)
}

// Initialize allocates the weights with Xavier scaling and the biases as
// all ones, and registers both tensors with the optimizer.
func (l *CostLayer) Initialize(fanIn int, opt Optimizer) (int, error) {
	if fanIn < 1 {
		return 0, fmt.Errorf("fan-in must be at least 1, got %d", fanIn)
	}

	l.weights = MakeMat32(l.Width(), fanIn)
	xavierInit(l.weights, fanIn, l.rng)
	opt.Initialize(l.weights)

	l.biases = MakeMat32(l.Width(), 1)
	for i := range l.biases.V {
		l.biases.V[i] = 1
	}
	opt.Initialize(l.biases)

	l.phase = phaseIdle

	return l.Width(), nil
}

func (l *CostLayer) Forward(input *Mat32) (*Mat32, error) {
	if l.weights == nil {
		return nil, fmt.Errorf("forward before initialize: %w", ErrNotReady)
	}
	if input.Rows != l.weights.Cols {
		return nil, fmt.Errorf("input has %d features, layer expects %d: %w", input.Rows, l.weights.Cols, ErrBadShape)
	}

	l.input = input
	l.preActivation = matMul(l.weights, input)
	for i := 0; i < l.preActivation.Rows; i++ {
		b := l.biases.At(i, 0)
		for j := 0; j < l.preActivation.Cols; j++ {
			l.preActivation.Set(i, j, l.preActivation.At(i, j)+b)
		}
	}

	l.activation = MakeMat32(l.Width(), input.Cols)
	l.softmax.Compute(l.preActivation, l.activation)
	l.phase = phaseForwardDone

	return l.activation, nil
}

// Back scores the batch with the cost function, adds the weight-decay term
// directly to the gradient, routes the error through the softmax Jacobian,
// and applies both parameter updates through the optimizer. The upstream
// gradient is computed against the pre-update weights.
func (l *CostLayer) Back(labels []string, opt Optimizer) (*Upstream, float32, error) {
	if l.phase != phaseForwardDone {
		return nil, 0, fmt.Errorf("back without forward: %w", ErrNotReady)
	}
	batch := l.input.Cols
	if len(labels) != batch {
		return nil, 0, fmt.Errorf("got %d labels for a batch of %d: %w", len(labels), batch, ErrBadShape)
	}

	width := l.Width()
	dL := MakeMat32(width, batch)
	var totalCost float32

	for i := 0; i < width; i++ {
		// The decay term goes straight into the gradient, not the cost.
		reg := l.alpha * l.weights.RowSum(i)
		for j := 0; j < batch; j++ {
			expected := float32(0)
			if l.table.classes[i] == labels[j] {
				expected = 1
			}
			c := l.cost.Compute(expected, l.activation.At(i, j))
			totalCost += c
			dL.Set(i, j, l.cost.Differentiate(expected, l.activation.At(i, j), c)+reg)
		}
	}

	dA := l.softmax.Differentiate(l.preActivation, l.activation)
	for i := range dA.V {
		dA.V[i] *= dL.V[i]
	}

	dW := matMul(dA, l.input.Transpose())

	dB := MakeMat32(width, 1)
	for i := 0; i < width; i++ {
		dB.Set(i, 0, dA.RowSum(i)/float32(batch))
	}

	// Capture the pre-update weights for the upstream product.
	wT := l.weights.Transpose()

	l.weights.AddInPlace(opt.Step(l.weights, dW))
	l.biases.AddInPlace(opt.Step(l.biases, dB))

	upstream := &Upstream{compute: func() *Mat32 {
		return matMul(wT, dA)
	}}

	l.input = nil
	l.preActivation = nil
	l.activation = nil
	l.phase = phaseIdle

	return upstream, totalCost, nil
}

func (l *CostLayer) Read() map[string]*Mat32 {
	return map[string]*Mat32{
		"weights": l.weights.Copy(),
		"biases":  l.biases.Copy(),
	}
}

func (l *CostLayer) Restore(tensors map[string]*Mat32) error {
	weights, ok := tensors["weights"]
	if !ok {
		return fmt.Errorf("missing weights tensor")
	}
	biases, ok := tensors["biases"]
	if !ok {
		return fmt.Errorf("missing biases tensor")
	}
	if weights.Rows != l.Width() {
		return fmt.Errorf("weights are (%d, %d), layer width is %d: %w",
			weights.Rows, weights.Cols, l.Width(), ErrBadShape)
	}
	if biases.Rows != l.Width() || biases.Cols != 1 {
		return fmt.Errorf("biases are (%d, %d), want (%d, 1): %w",
			biases.Rows, biases.Cols, l.Width(), ErrBadShape)
	}
	if l.weights != nil && (weights.Rows != l.weights.Rows || weights.Cols != l.weights.Cols) {
		return fmt.Errorf("weights are (%d, %d), layer expects (%d, %d): %w",
			weights.Rows, weights.Cols, l.weights.Rows, l.weights.Cols, ErrBadShape)
	}

	if l.weights != nil {
		copy(l.weights.V, weights.V)
		copy(l.biases.V, biases.V)
	} else {
		l.weights = weights.Copy()
		l.biases = biases.Copy()
	}

	l.phase = phaseIdle
	l.input = nil
	l.preActivation = nil
	l.activation = nil

	return nil
}
