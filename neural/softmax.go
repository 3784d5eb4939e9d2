package neural

import (
	"fmt"
	"math/rand"

	"github.com/chewxy/math32"
)

// SoftmaxLayer is the fixed output-layer strategy: column-wise softmax
// with an implicit cross-entropy cost. Back only computes the weight
// gradients; the parameter update is applied by a separate Update call.
type SoftmaxLayer struct {
	table *classTable
	alpha float32
	rng   *rand.Rand

	weights *Mat32 // (width, fanIn)

	phase         phase
	input         *Mat32 // (fanIn, batch)
	preActivation *Mat32 // (width, batch)
	activation    *Mat32 // (width, batch)

	gradients *Mat32 // (width, fanIn), valid after Back until Update
}

var _ OutputLayer = (*SoftmaxLayer)(nil)

// NewSoftmaxLayer constructs the fixed softmax/cross-entropy layer for the
// given ordered class labels and L2 coefficient alpha.
func NewSoftmaxLayer(classes []string, alpha float32, rng *rand.Rand) (*SoftmaxLayer, error) {
	table, err := makeClassTable(classes)
	if err != nil {
		return nil, err
	}
	if alpha < 0 {
		return nil, fmt.Errorf("negative regularization coefficient %v", alpha)
	}
	return &SoftmaxLayer{
		table: table,
		alpha: alpha,
		rng:   rng,
	}, nil
}

func (l *SoftmaxLayer) Width() int {
	return len(l.table.classes)
}

func (l *SoftmaxLayer) Initialize(fanIn int, opt Optimizer) (int, error) {
	if fanIn < 1 {
		return 0, fmt.Errorf("fan-in must be at least 1, got %d", fanIn)
	}

	l.weights = MakeMat32(l.Width(), fanIn)
	xavierInit(l.weights, fanIn, l.rng)
	opt.Initialize(l.weights)

	l.phase = phaseIdle
	l.gradients = nil

	return l.Width(), nil
}

func (l *SoftmaxLayer) Forward(input *Mat32) (*Mat32, error) {
	if l.weights == nil {
		return nil, fmt.Errorf("forward before initialize: %w", ErrNotReady)
	}
	if input.Rows != l.weights.Cols {
		return nil, fmt.Errorf("input has %d features, layer expects %d: %w", input.Rows, l.weights.Cols, ErrBadShape)
	}

	l.input = input
	l.preActivation = matMul(l.weights, input)
	l.activation = MakeMat32(l.Width(), input.Cols)
	softmaxColumns(l.preActivation, l.activation)
	l.phase = phaseForwardDone

	return l.activation, nil
}

// Back accumulates the error matrix, folds in the per-unit regularization
// term, and stores the weight gradients for Update. The returned cost is
// the summed cross-entropy of the batch, and the upstream gradient is
// computed against the current (pre-Update) weights.
func (l *SoftmaxLayer) Back(labels []string, opt Optimizer) (*Upstream, float32, error) {
	if l.phase != phaseForwardDone {
		return nil, 0, fmt.Errorf("back without forward: %w", ErrNotReady)
	}
	batch := l.input.Cols
	if len(labels) != batch {
		return nil, 0, fmt.Errorf("got %d labels for a batch of %d: %w", len(labels), batch, ErrBadShape)
	}

	width := l.Width()
	dL := MakeMat32(width, batch)
	var cost float32

	for i := 0; i < width; i++ {
		rowSum := l.weights.RowSum(i)
		reg := 0.5 * l.alpha * rowSum * rowSum
		for j := 0; j < batch; j++ {
			expected := float32(0)
			if l.table.classes[i] == labels[j] {
				expected = 1
				cost += -math32.Log(l.activation.At(i, j) + Epsilon)
			}
			dL.Set(i, j, expected-l.activation.At(i, j)+reg)
		}
	}

	l.gradients = matMul(dL, l.input.Transpose())

	// Snapshot the transpose now so a later Update cannot leak post-update
	// weights into the deferred product.
	wT := l.weights.Transpose()
	upstream := &Upstream{compute: func() *Mat32 {
		return matMul(wT, dL)
	}}

	l.input = nil
	l.preActivation = nil
	l.activation = nil
	l.phase = phaseIdle

	return upstream, cost, nil
}

// Update applies the optimizer step for the gradients computed by the last
// Back call and returns the Frobenius norm of the applied delta as a
// convergence signal.
func (l *SoftmaxLayer) Update(opt Optimizer) (float32, error) {
	if l.gradients == nil {
		return 0, fmt.Errorf("update without back: %w", ErrNotReady)
	}

	delta := opt.Step(l.weights, l.gradients)
	l.weights.AddInPlace(delta)
	l.gradients = nil

	return delta.Norm(), nil
}

func (l *SoftmaxLayer) Read() map[string]*Mat32 {
	return map[string]*Mat32{
		"weights": l.weights.Copy(),
	}
}

func (l *SoftmaxLayer) Restore(tensors map[string]*Mat32) error {
	weights, ok := tensors["weights"]
	if !ok {
		return fmt.Errorf("missing weights tensor")
	}
	if l.weights != nil && (weights.Rows != l.weights.Rows || weights.Cols != l.weights.Cols) {
		return fmt.Errorf("weights are (%d, %d), layer expects (%d, %d): %w",
			weights.Rows, weights.Cols, l.weights.Rows, l.weights.Cols, ErrBadShape)
	}
	if weights.Rows != l.Width() {
		return fmt.Errorf("weights are (%d, %d), layer width is %d: %w",
			weights.Rows, weights.Cols, l.Width(), ErrBadShape)
	}

	restored := weights.Copy()
	if l.weights != nil {
		copy(l.weights.V, restored.V)
	} else {
		l.weights = restored
	}

	l.phase = phaseIdle
	l.gradients = nil
	l.input = nil
	l.preActivation = nil
	l.activation = nil

	return nil
}
