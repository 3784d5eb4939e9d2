package neural

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/chewxy/math32"
)

var (
	// ErrNotReady is returned when Back or Update is called out of order
	// with respect to Forward.
	ErrNotReady = errors.New("layer has no memoized forward pass")

	// ErrBadShape is returned when an input or parameter bundle does not
	// match the layer's declared dimensions.
	ErrBadShape = errors.New("shape mismatch")
)

// Upstream lazily computes the gradient of the loss with respect to the
// layer's input, for consumption by a preceding layer. The product is not
// formed until Grad is called.
type Upstream struct {
	compute func() *Mat32
	cached  *Mat32
}

func (u *Upstream) Grad() *Mat32 {
	if u.cached == nil {
		u.cached = u.compute()
	}
	return u.cached
}

// OutputLayer is the contract shared by the output-layer strategies. A
// layer owns its weight tensors; the matrices returned by Forward and Read
// must be treated as copy-on-read by callers.
//
// Calls must follow the cycle Forward then Back: Back fails with
// ErrNotReady unless a Forward result is memoized, and completing Back
// clears the memoized state.
type OutputLayer interface {
	// Width returns the number of classes (the layer's neuron count).
	Width() int

	// Initialize allocates the parameter tensors for the given fan-in,
	// registers them with the optimizer, and returns the layer's width so
	// construction of a following layer can be chained.
	Initialize(fanIn int, opt Optimizer) (int, error)

	// Forward computes the layer activation for a (fanIn, batch) input and
	// returns the (width, batch) activation matrix.
	Forward(input *Mat32) (*Mat32, error)

	// Back propagates the error for the labels of the preceding Forward
	// batch, returning the deferred upstream gradient and the scalar cost.
	Back(labels []string, opt Optimizer) (*Upstream, float32, error)

	// Read returns the layer parameters as a name-to-tensor bundle.
	Read() map[string]*Mat32

	// Restore replaces the layer parameters from a bundle previously
	// produced by Read. Optimizer state is not part of the bundle; the
	// optimizer must be re-initialized after a restore.
	Restore(tensors map[string]*Mat32) error
}

// phase tags the lifecycle of a layer's memoized cross-call state.
type phase int

const (
	phaseIdle phase = iota // no memoized state
	phaseForwardDone
)

// classTable maps class labels to dense row indices, in declaration order.
type classTable struct {
	classes []string
	index   map[string]int
}

func makeClassTable(classes []string) (*classTable, error) {
	if len(classes) < 2 {
		return nil, fmt.Errorf("need at least 2 classes, got %d", len(classes))
	}
	t := &classTable{
		classes: append([]string(nil), classes...),
		index:   make(map[string]int, len(classes)),
	}
	for i, c := range classes {
		if _, dup := t.index[c]; dup {
			return nil, fmt.Errorf("duplicate class %q", c)
		}
		t.index[c] = i
	}
	return t, nil
}

// xavierInit fills w with independent uniform values in [-r, r] where
// r = sqrt(6/fanIn), keeping the initial activation variance stable.
func xavierInit(w *Mat32, fanIn int, r *rand.Rand) {
	bound := math32.Sqrt(6 / float32(fanIn))
	for i := range w.V {
		w.V[i] = (r.Float32()*2 - 1) * bound
	}
}
