package neural

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/chewxy/math32"
	"github.com/google/go-cmp/cmp"
)

func TestSoftmaxColumnsSumToOne(t *testing.T) {
	r := rand.New(rand.NewSource(12345))

	z := MakeMat32(5, 7)
	for i := range z.V {
		z.V[i] = r.Float32()*10 - 5
	}

	a := MakeMat32(5, 7)
	softmaxColumns(z, a)

	for j := 0; j < a.Cols; j++ {
		var sum float32
		for i := 0; i < a.Rows; i++ {
			if a.At(i, j) < 0 {
				t.Errorf("column %d row %d: negative probability %v", j, i, a.At(i, j))
			}
			sum += a.At(i, j)
		}
		if math32.Abs(sum-1) > 1e-5 {
			t.Errorf("column %d sums to %v, want 1", j, sum)
		}
	}
}

func TestWidthStableAcrossInitialize(t *testing.T) {
	r := rand.New(rand.NewSource(1))

	lay, err := NewSoftmaxLayer([]string{"a", "b", "c"}, 0, r)
	if err != nil {
		t.Fatalf("NewSoftmaxLayer: %v", err)
	}
	if lay.Width() != 3 {
		t.Errorf("before initialize: width = %d, want 3", lay.Width())
	}

	width, err := lay.Initialize(4, NewSGD(0.1, 0))
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if width != 3 {
		t.Errorf("Initialize returned %d, want 3", width)
	}
	if lay.Width() != 3 {
		t.Errorf("after initialize: width = %d, want 3", lay.Width())
	}
}

func TestXavierInitializationRange(t *testing.T) {
	r := rand.New(rand.NewSource(2))

	fanIn := 10
	lay, err := NewCostLayer([]string{"a", "b"}, 0, CrossEntropy{}, r)
	if err != nil {
		t.Fatalf("NewCostLayer: %v", err)
	}
	if _, err := lay.Initialize(fanIn, NewSGD(0.1, 0)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	bound := math32.Sqrt(6 / float32(fanIn))
	for i, w := range lay.weights.V {
		if w < -bound || w > bound {
			t.Errorf("weight %d = %v outside [-%v, %v]", i, w, bound, bound)
		}
	}

	for i, b := range lay.biases.V {
		if b != 1 {
			t.Errorf("bias %d = %v, want 1", i, b)
		}
	}
}

func TestConstructorPreconditions(t *testing.T) {
	r := rand.New(rand.NewSource(3))

	if _, err := NewSoftmaxLayer([]string{"only"}, 0, r); err == nil {
		t.Errorf("expected error for a single class")
	}
	if _, err := NewSoftmaxLayer([]string{"a", "a"}, 0, r); err == nil {
		t.Errorf("expected error for duplicate classes")
	}
	if _, err := NewSoftmaxLayer([]string{"a", "b"}, -0.1, r); err == nil {
		t.Errorf("expected error for negative alpha")
	}
	if _, err := NewCostLayer([]string{"a", "b"}, 0, nil, r); err == nil {
		t.Errorf("expected error for nil cost function")
	}

	lay, err := NewSoftmaxLayer([]string{"a", "b"}, 0, r)
	if err != nil {
		t.Fatalf("NewSoftmaxLayer: %v", err)
	}
	if _, err := lay.Initialize(0, NewSGD(0.1, 0)); err == nil {
		t.Errorf("expected error for fan-in 0")
	}
}

func TestBackRequiresForward(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	opt := NewSGD(0.1, 0)

	lay, err := NewSoftmaxLayer([]string{"a", "b"}, 0, r)
	if err != nil {
		t.Fatalf("NewSoftmaxLayer: %v", err)
	}
	if _, err := lay.Initialize(3, opt); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if _, _, err := lay.Back([]string{"a"}, opt); !errors.Is(err, ErrNotReady) {
		t.Errorf("Back without Forward: err = %v, want ErrNotReady", err)
	}

	x := MakeMat32(3, 2)
	if _, err := lay.Forward(x); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if _, _, err := lay.Back([]string{"a", "b"}, opt); err != nil {
		t.Fatalf("Back: %v", err)
	}

	// The memoized state was cleared, so a second Back must fail.
	if _, _, err := lay.Back([]string{"a", "b"}, opt); !errors.Is(err, ErrNotReady) {
		t.Errorf("second Back: err = %v, want ErrNotReady", err)
	}
}

func TestBackChecksLabelCount(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	opt := NewSGD(0.1, 0)

	lay, err := NewCostLayer([]string{"a", "b"}, 0, SquaredError{}, r)
	if err != nil {
		t.Fatalf("NewCostLayer: %v", err)
	}
	if _, err := lay.Initialize(3, opt); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	x := MakeMat32(3, 4)
	if _, err := lay.Forward(x); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if _, _, err := lay.Back([]string{"a", "b"}, opt); !errors.Is(err, ErrBadShape) {
		t.Errorf("Back with 2 labels for batch of 4: err = %v, want ErrBadShape", err)
	}
}

func TestUpdateRequiresBack(t *testing.T) {
	r := rand.New(rand.NewSource(6))
	opt := NewSGD(0.1, 0)

	lay, err := NewSoftmaxLayer([]string{"a", "b"}, 0, r)
	if err != nil {
		t.Fatalf("NewSoftmaxLayer: %v", err)
	}
	if _, err := lay.Initialize(3, opt); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if _, err := lay.Update(opt); !errors.Is(err, ErrNotReady) {
		t.Errorf("Update without Back: err = %v, want ErrNotReady", err)
	}
}

func TestReadRestoreRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	opt := NewSGD(0.1, 0)

	lay, err := NewCostLayer([]string{"a", "b", "c"}, 0.01, CrossEntropy{}, r)
	if err != nil {
		t.Fatalf("NewCostLayer: %v", err)
	}
	if _, err := lay.Initialize(4, opt); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	saved := lay.Read()

	// Mutating the returned bundle must not touch the layer.
	checkpoint := map[string]*Mat32{
		"weights": saved["weights"].Copy(),
		"biases":  saved["biases"].Copy(),
	}
	saved["weights"].V[0] += 100

	// Train a few steps so the parameters move.
	x := MakeMat32(4, 2)
	for i := range x.V {
		x.V[i] = r.Float32()
	}
	for step := 0; step < 5; step++ {
		if _, err := lay.Forward(x); err != nil {
			t.Fatalf("Forward: %v", err)
		}
		if _, _, err := lay.Back([]string{"a", "c"}, opt); err != nil {
			t.Fatalf("Back: %v", err)
		}
	}

	if err := lay.Restore(checkpoint); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if diff := cmp.Diff(checkpoint, lay.Read()); diff != "" {
		t.Errorf("parameters after restore differ (-want +got):\n%s", diff)
	}
}

func TestRestoreRejectsBadShapes(t *testing.T) {
	r := rand.New(rand.NewSource(8))

	lay, err := NewSoftmaxLayer([]string{"a", "b"}, 0, r)
	if err != nil {
		t.Fatalf("NewSoftmaxLayer: %v", err)
	}
	if _, err := lay.Initialize(3, NewSGD(0.1, 0)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if err := lay.Restore(map[string]*Mat32{}); err == nil {
		t.Errorf("expected error for missing weights")
	}
	if err := lay.Restore(map[string]*Mat32{"weights": MakeMat32(2, 5)}); !errors.Is(err, ErrBadShape) {
		t.Errorf("Restore with wrong fan-in: err = %v, want ErrBadShape", err)
	}
}

// trainingTable is a separable two-class batch: class "neg" clusters around
// (-1, -1) and class "pos" around (+1, +1).
func trainingTable(r *rand.Rand, n int) (*Mat32, []string) {
	x := MakeMat32(2, n)
	labels := make([]string, n)
	for j := 0; j < n; j++ {
		center := float32(-1)
		labels[j] = "neg"
		if j%2 == 1 {
			center = 1
			labels[j] = "pos"
		}
		x.Set(0, j, center+(r.Float32()-0.5)*0.2)
		x.Set(1, j, center+(r.Float32()-0.5)*0.2)
	}
	return x, labels
}

func TestSoftmaxLayerLearnsSeparableData(t *testing.T) {
	r := rand.New(rand.NewSource(9))
	opt := NewSGD(0.1, 0.5)

	lay, err := NewSoftmaxLayer([]string{"neg", "pos"}, 0, r)
	if err != nil {
		t.Fatalf("NewSoftmaxLayer: %v", err)
	}
	if _, err := lay.Initialize(2, opt); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	x, labels := trainingTable(r, 32)

	var firstCost, lastCost float32
	for step := 0; step < 200; step++ {
		if _, err := lay.Forward(x); err != nil {
			t.Fatalf("Forward: %v", err)
		}
		_, cost, err := lay.Back(labels, opt)
		if err != nil {
			t.Fatalf("Back: %v", err)
		}
		if _, err := lay.Update(opt); err != nil {
			t.Fatalf("Update: %v", err)
		}
		if step == 0 {
			firstCost = cost
		}
		lastCost = cost
	}

	if lastCost >= firstCost {
		t.Errorf("cost did not decrease: first %v, last %v", firstCost, lastCost)
	}

	a, err := lay.Forward(x)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	for j := 0; j < a.Cols; j++ {
		want := 0
		if labels[j] == "pos" {
			want = 1
		}
		got := 0
		if a.At(1, j) > a.At(0, j) {
			got = 1
		}
		if got != want {
			t.Errorf("sample %d: predicted class %d, want %d", j, got, want)
		}
	}
}

func TestCostLayerLearnsSeparableData(t *testing.T) {
	r := rand.New(rand.NewSource(10))
	opt := NewSGD(0.1, 0)

	lay, err := NewCostLayer([]string{"neg", "pos"}, 0, CrossEntropy{}, r)
	if err != nil {
		t.Fatalf("NewCostLayer: %v", err)
	}
	if _, err := lay.Initialize(2, opt); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	x, labels := trainingTable(r, 32)

	var firstCost, lastCost float32
	for step := 0; step < 200; step++ {
		if _, err := lay.Forward(x); err != nil {
			t.Fatalf("Forward: %v", err)
		}
		_, cost, err := lay.Back(labels, opt)
		if err != nil {
			t.Fatalf("Back: %v", err)
		}
		if step == 0 {
			firstCost = cost
		}
		lastCost = cost
	}

	if lastCost >= firstCost {
		t.Errorf("cost did not decrease: first %v, last %v", firstCost, lastCost)
	}

	a, err := lay.Forward(x)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	for j := 0; j < a.Cols; j++ {
		want := 0
		if labels[j] == "pos" {
			want = 1
		}
		got := 0
		if a.At(1, j) > a.At(0, j) {
			got = 1
		}
		if got != want {
			t.Errorf("sample %d: predicted class %d, want %d", j, got, want)
		}
	}
}

func TestUpstreamUsesPreUpdateWeights(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	opt := NewSGD(0.5, 0)

	lay, err := NewCostLayer([]string{"a", "b"}, 0, SquaredError{}, r)
	if err != nil {
		t.Fatalf("NewCostLayer: %v", err)
	}
	if _, err := lay.Initialize(3, opt); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	before := lay.Read()["weights"]

	x := MakeMat32(3, 2)
	for i := range x.V {
		x.V[i] = r.Float32()
	}
	if _, err := lay.Forward(x); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	upstream, _, err := lay.Back([]string{"a", "b"}, opt)
	if err != nil {
		t.Fatalf("Back: %v", err)
	}

	after := lay.Read()["weights"]
	if cmp.Diff(before, after) == "" {
		t.Fatalf("Back did not move the weights")
	}

	grad := upstream.Grad()
	if grad.Rows != 3 || grad.Cols != 2 {
		t.Errorf("upstream gradient is (%d, %d), want (3, 2)", grad.Rows, grad.Cols)
	}

	// A second call must return the memoized product.
	if upstream.Grad() != grad {
		t.Errorf("upstream gradient was recomputed")
	}
}
