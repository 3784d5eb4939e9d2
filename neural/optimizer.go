package neural

import "github.com/chewxy/math32"

// Optimizer converts a gradient into a parameter update delta. State is
// keyed by parameter tensor identity; Initialize must be called once per
// tensor before Step. Step receives the error-direction gradient and
// returns a delta for the caller to add to the parameter.
type Optimizer interface {
	Initialize(param *Mat32)
	Step(param, grad *Mat32) *Mat32
}

// SGD is stochastic gradient descent with momentum.
type SGD struct {
	LearningRate float32
	Momentum     float32

	velocity map[*Mat32]*Mat32
}

var _ Optimizer = (*SGD)(nil)

func NewSGD(learningRate, momentum float32) *SGD {
	return &SGD{
		LearningRate: learningRate,
		Momentum:     momentum,
		velocity:     map[*Mat32]*Mat32{},
	}
}

func (o *SGD) Initialize(param *Mat32) {
	o.velocity[param] = MakeMat32(param.Rows, param.Cols)
}

func (o *SGD) Step(param, grad *Mat32) *Mat32 {
	vel, ok := o.velocity[param]
	if !ok {
		panic("optimizer step on unregistered parameter")
	}
	if grad.Rows != param.Rows || grad.Cols != param.Cols {
		panic("dimension mismatch")
	}

	delta := MakeMat32(param.Rows, param.Cols)
	for i := range delta.V {
		vel.V[i] = o.Momentum*vel.V[i] + o.LearningRate*grad.V[i]
		delta.V[i] = vel.V[i]
	}
	return delta
}

// Adam holds per-parameter first and second moment tensors, with the
// bias-correction factors beta1T and beta2T updated every step.
type Adam struct {
	Alpha   float32
	Beta1   float32
	Beta2   float32
	Epsilon float32

	beta1T float32
	beta2T float32

	m map[*Mat32]*Mat32
	v map[*Mat32]*Mat32
}

var _ Optimizer = (*Adam)(nil)

func NewAdam(alpha float32) *Adam {
	return &Adam{
		Alpha:   alpha,
		Beta1:   0.9,
		Beta2:   0.999,
		Epsilon: 1e-7,

		beta1T: 0.9,
		beta2T: 0.999,

		m: map[*Mat32]*Mat32{},
		v: map[*Mat32]*Mat32{},
	}
}

func (o *Adam) Initialize(param *Mat32) {
	o.m[param] = MakeMat32(param.Rows, param.Cols)
	o.v[param] = MakeMat32(param.Rows, param.Cols)
}

func (o *Adam) Step(param, grad *Mat32) *Mat32 {
	m, ok := o.m[param]
	if !ok {
		panic("optimizer step on unregistered parameter")
	}
	v := o.v[param]
	if grad.Rows != param.Rows || grad.Cols != param.Cols {
		panic("dimension mismatch")
	}

	alphaT := o.Alpha * math32.Sqrt(1-o.beta2T) / (1 - o.beta1T)

	delta := MakeMat32(param.Rows, param.Cols)
	for i := range delta.V {
		g := grad.V[i]
		m.V[i] = o.Beta1*m.V[i] + (1-o.Beta1)*g
		v.V[i] = o.Beta2*v.V[i] + (1-o.Beta2)*g*g
		delta.V[i] = alphaT * m.V[i] / (math32.Sqrt(v.V[i]) + o.Epsilon)
	}

	o.beta1T *= o.Beta1
	o.beta2T *= o.Beta2

	return delta
}
