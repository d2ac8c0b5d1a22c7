package numdiff

import (
	"errors"
	"math"
)

var sqrtEps = math.Sqrt(math.Nextafter(1, 2) - 1)
var cubeEps = math.Pow(math.Nextafter(1, 2)-1, float64(1)/3)
var quadEps = math.Pow(math.Nextafter(1, 2)-1, float64(1)/4)

type Method int

const (
	// Forward use the first order accuracy forward difference.
	Forward Method = iota
	// Central use the second order accuracy central difference.
	Central
)

// ApproxSpec estimates the gradient and the Hessian of a scalar function 𝒇(𝐱) : ℝⁿ → ℝ
// by finite differences.
//
// # Reference:
//
//   - https://en.wikipedia.org/wiki/Finite_difference
//   - https://github.com/scipy/scipy/blob/main/scipy/optimize/_numdiff.py
type ApproxSpec struct {
	N int
	// Function of which to estimate the derivatives.
	// The argument x passed to this function is an n-vector, it is restored after every call.
	Object func(x []float64) float64
	// Finite difference method used for the gradient. The Hessian always use central differences.
	Method Method
	// Relative step size used to compute absolute step size.
	// The default absolute step size is computed as h = 𝛆 * sign(x0) * max(1, abs(x0))
	// where 𝛆 depends on the derivative order and Method.
	// Otherwise, absolute step size is computed as h = RelStep * sign(x0) * max(1, abs(x0)).
	RelStep float64
	// Absolute step size per variable, overriding RelStep when positive.
	AbsStep []float64
	absStep []float64
}

// Check the parameters and allocate the step buffer.
func (as *ApproxSpec) Check(x0 []float64) (err error) {
	switch {
	case as.N <= 0:
		err = errors.New("negative dimensions")
	case as.Method != Forward && as.Method != Central:
		err = errors.New("unknown method")
	case as.Object == nil:
		err = errors.New("object function is required")
	case as.N != len(x0):
		err = errors.New("invalid x0 dimensions")
	case as.AbsStep != nil && len(as.AbsStep) != as.N:
		err = errors.New("invalid step dimensions")
	case as.RelStep < 0:
		err = errors.New("negative relative step")
	}
	if len(as.absStep) != as.N {
		as.absStep = make([]float64, as.N)
	}
	return
}

func (as *ApproxSpec) absoluteStep(x0 []float64, eps float64) {
	h := as.absStep
	if len(h) != len(x0) {
		panic("bound check error")
	}
	if as.RelStep > 0 {
		eps = as.RelStep
	}
	for i, v := range x0 {
		s := math.Copysign(eps, v) * math.Max(1.0, math.Abs(v))
		if as.AbsStep != nil && as.AbsStep[i] > 0 {
			s = as.AbsStep[i]
		}
		// Use the representable step actually taken.
		if d := (v + s) - v; d != 0 {
			s = d
		}
		h[i] = s
	}
}

// Gradient approximates ∂𝒇/∂𝐱ᵢ at x0 into g.
func (as *ApproxSpec) Gradient(x0, g []float64) error {
	if err := as.Check(x0); err != nil {
		return err
	}
	if len(g) != as.N {
		return errors.New("invalid gradient dimensions")
	}

	fun := as.Object
	if as.Method == Central {
		as.absoluteStep(x0, cubeEps)
		for i, s := range as.absStep {
			x := x0[i]
			x0[i] = x - s
			f1 := fun(x0)
			x0[i] = x + s
			f2 := fun(x0)
			x0[i] = x
			g[i] = (f2 - f1) / (2 * s)
		}
	} else {
		as.absoluteStep(x0, sqrtEps)
		f0 := fun(x0)
		for i, s := range as.absStep {
			x := x0[i]
			x0[i] = x + s
			g[i] = (fun(x0) - f0) / s
			x0[i] = x
		}
	}
	return nil
}

// Hessian approximates ∂²𝒇/∂𝐱ᵢ∂𝐱ⱼ at x0 into h (n×n row major) with central differences:
//   - 𝐇ᵢᵢ = [𝒇(𝐱+𝐡ᵢ) - 2𝒇(𝐱) + 𝒇(𝐱-𝐡ᵢ)] / 𝐡ᵢ²
//   - 𝐇ᵢⱼ = [𝒇(𝐱+𝐡ᵢ+𝐡ⱼ) - 𝒇(𝐱+𝐡ᵢ-𝐡ⱼ) - 𝒇(𝐱-𝐡ᵢ+𝐡ⱼ) + 𝒇(𝐱-𝐡ᵢ-𝐡ⱼ)] / 4𝐡ᵢ𝐡ⱼ
func (as *ApproxSpec) Hessian(x0, h []float64) error {
	if err := as.Check(x0); err != nil {
		return err
	}
	n := as.N
	if len(h) != n*n {
		return errors.New("invalid hessian dimensions")
	}

	as.absoluteStep(x0, quadEps)
	fun, s := as.Object, as.absStep
	f0 := fun(x0)
	for i := 0; i < n; i++ {
		xi := x0[i]
		x0[i] = xi + s[i]
		fp := fun(x0)
		x0[i] = xi - s[i]
		fm := fun(x0)
		x0[i] = xi
		h[i*n+i] = (fp - 2*f0 + fm) / (s[i] * s[i])

		for j := i + 1; j < n; j++ {
			xj := x0[j]
			var f [4]float64
			for k, sg := range [4][2]float64{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}} {
				x0[i] = xi + sg[0]*s[i]
				x0[j] = xj + sg[1]*s[j]
				f[k] = fun(x0)
			}
			x0[i], x0[j] = xi, xj
			v := (f[0] - f[1] - f[2] + f[3]) / (4 * s[i] * s[j])
			h[i*n+j], h[j*n+i] = v, v
		}
	}
	return nil
}
