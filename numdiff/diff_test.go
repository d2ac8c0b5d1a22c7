package numdiff

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// invariant mass of two massless momenta given as (p₁, p₂) ∈ ℝ⁶
func massV2(x []float64) float64 {
	e1 := math.Sqrt(x[0]*x[0] + x[1]*x[1] + x[2]*x[2])
	e2 := math.Sqrt(x[3]*x[3] + x[4]*x[4] + x[5]*x[5])
	px, py, pz := x[0]+x[3], x[1]+x[4], x[2]+x[5]
	e := e1 + e2
	return math.Sqrt(e*e - px*px - py*py - pz*pz)
}

func quadratic(x []float64) float64 {
	return 3*x[0]*x[0] + 2*x[0]*x[1] - x[1]*x[1] + 5*x[1]
}

func TestGradient(t *testing.T) {

	x := []float64{1.5, -2}
	want := []float64{6*x[0] + 2*x[1], 2*x[0] - 2*x[1] + 5}

	for _, m := range []Method{Forward, Central} {
		as := ApproxSpec{N: 2, Object: quadratic, Method: m}
		g := make([]float64, 2)
		require.NoError(t, as.Gradient(x, g))
		tol := 1e-6
		if m == Central {
			tol = 1e-9
		}
		assert.True(t, relativeEqual(g, want, tol), "method %d: got %v want %v", m, g, want)
		assert.Equal(t, []float64{1.5, -2}, x, "x0 must be restored")
	}
}

func TestHessian(t *testing.T) {

	x := []float64{0.3, 0.7}
	as := ApproxSpec{N: 2, Object: quadratic}
	h := make([]float64, 4)
	require.NoError(t, as.Hessian(x, h))
	assert.True(t, relativeEqual(h, []float64{6, 2, 2, -2}, 1e-6), "got %v", h)
	assert.Equal(t, h[1], h[2])
}

func TestMassGradient(t *testing.T) {

	x := []float64{10, 2, 1, -8, 1, 3}
	as := ApproxSpec{N: 6, Object: massV2, Method: Central}
	g := make([]float64, 6)
	require.NoError(t, as.Gradient(x, g))

	// ∂M/∂𝐩₁ = (E 𝐩₁/E₁ - 𝐏)/M
	m := massV2(x)
	e1 := math.Sqrt(x[0]*x[0] + x[1]*x[1] + x[2]*x[2])
	e2 := math.Sqrt(x[3]*x[3] + x[4]*x[4] + x[5]*x[5])
	e := e1 + e2
	want := make([]float64, 6)
	for k := 0; k < 3; k++ {
		p := x[k] + x[k+3]
		want[k] = (e*x[k]/e1 - p) / m
		want[k+3] = (e*x[k+3]/e2 - p) / m
	}
	assert.True(t, relativeEqual(g, want, 1e-7), "got %v want %v", g, want)
}

func TestCheck(t *testing.T) {

	cases := []struct {
		name string
		spec ApproxSpec
		x    []float64
	}{
		{"dimension", ApproxSpec{N: 0, Object: quadratic}, nil},
		{"object", ApproxSpec{N: 2}, []float64{0, 0}},
		{"method", ApproxSpec{N: 2, Object: quadratic, Method: 7}, []float64{0, 0}},
		{"x0", ApproxSpec{N: 2, Object: quadratic}, []float64{0}},
		{"step", ApproxSpec{N: 2, Object: quadratic, AbsStep: []float64{1}}, []float64{0, 0}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Error(t, c.spec.Check(c.x))
		})
	}

	as := ApproxSpec{N: 2, Object: quadratic}
	assert.Error(t, as.Gradient([]float64{0, 0}, make([]float64, 3)))
	assert.Error(t, as.Hessian([]float64{0, 0}, make([]float64, 3)))
}

func TestAbsStep(t *testing.T) {

	x := []float64{0, 100}
	as := ApproxSpec{N: 2, Object: quadratic, AbsStep: []float64{1e-3, 0}}
	require.NoError(t, as.Check(x))
	as.absoluteStep(x, sqrtEps)
	assert.InDelta(t, 1e-3, as.absStep[0], 1e-15)
	assert.InEpsilon(t, sqrtEps*100, as.absStep[1], 1e-6)
}

func relativeEqual[T float64 | []float64](a, b T, tol float64) bool {
	switch a := any(a).(type) {
	case float64:
		b := any(b).(float64)
		return math.Abs(a-b) <= tol*math.Max(1, math.Abs(b))
	case []float64:
		b := any(b).([]float64)
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if math.Abs(a[i]-b[i]) > tol*math.Max(1, math.Abs(b[i])) {
				return false
			}
		}
	}
	return true
}
