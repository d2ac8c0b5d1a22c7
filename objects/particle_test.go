// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package objects

import (
	"math"
	"testing"

	"github.com/curioloop/kinfit/numdiff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// component returns the k-th four-momentum component of p as a function of its parameters.
func component(p Particle, k int) func(x []float64) float64 {
	return func(x []float64) float64 {
		for i, v := range x {
			p.SetParam(i, v)
		}
		return p.FourMomentum()[k]
	}
}

func params(p Particle) []float64 {
	x := make([]float64, p.NPar())
	for i := range x {
		x[i] = p.Param(i)
	}
	return x
}

func checkDerivatives(t *testing.T, p Particle) {
	t.Helper()
	n := p.NPar()
	x0 := params(p)

	d1 := make([]float64, 4*n)
	d2 := make([]float64, 4*n*n)
	p.FourDerivatives(d1)
	p.FourSecondDerivatives(d2)

	for k := 0; k < 4; k++ {
		as := numdiff.ApproxSpec{N: n, Object: component(p, k), Method: numdiff.Central}
		g := make([]float64, n)
		h := make([]float64, n*n)
		require.NoError(t, as.Gradient(params(p), g))
		require.NoError(t, as.Hessian(params(p), h))
		for i := range x0 {
			p.SetParam(i, x0[i])
		}
		for i := 0; i < n; i++ {
			assert.InDelta(t, g[i], d1[k*n+i], 1e-6*math.Max(1, math.Abs(g[i])), "%s ∂[%d]/∂%s", p.Name(), k, p.ParamName(i))
			for j := 0; j < n; j++ {
				hv := h[i*n+j]
				assert.InDelta(t, hv, d2[k*n*n+i*n+j], 1e-4*math.Max(1, math.Abs(hv)), "%s ∂²[%d]/∂%d∂%d", p.Name(), k, i, j)
			}
		}
	}
}

func TestFourVectorDerivatives(t *testing.T) {
	v := NewFourVector("v", [4]float64{50, 10, -20, 30}, [4]float64{1, 1, 1, 1})
	checkDerivatives(t, v)
	assert.Equal(t, [4]float64{50, 10, -20, 30}, v.FourMomentum())
}

func TestJetDerivatives(t *testing.T) {
	for _, m := range []float64{0, 4.7} {
		j := NewJet("jet", 45, 1.1, 0.7, m, [3]float64{3, 0.02, 0.02})
		checkDerivatives(t, j)

		p4 := j.FourMomentum()
		m2 := p4[E]*p4[E] - p4[Px]*p4[Px] - p4[Py]*p4[Py] - p4[Pz]*p4[Pz]
		assert.InDelta(t, m*m, m2, 1e-9)
	}
}

func TestNeutrinoDerivatives(t *testing.T) {
	n := NewNeutrino("nu", 12, -7, 25)
	checkDerivatives(t, n)
	assert.Equal(t, 0, countMeasured(n))
	assert.InDelta(t, math.Sqrt(12*12+7*7+25*25), n.FourMomentum()[E], 1e-12)
}

func countMeasured(p Particle) (n int) {
	for i := 0; i < p.NPar(); i++ {
		if p.Measured(i) {
			n++
		}
	}
	return
}

func TestJetPhiWrap(t *testing.T) {
	j := NewJet("jet", 30, 1, math.Pi-0.01, 0, [3]float64{1, 0.1, 0.1})
	j.SetParam(JetPhi, math.Pi+0.01)
	assert.InDelta(t, -math.Pi+0.01, j.Param(JetPhi), 1e-12)
	assert.InDelta(t, 0.02, j.Residual(JetPhi), 1e-12)
	assert.InDelta(t, 0, j.Residual(JetE), 0)

	assert.Equal(t, math.Pi, wrapAngle(-math.Pi))
	assert.InDelta(t, 0.5, wrapAngle(0.5+4*math.Pi), 1e-12)
}

func TestJetThetaOutsideRange(t *testing.T) {
	j := NewJet("jet", 30, 0.2, 0.7, 0, [3]float64{1, 0.1, 0.1})
	j.SetParam(JetTheta, -0.3)
	assert.Equal(t, -0.3, j.Param(JetTheta))
	assert.InDelta(t, -0.5, j.Residual(JetTheta), 1e-15)
	checkDerivatives(t, j)

	mirror := NewJet("mirror", 30, 0.3, 0.7+math.Pi, 0, [3]float64{1, 0.1, 0.1})
	got, want := j.FourMomentum(), mirror.FourMomentum()
	for k := range got {
		assert.InDelta(t, want[k], got[k], 1e-12)
	}
}

func TestParams(t *testing.T) {
	p := NewParams("p", []string{"a", "b", "c"}, []float64{1, 2, 3}, []float64{0.5, 0, math.NaN()})
	assert.Equal(t, 3, p.NPar())
	assert.Equal(t, "b", p.ParamName(1))
	assert.True(t, p.Measured(0))
	assert.False(t, p.Measured(1))
	assert.False(t, p.Measured(2))
	assert.Equal(t, 0.25, p.Cov(0, 0))

	p.SetCov(0, 1, 0.1)
	assert.Equal(t, 0.1, p.Cov(1, 0))

	p.SetError(1, 2)
	assert.True(t, p.Measured(1))
	assert.Equal(t, 4.0, p.Cov(1, 1))

	p.SetParam(0, 7)
	assert.Equal(t, 6.0, p.Residual(0))
	p.Reset()
	assert.Equal(t, 1.0, p.Param(0))

	p.SetFixed(2, true)
	assert.True(t, p.Fixed(2))

	assert.Panics(t, func() {
		NewParams("bad", []string{"a"}, []float64{1, 2}, []float64{1, 1})
	})
}
