// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package newton

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newSystem(n int, m, y []float64) *workspace {
	ws := &workspace{idim: n}
	ws.m = mat.NewSymDense(n, m)
	ws.mevec = mat.NewDense(n, n, nil)
	ws.minv = mat.NewDense(n, n, nil)
	ws.y = y
	ws.dx = make([]float64, n)
	ws.meval = make([]float64, n)
	return ws
}

func TestSolveDirect(t *testing.T) {
	ws := newSystem(2, []float64{2, 1, 1, 3}, []float64{1, 2})
	method, err := ws.solveStep(&Solve{DirectTolerance: 1e-12, EigenTolerance: 1e-12})
	require.NoError(t, err)
	assert.Equal(t, SolveDirect, method)
	// 𝐌⁻¹ = [3 -1; -1 2]/5
	assert.InDeltaSlice(t, []float64{-0.2, -0.6}, ws.dx, 1e-14)
}

func TestSolveEigenFallback(t *testing.T) {
	ws := newSystem(2, []float64{1, 1, 1, 1}, []float64{1, 1})
	method, err := ws.solveStep(&Solve{DirectTolerance: 1e-12, EigenTolerance: 1e-12})
	require.NoError(t, err)
	assert.Equal(t, SolveEigen, method)
	assert.InDeltaSlice(t, []float64{-0.5, -0.5}, ws.dx, 1e-14)

	// ill-conditioned but not singular
	ws = newSystem(2, []float64{1, 0, 0, 1e-14}, []float64{1, 0})
	method, err = ws.solveStep(&Solve{DirectTolerance: 1e-12, EigenTolerance: 1e-12})
	require.NoError(t, err)
	assert.Equal(t, SolveEigen, method)
	assert.InDeltaSlice(t, []float64{-1, 0}, ws.dx, 1e-14)
}

func TestSolveFailure(t *testing.T) {
	ws := newSystem(2, []float64{0, 0, 0, 0}, []float64{1, 1})
	_, err := ws.solveStep(&Solve{DirectTolerance: 1e-12, EigenTolerance: 1e-12})
	assert.ErrorIs(t, err, errRankZero)

	ws = newSystem(2, []float64{1, 0, 0, 1}, []float64{math.NaN(), 1})
	_, err = ws.solveStep(&Solve{DirectTolerance: 1e-12, EigenTolerance: 1e-12})
	assert.ErrorIs(t, err, errNotFinite)
}

func TestPseudoInverse(t *testing.T) {
	ws := newSystem(3, []float64{
		4, 0, 0,
		0, 1, 1,
		0, 1, 1,
	}, nil)
	require.NoError(t, ws.pseudoInverse(1e-12))
	want := mat.NewDense(3, 3, []float64{
		0.25, 0, 0,
		0, 0.25, 0.25,
		0, 0.25, 0.25,
	})
	assert.True(t, mat.EqualApprox(want, ws.minv, 1e-14), "got\n%v", mat.Formatted(ws.minv))
}

func TestProjectPSD(t *testing.T) {
	a := mat.NewSymDense(2, []float64{1, 2, 2, 1})
	projectPSD(a, mat.NewSymDense(2, nil))
	want := mat.NewSymDense(2, []float64{1.5, 1.5, 1.5, 1.5})
	assert.True(t, mat.EqualApprox(want, a, 1e-14), "got\n%v", mat.Formatted(a))

	b := mat.NewSymDense(2, []float64{2, 1, 1, 2})
	projectPSD(b, mat.NewSymDense(2, nil))
	assert.Equal(t, []float64{2, 1, 1, 2}, b.RawSymmetric().Data)
}

func TestSettings(t *testing.T) {
	stop, err := Termination{}.resolve()
	require.NoError(t, err)
	assert.Equal(t, Termination{NItMax, 1e-6, 1e-6, 1e-4, 1e-10}, stop)

	_, err = Termination{MaxIterations: -1}.resolve()
	assert.ErrorIs(t, err, ErrBadTermination)
	_, err = Termination{GradTolerance: -1}.resolve()
	assert.ErrorIs(t, err, ErrBadTermination)

	line, err := LineSearch{}.resolve()
	require.NoError(t, err)
	assert.Equal(t, Bound{1e-8, 1}, *line.Alpha)
	assert.Equal(t, 0.1, line.Armijo)
	assert.Equal(t, 20, line.MaxTrials)

	_, err = LineSearch{Alpha: &Bound{0.5, 0.1}}.resolve()
	assert.ErrorIs(t, err, ErrBadTermination)

	solve, err := Solve{}.resolve()
	require.NoError(t, err)
	assert.Equal(t, Solve{1e-12, 1e-12}, solve)
	_, err = Solve{DirectTolerance: 2}.resolve()
	assert.ErrorIs(t, err, ErrBadTermination)
}
