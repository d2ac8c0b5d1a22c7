// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package newton

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	errIllConditioned = errors.New("newton: matrix is ill-conditioned")
	errNoEigen        = errors.New("newton: eigen decomposition failed")
	errRankZero       = errors.New("newton: matrix has no usable eigenvalue")
	errNotFinite      = errors.New("newton: step is not finite")
)

// solveStep computes 𝐝𝐱 = -𝐌⁻¹𝐲, trying the direct solve first and the eigen pseudo-inverse after.
func (ws *workspace) solveStep(opt *Solve) (SolveMethod, error) {
	if !isFinite(ws.m.RawSymmetric().Data) || !isFinite(ws.y) {
		return 0, errNotFinite
	}
	if err := ws.calcDx(opt.DirectTolerance); err == nil {
		return SolveDirect, nil
	}
	if err := ws.calcDxSVD(opt.EigenTolerance); err != nil {
		return SolveEigen, err
	}
	return SolveEigen, nil
}

// calcDx solves the Newton system by LU decomposition with partial pivoting.
// It fails when the condition number exceeds 1/tol.
func (ws *workspace) calcDx(tol float64) error {
	ws.lu.Factorize(ws.m)
	if c := ws.lu.Cond(); math.IsInf(c, 1) || math.IsNaN(c) || c*tol > one {
		return errIllConditioned
	}
	dst := mat.NewVecDense(ws.idim, ws.dx)
	if err := ws.lu.SolveVecTo(dst, false, mat.NewVecDense(ws.idim, ws.y)); err != nil {
		return err
	}
	dst.ScaleVec(-one, dst)
	if !isFinite(ws.dx) {
		return errNotFinite
	}
	return nil
}

// calcDxSVD solves the Newton system with the pseudo-inverse of 𝐌 = 𝐕𝚲𝐕ᵀ,
// discarding the eigenvalues with |𝐞ᵢ| ≤ tol·n·𝚖𝚊𝚡|𝐞|:
//
//	𝐝𝐱 = -∑ᵢ 𝐯ᵢ(𝐯ᵢᵀ𝐲)/𝐞ᵢ
func (ws *workspace) calcDxSVD(tol float64) error {
	kept, err := ws.eigen(ws.m, tol)
	if err != nil {
		return err
	}
	clear(ws.dx)
	n := ws.idim
	for i, e := range ws.meval {
		if !kept[i] {
			continue
		}
		vy := zero
		for r := 0; r < n; r++ {
			vy += ws.mevec.At(r, i) * ws.y[r]
		}
		f := vy / e
		for r := 0; r < n; r++ {
			ws.dx[r] -= f * ws.mevec.At(r, i)
		}
	}
	if !isFinite(ws.dx) {
		return errNotFinite
	}
	return nil
}

// eigen decomposes the symmetric matrix a into meval and mevec
// and reports which eigenvalues are kept by the pseudo-inverse.
func (ws *workspace) eigen(a mat.Symmetric, tol float64) ([]bool, error) {
	if ok := ws.es.Factorize(a, true); !ok {
		return nil, errNoEigen
	}
	n := a.SymmetricDim()
	ws.meval = ws.es.Values(ws.meval[:n])
	ws.es.VectorsTo(ws.mevec)

	emax := zero
	for _, e := range ws.meval {
		emax = math.Max(emax, math.Abs(e))
	}
	thr := tol * float64(n) * emax
	kept, nkept := make([]bool, n), 0
	for i, e := range ws.meval {
		if math.Abs(e) > thr {
			kept[i] = true
			nkept++
		}
	}
	if nkept == 0 {
		return nil, errRankZero
	}
	return kept, nil
}

// pseudoInverse stores the pseudo-inverse of the Newton matrix into minv.
func (ws *workspace) pseudoInverse(tol float64) error {
	kept, err := ws.eigen(ws.m, tol)
	if err != nil {
		return err
	}
	n := ws.idim
	ws.minv.Zero()
	for k, e := range ws.meval {
		if !kept[k] {
			continue
		}
		for i := 0; i < n; i++ {
			vi := ws.mevec.At(i, k) / e
			for j := 0; j < n; j++ {
				ws.minv.Set(i, j, ws.minv.At(i, j)+vi*ws.mevec.At(j, k))
			}
		}
	}
	return nil
}
