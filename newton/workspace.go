// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package newton

import (
	"fmt"
	"math"

	"github.com/curioloop/kinfit/problem"
	"gonum.org/v1/gonum/mat"
)

// parRef locates a free parameter inside its fit object.
type parRef struct {
	obj problem.FitObject
	i   int
}

// weight is the inverse measurement covariance of the measured free parameters of one object.
type weight struct {
	obj problem.FitObject
	loc []int // local parameter indices
	idx []int // global parameter indices
	r   []float64
	w   *mat.SymDense
}

// workspace holds the layout of the augmented state 𝐱 = (𝐩, 𝛌) and every buffer of the iteration.
//
//	𝐱[0:npar]           free parameters in registration order of their objects
//	𝐱[npar:npar+ncon]   Lagrange multipliers of the hard constraints
type workspace struct {
	npar, ncon, nsoft, nunm, idim int

	objs  []problem.FitObject
	cons  []problem.Constraint
	soft  []problem.SoftConstraint
	index map[problem.FitObject][]int // global index per local parameter, -1 for fixed
	cmap  [][]int                     // global index per local parameter of each hard constraint
	smap  [][]int                     // global index per local parameter of each soft constraint
	gpar  []parRef
	wts   []weight

	x      []float64 // current state
	xold   []float64 // state at the start of the iteration
	xtry   []float64 // line-search trial state
	xbest  []float64 // best state so far
	dx     []float64 // Newton step
	y      []float64 // residual of the Newton system
	grad   []float64 // ∇(½χ²)
	perr   []float64 // parameter scale
	cval   []float64 // hard constraint values
	cerr   []float64 // hard constraint scale
	rho    []float64 // merit penalties
	d1, d2 []float64 // constraint derivative scratch
	meval  []float64 // eigenvalues

	m     *mat.SymDense // Newton matrix
	mevec *mat.Dense    // eigenvectors
	minv  *mat.Dense    // pseudo-inverse of the Newton matrix
	cc    *mat.SymDense // parameter covariance
	ccw   *mat.SymDense // covariance scratch

	lu mat.LU
	es mat.EigenSym
}

// layout reads the problem and assigns global indices. Fixed parameters get no slot.
func (ws *workspace) layout(p *problem.Problem) error {
	ws.objs, ws.cons, ws.soft = p.Objects(), p.Constraints(), p.SoftConstraints()
	ws.index = make(map[problem.FitObject][]int, len(ws.objs))
	ws.gpar = ws.gpar[:0]
	ws.npar, ws.nunm = 0, 0
	for _, o := range ws.objs {
		idx := make([]int, o.NPar())
		for i := range idx {
			if o.Fixed(i) {
				idx[i] = -1
				continue
			}
			idx[i] = ws.npar
			ws.gpar = append(ws.gpar, parRef{o, i})
			ws.npar++
			if !o.Measured(i) {
				ws.nunm++
			}
		}
		ws.index[o] = idx
	}
	ws.ncon, ws.nsoft = len(ws.cons), len(ws.soft)

	var err error
	if ws.cmap, err = ws.localMap(ws.cmap[:0], ws.cons...); err != nil {
		return err
	}
	soft := make([]problem.Constraint, ws.nsoft)
	for k, c := range ws.soft {
		if s := c.Sigma(); !(s > zero) {
			return fmt.Errorf("soft constraint %q has width %g: %w", c.Name(), s, ErrBadProblem)
		}
		soft[k] = c
	}
	if ws.smap, err = ws.localMap(ws.smap[:0], soft...); err != nil {
		return err
	}

	switch {
	case ws.npar == 0:
		return fmt.Errorf("no free parameter: %w", ErrBadProblem)
	case ws.npar > NParMax:
		return fmt.Errorf("%d free parameters > %d: %w", ws.npar, NParMax, ErrCapacity)
	case ws.ncon > NConMax:
		return fmt.Errorf("%d hard constraints > %d: %w", ws.ncon, NConMax, ErrCapacity)
	case ws.nunm > NUnmMax:
		return fmt.Errorf("%d unmeasured parameters > %d: %w", ws.nunm, NUnmMax, ErrCapacity)
	}

	ws.idim = ws.npar + ws.ncon
	ws.alloc()
	return nil
}

func (ws *workspace) localMap(dst [][]int, cs ...problem.Constraint) ([][]int, error) {
	for _, c := range cs {
		var g []int
		for _, o := range c.Objects() {
			idx, ok := ws.index[o]
			if !ok {
				return nil, fmt.Errorf("constraint %q uses unregistered object %q: %w", c.Name(), o.Name(), ErrBadProblem)
			}
			g = append(g, idx...)
		}
		dst = append(dst, g)
	}
	return dst, nil
}

// firstDerivatives evaluates ∇𝒄 of c with n local parameters into scratch of length n.
func (ws *workspace) firstDerivatives(c problem.Constraint, n int) []float64 {
	d := ws.d1[:n]
	clear(d)
	c.FirstDerivatives(d)
	return d
}

// secondDerivatives evaluates ∇²𝒄 of c with n local parameters into scratch of length n×n.
func (ws *workspace) secondDerivatives(c problem.Constraint, n int) []float64 {
	d := ws.d2[:n*n]
	clear(d)
	c.SecondDerivatives(d)
	return d
}

func (ws *workspace) alloc() {
	n, np, nc := ws.idim, ws.npar, ws.ncon
	ws.x = resize(ws.x, n)
	ws.xold = resize(ws.xold, n)
	ws.xtry = resize(ws.xtry, n)
	ws.xbest = resize(ws.xbest, n)
	ws.dx = resize(ws.dx, n)
	ws.y = resize(ws.y, n)
	ws.meval = resize(ws.meval, n)
	ws.grad = resize(ws.grad, np)
	ws.perr = resize(ws.perr, np)
	ws.cval = resize(ws.cval, nc)
	ws.cerr = resize(ws.cerr, nc)
	ws.rho = resize(ws.rho, nc)

	nloc := 0
	for _, g := range ws.cmap {
		nloc = max(nloc, len(g))
	}
	for _, g := range ws.smap {
		nloc = max(nloc, len(g))
	}
	ws.d1 = resize(ws.d1, nloc)
	ws.d2 = resize(ws.d2, nloc*nloc)

	if ws.m == nil || ws.m.SymmetricDim() != n {
		ws.m = mat.NewSymDense(n, nil)
		ws.mevec = mat.NewDense(n, n, nil)
		ws.minv = mat.NewDense(n, n, nil)
	}
	if ws.cc == nil || ws.cc.SymmetricDim() != np {
		ws.cc = mat.NewSymDense(np, nil)
		ws.ccw = mat.NewSymDense(np, nil)
	}
}

// initWeights inverts the measurement covariance of every object
// restricted to its measured free parameters.
func (ws *workspace) initWeights() error {
	ws.wts = ws.wts[:0]
	for _, o := range ws.objs {
		var wt weight
		for i, g := range ws.index[o] {
			if g >= 0 && o.Measured(i) {
				wt.loc = append(wt.loc, i)
				wt.idx = append(wt.idx, g)
			}
		}
		n := len(wt.loc)
		if n == 0 {
			continue
		}
		cov := mat.NewSymDense(n, nil)
		for a := 0; a < n; a++ {
			for b := a; b < n; b++ {
				cov.SetSym(a, b, o.Cov(wt.loc[a], wt.loc[b]))
			}
		}
		var ch mat.Cholesky
		if ok := ch.Factorize(cov); !ok {
			return fmt.Errorf("covariance of %q is not positive definite: %w", o.Name(), ErrBadProblem)
		}
		wt.obj, wt.r, wt.w = o, make([]float64, n), mat.NewSymDense(n, nil)
		if err := ch.InverseTo(wt.w); err != nil {
			return fmt.Errorf("covariance of %q: %w", o.Name(), err)
		}
		ws.wts = append(ws.wts, wt)
	}
	return nil
}

// fillX reads the free parameters from the objects and clears the multipliers.
func (ws *workspace) fillX() {
	for g, r := range ws.gpar {
		ws.x[g] = r.obj.Param(r.i)
	}
	clear(ws.x[ws.npar:])
}

// fillXOld saves the current state.
func (ws *workspace) fillXOld() { copy(ws.xold, ws.x) }

// fillPerr sets the parameter scale to the measurement error, 1 for unmeasured parameters,
// and the constraint scale to the error propagated from it.
func (ws *workspace) fillPerr() {
	for g, r := range ws.gpar {
		ws.perr[g] = one
		if r.obj.Measured(r.i) {
			if v := r.obj.Cov(r.i, r.i); v > zero {
				ws.perr[g] = math.Sqrt(v)
			}
		}
	}
	for k, c := range ws.cons {
		d := ws.firstDerivatives(c, len(ws.cmap[k]))
		s := zero
		for l, g := range ws.cmap[k] {
			if g >= 0 {
				s += d[l] * d[l] * ws.perr[g] * ws.perr[g]
			}
		}
		ws.cerr[k] = one
		if s > zero && !math.IsInf(s, 0) {
			ws.cerr[k] = math.Sqrt(s)
		}
	}
}

// updateParams writes the free parameters of xnew to the objects
// and reads them back into 𝐱 so normalized values stay consistent.
func (ws *workspace) updateParams(xnew []float64) {
	for g, r := range ws.gpar {
		r.obj.SetParam(r.i, xnew[g])
		ws.x[g] = r.obj.Param(r.i)
	}
	if &ws.x[0] != &xnew[0] {
		copy(ws.x[ws.npar:], xnew[ws.npar:ws.idim])
	}
}

func resize(s []float64, n int) []float64 {
	if cap(s) < n {
		return make([]float64, n)
	}
	s = s[:n]
	clear(s)
	return s
}
