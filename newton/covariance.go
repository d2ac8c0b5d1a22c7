// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package newton

import (
	"github.com/curioloop/kinfit/problem"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// calcCovMatrix computes the covariance of the fitted parameters at the current state
// as the parameter block of the pseudo-inverse of the Newton matrix without curvature terms,
// projected onto the positive semi-definite cone.
func (f *Fitter) calcCovMatrix() {
	f.covOK = false
	clear(f.cc.RawSymmetric().Data)
	f.calcM(true)
	if !isFinite(f.m.RawSymmetric().Data) {
		return
	}
	if err := f.pseudoInverse(f.solve.EigenTolerance); err != nil {
		if f.Logger.enable(LogLast) {
			f.Logger.log("covariance not available: %v", err)
		}
		return
	}
	for i := 0; i < f.npar; i++ {
		for j := i; j < f.npar; j++ {
			f.cc.SetSym(i, j, half*(f.minv.At(i, j)+f.minv.At(j, i)))
		}
	}
	projectPSD(f.cc, f.ccw)
	if f.Logger.enable(LogMatrix) {
		f.Logger.debugPrint(f.cc, "cov")
	}
	f.covOK = true
}

// projectPSD clamps the negative eigenvalues of a to zero, work must have the size of a.
func projectPSD(a, work *mat.SymDense) {
	var es mat.EigenSym
	if ok := es.Factorize(a, true); !ok {
		return
	}
	vals := es.Values(nil)
	if floats.Min(vals) >= zero {
		return
	}
	var vecs mat.Dense
	es.VectorsTo(&vecs)
	n := len(vals)
	for k, v := range vals {
		vals[k] = max(v, zero)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s := zero
			for k, v := range vals {
				s += vecs.At(i, k) * v * vecs.At(j, k)
			}
			work.SetSym(i, j, s)
		}
	}
	a.CopySym(work)
}

// Cov returns a copy of the covariance of the free parameters after the last fit,
// nil when it is not available.
func (f *Fitter) Cov() *mat.SymDense {
	if !f.covOK {
		return nil
	}
	c := mat.NewSymDense(f.npar, nil)
	c.CopySym(f.cc)
	return c
}

// ParamCov returns the fitted covariance of parameters i and j of o.
// Fixed parameters have zero covariance.
func (f *Fitter) ParamCov(o problem.FitObject, i, j int) float64 {
	idx, ok := f.index[o]
	if !ok || !f.covOK {
		return zero
	}
	gi, gj := idx[i], idx[j]
	if gi < 0 || gj < 0 {
		return zero
	}
	return f.cc.At(gi, gj)
}
