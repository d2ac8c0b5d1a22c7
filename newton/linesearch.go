// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package newton

import (
	"errors"
	"math"
)

var errLineSearch = errors.New("newton: no acceptable scale along the step")

// Trial is one evaluation of the merit function during a line search.
type Trial struct {
	Iteration int
	Scale     float64
	Merit     float64
}

// The merit function of the scale 𝛍 along the Newton step is the exact L1 penalty function
//
//	𝞿(𝛍) = χ²(𝐩 + 𝛍𝐝𝐩) + ∑ₖ 𝛒ₖ|𝒄ₖ(𝐩 + 𝛍𝐝𝐩)|
//
// with penalties updated before each line search from the multipliers 𝛌⁺ = 𝛌 + 𝐝𝛌 of the step
//
//	𝛒ₖ = 𝚖𝚊𝚡(½(𝛒ₖ + 2|𝛌⁺ₖ|), 2|𝛌⁺ₖ|)
//
// which keeps the Newton step a descent direction of 𝞿.
func (f *Fitter) updatePenalty() {
	np := f.npar
	for k := range f.rho {
		l := two * math.Abs(f.xold[np+k]+f.dx[np+k])
		f.rho[k] = math.Max(half*(f.rho[k]+l), l)
	}
}

// moveTo sets the state to 𝐱 + 𝛍𝐝𝐱 and pushes the parameters to the objects.
func (f *Fitter) moveTo(mu float64) {
	for i := range f.xtry {
		f.xtry[i] = f.xold[i] + mu*f.dx[i]
	}
	f.updateParams(f.xtry)
}

// meritFunction evaluates 𝞿(𝛍), leaving the objects at the trial point.
func (f *Fitter) meritFunction(mu float64) float64 {
	f.moveTo(mu)
	phi := f.calcChi2()
	for k, c := range f.cval {
		phi += f.rho[k] * math.Abs(c)
	}
	return phi
}

// meritDerivative evaluates 𝞿(𝛍) and its directional derivative
//
//	𝞿′(𝛍) = ∇χ²·𝐝𝐩 + ∑ₖ 𝛒ₖ 𝚜𝚐𝚗(𝒄ₖ) ∇𝒄ₖ·𝐝𝐩
//
// where 𝚜𝚐𝚗(0)·∇𝒄ₖ·𝐝𝐩 is taken as |∇𝒄ₖ·𝐝𝐩|.
func (f *Fitter) meritDerivative(mu float64) (phi, dphi float64) {
	phi = f.meritFunction(mu)
	f.calcGrad()
	for i, g := range f.grad {
		dphi += two * g * f.dx[i]
	}
	for k, c := range f.cons {
		if f.rho[k] == zero {
			continue
		}
		d := f.firstDerivatives(c, len(f.cmap[k]))
		dc := zero
		for l, g := range f.cmap[k] {
			if g >= 0 {
				dc += d[l] * f.dx[g]
			}
		}
		switch v := f.cval[k]; {
		case v > zero:
			dphi += f.rho[k] * dc
		case v < zero:
			dphi -= f.rho[k] * dc
		default:
			dphi += f.rho[k] * math.Abs(dc)
		}
	}
	return
}

// optimizeScale finds a scale 𝛍 along the Newton step which sufficiently decreases the merit function.
//
// Starting from 𝚖𝚒𝚗(1, α.Upper) a trial is accepted when 𝞿(𝛍) - 𝞿(0) ≤ η·𝛍·𝞿′(0),
// or when 𝞿(𝛍) < 𝞿(0) if the step is not a descent direction.
// A rejected scale is reduced by minimizing the quadratic interpolant
// of 𝞿(0), 𝞿′(0) and 𝞿(𝛍), bounded to [0.1𝛍, 0.5𝛍].
// The objects are left at the last trial point.
func (f *Fitter) optimizeScale() (float64, error) {
	ls := &f.line
	phi0, d0 := f.meritDerivative(zero)
	descent := d0 < zero

	mu := math.Min(one, ls.Alpha.Upper)
	for trial := 1; ; trial++ {
		phi := f.meritFunction(mu)
		f.record(mu, phi)

		h, dphi := mu*d0, phi-phi0
		finite := !math.IsNaN(phi) && !math.IsInf(phi, 0)
		accept := finite && dphi < zero
		if descent {
			accept = finite && dphi <= ls.Armijo*h
		}
		if accept {
			if trial == 1 && trial < ls.MaxTrials && ls.Alpha.Upper > mu {
				ext := f.meritFunction(ls.Alpha.Upper)
				f.record(ls.Alpha.Upper, ext)
				if ext < phi {
					return ls.Alpha.Upper, nil
				}
			}
			return mu, nil
		}
		if trial >= ls.MaxTrials {
			break
		}

		factor := half
		switch {
		case !finite:
			factor = 0.1
		case descent:
			factor = h / (two * (h - dphi))
			if math.IsNaN(factor) {
				factor = half
			}
			factor = math.Min(math.Max(factor, 0.1), half)
		}
		if mu *= factor; mu < ls.Alpha.Lower {
			break
		}
	}

	if f.Logger.enable(LogTrial) {
		f.Logger.log("line search failed after %d trials: merit(0)=%.8g merit'(0)=%.4g", ls.MaxTrials, phi0, d0)
	}
	return mu, errLineSearch
}

// record appends a trial to the bounded trace, dropping the oldest when full.
func (f *Fitter) record(mu, phi float64) {
	t := Trial{Iteration: f.nit + 1, Scale: mu, Merit: phi}
	if len(f.trace) == NItMax {
		copy(f.trace, f.trace[1:])
		f.trace[NItMax-1] = t
	} else {
		f.trace = append(f.trace, t)
	}
	if f.Logger.enable(LogTrial) {
		f.Logger.log("iter %d trial: scale=%.6g merit=%.10g", t.Iteration, mu, phi)
	}
}
