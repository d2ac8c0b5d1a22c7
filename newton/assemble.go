// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package newton

import "math"

// The fit minimizes the Lagrangian
//
//	𝓛(𝐩,𝛌) = ½χ²(𝐩) + ∑ₖ 𝛌ₖ𝒄ₖ(𝐩)
//	χ²(𝐩) = ∑ 𝐫ᵀ𝐖𝐫 + ∑ₛ (𝒄ₛ/𝛔ₛ)²
//
// by solving the Newton system 𝐌·𝐝𝐱 = -𝐲 where
//
//	𝐲 = ∇𝓛 = [ 𝐖𝐫 + ∑ₛ 𝒄ₛ∇𝒄ₛ/𝛔ₛ² + ∑ₖ 𝛌ₖ∇𝒄ₖ ]
//	         [ 𝒄                             ]
//
//	𝐌 = ∇²𝓛 = [ 𝐖 + ∑ₛ (∇𝒄ₛ∇𝒄ₛᵀ + 𝒄ₛ∇²𝒄ₛ)/𝛔ₛ² + ∑ₖ 𝛌ₖ∇²𝒄ₖ   ∇𝒄ᵀ ]
//	          [ ∇𝒄                                         𝟎   ]
//
// For error propagation the curvature terms 𝒄ₛ∇²𝒄ₛ and 𝛌ₖ∇²𝒄ₖ are dropped.

// calcChi2 evaluates χ² and the hard constraint values at the current parameters.
func (ws *workspace) calcChi2() float64 {
	chi2 := zero
	for _, wt := range ws.wts {
		for a, i := range wt.loc {
			wt.r[a] = wt.obj.Residual(i)
		}
		for a := range wt.r {
			ra := wt.r[a]
			chi2 += wt.w.At(a, a) * ra * ra
			for b := a + 1; b < len(wt.r); b++ {
				chi2 += two * wt.w.At(a, b) * ra * wt.r[b]
			}
		}
	}
	for _, c := range ws.soft {
		v := c.Value() / c.Sigma()
		chi2 += v * v
	}
	for k, c := range ws.cons {
		ws.cval[k] = c.Value()
	}
	return chi2
}

// calcGrad evaluates ∇(½χ²) into grad. The residuals must be fresh from calcChi2.
func (ws *workspace) calcGrad() {
	clear(ws.grad)
	for _, wt := range ws.wts {
		for a, g := range wt.idx {
			s := zero
			for b, r := range wt.r {
				s += wt.w.At(a, b) * r
			}
			ws.grad[g] += s
		}
	}
	for s, c := range ws.soft {
		sg := c.Sigma()
		f := c.Value() / (sg * sg)
		d := ws.firstDerivatives(c, len(ws.smap[s]))
		for l, g := range ws.smap[s] {
			if g >= 0 {
				ws.grad[g] += f * d[l]
			}
		}
	}
}

// calcY evaluates the gradient of the Lagrangian 𝐲 at the current state.
func (ws *workspace) calcY() {
	ws.calcGrad()
	np := ws.npar
	copy(ws.y[:np], ws.grad)
	for k, c := range ws.cons {
		ws.y[np+k] = ws.cval[k]
		lambda := ws.x[np+k]
		if lambda == zero {
			continue
		}
		d := ws.firstDerivatives(c, len(ws.cmap[k]))
		for l, g := range ws.cmap[k] {
			if g >= 0 {
				ws.y[g] += lambda * d[l]
			}
		}
	}
}

// addM adds v to 𝐌ᵢⱼ. Full symmetric blocks pass every ordered pair and only the upper half is kept.
func (ws *workspace) addM(i, j int, v float64) {
	if i <= j {
		ws.m.SetSym(i, j, ws.m.At(i, j)+v)
	}
}

// calcM assembles the Newton matrix at the current state.
func (ws *workspace) calcM(errorPropagation bool) {
	clear(ws.m.RawSymmetric().Data)

	for _, wt := range ws.wts {
		for a, i := range wt.idx {
			for b, j := range wt.idx {
				ws.addM(i, j, wt.w.At(a, b))
			}
		}
	}

	for s, c := range ws.soft {
		sg := c.Sigma()
		s2 := sg * sg
		gm := ws.smap[s]
		n := len(gm)
		d1 := ws.firstDerivatives(c, n)
		var d2 []float64
		v := zero
		if !errorPropagation {
			v = c.Value()
			d2 = ws.secondDerivatives(c, n)
		}
		for a, i := range gm {
			if i < 0 {
				continue
			}
			for b, j := range gm {
				if j < 0 {
					continue
				}
				h := d1[a] * d1[b]
				if v != zero {
					h += v * d2[a*n+b]
				}
				ws.addM(i, j, h/s2)
			}
		}
	}

	np := ws.npar
	for k, c := range ws.cons {
		gm := ws.cmap[k]
		n := len(gm)
		d1 := ws.firstDerivatives(c, n)
		for a, i := range gm {
			if i >= 0 {
				ws.addM(i, np+k, d1[a])
			}
		}
		lambda := ws.x[np+k]
		if errorPropagation || lambda == zero {
			continue
		}
		d2 := ws.secondDerivatives(c, n)
		for a, i := range gm {
			if i < 0 {
				continue
			}
			for b, j := range gm {
				if j >= 0 {
					ws.addM(i, j, lambda*d2[a*n+b])
				}
			}
		}
	}
}

// violation returns 𝚖𝚊𝚡 |𝒄ₖ|/𝛔(𝒄ₖ) over the hard constraints.
func (ws *workspace) violation() float64 {
	v := zero
	for k, c := range ws.cval {
		v = math.Max(v, math.Abs(c)/ws.cerr[k])
	}
	return v
}

// kkt returns 𝚖𝚊𝚡 |𝐲ᵢ|·𝛔ᵢ over the free parameters.
func (ws *workspace) kkt() float64 {
	v := zero
	for i, e := range ws.perr {
		v = math.Max(v, math.Abs(ws.y[i])*e)
	}
	return v
}

// stepSize returns the scaled length ‖𝐝𝐩/𝛔‖₂ of the parameter part of the Newton step.
func (ws *workspace) stepSize() float64 {
	s := zero
	for i, e := range ws.perr {
		d := ws.dx[i] / e
		s += d * d
	}
	return math.Sqrt(s)
}

func isFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
