// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package objects

import (
	"math"

	"github.com/curioloop/kinfit/problem"
)

// Four-momentum components.
const (
	E = iota
	Px
	Py
	Pz
)

// Particle is a fit object whose four-momentum (E, px, py, pz) is a function of its parameters.
type Particle interface {
	problem.FitObject
	// FourMomentum returns (E, px, py, pz).
	FourMomentum() [4]float64
	// FourDerivatives stores ∂(E,px,py,pz)/∂pᵢ into d as 4 rows of NPar columns.
	FourDerivatives(d []float64)
	// FourSecondDerivatives stores ∂²(E,px,py,pz)/∂pᵢ∂pⱼ into d as 4 row major NPar×NPar blocks.
	FourSecondDerivatives(d []float64)
}

// FourVector is a particle measured directly in Cartesian components (E, px, py, pz).
type FourVector struct {
	Params
}

// NewFourVector creates a particle measured as (E, px, py, pz) with uncorrelated errors.
func NewFourVector(name string, p4, errs [4]float64) *FourVector {
	return &FourVector{*NewParams(name,
		[]string{"E", "px", "py", "pz"}, p4[:], errs[:])}
}

func (v *FourVector) FourMomentum() [4]float64 {
	return [4]float64{v.value[E], v.value[Px], v.value[Py], v.value[Pz]}
}

func (v *FourVector) FourDerivatives(d []float64) {
	clear(d[:16])
	for k := 0; k < 4; k++ {
		d[k*4+k] = 1
	}
}

func (v *FourVector) FourSecondDerivatives(d []float64) {
	clear(d[:64])
}

// Jet parameters.
const (
	JetE = iota
	JetTheta
	JetPhi
)

// Jet is a particle measured in energy and direction (E, θ, φ) with a fixed mass.
//
//	𝐩 = √(E² - m²) · (𝚜𝚒𝚗θ 𝚌𝚘𝚜φ, 𝚜𝚒𝚗θ 𝚜𝚒𝚗φ, 𝚌𝚘𝚜θ)
//
// The φ residual is wrapped into (-π, π]. θ is not folded into [0, π]: (-θ, φ + π) is the same
// direction, and the θ residual is not periodic.
type Jet struct {
	Params
	Mass float64
}

// NewJet creates a jet with measured energy and angles and uncorrelated errors.
func NewJet(name string, e, theta, phi, mass float64, errs [3]float64) *Jet {
	j := &Jet{*NewParams(name,
		[]string{"E", "theta", "phi"}, []float64{e, theta, wrapAngle(phi)}, errs[:]), mass}
	return j
}

func (j *Jet) SetParam(i int, v float64) {
	if i == JetPhi {
		v = wrapAngle(v)
	}
	j.value[i] = v
}

func (j *Jet) Residual(i int) float64 {
	r := j.value[i] - j.meas[i]
	if i == JetPhi {
		r = wrapAngle(r)
	}
	return r
}

// momentum returns |𝐩| and its first and second derivative with respect to E.
func (j *Jet) momentum() (p, dp, ddp float64) {
	e, m := j.value[JetE], j.Mass
	if m == 0 {
		return e, 1, 0
	}
	p2 := e*e - m*m
	if p2 <= 0 {
		return 0, 0, 0
	}
	p = math.Sqrt(p2)
	return p, e / p, -m * m / (p2 * p)
}

func (j *Jet) FourMomentum() [4]float64 {
	p, _, _ := j.momentum()
	st, ct := math.Sincos(j.value[JetTheta])
	sp, cp := math.Sincos(j.value[JetPhi])
	return [4]float64{j.value[JetE], p * st * cp, p * st * sp, p * ct}
}

// direction returns the unit vector u(θ,φ) and its partial derivatives.
func (j *Jet) direction() (u, ut, up, utt, utp, upp [3]float64) {
	st, ct := math.Sincos(j.value[JetTheta])
	sp, cp := math.Sincos(j.value[JetPhi])
	u = [3]float64{st * cp, st * sp, ct}
	ut = [3]float64{ct * cp, ct * sp, -st}
	up = [3]float64{-st * sp, st * cp, 0}
	utt = [3]float64{-st * cp, -st * sp, -ct}
	utp = [3]float64{-ct * sp, ct * cp, 0}
	upp = [3]float64{-st * cp, -st * sp, 0}
	return
}

func (j *Jet) FourDerivatives(d []float64) {
	clear(d[:12])
	p, dp, _ := j.momentum()
	u, ut, up, _, _, _ := j.direction()
	d[E*3+JetE] = 1
	for k := 0; k < 3; k++ {
		row := d[(k+1)*3 : (k+2)*3]
		row[JetE] = dp * u[k]
		row[JetTheta] = p * ut[k]
		row[JetPhi] = p * up[k]
	}
}

func (j *Jet) FourSecondDerivatives(d []float64) {
	clear(d[:36])
	p, dp, ddp := j.momentum()
	u, ut, up, utt, utp, upp := j.direction()
	for k := 0; k < 3; k++ {
		h := d[(k+1)*9 : (k+2)*9]
		h[JetE*3+JetE] = ddp * u[k]
		h[JetE*3+JetTheta] = dp * ut[k]
		h[JetE*3+JetPhi] = dp * up[k]
		h[JetTheta*3+JetTheta] = p * utt[k]
		h[JetTheta*3+JetPhi] = p * utp[k]
		h[JetPhi*3+JetPhi] = p * upp[k]
		h[JetTheta*3+JetE] = h[JetE*3+JetTheta]
		h[JetPhi*3+JetE] = h[JetE*3+JetPhi]
		h[JetPhi*3+JetTheta] = h[JetTheta*3+JetPhi]
	}
}

// Neutrino is a massless particle with unmeasured momentum (px, py, pz), E = |𝐩|.
type Neutrino struct {
	Params
}

// NewNeutrino creates an unmeasured massless particle starting at the given momentum.
func NewNeutrino(name string, px, py, pz float64) *Neutrino {
	return &Neutrino{*NewParams(name,
		[]string{"px", "py", "pz"}, []float64{px, py, pz}, []float64{0, 0, 0})}
}

func (n *Neutrino) FourMomentum() [4]float64 {
	px, py, pz := n.value[0], n.value[1], n.value[2]
	return [4]float64{math.Sqrt(px*px + py*py + pz*pz), px, py, pz}
}

func (n *Neutrino) FourDerivatives(d []float64) {
	clear(d[:12])
	e := n.FourMomentum()[E]
	for k := 0; k < 3; k++ {
		if e > 0 {
			d[E*3+k] = n.value[k] / e
		}
		d[(k+1)*3+k] = 1
	}
}

func (n *Neutrino) FourSecondDerivatives(d []float64) {
	clear(d[:36])
	e := n.FourMomentum()[E]
	if e == 0 {
		return
	}
	// ∂²E/∂pᵢ∂pⱼ = (δᵢⱼ - pᵢpⱼ/E²)/E
	for i := 0; i < 3; i++ {
		for k := 0; k < 3; k++ {
			v := -n.value[i] * n.value[k] / (e * e)
			if i == k {
				v++
			}
			d[i*3+k] = v / e
		}
	}
}

// wrapAngle maps a into (-π, π].
func wrapAngle(a float64) float64 {
	a = math.Remainder(a, 2*math.Pi)
	if a == -math.Pi {
		a = math.Pi
	}
	return a
}
