// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package constraints provides hard and soft constraints on fit objects.
package constraints

import (
	"math"

	"github.com/curioloop/kinfit/objects"
	"github.com/curioloop/kinfit/problem"
)

// fourSum accumulates the total four-momentum of a set of particles
// and its derivatives with respect to their concatenated parameters.
type fourSum struct {
	parts []objects.Particle
	objs  []problem.FitObject
	offs  []int
	n     int
	p4    [4]float64
	d1    []float64 // 4 × n
	d2    []float64 // 4 × n × n, block diagonal per particle
	buf   []float64
}

func newFourSum(parts []objects.Particle) fourSum {
	s := fourSum{parts: parts}
	nmax := 0
	for _, p := range parts {
		s.objs = append(s.objs, p)
		s.offs = append(s.offs, s.n)
		s.n += p.NPar()
		nmax = max(nmax, p.NPar())
	}
	s.d1 = make([]float64, 4*s.n)
	s.d2 = make([]float64, 4*s.n*s.n)
	s.buf = make([]float64, 4*nmax*nmax)
	return s
}

func (s *fourSum) value() [4]float64 {
	s.p4 = [4]float64{}
	for _, p := range s.parts {
		v := p.FourMomentum()
		for k := range v {
			s.p4[k] += v[k]
		}
	}
	return s.p4
}

func (s *fourSum) first() []float64 {
	clear(s.d1)
	for j, p := range s.parts {
		m, off := p.NPar(), s.offs[j]
		p.FourDerivatives(s.buf[:4*m])
		for k := 0; k < 4; k++ {
			copy(s.d1[k*s.n+off:k*s.n+off+m], s.buf[k*m:(k+1)*m])
		}
	}
	return s.d1
}

func (s *fourSum) second() []float64 {
	clear(s.d2)
	n := s.n
	for j, p := range s.parts {
		m, off := p.NPar(), s.offs[j]
		p.FourSecondDerivatives(s.buf[:4*m*m])
		for k := 0; k < 4; k++ {
			for a := 0; a < m; a++ {
				row := s.d2[k*n*n+(off+a)*n+off:]
				copy(row[:m], s.buf[k*m*m+a*m:k*m*m+(a+1)*m])
			}
		}
	}
	return s.d2
}

// Momentum constrains a weighted sum of the total four-momentum components of a set of particles:
//
//	𝒄 = ∑ₖ 𝐟ₖ·𝐏ₖ - 𝐯   (𝐏 = ∑ 𝐩⁽ʲ⁾ over the particles, k ∈ {E, px, py, pz})
type Momentum struct {
	name    string
	Factors [4]float64
	Target  float64
	sum     fourSum
}

// NewMomentum creates a momentum constraint with component factors (fE, fx, fy, fz).
func NewMomentum(name string, factors [4]float64, target float64, parts ...objects.Particle) *Momentum {
	return &Momentum{name: name, Factors: factors, Target: target, sum: newFourSum(parts)}
}

func (c *Momentum) Name() string                 { return c.name }
func (c *Momentum) Objects() []problem.FitObject { return c.sum.objs }

func (c *Momentum) Value() float64 {
	p4 := c.sum.value()
	v := -c.Target
	for k, f := range c.Factors {
		v += f * p4[k]
	}
	return v
}

func (c *Momentum) FirstDerivatives(d []float64) {
	n, d1 := c.sum.n, c.sum.first()
	clear(d[:n])
	for k, f := range c.Factors {
		if f != 0 {
			for i := 0; i < n; i++ {
				d[i] += f * d1[k*n+i]
			}
		}
	}
}

func (c *Momentum) SecondDerivatives(d []float64) {
	n, d2 := c.sum.n, c.sum.second()
	clear(d[:n*n])
	for k, f := range c.Factors {
		if f != 0 {
			for i := 0; i < n*n; i++ {
				d[i] += f * d2[k*n*n+i]
			}
		}
	}
}

// Mass constrains the invariant mass of a set of particles:
//
//	𝒄 = √(E² - |𝐏|²) - 𝐦
//
// The derivatives vanish where the system is not time-like.
type Mass struct {
	name   string
	Target float64
	sum    fourSum
	dm     []float64
}

// NewMass creates an invariant mass constraint.
func NewMass(name string, target float64, parts ...objects.Particle) *Mass {
	c := &Mass{name: name, Target: target, sum: newFourSum(parts)}
	c.dm = make([]float64, c.sum.n)
	return c
}

func (c *Mass) Name() string                 { return c.name }
func (c *Mass) Objects() []problem.FitObject { return c.sum.objs }

// InvariantMass returns the current invariant mass of the particles.
func (c *Mass) InvariantMass() float64 {
	p := c.sum.value()
	m2 := p[objects.E]*p[objects.E] - p[objects.Px]*p[objects.Px] - p[objects.Py]*p[objects.Py] - p[objects.Pz]*p[objects.Pz]
	return math.Sqrt(math.Max(m2, 0))
}

func (c *Mass) Value() float64 { return c.InvariantMass() - c.Target }

// ∂M/∂𝐪 = (E ∂E/∂𝐪 - 𝐏·∂𝐏/∂𝐪) / M
func (c *Mass) FirstDerivatives(d []float64) {
	n := c.sum.n
	clear(d[:n])
	m := c.InvariantMass()
	if m == 0 {
		return
	}
	p, d1 := c.sum.p4, c.sum.first()
	for k := 0; k < 4; k++ {
		f := p[k] / m
		if k != objects.E {
			f = -f
		}
		for i := 0; i < n; i++ {
			d[i] += f * d1[k*n+i]
		}
	}
}

// ∂²M/∂𝐪ᵢ∂𝐪ⱼ = [∂E/∂𝐪ᵢ ∂E/∂𝐪ⱼ - ∂𝐏/∂𝐪ᵢ·∂𝐏/∂𝐪ⱼ + E ∂²E/∂𝐪ᵢ∂𝐪ⱼ - 𝐏·∂²𝐏/∂𝐪ᵢ∂𝐪ⱼ - ∂M/∂𝐪ᵢ ∂M/∂𝐪ⱼ] / M
func (c *Mass) SecondDerivatives(d []float64) {
	n := c.sum.n
	clear(d[:n*n])
	m := c.InvariantMass()
	if m == 0 {
		return
	}
	c.FirstDerivatives(c.dm)
	p, d1, d2 := c.sum.p4, c.sum.d1, c.sum.second()
	for k := 0; k < 4; k++ {
		sg := -1.0
		if k == objects.E {
			sg = 1.0
		}
		dk, hk := d1[k*n:(k+1)*n], d2[k*n*n:(k+1)*n*n]
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				d[i*n+j] += sg * (dk[i]*dk[j] + p[k]*hk[i*n+j])
			}
		}
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d[i*n+j] = (d[i*n+j] - c.dm[i]*c.dm[j]) / m
		}
	}
}
