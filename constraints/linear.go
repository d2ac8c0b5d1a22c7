// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package constraints

import (
	"fmt"

	"github.com/curioloop/kinfit/numdiff"
	"github.com/curioloop/kinfit/problem"
)

// Term is one summand 𝐚·𝐩 of a linear constraint.
type Term struct {
	Object problem.FitObject
	Index  int
	Coeff  float64
}

// objectSet collects the distinct objects of a constraint in order of appearance.
type objectSet struct {
	objs []problem.FitObject
	offs []int
	n    int
}

func (s *objectSet) add(o problem.FitObject) (off int) {
	for k, r := range s.objs {
		if r == o {
			return s.offs[k]
		}
	}
	s.objs = append(s.objs, o)
	s.offs = append(s.offs, s.n)
	off = s.n
	s.n += o.NPar()
	return
}

// Linear constrains a linear combination of arbitrary parameters:
//
//	𝒄 = ∑ 𝐚ᵢ𝐩ᵢ - 𝐛
type Linear struct {
	name   string
	Target float64
	terms  []Term
	local  []int
	set    objectSet
}

// NewLinear creates a linear constraint.
func NewLinear(name string, target float64, terms ...Term) *Linear {
	c := &Linear{name: name, Target: target, terms: terms}
	for _, t := range terms {
		if t.Index < 0 || t.Index >= t.Object.NPar() {
			panic(fmt.Sprintf("constraints: parameter %d out of range for %q", t.Index, t.Object.Name()))
		}
		c.local = append(c.local, c.set.add(t.Object)+t.Index)
	}
	return c
}

func (c *Linear) Name() string                 { return c.name }
func (c *Linear) Objects() []problem.FitObject { return c.set.objs }

func (c *Linear) Value() float64 {
	v := -c.Target
	for _, t := range c.terms {
		v += t.Coeff * t.Object.Param(t.Index)
	}
	return v
}

func (c *Linear) FirstDerivatives(d []float64) {
	clear(d[:c.set.n])
	for k, t := range c.terms {
		d[c.local[k]] += t.Coeff
	}
}

func (c *Linear) SecondDerivatives(d []float64) {
	clear(d[:c.set.n*c.set.n])
}

// Func is a constraint given by an arbitrary function of the concatenated parameters of its objects.
// Derivatives are approximated with central finite differences.
type Func struct {
	name string
	F    func(p []float64) float64
	set  objectSet
	x    []float64
	diff numdiff.ApproxSpec
}

// NewFunc creates a constraint 𝒄 = f(𝐩) on the parameters of objs.
func NewFunc(name string, f func(p []float64) float64, objs ...problem.FitObject) *Func {
	c := &Func{name: name, F: f}
	for _, o := range objs {
		c.set.add(o)
	}
	c.x = make([]float64, c.set.n)
	c.diff = numdiff.ApproxSpec{N: c.set.n, Object: f, Method: numdiff.Central}
	return c
}

func (c *Func) Name() string                 { return c.name }
func (c *Func) Objects() []problem.FitObject { return c.set.objs }

func (c *Func) load() []float64 {
	for k, o := range c.set.objs {
		for i := 0; i < o.NPar(); i++ {
			c.x[c.set.offs[k]+i] = o.Param(i)
		}
	}
	return c.x
}

func (c *Func) Value() float64 { return c.F(c.load()) }

func (c *Func) FirstDerivatives(d []float64) {
	if err := c.diff.Gradient(c.load(), d[:c.set.n]); err != nil {
		panic(err)
	}
}

func (c *Func) SecondDerivatives(d []float64) {
	if err := c.diff.Hessian(c.load(), d[:c.set.n*c.set.n]); err != nil {
		panic(err)
	}
}

// Soft turns a constraint into a soft constraint with width 𝛔.
type Soft struct {
	problem.Constraint
	sigma float64
}

// NewSoft wraps c as a soft constraint contributing (𝒄/𝛔)² to the χ².
func NewSoft(c problem.Constraint, sigma float64) *Soft {
	if !(sigma > 0) {
		panic("constraints: soft constraint width must be positive")
	}
	return &Soft{Constraint: c, sigma: sigma}
}

func (s *Soft) Sigma() float64 { return s.sigma }
