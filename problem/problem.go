// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package problem defines the fitting problem seen by a kinematic fitter:
// fit objects carrying measured parameters and their covariance,
// hard constraints 𝒄(𝐩) = 0 and soft constraints penalized by (𝒄(𝐩)/𝛔)².
package problem

import (
	"errors"
	"fmt"
)

var (
	// ErrNilObject is returned when a nil fit object is registered.
	ErrNilObject = errors.New("problem: nil fit object")
	// ErrNilConstraint is returned when a nil constraint is registered.
	ErrNilConstraint = errors.New("problem: nil constraint")
	// ErrDuplicate is returned when an object or constraint is registered twice.
	ErrDuplicate = errors.New("problem: registered twice")
)

// FitObject is an entity carrying fit parameters.
//
// A parameter is either measured, in which case it contributes
// 𝐫ᵀ𝐕⁻¹𝐫 to the χ² with 𝐫 = Residual and 𝐕 = Cov restricted to the measured free parameters,
// or unmeasured, in which case it is only determined through the constraints.
// Fixed parameters never change during a fit.
//
// Implementations must be pointer types, the fitter uses them as map keys.
type FitObject interface {
	Name() string
	NPar() int
	ParamName(i int) string
	Param(i int) float64
	// SetParam stores a new value of parameter i, implementations may normalize it (e.g. angles).
	SetParam(i int, v float64)
	Measured(i int) bool
	MeasuredValue(i int) float64
	// Residual returns Param(i) - MeasuredValue(i), wrapped where the parameter is periodic.
	Residual(i int) float64
	Fixed(i int) bool
	// Cov returns the measurement covariance of parameters i and j.
	Cov(i, j int) float64
}

// Constraint is a hard constraint 𝒄(𝐩) = 0 on the parameters of Objects.
//
// Derivatives are taken with respect to the local parameters of Objects concatenated in order,
// i.e. for objects with n₁, n₂, ... parameters the local index of parameter j of the second object is n₁ + j.
type Constraint interface {
	Name() string
	Objects() []FitObject
	// Value returns 𝒄(𝐩) at the current parameters of Objects.
	Value() float64
	// FirstDerivatives stores ∂𝒄/∂𝐩ᵢ into d (len n).
	FirstDerivatives(d []float64)
	// SecondDerivatives stores ∂²𝒄/∂𝐩ᵢ∂𝐩ⱼ into d (len n×n, row major).
	SecondDerivatives(d []float64)
}

// SoftConstraint adds (𝒄(𝐩)/𝛔)² to the χ² instead of being enforced exactly.
type SoftConstraint interface {
	Constraint
	Sigma() float64
}

// LocalParams returns the number of local parameters seen by c.
func LocalParams(c Constraint) (n int) {
	for _, o := range c.Objects() {
		n += o.NPar()
	}
	return
}

// Problem is the registry of fit objects and constraints handed to a fitter.
// The zero value is an empty problem.
type Problem struct {
	objects []FitObject
	cons    []Constraint
	soft    []SoftConstraint
}

// AddObject registers a fit object.
func (p *Problem) AddObject(o FitObject) error {
	if o == nil {
		return ErrNilObject
	}
	for _, r := range p.objects {
		if r == o {
			return fmt.Errorf("object %q: %w", o.Name(), ErrDuplicate)
		}
	}
	p.objects = append(p.objects, o)
	return nil
}

// AddConstraint registers a hard constraint.
func (p *Problem) AddConstraint(c Constraint) error {
	if c == nil {
		return ErrNilConstraint
	}
	for _, r := range p.cons {
		if r == c {
			return fmt.Errorf("constraint %q: %w", c.Name(), ErrDuplicate)
		}
	}
	p.cons = append(p.cons, c)
	return nil
}

// AddSoftConstraint registers a soft constraint.
func (p *Problem) AddSoftConstraint(c SoftConstraint) error {
	if c == nil {
		return ErrNilConstraint
	}
	for _, r := range p.soft {
		if r == c {
			return fmt.Errorf("soft constraint %q: %w", c.Name(), ErrDuplicate)
		}
	}
	p.soft = append(p.soft, c)
	return nil
}

// Objects returns the registered fit objects in registration order.
func (p *Problem) Objects() []FitObject { return p.objects }

// Constraints returns the registered hard constraints in registration order.
func (p *Problem) Constraints() []Constraint { return p.cons }

// SoftConstraints returns the registered soft constraints in registration order.
func (p *Problem) SoftConstraints() []SoftConstraint { return p.soft }

// Reset removes every object and constraint.
func (p *Problem) Reset() {
	p.objects = p.objects[:0]
	p.cons = p.cons[:0]
	p.soft = p.soft[:0]
}
