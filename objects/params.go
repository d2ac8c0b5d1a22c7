// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package objects provides fit objects: generic Gaussian-measured parameters
// and particles whose four-momentum depends on their parameters.
package objects

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Params is a fit object with independent named parameters.
// Every parameter starts measured at its initial value with the given error.
type Params struct {
	name     string
	names    []string
	value    []float64
	meas     []float64
	measured []bool
	fixed    []bool
	cov      *mat.SymDense
}

// NewParams creates a fit object measuring values with uncorrelated errors.
// A zero or NaN error marks the parameter as unmeasured.
func NewParams(name string, names []string, values, errs []float64) *Params {
	n := len(values)
	if len(names) != n || len(errs) != n {
		panic("objects: names, values and errors must have the same length")
	}
	p := &Params{
		name:     name,
		names:    append([]string(nil), names...),
		value:    append([]float64(nil), values...),
		meas:     append([]float64(nil), values...),
		measured: make([]bool, n),
		fixed:    make([]bool, n),
		cov:      mat.NewSymDense(n, nil),
	}
	for i, e := range errs {
		if e > 0 && !math.IsNaN(e) {
			p.measured[i] = true
			p.cov.SetSym(i, i, e*e)
		}
	}
	return p
}

func (p *Params) Name() string                { return p.name }
func (p *Params) NPar() int                   { return len(p.value) }
func (p *Params) ParamName(i int) string      { return p.names[i] }
func (p *Params) Param(i int) float64         { return p.value[i] }
func (p *Params) SetParam(i int, v float64)   { p.value[i] = v }
func (p *Params) Measured(i int) bool         { return p.measured[i] }
func (p *Params) MeasuredValue(i int) float64 { return p.meas[i] }
func (p *Params) Residual(i int) float64      { return p.value[i] - p.meas[i] }
func (p *Params) Fixed(i int) bool            { return p.fixed[i] }
func (p *Params) Cov(i, j int) float64        { return p.cov.At(i, j) }

// SetCov sets the measurement covariance of parameters i and j (symmetric).
func (p *Params) SetCov(i, j int, v float64) { p.cov.SetSym(i, j, v) }

// SetError sets the measurement error of parameter i and marks it measured.
func (p *Params) SetError(i int, e float64) {
	p.cov.SetSym(i, i, e*e)
	p.measured[i] = e > 0
}

// SetFixed holds parameter i at its current value.
func (p *Params) SetFixed(i int, fixed bool) { p.fixed[i] = fixed }

// SetMeasured switches parameter i between measured and unmeasured.
func (p *Params) SetMeasured(i int, measured bool) { p.measured[i] = measured }

// SetMeasuredValue changes the measurement of parameter i without touching its current value.
func (p *Params) SetMeasuredValue(i int, v float64) { p.meas[i] = v }

// Reset moves every parameter back to its measured value.
func (p *Params) Reset() { copy(p.value, p.meas) }
