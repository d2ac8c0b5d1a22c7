// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scenario

import (
	"io"
	"math"

	"github.com/curioloop/kinfit/newton"
	"github.com/curioloop/kinfit/problem"
	"gopkg.in/yaml.v3"
)

// Report is the result of fitting a scenario.
type Report struct {
	Scenario    string             `yaml:"scenario"`
	Status      string             `yaml:"status"`
	Code        int                `yaml:"code"`
	Error       string             `yaml:"error,omitempty"`
	Chi2        float64            `yaml:"chi2"`
	DoF         int                `yaml:"ndof"`
	Prob        float64            `yaml:"prob"`
	Iterations  int                `yaml:"iterations"`
	Objects     []ObjectReport     `yaml:"objects"`
	Constraints []ConstraintReport `yaml:"constraints,omitempty"`
}

// ObjectReport lists the fitted parameters of one object.
type ObjectReport struct {
	Name   string        `yaml:"name"`
	Params []ParamReport `yaml:"params"`
}

// ParamReport compares a fitted parameter with its measurement.
//
// The pull is (fitted - measured)/√(𝛔²ₘ - 𝛔²ₓ) and is omitted where the difference of variances is not positive.
type ParamReport struct {
	Name       string  `yaml:"name"`
	Measured   float64 `yaml:"measured"`
	Fitted     float64 `yaml:"fitted"`
	Error      float64 `yaml:"error"`
	Pull       float64 `yaml:"pull,omitempty"`
	Fixed      bool    `yaml:"fixed,omitempty"`
	Unmeasured bool    `yaml:"unmeasured,omitempty"`
}

// ConstraintReport is the value of a constraint at the fitted point.
type ConstraintReport struct {
	Name  string  `yaml:"name"`
	Value float64 `yaml:"value"`
	Soft  bool    `yaml:"soft,omitempty"`
}

// NewReport collects the result of the last fit of f on m.
func NewReport(m *Model, f *newton.Fitter) *Report {
	r := &Report{
		Scenario:   m.Name,
		Status:     f.Status().String(),
		Code:       f.ErrorCode(),
		Chi2:       f.Chi2(),
		DoF:        f.DoF(),
		Prob:       f.Probability(),
		Iterations: f.Iterations(),
	}
	if err := f.Err(); err != nil {
		r.Error = err.Error()
	}
	for _, o := range m.Problem.Objects() {
		r.Objects = append(r.Objects, objectReport(o, f))
	}
	for _, c := range m.Problem.Constraints() {
		r.Constraints = append(r.Constraints, ConstraintReport{Name: c.Name(), Value: c.Value()})
	}
	for _, c := range m.Problem.SoftConstraints() {
		r.Constraints = append(r.Constraints, ConstraintReport{Name: c.Name(), Value: c.Value(), Soft: true})
	}
	return r
}

func objectReport(o problem.FitObject, f *newton.Fitter) ObjectReport {
	or := ObjectReport{Name: o.Name()}
	for i := 0; i < o.NPar(); i++ {
		fitted := f.ParamCov(o, i, i)
		p := ParamReport{
			Name:       o.ParamName(i),
			Measured:   o.MeasuredValue(i),
			Fitted:     o.Param(i),
			Error:      math.Sqrt(math.Max(fitted, 0)),
			Fixed:      o.Fixed(i),
			Unmeasured: !o.Measured(i),
		}
		if o.Measured(i) && !o.Fixed(i) {
			if d := o.Cov(i, i) - fitted; d > 0 {
				p.Pull = o.Residual(i) / math.Sqrt(d)
			}
		}
		or.Params = append(or.Params, p)
	}
	return or
}

// WriteYAML encodes the report.
func (r *Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}
