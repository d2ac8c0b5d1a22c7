// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scenario reads fit problems from YAML files and reports fit results.
//
// A scenario lists fit objects and constraints by name:
//
//	name: W → jj
//	objects:
//	  - {name: j1, type: jet, values: [48, 1.2, 0.4], errors: [4, 0.02, 0.02]}
//	  - {name: j2, type: jet, values: [37, 1.9, -2.3], errors: [3, 0.03, 0.03]}
//	constraints:
//	  - {name: W, type: mass, target: 80.4, objects: [j1, j2]}
//
// Object types are params, fourvector, jet and neutrino; constraint types are
// momentum, mass and linear. A constraint with a positive sigma is soft.
package scenario

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/curioloop/kinfit/constraints"
	"github.com/curioloop/kinfit/objects"
	"github.com/curioloop/kinfit/problem"
	"gopkg.in/yaml.v3"
)

// ErrScenario is returned for scenarios that cannot be turned into a problem.
var ErrScenario = errors.New("scenario: invalid scenario")

// Scenario is the YAML description of a fit problem.
type Scenario struct {
	Name        string           `yaml:"name"`
	Objects     []ObjectSpec     `yaml:"objects"`
	Constraints []ConstraintSpec `yaml:"constraints"`
}

// ObjectSpec describes a fit object.
type ObjectSpec struct {
	Name   string      `yaml:"name"`
	Type   string      `yaml:"type"`
	Params []string    `yaml:"params,omitempty"` // parameter names of a params object
	Values []float64   `yaml:"values"`
	Errors []float64   `yaml:"errors,omitempty"` // zero marks a parameter unmeasured, neutrinos take none
	Cov    [][]float64 `yaml:"cov,omitempty"`    // full covariance, overrides errors
	Mass   float64     `yaml:"mass,omitempty"`   // jet mass
	Fixed  []string    `yaml:"fixed,omitempty"`
}

// ConstraintSpec describes a hard or soft constraint.
type ConstraintSpec struct {
	Name    string     `yaml:"name"`
	Type    string     `yaml:"type"`
	Objects []string   `yaml:"objects,omitempty"`
	Factors []float64  `yaml:"factors,omitempty"` // momentum factors of (E, px, py, pz)
	Terms   []TermSpec `yaml:"terms,omitempty"`
	Target  float64    `yaml:"target"`
	Sigma   float64    `yaml:"sigma,omitempty"`
}

// TermSpec is one summand of a linear constraint.
type TermSpec struct {
	Object string  `yaml:"object"`
	Param  string  `yaml:"param"`
	Coeff  float64 `yaml:"coeff"`
}

// Load decodes a scenario, unknown fields are rejected.
func Load(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	return &s, nil
}

// LoadFile decodes the scenario stored at path, naming it after the file when it has no name.
func LoadFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = filepath.Base(path)
	}
	return s, nil
}

// Model is a problem built from a scenario.
type Model struct {
	Name    string
	Problem *problem.Problem
	objects map[string]problem.FitObject
}

// Object returns the fit object registered under name.
func (m *Model) Object(name string) problem.FitObject { return m.objects[name] }

// Reset moves every object back to its measured values.
func (m *Model) Reset() {
	for _, o := range m.Problem.Objects() {
		if r, ok := o.(interface{ Reset() }); ok {
			r.Reset()
		}
	}
}

// Build creates the fit objects and constraints of the scenario.
func (s *Scenario) Build() (*Model, error) {
	m := &Model{Name: s.Name, Problem: new(problem.Problem), objects: make(map[string]problem.FitObject)}
	for _, spec := range s.Objects {
		if _, dup := m.objects[spec.Name]; dup || spec.Name == "" {
			return nil, fmt.Errorf("object %q: duplicate or empty name: %w", spec.Name, ErrScenario)
		}
		o, err := spec.build()
		if err != nil {
			return nil, err
		}
		if err = m.Problem.AddObject(o); err != nil {
			return nil, err
		}
		m.objects[spec.Name] = o
	}
	for _, spec := range s.Constraints {
		c, err := spec.build(m.objects)
		if err != nil {
			return nil, err
		}
		if spec.Sigma > 0 {
			err = m.Problem.AddSoftConstraint(constraints.NewSoft(c, spec.Sigma))
		} else {
			err = m.Problem.AddConstraint(c)
		}
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

// settable is implemented by every object of package objects.
type settable interface {
	problem.FitObject
	SetCov(i, j int, v float64)
	SetMeasured(i int, measured bool)
	SetFixed(i int, fixed bool)
}

func (spec *ObjectSpec) build() (problem.FitObject, error) {
	bad := func(format string, a ...any) error {
		return fmt.Errorf("object %q: %s: %w", spec.Name, fmt.Sprintf(format, a...), ErrScenario)
	}
	n := len(spec.Values)
	errs := spec.Errors
	if errs == nil {
		errs = make([]float64, n)
	}
	if len(errs) != n {
		return nil, bad("%d errors for %d values", len(errs), n)
	}

	var o settable
	switch spec.Type {
	case "params":
		if len(spec.Params) != n {
			return nil, bad("%d names for %d values", len(spec.Params), n)
		}
		o = objects.NewParams(spec.Name, spec.Params, spec.Values, errs)
	case "fourvector":
		if n != 4 {
			return nil, bad("fourvector needs 4 values (E, px, py, pz)")
		}
		o = objects.NewFourVector(spec.Name, [4]float64(spec.Values), [4]float64(errs))
	case "jet":
		if n != 3 {
			return nil, bad("jet needs 3 values (E, theta, phi)")
		}
		o = objects.NewJet(spec.Name, spec.Values[0], spec.Values[1], spec.Values[2], spec.Mass, [3]float64(errs))
	case "neutrino":
		if n != 3 {
			return nil, bad("neutrino needs 3 values (px, py, pz)")
		}
		if spec.Cov != nil || slices.ContainsFunc(errs, func(e float64) bool { return e != 0 }) {
			return nil, bad("neutrino momentum is unmeasured")
		}
		o = objects.NewNeutrino(spec.Name, spec.Values[0], spec.Values[1], spec.Values[2])
	default:
		return nil, bad("unknown type %q", spec.Type)
	}

	if spec.Cov != nil {
		if len(spec.Cov) != n {
			return nil, bad("covariance must be %d×%d", n, n)
		}
		for i, row := range spec.Cov {
			if len(row) != n {
				return nil, bad("covariance must be %d×%d", n, n)
			}
			for j := i; j < n; j++ {
				if row[j] != spec.Cov[j][i] {
					return nil, bad("covariance is not symmetric")
				}
				o.SetCov(i, j, row[j])
			}
			o.SetMeasured(i, row[i] > 0)
		}
	}
	for _, name := range spec.Fixed {
		i, err := paramIndex(o, name)
		if err != nil {
			return nil, err
		}
		o.SetFixed(i, true)
	}
	return o, nil
}

func (spec *ConstraintSpec) build(objs map[string]problem.FitObject) (problem.Constraint, error) {
	bad := func(format string, a ...any) error {
		return fmt.Errorf("constraint %q: %s: %w", spec.Name, fmt.Sprintf(format, a...), ErrScenario)
	}
	if spec.Sigma < 0 {
		return nil, bad("negative sigma")
	}

	var parts []objects.Particle
	for _, name := range spec.Objects {
		o, ok := objs[name]
		if !ok {
			return nil, bad("unknown object %q", name)
		}
		p, ok := o.(objects.Particle)
		if !ok {
			return nil, bad("object %q is not a particle", name)
		}
		parts = append(parts, p)
	}

	switch spec.Type {
	case "momentum":
		if len(spec.Factors) != 4 || len(parts) == 0 {
			return nil, bad("momentum needs 4 factors and at least one particle")
		}
		return constraints.NewMomentum(spec.Name, [4]float64(spec.Factors), spec.Target, parts...), nil
	case "mass":
		if len(parts) == 0 {
			return nil, bad("mass needs at least one particle")
		}
		return constraints.NewMass(spec.Name, spec.Target, parts...), nil
	case "linear":
		if len(spec.Terms) == 0 {
			return nil, bad("linear needs at least one term")
		}
		terms := make([]constraints.Term, len(spec.Terms))
		for k, t := range spec.Terms {
			o, ok := objs[t.Object]
			if !ok {
				return nil, bad("unknown object %q", t.Object)
			}
			i, err := paramIndex(o, t.Param)
			if err != nil {
				return nil, err
			}
			terms[k] = constraints.Term{Object: o, Index: i, Coeff: t.Coeff}
		}
		return constraints.NewLinear(spec.Name, spec.Target, terms...), nil
	}
	return nil, bad("unknown type %q", spec.Type)
}

func paramIndex(o problem.FitObject, name string) (int, error) {
	for i := 0; i < o.NPar(); i++ {
		if o.ParamName(i) == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("object %q has no parameter %q: %w", o.Name(), name, ErrScenario)
}
