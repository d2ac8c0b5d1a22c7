// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scenario

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/curioloop/kinfit/constraints"
	"github.com/curioloop/kinfit/newton"
	"github.com/curioloop/kinfit/objects"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func fit(t *testing.T, m *Model) *newton.Fitter {
	t.Helper()
	f := newton.New(m.Problem)
	f.Logger.Msg, _ = test.NewNullLogger()
	f.Fit()
	return f
}

func TestLoadFile(t *testing.T) {
	s, err := LoadFile("testdata/wdecay.yaml")
	require.NoError(t, err)
	assert.Equal(t, "W → jj", s.Name)
	require.Len(t, s.Objects, 2)
	assert.Equal(t, ObjectSpec{Name: "j1", Type: "jet", Values: []float64{48, 1.2, 0.4}, Errors: []float64{4, 0.02, 0.02}}, s.Objects[0])
	require.Len(t, s.Constraints, 1)
	assert.Equal(t, "mass", s.Constraints[0].Type)

	_, err = LoadFile("testdata/missing.yaml")
	assert.Error(t, err)
}

func TestWDecay(t *testing.T) {
	s, err := LoadFile("testdata/wdecay.yaml")
	require.NoError(t, err)
	m, err := s.Build()
	require.NoError(t, err)

	f := fit(t, m)
	require.Equal(t, newton.Converged, f.Status(), "%v", f.Err())
	assert.Equal(t, 6, f.NPar())

	w := m.Problem.Constraints()[0].(*constraints.Mass)
	assert.InDelta(t, 80.4, w.InvariantMass(), 1e-5)

	r := NewReport(m, f)
	assert.Equal(t, "converged", r.Status)
	assert.Equal(t, 0, r.Code)
	assert.Equal(t, 1, r.DoF)
	require.Len(t, r.Objects, 2)
	require.Len(t, r.Objects[0].Params, 3)
	e := r.Objects[0].Params[objects.JetE]
	assert.Equal(t, "E", e.Name)
	assert.Equal(t, 48.0, e.Measured)
	assert.Less(t, e.Error, 4.0)
	assert.NotZero(t, e.Pull)
	require.Len(t, r.Constraints, 1)
	assert.InDelta(t, 0, r.Constraints[0].Value, 1e-5)

	var buf bytes.Buffer
	require.NoError(t, r.WriteYAML(&buf))
	var back Report
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, r.Chi2, back.Chi2)
	assert.Equal(t, r.Objects[1].Name, back.Objects[1].Name)

	m.Reset()
	assert.Equal(t, 48.0, m.Object("j1").Param(objects.JetE))
}

func TestLeptonic(t *testing.T) {
	s, err := LoadFile("testdata/leptonic.yaml")
	require.NoError(t, err)
	m, err := s.Build()
	require.NoError(t, err)
	assert.Len(t, m.Problem.Constraints(), 3)
	assert.Len(t, m.Problem.SoftConstraints(), 1)

	f := fit(t, m)
	require.Equal(t, newton.Converged, f.Status(), "%v", f.Err())
	assert.Equal(t, 3, f.NUnm())
	assert.Equal(t, 1, f.DoF())

	l, nu, beam := m.Object("lepton"), m.Object("nu"), m.Object("beam")
	assert.InDelta(t, 0, l.Param(objects.Px)+nu.Param(0), 1e-6)
	assert.InDelta(t, 0, l.Param(objects.Py)+nu.Param(1), 1e-6)
	assert.InDelta(t, beam.Param(0), l.Param(objects.Pz)+nu.Param(2), 1e-6)

	r := NewReport(m, f)
	assert.True(t, r.Objects[1].Params[0].Unmeasured)
	assert.Zero(t, r.Objects[1].Params[0].Pull)
	assert.True(t, r.Constraints[3].Soft)
}

func TestCovarianceAndFixed(t *testing.T) {
	const doc = `
objects:
  - name: x
    type: params
    params: [a, b, c]
    values: [1, 2, 3]
    cov: [[1, 0.5, 0], [0.5, 2, 0], [0, 0, 0]]
    fixed: [c]
constraints:
  - name: sum
    type: linear
    target: 4
    terms: [{object: x, param: a, coeff: 1}, {object: x, param: b, coeff: 1}]
`
	s, err := Load(strings.NewReader(doc))
	require.NoError(t, err)
	m, err := s.Build()
	require.NoError(t, err)

	x := m.Object("x")
	assert.True(t, x.Measured(0))
	assert.False(t, x.Measured(2))
	assert.True(t, x.Fixed(2))
	assert.Equal(t, 0.5, x.Cov(1, 0))

	f := fit(t, m)
	require.Equal(t, newton.Converged, f.Status(), "%v", f.Err())
	assert.Equal(t, 2, f.NPar())
	assert.InDelta(t, 4, x.Param(0)+x.Param(1), 1e-9)
	// χ² = 𝒄²/𝐚ᵀ𝐕𝐚 with 𝐚 = (1, 1)
	assert.InDelta(t, 1.0/4, f.Chi2(), 1e-9)
	assert.Equal(t, 3.0, x.Param(2))

	r := NewReport(m, f)
	assert.True(t, r.Objects[0].Params[2].Fixed)
	assert.Zero(t, r.Objects[0].Params[2].Error)
}

func TestInvalidScenario(t *testing.T) {
	cases := map[string]string{
		"unknown field":  "objects: [{name: a, type: params, params: [x], values: [1], bogus: 1}]",
		"object type":    "objects: [{name: a, type: muon, values: [1]}]",
		"value count":    "objects: [{name: a, type: jet, values: [1, 2]}]",
		"error count":    "objects: [{name: a, type: params, params: [x], values: [1], errors: [1, 2]}]",
		"duplicate":      "objects: [{name: a, type: neutrino, values: [1, 2, 3]}, {name: a, type: neutrino, values: [1, 2, 3]}]",
		"fixed":          "objects: [{name: a, type: neutrino, values: [1, 2, 3], fixed: [E]}]",
		"asymmetric cov": "objects: [{name: a, type: params, params: [x, y], values: [1, 2], cov: [[1, 0], [0.5, 1]]}]",
		"unknown object": "objects: [{name: a, type: neutrino, values: [1, 2, 3]}]\nconstraints: [{name: m, type: mass, objects: [b]}]",
		"not a particle": "objects: [{name: a, type: params, params: [x], values: [1], errors: [1]}]\nconstraints: [{name: m, type: mass, objects: [a]}]",
		"factors":        "objects: [{name: a, type: neutrino, values: [1, 2, 3]}]\nconstraints: [{name: m, type: momentum, factors: [1], objects: [a]}]",
		"term param":     "objects: [{name: a, type: neutrino, values: [1, 2, 3]}]\nconstraints: [{name: l, type: linear, terms: [{object: a, param: E, coeff: 1}]}]",
		"sigma":          "objects: [{name: a, type: neutrino, values: [1, 2, 3]}]\nconstraints: [{name: m, type: mass, sigma: -1, objects: [a]}]",
		"neutrino error": "objects: [{name: a, type: neutrino, values: [1, 2, 3], errors: [0, 1, 0]}]",
		"neutrino cov":   "objects: [{name: a, type: neutrino, values: [1, 2, 3], cov: [[1, 0, 0], [0, 1, 0], [0, 0, 1]]}]",
		"constraint":     "objects: [{name: a, type: neutrino, values: [1, 2, 3]}]\nconstraints: [{name: m, type: angle, objects: [a]}]",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			s, err := Load(strings.NewReader(doc))
			if name == "unknown field" {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			_, err = s.Build()
			assert.ErrorIs(t, err, ErrScenario)
		})
	}
}

func TestPull(t *testing.T) {
	s := &Scenario{
		Objects:     []ObjectSpec{{Name: "p", Type: "params", Params: []string{"a", "b"}, Values: []float64{1, 2}, Errors: []float64{1, 1}}},
		Constraints: []ConstraintSpec{{Name: "diff", Type: "linear", Target: 0, Terms: []TermSpec{
			{Object: "p", Param: "a", Coeff: 1}, {Object: "p", Param: "b", Coeff: -1}}}},
	}
	model, err := s.Build()
	require.NoError(t, err)
	f := fit(t, model)
	require.Equal(t, newton.Converged, f.Status())

	// both move by ½ with fitted variance ½, so the pull is ½/√½
	r := NewReport(model, f)
	assert.InDelta(t, 0.5/math.Sqrt(0.5), r.Objects[0].Params[0].Pull, 1e-9)
	assert.InDelta(t, -0.5/math.Sqrt(0.5), r.Objects[0].Params[1].Pull, 1e-9)
}
