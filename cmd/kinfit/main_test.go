// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/curioloop/kinfit/newton"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testdata = "../../internal/scenario/testdata/"

func TestDefaultSettings(t *testing.T) {
	s, err := loadSettings(newViper())
	require.NoError(t, err)
	assert.Equal(t, newton.Termination{MaxIterations: 100, ConsTolerance: 1e-6, GradTolerance: 1e-6, Chi2Tolerance: 1e-4, StepTolerance: 1e-10}, s.Stop)
	assert.Equal(t, newton.Bound{Lower: 1e-8, Upper: 1}, *s.Line.Alpha)
	assert.Equal(t, 0.1, s.Line.Armijo)
	assert.Equal(t, 20, s.Line.MaxTrials)
	assert.Equal(t, newton.Solve{DirectTolerance: 1e-12, EigenTolerance: 1e-12}, s.Solve)
	assert.Equal(t, newton.LogNoop, s.Debug)
	assert.Equal(t, logrus.InfoLevel, s.LogLevel)
	assert.Positive(t, s.Jobs)
	assert.Len(t, s.options(logrus.New()), 4)
}

func TestSettingsSources(t *testing.T) {
	t.Setenv("KINFIT_MAX_ITERATIONS", "7")
	t.Setenv("KINFIT_DEBUG", "matrix")

	cfg := filepath.Join(t.TempDir(), "kinfit.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("armijo: 0.2\njobs: 0\nlog-level: warn\n"), 0o644))

	v := newViper()
	require.NoError(t, readConfig(v, cfg))
	s, err := loadSettings(v)
	require.NoError(t, err)
	assert.Equal(t, 7, s.Stop.MaxIterations)
	assert.Equal(t, newton.LogMatrix, s.Debug)
	assert.Equal(t, 0.2, s.Line.Armijo)
	assert.Equal(t, logrus.WarnLevel, s.LogLevel)
	assert.Equal(t, 1, s.Jobs)

	assert.Error(t, readConfig(v, filepath.Join(t.TempDir(), "missing.yaml")))

	t.Setenv("KINFIT_DEBUG", "loud")
	_, err = loadSettings(newViper())
	assert.Error(t, err)
}

func TestFitCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"fit", "-j", "2", "--log-level", "error", testdata + "wdecay.yaml", testdata + "leptonic.yaml"})
	require.NoError(t, cmd.Execute())

	docs := strings.Split(out.String(), "---\n")
	require.Len(t, docs, 2)
	assert.Contains(t, docs[0], "name: j1")
	assert.Contains(t, docs[1], "name: lepton")
	assert.Equal(t, 2, strings.Count(out.String(), "status: converged"))
}

func TestFitCommandErrors(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"fit"})
	assert.Error(t, cmd.Execute())

	cmd = newRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"fit", testdata + "missing.yaml"})
	assert.Error(t, cmd.Execute())
}
