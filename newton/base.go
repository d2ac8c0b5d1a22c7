// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package newton

import (
	"errors"
	"fmt"
	"math"
)

const (
	zero = 0.0
	one  = 1.0
	two  = 2.0
	half = 0.5
	ten  = 10.0
)

// Capacity of one fit session.
const (
	// NParMax maximum number of free parameters.
	NParMax = 50
	// NConMax maximum number of hard constraints.
	NConMax = 10
	// NUnmMax maximum number of free unmeasured parameters.
	NUnmMax = 10
	// NItMax maximum number of iterations, also the capacity of the line-search trace.
	NItMax = 100
)

var (
	// ErrCapacity problem dimensions exceed the capacity of the fitter.
	ErrCapacity = errors.New("newton: problem exceeds fitter capacity")
	// ErrBadProblem problem definition is inconsistent.
	ErrBadProblem = errors.New("newton: bad problem definition")
	// ErrBadTermination termination, line-search or solve settings are invalid.
	ErrBadTermination = errors.New("newton: bad fitter settings")
)

// Status is the error code of a fit.
type Status int

const (
	// Converged fit converged normally.
	Converged Status = iota
	// SolveFailed neither the direct nor the eigen solve produced a usable step.
	SolveFailed
	// LineSearchFailed no scale along the Newton step decreased the merit function.
	LineSearchFailed
	// MaxIterReached iteration limit reached before convergence.
	MaxIterReached
	// CapacityExceeded problem dimensions exceed NParMax, NConMax or NUnmMax.
	CapacityExceeded
	// BadArgument bad settings, bad covariance or panic in user code.
	BadArgument
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case SolveFailed:
		return "solve failed"
	case LineSearchFailed:
		return "line search failed"
	case MaxIterReached:
		return "max iterations reached"
	case CapacityExceeded:
		return "capacity exceeded"
	case BadArgument:
		return "bad argument"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// SolveMethod tells which path produced the Newton step.
type SolveMethod int

const (
	// SolveDirect LU decomposition with partial pivoting.
	SolveDirect SolveMethod = iota + 1
	// SolveEigen pseudo-inverse from the symmetric eigen decomposition.
	SolveEigen
)

func (m SolveMethod) String() string {
	switch m {
	case SolveDirect:
		return "direct"
	case SolveEigen:
		return "eigen"
	}
	return fmt.Sprintf("SolveMethod(%d)", int(m))
}

// phase of the iteration controller.
type phase int

const (
	assembling phase = iota
	solving
	lineSearching
	committing
	finished
)

func (p phase) String() string {
	return [...]string{"assembling", "solving", "line-searching", "committing", "finished"}[p]
}

// Bound represents a closed interval.
type Bound struct {
	Lower, Upper float64
}

// Termination specifies the stopping criteria. Zero values select the defaults.
type Termination struct {
	// The iteration stop when the number of iteration reaches limit (1 ≤ MaxIterations ≤ NItMax, default NItMax).
	MaxIterations int
	// Constraints are satisfied when |𝒄ₖ| / 𝛔(𝒄ₖ) < ConsTolerance (default 1e-6)
	// where 𝛔(𝒄ₖ) is the error of 𝒄ₖ propagated from the measurement errors at the start point.
	ConsTolerance float64
	// Converged when constraints are satisfied and 𝚖𝚊𝚡|𝐲ᵢ|·𝛔ᵢ < GradTolerance (default 1e-6).
	GradTolerance float64
	// Converged when constraints are satisfied and |χ²ₖ₊₁ - χ²ₖ| / 𝚖𝚊𝚡(1, χ²ₖ₊₁) < Chi2Tolerance (default 1e-4).
	Chi2Tolerance float64
	// Converged when constraints are satisfied and ‖𝐝𝐩/𝛔‖₂ < StepTolerance (default 1e-10).
	StepTolerance float64
}

// LineSearch specifies the options for the scale optimizer.
type LineSearch struct {
	// The scale range: 0 < Alpha.Lower < Alpha.Upper (default [1e-8, 1]).
	// An upper bound above 1 allows one extrapolated trial when the merit function keeps decreasing.
	Alpha *Bound
	// Sufficient decrease factor η of 𝞿(𝛍) - 𝞿(0) ≤ η·𝛍·𝞿′(0) (0 < η < 0.5, default 0.1).
	Armijo float64
	// Maximum number of merit evaluations per line search (default 20).
	MaxTrials int
}

// Solve specifies the linear solver thresholds.
type Solve struct {
	// The direct solve fails when the condition number exceeds 1/DirectTolerance (default 1e-12).
	DirectTolerance float64
	// Eigenvalues with |𝐞ᵢ| ≤ EigenTolerance·n·𝚖𝚊𝚡|𝐞| are discarded (default 1e-12).
	EigenTolerance float64
}

func (t Termination) resolve() (Termination, error) {
	if t.MaxIterations == 0 {
		t.MaxIterations = NItMax
	}
	t.ConsTolerance = orDefault(t.ConsTolerance, 1e-6)
	t.GradTolerance = orDefault(t.GradTolerance, 1e-6)
	t.Chi2Tolerance = orDefault(t.Chi2Tolerance, 1e-4)
	t.StepTolerance = orDefault(t.StepTolerance, 1e-10)

	var err error
	switch {
	case t.MaxIterations < 1 || t.MaxIterations > NItMax:
		err = fmt.Errorf("max iterations %d not in [1, %d]: %w", t.MaxIterations, NItMax, ErrBadTermination)
	case t.ConsTolerance < zero:
		err = fmt.Errorf("constraint tolerance must not less than 0: %w", ErrBadTermination)
	case t.GradTolerance < zero:
		err = fmt.Errorf("gradient tolerance must not less than 0: %w", ErrBadTermination)
	case t.Chi2Tolerance < zero:
		err = fmt.Errorf("chi2 tolerance must not less than 0: %w", ErrBadTermination)
	case t.StepTolerance < zero:
		err = fmt.Errorf("step tolerance must not less than 0: %w", ErrBadTermination)
	}
	return t, err
}

func (l LineSearch) resolve() (LineSearch, error) {
	if l.Alpha == nil {
		l.Alpha = &Bound{1e-8, one}
	} else {
		alpha := *l.Alpha
		if math.IsNaN(alpha.Lower) || alpha.Lower == zero {
			alpha.Lower = 1e-8
		}
		if math.IsNaN(alpha.Upper) || alpha.Upper == zero {
			alpha.Upper = one
		}
		l.Alpha = &alpha
	}
	l.Armijo = orDefault(l.Armijo, 0.1)
	if l.MaxTrials == 0 {
		l.MaxTrials = 20
	}

	var err error
	switch {
	case l.Alpha.Lower < zero || l.Alpha.Upper < l.Alpha.Lower:
		err = fmt.Errorf("line search alpha error: %w", ErrBadTermination)
	case l.Armijo < zero || l.Armijo >= half:
		err = fmt.Errorf("armijo factor not in (0, 0.5): %w", ErrBadTermination)
	case l.MaxTrials < 1:
		err = fmt.Errorf("line search trials must greater than 0: %w", ErrBadTermination)
	}
	return l, err
}

func (s Solve) resolve() (Solve, error) {
	s.DirectTolerance = orDefault(s.DirectTolerance, 1e-12)
	s.EigenTolerance = orDefault(s.EigenTolerance, 1e-12)
	if s.DirectTolerance < zero || s.DirectTolerance >= one || s.EigenTolerance < zero || s.EigenTolerance >= one {
		return s, fmt.Errorf("solve tolerance not in (0, 1): %w", ErrBadTermination)
	}
	return s, nil
}

func orDefault(v, def float64) float64 {
	if v == zero || math.IsNaN(v) {
		return def
	}
	return v
}
