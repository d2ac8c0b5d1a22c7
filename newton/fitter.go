// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package newton implements a constrained kinematic fitter based on the Newton-Raphson method.
//
// The fitter minimizes the χ² of the measured parameters of a set of fit objects
// subject to hard constraints 𝒄(𝐩) = 0 enforced through Lagrange multipliers
// and soft constraints contributing (𝒄(𝐩)/𝛔)² to the χ².
// Each iteration solves the linearized optimality conditions for a Newton step,
// falling back to an eigen pseudo-inverse when the system is singular,
// and scales the step by a line search on an L1 merit function.
//
// Reference:
//   - V. Blobel, E. Lohrmann. Statistische und numerische Methoden der Datenanalyse.
//     Teubner, 1998. Chapter 7 (constrained least squares).
//   - J. Nocedal, S. Wright. Numerical Optimization. Springer, 2006. Chapter 18.
package newton

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/curioloop/kinfit/problem"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat/distuv"
)

var _ problem.Fitter = (*Fitter)(nil)

// Fitter fits one problem. It is not safe for concurrent use,
// independent problems may be fitted concurrently by independent fitters.
//
// The exported settings are read by Initialize, zero values select the defaults.
type Fitter struct {
	Stop   Termination
	Line   LineSearch
	Solver Solve
	Logger Logger

	prob  *problem.Problem
	stop  Termination
	line  LineSearch
	solve Solve

	workspace

	status   Status
	err      error
	phase    phase
	nit      int
	chi2     float64
	fitprob  float64
	trace    []Trial
	methods  []SolveMethod
	covOK    bool
	haveBest bool
	chi2best float64
	violbest float64
}

// Option configures a Fitter.
type Option func(*Fitter)

// WithTermination sets the stopping criteria.
func WithTermination(t Termination) Option { return func(f *Fitter) { f.Stop = t } }

// WithLineSearch sets the line-search options.
func WithLineSearch(l LineSearch) Option { return func(f *Fitter) { f.Line = l } }

// WithSolve sets the linear solver thresholds.
func WithSolve(s Solve) Option { return func(f *Fitter) { f.Solver = s } }

// WithLogger sets the logger.
func WithLogger(l Logger) Option { return func(f *Fitter) { f.Logger = l } }

// New creates a fitter of p.
func New(p *problem.Problem, opts ...Option) *Fitter {
	f := &Fitter{prob: p, Logger: Logger{Msg: logrus.StandardLogger()}}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Initialize reads the settings and the problem dimensions and prepares the workspace.
// It is called by Fit and only needs to be called directly to validate a problem.
func (f *Fitter) Initialize() (err error) {
	defer func() {
		if err != nil {
			f.err = err
			f.status = BadArgument
			if errors.Is(err, ErrCapacity) {
				f.status = CapacityExceeded
			}
		}
	}()
	if f.stop, err = f.Stop.resolve(); err != nil {
		return
	}
	if f.line, err = f.Line.resolve(); err != nil {
		return
	}
	if f.solve, err = f.Solver.resolve(); err != nil {
		return
	}
	if f.prob == nil {
		return fmt.Errorf("nil problem: %w", ErrBadProblem)
	}
	return f.layout(f.prob)
}

// Fit runs the fit and returns the fit probability.
//
// On return the objects hold the best point found, which is the converged point on success.
// ErrorCode tells whether the fit converged.
func (f *Fitter) Fit() float64 {
	f.reset()
	func() {
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("panic while %s: %v", f.phase, r)
				f.status = BadArgument
				f.covOK = false
				if f.haveBest {
					f.updateParams(f.xbest)
				}
			}
		}()
		if err := f.Initialize(); err != nil {
			return
		}
		f.status = f.iterate()
		f.finish()
	}()

	if f.Logger.enable(LogLast) {
		fields := logrus.Fields{
			"status":     f.status,
			"chi2":       f.chi2,
			"ndof":       f.DoF(),
			"prob":       f.fitprob,
			"iterations": f.nit,
		}
		if f.err != nil {
			fields["error"] = f.err
		}
		f.Logger.logFields(fields, "fit finished")
	}
	return f.fitprob
}

func (f *Fitter) reset() {
	f.status, f.err, f.phase = BadArgument, nil, assembling
	f.nit, f.chi2, f.fitprob, f.idim = 0, zero, zero, 0
	f.trace, f.methods = f.trace[:0], f.methods[:0]
	f.covOK, f.haveBest = false, false
}

// iterate runs the Newton iterations from the current parameters of the objects.
func (f *Fitter) iterate() Status {
	if err := f.initWeights(); err != nil {
		f.err = err
		return BadArgument
	}
	f.fillX()
	f.updateParams(f.x)
	f.fillPerr()
	clear(f.rho)

	chi2 := f.calcChi2()
	f.calcY()
	f.saveBest(chi2)
	if f.converged(math.Inf(1), chi2) {
		return Converged
	}

	for f.nit < f.stop.MaxIterations {
		f.phase = assembling
		f.fillXOld()
		f.calcM(false)

		f.phase = solving
		method, err := f.solveStep(&f.solve)
		if err != nil {
			f.err = err
			return SolveFailed
		}
		f.methods = append(f.methods, method)
		if f.Logger.enable(LogMatrix) {
			f.Logger.printMy(f.m, f.y)
			f.Logger.debugPrintVec(f.dx, "dx")
		}
		if step := f.stepSize(); step < f.stop.StepTolerance && f.violation() < f.stop.ConsTolerance {
			f.saveBest(chi2)
			return Converged
		}

		f.phase = lineSearching
		f.updatePenalty()
		scale, err := f.optimizeScale()
		if err != nil {
			f.err = err
			return LineSearchFailed
		}

		f.phase = committing
		f.nit++
		f.moveTo(scale)
		chi2new := f.calcChi2()
		f.calcY()
		if f.Logger.enable(LogIter) {
			f.Logger.log("iter %d: %s step, scale=%.6g chi2=%.10g violation=%.4g kkt=%.4g",
				f.nit, method, scale, chi2new, f.violation(), f.kkt())
		}
		if f.converged(chi2new-chi2, chi2new) {
			f.saveBest(chi2new)
			return Converged
		}
		f.trackBest(chi2new)
		chi2 = chi2new
	}
	return MaxIterReached
}

// converged tests the current state: the hard constraints must be satisfied
// and either the gradient of the Lagrangian or the χ² change must be small.
func (f *Fitter) converged(dchi2, chi2 float64) bool {
	if !(f.violation() < f.stop.ConsTolerance) {
		return false
	}
	return f.kkt() < f.stop.GradTolerance ||
		math.Abs(dchi2)/math.Max(one, chi2) < f.stop.Chi2Tolerance
}

func (f *Fitter) saveBest(chi2 float64) {
	copy(f.xbest, f.x)
	f.chi2best, f.violbest, f.haveBest = chi2, f.violation(), true
}

// trackBest keeps the best state: feasible beats infeasible,
// then lower χ² among feasible states and lower violation among infeasible states.
func (f *Fitter) trackBest(chi2 float64) {
	viol := f.violation()
	tol := f.stop.ConsTolerance
	feasible, bestFeasible := viol < tol, f.violbest < tol
	var better bool
	switch {
	case feasible && bestFeasible:
		better = chi2 < f.chi2best
	case feasible:
		better = true
	case !bestFeasible:
		better = viol < f.violbest
	}
	if better {
		f.saveBest(chi2)
	}
}

// finish restores the best state and computes the fit probability and the covariance.
func (f *Fitter) finish() {
	f.phase = finished
	f.updateParams(f.xbest)
	f.chi2 = f.chi2best
	switch ndof := f.DoF(); {
	case math.IsNaN(f.chi2):
		f.fitprob = zero
	case ndof > 0:
		f.fitprob = distuv.ChiSquared{K: float64(ndof)}.Survival(f.chi2)
	default:
		f.fitprob = one
	}
	f.calcCovMatrix()
}

// Status of the last fit.
func (f *Fitter) Status() Status { return f.status }

// Err describes why the last fit did not converge.
func (f *Fitter) Err() error { return f.err }

// ErrorCode of the last fit: 0 means converged, see Status.
func (f *Fitter) ErrorCode() int { return int(f.status) }

// Probability is the upper tail of the χ² distribution with DoF degrees of freedom at Chi2,
// 1 when DoF ≤ 0.
func (f *Fitter) Probability() float64 { return f.fitprob }

func (f *Fitter) Chi2() float64 { return f.chi2 }

// DoF is the number of degrees of freedom: constraints minus unmeasured parameters.
func (f *Fitter) DoF() int { return f.ncon + f.nsoft - f.nunm }

func (f *Fitter) Iterations() int { return f.nit }
func (f *Fitter) NPar() int       { return f.npar }
func (f *Fitter) NCon() int       { return f.ncon }
func (f *Fitter) NSoft() int      { return f.nsoft }
func (f *Fitter) NUnm() int       { return f.nunm }

// SetDebug sets the LogLevel.
func (f *Fitter) SetDebug(level int) { f.Logger.Level = LogLevel(level) }

// Trace returns the merit function evaluations of the last fit, at most NItMax of the latest.
func (f *Fitter) Trace() []Trial { return slices.Clone(f.trace) }

// SolveMethods returns the solve path of every Newton step of the last fit.
func (f *Fitter) SolveMethods() []SolveMethod { return slices.Clone(f.methods) }

// Multipliers returns the Lagrange multipliers of the hard constraints at the returned point.
func (f *Fitter) Multipliers() []float64 {
	if f.idim == 0 {
		return nil
	}
	return slices.Clone(f.xbest[f.npar:f.idim])
}
