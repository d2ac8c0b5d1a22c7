// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package problem

// Fitter solves a Problem. Results are stable until the next call of Fit.
type Fitter interface {
	// Initialize reads the problem dimensions and prepares the workspace.
	Initialize() error
	// Fit runs the fit and returns the fit probability.
	Fit() float64
	// ErrorCode of the last fit: 0 means converged.
	ErrorCode() int
	Probability() float64
	Chi2() float64
	DoF() int
	Iterations() int
	NPar() int
	NCon() int
	NSoft() int
	NUnm() int
	SetDebug(level int)
}
