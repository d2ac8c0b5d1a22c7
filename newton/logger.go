// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package newton

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// LogLevel controls the frequency and type of logger output
type LogLevel int

const (
	// LogNoop no output is generated
	LogNoop LogLevel = 0
	// LogLast print only one line at the end of the fit
	LogLast LogLevel = 1
	// LogIter print a summary of every iteration
	LogIter LogLevel = 2
	// LogMatrix print also the Newton matrix, the residual and the step of every iteration
	LogMatrix LogLevel = 3
	// LogTrial print also every line-search trial
	LogTrial LogLevel = 4
)

// Logger handles diagnostic output of the fitter, it never changes the result.
type Logger struct {
	Level LogLevel
	Msg   logrus.FieldLogger // Receiver of log messages.
	Out   io.Writer          // Writer for matrix and vector dumps.
}

func (l *Logger) enable(level LogLevel) bool {
	return level > LogNoop && l.Level >= level
}

func (l *Logger) msg() logrus.FieldLogger {
	if l.Msg == nil {
		l.Msg = logrus.StandardLogger()
	}
	return l.Msg
}

func (l *Logger) log(format string, a ...any) {
	if len(a) > 0 {
		l.msg().Infof(format, a...)
	} else {
		l.msg().Info(format)
	}
}

func (l *Logger) logFields(fields logrus.Fields, msg string) {
	l.msg().WithFields(fields).Info(msg)
}

func (l *Logger) out() io.Writer {
	if l.Out == nil {
		return os.Stderr
	}
	return l.Out
}

// debugPrint dumps a matrix.
func (l *Logger) debugPrint(m mat.Matrix, name string) {
	r, c := m.Dims()
	_, _ = fmt.Fprintf(l.out(), "%s (%d×%d):\n%.5g\n", name, r, c,
		mat.Formatted(m, mat.Prefix("  "), mat.Squeeze()))
}

// debugPrintVec dumps a vector.
func (l *Logger) debugPrintVec(v []float64, name string) {
	l.debugPrint(mat.NewVecDense(len(v), v).T(), name)
}

// printMy dumps the Newton system 𝐌·𝐝𝐱 = -𝐲.
func (l *Logger) printMy(m mat.Matrix, y []float64) {
	l.debugPrint(m, "M")
	l.debugPrintVec(y, "y")
}
