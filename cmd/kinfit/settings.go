// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/curioloop/kinfit/newton"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Setting keys, shared by flags, KINFIT_* environment variables and the config file.
const (
	keyMaxIterations   = "max-iterations"
	keyConsTolerance   = "cons-tolerance"
	keyGradTolerance   = "grad-tolerance"
	keyChi2Tolerance   = "chi2-tolerance"
	keyStepTolerance   = "step-tolerance"
	keyAlphaMin        = "alpha-min"
	keyAlphaMax        = "alpha-max"
	keyArmijo          = "armijo"
	keyMaxTrials       = "max-trials"
	keyDirectTolerance = "direct-tolerance"
	keyEigenTolerance  = "eigen-tolerance"
	keyDebug           = "debug"
	keyLogLevel        = "log-level"
	keyJobs            = "jobs"
)

type settings struct {
	Stop     newton.Termination
	Line     newton.LineSearch
	Solve    newton.Solve
	Debug    newton.LogLevel
	LogLevel logrus.Level
	Jobs     int
}

var debugLevels = map[string]newton.LogLevel{
	"noop":   newton.LogNoop,
	"last":   newton.LogLast,
	"iter":   newton.LogIter,
	"matrix": newton.LogMatrix,
	"trial":  newton.LogTrial,
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault(keyMaxIterations, newton.NItMax)
	v.SetDefault(keyConsTolerance, 1e-6)
	v.SetDefault(keyGradTolerance, 1e-6)
	v.SetDefault(keyChi2Tolerance, 1e-4)
	v.SetDefault(keyStepTolerance, 1e-10)
	v.SetDefault(keyAlphaMin, 1e-8)
	v.SetDefault(keyAlphaMax, 1.0)
	v.SetDefault(keyArmijo, 0.1)
	v.SetDefault(keyMaxTrials, 20)
	v.SetDefault(keyDirectTolerance, 1e-12)
	v.SetDefault(keyEigenTolerance, 1e-12)
	v.SetDefault(keyDebug, "noop")
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyJobs, runtime.NumCPU())

	v.SetEnvPrefix("KINFIT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func addFlags(fs *pflag.FlagSet) {
	fs.Int(keyMaxIterations, newton.NItMax, "Newton iteration cap")
	fs.Float64(keyConsTolerance, 1e-6, "largest constraint violation in units of its error")
	fs.Float64(keyGradTolerance, 1e-6, "largest scaled gradient of the Lagrangian")
	fs.Float64(keyChi2Tolerance, 1e-4, "relative χ² change to stop at")
	fs.Float64(keyStepTolerance, 1e-10, "smallest scaled step")
	fs.Float64(keyAlphaMin, 1e-8, "smallest line search scale")
	fs.Float64(keyAlphaMax, 1, "largest line search scale")
	fs.Float64(keyArmijo, 0.1, "sufficient decrease parameter, below 0.5")
	fs.Int(keyMaxTrials, 20, "merit evaluations per line search")
	fs.Float64(keyDirectTolerance, 1e-12, "inverse condition number below which LU is abandoned")
	fs.Float64(keyEigenTolerance, 1e-12, "relative eigenvalue cut of the pseudo-inverse")
	fs.String(keyDebug, "noop", "fitter debug output: noop, last, iter, matrix or trial")
	fs.String(keyLogLevel, "info", "log level: debug, info, warn or error")
	fs.IntP(keyJobs, "j", runtime.NumCPU(), "scenarios fitted in parallel")
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || err != nil {
			return
		}
		err = v.BindPFlag(f.Name, f)
	})
	return err
}

// readConfig loads path into v, a missing path leaves v untouched.
func readConfig(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

func loadSettings(v *viper.Viper) (*settings, error) {
	s := &settings{
		Stop: newton.Termination{
			MaxIterations: v.GetInt(keyMaxIterations),
			ConsTolerance: v.GetFloat64(keyConsTolerance),
			GradTolerance: v.GetFloat64(keyGradTolerance),
			Chi2Tolerance: v.GetFloat64(keyChi2Tolerance),
			StepTolerance: v.GetFloat64(keyStepTolerance),
		},
		Line: newton.LineSearch{
			Alpha:     &newton.Bound{Lower: v.GetFloat64(keyAlphaMin), Upper: v.GetFloat64(keyAlphaMax)},
			Armijo:    v.GetFloat64(keyArmijo),
			MaxTrials: v.GetInt(keyMaxTrials),
		},
		Solve: newton.Solve{
			DirectTolerance: v.GetFloat64(keyDirectTolerance),
			EigenTolerance:  v.GetFloat64(keyEigenTolerance),
		},
		Jobs: v.GetInt(keyJobs),
	}

	var ok bool
	if s.Debug, ok = debugLevels[strings.ToLower(v.GetString(keyDebug))]; !ok {
		return nil, fmt.Errorf("unknown debug level %q", v.GetString(keyDebug))
	}
	level, err := logrus.ParseLevel(v.GetString(keyLogLevel))
	if err != nil {
		return nil, err
	}
	s.LogLevel = level
	if s.Jobs < 1 {
		s.Jobs = 1
	}
	return s, nil
}

func (s *settings) options(log logrus.FieldLogger) []newton.Option {
	return []newton.Option{
		newton.WithTermination(s.Stop),
		newton.WithLineSearch(s.Line),
		newton.WithSolve(s.Solve),
		newton.WithLogger(newton.Logger{Level: s.Debug, Msg: log}),
	}
}

func setupLogger(level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logger.SetLevel(level)
	return logger
}
