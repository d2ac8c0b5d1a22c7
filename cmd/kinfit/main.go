// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command kinfit fits kinematic scenarios described in YAML files.
//
//	kinfit fit wdecay.yaml leptonic.yaml --debug iter -j 4
//
// Every setting is also read from KINFIT_* environment variables
// (KINFIT_MAX_ITERATIONS, KINFIT_ARMIJO, ...) and from the --config file.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/curioloop/kinfit/internal/scenario"
	"github.com/curioloop/kinfit/newton"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func newRootCmd() *cobra.Command {
	v := newViper()
	var configPath string

	root := &cobra.Command{
		Use:   "kinfit",
		Short: "Constrained kinematic fits of measured particles",
		Long: `kinfit adjusts measured parameters to satisfy exact and Gaussian constraints
with a Newton-Raphson fit of the Lagrangian, then reports χ², probability,
fitted values, errors and pulls.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return readConfig(v, configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "configuration file (yaml, json or toml)")
	root.AddCommand(newFitCmd(v))
	return root
}

func newFitCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fit FILE...",
		Short: "Fit every scenario file and print one YAML report per file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(v)
			if err != nil {
				return err
			}
			return runFits(cmd.OutOrStdout(), s, args)
		},
	}
	addFlags(cmd.Flags())
	if err := bindFlags(v, cmd.Flags()); err != nil {
		panic(err)
	}
	return cmd
}

// runFits fits the scenario files concurrently and writes the reports in input order.
func runFits(w io.Writer, s *settings, paths []string) error {
	logger := setupLogger(s.LogLevel)
	reports := make([]*scenario.Report, len(paths))

	var g errgroup.Group
	g.SetLimit(s.Jobs)
	for i, path := range paths {
		g.Go(func() error {
			r, err := fitFile(path, s, logger)
			if err != nil {
				return err
			}
			reports[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failed := 0
	for i, r := range reports {
		if i > 0 {
			if _, err := io.WriteString(w, "---\n"); err != nil {
				return err
			}
		}
		if err := r.WriteYAML(w); err != nil {
			return err
		}
		if r.Code != 0 {
			failed++
		}
	}
	if failed > 0 {
		logger.Warnf("%d of %d fits did not converge", failed, len(reports))
	}
	return nil
}

func fitFile(path string, s *settings, logger *logrus.Logger) (*scenario.Report, error) {
	sc, err := scenario.LoadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := sc.Build()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log := logger.WithField("scenario", m.Name)
	f := newton.New(m.Problem, s.options(log)...)
	f.Fit()
	log.WithFields(logrus.Fields{
		"status":     f.Status(),
		"iterations": f.Iterations(),
	}).Debug("scenario fitted")
	return scenario.NewReport(m, f), nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
