package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/sw965/omw/mathx/randx"

	"github.com/sw965/bamcp/config"
	"github.com/sw965/bamcp/experiment"
	"github.com/sw965/bamcp/serial"
)

type runOptions struct {
	configPath  string
	saveDir     string
	metricsFile string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an experiment described by a YAML config and print its summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExperiment(cmd, root, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config (defaults are used when empty)")
	cmd.Flags().StringVar(&opts.saveDir, "save", "", "directory to save the final agent of every successful trial")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics in text format to this file")
	return cmd
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		c := config.Default()
		return c, c.Validate()
	}
	return config.Load(path)
}

func runExperiment(cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	c, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger, err := root.newLogger(cmd.ErrOrStderr(), c.Log.Level, c.Log.Format)
	if err != nil {
		return err
	}
	if c.Experiment.Seed == 0 {
		c.Experiment.Seed = randx.NewPCGFromGlobalSeed().Uint64()
		logger.Info("random seed selected", "seed", c.Experiment.Seed)
	}

	spec, err := c.Spec()
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	runner := &experiment.Runner{
		Parallelism: c.Experiment.Parallelism,
		Logger:      logger,
		Metrics:     experiment.NewMetrics(reg),
	}

	report, runErr := runner.Run(cmd.Context(), spec)
	if report == nil {
		return runErr
	}

	s := report.Summary
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "experiment: %s\n", report.Name)
	fmt.Fprintf(out, "agent:      %s\n", spec.Agent.Name())
	fmt.Fprintf(out, "trials:     %d (success %d, failed %d)\n", s.Trials, s.Successes, s.Failures)
	fmt.Fprintf(out, "return:     %.6g +/- %.6g (std %.6g)\n", s.Mean, s.CI95, s.Std)

	if opts.saveDir != "" {
		if err := os.MkdirAll(opts.saveDir, 0o755); err != nil {
			return err
		}
		for _, res := range report.Results {
			if res.Err != nil {
				continue
			}
			path := filepath.Join(opts.saveDir, fmt.Sprintf("trial-%04d-%s.bin", res.Index, res.ID))
			if err := serial.SaveFile(path, res.Agent); err != nil {
				return err
			}
		}
	}
	if opts.metricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.metricsFile, reg); err != nil {
			return err
		}
	}
	return runErr
}
