package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "bamcp",
		Short:         "Run Bayes-adaptive planning experiments on discrete MDPs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format (text, json); overrides the config")

	cmd.AddCommand(
		newRunCmd(opts),
		newPriorCmd(),
		newSampleCmd(),
		newInspectCmd(),
	)
	return cmd
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// newLogger はflagの値を優先し、空ならば設定ファイルの値を使う。
func (o *rootOptions) newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	if o.logLevel != "" {
		level = o.logLevel
	}
	if o.logFormat != "" {
		format = o.logFormat
	}
	l, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: l}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}
