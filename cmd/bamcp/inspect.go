package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sw965/bamcp/serial"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Decode a saved object and print its type tag and name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := serial.LoadFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tag:  %s\n", s.TypeTag())
			if n, ok := s.(interface{ Name() string }); ok {
				fmt.Fprintf(out, "name: %s\n", n.Name())
			}
			if d, ok := s.(interface {
				NX() int
				NU() int
			}); ok {
				fmt.Fprintf(out, "size: %d states, %d actions\n", d.NX(), d.NU())
			}
			return nil
		},
	}
}
