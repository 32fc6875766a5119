package main

import (
	"fmt"
	"math/rand/v2"

	"github.com/spf13/cobra"

	"github.com/sw965/bamcp/distribution"
	"github.com/sw965/bamcp/serial"
)

func newPriorCmd() *cobra.Command {
	var configPath, out string
	cmd := &cobra.Command{
		Use:   "prior",
		Short: "Write the prior distribution described by a YAML config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			prior, err := c.NewPrior()
			if err != nil {
				return err
			}
			if err := serial.SaveFile(out, prior); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s to %s\n", prior.TypeTag(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML config (defaults are used when empty)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newSampleCmd() *cobra.Command {
	var out string
	var seed uint64
	cmd := &cobra.Command{
		Use:   "sample <distribution-file>",
		Short: "Draw one MDP from a saved distribution and write it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := serial.Load[distribution.Distribution](args[0])
			if err != nil {
				return err
			}
			m := d.Sample(rand.New(rand.NewPCG(seed, 0)))
			if err := serial.SaveFile(out, m); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d states, %d actions) to %s\n", m.TypeTag(), m.NX(), m.NU(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "random seed")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
