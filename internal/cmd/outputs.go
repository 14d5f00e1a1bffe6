// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gogpu/screencap/compositor"
	"github.com/gogpu/screencap/internal/config"
)

var outputsCmd = &cobra.Command{
	Use:   "outputs",
	Short: "List the outputs of the selected driver",
	Args:  cobra.NoArgs,
	RunE:  runOutputs,
}

func init() {
	rootCmd.AddCommand(outputsCmd)
}

func runOutputs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	comp, err := newCompositor(cfg)
	if err != nil {
		return fmt.Errorf("select driver: %w", err)
	}
	outs, err := comp.Outputs()
	if err != nil {
		return fmt.Errorf("list outputs: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "driver: %s (available: %v)\n", comp.Name(), compositor.Available())
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tID\tNAME\tSIZE\tROTATION\tPRIMARY")
	for _, o := range outs {
		primary := ""
		if o.Primary {
			primary = "*"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%dx%d\t%s\t%s\n",
			o.Index, o.ID, o.Name, o.Width, o.Height, o.Rotation, primary)
	}
	return w.Flush()
}
