// Command rasm assembles a textual source file into the hex image the VM
// consumes, and optionally a side-by-side label table for debugging.
package main

import (
	"io"
	"os"

	"rvm/asm"
	"rvm/internal/diag"

	"github.com/spf13/cobra"
)

var (
	outputPath string
	labelsPath string
)

var rootCmd = &cobra.Command{
	Use:           "rasm [input]",
	Short:         "Assemble register-VM source into a hex image",
	Args:          cobra.MaximumNArgs(1),
	RunE:          runAssemble,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "hex output path (default stdout)")
	rootCmd.Flags().StringVarP(&labelsPath, "labels", "l", "", "optional label-table output path")
}

func runAssemble(cmd *cobra.Command, args []string) error {
	in := os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return diag.Wrapf(err, "opening input")
		}
		defer f.Close()
		in = f
	}

	raw, err := io.ReadAll(in)
	if err != nil {
		return diag.Wrapf(err, "reading input")
	}
	source := string(raw)

	program, a, err := asm.Assemble(source)
	if err != nil {
		return diag.Wrapf(err, "assembling")
	}

	out := os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return diag.Wrapf(err, "creating output")
		}
		defer f.Close()
		out = f
	}
	if err := asm.WriteHex(out, program); err != nil {
		return diag.Wrapf(err, "writing hex output")
	}

	if labelsPath != "" {
		lf, err := os.Create(labelsPath)
		if err != nil {
			return diag.Wrapf(err, "creating label table")
		}
		defer lf.Close()
		if err := asm.WriteLabels(lf, a.Labels()); err != nil {
			return diag.Wrapf(err, "writing label table")
		}
	}

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		diag.Log.Error(diag.Cause(err))
		os.Exit(1)
	}
}
