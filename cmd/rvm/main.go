// Command rvm loads a hex image and executes it on the portable
// interpreter or one of the native JIT back ends.
package main

import (
	"fmt"
	"os"

	"rvm/asm"
	"rvm/internal/diag"
	"rvm/jit"
	"rvm/vmcore"

	"github.com/spf13/cobra"
)

var (
	memoryMiB int
	execType  string
	debugFlag bool
)

var rootCmd = &cobra.Command{
	Use:           "rvm <image>",
	Short:         "Run a register-VM hex image",
	Args:          cobra.ExactArgs(1),
	RunE:          runVM,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().IntVarP(&memoryMiB, "memory", "m", vmcore.DefaultMemoryMiB, "memory size in MiB")
	rootCmd.Flags().StringVarP(&execType, "execution-type", "e", "INTERPRETER", "execution back end: INTERPRETER, AArch64JIT, x86_64JIT")
	rootCmd.Flags().BoolVarP(&debugFlag, "debug", "d", false, "enable instruction tracing")
}

func runVM(cmd *cobra.Command, args []string) error {
	diag.SetDebug(debugFlag)

	f, err := os.Open(args[0])
	if err != nil {
		return diag.Wrapf(err, "opening image")
	}
	defer f.Close()

	code, err := asm.ReadHex(f)
	if err != nil {
		return diag.Wrapf(err, "reading image")
	}

	vm, err := vmcore.New(code, memoryMiB, os.Stdout, os.Stdin)
	if err != nil {
		return diag.Wrapf(err, "provisioning VM")
	}
	vm.Debug = debugFlag

	switch execType {
	case "INTERPRETER":
		err = vm.Run()
	case "AArch64JIT":
		err = jit.RunAArch64(vm)
	case "x86_64JIT":
		err = jit.RunX86_64(vm)
	default:
		return fmt.Errorf("unknown execution type %q", execType)
	}
	if err != nil {
		return diag.Wrapf(err, "running")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		diag.Log.Error(diag.Cause(err))
		os.Exit(1)
	}
}
