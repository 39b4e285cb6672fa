// Package diag centralizes the toolchain's diagnostics: a shared logrus
// logger for trace/debug output and pkg/errors-based wrapping so CLI
// failures report a short cause chain instead of a Go stack dump.
package diag

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Log is the package-level logger used by the assembler and VM back ends.
// SetDebug toggles it between normal (InfoLevel) and trace output.
var Log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetDebug enables DebugLevel tracing when on, and resets to InfoLevel
// (ordinary diagnostics only) when off.
func SetDebug(on bool) {
	if on {
		Log.SetLevel(logrus.DebugLevel)
	} else {
		Log.SetLevel(logrus.InfoLevel)
	}
}

// Wrapf annotates err with a formatted message, preserving the original as
// the Cause(). Used for assembler/linker errors that need a line number or
// source snippet attached without discarding the root error.
func Wrapf(err error, format string, args ...any) error {
	return errors.Wrapf(err, format, args...)
}

// Cause unwraps to the root error of a Wrapf chain, mirroring how the CLI
// entry points print a one-line diagnostic.
func Cause(err error) error {
	return errors.Cause(err)
}
