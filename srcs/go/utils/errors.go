package utils

import (
	"fmt"
	"os"
	"runtime"

	"github.com/pkg/errors"
)

func ExitErr(err error) {
	pc, fn, line, _ := runtime.Caller(1)
	loc := fmt.Sprintf("%v:%s:%d", pc, fn, line)
	fmt.Printf("exit on error: %v at %s\n", err, loc)
	os.Exit(1)
}

// MergeErrors merges a list of errors from parallel workers. The first
// non-nil error is kept as the cause so its result code survives.
func MergeErrors(errs []error, hint string) error {
	var msg string
	var failed int
	var first error
	for _, e := range errs {
		if e != nil {
			if first == nil {
				first = e
			}
			failed++
			if len(msg) > 0 {
				msg += ", "
			}
			msg += e.Error()
		}
	}
	if failed == 0 {
		return nil
	}
	if failed == 1 {
		return errors.Wrap(first, hint)
	}
	return errors.Wrapf(first, "%s failed with %s: %s", hint, Pluralize(failed, "error", "errors"), msg)
}
