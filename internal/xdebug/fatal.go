package xdebug

import (
	"fmt"
	"os"
)

// Fatalf reports an unrecoverable allocator error and terminates the
// process.
//
// There are three fatal error kinds (upstream exhaustion, invalid address,
// double free): none of them leave the allocator's invariants in a state
// worth continuing from, so all three funnel through here rather than
// being returned as an error value. In a debug build the diagnostic
// includes a full stack trace.
func Fatalf(format string, args ...any) {
	msg := fmt.Sprintf("memalloc: fatal: "+format, args...)
	if Enabled {
		msg += "\n" + Stack(2)
	}

	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
