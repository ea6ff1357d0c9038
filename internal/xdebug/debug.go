//go:build debug

// Package xdebug includes debugging helpers for the allocator: structured
// logging keyed by goroutine, assertions, and stack capture. This file's
// Log, Assert and Value are compiled in only with the "debug" build tag;
// see nodbg.go for their no-op versions.
package xdebug

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/timandy/routine"
)

// Enabled is true if the binary was built with the debug tag, which turns
// on Log, Assert, and Value.
const Enabled = true

var (
	debugPattern *regexp.Regexp
	nocapture    = flag.Bool("memalloc.nocapture", false, "disables capturing debug logs as test logs")
)

func init() {
	flag.Func("memalloc.filter", "regexp to filter debug logs by", func(s string) (err error) {
		debugPattern, err = regexp.Compile(s)
		return err
	})
}

// Log prints debugging information to stderr, or to the current test's log
// if WithTesting has registered one.
//
// context is optional args for fmt.Printf that are printed before operation,
// used to identify the receiver (e.g. an arena's address and cursor) that a
// group of related log lines pertains to.
func Log(context []any, operation string, format string, args ...any) {
	skip := 1
again:
	pc, file, line, _ := runtime.Caller(skip)

	fn := runtime.FuncForPC(pc)
	name := fn.Name()
	name = name[strings.LastIndex(name, ".")+1:]
	if strings.HasPrefix(name, "log") || strings.Contains(name, "Log") {
		skip++
		goto again
	}

	pkg := fn.Name()
	pkg = strings.TrimPrefix(pkg, "github.com/flier/memalloc/")
	if idx := strings.Index(pkg, "."); idx >= 0 {
		pkg = pkg[:idx]
	}

	file = filepath.Base(file)

	buf := new(strings.Builder)

	_, _ = fmt.Fprintf(buf, "%s/%s:%d [g%04d", pkg, file, line, routine.Goid())
	if len(context) >= 1 {
		_, _ = fmt.Fprintf(buf, ", "+context[0].(string), context[1:]...)
	}
	_, _ = fmt.Fprintf(buf, "] %s: ", operation)
	_, _ = fmt.Fprintf(buf, format, args...)

	if debugPattern != nil && !debugPattern.MatchString(buf.String()) {
		return
	}

	t := tls.Get()
	if !*nocapture && t != nil {
		t.Log(buf.String())
		return
	}

	_, _ = buf.Write([]byte{'\n'})
	_, _ = os.Stderr.WriteString(buf.String())
	_ = os.Stderr.Sync()
}

// Assert panics if cond is false, but only in debug mode. Use this to check
// allocator invariants (bitmap fidelity, offset validity) that are too
// costly to check in production builds.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Errorf("memalloc: internal assertion failed: "+format, args...))
	}
}

// Value is a value of any type that only exists when the debug tag is
// enabled. When disabled, this struct is replaced with an empty struct.
type Value[T any] struct {
	x T
}

// Get returns a pointer to this value. Panics if not in debug mode.
func (v *Value[T]) Get() *T { return &v.x }
