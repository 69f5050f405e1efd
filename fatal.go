package ssm

import (
	"fmt"
	"runtime"
)

// fatalf reports an unrecoverable fault: allocation exhaustion, stack
// underflow, interpreter faults, heap corruption. It panics with a
// diagnostic carrying the caller's source location; nothing in the VM
// recovers it, so outside of tests the process dies.
func fatalf(format string, args ...interface{}) {
	_, file, line, ok := runtime.Caller(1)
	where := "ssm"
	if ok {
		where = fmt.Sprintf("%s:%d", file, line)
	}
	panic(fmt.Sprintf("[FATAL] (ssm) Panic at %s: %s", where, fmt.Sprintf(format, args...)))
}
