//go:build !linux

package transport

import "syscall"

// platformControl is a no-op outside Linux: SO_REUSEPORT semantics differ
// enough across BSD/Darwin/Windows that we rely on the OS default instead
// of trying to emulate Linux's multi-daemon coexistence behavior.
func platformControl(_, _ string, _ syscall.RawConn) error { return nil }
