// Package process answers whether a recorded process id still belongs to a
// running process. Discovery records are untrusted until this says yes.
package process

import (
	"errors"
	"os"
	"syscall"
)

// IsAlive reports whether pid refers to a live process on this machine.
// Signal 0 performs the existence and permission check without delivering
// anything. EPERM means the process exists but belongs to another user.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

// Self returns the current process id.
func Self() int {
	return os.Getpid()
}
