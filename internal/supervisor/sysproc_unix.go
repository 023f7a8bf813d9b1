//go:build unix

package supervisor

import "syscall"

// detachedSysProcAttr puts the child in its own session so it is not
// killed with this short-lived CLI process or its terminal.
func detachedSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
