//go:build !windows

package tools

import "syscall"

// spawnAttrs returns platform process attributes for child tools. On Unix
// the child gets its own process group so cancellation can signal the whole
// tree.
func spawnAttrs() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func shellBinary() string { return "/bin/sh" }
func shellFlag() string   { return "-c" }
