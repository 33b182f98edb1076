//go:build windows

package tools

import "syscall"

// CREATE_NO_WINDOW keeps console tools from flashing a window when the
// server runs under a desktop shell.
const createNoWindow = 0x08000000

func spawnAttrs() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: createNoWindow,
	}
}

func shellBinary() string { return "cmd" }
func shellFlag() string   { return "/C" }
