package tools

import "os/exec"

// ConfigureChild applies the platform process attributes used for every
// subprocess the engine spawns: process-group detachment on Unix, console
// suppression on Windows.
func ConfigureChild(cmd *exec.Cmd) {
	cmd.SysProcAttr = spawnAttrs()
}
