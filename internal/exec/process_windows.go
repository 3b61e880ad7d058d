//go:build windows

package exec

import "os/exec"

// setupProcessGroup is a no-op on Windows; CommandContext kills the process.
func setupProcessGroup(cmd *exec.Cmd) {}
