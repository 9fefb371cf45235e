//go:build windows

package llm

import "os/exec"

// configureProcAttr is a no-op on Windows; CommandContext kills the process.
func configureProcAttr(_ *exec.Cmd) {}
