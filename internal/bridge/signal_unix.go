//go:build unix

package bridge

import "syscall"

// terminate asks the subprocess to exit gracefully before the grace-period
// kill in Close.
func (b *Bridge) terminate() {
	_ = b.cmd.Process.Signal(syscall.SIGTERM)
}
