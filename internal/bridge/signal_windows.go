//go:build windows

package bridge

// terminate kills the subprocess outright; Windows has no SIGTERM equivalent
// for console children spawned this way.
func (b *Bridge) terminate() {
	_ = b.cmd.Process.Kill()
}
