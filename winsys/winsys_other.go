//go:build !windows

package winsys

import (
	"runtime"
	"time"

	"github.com/r0lh/modinject/pinjector"
)

func unsupported() error {
	return pinjector.Errorf(pinjector.OperationFailed, "remote processes are not supported on %s", runtime.GOOS)
}

// Process is unavailable off Windows; every operation fails.
type Process struct {
	pid uint32
}

func Open(pid uint32) (*Process, error) { return nil, unsupported() }

func Modules(pid uint32) ([]Module, error) { return nil, unsupported() }

func (p *Process) PID() uint32 { return p.pid }

func (p *Process) Close() error { return nil }

func (p *Process) Allocate(size uintptr) (pinjector.Region, error) {
	return pinjector.Region{}, unsupported()
}

func (p *Process) Write(region pinjector.Region, data []byte) error {
	if err := region.CheckWrite(p.pid, len(data)); err != nil {
		return err
	}
	return unsupported()
}

func (p *Process) SpawnThread(entry, arg uintptr) (pinjector.Thread, error) {
	return nil, unsupported()
}

func (p *Process) ModuleBase(name string) (uintptr, error) { return 0, unsupported() }

// Thread is unavailable off Windows.
type Thread struct{}

func (*Thread) Wait(time.Duration) (pinjector.WaitStatus, error) {
	return pinjector.WaitFailed, unsupported()
}

func (*Thread) ExitCode() (uint32, error) { return 0, unsupported() }

func (*Thread) Close() error { return nil }

// SystemDir is empty: there is no system module directory here.
func SystemDir() string { return "" }

// DefaultOptions resolves offsets from module files on disk, the only
// resolver available here.
func DefaultOptions() pinjector.Options {
	opts := pinjector.DefaultOptions()
	opts.Resolver = pinjector.NewCachingResolver(pinjector.FileResolver{Dir: SystemDir()})
	return opts
}
