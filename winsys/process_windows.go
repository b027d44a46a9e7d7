package winsys

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"github.com/r0lh/modinject/pinjector"
)

// Process is an open handle to a target process.
type Process struct {
	handle windows.Handle
	pid    uint32
	owned  bool

	closeOnce sync.Once
	closeErr  error
}

// Open opens pid with ProcessAccess. The handle is released by Close.
func Open(pid uint32) (*Process, error) {
	if pid == 0 {
		return nil, pinjector.Errorf(pinjector.InvalidArgument, "pid 0")
	}
	h, err := windows.OpenProcess(ProcessAccess, false, pid)
	if err != nil {
		return nil, classify(err, pinjector.OperationFailed, "can't open remote process. maybe running w elevated integrity?")
	}
	return &Process{handle: h, pid: pid, owned: true}, nil
}

// FromHandle wraps a handle obtained elsewhere. The caller keeps ownership
// and Close leaves the handle open.
func FromHandle(h windows.Handle) (*Process, error) {
	pid, err := windows.GetProcessId(h)
	if err != nil {
		return nil, classify(err, pinjector.OperationFailed, "can't query process id")
	}
	return &Process{handle: h, pid: pid}, nil
}

func (p *Process) PID() uint32 { return p.pid }

// Handle returns the underlying process handle.
func (p *Process) Handle() windows.Handle { return p.handle }

func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		if p.owned {
			p.closeErr = errors.Wrap(windows.CloseHandle(p.handle), "can't close process handle")
		}
	})
	return p.closeErr
}

func (p *Process) Allocate(size uintptr) (pinjector.Region, error) {
	if size == 0 {
		return pinjector.Region{}, pinjector.Errorf(pinjector.InvalidArgument, "zero-sized allocation")
	}
	addr, _, lastErr := procVirtualAllocEx.Call(
		uintptr(p.handle),
		uintptr(nullRef),
		size,
		uintptr(MEM_COMMIT|MEM_RESERVE),
		uintptr(PAGE_EXECUTE_READWRITE))
	if addr == 0 {
		return pinjector.Region{}, classify(lastErr, pinjector.ResourceExhausted, "can't allocate memory on remote process")
	}
	return pinjector.Region{Owner: p.pid, Addr: addr, Size: size}, nil
}

func (p *Process) Write(region pinjector.Region, data []byte) error {
	if err := region.CheckWrite(p.pid, len(data)); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	var written uintptr
	err := windows.WriteProcessMemory(p.handle, region.Addr, &data[0], uintptr(len(data)), &written)
	if err != nil {
		return classify(err, pinjector.OperationFailed, "can't write to process memory")
	}
	if written != uintptr(len(data)) {
		return pinjector.Errorf(pinjector.OperationFailed, "wrote %d of %d bytes to %s", written, len(data), region)
	}
	return nil
}

func (p *Process) SpawnThread(entry, arg uintptr) (pinjector.Thread, error) {
	if entry == 0 {
		return nil, pinjector.Errorf(pinjector.InvalidArgument, "null thread entry")
	}
	var threadID uint32
	h, _, lastErr := procCreateRemoteThread.Call(
		uintptr(p.handle),
		uintptr(nullRef),
		uintptr(nullRef),
		entry,
		arg,
		uintptr(0),
		uintptr(unsafe.Pointer(&threadID)))
	if h == 0 {
		return nil, classify(lastErr, pinjector.OperationFailed, "can't create remote thread")
	}
	return &Thread{handle: windows.Handle(h), id: threadID}, nil
}

func (p *Process) ModuleBase(name string) (uintptr, error) {
	mods, err := Modules(p.pid)
	if err != nil {
		return 0, err
	}
	m, ok := findModule(mods, name)
	if !ok {
		return 0, pinjector.Errorf(pinjector.OperationFailed, "module %s not loaded in pid %d", name, p.pid)
	}
	return m.Base, nil
}
