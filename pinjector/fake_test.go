package pinjector

import (
	"strings"
	"time"
	"unicode/utf16"
)

const (
	fakeKernelBase = uintptr(0x7ff800000000)
	fakeLoaderOff  = ModuleOffset(0x1f0a0)
	fakeModuleBase = uintptr(0x7ff7a0b40000)
	entryOffset    = ModuleOffset(0x2010)
	entrySentinel  = uint32(0x454e5452)
)

// fakeProcess simulates a target: loader calls map a module, the payload
// entry returns a sentinel and counts its invocations.
type fakeProcess struct {
	pid     uint32
	mem     map[uintptr][]byte
	next    uintptr
	modules map[string]uintptr

	allocErr error
	writeErr error
	spawnErr error

	// loaderResult overrides the loader's return value when set.
	loaderResult *uint32
	// hang makes threads starting at the given entry time out.
	hang map[uintptr]bool
	// entryResult is returned by the payload entry.
	entryResult uint32
	// moduleBase is where loaded modules are mapped.
	moduleBase uintptr
	// onWait runs while a thread is being waited on.
	onWait func(entry uintptr)

	threads    []*fakeThread
	loaded     []string
	entryCalls int
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		pid:         4242,
		mem:         make(map[uintptr][]byte),
		next:        0x20000,
		modules:     map[string]uintptr{"kernel32.dll": fakeKernelBase},
		hang:        make(map[uintptr]bool),
		entryResult: entrySentinel,
		moduleBase:  fakeModuleBase,
	}
}

func (p *fakeProcess) PID() uint32 { return p.pid }

func (p *fakeProcess) Allocate(size uintptr) (Region, error) {
	if p.allocErr != nil {
		return Region{}, p.allocErr
	}
	if size == 0 {
		return Region{}, Errorf(InvalidArgument, "zero-sized allocation")
	}
	r := Region{Owner: p.pid, Addr: p.next, Size: size}
	p.mem[r.Addr] = make([]byte, size)
	p.next += 0x1000
	return r, nil
}

func (p *fakeProcess) Write(r Region, data []byte) error {
	if err := r.CheckWrite(p.pid, len(data)); err != nil {
		return err
	}
	if p.writeErr != nil {
		return p.writeErr
	}
	copy(p.mem[r.Addr], data)
	return nil
}

func (p *fakeProcess) SpawnThread(entry, arg uintptr) (Thread, error) {
	if p.spawnErr != nil {
		return nil, p.spawnErr
	}
	th := &fakeThread{entry: entry, arg: arg, onWait: p.onWait}
	switch {
	case p.hang[entry]:
		th.status = WaitTimedOut
	case entry == fakeLoaderOff.At(fakeKernelBase):
		th.status, th.code = WaitExited, p.loadLibrary(arg)
	case entry == entryOffset.At(p.moduleBase):
		p.entryCalls++
		th.status, th.code = WaitExited, p.entryResult
	default:
		th.status, th.waitErr = WaitFailed, Errorf(OperationFailed, "access violation at 0x%x", entry)
	}
	p.threads = append(p.threads, th)
	return th, nil
}

func (p *fakeProcess) loadLibrary(arg uintptr) uint32 {
	if p.loaderResult != nil {
		return *p.loaderResult
	}
	buf := p.mem[arg]
	units := make([]uint16, 0, len(buf)/2)
	for i := 0; i+1 < len(buf); i += 2 {
		u := uint16(buf[i]) | uint16(buf[i+1])<<8
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	path := string(utf16.Decode(units))
	if path == "" || strings.Contains(path, "missing") {
		return 0
	}
	base := p.moduleBase
	p.modules[strings.ToLower(path)] = base
	p.loaded = append(p.loaded, path)
	return uint32(base)
}

func (p *fakeProcess) ModuleBase(name string) (uintptr, error) {
	if base, ok := p.modules[strings.ToLower(name)]; ok {
		return base, nil
	}
	return 0, Errorf(OperationFailed, "module %s not loaded in pid %d", name, p.pid)
}

type fakeThread struct {
	entry, arg uintptr
	status     WaitStatus
	code       uint32
	waitErr    error
	waited     WaitStatus
	closed     int
	onWait     func(entry uintptr)
}

func (t *fakeThread) Wait(timeout time.Duration) (WaitStatus, error) {
	if t.onWait != nil {
		t.onWait(t.entry)
	}
	t.waited = t.status
	return t.status, t.waitErr
}

func (t *fakeThread) ExitCode() (uint32, error) {
	if t.waited != WaitExited {
		return 0, Errorf(InvalidArgument, "thread has not exited")
	}
	return t.code, nil
}

func (t *fakeThread) Close() error {
	t.closed++
	return nil
}

// fakeResolver serves fixed offsets and records what was asked.
type fakeResolver struct {
	offsets map[string]ModuleOffset
	calls   []string
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{offsets: map[string]ModuleOffset{
		"kernel32.dll!LoadLibraryW":    fakeLoaderOff,
		`C:\payload\payload.dll!Entry`: entryOffset,
	}}
}

func (r *fakeResolver) Resolve(path, symbol string) (ModuleOffset, error) {
	key := path + "!" + symbol
	r.calls = append(r.calls, key)
	if off, ok := r.offsets[key]; ok {
		return off, nil
	}
	return 0, Errorf(SymbolNotFound, "%s does not export %s", path, symbol)
}
