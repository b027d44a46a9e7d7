// Package pinjector loads a module into a running process and calls one of
// its exports there, using only memory allocation, memory writes and
// remote thread creation in the target.
package pinjector

import "fmt"

// Region is a span of memory allocated inside a target process. Addr is
// only meaningful inside the process identified by Owner and must never be
// dereferenced locally.
type Region struct {
	Owner uint32
	Addr  uintptr
	Size  uintptr
}

// CheckWrite validates a write of n bytes into r on behalf of process pid.
func (r Region) CheckWrite(pid uint32, n int) error {
	switch {
	case r.Addr == 0:
		return Errorf(InvalidArgument, "write to unallocated region")
	case r.Owner != pid:
		return Errorf(InvalidArgument, "region %s belongs to pid %d, not %d", r, r.Owner, pid)
	case n < 0 || uintptr(n) > r.Size:
		return Errorf(InvalidArgument, "write of %d bytes exceeds region %s", n, r)
	}
	return nil
}

func (r Region) String() string {
	return fmt.Sprintf("0x%x+%d", r.Addr, r.Size)
}

// WaitStatus is the outcome of waiting on a remote thread.
type WaitStatus int

const (
	WaitFailed WaitStatus = iota
	WaitExited
	WaitTimedOut
)

func (s WaitStatus) String() string {
	switch s {
	case WaitExited:
		return "exited"
	case WaitTimedOut:
		return "timed-out"
	default:
		return "wait-failed"
	}
}

// ModuleOffset is the displacement of an exported symbol from the base of
// the module image that contains it. It is the same for every load of one
// build of the module.
type ModuleOffset uintptr

// At returns the absolute address of the symbol in an image mapped at base.
func (o ModuleOffset) At(base uintptr) uintptr {
	return base + uintptr(o)
}

// State is the progress of an Injector through one attempt.
type State int

const (
	Idle State = iota
	LoadingModule
	ModuleLoaded
	ResolvingEntry
	Invoking
	Completed
	Failed
)

var stateNames = [...]string{"idle", "loading-module", "module-loaded", "resolving-entry", "invoking", "completed", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Result is a successful injection.
type Result struct {
	// Module is the base address (HMODULE) of the module inside the target.
	Module uintptr
	// EntryResult is the non-zero value the entry point returned.
	EntryResult uint32
	// Warnings are degraded but non-fatal steps, such as a failed path write.
	Warnings []error
}
