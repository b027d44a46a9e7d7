package winsys

import (
	"sync"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"github.com/r0lh/modinject/pinjector"
)

// Thread is a handle to a thread running in a target process.
type Thread struct {
	handle windows.Handle
	id     uint32

	mu     sync.Mutex
	exited bool
	closed bool
}

// Wait blocks until the thread exits or timeout passes. A zero timeout
// polls. The thread is never terminated here.
func (t *Thread) Wait(timeout time.Duration) (pinjector.WaitStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return pinjector.WaitFailed, pinjector.Errorf(pinjector.InvalidArgument, "wait on closed thread handle")
	}
	if t.exited {
		return pinjector.WaitExited, nil
	}
	event, err := windows.WaitForSingleObject(t.handle, waitMillis(timeout))
	switch event {
	case waitObject0:
		t.exited = true
		return pinjector.WaitExited, nil
	case waitTimeout:
		return pinjector.WaitTimedOut, nil
	default:
		return pinjector.WaitFailed, classify(err, pinjector.OperationFailed, "error return thread wait state")
	}
}

func (t *Thread) ExitCode() (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.exited {
		return 0, pinjector.Errorf(pinjector.InvalidArgument, "thread %d has not exited", t.id)
	}
	if t.closed {
		return 0, pinjector.Errorf(pinjector.InvalidArgument, "thread %d handle already closed", t.id)
	}
	var code uint32
	ok, _, lastErr := procGetExitCodeThread.Call(uintptr(t.handle), uintptr(unsafe.Pointer(&code)))
	if ok == 0 {
		return 0, classify(lastErr, pinjector.OperationFailed, "error return thread exit code")
	}
	return code, nil
}

func (t *Thread) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return errors.Wrap(windows.CloseHandle(t.handle), "error closing thread handle")
}
